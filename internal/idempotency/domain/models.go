package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
)

// Status of a keyed operation claim.
const (
	StatusInFlight  = "in_flight"
	StatusCompleted = "completed"
)

// Record maps a client-supplied message id to the result of the operation it
// triggered. At most one record exists per message id; completed records are
// never updated again.
type Record struct {
	MessageID     string         `gorm:"primaryKey;type:text" json:"message_id"`
	OperationType string         `gorm:"type:text;not null" json:"operation_type"`
	Scope         string         `gorm:"type:text;not null" json:"scope"`
	Status        string         `gorm:"type:text;not null" json:"status"`
	Result        datatypes.JSON `gorm:"type:jsonb" json:"result,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "idempotency_keys" }

// Guard wraps a mutating operation in keyed de-duplication. The returned
// payload is the operation result, replayed verbatim for duplicate keys.
type Guard interface {
	Do(ctx context.Context, messageID, operationType, scope string, fn func(ctx context.Context) (any, error)) (json.RawMessage, bool, error)
}

var (
	ErrInvalidMessageID = errors.New("invalid_message_id")
	ErrKeyConflict      = errors.New("idempotency_key_conflict")
	ErrInFlight         = errors.New("idempotency_in_flight")
)
