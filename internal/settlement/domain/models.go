package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the settlement lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusRequested Status = "REQUESTED"
	StatusApproved  Status = "APPROVED"
	StatusExecuted  Status = "EXECUTED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// legalTransitions is the full transition table. REQUESTED is the first
// externally visible state; EXECUTED, REJECTED and CANCELLED are terminal.
var legalTransitions = map[Status][]Status{
	StatusDraft:     {StatusRequested},
	StatusRequested: {StatusApproved, StatusRejected, StatusCancelled, StatusFailed},
	StatusApproved:  {StatusExecuted, StatusRejected, StatusCancelled, StatusFailed},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status permits no further transitions.
func (s Status) Terminal() bool {
	return len(legalTransitions[s]) == 0
}

// Blocking reports whether a settlement in this status reserves its period:
// rejected and cancelled settlements free the period for a new request.
func (s Status) Blocking() bool {
	return s != StatusRejected && s != StatusCancelled
}

// Settlement is one revenue-distribution cycle for one well and period.
// Rows are never deleted; cancellation is a status value. The *EventID
// columns hold the idempotency message id that caused each transition.
type Settlement struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	WellID            snowflake.ID `gorm:"not null;index" json:"well_id"`
	PeriodStart       time.Time    `gorm:"not null" json:"period_start"`
	PeriodEnd         time.Time    `gorm:"not null" json:"period_end"`
	VolumeLiters      int64        `gorm:"not null" json:"volume_liters"`
	GrossRevenue      int64        `gorm:"not null" json:"gross_revenue"`
	Currency          string       `gorm:"type:text;not null" json:"currency"`
	Status            Status       `gorm:"type:text;not null;index" json:"status"`
	RequestEventID    string       `gorm:"type:text;not null" json:"request_event_id"`
	ApproveEventID    *string      `gorm:"type:text" json:"approve_event_id,omitempty"`
	ExecuteEventID    *string      `gorm:"type:text" json:"execute_event_id,omitempty"`
	MintEventID       *string      `gorm:"type:text" json:"mint_event_id,omitempty"`
	TokenID           *string      `gorm:"type:text" json:"token_id,omitempty"`
	MintTransactionID *string      `gorm:"type:text" json:"mint_transaction_id,omitempty"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Settlement) TableName() string { return "settlements" }

// Payout is one money movement resulting from a settlement. Rows are created
// as a batch inside the EXECUTE transition and never change afterwards except
// to attach the confirmed ledger transaction id.
type Payout struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	SettlementID     snowflake.ID `gorm:"not null;index" json:"settlement_id"`
	RecipientAccount string       `gorm:"type:text;not null" json:"recipient_account"`
	RecipientRole    string       `gorm:"type:text;not null" json:"recipient_role"`
	Amount           int64        `gorm:"not null" json:"amount"`
	AssetType        string       `gorm:"type:text;not null" json:"asset_type"`
	TransactionID    *string      `gorm:"type:text" json:"transaction_id,omitempty"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Payout) TableName() string { return "payouts" }
