package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Role classifies a stakeholder's relationship to a well.
type Role string

const (
	RoleInvestor Role = "INVESTOR"
	RoleOperator Role = "OPERATOR"
)

// Membership is one stakeholder's ownership of one well, in basis points.
// Active INVESTOR shares for a well must sum to exactly 10000; the operator
// entry carries no share and is paid through the operator fee instead.
type Membership struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	WellID    snowflake.ID `gorm:"not null;index" json:"well_id"`
	AccountID string       `gorm:"type:text;not null" json:"account_id"`
	Role      Role         `gorm:"type:text;not null" json:"role"`
	ShareBps  int          `gorm:"not null" json:"share_bps"`
	Active    bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Membership) TableName() string { return "well_memberships" }
