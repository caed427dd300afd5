package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Well is a revenue-generating asset. Fee configuration lives on the well so
// every settlement for it splits revenue the same way.
type Well struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	Code           string       `gorm:"type:text;not null;uniqueIndex" json:"code"`
	Name           string       `gorm:"type:text;not null" json:"name"`
	Location       string       `gorm:"type:text" json:"location,omitempty"`
	Currency       string       `gorm:"type:text;not null" json:"currency"`
	PlatformFeeBps int          `gorm:"not null" json:"platform_fee_bps"`
	OperatorFeeBps int          `gorm:"not null" json:"operator_fee_bps"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Well) TableName() string { return "wells" }
