package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// FindActiveByWell reads the active membership snapshot in a single query
	// so payouts are never computed against a torn read.
	FindActiveByWell(ctx context.Context, db *gorm.DB, wellID snowflake.ID) ([]Membership, error)
	DeactivateByWell(ctx context.Context, db *gorm.DB, wellID snowflake.ID) error
	Insert(ctx context.Context, db *gorm.DB, membership *Membership) error
}
