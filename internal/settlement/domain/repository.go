package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, settlement *Settlement) error
	// FindByID loads a settlement, taking a row lock when forUpdate is set
	// and the dialect supports it. Callers use the lock to serialize
	// concurrent transitions against the same settlement.
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*Settlement, error)
	// HasOverlap reports whether any settlement in a period-blocking status
	// overlaps [start, end) for the well.
	HasOverlap(ctx context.Context, db *gorm.DB, wellID snowflake.ID, start, end time.Time) (bool, error)
	ListByWell(ctx context.Context, db *gorm.DB, wellID snowflake.ID) ([]Settlement, error)

	MarkApproved(ctx context.Context, db *gorm.DB, id snowflake.ID, eventID string, now time.Time) error
	MarkExecuted(ctx context.Context, db *gorm.DB, id snowflake.ID, eventID string, now time.Time) error
	MarkTerminal(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, now time.Time) error
	MarkMinted(ctx context.Context, db *gorm.DB, id snowflake.ID, tokenID, txID, eventID string, now time.Time) error

	InsertPayouts(ctx context.Context, db *gorm.DB, payouts []Payout) error
	FindPayouts(ctx context.Context, db *gorm.DB, settlementID snowflake.ID) ([]Payout, error)
	// FindPendingPayouts returns payout rows without a confirmed ledger
	// transaction, in stable insertion order.
	FindPendingPayouts(ctx context.Context, db *gorm.DB, settlementID snowflake.ID) ([]Payout, error)
	AttachTransaction(ctx context.Context, db *gorm.DB, payoutID snowflake.ID, txID string, now time.Time) error
	// FindSettlementsWithPendingPayouts returns EXECUTED settlements holding
	// payouts whose transfer has not been confirmed since before cutoff.
	FindSettlementsWithPendingPayouts(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]snowflake.ID, error)
}
