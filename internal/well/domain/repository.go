package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, well *Well) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Well, error)

	// FindByIDForUpdate locks the well row for the duration of the enclosing
	// transaction on dialects that support row locks. Callers use it to
	// serialize per-well writes, such as concurrent settlement requests.
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Well, error)
}
