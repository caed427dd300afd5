package repository

import (
	"context"
	"strings"

	"github.com/aquastake/wellflow/internal/well/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, well *domain.Well) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO wells (id, code, name, location, currency, platform_fee_bps, operator_fee_bps, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		well.ID,
		well.Code,
		well.Name,
		well.Location,
		well.Currency,
		well.PlatformFeeBps,
		well.OperatorFeeBps,
		well.CreatedAt,
		well.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Well, error) {
	return r.findByID(ctx, db, id, false)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Well, error) {
	return r.findByID(ctx, db, id, true)
}

func (r *repo) findByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.Well, error) {
	query := `SELECT id, code, name, location, currency, platform_fee_bps, operator_fee_bps, created_at, updated_at
		 FROM wells WHERE id = ?`
	if forUpdate && supportsRowLock(db) {
		query += ` FOR UPDATE`
	}

	var well domain.Well
	err := db.WithContext(ctx).Raw(query, id).Scan(&well).Error
	if err != nil {
		return nil, err
	}
	if well.ID == 0 {
		return nil, nil
	}
	return &well, nil
}

func supportsRowLock(db *gorm.DB) bool {
	return strings.EqualFold(db.Dialector.Name(), "postgres") ||
		strings.EqualFold(db.Dialector.Name(), "mysql")
}
