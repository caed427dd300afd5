package repository

import (
	"context"
	"time"

	"github.com/aquastake/wellflow/internal/membership/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindActiveByWell(ctx context.Context, db *gorm.DB, wellID snowflake.ID) ([]domain.Membership, error) {
	var memberships []domain.Membership
	err := db.WithContext(ctx).Raw(
		`SELECT id, well_id, account_id, role, share_bps, active, created_at, updated_at
		 FROM well_memberships
		 WHERE well_id = ? AND active = ?
		 ORDER BY account_id ASC`,
		wellID,
		true,
	).Scan(&memberships).Error
	if err != nil {
		return nil, err
	}
	return memberships, nil
}

func (r *repo) DeactivateByWell(ctx context.Context, db *gorm.DB, wellID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE well_memberships SET active = ?, updated_at = ? WHERE well_id = ? AND active = ?`,
		false,
		time.Now().UTC(),
		wellID,
		true,
	).Error
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, membership *domain.Membership) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO well_memberships (id, well_id, account_id, role, share_bps, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		membership.ID,
		membership.WellID,
		membership.AccountID,
		string(membership.Role),
		membership.ShareBps,
		membership.Active,
		membership.CreatedAt,
		membership.UpdatedAt,
	).Error
}
