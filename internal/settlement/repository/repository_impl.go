package repository

import (
	"context"
	"strings"
	"time"

	"github.com/aquastake/wellflow/internal/settlement/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, settlement *domain.Settlement) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO settlements (
			id, well_id, period_start, period_end, volume_liters, gross_revenue,
			currency, status, request_event_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		settlement.ID,
		settlement.WellID,
		settlement.PeriodStart,
		settlement.PeriodEnd,
		settlement.VolumeLiters,
		settlement.GrossRevenue,
		settlement.Currency,
		string(settlement.Status),
		settlement.RequestEventID,
		settlement.CreatedAt,
		settlement.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.Settlement, error) {
	query := `SELECT id, well_id, period_start, period_end, volume_liters, gross_revenue,
		currency, status, request_event_id, approve_event_id, execute_event_id,
		mint_event_id, token_id, mint_transaction_id, created_at, updated_at
		FROM settlements WHERE id = ?`
	if forUpdate && supportsRowLock(db) {
		query += ` FOR UPDATE`
	}

	var settlement domain.Settlement
	err := db.WithContext(ctx).Raw(query, id).Scan(&settlement).Error
	if err != nil {
		return nil, err
	}
	if settlement.ID == 0 {
		return nil, nil
	}
	return &settlement, nil
}

func (r *repo) HasOverlap(ctx context.Context, db *gorm.DB, wellID snowflake.ID, start, end time.Time) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM settlements
		 WHERE well_id = ?
		   AND status NOT IN (?, ?)
		   AND period_start < ?
		   AND period_end > ?`,
		wellID,
		string(domain.StatusCancelled),
		string(domain.StatusRejected),
		end,
		start,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) ListByWell(ctx context.Context, db *gorm.DB, wellID snowflake.ID) ([]domain.Settlement, error) {
	var settlements []domain.Settlement
	err := db.WithContext(ctx).Raw(
		`SELECT id, well_id, period_start, period_end, volume_liters, gross_revenue,
			currency, status, request_event_id, approve_event_id, execute_event_id,
			mint_event_id, token_id, mint_transaction_id, created_at, updated_at
		 FROM settlements WHERE well_id = ?
		 ORDER BY period_start DESC, id DESC`,
		wellID,
	).Scan(&settlements).Error
	if err != nil {
		return nil, err
	}
	return settlements, nil
}

func (r *repo) MarkApproved(ctx context.Context, db *gorm.DB, id snowflake.ID, eventID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE settlements SET status = ?, approve_event_id = ?, updated_at = ? WHERE id = ?`,
		string(domain.StatusApproved),
		eventID,
		now,
		id,
	).Error
}

func (r *repo) MarkExecuted(ctx context.Context, db *gorm.DB, id snowflake.ID, eventID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE settlements SET status = ?, execute_event_id = ?, updated_at = ? WHERE id = ?`,
		string(domain.StatusExecuted),
		eventID,
		now,
		id,
	).Error
}

func (r *repo) MarkTerminal(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE settlements SET status = ?, updated_at = ? WHERE id = ?`,
		string(status),
		now,
		id,
	).Error
}

func (r *repo) MarkMinted(ctx context.Context, db *gorm.DB, id snowflake.ID, tokenID, txID, eventID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE settlements SET token_id = ?, mint_transaction_id = ?, mint_event_id = ?, updated_at = ? WHERE id = ?`,
		tokenID,
		txID,
		eventID,
		now,
		id,
	).Error
}

func (r *repo) InsertPayouts(ctx context.Context, db *gorm.DB, payouts []domain.Payout) error {
	for i := range payouts {
		payout := &payouts[i]
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO payouts (
				id, settlement_id, recipient_account, recipient_role, amount,
				asset_type, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			payout.ID,
			payout.SettlementID,
			payout.RecipientAccount,
			payout.RecipientRole,
			payout.Amount,
			payout.AssetType,
			payout.CreatedAt,
			payout.UpdatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindPayouts(ctx context.Context, db *gorm.DB, settlementID snowflake.ID) ([]domain.Payout, error) {
	return r.findPayouts(ctx, db, settlementID, false)
}

func (r *repo) FindPendingPayouts(ctx context.Context, db *gorm.DB, settlementID snowflake.ID) ([]domain.Payout, error) {
	return r.findPayouts(ctx, db, settlementID, true)
}

func (r *repo) findPayouts(ctx context.Context, db *gorm.DB, settlementID snowflake.ID, pendingOnly bool) ([]domain.Payout, error) {
	query := `SELECT id, settlement_id, recipient_account, recipient_role, amount,
		asset_type, transaction_id, created_at, updated_at
		FROM payouts WHERE settlement_id = ?`
	if pendingOnly {
		query += ` AND transaction_id IS NULL`
	}
	query += ` ORDER BY id ASC`

	var payouts []domain.Payout
	err := db.WithContext(ctx).Raw(query, settlementID).Scan(&payouts).Error
	if err != nil {
		return nil, err
	}
	return payouts, nil
}

func (r *repo) AttachTransaction(ctx context.Context, db *gorm.DB, payoutID snowflake.ID, txID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payouts SET transaction_id = ?, updated_at = ? WHERE id = ? AND transaction_id IS NULL`,
		txID,
		now,
		payoutID,
	).Error
}

func (r *repo) FindSettlementsWithPendingPayouts(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]snowflake.ID, error) {
	if limit <= 0 {
		limit = 50
	}
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT s.id FROM settlements s
		 JOIN payouts p ON p.settlement_id = s.id
		 WHERE s.status = ?
		   AND p.transaction_id IS NULL
		   AND p.created_at < ?
		 LIMIT ?`,
		string(domain.StatusExecuted),
		cutoff,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func supportsRowLock(db *gorm.DB) bool {
	return strings.EqualFold(db.Dialector.Name(), "postgres") ||
		strings.EqualFold(db.Dialector.Name(), "mysql")
}
