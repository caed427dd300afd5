package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aquastake/wellflow/internal/clock"
	"github.com/aquastake/wellflow/internal/idempotency/domain"
	pkgdb "github.com/aquastake/wellflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	defaultWaitTimeout  = 2 * time.Second
	defaultStaleAfter   = 5 * time.Minute
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Guard struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock

	pollInterval time.Duration
	waitTimeout  time.Duration
	staleAfter   time.Duration
}

func NewGuard(p Params) domain.Guard {
	return &Guard{
		db:           p.DB,
		log:          p.Log.Named("idempotency.guard"),
		clock:        p.Clock,
		pollInterval: defaultPollInterval,
		waitTimeout:  defaultWaitTimeout,
		staleAfter:   defaultStaleAfter,
	}
}

// Do claims the message id, runs fn exactly once across concurrent duplicate
// submissions, and stores the serialized result for replay. A failed fn
// releases the claim so the caller may retry with the same key; a reused key
// targeting a different operation or scope is a client error.
func (g *Guard) Do(ctx context.Context, messageID, operationType, scope string, fn func(ctx context.Context) (any, error)) (json.RawMessage, bool, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, false, domain.ErrInvalidMessageID
	}

	claimed, err := g.claim(ctx, messageID, operationType, scope)
	if err != nil {
		return nil, false, err
	}
	if !claimed {
		claimed, err = g.reclaimStale(ctx, messageID, operationType, scope)
		if err != nil {
			return nil, false, err
		}
	}
	if !claimed {
		payload, err := g.awaitExisting(ctx, messageID, operationType, scope)
		return payload, err == nil, err
	}

	result, err := fn(ctx)
	if err != nil {
		// Release the claim: a corrected retry with the same message id must
		// be able to execute.
		if delErr := g.db.WithContext(ctx).Exec(
			`DELETE FROM idempotency_keys WHERE message_id = ? AND status = ?`,
			messageID, domain.StatusInFlight,
		).Error; delErr != nil {
			g.log.Error("failed to release idempotency claim",
				zap.String("message_id", messageID),
				zap.Error(delErr),
			)
		}
		return nil, false, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, false, err
	}

	if err := g.db.WithContext(ctx).Exec(
		`UPDATE idempotency_keys SET status = ?, result = ?, updated_at = ? WHERE message_id = ?`,
		domain.StatusCompleted,
		datatypes.JSON(payload),
		g.clock.Now(),
		messageID,
	).Error; err != nil {
		return nil, false, err
	}

	return payload, false, nil
}

func (g *Guard) claim(ctx context.Context, messageID, operationType, scope string) (bool, error) {
	now := g.clock.Now()
	result := g.db.WithContext(ctx).Exec(
		`INSERT INTO idempotency_keys (message_id, operation_type, scope, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (message_id) DO NOTHING`,
		messageID,
		operationType,
		scope,
		domain.StatusInFlight,
		now,
		now,
	)
	if result.Error != nil {
		if pkgdb.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// reclaimStale takes over an in_flight claim whose owner stopped reporting
// progress. A crash between the guarded fn's local commit and the completion
// update would otherwise wedge the key: retries with the same message id
// would poll the dead claim forever. Re-running fn after a takeover is safe
// because every guarded operation re-validates state inside its own
// transaction. The conditional update admits exactly one taker; a losing
// concurrent caller sees a fresh updated_at and falls back to polling.
func (g *Guard) reclaimStale(ctx context.Context, messageID, operationType, scope string) (bool, error) {
	now := g.clock.Now()
	result := g.db.WithContext(ctx).Exec(
		`UPDATE idempotency_keys SET updated_at = ?
		 WHERE message_id = ? AND operation_type = ? AND scope = ?
		   AND status = ? AND updated_at <= ?`,
		now,
		messageID,
		operationType,
		scope,
		domain.StatusInFlight,
		now.Add(-g.staleAfter),
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	g.log.Warn("reclaimed stale idempotency claim",
		zap.String("message_id", messageID),
		zap.String("operation_type", operationType),
	)
	return true, nil
}

// awaitExisting reads the record claimed by another caller, polling while it
// is still in flight so concurrent duplicates observe the same result.
func (g *Guard) awaitExisting(ctx context.Context, messageID, operationType, scope string) (json.RawMessage, error) {
	deadline := time.Now().Add(g.waitTimeout)
	for {
		record, err := g.find(ctx, messageID)
		if err != nil {
			return nil, err
		}
		if record == nil {
			// Claim released between our insert attempt and this read; the
			// caller should retry the whole operation.
			return nil, domain.ErrInFlight
		}
		if record.OperationType != operationType || record.Scope != scope {
			return nil, domain.ErrKeyConflict
		}
		if record.Status == domain.StatusCompleted {
			return json.RawMessage(record.Result), nil
		}

		if time.Now().After(deadline) {
			return nil, domain.ErrInFlight
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.pollInterval):
		}
	}
}

func (g *Guard) find(ctx context.Context, messageID string) (*domain.Record, error) {
	var record domain.Record
	err := g.db.WithContext(ctx).Raw(
		`SELECT message_id, operation_type, scope, status, result, created_at, updated_at
		 FROM idempotency_keys WHERE message_id = ?`,
		messageID,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.MessageID == "" {
		return nil, nil
	}
	return &record, nil
}
