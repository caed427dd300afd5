// Package reconcile sweeps EXECUTED settlements whose ledger transfers never
// confirmed and retries them. It is the safety net behind crash windows and
// ledger outages: the EXECUTE transition commits payouts first and pays
// second, so anything that dies in between surfaces here.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/aquastake/wellflow/internal/clock"
	"github.com/aquastake/wellflow/internal/config"
	obsmetrics "github.com/aquastake/wellflow/internal/observability/metrics"
	settlementdomain "github.com/aquastake/wellflow/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultBatchSize = 50

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	Cfg           config.Config
	Repo          settlementdomain.Repository
	SettlementSvc settlementdomain.Service
	Metrics       *obsmetrics.Metrics `optional:"true"`
}

type Reconciler struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	repo      settlementdomain.Repository
	svc       settlementdomain.Service
	metrics   *obsmetrics.Metrics
	interval  time.Duration
	grace     time.Duration
	batchSize int
}

func New(p Params) *Reconciler {
	return &Reconciler{
		db:        p.DB,
		log:       p.Log.Named("reconcile"),
		clock:     p.Clock,
		repo:      p.Repo,
		svc:       p.SettlementSvc,
		metrics:   p.Metrics,
		interval:  p.Cfg.ReconcileInterval,
		grace:     p.Cfg.ReconcileGrace,
		batchSize: defaultBatchSize,
	}
}

// RunForever loops until the context is cancelled. Each pass is independent:
// a failed pass logs and waits for the next tick rather than aborting the
// loop.
func (r *Reconciler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("reconciler started",
		zap.Duration("interval", r.interval),
		zap.Duration("grace", r.grace),
	)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Error("reconcile pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single reconciliation pass and reports how many
// settlements it resumed. The grace period keeps it from racing an EXECUTE
// call that is still mid-transfer.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	cutoff := r.clock.Now().Add(-r.grace)
	ids, err := r.repo.FindSettlementsWithPendingPayouts(ctx, r.db, cutoff, r.batchSize)
	if err != nil {
		r.metrics.RecordReconcileRun(ctx, "error")
		return 0, err
	}
	if len(ids) == 0 {
		r.metrics.RecordReconcileRun(ctx, "idle")
		return 0, nil
	}

	resumed := 0
	var lastErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return resumed, err
		}
		if err := r.svc.ResumeTransfers(ctx, id); err != nil {
			// The ledger may still be rejecting this settlement's
			// recipients; leave it for the next pass.
			lastErr = err
			r.log.Warn("resume failed, will retry next pass",
				zap.String("settlement_id", id.String()),
				zap.Error(err),
			)
			continue
		}
		resumed++
		r.log.Info("resumed pending transfers", zap.String("settlement_id", id.String()))
	}

	result := "ok"
	if lastErr != nil {
		result = "partial"
	}
	r.metrics.RecordReconcileRun(ctx, result)
	return resumed, lastErr
}
