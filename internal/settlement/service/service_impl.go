package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aquastake/wellflow/internal/clock"
	"github.com/aquastake/wellflow/internal/config"
	idempotencydomain "github.com/aquastake/wellflow/internal/idempotency/domain"
	ledgerdomain "github.com/aquastake/wellflow/internal/ledger/domain"
	"github.com/aquastake/wellflow/internal/lock"
	membershipdomain "github.com/aquastake/wellflow/internal/membership/domain"
	obsmetrics "github.com/aquastake/wellflow/internal/observability/metrics"
	"github.com/aquastake/wellflow/internal/payout/calculator"
	payoutdomain "github.com/aquastake/wellflow/internal/payout/domain"
	"github.com/aquastake/wellflow/internal/settlement/domain"
	welldomain "github.com/aquastake/wellflow/internal/well/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const executeLockTTL = 30 * time.Second

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Cfg            config.Config
	Repo           domain.Repository
	WellRepo       welldomain.Repository
	MembershipRepo membershipdomain.Repository
	Guard          idempotencydomain.Guard
	Gateway        ledgerdomain.Gateway
	Locker         *lock.Locker        `optional:"true"`
	Metrics        *obsmetrics.Metrics `optional:"true"`
}

// Service is the settlement orchestrator: it owns the state machine, wraps
// every transition in the idempotency guard, and sequences the payout
// calculator, the relational store, and the ledger gateway.
type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	cfg            config.Config
	repo           domain.Repository
	wellRepo       welldomain.Repository
	membershipRepo membershipdomain.Repository
	guard          idempotencydomain.Guard
	gateway        ledgerdomain.Gateway
	locker         *lock.Locker
	metrics        *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("settlement.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		cfg:            p.Cfg,
		repo:           p.Repo,
		wellRepo:       p.WellRepo,
		membershipRepo: p.MembershipRepo,
		guard:          p.Guard,
		gateway:        p.Gateway,
		locker:         p.Locker,
		metrics:        p.Metrics,
	}
}

func (s *Service) Request(ctx context.Context, req domain.RequestSettlementRequest) (domain.SettlementResponse, error) {
	wellID, err := snowflake.ParseString(req.WellID)
	if err != nil {
		return domain.SettlementResponse{}, domain.ErrInvalidID
	}
	if req.PeriodStart.IsZero() || req.PeriodEnd.IsZero() || !req.PeriodStart.Before(req.PeriodEnd) {
		return domain.SettlementResponse{}, domain.ErrInvalidPeriod
	}
	if req.VolumeLiters < 0 {
		return domain.SettlementResponse{}, domain.ErrInvalidVolume
	}
	if req.GrossRevenue < 0 {
		return domain.SettlementResponse{}, domain.ErrInvalidRevenue
	}

	payload, replayed, err := s.guard.Do(ctx, req.MessageID, domain.OpRequest, "well:"+wellID.String(), func(ctx context.Context) (any, error) {
		settlement := domain.Settlement{
			ID:             s.genID.Generate(),
			WellID:         wellID,
			PeriodStart:    req.PeriodStart.UTC(),
			PeriodEnd:      req.PeriodEnd.UTC(),
			VolumeLiters:   req.VolumeLiters,
			GrossRevenue:   req.GrossRevenue,
			Status:         domain.StatusRequested,
			RequestEventID: req.MessageID,
			CreatedAt:      s.clock.Now(),
			UpdatedAt:      s.clock.Now(),
		}

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// The well row lock serializes concurrent requests for the same
			// well, so the overlap check and the insert act as one unit even
			// under READ COMMITTED.
			well, err := s.wellRepo.FindByIDForUpdate(ctx, tx, wellID)
			if err != nil {
				return err
			}
			if well == nil {
				return welldomain.ErrNotFound
			}
			settlement.Currency = well.Currency

			overlap, err := s.repo.HasOverlap(ctx, tx, wellID, settlement.PeriodStart, settlement.PeriodEnd)
			if err != nil {
				return err
			}
			if overlap {
				return domain.ErrPeriodOverlap
			}
			return s.repo.Insert(ctx, tx, &settlement)
		})
		if err != nil {
			return nil, err
		}

		return domain.SettlementResponse{
			SettlementID: settlement.ID.String(),
			WellID:       wellID.String(),
			Status:       domain.StatusRequested,
			MessageID:    req.MessageID,
		}, nil
	})
	if err != nil {
		return domain.SettlementResponse{}, err
	}

	var resp domain.SettlementResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return domain.SettlementResponse{}, err
	}
	resp.Replayed = replayed
	s.finishTransition(ctx, domain.OpRequest, resp.SettlementID, resp.WellID, req.MessageID, resp.Status, replayed)
	return resp, nil
}

func (s *Service) Approve(ctx context.Context, req domain.TransitionRequest) (domain.SettlementResponse, error) {
	return s.transition(ctx, req, domain.OpApprove, domain.StatusApproved)
}

func (s *Service) Reject(ctx context.Context, req domain.TransitionRequest) (domain.SettlementResponse, error) {
	return s.transition(ctx, req, domain.OpReject, domain.StatusRejected)
}

func (s *Service) Cancel(ctx context.Context, req domain.TransitionRequest) (domain.SettlementResponse, error) {
	return s.transition(ctx, req, domain.OpCancel, domain.StatusCancelled)
}

func (s *Service) transition(ctx context.Context, req domain.TransitionRequest, op string, target domain.Status) (domain.SettlementResponse, error) {
	settlementID, err := snowflake.ParseString(req.SettlementID)
	if err != nil {
		return domain.SettlementResponse{}, domain.ErrInvalidID
	}

	payload, replayed, err := s.guard.Do(ctx, req.MessageID, op, "settlement:"+settlementID.String(), func(ctx context.Context) (any, error) {
		var resp domain.SettlementResponse
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			settlement, err := s.repo.FindByID(ctx, tx, settlementID, true)
			if err != nil {
				return err
			}
			if settlement == nil {
				return domain.ErrNotFound
			}
			if !domain.CanTransition(settlement.Status, target) {
				return domain.ErrInvalidState
			}

			now := s.clock.Now()
			if target == domain.StatusApproved {
				if err := s.repo.MarkApproved(ctx, tx, settlementID, req.MessageID, now); err != nil {
					return err
				}
			} else {
				if err := s.repo.MarkTerminal(ctx, tx, settlementID, target, now); err != nil {
					return err
				}
			}

			resp = domain.SettlementResponse{
				SettlementID: settlementID.String(),
				WellID:       settlement.WellID.String(),
				Status:       target,
				MessageID:    req.MessageID,
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return domain.SettlementResponse{}, err
	}

	var resp domain.SettlementResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return domain.SettlementResponse{}, err
	}
	resp.Replayed = replayed
	s.finishTransition(ctx, op, resp.SettlementID, resp.WellID, req.MessageID, resp.Status, replayed)
	return resp, nil
}

// Execute flips the settlement to EXECUTED and persists the payout batch in
// one local transaction, then attempts the ledger transfers. A crash or
// transfer failure after the commit leaves payouts pending confirmation,
// which a replay with the same message id (or the reconciler) resumes; the
// recorded payout set never changes once committed, even if memberships do.
func (s *Service) Execute(ctx context.Context, req domain.ExecuteSettlementRequest) (domain.ExecuteSettlementResponse, error) {
	settlementID, err := snowflake.ParseString(req.SettlementID)
	if err != nil {
		return domain.ExecuteSettlementResponse{}, domain.ErrInvalidID
	}
	assetType, err := domain.NormalizeAssetType(req.AssetType)
	if err != nil {
		return domain.ExecuteSettlementResponse{}, err
	}

	if s.locker != nil {
		key := "wellflow:settlement:execute:" + settlementID.String()
		token, acquired, err := s.locker.TryLock(ctx, key, executeLockTTL)
		if err != nil {
			s.log.Warn("execute lock unavailable, relying on row lock",
				zap.String("settlement_id", settlementID.String()),
				zap.Error(err),
			)
		} else if !acquired {
			return domain.ExecuteSettlementResponse{}, domain.ErrBusy
		} else {
			defer func() {
				if err := s.locker.Release(ctx, key, token); err != nil {
					s.log.Warn("failed to release execute lock", zap.Error(err))
				}
			}()
		}
	}

	payload, replayed, err := s.guard.Do(ctx, req.MessageID, domain.OpExecute, "settlement:"+settlementID.String(), func(ctx context.Context) (any, error) {
		local, err := s.executeLocally(ctx, settlementID, assetType, req.MessageID)
		if err != nil {
			return nil, err
		}
		return local, nil
	})
	if err != nil {
		return domain.ExecuteSettlementResponse{}, err
	}

	var resp domain.ExecuteSettlementResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return domain.ExecuteSettlementResponse{}, err
	}
	resp.Replayed = replayed
	s.finishTransition(ctx, domain.OpExecute, resp.SettlementID, resp.WellID, req.MessageID, resp.Status, replayed)
	if !replayed {
		s.metrics.RecordPayouts(ctx, len(resp.Payouts))
	}

	transferErr := s.completeTransfers(ctx, settlementID)

	payouts, err := s.repo.FindPayouts(ctx, s.db, settlementID)
	if err != nil {
		return domain.ExecuteSettlementResponse{}, err
	}
	resp.Payouts = toPayoutViews(payouts)

	if transferErr != nil {
		return resp, transferErr
	}
	return resp, nil
}

// executeLocally is the guarded local transition: everything here commits or
// rolls back as one unit, and its result is the replay payload.
func (s *Service) executeLocally(ctx context.Context, settlementID snowflake.ID, assetType, messageID string) (domain.ExecuteSettlementResponse, error) {
	var resp domain.ExecuteSettlementResponse
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settlement, err := s.repo.FindByID(ctx, tx, settlementID, true)
		if err != nil {
			return err
		}
		if settlement == nil {
			return domain.ErrNotFound
		}
		if !domain.CanTransition(settlement.Status, domain.StatusExecuted) {
			return domain.ErrInvalidState
		}

		well, err := s.wellRepo.FindByID(ctx, tx, settlement.WellID)
		if err != nil {
			return err
		}
		if well == nil {
			return welldomain.ErrNotFound
		}

		// Membership snapshot is read now, in this transaction, not at
		// request time: share changes between REQUEST and EXECUTE apply.
		members, err := s.membershipRepo.FindActiveByWell(ctx, tx, settlement.WellID)
		if err != nil {
			return err
		}

		result, err := calculator.Compute(calculator.Input{
			GrossRevenue:    settlement.GrossRevenue,
			AssetType:       payoutdomain.AssetType(assetType),
			PlatformFeeBps:  well.PlatformFeeBps,
			OperatorFeeBps:  well.OperatorFeeBps,
			PlatformAccount: s.cfg.PlatformAccount,
			Members:         members,
		})
		if err != nil {
			return err
		}

		now := s.clock.Now()
		payouts := make([]domain.Payout, 0, len(result.Lines))
		for _, line := range result.Lines {
			payouts = append(payouts, domain.Payout{
				ID:               s.genID.Generate(),
				SettlementID:     settlementID,
				RecipientAccount: line.Account,
				RecipientRole:    string(line.Recipient),
				Amount:           line.Amount,
				AssetType:        string(line.AssetType),
				CreatedAt:        now,
				UpdatedAt:        now,
			})
		}
		if err := s.repo.InsertPayouts(ctx, tx, payouts); err != nil {
			return err
		}
		if err := s.repo.MarkExecuted(ctx, tx, settlementID, messageID, now); err != nil {
			return err
		}

		resp = domain.ExecuteSettlementResponse{
			SettlementID:     settlementID.String(),
			WellID:           settlement.WellID.String(),
			Status:           domain.StatusExecuted,
			MessageID:        messageID,
			Payouts:          toPayoutViews(payouts),
			TotalDistributed: result.TotalDistributed,
		}
		return nil
	})
	if err != nil {
		return domain.ExecuteSettlementResponse{}, err
	}
	return resp, nil
}

// completeTransfers pays every payout row that has no confirmed transaction
// yet. Confirmed receipts are attached even when the batch fails part-way,
// so a retry only resumes the unpaid remainder.
func (s *Service) completeTransfers(ctx context.Context, settlementID snowflake.ID) error {
	pending, err := s.repo.FindPendingPayouts(ctx, s.db, settlementID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	items := make([]ledgerdomain.TransferItem, 0, len(pending))
	for _, payout := range pending {
		items = append(items, ledgerdomain.TransferItem{
			Account:   payout.RecipientAccount,
			Amount:    payout.Amount,
			AssetType: payout.AssetType,
		})
	}

	transferCtx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()

	receipts, err := s.gateway.Transfer(transferCtx, items)
	if err != nil {
		var confirmed []ledgerdomain.TransferReceipt
		var transferErr *ledgerdomain.TransferError
		if errors.As(err, &transferErr) {
			confirmed = transferErr.Confirmed
		}
		s.attachReceipts(ctx, pending, confirmed)

		result := "failure"
		if len(confirmed) > 0 {
			result = "partial_failure"
		}
		s.metrics.RecordLedgerTransfer(ctx, result)

		accounts := make([]string, 0, len(confirmed))
		for _, receipt := range confirmed {
			accounts = append(accounts, receipt.Account)
		}
		s.log.Error("ledger transfer failed",
			zap.String("settlement_id", settlementID.String()),
			zap.Int("pending", len(pending)),
			zap.Int("confirmed", len(confirmed)),
			zap.Error(err),
		)
		return &domain.TransferFailedError{
			SettlementID:      settlementID.String(),
			ConfirmedAccounts: accounts,
			Cause:             err,
		}
	}

	s.attachReceipts(ctx, pending, receipts)
	s.metrics.RecordLedgerTransfer(ctx, "ok")
	return nil
}

// attachReceipts records confirmations by recipient account, so a gateway
// that reorders the batch cannot attach a transaction id to the wrong row.
// Duplicate recipient accounts consume receipts in payout order.
func (s *Service) attachReceipts(ctx context.Context, pending []domain.Payout, receipts []ledgerdomain.TransferReceipt) {
	now := s.clock.Now()
	byAccount := make(map[string][]ledgerdomain.TransferReceipt, len(receipts))
	for _, receipt := range receipts {
		byAccount[receipt.Account] = append(byAccount[receipt.Account], receipt)
	}

	for _, payout := range pending {
		queue := byAccount[payout.RecipientAccount]
		if len(queue) == 0 {
			continue
		}
		receipt := queue[0]
		byAccount[payout.RecipientAccount] = queue[1:]

		if err := s.repo.AttachTransaction(ctx, s.db, payout.ID, receipt.TransactionID, now); err != nil {
			s.log.Error("failed to attach transaction id",
				zap.String("payout_id", payout.ID.String()),
				zap.String("transaction_id", receipt.TransactionID),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) Mint(ctx context.Context, req domain.MintSettlementRequest) (domain.MintSettlementResponse, error) {
	settlementID, err := snowflake.ParseString(req.SettlementID)
	if err != nil {
		return domain.MintSettlementResponse{}, domain.ErrInvalidID
	}
	if req.TokenID == "" || req.Amount <= 0 {
		return domain.MintSettlementResponse{}, domain.ErrInvalidToken
	}

	payload, replayed, err := s.guard.Do(ctx, req.MessageID, domain.OpMint, "settlement:"+settlementID.String(), func(ctx context.Context) (any, error) {
		settlement, err := s.repo.FindByID(ctx, s.db, settlementID, false)
		if err != nil {
			return nil, err
		}
		if settlement == nil {
			return nil, domain.ErrNotFound
		}
		if settlement.Status != domain.StatusExecuted {
			return nil, domain.ErrInvalidState
		}

		mintCtx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
		defer cancel()
		txID, err := s.gateway.MintToken(mintCtx, req.TokenID, req.Amount)
		if err != nil {
			return nil, err
		}

		if err := s.repo.MarkMinted(ctx, s.db, settlementID, req.TokenID, txID, req.MessageID, s.clock.Now()); err != nil {
			return nil, err
		}

		return domain.MintSettlementResponse{
			SettlementID:      settlementID.String(),
			TokenID:           req.TokenID,
			Amount:            req.Amount,
			MintTransactionID: txID,
			MessageID:         req.MessageID,
		}, nil
	})
	if err != nil {
		return domain.MintSettlementResponse{}, err
	}

	var resp domain.MintSettlementResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return domain.MintSettlementResponse{}, err
	}
	resp.Replayed = replayed
	s.finishTransition(ctx, domain.OpMint, resp.SettlementID, "", req.MessageID, domain.StatusExecuted, replayed)
	return resp, nil
}

func (s *Service) ResumeTransfers(ctx context.Context, settlementID snowflake.ID) error {
	return s.completeTransfers(ctx, settlementID)
}

func (s *Service) GetByID(ctx context.Context, req domain.GetSettlementRequest) (domain.SettlementDetail, error) {
	settlementID, err := snowflake.ParseString(req.ID)
	if err != nil {
		return domain.SettlementDetail{}, domain.ErrInvalidID
	}

	settlement, err := s.repo.FindByID(ctx, s.db, settlementID, false)
	if err != nil {
		return domain.SettlementDetail{}, err
	}
	if settlement == nil {
		return domain.SettlementDetail{}, domain.ErrNotFound
	}

	payouts, err := s.repo.FindPayouts(ctx, s.db, settlementID)
	if err != nil {
		return domain.SettlementDetail{}, err
	}

	return domain.SettlementDetail{
		Settlement: *settlement,
		Payouts:    toPayoutViews(payouts),
	}, nil
}

func (s *Service) ListByWell(ctx context.Context, req domain.ListSettlementsRequest) ([]domain.Settlement, error) {
	wellID, err := snowflake.ParseString(req.WellID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	return s.repo.ListByWell(ctx, s.db, wellID)
}

// finishTransition emits the audit log entry and metrics for a completed
// transition. The log entry goes through the ledger gateway so auditors can
// reconstruct settlement history independent of the relational store; a
// failed append is logged but never fails the already-committed transition.
func (s *Service) finishTransition(ctx context.Context, op, settlementID, wellID, messageID string, status domain.Status, replayed bool) {
	if replayed {
		s.metrics.RecordReplay(ctx, op)
		return
	}
	s.metrics.RecordTransition(ctx, op, string(status))

	entry := map[string]any{
		"operation":     op,
		"settlement_id": settlementID,
		"well_id":       wellID,
		"message_id":    messageID,
		"status":        string(status),
		"at":            s.clock.Now().Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		s.log.Error("failed to marshal audit entry", zap.Error(err))
		return
	}

	logCtx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()
	if _, err := s.gateway.AppendLog(logCtx, s.cfg.LedgerTopic, payload); err != nil {
		s.log.Error("failed to append audit log entry",
			zap.String("operation", op),
			zap.String("settlement_id", settlementID),
			zap.Error(err),
		)
	}
}

func toPayoutViews(payouts []domain.Payout) []domain.PayoutView {
	views := make([]domain.PayoutView, 0, len(payouts))
	for _, payout := range payouts {
		view := domain.PayoutView{
			Account:   payout.RecipientAccount,
			Role:      payout.RecipientRole,
			Amount:    payout.Amount,
			AssetType: payout.AssetType,
		}
		if payout.TransactionID != nil {
			view.TransactionID = *payout.TransactionID
		}
		views = append(views, view)
	}
	return views
}
