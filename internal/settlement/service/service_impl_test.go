package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aquastake/wellflow/internal/clock"
	"github.com/aquastake/wellflow/internal/config"
	idempotencydomain "github.com/aquastake/wellflow/internal/idempotency/domain"
	idempotencyservice "github.com/aquastake/wellflow/internal/idempotency/service"
	ledgerdomain "github.com/aquastake/wellflow/internal/ledger/domain"
	ledgermemory "github.com/aquastake/wellflow/internal/ledger/memory"
	membershipdomain "github.com/aquastake/wellflow/internal/membership/domain"
	membershiprepository "github.com/aquastake/wellflow/internal/membership/repository"
	"github.com/aquastake/wellflow/internal/settlement/domain"
	"github.com/aquastake/wellflow/internal/settlement/repository"
	welldomain "github.com/aquastake/wellflow/internal/well/domain"
	wellrepository "github.com/aquastake/wellflow/internal/well/repository"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testDBSeq atomic.Int64

type fixture struct {
	svc     domain.Service
	db      *gorm.DB
	gateway *ledgermemory.Gateway
	node    *snowflake.Node
	cfg     config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:settlement_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&welldomain.Well{},
		&membershipdomain.Membership{},
		&domain.Settlement{},
		&domain.Payout{},
		&idempotencydomain.Record{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	logger := zap.NewNop()
	clk := clock.NewSystemClock()
	cfg := config.Config{
		PlatformAccount: "platform.treasury",
		LedgerTopic:     "wellflow.settlements",
		LedgerTimeout:   time.Second,
	}
	gateway := ledgermemory.New(logger)
	guard := idempotencyservice.NewGuard(idempotencyservice.Params{
		DB:    db,
		Log:   logger,
		Clock: clk,
	})

	svc := NewService(Params{
		DB:             db,
		Log:            logger,
		GenID:          node,
		Clock:          clk,
		Cfg:            cfg,
		Repo:           repository.Provide(),
		WellRepo:       wellrepository.Provide(),
		MembershipRepo: membershiprepository.Provide(),
		Guard:          guard,
		Gateway:        gateway,
	})

	return &fixture{svc: svc, db: db, gateway: gateway, node: node, cfg: cfg}
}

// seedWell creates a well with a platform fee and the given investor shares.
// Shares map account id to basis points and must sum to 10000.
func (f *fixture) seedWell(t *testing.T, platformBps, operatorBps int, operatorAccount string, shares map[string]int) snowflake.ID {
	t.Helper()

	well := welldomain.Well{
		ID:             f.node.Generate(),
		Code:           "well-sahel-12",
		Name:           "Sahel 12",
		Currency:       "USD",
		PlatformFeeBps: platformBps,
		OperatorFeeBps: operatorBps,
	}
	require.NoError(t, f.db.Create(&well).Error)

	for account, bps := range shares {
		require.NoError(t, f.db.Create(&membershipdomain.Membership{
			ID:        f.node.Generate(),
			WellID:    well.ID,
			AccountID: account,
			Role:      membershipdomain.RoleInvestor,
			ShareBps:  bps,
			Active:    true,
		}).Error)
	}
	if operatorAccount != "" {
		require.NoError(t, f.db.Create(&membershipdomain.Membership{
			ID:        f.node.Generate(),
			WellID:    well.ID,
			AccountID: operatorAccount,
			Role:      membershipdomain.RoleOperator,
			Active:    true,
		}).Error)
	}
	return well.ID
}

func (f *fixture) requestSettlement(t *testing.T, wellID snowflake.ID, messageID string) domain.SettlementResponse {
	t.Helper()
	resp, err := f.svc.Request(context.Background(), domain.RequestSettlementRequest{
		WellID:       wellID.String(),
		PeriodStart:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:    time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		VolumeLiters: 120000,
		GrossRevenue: 50000,
		MessageID:    messageID,
	})
	require.NoError(t, err)
	return resp
}

func (f *fixture) approve(t *testing.T, settlementID, messageID string) {
	t.Helper()
	_, err := f.svc.Approve(context.Background(), domain.TransitionRequest{
		SettlementID: settlementID,
		MessageID:    messageID,
	})
	require.NoError(t, err)
}

func defaultShares() map[string]int {
	return map[string]int{
		"acct-alice": 4000,
		"acct-bob":   3500,
		"acct-cara":  2500,
	}
}

func TestRequest_CreatesAndReplays(t *testing.T) {
	f := newFixture(t)
	wellID := f.seedWell(t, 500, 0, "", defaultShares())

	first := f.requestSettlement(t, wellID, "req-1")
	assert.Equal(t, domain.StatusRequested, first.Status)
	assert.False(t, first.Replayed)

	second := f.requestSettlement(t, wellID, "req-1")
	assert.True(t, second.Replayed)
	assert.Equal(t, first.SettlementID, second.SettlementID)

	var count int64
	f.db.Model(&domain.Settlement{}).Where("well_id = ?", wellID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestRequest_OverlappingPeriodRejected(t *testing.T) {
	f := newFixture(t)
	wellID := f.seedWell(t, 500, 0, "", defaultShares())
	f.requestSettlement(t, wellID, "req-1")

	_, err := f.svc.Request(context.Background(), domain.RequestSettlementRequest{
		WellID:       wellID.String(),
		PeriodStart:  time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		PeriodEnd:    time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
		GrossRevenue: 10000,
		MessageID:    "req-2",
	})
	assert.ErrorIs(t, err, domain.ErrPeriodOverlap)

	// An adjacent period sharing only the boundary instant is fine.
	_, err = f.svc.Request(context.Background(), domain.RequestSettlementRequest{
		WellID:       wellID.String(),
		PeriodStart:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		GrossRevenue: 10000,
		MessageID:    "req-3",
	})
	assert.NoError(t, err)
}

func TestRequest_RejectedSettlementFreesPeriod(t *testing.T) {
	f := newFixture(t)
	wellID := f.seedWell(t, 500, 0, "", defaultShares())
	first := f.requestSettlement(t, wellID, "req-1")

	_, err := f.svc.Reject(context.Background(), domain.TransitionRequest{
		SettlementID: first.SettlementID,
		MessageID:    "rej-1",
	})
	require.NoError(t, err)

	second := f.requestSettlement(t, wellID, "req-2")
	assert.NotEqual(t, first.SettlementID, second.SettlementID)
}

func TestRequest_CopiesWellCurrency(t *testing.T) {
	f := newFixture(t)
	wellID := f.seedWell(t, 500, 0, "", defaultShares())

	created := f.requestSettlement(t, wellID, "req-1")

	var row domain.Settlement
	require.NoError(t, f.db.First(&row, "id = ?", created.SettlementID).Error)
	assert.Equal(t, "USD", row.Currency)
	assert.Equal(t, domain.StatusRequested, row.Status)
}

func TestRequest_UnknownWell(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Request(context.Background(), domain.RequestSettlementRequest{
		WellID:       f.node.Generate().String(),
		PeriodStart:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:    time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		GrossRevenue: 1000,
		MessageID:    "req-1",
	})
	assert.ErrorIs(t, err, welldomain.ErrNotFound)
}

func TestTransition_InvalidStateRejected(t *testing.T) {
	f := newFixture(t)
	wellID := f.seedWell(t, 500, 0, "", defaultShares())
	created := f.requestSettlement(t, wellID, "req-1")

	// EXECUTE straight from REQUESTED skips approval.
	_, err := f.svc.Execute(context.Background(), domain.ExecuteSettlementRequest{
		SettlementID: created.SettlementID,
		MessageID:    "exec-1",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	f.approve(t, created.SettlementID, "app-1")

	// Approving twice with a fresh key is an invalid transition, not a replay.
	_, err = f.svc.Approve(context.Background(), domain.TransitionRequest{
		SettlementID: created.SettlementID,
		MessageID:    "app-2",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestExecute_DistributesAndTransfers(t *testing.T) {
	f := newFixture(t)
	wellID := f.seedWell(t, 500, 0, "", defaultShares())
	created := f.requestSettlement(t, wellID, "req-1")
	f.approve(t, created.SettlementID, "app-1")

	resp, err := f.svc.Execute(context.Background(), domain.ExecuteSettlementRequest{
		SettlementID: created.SettlementID,
		MessageID:    "exec-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExecuted, resp.Status)
	require.Len(t, resp.Payouts, 4)

	amounts := make(map[string]int64)
	var total int64
	for _, payout := range resp.Payouts {
		amounts[payout.Account] = payout.Amount
		total += payout.Amount
		assert.NotEmpty(t, payout.TransactionID)
		assert.Equal(t, "native", payout.AssetType)
	}
	assert.Equal(t, int64(50000), total)
	assert.Equal(t, int64(19000), amounts["acct-alice"])
	assert.Equal(t, int64(16625), amounts["acct-bob"])
	assert.Equal(t, int64(11875), amounts["acct-cara"])
	assert.Equal(t, int64(2500), amounts["platform.treasury"])

	assert.Equal(t, int64(19000), f.gateway.Balance("acct-alice"))
	assert.Equal(t, int64(2500), f.gateway.Balance("platform.treasury"))

	var reloaded domain.Settlement
	require.NoError(t, f.db.First(&reloaded, "id = ?", created.SettlementID).Error)
	assert.Equal(t, domain.StatusExecuted, reloaded.Status)
}

func TestExecute_ReplayReturnsIdenticalPayouts(t *testing.T) {
	f := newFixture(t)
	wellID := f.seedWell(t, 500, 0, "", defaultShares())
	created := f.requestSettlement(t, wellID, "req-1")
	f.approve(t, created.SettlementID, "app-1")

	first, err := f.svc.Execute(context.Background(), domain.ExecuteSettlementRequest{
		SettlementID: created.SettlementID,
		MessageID:    "exec-1",
	})
	require.NoError(t, err)

	// Membership changes after execution must not alter the recorded batch.
	require.NoError(t, f.db.Model(&membershipdomain.Membership{}).
		Where("well_id = ?", wellID).Update("share_bps", 0).Error)

	second, err := f.svc.Execute(context.Background(), domain.ExecuteSettlementRequest{
		SettlementID: created.SettlementID,
		MessageID:    "exec-1",
	})
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payouts, second.Payouts)

	var count int64
	f.db.Model(&domain.Payout{}).Where("settlement_id = ?", created.SettlementID).Count(&count)
	assert.Equal(t, int64(4), count)

	// No double pay: balances unchanged after the replay.
	assert.Equal(t, int64(19000), f.gateway.Balance("acct-alice"))
}

func TestExecute_PartialTransferFailureResumes(t *testing.T) {
	f := newFixture(t)
	wellID := f.seedWell(t, 500, 0, "", defaultShares())
	created := f.requestSettlement(t, wellID, "req-1")
	f.approve(t, created.SettlementID, "app-1")

	f.gateway.FailAccount("acct-bob")

	_, err := f.svc.Execute(context.Background(), domain.ExecuteSettlementRequest{
		SettlementID: created.SettlementID,
		MessageID:    "exec-1",
	})
	require.ErrorIs(t, err, domain.ErrLedgerTransferFailed)

	var failure *domain.TransferFailedError
	require.ErrorAs(t, err, &failure)
	assert.True(t, failure.Partial())

	// The local transition committed: EXECUTED with the full batch recorded,
	// unpaid rows simply lacking a transaction id.
	var reloaded domain.Settlement
	require.NoError(t, f.db.First(&reloaded, "id = ?", created.SettlementID).Error)
	assert.Equal(t, domain.StatusExecuted, reloaded.Status)

	var pending int64
	f.db.Model(&domain.Payout{}).
		Where("settlement_id = ? AND transaction_id IS NULL", created.SettlementID).
		Count(&pending)
	assert.Greater(t, pending, int64(0))

	f.gateway.HealAccount("acct-bob")

	resumed, err := f.svc.Execute(context.Background(), domain.ExecuteSettlementRequest{
		SettlementID: created.SettlementID,
		MessageID:    "exec-1",
	})
	require.NoError(t, err)
	assert.True(t, resumed.Replayed)
	for _, payout := range resumed.Payouts {
		assert.NotEmpty(t, payout.TransactionID)
	}

	// Resuming paid only the remainder.
	assert.Equal(t, int64(16625), f.gateway.Balance("acct-bob"))
	var count int64
	f.db.Model(&domain.Payout{}).Where("settlement_id = ?", created.SettlementID).Count(&count)
	assert.Equal(t, int64(4), count)
}

func TestAttachReceipts_MatchesByAccount(t *testing.T) {
	f := newFixture(t)
	s := f.svc.(*Service)
	ctx := context.Background()

	now := time.Now().UTC()
	settlementID := f.node.Generate()
	alice := domain.Payout{
		ID:               f.node.Generate(),
		SettlementID:     settlementID,
		RecipientAccount: "acct-alice",
		RecipientRole:    "investor",
		Amount:           6000,
		AssetType:        "native",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	bob := domain.Payout{
		ID:               f.node.Generate(),
		SettlementID:     settlementID,
		RecipientAccount: "acct-bob",
		RecipientRole:    "investor",
		Amount:           4000,
		AssetType:        "native",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, f.db.Create(&alice).Error)
	require.NoError(t, f.db.Create(&bob).Error)

	// Receipts arrive in the opposite order from the submitted batch.
	s.attachReceipts(ctx, []domain.Payout{alice, bob}, []ledgerdomain.TransferReceipt{
		{Account: "acct-bob", TransactionID: "tx-bob"},
		{Account: "acct-alice", TransactionID: "tx-alice"},
	})

	var rows []domain.Payout
	require.NoError(t, f.db.Where("settlement_id = ?", settlementID).Order("id asc").Find(&rows).Error)
	require.Len(t, rows, 2)
	for _, row := range rows {
		require.NotNil(t, row.TransactionID, row.RecipientAccount)
		assert.Equal(t, "tx-"+row.RecipientAccount[len("acct-"):], *row.TransactionID)
	}
}

func TestAttachReceipts_UnconfirmedAccountStaysPending(t *testing.T) {
	f := newFixture(t)
	s := f.svc.(*Service)
	ctx := context.Background()

	now := time.Now().UTC()
	settlementID := f.node.Generate()
	payouts := []domain.Payout{
		{
			ID:               f.node.Generate(),
			SettlementID:     settlementID,
			RecipientAccount: "acct-alice",
			RecipientRole:    "investor",
			Amount:           6000,
			AssetType:        "native",
			CreatedAt:        now,
			UpdatedAt:        now,
		},
		{
			ID:               f.node.Generate(),
			SettlementID:     settlementID,
			RecipientAccount: "acct-bob",
			RecipientRole:    "investor",
			Amount:           4000,
			AssetType:        "native",
			CreatedAt:        now,
			UpdatedAt:        now,
		},
	}
	for i := range payouts {
		require.NoError(t, f.db.Create(&payouts[i]).Error)
	}

	s.attachReceipts(ctx, payouts, []ledgerdomain.TransferReceipt{
		{Account: "acct-bob", TransactionID: "tx-bob"},
	})

	var pending int64
	require.NoError(t, f.db.Model(&domain.Payout{}).
		Where("settlement_id = ? AND transaction_id IS NULL", settlementID).
		Count(&pending).Error)
	assert.Equal(t, int64(1), pending)

	var bobRow domain.Payout
	require.NoError(t, f.db.First(&bobRow, "recipient_account = ? AND settlement_id = ?", "acct-bob", settlementID).Error)
	require.NotNil(t, bobRow.TransactionID)
	assert.Equal(t, "tx-bob", *bobRow.TransactionID)
}

func TestExecute_OperatorFee(t *testing.T) {
	f := newFixture(t)
	wellID := f.seedWell(t, 500, 1000, "acct-operator", defaultShares())
	created := f.requestSettlement(t, wellID, "req-1")
	f.approve(t, created.SettlementID, "app-1")

	resp, err := f.svc.Execute(context.Background(), domain.ExecuteSettlementRequest{
		SettlementID: created.SettlementID,
		MessageID:    "exec-1",
	})
	require.NoError(t, err)
	require.Len(t, resp.Payouts, 5)

	var operatorAmount, total int64
	for _, payout := range resp.Payouts {
		total += payout.Amount
		if payout.Account == "acct-operator" {
			operatorAmount = payout.Amount
			assert.Equal(t, "operator", payout.Role)
		}
	}
	assert.Equal(t, int64(5000), operatorAmount)
	assert.Equal(t, int64(50000), total)
}

func TestExecute_InvalidAssetType(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Execute(context.Background(), domain.ExecuteSettlementRequest{
		SettlementID: f.node.Generate().String(),
		AssetType:    "carbon-credit",
		MessageID:    "exec-1",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAssetType)
}

func TestMint_RequiresExecuted(t *testing.T) {
	f := newFixture(t)
	wellID := f.seedWell(t, 500, 0, "", defaultShares())
	created := f.requestSettlement(t, wellID, "req-1")

	_, err := f.svc.Mint(context.Background(), domain.MintSettlementRequest{
		SettlementID: created.SettlementID,
		TokenID:      "WELL-SAHEL-12",
		Amount:       1000,
		MessageID:    "mint-1",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	f.approve(t, created.SettlementID, "app-1")
	_, err = f.svc.Execute(context.Background(), domain.ExecuteSettlementRequest{
		SettlementID: created.SettlementID,
		MessageID:    "exec-1",
	})
	require.NoError(t, err)

	minted, err := f.svc.Mint(context.Background(), domain.MintSettlementRequest{
		SettlementID: created.SettlementID,
		TokenID:      "WELL-SAHEL-12",
		Amount:       1000,
		MessageID:    "mint-2",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, minted.MintTransactionID)
	assert.Equal(t, int64(1000), f.gateway.Minted("WELL-SAHEL-12"))

	replayed, err := f.svc.Mint(context.Background(), domain.MintSettlementRequest{
		SettlementID: created.SettlementID,
		TokenID:      "WELL-SAHEL-12",
		Amount:       1000,
		MessageID:    "mint-2",
	})
	require.NoError(t, err)
	assert.True(t, replayed.Replayed)
	assert.Equal(t, minted.MintTransactionID, replayed.MintTransactionID)
	assert.Equal(t, int64(1000), f.gateway.Minted("WELL-SAHEL-12"))
}

func TestCancel_TerminalAndAudited(t *testing.T) {
	f := newFixture(t)
	wellID := f.seedWell(t, 500, 0, "", defaultShares())
	created := f.requestSettlement(t, wellID, "req-1")

	resp, err := f.svc.Cancel(context.Background(), domain.TransitionRequest{
		SettlementID: created.SettlementID,
		MessageID:    "can-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, resp.Status)

	_, err = f.svc.Approve(context.Background(), domain.TransitionRequest{
		SettlementID: created.SettlementID,
		MessageID:    "app-1",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	// Every non-replayed transition leaves an audit log entry.
	entries := f.gateway.Entries()
	require.NotEmpty(t, entries)
	for _, entry := range entries {
		assert.Equal(t, f.cfg.LedgerTopic, entry.Topic)
	}
	assert.GreaterOrEqual(t, len(entries), 2)
}

func TestGetByID_IncludesPayouts(t *testing.T) {
	f := newFixture(t)
	wellID := f.seedWell(t, 500, 0, "", defaultShares())
	created := f.requestSettlement(t, wellID, "req-1")
	f.approve(t, created.SettlementID, "app-1")
	_, err := f.svc.Execute(context.Background(), domain.ExecuteSettlementRequest{
		SettlementID: created.SettlementID,
		MessageID:    "exec-1",
	})
	require.NoError(t, err)

	detail, err := f.svc.GetByID(context.Background(), domain.GetSettlementRequest{ID: created.SettlementID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExecuted, detail.Settlement.Status)
	assert.Len(t, detail.Payouts, 4)

	_, err = f.svc.GetByID(context.Background(), domain.GetSettlementRequest{ID: f.node.Generate().String()})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListByWell(t *testing.T) {
	f := newFixture(t)
	wellID := f.seedWell(t, 500, 0, "", defaultShares())
	f.requestSettlement(t, wellID, "req-1")

	settlements, err := f.svc.ListByWell(context.Background(), domain.ListSettlementsRequest{WellID: wellID.String()})
	require.NoError(t, err)
	assert.Len(t, settlements, 1)
}
