// Package memory is the embedded ledger gateway: balances, mints, and log
// entries live in process memory. It backs standalone deployments and tests;
// production deployments swap in a real gateway through the same interface.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aquastake/wellflow/internal/ledger/domain"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// LogEntry is one append-only log record kept by the embedded gateway.
type LogEntry struct {
	Topic     string
	Payload   []byte
	ReceiptID string
	LoggedAt  time.Time
}

type Gateway struct {
	log *zap.Logger

	mu       sync.Mutex
	balances map[string]int64
	minted   map[string]int64
	entries  []LogEntry

	// failAccounts makes Transfer fail when it reaches a listed account,
	// confirming everything before it. Tests use this to simulate partial
	// ledger failures.
	failAccounts map[string]struct{}
}

func New(log *zap.Logger) *Gateway {
	return &Gateway{
		log:          log.Named("ledger.memory"),
		balances:     make(map[string]int64),
		minted:       make(map[string]int64),
		failAccounts: make(map[string]struct{}),
	}
}

func (g *Gateway) Transfer(ctx context.Context, items []domain.TransferItem) ([]domain.TransferReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	receipts := make([]domain.TransferReceipt, 0, len(items))
	for _, item := range items {
		if _, fail := g.failAccounts[item.Account]; fail {
			return nil, &domain.TransferError{
				Confirmed: receipts,
				Cause:     errors.New("account rejected by ledger"),
			}
		}

		g.balances[item.Account] += item.Amount
		receipt := domain.TransferReceipt{
			Account:       item.Account,
			TransactionID: ulid.Make().String(),
		}
		receipts = append(receipts, receipt)
	}

	g.log.Debug("transfer confirmed", zap.Int("items", len(items)))
	return receipts, nil
}

func (g *Gateway) MintToken(ctx context.Context, tokenID string, amount int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.minted[tokenID] += amount
	txID := ulid.Make().String()
	g.log.Debug("token minted", zap.String("token_id", tokenID), zap.Int64("amount", amount))
	return txID, nil
}

func (g *Gateway) AppendLog(ctx context.Context, topic string, payload []byte) (domain.LogReceipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.LogReceipt{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	entry := LogEntry{
		Topic:     topic,
		Payload:   append([]byte(nil), payload...),
		ReceiptID: ulid.Make().String(),
		LoggedAt:  time.Now().UTC(),
	}
	g.entries = append(g.entries, entry)
	return domain.LogReceipt{Topic: topic, ReceiptID: entry.ReceiptID}, nil
}

// Balance returns the accumulated balance for an account.
func (g *Gateway) Balance(account string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[account]
}

// Minted returns the total minted amount for a token.
func (g *Gateway) Minted(tokenID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.minted[tokenID]
}

// Entries returns a copy of the append-only log.
func (g *Gateway) Entries() []LogEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]LogEntry(nil), g.entries...)
}

// FailAccount makes subsequent transfers to the account fail.
func (g *Gateway) FailAccount(account string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failAccounts[account] = struct{}{}
}

// HealAccount clears a previously injected failure.
func (g *Gateway) HealAccount(account string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failAccounts, account)
}
