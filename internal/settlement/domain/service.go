package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Operation types recorded by the idempotency guard and the audit log.
const (
	OpRequest = "settlement.request"
	OpApprove = "settlement.approve"
	OpExecute = "settlement.execute"
	OpMint    = "settlement.mint"
	OpReject  = "settlement.reject"
	OpCancel  = "settlement.cancel"
)

type RequestSettlementRequest struct {
	WellID       string
	PeriodStart  time.Time
	PeriodEnd    time.Time
	VolumeLiters int64
	GrossRevenue int64
	MessageID    string
}

type TransitionRequest struct {
	SettlementID string
	MessageID    string
}

type ExecuteSettlementRequest struct {
	SettlementID string
	AssetType    string
	MessageID    string
}

type MintSettlementRequest struct {
	SettlementID string
	TokenID      string
	Amount       int64
	MessageID    string
}

type GetSettlementRequest struct {
	ID string
}

type ListSettlementsRequest struct {
	WellID string
}

// SettlementResponse is the common transition result. It is also the payload
// stored by the idempotency guard, so every field must survive a JSON
// round-trip unchanged.
type SettlementResponse struct {
	SettlementID string `json:"settlement_id"`
	WellID       string `json:"well_id"`
	Status       Status `json:"status"`
	MessageID    string `json:"message_id"`
	Replayed     bool   `json:"-"`
}

type PayoutView struct {
	Account       string `json:"account"`
	Role          string `json:"role"`
	Amount        int64  `json:"amount"`
	AssetType     string `json:"asset_type"`
	TransactionID string `json:"transaction_id,omitempty"`
}

type ExecuteSettlementResponse struct {
	SettlementID     string       `json:"settlement_id"`
	WellID           string       `json:"well_id"`
	Status           Status       `json:"status"`
	MessageID        string       `json:"message_id"`
	Payouts          []PayoutView `json:"payouts"`
	TotalDistributed int64        `json:"total_distributed"`
	Replayed         bool         `json:"-"`
}

type MintSettlementResponse struct {
	SettlementID      string `json:"settlement_id"`
	TokenID           string `json:"token_id"`
	Amount            int64  `json:"amount"`
	MintTransactionID string `json:"mint_transaction_id"`
	MessageID         string `json:"message_id"`
	Replayed          bool   `json:"-"`
}

type SettlementDetail struct {
	Settlement Settlement   `json:"settlement"`
	Payouts    []PayoutView `json:"payouts"`
}

type Service interface {
	Request(context.Context, RequestSettlementRequest) (SettlementResponse, error)
	Approve(context.Context, TransitionRequest) (SettlementResponse, error)
	Execute(context.Context, ExecuteSettlementRequest) (ExecuteSettlementResponse, error)
	Mint(context.Context, MintSettlementRequest) (MintSettlementResponse, error)
	Reject(context.Context, TransitionRequest) (SettlementResponse, error)
	Cancel(context.Context, TransitionRequest) (SettlementResponse, error)
	GetByID(context.Context, GetSettlementRequest) (SettlementDetail, error)
	ListByWell(context.Context, ListSettlementsRequest) ([]Settlement, error)

	// ResumeTransfers retries the ledger transfers for payouts that were
	// recorded but never confirmed. The reconciler calls this for EXECUTED
	// settlements left with pending payouts after a crash or ledger outage.
	ResumeTransfers(ctx context.Context, settlementID snowflake.ID) error
}

var (
	ErrInvalidID            = errors.New("invalid_id")
	ErrInvalidPeriod        = errors.New("invalid_period")
	ErrInvalidVolume        = errors.New("invalid_volume")
	ErrInvalidRevenue       = errors.New("invalid_revenue")
	ErrInvalidAssetType     = errors.New("invalid_asset_type")
	ErrInvalidToken         = errors.New("invalid_token")
	ErrInvalidState         = errors.New("invalid_state")
	ErrPeriodOverlap        = errors.New("period_overlap")
	ErrNotFound             = errors.New("not_found")
	ErrBusy                 = errors.New("settlement_busy")
	ErrLedgerTransferFailed = errors.New("ledger_transfer_failed")
)

// TransferFailedError reports a failed or partially failed EXECUTE transfer
// phase. The settlement itself stays EXECUTED with pending payouts; retrying
// with the same message id resumes the unpaid transfers.
type TransferFailedError struct {
	SettlementID      string
	ConfirmedAccounts []string
	Cause             error
}

func (e *TransferFailedError) Error() string {
	kind := "total"
	if len(e.ConfirmedAccounts) > 0 {
		kind = "partial"
	}
	return fmt.Sprintf("settlement %s: %s transfer failure (%d confirmed): %v",
		e.SettlementID, kind, len(e.ConfirmedAccounts), e.Cause)
}

func (e *TransferFailedError) Unwrap() error { return ErrLedgerTransferFailed }

// Partial reports whether some recipients were already paid.
func (e *TransferFailedError) Partial() bool { return len(e.ConfirmedAccounts) > 0 }

// NormalizeAssetType validates and canonicalizes the requested asset type.
func NormalizeAssetType(raw string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "", "native":
		return "native", nil
	case "token":
		return "token", nil
	default:
		return "", ErrInvalidAssetType
	}
}
