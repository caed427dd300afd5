package domain

import (
	"context"
	"errors"
	"fmt"
)

// TransferItem is one value movement the gateway should perform.
type TransferItem struct {
	Account   string `json:"account"`
	Amount    int64  `json:"amount"`
	AssetType string `json:"asset_type"`
}

// TransferReceipt confirms one completed transfer.
type TransferReceipt struct {
	Account       string `json:"account"`
	TransactionID string `json:"transaction_id"`
}

// LogReceipt confirms an append-only log submission.
type LogReceipt struct {
	Topic     string `json:"topic"`
	ReceiptID string `json:"receipt_id"`
}

// Gateway is the narrow interface to the external distributed ledger. It is
// an injected dependency of the settlement orchestrator; business logic never
// constructs or selects a ledger client itself.
type Gateway interface {
	// Transfer moves value to each account. On partial failure the returned
	// error is a *TransferError listing the receipts already confirmed.
	Transfer(ctx context.Context, items []TransferItem) ([]TransferReceipt, error)
	MintToken(ctx context.Context, tokenID string, amount int64) (string, error)
	AppendLog(ctx context.Context, topic string, payload []byte) (LogReceipt, error)
}

var ErrTransferFailed = errors.New("ledger_transfer_failed")

// TransferError reports a failed transfer batch. Confirmed holds the
// receipts of accounts that were paid before the failure; callers use it to
// distinguish partial from total failure.
type TransferError struct {
	Confirmed []TransferReceipt
	Cause     error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("ledger transfer failed after %d confirmations: %v", len(e.Confirmed), e.Cause)
}

func (e *TransferError) Unwrap() error { return ErrTransferFailed }

// Partial reports whether some accounts were already paid.
func (e *TransferError) Partial() bool { return len(e.Confirmed) > 0 }
