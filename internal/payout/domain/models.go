package domain

import "errors"

// AssetType selects how a payout is settled on the ledger.
type AssetType string

const (
	AssetTypeNative AssetType = "native"
	AssetTypeToken  AssetType = "token"
)

// Recipient classifies who a payout line pays.
type Recipient string

const (
	RecipientInvestor Recipient = "investor"
	RecipientOperator Recipient = "operator"
	RecipientPlatform Recipient = "platform"
)

// Line is one computed money movement. Amounts are in the smallest
// currency unit.
type Line struct {
	Account   string    `json:"account"`
	Recipient Recipient `json:"recipient"`
	Amount    int64     `json:"amount"`
	AssetType AssetType `json:"asset_type"`
}

// Result is the full split of one settlement's gross revenue. Lines always
// sum to GrossRevenue exactly: Distributable + PlatformFee + OperatorFee.
type Result struct {
	Lines            []Line `json:"lines"`
	Distributable    int64  `json:"distributable"`
	PlatformFee      int64  `json:"platform_fee"`
	OperatorFee      int64  `json:"operator_fee"`
	TotalDistributed int64  `json:"total_distributed"`
}

var (
	ErrInvalidRevenue   = errors.New("invalid_revenue")
	ErrInvalidFeeConfig = errors.New("invalid_fee_config")
	ErrNoMembers        = errors.New("no_members")
	ErrShareMismatch    = errors.New("share_mismatch")
)
