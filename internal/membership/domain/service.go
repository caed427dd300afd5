package domain

import (
	"context"
	"errors"
)

type ShareInput struct {
	AccountID string
	Role      Role
	ShareBps  int
}

type ReplaceSharesRequest struct {
	WellID string
	Shares []ShareInput
}

type GetActiveSharesRequest struct {
	WellID string
}

type Service interface {
	// ReplaceShares swaps the active membership set for a well. The share-sum
	// invariant is enforced here, at mutation time, not at settlement time.
	ReplaceShares(context.Context, ReplaceSharesRequest) ([]Membership, error)
	GetActiveShares(context.Context, GetActiveSharesRequest) ([]Membership, error)
}

var (
	ErrInvalidWellID   = errors.New("invalid_well_id")
	ErrInvalidAccount  = errors.New("invalid_account")
	ErrInvalidRole     = errors.New("invalid_role")
	ErrInvalidShare    = errors.New("invalid_share")
	ErrDuplicateShare  = errors.New("duplicate_share_account")
	ErrShareMismatch   = errors.New("share_mismatch")
	ErrTooManyOperator = errors.New("too_many_operators")
	ErrWellNotFound    = errors.New("well_not_found")
)
