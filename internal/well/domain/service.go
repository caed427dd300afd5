package domain

import (
	"context"
	"errors"
)

type CreateWellRequest struct {
	Name           string
	Location       string
	Currency       string
	PlatformFeeBps *int
	OperatorFeeBps *int
}

type GetWellRequest struct {
	ID string
}

type Service interface {
	Create(context.Context, CreateWellRequest) (Well, error)
	GetByID(context.Context, GetWellRequest) (Well, error)
}

var (
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidCurrency  = errors.New("invalid_currency")
	ErrInvalidFeeConfig = errors.New("invalid_fee_config")
	ErrInvalidID        = errors.New("invalid_id")
	ErrNotFound         = errors.New("well_not_found")
)
