package service

import (
	"context"
	"strings"

	"github.com/aquastake/wellflow/internal/clock"
	"github.com/aquastake/wellflow/internal/membership/domain"
	welldomain "github.com/aquastake/wellflow/internal/well/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	WellRepo welldomain.Repository
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	wellRepo welldomain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("membership.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		wellRepo: p.WellRepo,
	}
}

func (s *Service) ReplaceShares(ctx context.Context, req domain.ReplaceSharesRequest) ([]domain.Membership, error) {
	wellID, err := snowflake.ParseString(strings.TrimSpace(req.WellID))
	if err != nil {
		return nil, domain.ErrInvalidWellID
	}

	normalized, err := normalizeShares(req.Shares)
	if err != nil {
		return nil, err
	}

	well, err := s.wellRepo.FindByID(ctx, s.db, wellID)
	if err != nil {
		return nil, err
	}
	if well == nil {
		return nil, domain.ErrWellNotFound
	}

	now := s.clock.Now()
	memberships := make([]domain.Membership, 0, len(normalized))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.DeactivateByWell(ctx, tx, wellID); err != nil {
			return err
		}
		for _, share := range normalized {
			membership := domain.Membership{
				ID:        s.genID.Generate(),
				WellID:    wellID,
				AccountID: share.AccountID,
				Role:      share.Role,
				ShareBps:  share.ShareBps,
				Active:    true,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.repo.Insert(ctx, tx, &membership); err != nil {
				return err
			}
			memberships = append(memberships, membership)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("well memberships replaced",
		zap.String("well_id", wellID.String()),
		zap.Int("count", len(memberships)),
	)
	return memberships, nil
}

func (s *Service) GetActiveShares(ctx context.Context, req domain.GetActiveSharesRequest) ([]domain.Membership, error) {
	wellID, err := snowflake.ParseString(strings.TrimSpace(req.WellID))
	if err != nil {
		return nil, domain.ErrInvalidWellID
	}
	return s.repo.FindActiveByWell(ctx, s.db, wellID)
}

func normalizeShares(shares []domain.ShareInput) ([]domain.ShareInput, error) {
	if len(shares) == 0 {
		return nil, domain.ErrInvalidShare
	}

	seen := make(map[string]struct{}, len(shares))
	normalized := make([]domain.ShareInput, 0, len(shares))
	investorSum := 0
	operators := 0
	for _, share := range shares {
		account := strings.TrimSpace(share.AccountID)
		if account == "" {
			return nil, domain.ErrInvalidAccount
		}
		if _, dup := seen[account]; dup {
			return nil, domain.ErrDuplicateShare
		}
		seen[account] = struct{}{}

		role := domain.Role(strings.ToUpper(strings.TrimSpace(string(share.Role))))
		switch role {
		case domain.RoleInvestor:
			if share.ShareBps <= 0 || share.ShareBps > 10000 {
				return nil, domain.ErrInvalidShare
			}
			investorSum += share.ShareBps
		case domain.RoleOperator:
			// Operators are paid through the operator fee, not a revenue share.
			if share.ShareBps != 0 {
				return nil, domain.ErrInvalidShare
			}
			operators++
			if operators > 1 {
				return nil, domain.ErrTooManyOperator
			}
		default:
			return nil, domain.ErrInvalidRole
		}

		normalized = append(normalized, domain.ShareInput{
			AccountID: account,
			Role:      role,
			ShareBps:  share.ShareBps,
		})
	}

	if investorSum != 10000 {
		return nil, domain.ErrShareMismatch
	}
	return normalized, nil
}
