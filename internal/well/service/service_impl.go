package service

import (
	"context"
	"strings"

	"github.com/aquastake/wellflow/internal/clock"
	"github.com/aquastake/wellflow/internal/config"
	"github.com/aquastake/wellflow/internal/well/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	cfg   config.Config
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("well.service"),
		genID: p.GenID,
		clock: p.Clock,
		cfg:   p.Cfg,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateWellRequest) (domain.Well, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Well{}, domain.ErrInvalidName
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return domain.Well{}, domain.ErrInvalidCurrency
	}

	platformBps := s.cfg.DefaultPlatformFeeBps
	if req.PlatformFeeBps != nil {
		platformBps = *req.PlatformFeeBps
	}
	operatorBps := s.cfg.DefaultOperatorFeeBps
	if req.OperatorFeeBps != nil {
		operatorBps = *req.OperatorFeeBps
	}
	if platformBps < 0 || platformBps > 10000 || operatorBps < 0 || operatorBps > 10000 {
		return domain.Well{}, domain.ErrInvalidFeeConfig
	}
	if platformBps+operatorBps > 10000 {
		return domain.Well{}, domain.ErrInvalidFeeConfig
	}

	now := s.clock.Now()
	well := domain.Well{
		ID:             s.genID.Generate(),
		Code:           slug.Make(name),
		Name:           name,
		Location:       strings.TrimSpace(req.Location),
		Currency:       currency,
		PlatformFeeBps: platformBps,
		OperatorFeeBps: operatorBps,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Insert(ctx, s.db, &well); err != nil {
		return domain.Well{}, err
	}

	s.log.Info("well created",
		zap.String("well_id", well.ID.String()),
		zap.String("code", well.Code),
	)
	return well, nil
}

func (s *Service) GetByID(ctx context.Context, req domain.GetWellRequest) (domain.Well, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(req.ID))
	if err != nil {
		return domain.Well{}, domain.ErrInvalidID
	}

	well, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Well{}, err
	}
	if well == nil {
		return domain.Well{}, domain.ErrNotFound
	}
	return *well, nil
}
