package server

import (
	"context"
	"net/http"
	"time"

	"github.com/aquastake/wellflow/internal/config"
	membershipdomain "github.com/aquastake/wellflow/internal/membership/domain"
	"github.com/aquastake/wellflow/internal/observability"
	obslogger "github.com/aquastake/wellflow/internal/observability/logger"
	settlementdomain "github.com/aquastake/wellflow/internal/settlement/domain"
	welldomain "github.com/aquastake/wellflow/internal/well/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	wellSvc       welldomain.Service
	membershipSvc membershipdomain.Service
	settlementSvc settlementdomain.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	WellSvc       welldomain.Service
	MembershipSvc membershipdomain.Service
	SettlementSvc settlementdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		wellSvc:       p.WellSvc,
		membershipSvc: p.MembershipSvc,
		settlementSvc: p.SettlementSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.POST("/wells", s.CreateWell)
	api.GET("/wells/:id", s.GetWell)
	api.GET("/wells/:id/memberships", s.ListMemberships)
	api.PUT("/wells/:id/memberships", s.ReplaceMemberships)

	api.POST("/settlements", s.RequestSettlement)
	api.GET("/settlements", s.ListSettlements)
	api.GET("/settlements/:id", s.GetSettlement)
	api.POST("/settlements/:id/approve", s.ApproveSettlement)
	api.POST("/settlements/:id/execute", s.ExecuteSettlement)
	api.POST("/settlements/:id/mint", s.MintSettlement)
	api.POST("/settlements/:id/reject", s.RejectSettlement)
	api.POST("/settlements/:id/cancel", s.CancelSettlement)
}
