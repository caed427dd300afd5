package main

import (
	"github.com/aquastake/wellflow/internal/clock"
	"github.com/aquastake/wellflow/internal/config"
	"github.com/aquastake/wellflow/internal/idempotency"
	"github.com/aquastake/wellflow/internal/ledger"
	"github.com/aquastake/wellflow/internal/lock"
	"github.com/aquastake/wellflow/internal/membership"
	"github.com/aquastake/wellflow/internal/migration"
	"github.com/aquastake/wellflow/internal/observability"
	"github.com/aquastake/wellflow/internal/reconcile"
	"github.com/aquastake/wellflow/internal/server"
	"github.com/aquastake/wellflow/internal/settlement"
	"github.com/aquastake/wellflow/internal/well"
	"github.com/aquastake/wellflow/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		lock.Module,
		migration.Module,

		well.Module,
		membership.Module,
		idempotency.Module,
		ledger.Module,
		settlement.Module,
		reconcile.Module,

		server.Module,
	)

	app.Run()
}

func registerSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
