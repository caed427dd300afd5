package migration

import (
	"strings"

	idempotencydomain "github.com/aquastake/wellflow/internal/idempotency/domain"
	membershipdomain "github.com/aquastake/wellflow/internal/membership/domain"
	settlementdomain "github.com/aquastake/wellflow/internal/settlement/domain"
	welldomain "github.com/aquastake/wellflow/internal/well/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		if strings.EqualFold(conn.Dialector.Name(), "postgres") {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// sqlite and mysql deployments are dev/test setups: derive the
		// schema from the models instead of the postgres migration set.
		return conn.AutoMigrate(
			&welldomain.Well{},
			&membershipdomain.Membership{},
			&settlementdomain.Settlement{},
			&settlementdomain.Payout{},
			&idempotencydomain.Record{},
		)
	}),
)
