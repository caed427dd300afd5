package membership

import (
	"github.com/aquastake/wellflow/internal/membership/repository"
	"github.com/aquastake/wellflow/internal/membership/service"
	"go.uber.org/fx"
)

var Module = fx.Module("membership.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
