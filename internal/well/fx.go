package well

import (
	"github.com/aquastake/wellflow/internal/well/repository"
	"github.com/aquastake/wellflow/internal/well/service"
	"go.uber.org/fx"
)

var Module = fx.Module("well.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
