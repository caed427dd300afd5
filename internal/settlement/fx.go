package settlement

import (
	"github.com/aquastake/wellflow/internal/settlement/repository"
	"github.com/aquastake/wellflow/internal/settlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("settlement.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
