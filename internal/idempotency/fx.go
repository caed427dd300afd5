package idempotency

import (
	"github.com/aquastake/wellflow/internal/idempotency/service"
	"go.uber.org/fx"
)

var Module = fx.Module("idempotency.guard",
	fx.Provide(service.NewGuard),
)
