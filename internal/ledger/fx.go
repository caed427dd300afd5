package ledger

import (
	"fmt"

	"github.com/aquastake/wellflow/internal/config"
	"github.com/aquastake/wellflow/internal/ledger/domain"
	"github.com/aquastake/wellflow/internal/ledger/memory"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ledger.gateway",
	fx.Provide(NewGateway),
)

// NewGateway selects the gateway implementation from configuration. The
// selection happens here, at wiring time, so business logic never branches
// on deployment mode.
func NewGateway(cfg config.Config, log *zap.Logger) (domain.Gateway, error) {
	switch cfg.LedgerMode {
	case config.LedgerModeEmbedded:
		return memory.New(log), nil
	default:
		return nil, fmt.Errorf("unsupported ledger mode %q", cfg.LedgerMode)
	}
}
