package lock

import (
	"github.com/aquastake/wellflow/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("lock",
	fx.Provide(newClient),
	fx.Provide(NewLocker),
)

// newClient returns nil when redis is not configured; the locker degrades to
// nil and callers fall back to database row locking alone.
func newClient(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}
