package idempotency

import (
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/reservio/internal/clock"
	"github.com/smallbiznis/reservio/internal/config"
)

var Module = fx.Module("idempotency",
	fx.Provide(NewStore),
)

func NewStore(cfg config.Config, clk clock.Clock, log *zap.Logger) Store {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		log.Warn("no redis configured, using in-process idempotency store")
		return NewMemoryStore(clk)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
	})
	return NewRedisStore(client)
}
