package pending

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/reservio/internal/clock"
	"github.com/smallbiznis/reservio/internal/config"
)

var Module = fx.Module("pending",
	fx.Provide(
		func(cfg config.Config, clk clock.Clock) (*Codec, error) {
			return NewCodec(cfg.PendingSignupSecret, clk)
		},
		NewCookieManager,
	),
)
