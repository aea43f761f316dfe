package otp

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/reservio/internal/config"
)

var Module = fx.Module("otp",
	fx.Provide(
		NewLogDelivery,
		NewEmailDelivery,
		NewDelivery,
		NewManager,
	),
)

func NewDelivery(holder *config.DeliveryConfigHolder, logImpl *LogDelivery, mailImpl *EmailDelivery) Delivery {
	return NewSwitchingDelivery(holder, logImpl, mailImpl)
}
