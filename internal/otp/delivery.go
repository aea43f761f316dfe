package otp

import (
	"context"

	"go.uber.org/zap"

	"github.com/smallbiznis/reservio/internal/config"
	"github.com/smallbiznis/reservio/internal/providers/email"
)

// Delivery sends a challenge code to the user.
type Delivery interface {
	Deliver(ctx context.Context, to, code string) error
}

// LogDelivery writes the code to the application log. It is the development
// default so the flow works without an SMTP server.
type LogDelivery struct {
	log *zap.Logger
}

func NewLogDelivery(log *zap.Logger) *LogDelivery {
	return &LogDelivery{log: log.Named("otp.delivery")}
}

func (d *LogDelivery) Deliver(ctx context.Context, to, code string) error {
	d.log.Info("challenge code",
		zap.String("to", to),
		zap.String("code", code),
	)
	return nil
}

// EmailDelivery sends the code through the configured email provider.
type EmailDelivery struct {
	provider email.Provider
	holder   *config.DeliveryConfigHolder
}

func NewEmailDelivery(provider email.Provider, holder *config.DeliveryConfigHolder) *EmailDelivery {
	return &EmailDelivery{provider: provider, holder: holder}
}

func (d *EmailDelivery) Deliver(ctx context.Context, to, code string) error {
	cfg := d.holder.Current()
	return d.provider.SendTemplate(ctx, []string{to}, "otp_code", map[string]any{
		"subject": "Your verification code",
		"code":    code,
		"from":    cfg.From,
	})
}

// SwitchingDelivery consults the hot-reloadable delivery config on every send
// so operators can flip between channels without a restart.
type SwitchingDelivery struct {
	holder   *config.DeliveryConfigHolder
	logImpl  *LogDelivery
	mailImpl *EmailDelivery
}

func NewSwitchingDelivery(holder *config.DeliveryConfigHolder, logImpl *LogDelivery, mailImpl *EmailDelivery) *SwitchingDelivery {
	return &SwitchingDelivery{holder: holder, logImpl: logImpl, mailImpl: mailImpl}
}

func (d *SwitchingDelivery) Deliver(ctx context.Context, to, code string) error {
	if d.holder.Current().Channel == "smtp" {
		return d.mailImpl.Deliver(ctx, to, code)
	}
	return d.logImpl.Deliver(ctx, to, code)
}
