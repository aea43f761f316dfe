package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DeliveryConfig holds runtime-tunable settings for outbound challenge and
// invite delivery. It can be overridden by a delivery.yml file and is
// hot-reloaded without a restart.
type DeliveryConfig struct {
	Channel       string `mapstructure:"channel"`
	From          string `mapstructure:"from"`
	InviteSubject string `mapstructure:"inviteSubject"`
}

func DefaultDeliveryConfig(cfg Config) DeliveryConfig {
	return DeliveryConfig{
		Channel:       cfg.ChallengeDelivery,
		From:          cfg.Email.SMTPFrom,
		InviteSubject: "You're invited to join a team",
	}
}

// DeliveryConfigHolder exposes the current delivery config atomically.
type DeliveryConfigHolder struct {
	current atomic.Value // holds DeliveryConfig
}

func NewDeliveryConfigHolder(cfg Config) (*DeliveryConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("delivery")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/reservio")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RESERVIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultDeliveryConfig(cfg)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		v.SetDefault("delivery.channel", defaults.Channel)
		v.SetDefault("delivery.from", defaults.From)
		v.SetDefault("delivery.inviteSubject", defaults.InviteSubject)
	}

	var parsed DeliveryConfig
	if err := v.UnmarshalKey("delivery", &parsed); err != nil {
		return nil, err
	}
	if err := validateDeliveryConfig(parsed); err != nil {
		return nil, err
	}

	holder := &DeliveryConfigHolder{}
	holder.current.Store(parsed)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated DeliveryConfig
		if err := v.UnmarshalKey("delivery", &updated); err != nil {
			log.Printf("[delivery-config] reload failed: %v", err)
			return
		}
		if err := validateDeliveryConfig(updated); err != nil {
			log.Printf("[delivery-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[delivery-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *DeliveryConfigHolder) Current() DeliveryConfig {
	return h.current.Load().(DeliveryConfig)
}

// NewStaticDeliveryHolder wraps a fixed config with no file watching. Tests
// and one-off tools use it instead of the file-backed holder.
func NewStaticDeliveryHolder(cfg DeliveryConfig) *DeliveryConfigHolder {
	holder := &DeliveryConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateDeliveryConfig(cfg DeliveryConfig) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Channel)) {
	case "", "log", "smtp":
		return nil
	default:
		return errors.New("delivery.channel must be log or smtp")
	}
}
