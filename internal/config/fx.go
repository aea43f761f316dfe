package config

import "go.uber.org/fx"

var Module = fx.Module("config",
	fx.Provide(
		Load,
		NewDeliveryConfigHolder,
		func() OAuthProviderRegistry {
			return BuildOAuthProviderRegistry(ParseOAuthProvidersFromEnv())
		},
	),
)
