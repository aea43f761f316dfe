package config

import (
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// OAuthProviderConfig defines the raw configuration for an OAuth provider.
type OAuthProviderConfig struct {
	Name         string
	Type         string
	Enabled      bool
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	APIURL       string
	Scopes       []string
}

// OAuthProviderRegistry captures parsed providers and activation state.
type OAuthProviderRegistry struct {
	All    map[string]OAuthProviderConfig
	Active map[string]OAuthProviderConfig
}

const (
	envPrefixGitHub = "AUTH_GITHUB_"
	envPrefixGoogle = "AUTH_GOOGLE_"
	envPrefixApple  = "AUTH_APPLE_"
)

type providerEnvSpec struct {
	providerType string
	prefix       string
	displayName  string
}

var providerSpecs = []providerEnvSpec{
	{providerType: "github", prefix: envPrefixGitHub, displayName: "GitHub"},
	{providerType: "google", prefix: envPrefixGoogle, displayName: "Google"},
	{providerType: "apple", prefix: envPrefixApple, displayName: "Apple"},
}

// ParseOAuthProvidersFromEnv reads OAuth provider configuration from
// AUTH_<PROVIDER>_* environment variables.
func ParseOAuthProvidersFromEnv() map[string]OAuthProviderConfig {
	env := os.Environ()
	configs := make(map[string]OAuthProviderConfig, len(providerSpecs))
	for _, spec := range providerSpecs {
		if !hasEnvPrefix(env, spec.prefix) {
			continue
		}
		cfg := parseProviderConfig(spec.providerType, spec.prefix, spec.displayName)
		configs[cfg.Type] = cfg
	}
	return configs
}

// BuildOAuthProviderRegistry builds a registry from parsed provider configs.
func BuildOAuthProviderRegistry(cfgs map[string]OAuthProviderConfig) OAuthProviderRegistry {
	registry := OAuthProviderRegistry{
		All:    make(map[string]OAuthProviderConfig, len(cfgs)),
		Active: make(map[string]OAuthProviderConfig),
	}

	for key, cfg := range cfgs {
		if cfg.Type == "" {
			cfg.Type = key
		}
		cfg.Type = strings.ToLower(strings.TrimSpace(cfg.Type))
		if cfg.Name == "" {
			cfg.Name = cfg.Type
		}
		registry.All[cfg.Type] = cfg
	}

	keys := make([]string, 0, len(registry.All))
	for key := range registry.All {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		cfg := registry.All[key]
		if !cfg.Enabled {
			zap.L().Info("oauth provider disabled", zap.String("provider", cfg.Type))
			continue
		}
		registry.Active[cfg.Type] = cfg
		zap.L().Info("oauth provider active", zap.String("provider", cfg.Type))
	}

	return registry
}

func parseProviderConfig(providerType string, prefix string, defaultName string) OAuthProviderConfig {
	name := strings.TrimSpace(os.Getenv(prefix + "NAME"))
	if name == "" {
		name = defaultName
	}
	return OAuthProviderConfig{
		Name:         name,
		Type:         providerType,
		Enabled:      getenvBool(prefix+"ENABLED", false),
		ClientID:     strings.TrimSpace(os.Getenv(prefix + "CLIENT_ID")),
		ClientSecret: strings.TrimSpace(os.Getenv(prefix + "CLIENT_SECRET")),
		AuthURL:      strings.TrimSpace(os.Getenv(prefix + "AUTH_URL")),
		TokenURL:     strings.TrimSpace(os.Getenv(prefix + "TOKEN_URL")),
		APIURL:       strings.TrimSpace(os.Getenv(prefix + "API_URL")),
		Scopes:       parseScopes(os.Getenv(prefix + "SCOPES")),
	}
}

func parseScopes(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(parts) == 0 {
		return nil
	}
	return parts
}

func hasEnvPrefix(env []string, prefix string) bool {
	for _, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			return true
		}
	}
	return false
}
