// Package config assembles the service configuration once at startup.
// Values come from environment variables (bound through viper) with
// command-line flags taking precedence; nothing re-reads the process
// environment after New returns.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Environment variable names consumed by the service. The AZURE_* names match
// what the hosting platform injects for a configured managed identity.
const (
	envStorageAccount = "AZURE_STORAGE_ACCOUNT_NAME"
	envContainer      = "AZURE_STORAGE_CONTAINER"
	envClientID       = "AZURE_CLIENT_ID"
	envAllowedOrigins = "ALLOWED_ORIGINS"
	envPort           = "PORT"
	envMaxTokenMins   = "MAX_TOKEN_MINUTES"
	envStrictStartup  = "STRICT_STARTUP"
)

// Defaults applied when neither flag nor environment supplies a value.
const (
	DefaultContainer       = "upload"
	DefaultPort            = 8080
	DefaultMaxTokenMinutes = 60
	DefaultEndpointSuffix  = "blob.core.windows.net"
)

// Config is the single configuration struct passed to component
// constructors. It is assembled once and never mutated afterwards.
type Config struct {
	// AccountName is the target storage account. Required.
	AccountName string

	// Container is the default container for tokens and listings.
	Container string

	// ClientID optionally selects a user-assigned managed identity. Empty
	// means use the system-assigned identity or a local developer session.
	ClientID string

	// EndpointSuffix forms the blob endpoint host together with AccountName.
	EndpointSuffix string

	// AllowedOrigins is the CORS allow-list for the browser client.
	AllowedOrigins []string

	// Port is the HTTP listen port.
	Port int

	// MaxTokenMinutes caps caller-supplied token durations.
	MaxTokenMinutes int

	// StrictStartup makes a failed identity self-check fatal.
	StrictStartup bool
}

// New builds a Config from the environment. Flag values already set on the
// returned struct by the caller take precedence; pass the zero value to use
// environment and defaults only.
func New() (*Config, error) {
	v := viper.New()
	for _, name := range []string{
		envStorageAccount, envContainer, envClientID,
		envAllowedOrigins, envPort, envMaxTokenMins, envStrictStartup,
	} {
		if err := v.BindEnv(name); err != nil {
			return nil, fmt.Errorf("config: failed to bind %s: %w", name, err)
		}
	}

	v.SetDefault(envContainer, DefaultContainer)
	v.SetDefault(envPort, DefaultPort)
	v.SetDefault(envMaxTokenMins, DefaultMaxTokenMinutes)

	cfg := &Config{
		AccountName:     v.GetString(envStorageAccount),
		Container:       v.GetString(envContainer),
		ClientID:        v.GetString(envClientID),
		EndpointSuffix:  DefaultEndpointSuffix,
		AllowedOrigins:  splitOrigins(v.GetString(envAllowedOrigins)),
		Port:            v.GetInt(envPort),
		MaxTokenMinutes: v.GetInt(envMaxTokenMins),
		StrictStartup:   v.GetBool(envStrictStartup),
	}
	return cfg, nil
}

// Validate reports missing required deployment configuration. This runs at
// startup so that misconfiguration is observed at boot, not on a user-facing
// request.
func (c *Config) Validate() error {
	if c.AccountName == "" {
		return fmt.Errorf("config: %s is required but not set", envStorageAccount)
	}
	if c.MaxTokenMinutes <= 0 {
		return fmt.Errorf("config: token duration ceiling must be positive, got %d", c.MaxTokenMinutes)
	}
	return nil
}

// BlobEndpoint returns the account's blob service endpoint URL.
func (c *Config) BlobEndpoint() string {
	return fmt.Sprintf("https://%s.%s", c.AccountName, c.EndpointSuffix)
}

func splitOrigins(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
