package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"coinbase-trader/internal/domain"
)

// Environment variable names for secrets and endpoints.
const (
	EnvAPIKeyName     = "COINBASE_API_KEY_NAME"
	EnvAPIPrivateKey  = "COINBASE_API_PRIVATE_KEY"
	EnvPostgresDSN    = "POSTGRES_DSN"
	EnvClickHouseDSN  = "CLICKHOUSE_DSN"
	EnvDiscordWebhook = "DISCORD_WEBHOOK_URL"
)

// Secrets are read from the environment, never from the policy file.
type Secrets struct {
	APIKeyName     string
	APIPrivateKey  string // PEM-encoded EC private key
	PostgresDSN    string
	ClickHouseDSN  string
	DiscordWebhook string
}

// LoadEnvFiles loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// SecretsFromEnv reads Secrets from the process environment.
func SecretsFromEnv() Secrets {
	return Secrets{
		APIKeyName:     os.Getenv(EnvAPIKeyName),
		APIPrivateKey:  os.Getenv(EnvAPIPrivateKey),
		PostgresDSN:    os.Getenv(EnvPostgresDSN),
		ClickHouseDSN:  os.Getenv(EnvClickHouseDSN),
		DiscordWebhook: os.Getenv(EnvDiscordWebhook),
	}
}

// Check verifies that the secrets required by cfg are present.
func (s Secrets) Check(cfg Config) error {
	var errs []error
	if !cfg.Exchange.ReadOnly || cfg.Mode == domain.ModeLive {
		if s.APIKeyName == "" || s.APIPrivateKey == "" {
			errs = append(errs, fmt.Errorf("%s and %s are required for order entry", EnvAPIKeyName, EnvAPIPrivateKey))
		}
	}
	if cfg.Storage.Backend == "postgres" && s.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("%s is required for storage.backend=postgres", EnvPostgresDSN))
	}
	if cfg.Storage.Audit == "clickhouse" && s.ClickHouseDSN == "" {
		errs = append(errs, fmt.Errorf("%s is required for storage.audit=clickhouse", EnvClickHouseDSN))
	}
	if cfg.Alert.DiscordEnabled && s.DiscordWebhook == "" {
		errs = append(errs, fmt.Errorf("%s is required when alert.discord_enabled is set", EnvDiscordWebhook))
	}
	return errors.Join(errs...)
}
