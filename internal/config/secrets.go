package config

import (
	"context"
	"fmt"
	"os"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// SecretProvider resolves API keys and credentials.
// Vault is preferred when reachable; environment variables are the fallback
// so development machines work without a Vault deployment.
type SecretProvider struct {
	client *vault.Client
	mount  string
}

// SecretProviderConfig configures Vault access
type SecretProviderConfig struct {
	Address string // VAULT_ADDR
	Token   string // VAULT_TOKEN
	Mount   string // KV v2 mount, default "secret"
}

// NewSecretProvider creates a provider. A nil client (no address configured)
// is valid and falls back to the environment for every lookup.
func NewSecretProvider(cfg SecretProviderConfig) (*SecretProvider, error) {
	if cfg.Mount == "" {
		cfg.Mount = "secret"
	}

	if cfg.Address == "" {
		log.Info().Msg("Vault address not configured, secrets resolved from environment")
		return &SecretProvider{mount: cfg.Mount}, nil
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address
	vaultCfg.Timeout = 5 * time.Second

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	log.Info().Str("address", cfg.Address).Str("mount", cfg.Mount).Msg("Vault secret provider initialized")

	return &SecretProvider{client: client, mount: cfg.Mount}, nil
}

// Get resolves a secret by vault path+key, falling back to envVar.
// Missing secrets return an empty string, not an error; callers decide
// whether the credential is mandatory.
func (p *SecretProvider) Get(ctx context.Context, path, key, envVar string) string {
	if p != nil && p.client != nil {
		secret, err := p.client.KVv2(p.mount).Get(ctx, path)
		if err == nil && secret != nil {
			if raw, ok := secret.Data[key]; ok {
				if val, ok := raw.(string); ok && val != "" {
					return val
				}
			}
		}
		if err != nil {
			log.Debug().
				Err(err).
				Str("path", path).
				Str("key", key).
				Msg("Vault lookup failed, falling back to environment")
		}
	}

	return os.Getenv(envVar)
}

// ResolveExchangeKeys fills exchange credentials from Vault or environment
func (p *SecretProvider) ResolveExchangeKeys(ctx context.Context, cfg *ExchangeConfig) {
	if cfg.APIKey == "" {
		cfg.APIKey = p.Get(ctx, "tradepulse/exchange", "api_key", "TRADEPULSE_EXCHANGE_API_KEY")
	}
	if cfg.SecretKey == "" {
		cfg.SecretKey = p.Get(ctx, "tradepulse/exchange", "secret_key", "TRADEPULSE_EXCHANGE_SECRET_KEY")
	}
}

// ResolveTelegramToken fills the telegram bot token from Vault or environment
func (p *SecretProvider) ResolveTelegramToken(ctx context.Context, cfg *AlertsConfig) {
	if cfg.TelegramToken == "" {
		cfg.TelegramToken = p.Get(ctx, "tradepulse/alerts", "telegram_token", "TRADEPULSE_TELEGRAM_TOKEN")
	}
}
