package config

import (
	"fmt"

	"github.com/alanyoungcy/matrixnet/internal/crypto"
)

// WalletSecret resolves the wallet API secret, decrypting the sealed file
// when no inline secret is configured.
func (c *Config) WalletSecret() (string, error) {
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		Raw:      c.Wallet.APISecret,
		Path:     c.Wallet.EncryptedSecretPath,
		Password: c.Wallet.SecretPassword,
	})
	if err != nil {
		return "", fmt.Errorf("config: wallet secret: %w", err)
	}
	return secret, nil
}

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Wallet.APIKey)
	redact(&out.Wallet.APISecret)
	redact(&out.Wallet.SecretPassword)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Server.APIKeys = make([]string, len(cfg.Server.APIKeys))
	for i := range out.Server.APIKeys {
		out.Server.APIKeys[i] = redacted
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
