package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/matrixnet/internal/crypto"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidateInServeMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.NeedsWallet())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := writeTOML(t, `
mode = "serve"
log_level = "debug"

[storage]
driver = "memory"

[matrix]
retry_backoff = "25ms"
replay_batch = 7

[server]
port = 9100
`)
	t.Setenv("MATRIXNET_SERVER_PORT", "9200")
	t.Setenv("MATRIXNET_NOTIFY_EVENTS", "payout_failed, instance_cycled ,")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 25*time.Millisecond, cfg.Matrix.RetryBackoff.Duration)
	assert.Equal(t, 7, cfg.Matrix.ReplayBatch)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, []string{"payout_failed", "instance_cycled"}, cfg.Notify.Events)
	// Untouched sections keep their defaults.
	assert.Equal(t, 5, cfg.Matrix.MaxClaimRetries)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeTOML(t, `
[matrix]
max_claim_retires = 3
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matrix.max_claim_retires")
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "settle"
	cfg.LogLevel = "loud"
	cfg.Storage.Driver = "sqlite"
	cfg.Matrix.MaxClaimRetries = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown log_level "loud"`,
		`unknown driver "sqlite"`,
		"max_claim_retries",
		"wallet: base_url is required",
		"wallet: api_key is required",
		"api_secret or encrypted_secret_path",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateMemoryDriverCannotArchive(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	cfg.Storage.Driver = "memory"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory driver cannot be archived")
}

func TestWalletSecretFromSealedFile(t *testing.T) {
	sealed, err := crypto.SealSecret("s3cr3t", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, os.WriteFile(path, sealed, 0o600))

	cfg := Defaults()
	cfg.Wallet.EncryptedSecretPath = path
	cfg.Wallet.SecretPassword = "pw"
	got, err := cfg.WalletSecret()
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", got)

	cfg.Wallet.APISecret = "inline"
	got, err = cfg.WalletSecret()
	require.NoError(t, err)
	assert.Equal(t, "inline", got)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg"
	cfg.Wallet.APISecret = "secret"
	cfg.Server.APIKeys = []string{"k1", "k2"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Wallet.APISecret)
	assert.Equal(t, []string{"***", "***"}, out.Server.APIKeys)
	assert.Empty(t, out.Redis.Password)

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "instance_cycled", cfg.Notify.Events[0])
	assert.Equal(t, "pg", cfg.Postgres.Password)
}
