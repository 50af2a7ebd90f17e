package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/matrixnet/internal/crypto"
	"github.com/alanyoungcy/matrixnet/internal/domain"
)

func TestEncryptSecretSealsStdin(t *testing.T) {
	t.Setenv(passwordEnv, "hunter2")
	out := filepath.Join(t.TempDir(), "secret.json")

	root := newRootCmd()
	var stdout bytes.Buffer
	root.SetOut(&stdout)
	root.SetIn(strings.NewReader("wallet-api-secret\n"))
	root.SetArgs([]string{"encrypt-secret", "--out", out})
	require.NoError(t, root.Execute())
	assert.Contains(t, stdout.String(), out)

	blob, err := os.ReadFile(out)
	require.NoError(t, err)
	secret, err := crypto.OpenSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "wallet-api-secret", secret)
}

func TestEncryptSecretRequiresPassword(t *testing.T) {
	t.Setenv(passwordEnv, "")
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader("x\n"))
	root.SetArgs([]string{"encrypt-secret", "--out", filepath.Join(t.TempDir(), "s.json")})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), passwordEnv)
}

func TestBoardFlags(t *testing.T) {
	f := boardFlags{
		name: "Gold", width: 3, depth: 2, currency: "EUR",
		price: "250.50", referral: "10", matrix: "2.5", matching: "0", cycle: "20",
		matchingDepth: 1,
	}
	b, err := f.board()
	require.NoError(t, err)
	assert.Equal(t, "250.50", b.EntryPrice.StringFixed(2))
	assert.Equal(t, "2.5", b.Bonuses.Matrix.String())
	assert.True(t, b.Active)

	f.cycle = "twenty"
	_, err = f.board()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--cycle")
}

func TestBoardsCreateAgainstMemoryStore(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
mode = "serve"

[storage]
driver = "memory"

[redis]
addr = ""

[archive]
cron = ""
`), 0o600))

	root := newRootCmd()
	var stdout bytes.Buffer
	root.SetOut(&stdout)
	root.SetArgs([]string{
		"--config", cfgPath, "boards", "create",
		"--id", "starter", "--name", "Starter", "--price", "100", "--referral", "10",
	})
	require.NoError(t, root.Execute())
	out := stdout.String()
	assert.Contains(t, out, "starter")
	assert.Contains(t, out, "2x3")
	assert.Contains(t, out, "100.00 USD")
}

func TestPrintBlobs(t *testing.T) {
	var buf bytes.Buffer
	printBlobs(&buf, []domain.BlobInfo{
		{Path: "archive/ledger/2026-03.jsonl", Size: 512, LastModified: time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)},
		{Path: "archive/instances/2026-03.jsonl", Size: 64},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "2026-04-01 03:00")
	assert.True(t, strings.HasSuffix(lines[2], "-"))
}
