package crypto

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersAtDeterministic(t *testing.T) {
	h := &HMACAuth{Key: "k1", Secret: "s3cret"}
	a := h.HeadersAt("POST", "/v1/credits", `{"amount":"10.00"}`, 1700000000)
	b := h.HeadersAt("POST", "/v1/credits", `{"amount":"10.00"}`, 1700000000)
	assert.Equal(t, a, b)
	assert.Equal(t, "k1", a[HeaderKey])
	assert.Equal(t, "1700000000", a[HeaderTimestamp])
	assert.NotEmpty(t, a[HeaderSignature])

	c := h.HeadersAt("POST", "/v1/credits", `{"amount":"11.00"}`, 1700000000)
	assert.NotEqual(t, a[HeaderSignature], c[HeaderSignature])
}

func TestVerify(t *testing.T) {
	h := &HMACAuth{Key: "k1", Secret: "s3cret"}
	now := time.Unix(1700000000, 0)
	hdr := h.HeadersAt("POST", "/v1/credits", "body", now.Unix())

	require.NoError(t, h.Verify("POST", "/v1/credits", "body", hdr[HeaderTimestamp], hdr[HeaderSignature], now, time.Minute))
	assert.Error(t, h.Verify("POST", "/v1/credits", "tampered", hdr[HeaderTimestamp], hdr[HeaderSignature], now, time.Minute))
	assert.Error(t, h.Verify("POST", "/v1/credits", "body", hdr[HeaderTimestamp], hdr[HeaderSignature], now.Add(time.Hour), time.Minute))
	assert.Error(t, h.Verify("POST", "/v1/credits", "body", "nope", hdr[HeaderSignature], now, time.Minute))
}

func TestHMACAuthStringRedacts(t *testing.T) {
	h := &HMACAuth{Key: "abcdefgh", Secret: "xy"}
	assert.Equal(t, "HMACAuth{key=abcd****, secret=****}", h.String())
}

func TestSealOpenSecret(t *testing.T) {
	blob, err := SealSecret("wallet-api-secret", "pw")
	require.NoError(t, err)

	got, err := OpenSecret(blob, "pw")
	require.NoError(t, err)
	assert.Equal(t, "wallet-api-secret", got)

	_, err = OpenSecret(blob, "wrong")
	assert.Error(t, err)

	_, err = SealSecret("x", "")
	assert.Error(t, err)
}

func TestLoadSecret(t *testing.T) {
	got, err := LoadSecret(SecretConfig{Raw: "raw"})
	require.NoError(t, err)
	assert.Equal(t, "raw", got)

	blob, err := SealSecret("sealed", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadSecret(SecretConfig{Path: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "sealed", got)

	_, err = LoadSecret(SecretConfig{})
	assert.Error(t, err)
}
