package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names carried by every signed wallet request.
const (
	HeaderKey         = "X-Matrix-Key"
	HeaderTimestamp   = "X-Matrix-Timestamp"
	HeaderSignature   = "X-Matrix-Signature"
	HeaderIdempotency = "Idempotency-Key"
)

// HMACAuth signs requests to the wallet API. The signature is
// base64(HMAC-SHA256(secret, timestamp+method+path+body)).
type HMACAuth struct {
	Key    string
	Secret string
}

// Headers returns the authentication headers for a request, stamped with
// the current time.
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is Headers with a caller-supplied Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderKey:       h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: hmacSHA256Base64([]byte(h.Secret), ts+method+path+body),
	}
}

// Verify checks a signature produced by HeadersAt in constant time and
// rejects timestamps further than skew from now.
func (h *HMACAuth) Verify(method, path, body, ts, signature string, now time.Time, skew time.Duration) error {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto: bad timestamp %q: %w", ts, err)
	}
	if d := now.Sub(time.Unix(unix, 0)); d > skew || d < -skew {
		return fmt.Errorf("crypto: timestamp outside %s window", skew)
	}
	want := hmacSHA256Base64([]byte(h.Secret), ts+method+path+body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return fmt.Errorf("crypto: signature mismatch")
	}
	return nil
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
