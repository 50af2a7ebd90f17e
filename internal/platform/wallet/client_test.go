package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/matrixnet/internal/crypto"
	"github.com/alanyoungcy/matrixnet/internal/domain"
)

func credit() domain.Credit {
	return domain.Credit{
		EntryID:   "entry-1",
		MemberID:  "A",
		Amount:    decimal.RequireFromString("15.00"),
		Currency:  "USD",
		Type:      domain.BonusCycle,
		Reference: "pos-1",
	}
}

func TestCreditSignsRequest(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "key", Secret: "secret"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, creditPath, r.URL.Path)
		assert.Equal(t, "entry-1", r.Header.Get(crypto.HeaderIdempotency))
		assert.Equal(t, "key", r.Header.Get(crypto.HeaderKey))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.NoError(t, auth.Verify(r.Method, r.URL.Path, string(body),
			r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature),
			time.Now(), time.Minute))

		var got domain.Credit
		require.NoError(t, json.Unmarshal(body, &got))
		assert.True(t, got.Amount.Equal(decimal.NewFromInt(15)))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/"}, auth)
	require.NoError(t, c.Credit(context.Background(), credit()))
}

func TestCreditStatusMapping(t *testing.T) {
	tests := []struct {
		status   int
		ok       bool
		rejected bool
	}{
		{http.StatusOK, true, false},
		{http.StatusConflict, true, false},
		{http.StatusUnprocessableEntity, false, true},
		{http.StatusBadRequest, false, true},
		{http.StatusTooManyRequests, false, false},
		{http.StatusBadGateway, false, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := New(Config{BaseURL: srv.URL}, nil).Credit(context.Background(), credit())
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.rejected, errors.Is(err, domain.ErrPayoutRejected))
		})
	}
}

func TestCreditRateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, RequestsPerSec: 0.001, Burst: 1}, nil)
	require.NoError(t, c.Credit(context.Background(), credit()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, c.Credit(ctx, credit()))
	assert.Equal(t, int32(1), calls.Load())
}
