package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/matrixnet/internal/domain"
	"github.com/alanyoungcy/matrixnet/internal/store/memory"
)

func readType(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHubRelaysBusEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := memory.NewBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "serve"})
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	status := readType(t, conn)
	assert.Equal(t, "hub_status", status["type"])

	// Narrow ledger events to member B.
	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":  "subscribe",
		"members": []string{"B"},
	}))

	// Give the hub time to subscribe and apply the filter.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			c.mu.RLock()
			n := len(c.members)
			c.mu.RUnlock()
			return n == 1
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	publish := func(recipient string) {
		payload, _ := json.Marshal(domain.Event{
			Type: "entries_posted",
			Data: []domain.LedgerEntry{{ID: recipient + "-1", RecipientID: recipient}},
		})
		_ = bus.Publish(ctx, domain.ChannelLedger, payload)
	}
	// The hub subscribes to the bus asynchronously, so keep publishing until
	// the first relayed event arrives.
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				publish("A")
				publish("B")
			}
		}
	}()

	got := readType(t, conn)
	assert.Equal(t, "entries_posted", got["type"])
	entries := got["data"].([]any)
	assert.Equal(t, "B", entries[0].(map[string]any)["recipient_id"])
}

func TestEventMembers(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []string
	}{
		{"placement", `{"type":"member_placed","data":{"position":{"occupant_id":"A"}}}`, []string{"A"}},
		{"cycle", `{"type":"instance_cycled","data":{"member_id":"R"}}`, []string{"R"}},
		{"entries", `{"type":"entries_posted","data":[{"recipient_id":"X"},{"recipient_id":"Y"}]}`, []string{"X", "Y"}},
		{"board", `{"type":"board_created","data":{"id":"b1"}}`, nil},
		{"garbage", `not json`, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := eventMembers([]byte(tc.data))
			assert.Len(t, got, len(tc.want))
			for _, m := range tc.want {
				assert.True(t, got[m], m)
			}
		})
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example"})
	r := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://app.example")
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(r))
	assert.True(t, originChecker(nil)(r))
}
