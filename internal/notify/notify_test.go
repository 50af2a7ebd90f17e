package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name string
	err  error
	sent []Notification
}

func (f *fakeSender) Send(_ context.Context, n Notification) error {
	f.sent = append(f.sent, n)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFilter(t *testing.T) {
	tests := []struct {
		events []string
		event  string
		want   bool
	}{
		{nil, "instance_cycled", true},
		{[]string{"instance_cycled"}, "instance_cycled", true},
		{[]string{"instance_cycled"}, "subtree_cycled", false},
		{[]string{"payout_*"}, "payout_failed", true},
		{[]string{"payout_*", " "}, "instance_cycled", false},
	}
	for _, tc := range tests {
		n := NewNotifier(nil, Options{Events: tc.events}, discard())
		assert.Equal(t, tc.want, n.Allows(tc.event), "%v / %s", tc.events, tc.event)
	}
}

func TestNotifierDispatchJoinsErrors(t *testing.T) {
	ok := &fakeSender{name: "ok"}
	bad := &fakeSender{name: "bad", err: errors.New("down")}
	n := NewNotifier([]Sender{bad, ok}, Options{Events: []string{"payout_failed"}}, discard())

	err := n.Notify(context.Background(), "payout_failed", "Payout rejected", "m1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	require.Len(t, ok.sent, 1)
	assert.Equal(t, "payout_failed", ok.sent[0].Event)

	require.NoError(t, n.Notify(context.Background(), "instance_cycled", "t", "m"))
	assert.Len(t, ok.sent, 1)

	_ = n.NotifyAll(context.Background(), "t", "m")
	assert.Len(t, ok.sent, 2)
}

func TestNotifierRateLimit(t *testing.T) {
	s := &fakeSender{name: "s"}
	n := NewNotifier([]Sender{s}, Options{PerMinute: 2}, discard())
	for i := 0; i < 5; i++ {
		require.NoError(t, n.Notify(context.Background(), "instance_cycled", "t", "m"))
	}
	assert.Len(t, s.sent, 2)
}

func TestDiscordSender(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL, "matrixnet")
	err := d.Send(context.Background(), Notification{Event: "payout_failed", Title: "Payout rejected", Message: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "matrixnet", got.Username)
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Payout rejected", got.Embeds[0].Title)
	assert.Equal(t, colorFailure, got.Embeds[0].Color)
	assert.Equal(t, "payout_failed", got.Embeds[0].Footer.Text)
}

func TestTelegramSender(t *testing.T) {
	var body map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42").WithAPIBase(srv.URL + "/")
	err := s.Send(context.Background(), Notification{Title: "Cycle <done>", Message: "a & b"})
	require.NoError(t, err)
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "HTML", body["parse_mode"])
	assert.Equal(t, "<b>Cycle &lt;done&gt;</b>\na &amp; b", body["text"])
}

func TestSenderReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL, "").Send(context.Background(), Notification{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}
