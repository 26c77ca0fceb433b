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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	name string
	got  []Alert
	err  error
}

func (r *recordingSender) Send(_ context.Context, a Alert) error {
	r.got = append(r.got, a)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func TestNotifyFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventStreamDisconnected}, 0, testLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, Alert{Event: EventBatchDegraded, Title: "x"}))
	require.NoError(t, n.Notify(ctx, Alert{Event: EventStreamDisconnected, Title: "y"}))

	require.Len(t, s.got, 1)
	assert.Equal(t, "y", s.got[0].Title)
}

func TestNotifyCooldownIsPerEvent(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, time.Minute, testLogger())
	now := time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }
	ctx := context.Background()

	_ = n.Notify(ctx, Alert{Event: EventStreamDisconnected})
	_ = n.Notify(ctx, Alert{Event: EventStreamDisconnected})
	_ = n.Notify(ctx, Alert{Event: EventBatchDegraded})
	now = now.Add(time.Minute)
	_ = n.Notify(ctx, Alert{Event: EventStreamDisconnected})

	assert.Len(t, s.got, 3)
}

func TestNotifyJoinsSenderErrors(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("503")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, 0, testLogger())

	err := n.Notify(context.Background(), Alert{Event: EventBatchDegraded})
	assert.ErrorContains(t, err, "bad: 503")
	assert.Len(t, good.got, 1)
}

func TestNilNotifierIsDisabled(t *testing.T) {
	var n *Notifier
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), Alert{}))
}

func TestDiscordSenderPostsEmbed(t *testing.T) {
	var payload discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Alert{
		Event:  EventStreamDisconnected,
		Title:  "Dome stream disconnected",
		Fields: []Field{{Name: "wallets", Value: "2"}},
	})
	require.NoError(t, err)
	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, colorRed, payload.Embeds[0].Color)
	assert.Equal(t, "wallets", payload.Embeds[0].Fields[0].Name)
}

func TestTelegramSenderEscapesHTML(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), Alert{Title: "a<b", Message: "x & y"}))
	assert.Equal(t, "<b>a&lt;b</b>\nx &amp; y", body["text"])
	assert.Equal(t, "42", body["chat_id"])
}

func TestTelegramSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad chat", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewTelegramSender("T", "1")
	s.baseURL = srv.URL
	assert.ErrorContains(t, s.Send(context.Background(), Alert{Title: "t"}), "400")
}
