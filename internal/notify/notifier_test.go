package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name  string
	err   error
	calls int
}

func (s *fakeSender) Send(context.Context, string, string) error {
	s.calls++
	return s.err
}

func (s *fakeSender) Name() string { return s.name }

func TestNotifierFiltersByEvent(t *testing.T) {
	s := &fakeSender{name: "a"}
	n := NewNotifier([]Sender{s}, []string{"position_orphaned"}, slog.New(slog.DiscardHandler))

	require.NoError(t, n.Notify(context.Background(), "trade_executed", "t", "m"))
	assert.Zero(t, s.calls)

	require.NoError(t, n.Notify(context.Background(), "position_orphaned", "t", "m"))
	assert.Equal(t, 1, s.calls)
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	s := &fakeSender{name: "a"}
	n := NewNotifier([]Sender{s}, nil, slog.New(slog.DiscardHandler))

	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Equal(t, 1, s.calls)
}

func TestNotifierContinuesPastFailedSender(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("boom")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, slog.New(slog.DiscardHandler))

	err := n.Notify(context.Background(), "x", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, 1, good.calls, "remaining senders still receive the message")
}

func TestDiscordSenderPostsWebhook(t *testing.T) {
	var gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = buf
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	require.NoError(t, d.Send(context.Background(), "Alert", "details"))
	assert.Equal(t, "application/json", gotContentType)
	assert.Contains(t, string(gotBody), "**Alert**")
}

func TestDiscordSenderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	err := d.Send(context.Background(), "Alert", "details")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
