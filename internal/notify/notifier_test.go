package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
	"github.com/amsorrytola/HedgeCraft/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSender records deliveries and can be told to fail.
type fakeSender struct {
	mu     sync.Mutex
	name   string
	err    error
	titles []string
	bodies []string
}

func (f *fakeSender) Send(_ context.Context, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.titles = append(f.titles, title)
	f.bodies = append(f.bodies, message)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) deliveries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.titles...)
}

func TestNotifyFiltersEvents(t *testing.T) {
	ctx := context.Background()
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{"position.opened"}, discardLogger())

	require.NoError(t, n.Notify(ctx, "position.closed", "Position closed", "x"))
	assert.Empty(t, s.deliveries())

	require.NoError(t, n.Notify(ctx, "position.opened", "Position opened", "x"))
	assert.Equal(t, []string{"Position opened"}, s.deliveries())
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	ctx := context.Background()
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, discardLogger())

	require.NoError(t, n.Notify(ctx, "anything", "t", "m"))
	assert.Len(t, s.deliveries(), 1)
}

func TestDispatchCollectsErrors(t *testing.T) {
	ctx := context.Background()
	good := &fakeSender{name: "good"}
	bad := &fakeSender{name: "bad", err: errors.New("boom")}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.NotifyAll(ctx, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.Contains(t, err.Error(), "bad: boom")
	// The healthy sender still received the message.
	assert.Len(t, good.deliveries(), 1)
}

func TestFormatEvent(t *testing.T) {
	title, message := formatEvent(domain.Event{
		Type:       domain.EventHedgeOpened,
		PositionID: "pos-1",
		Owner:      "0x1111111111111111111111111111111111111111",
		Fields: map[string]string{
			"principal":     "1000000000000000000000",
			"leverage":      "1250000000000000000",
			"shorted_asset": "0x2222222222222222222222222222222222222222",
		},
	})

	assert.Equal(t, "Hedge opened", title)
	assert.Contains(t, message, "position: pos-1")
	assert.Contains(t, message, "owner: 0x1111…1111")
	assert.Contains(t, message, "principal: 1000")
	assert.Contains(t, message, "leverage: 1.25")
	assert.Contains(t, message, "shorted_asset: 0x2222…2222")
}

func TestFormatEventAmountFields(t *testing.T) {
	_, message := formatEvent(domain.Event{
		Type:       domain.EventFeesCollected,
		PositionID: "pos-1",
		Owner:      "0x1111111111111111111111111111111111111111",
		Fields: map[string]string{
			"fees0":     "1250000000000000000",
			"fees1":     "9062500000000000000000",
			"principal": "not-a-number",
		},
	})

	assert.Contains(t, message, "fees0: 1.25")
	assert.Contains(t, message, "fees1: 9062.5")
	// Malformed amounts render verbatim rather than being dropped.
	assert.Contains(t, message, "principal: not-a-number")
}

func TestTelegramSenderSend(t *testing.T) {
	var got struct {
		ChatID    string `json:"chat_id"`
		Text      string `json:"text"`
		ParseMode string `json:"parse_mode"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL

	require.NoError(t, s.Send(context.Background(), "Position opened", "position: p1"))
	assert.Equal(t, "42", got.ChatID)
	assert.Equal(t, "*Position opened*\nposition: p1", got.Text)
	assert.Equal(t, "Markdown", got.ParseMode)
}

func TestTelegramSenderSendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"ok":false}`, http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL

	err := s.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 403")
}

func TestDiscordSenderSend(t *testing.T) {
	var got struct {
		Embeds []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "Hedge closed", "position: p1"))
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Hedge closed", got.Embeds[0].Title)
	assert.Equal(t, "position: p1", got.Embeds[0].Description)
}

func TestWatcherForwardsEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := memory.NewSignalBus()
	sender := &fakeSender{name: "fake"}
	w := NewWatcher(bus, NewNotifier([]Sender{sender}, nil, discardLogger()), discardLogger())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	payload, err := json.Marshal(domain.Event{
		Type:       domain.EventPositionOpened,
		PositionID: "pos-1",
		Owner:      "0x1111111111111111111111111111111111111111",
		At:         time.Now().UTC(),
	})
	require.NoError(t, err)

	// Subscribe inside Run races with the publish; retry until delivered.
	require.Eventually(t, func() bool {
		if err := bus.Publish(ctx, domain.EventChannel, payload); err != nil {
			return false
		}
		return len(sender.deliveries()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "Position opened", sender.deliveries()[0])

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on context cancel")
	}
}
