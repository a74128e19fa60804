package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

// streamCap bounds in-memory streams the way the Redis adapter trims with
// MAXLEN.
const streamCap = 10000

// SignalBus is a process-local domain.SignalBus for tests and the demo run
// mode. Publish fans out to exact-channel subscribers; pattern subscriptions
// are a Redis capability nothing in-process needs.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	nextID  int64
}

// NewSignalBus returns an empty bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
	}
}

// Publish delivers the payload to every subscriber of the channel. Slow
// subscribers whose buffers are full miss the message, matching pub/sub
// fire-and-forget semantics.
func (b *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: publish %s: %w", channel, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel receiving every payload published to the
// channel from now on. The subscription ends, and the channel closes, when
// ctx is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memory: subscribe %s: %w", channel, err)
	}
	ch := make(chan []byte, 128)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		// Close under the lock so Publish never sends on a closed channel.
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// StreamAppend appends the payload to the named stream, trimming the oldest
// entries past streamCap.
func (b *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: stream append %s: %w", stream, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	entries := append(b.streams[stream], domain.StreamMessage{
		ID:      fmt.Sprintf("%d-0", b.nextID),
		Payload: payload,
	})
	if len(entries) > streamCap {
		entries = entries[len(entries)-streamCap:]
	}
	b.streams[stream] = entries
	return nil
}

// StreamRead returns up to count entries appended after lastID. An empty or
// "0" lastID reads from the start of the stream.
func (b *SignalBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memory: stream read %s: %w", stream, err)
	}
	last := parseStreamID(lastID)

	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, msg := range b.streams[stream] {
		if parseStreamID(msg.ID) <= last {
			continue
		}
		out = append(out, msg)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

// parseStreamID extracts the numeric prefix of a "<n>-<seq>" stream id.
func parseStreamID(id string) int64 {
	if id == "" {
		return 0
	}
	if i := strings.IndexByte(id, '-'); i >= 0 {
		id = id[:i]
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
