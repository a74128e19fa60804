package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
	"github.com/amsorrytola/HedgeCraft/internal/liquidity"
)

// Watcher consumes position events from the signal bus and forwards them to
// a Notifier. It carries no state of its own; restarting it mid-stream only
// skips events published while it was down (the durable stream keeps those
// for replay tooling).
type Watcher struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewWatcher wires the bus to the notifier.
func NewWatcher(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Watcher {
	return &Watcher{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_watcher")),
	}
}

// Run subscribes to the position event channel and forwards each event until
// ctx is cancelled. Malformed payloads and delivery failures are logged and
// skipped; the watch loop itself only stops with the context.
func (w *Watcher) Run(ctx context.Context) error {
	ch, err := w.bus.Subscribe(ctx, domain.EventChannel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", domain.EventChannel, err)
	}
	w.logger.Info("notify watcher started")
	defer w.logger.Info("notify watcher stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				// The subscription closes when ctx ends, and that close can
				// win the race against the ctx.Done branch. Report the
				// cancellation either way; nil is reserved for a bus that
				// shut down on its own.
				return ctx.Err()
			}
			w.handle(ctx, payload)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, payload []byte) {
	var ev domain.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		w.logger.Warn("malformed event payload",
			slog.String("error", err.Error()),
			slog.String("payload", string(payload)),
		)
		return
	}

	title, message := formatEvent(ev)
	if err := w.notifier.Notify(ctx, string(ev.Type), title, message); err != nil {
		w.logger.Error("notification delivery failed",
			slog.String("event", string(ev.Type)),
			slog.String("position_id", ev.PositionID),
			slog.String("error", err.Error()),
		)
	}
}

// eventTitles maps event types to alert titles. Unknown types fall back to
// the raw type string so new events are never silently dropped.
var eventTitles = map[domain.EventType]string{
	domain.EventPositionOpened:          "Position opened",
	domain.EventPositionClosed:          "Position closed",
	domain.EventPositionPartiallyClosed: "Position partially closed",
	domain.EventFeesCollected:           "Fees collected",
	domain.EventHedgeOpened:             "Hedge opened",
	domain.EventHedgeClosed:             "Hedge closed",
}

// wadFields names the event fields carrying 18-decimal fixed-point amounts.
// Everything else (addresses, ids, flags) renders as-is.
var wadFields = map[string]bool{
	"amount0":         true,
	"amount1":         true,
	"used0":           true,
	"used1":           true,
	"refund0":         true,
	"refund1":         true,
	"liquidity":       true,
	"hedge_value":     true,
	"reference_price": true,
	"fees0":           true,
	"fees1":           true,
	"principal":       true,
	"loan":            true,
	"collateral":      true,
	"debt":            true,
	"leverage":        true,
}

// formatEvent renders an event as an alert title and body. Field lines are
// sorted by key so two deliveries of the same event read identically.
func formatEvent(ev domain.Event) (title, message string) {
	title, ok := eventTitles[ev.Type]
	if !ok {
		title = string(ev.Type)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "position: %s\nowner: %s", ev.PositionID, domain.ShortAddr(ev.Owner))

	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := ev.Fields[k]
		if wadFields[k] {
			// Non-numeric values pass through unchanged.
			if n, ok := new(big.Int).SetString(v, 10); ok {
				v = liquidity.FormatWad(n)
			}
		} else {
			v = domain.ShortAddr(v)
		}
		fmt.Fprintf(&b, "\n%s: %s", k, v)
	}
	return title, b.String()
}
