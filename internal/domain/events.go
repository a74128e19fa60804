package domain

import (
	"strings"
	"time"
)

// EventType identifies a position lifecycle event on the signal bus.
type EventType string

const (
	EventPositionOpened          EventType = "position.opened"
	EventPositionClosed          EventType = "position.closed"
	EventPositionPartiallyClosed EventType = "position.partially_closed"
	EventFeesCollected           EventType = "fees.collected"
	EventHedgeOpened             EventType = "hedge.opened"
	EventHedgeClosed             EventType = "hedge.closed"
)

// EventChannel is the pub/sub channel position events are published on.
// EventStream is the durable stream the same payloads are appended to.
const (
	EventChannel = "positions"
	EventStream  = "positions:stream"
)

// Event is the JSON envelope published on every position state change. WAD
// amounts travel as decimal strings so consumers outside Go do not lose
// precision. Fields carries the event-specific figures (assets, amounts,
// leverage) an observer needs to reconstruct position history without
// re-reading state.
type Event struct {
	Type       EventType         `json:"type"`
	PositionID string            `json:"position_id"`
	Owner      string            `json:"owner"`
	At         time.Time         `json:"at"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// ShortAddr compresses a 0x-address to its first and last four hex digits
// for display. Anything that is not a 42-character address comes back
// unchanged, so it is safe on arbitrary event field values.
func ShortAddr(addr string) string {
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
		return addr
	}
	return addr[:6] + "…" + addr[38:]
}
