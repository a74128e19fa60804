package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists composite positions. The orchestrator is the sole
// writer.
type PositionStore interface {
	Create(ctx context.Context, pos CompositePosition) error
	Update(ctx context.Context, pos CompositePosition) error
	GetByID(ctx context.Context, id string) (CompositePosition, error)
	ListByOwner(ctx context.Context, owner common.Address, opts ListOpts) ([]CompositePosition, error)
	// ListClosedBefore returns positions closed strictly before the cutoff,
	// for archival.
	ListClosedBefore(ctx context.Context, before time.Time) ([]CompositePosition, error)
}

// HedgePositionStore persists hedge records. The hedge manager is the sole
// writer.
type HedgePositionStore interface {
	Create(ctx context.Context, pos HedgePosition) error
	Update(ctx context.Context, pos HedgePosition) error
	GetByID(ctx context.Context, id string) (HedgePosition, error)
	// Transition performs a compare-and-set state change: it succeeds only
	// when the stored state still equals from. A lost race surfaces as
	// ErrStateConflict, a missing record as ErrNotFound.
	Transition(ctx context.Context, id string, from, to HedgeState) error
	// Delete removes a record whose open attempt aborted before completing.
	Delete(ctx context.Context, id string) error
	ListClosedBefore(ctx context.Context, before time.Time) ([]HedgePosition, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
