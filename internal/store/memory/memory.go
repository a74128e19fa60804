// Package memory implements the domain stores with mutex-guarded maps. The
// demo run mode and package tests use it in place of a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

// PositionStore is an in-memory domain.PositionStore.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]domain.CompositePosition
}

// NewPositionStore returns an empty store.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]domain.CompositePosition)}
}

func (s *PositionStore) Create(ctx context.Context, pos domain.CompositePosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.positions[pos.ID] = pos
	return nil
}

func (s *PositionStore) Update(ctx context.Context, pos domain.CompositePosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.ID]; !ok {
		return domain.ErrNotFound
	}
	s.positions[pos.ID] = pos
	return nil
}

func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.CompositePosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[id]
	if !ok {
		return domain.CompositePosition{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *PositionStore) ListByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.CompositePosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.CompositePosition
	for _, pos := range s.positions {
		if pos.Owner != owner {
			continue
		}
		if opts.Since != nil && pos.OpenedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && pos.OpenedAt.After(*opts.Until) {
			continue
		}
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return paginate(out, opts), nil
}

func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.CompositePosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.CompositePosition
	for _, pos := range s.positions {
		if pos.Status == domain.PositionStatusClosed && pos.ClosedAt != nil && pos.ClosedAt.Before(before) {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// HedgeStore is an in-memory domain.HedgePositionStore.
type HedgeStore struct {
	mu     sync.RWMutex
	hedges map[string]domain.HedgePosition
}

// NewHedgeStore returns an empty store.
func NewHedgeStore() *HedgeStore {
	return &HedgeStore{hedges: make(map[string]domain.HedgePosition)}
}

func (s *HedgeStore) Create(ctx context.Context, pos domain.HedgePosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hedges[pos.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.hedges[pos.ID] = pos
	return nil
}

func (s *HedgeStore) Update(ctx context.Context, pos domain.HedgePosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hedges[pos.ID]; !ok {
		return domain.ErrNotFound
	}
	s.hedges[pos.ID] = pos
	return nil
}

func (s *HedgeStore) GetByID(ctx context.Context, id string) (domain.HedgePosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.hedges[id]
	if !ok {
		return domain.HedgePosition{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *HedgeStore) Transition(ctx context.Context, id string, from, to domain.HedgeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.hedges[id]
	if !ok {
		return domain.ErrNotFound
	}
	if pos.State != from {
		return domain.ErrStateConflict
	}
	pos.State = to
	s.hedges[id] = pos
	return nil
}

func (s *HedgeStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hedges[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.hedges, id)
	return nil
}

func (s *HedgeStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.HedgePosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.HedgePosition
	for _, pos := range s.hedges {
		if pos.State == domain.HedgeStateClosed && pos.ClosedAt != nil && pos.ClosedAt.Before(before) {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// AuditStore is an in-memory domain.AuditStore.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	nextID  int64
}

// NewAuditStore returns an empty audit log.
func NewAuditStore() *AuditStore {
	return &AuditStore{nextID: 1}
}

func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        s.nextID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	s.nextID++
	return nil
}

func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return paginate(out, opts), nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// Compile-time interface checks.
var (
	_ domain.PositionStore      = (*PositionStore)(nil)
	_ domain.HedgePositionStore = (*HedgeStore)(nil)
	_ domain.AuditStore         = (*AuditStore)(nil)
)
