package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

// HedgeStore implements domain.HedgePositionStore using PostgreSQL.
type HedgeStore struct {
	pool *pgxpool.Pool
}

// NewHedgeStore creates a new HedgeStore backed by the given connection pool.
func NewHedgeStore(pool *pgxpool.Pool) *HedgeStore {
	return &HedgeStore{pool: pool}
}

var _ domain.HedgePositionStore = (*HedgeStore)(nil)

const hedgeSelectCols = `id, owner, collateral_asset, shorted_asset,
	principal, leverage, loan_amount, collateral_supplied, debt_borrowed,
	state, opened_at, closed_at`

func scanHedge(row pgx.Row) (domain.HedgePosition, error) {
	var h domain.HedgePosition
	var owner, collateral, shorted string
	var principal, leverage, loan, supplied, debt string
	var state string

	err := row.Scan(
		&h.ID, &owner, &collateral, &shorted,
		&principal, &leverage, &loan, &supplied, &debt,
		&state, &h.OpenedAt, &h.ClosedAt,
	)
	if err != nil {
		return domain.HedgePosition{}, err
	}

	h.Owner = common.HexToAddress(owner)
	h.CollateralAsset = common.HexToAddress(collateral)
	h.ShortedAsset = common.HexToAddress(shorted)
	h.State = domain.HedgeState(state)

	if h.Principal, err = decodeBig(principal); err != nil {
		return domain.HedgePosition{}, err
	}
	if h.Leverage, err = decodeBig(leverage); err != nil {
		return domain.HedgePosition{}, err
	}
	if h.LoanAmount, err = decodeBig(loan); err != nil {
		return domain.HedgePosition{}, err
	}
	if h.CollateralSupplied, err = decodeBig(supplied); err != nil {
		return domain.HedgePosition{}, err
	}
	if h.DebtBorrowed, err = decodeBig(debt); err != nil {
		return domain.HedgePosition{}, err
	}
	return h, nil
}

func scanHedgeRows(rows pgx.Rows) ([]domain.HedgePosition, error) {
	var hedges []domain.HedgePosition
	for rows.Next() {
		h, err := scanHedge(rows)
		if err != nil {
			return nil, err
		}
		hedges = append(hedges, h)
	}
	return hedges, rows.Err()
}

// Create inserts a new hedge record.
func (s *HedgeStore) Create(ctx context.Context, h domain.HedgePosition) error {
	const query = `
		INSERT INTO hedge_positions (
			id, owner, collateral_asset, shorted_asset,
			principal, leverage, loan_amount, collateral_supplied, debt_borrowed,
			state, opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		h.ID, h.Owner.Hex(), h.CollateralAsset.Hex(), h.ShortedAsset.Hex(),
		encodeBig(h.Principal), encodeBig(h.Leverage), encodeBig(h.LoanAmount),
		encodeBig(h.CollateralSupplied), encodeBig(h.DebtBorrowed),
		string(h.State), h.OpenedAt, h.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create hedge %s: %w", h.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a hedge record, including its state.
// Use Transition when the caller must lose a concurrent state race instead of
// overwriting it.
func (s *HedgeStore) Update(ctx context.Context, h domain.HedgePosition) error {
	const query = `
		UPDATE hedge_positions SET
			collateral_supplied = $2,
			debt_borrowed       = $3,
			state               = $4,
			closed_at           = $5,
			updated_at          = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		h.ID,
		encodeBig(h.CollateralSupplied), encodeBig(h.DebtBorrowed),
		string(h.State), h.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update hedge %s: %w", h.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single hedge record by its ID.
func (s *HedgeStore) GetByID(ctx context.Context, id string) (domain.HedgePosition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+hedgeSelectCols+` FROM hedge_positions WHERE id = $1`, id)

	h, err := scanHedge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.HedgePosition{}, domain.ErrNotFound
		}
		return domain.HedgePosition{}, fmt.Errorf("postgres: get hedge %s: %w", id, err)
	}
	return h, nil
}

// Transition performs a compare-and-set state change. The WHERE clause
// carries the expected current state, so a lost race affects zero rows.
func (s *HedgeStore) Transition(ctx context.Context, id string, from, to domain.HedgeState) error {
	const query = `
		UPDATE hedge_positions SET
			state      = $3,
			updated_at = NOW()
		WHERE id = $1 AND state = $2`

	tag, err := s.pool.Exec(ctx, query, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("postgres: transition hedge %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Zero rows means either the record is gone or another writer moved the
	// state first. Distinguish so callers can react.
	var exists bool
	if err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM hedge_positions WHERE id = $1)", id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: transition hedge %s: %w", id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrStateConflict
}

// Delete removes a hedge record whose open attempt aborted before completing.
func (s *HedgeStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM hedge_positions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete hedge %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListClosedBefore returns closed hedge records whose close timestamp is
// strictly before the cutoff, oldest first, for archival.
func (s *HedgeStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.HedgePosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+hedgeSelectCols+` FROM hedge_positions
		 WHERE state = 'closed' AND closed_at < $1
		 ORDER BY closed_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed hedges: %w", err)
	}
	defer rows.Close()

	hedges, err := scanHedgeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed hedges: %w", err)
	}
	return hedges, nil
}
