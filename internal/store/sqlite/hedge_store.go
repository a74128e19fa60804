package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

// HedgeStore implements domain.HedgePositionStore using SQLite.
type HedgeStore struct {
	db *sql.DB
}

// NewHedgeStore creates a new HedgeStore backed by the given handle.
func NewHedgeStore(db *sql.DB) *HedgeStore {
	return &HedgeStore{db: db}
}

var _ domain.HedgePositionStore = (*HedgeStore)(nil)

const hedgeSelectCols = `id, owner, collateral_asset, shorted_asset,
	principal, leverage, loan_amount, collateral_supplied, debt_borrowed,
	state, opened_at, closed_at`

func scanHedge(row rowScanner) (domain.HedgePosition, error) {
	var h domain.HedgePosition
	var owner, collateral, shorted string
	var principal, leverage, loan, supplied, debt string
	var state, openedAt string
	var closedAt sql.NullString

	err := row.Scan(
		&h.ID, &owner, &collateral, &shorted,
		&principal, &leverage, &loan, &supplied, &debt,
		&state, &openedAt, &closedAt,
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
	if h.OpenedAt, err = decodeTime(openedAt); err != nil {
		return domain.HedgePosition{}, err
	}
	if h.ClosedAt, err = decodeTimePtr(closedAt); err != nil {
		return domain.HedgePosition{}, err
	}
	return h, nil
}

// Create inserts a new hedge record.
func (s *HedgeStore) Create(ctx context.Context, h domain.HedgePosition) error {
	const query = `
		INSERT INTO hedge_positions (
			id, owner, collateral_asset, shorted_asset,
			principal, leverage, loan_amount, collateral_supplied, debt_borrowed,
			state, opened_at, closed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		h.ID, h.Owner.Hex(), h.CollateralAsset.Hex(), h.ShortedAsset.Hex(),
		encodeBig(h.Principal), encodeBig(h.Leverage), encodeBig(h.LoanAmount),
		encodeBig(h.CollateralSupplied), encodeBig(h.DebtBorrowed),
		string(h.State), encodeTime(h.OpenedAt), encodeTimePtr(h.ClosedAt), encodeTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create hedge %s: %w", h.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a hedge record, including its state.
func (s *HedgeStore) Update(ctx context.Context, h domain.HedgePosition) error {
	const query = `
		UPDATE hedge_positions SET
			collateral_supplied = ?,
			debt_borrowed       = ?,
			state               = ?,
			closed_at           = ?,
			updated_at          = ?
		WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query,
		encodeBig(h.CollateralSupplied), encodeBig(h.DebtBorrowed),
		string(h.State), encodeTimePtr(h.ClosedAt), encodeTime(time.Now().UTC()),
		h.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update hedge %s: %w", h.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update hedge %s: %w", h.ID, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single hedge record by its ID.
func (s *HedgeStore) GetByID(ctx context.Context, id string) (domain.HedgePosition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+hedgeSelectCols+` FROM hedge_positions WHERE id = ?`, id)

	h, err := scanHedge(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.HedgePosition{}, domain.ErrNotFound
		}
		return domain.HedgePosition{}, fmt.Errorf("sqlite: get hedge %s: %w", id, err)
	}
	return h, nil
}

// Transition performs a compare-and-set state change. The WHERE clause
// carries the expected current state, so a lost race affects zero rows.
func (s *HedgeStore) Transition(ctx context.Context, id string, from, to domain.HedgeState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE hedge_positions SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		string(to), encodeTime(time.Now().UTC()), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("sqlite: transition hedge %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: transition hedge %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	// Zero rows means either the record is gone or another writer moved the
	// state first. Distinguish so callers can react.
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM hedge_positions WHERE id = ?)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("sqlite: transition hedge %s: %w", id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrStateConflict
}

// Delete removes a hedge record whose open attempt aborted before completing.
func (s *HedgeStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM hedge_positions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete hedge %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete hedge %s: %w", id, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListClosedBefore returns closed hedge records whose close timestamp is
// strictly before the cutoff, oldest first, for archival.
func (s *HedgeStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.HedgePosition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+hedgeSelectCols+` FROM hedge_positions
		 WHERE state = 'closed' AND closed_at < ?
		 ORDER BY closed_at ASC`, encodeTime(before))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list closed hedges: %w", err)
	}
	defer rows.Close()

	var hedges []domain.HedgePosition
	for rows.Next() {
		h, err := scanHedge(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan closed hedge: %w", err)
		}
		hedges = append(hedges, h)
	}
	return hedges, rows.Err()
}
