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

// PositionStore implements domain.PositionStore using SQLite.
type PositionStore struct {
	db *sql.DB
}

// NewPositionStore creates a new PositionStore backed by the given handle.
func NewPositionStore(db *sql.DB) *PositionStore {
	return &PositionStore{db: db}
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionSelectCols = `id, owner, base_asset, quote_asset,
	yield_leg_id, yield_liquidity, yield_amount0, yield_amount1,
	hedge_id, hedge_value, reference_price,
	status, yield_closed, hedge_closed, opened_at, closed_at`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (domain.CompositePosition, error) {
	var p domain.CompositePosition
	var owner, base, quote string
	var liquidity, amount0, amount1 string
	var hedgeValue, refPrice string
	var status, openedAt string
	var closedAt sql.NullString

	err := row.Scan(
		&p.ID, &owner, &base, &quote,
		&p.YieldLegID, &liquidity, &amount0, &amount1,
		&p.HedgeID, &hedgeValue, &refPrice,
		&status, &p.YieldClosed, &p.HedgeClosed, &openedAt, &closedAt,
	)
	if err != nil {
		return domain.CompositePosition{}, err
	}

	p.Owner = common.HexToAddress(owner)
	p.BaseAsset = common.HexToAddress(base)
	p.QuoteAsset = common.HexToAddress(quote)
	p.Status = domain.PositionStatus(status)

	if p.YieldLiquidity, err = decodeBig(liquidity); err != nil {
		return domain.CompositePosition{}, err
	}
	if p.YieldAmount0, err = decodeBig(amount0); err != nil {
		return domain.CompositePosition{}, err
	}
	if p.YieldAmount1, err = decodeBig(amount1); err != nil {
		return domain.CompositePosition{}, err
	}
	if p.HedgeValue, err = decodeBig(hedgeValue); err != nil {
		return domain.CompositePosition{}, err
	}
	if p.ReferencePrice, err = decodeBig(refPrice); err != nil {
		return domain.CompositePosition{}, err
	}
	if p.OpenedAt, err = decodeTime(openedAt); err != nil {
		return domain.CompositePosition{}, err
	}
	if p.ClosedAt, err = decodeTimePtr(closedAt); err != nil {
		return domain.CompositePosition{}, err
	}
	return p, nil
}

func scanPositionRows(rows *sql.Rows) ([]domain.CompositePosition, error) {
	var positions []domain.CompositePosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new composite position.
func (s *PositionStore) Create(ctx context.Context, p domain.CompositePosition) error {
	const query = `
		INSERT INTO positions (
			id, owner, base_asset, quote_asset,
			yield_leg_id, yield_liquidity, yield_amount0, yield_amount1,
			hedge_id, hedge_value, reference_price,
			status, yield_closed, hedge_closed, opened_at, closed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Owner.Hex(), p.BaseAsset.Hex(), p.QuoteAsset.Hex(),
		p.YieldLegID, encodeBig(p.YieldLiquidity), encodeBig(p.YieldAmount0), encodeBig(p.YieldAmount1),
		p.HedgeID, encodeBig(p.HedgeValue), encodeBig(p.ReferencePrice),
		string(p.Status), p.YieldClosed, p.HedgeClosed,
		encodeTime(p.OpenedAt), encodeTimePtr(p.ClosedAt), encodeTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a composite position.
func (s *PositionStore) Update(ctx context.Context, p domain.CompositePosition) error {
	const query = `
		UPDATE positions SET
			yield_leg_id    = ?,
			yield_liquidity = ?,
			yield_amount0   = ?,
			yield_amount1   = ?,
			hedge_id        = ?,
			hedge_value     = ?,
			reference_price = ?,
			status          = ?,
			yield_closed    = ?,
			hedge_closed    = ?,
			closed_at       = ?,
			updated_at      = ?
		WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query,
		p.YieldLegID, encodeBig(p.YieldLiquidity), encodeBig(p.YieldAmount0), encodeBig(p.YieldAmount1),
		p.HedgeID, encodeBig(p.HedgeValue), encodeBig(p.ReferencePrice),
		string(p.Status), p.YieldClosed, p.HedgeClosed,
		encodeTimePtr(p.ClosedAt), encodeTime(time.Now().UTC()),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update position %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update position %s: %w", p.ID, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single composite position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.CompositePosition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = ?`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CompositePosition{}, domain.ErrNotFound
		}
		return domain.CompositePosition{}, fmt.Errorf("sqlite: get position %s: %w", id, err)
	}
	return p, nil
}

// ListByOwner returns positions for the given owner with pagination and
// optional time filtering on the open timestamp.
func (s *PositionStore) ListByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.CompositePosition, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE owner = ?`
	args := []any{owner.Hex()}

	if opts.Since != nil {
		query += " AND opened_at >= ?"
		args = append(args, encodeTime(*opts.Since))
	}
	if opts.Until != nil {
		query += " AND opened_at <= ?"
		args = append(args, encodeTime(*opts.Until))
	}

	query += " ORDER BY opened_at DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			// SQLite requires LIMIT before OFFSET; -1 means unlimited.
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan positions: %w", err)
	}
	return positions, nil
}

// ListClosedBefore returns closed positions whose close timestamp is strictly
// before the cutoff, oldest first, for archival.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.CompositePosition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'closed' AND closed_at < ?
		 ORDER BY closed_at ASC`, encodeTime(before))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan closed positions: %w", err)
	}
	return positions, nil
}
