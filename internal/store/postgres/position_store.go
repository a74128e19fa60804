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

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionSelectCols = `id, owner, base_asset, quote_asset,
	yield_leg_id, yield_liquidity, yield_amount0, yield_amount1,
	hedge_id, hedge_value, reference_price,
	status, yield_closed, hedge_closed, opened_at, closed_at`

// scanPosition decodes one row in positionSelectCols order. pgx.Rows
// satisfies pgx.Row, so list queries reuse it per row.
func scanPosition(row pgx.Row) (domain.CompositePosition, error) {
	var (
		p                           domain.CompositePosition
		owner, base, quote          string
		liquidity, amount0, amount1 string
		hedgeValue, refPrice        string
		status                      string
	)

	err := row.Scan(
		&p.ID, &owner, &base, &quote,
		&p.YieldLegID, &liquidity, &amount0, &amount1,
		&p.HedgeID, &hedgeValue, &refPrice,
		&status, &p.YieldClosed, &p.HedgeClosed, &p.OpenedAt, &p.ClosedAt,
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
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.CompositePosition, error) {
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
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11,
			$12, $13, $14, $15, $16, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Owner.Hex(), p.BaseAsset.Hex(), p.QuoteAsset.Hex(),
		p.YieldLegID, encodeBig(p.YieldLiquidity), encodeBig(p.YieldAmount0), encodeBig(p.YieldAmount1),
		p.HedgeID, encodeBig(p.HedgeValue), encodeBig(p.ReferencePrice),
		string(p.Status), p.YieldClosed, p.HedgeClosed, p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a composite position.
func (s *PositionStore) Update(ctx context.Context, p domain.CompositePosition) error {
	const query = `
		UPDATE positions SET
			yield_leg_id    = $2,
			yield_liquidity = $3,
			yield_amount0   = $4,
			yield_amount1   = $5,
			hedge_id        = $6,
			hedge_value     = $7,
			reference_price = $8,
			status          = $9,
			yield_closed    = $10,
			hedge_closed    = $11,
			closed_at       = $12,
			updated_at      = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID,
		p.YieldLegID, encodeBig(p.YieldLiquidity), encodeBig(p.YieldAmount0), encodeBig(p.YieldAmount1),
		p.HedgeID, encodeBig(p.HedgeValue), encodeBig(p.ReferencePrice),
		string(p.Status), p.YieldClosed, p.HedgeClosed, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single composite position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.CompositePosition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CompositePosition{}, domain.ErrNotFound
		}
		return domain.CompositePosition{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListByOwner returns positions for the given owner with pagination and
// optional time filtering on the open timestamp.
func (s *PositionStore) ListByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.CompositePosition, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE owner = $1`
	args := []any{owner.Hex()}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// ListClosedBefore returns closed positions whose close timestamp is strictly
// before the cutoff, oldest first, for archival.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.CompositePosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'closed' AND closed_at < $1
		 ORDER BY closed_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}
