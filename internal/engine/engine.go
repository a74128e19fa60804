// Package engine orchestrates composite positions: one concentrated-liquidity
// yield leg and one leveraged short hedge leg opened, collected and torn down
// under a single lifecycle. The engine owns the composite records; the legs
// themselves belong to their venues and the hedge manager.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
	"github.com/amsorrytola/HedgeCraft/internal/liquidity"
)

// hedger is the slice of the hedge manager the engine drives.
type hedger interface {
	OpenShort(ctx context.Context, owner, collateralAsset, shortedAsset common.Address, principal, leverage *big.Int) (string, error)
	CloseShort(ctx context.Context, owner common.Address, id string) error
}

// prices is the slice of the swap venue the engine reads.
type prices interface {
	SpotPrice(ctx context.Context, tokenIn, tokenOut common.Address) (*big.Int, error)
}

// Config holds the orchestrator's tunable parameters.
type Config struct {
	// YieldPercent of each deposited amount goes to the yield leg; the
	// remainder funds the hedge. Must sit strictly between 0 and 100.
	YieldPercent int64
	// DefaultLeverage is the WAD leverage applied to every hedge leg.
	DefaultLeverage *big.Int
	// MinDeposit bounds amount0+amount1, a combined-value proxy rather than
	// a price-weighted total. Zero disables the check.
	MinDeposit *big.Int
	// LockTTL bounds how long a per-position lock may outlive its holder.
	LockTTL time.Duration
}

// Engine is the composite position orchestrator.
type Engine struct {
	yields domain.LiquidityVenue
	hedges hedger
	prices prices
	store  domain.PositionStore
	locks  domain.LockManager
	bus    domain.SignalBus
	audit  domain.AuditStore
	cfg    Config
	logger *slog.Logger
}

// New creates an engine. bus and audit may be nil; event publishing and
// audit logging are then skipped.
func New(
	yields domain.LiquidityVenue,
	hedges hedger,
	priceSource prices,
	store domain.PositionStore,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if cfg.YieldPercent == 0 {
		cfg.YieldPercent = 79
	}
	if cfg.DefaultLeverage == nil {
		cfg.DefaultLeverage = big.NewInt(1_250_000_000_000_000_000) // 1.25
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Engine{
		yields: yields,
		hedges: hedges,
		prices: priceSource,
		store:  store,
		locks:  locks,
		bus:    bus,
		audit:  audit,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "engine")),
	}
}

// positionLockKey names the lock resource; the lock manager owns any
// deployment-level namespacing.
func positionLockKey(id string) string {
	return "position:" + id
}

// OpenPosition deposits amount0 of the base asset and amount1 of the quote
// asset, splits each between the two legs, opens the yield leg across
// [rangeLower, rangeUpper] and the hedge leg at the configured leverage.
// Amounts the venues do not consume are reported back as refunds on the
// position.opened event; nothing is silently retained.
func (e *Engine) OpenPosition(ctx context.Context, owner, baseAsset, quoteAsset common.Address, amount0, amount1, rangeLower, rangeUpper *big.Int) (string, error) {
	if (baseAsset == common.Address{}) || (quoteAsset == common.Address{}) || baseAsset == quoteAsset {
		return "", fmt.Errorf("engine: open position: %w", domain.ErrInvalidAssets)
	}
	if amount0 == nil || amount0.Sign() <= 0 || amount1 == nil || amount1.Sign() <= 0 {
		return "", fmt.Errorf("engine: open position: deposit amounts must be positive: %w", domain.ErrInvalidInput)
	}
	deposit := new(big.Int).Add(amount0, amount1)
	if e.cfg.MinDeposit != nil && deposit.Cmp(e.cfg.MinDeposit) < 0 {
		return "", fmt.Errorf("engine: open position: deposit %s below minimum %s: %w",
			deposit, e.cfg.MinDeposit, domain.ErrInvalidInput)
	}

	split0, err := liquidity.SplitAllocation(amount0, e.cfg.YieldPercent)
	if err != nil {
		return "", fmt.Errorf("engine: open position: %w", err)
	}
	split1, err := liquidity.SplitAllocation(amount1, e.cfg.YieldPercent)
	if err != nil {
		return "", fmt.Errorf("engine: open position: %w", err)
	}

	refPrice, err := e.prices.SpotPrice(ctx, baseAsset, quoteAsset)
	if err != nil {
		return "", fmt.Errorf("engine: open position: reference price: %w", err)
	}

	res, err := e.yields.Open(ctx, owner, baseAsset, quoteAsset,
		split0.YieldShare, split1.YieldShare, rangeLower, rangeUpper)
	if err != nil {
		return "", fmt.Errorf("engine: open yield leg: %w", err)
	}

	hedgeID, err := e.hedges.OpenShort(ctx, owner, baseAsset, quoteAsset,
		split0.HedgeShare, e.cfg.DefaultLeverage)
	if err != nil {
		// No half-open composite: unwind the yield leg before surfacing the
		// failure.
		e.unwindYieldLeg(ctx, res.LegID)
		return "", fmt.Errorf("engine: open hedge leg: %w", err)
	}

	// The quote-side hedge share is surplus: the short is funded entirely by
	// base-asset principal.
	refund0 := new(big.Int).Sub(split0.YieldShare, res.Used0)
	refund1 := new(big.Int).Sub(split1.YieldShare, res.Used1)
	refund1.Add(refund1, split1.HedgeShare)

	pos := domain.CompositePosition{
		ID:             uuid.New().String(),
		Owner:          owner,
		BaseAsset:      baseAsset,
		QuoteAsset:     quoteAsset,
		YieldLegID:     res.LegID,
		YieldLiquidity: res.Liquidity,
		YieldAmount0:   res.Used0,
		YieldAmount1:   res.Used1,
		HedgeID:        hedgeID,
		HedgeValue:     split0.HedgeShare,
		ReferencePrice: refPrice,
		Status:         domain.PositionStatusActive,
		OpenedAt:       time.Now().UTC(),
	}
	if err := e.store.Create(ctx, pos); err != nil {
		e.unwindYieldLeg(ctx, res.LegID)
		if cerr := e.hedges.CloseShort(ctx, owner, hedgeID); cerr != nil {
			e.logger.WarnContext(ctx, "engine: unwind hedge leg after persist failure",
				slog.String("hedge_id", hedgeID),
				slog.String("error", cerr.Error()),
			)
		}
		return "", fmt.Errorf("engine: open position: persist: %w", err)
	}

	e.logger.InfoContext(ctx, "engine: position opened",
		slog.String("position_id", pos.ID),
		slog.String("owner", owner.Hex()),
		slog.String("liquidity", res.Liquidity.String()),
		slog.String("hedge_id", hedgeID),
	)
	e.publish(ctx, domain.EventPositionOpened, pos.ID, owner, map[string]string{
		"base_asset":      baseAsset.Hex(),
		"quote_asset":     quoteAsset.Hex(),
		"amount0":         amount0.String(),
		"amount1":         amount1.String(),
		"used0":           res.Used0.String(),
		"used1":           res.Used1.String(),
		"refund0":         refund0.String(),
		"refund1":         refund1.String(),
		"liquidity":       res.Liquidity.String(),
		"hedge_id":        hedgeID,
		"hedge_value":     pos.HedgeValue.String(),
		"reference_price": refPrice.String(),
	})
	e.auditLog(ctx, "position.open", map[string]any{
		"position_id": pos.ID,
		"owner":       owner.Hex(),
		"amount0":     amount0.String(),
		"amount1":     amount1.String(),
		"hedge_id":    hedgeID,
	})
	return pos.ID, nil
}

// unwindYieldLeg burns whatever liquidity the leg still holds. Failures are
// logged, not returned: this runs on paths that already carry an error.
func (e *Engine) unwindYieldLeg(ctx context.Context, legID string) {
	details, err := e.yields.Details(ctx, legID)
	if err != nil {
		e.logger.WarnContext(ctx, "engine: unwind yield leg: details",
			slog.String("leg_id", legID), slog.String("error", err.Error()))
		return
	}
	if details.Liquidity.Sign() == 0 {
		return
	}
	if _, _, err := e.yields.Decrease(ctx, legID, details.Liquidity); err != nil {
		e.logger.WarnContext(ctx, "engine: unwind yield leg: decrease",
			slog.String("leg_id", legID), slog.String("error", err.Error()))
	}
}

// ClosePosition tears down both legs of a position. The close is two-phase:
// the record moves to closing first, then each leg is torn down and its
// progress persisted, so an interruption leaves a resumable record instead
// of a silently half-closed one.
func (e *Engine) ClosePosition(ctx context.Context, owner common.Address, id string) error {
	unlock, err := e.lockPosition(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	return e.closeLocked(ctx, owner, id, false)
}

// ResumeClose retries the outstanding leg(s) of an interrupted close. The
// per-leg flags on the record decide what still needs doing; a position
// without a close in progress is rejected rather than silently closed.
func (e *Engine) ResumeClose(ctx context.Context, owner common.Address, id string) error {
	unlock, err := e.lockPosition(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	return e.closeLocked(ctx, owner, id, true)
}

func (e *Engine) lockPosition(ctx context.Context, id string) (func(), error) {
	unlock, err := e.locks.Acquire(ctx, positionLockKey(id), e.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("engine: position %s: %w", id, domain.ErrPositionBusy)
		}
		return nil, fmt.Errorf("engine: position %s: lock: %w", id, err)
	}
	return unlock, nil
}

func (e *Engine) closeLocked(ctx context.Context, owner common.Address, id string, resume bool) error {
	pos, err := e.store.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("engine: close position %s: %w", id, err)
	}
	if pos.Owner != owner {
		return fmt.Errorf("engine: close position %s: %w", id, domain.ErrUnauthorizedOwner)
	}
	if pos.Status == domain.PositionStatusClosed {
		return fmt.Errorf("engine: close position %s: %w", id, domain.ErrPositionAlreadyClosed)
	}
	if resume && pos.Status == domain.PositionStatusActive {
		return fmt.Errorf("engine: resume close %s: no close in progress: %w", id, domain.ErrStateConflict)
	}

	if pos.Status == domain.PositionStatusActive {
		pos.Status = domain.PositionStatusClosing
		if err := e.store.Update(ctx, pos); err != nil {
			return fmt.Errorf("engine: close position %s: %w", id, err)
		}
	}

	var yieldErr, hedgeErr error
	if !pos.YieldClosed {
		if yieldErr = e.teardownYield(ctx, &pos); yieldErr == nil {
			pos.YieldClosed = true
			if err := e.store.Update(ctx, pos); err != nil {
				return fmt.Errorf("engine: close position %s: %w", id, err)
			}
		}
	}
	if !pos.HedgeClosed {
		hedgeErr = e.hedges.CloseShort(ctx, owner, pos.HedgeID)
		// The hedge may already be down from an earlier attempt.
		if hedgeErr == nil || errors.Is(hedgeErr, domain.ErrPositionAlreadyClosed) {
			hedgeErr = nil
			pos.HedgeClosed = true
			if err := e.store.Update(ctx, pos); err != nil {
				return fmt.Errorf("engine: close position %s: %w", id, err)
			}
		}
	}

	if pos.YieldClosed && pos.HedgeClosed {
		now := time.Now().UTC()
		pos.Status = domain.PositionStatusClosed
		pos.ClosedAt = &now
		if err := e.store.Update(ctx, pos); err != nil {
			return fmt.Errorf("engine: close position %s: %w", id, err)
		}
		e.logger.InfoContext(ctx, "engine: position closed",
			slog.String("position_id", id),
			slog.String("owner", owner.Hex()),
		)
		e.publish(ctx, domain.EventPositionClosed, id, owner, map[string]string{
			"base_asset":  pos.BaseAsset.Hex(),
			"quote_asset": pos.QuoteAsset.Hex(),
		})
		e.auditLog(ctx, "position.close", map[string]any{
			"position_id": id,
			"owner":       owner.Hex(),
		})
		return nil
	}

	pos.Status = domain.PositionStatusPartiallyClosed
	if err := e.store.Update(ctx, pos); err != nil {
		return fmt.Errorf("engine: close position %s: %w", id, err)
	}
	e.logger.WarnContext(ctx, "engine: position partially closed",
		slog.String("position_id", id),
		slog.Bool("yield_closed", pos.YieldClosed),
		slog.Bool("hedge_closed", pos.HedgeClosed),
	)
	e.publish(ctx, domain.EventPositionPartiallyClosed, id, owner, map[string]string{
		"yield_closed": fmt.Sprintf("%t", pos.YieldClosed),
		"hedge_closed": fmt.Sprintf("%t", pos.HedgeClosed),
	})
	return fmt.Errorf("engine: close position %s: %w", id, errors.Join(yieldErr, hedgeErr))
}

// teardownYield burns the leg's remaining liquidity and collects residual
// fees. It reads current liquidity from the venue rather than the record so
// a resumed close does not re-burn what an earlier attempt already freed.
func (e *Engine) teardownYield(ctx context.Context, pos *domain.CompositePosition) error {
	details, err := e.yields.Details(ctx, pos.YieldLegID)
	if err != nil {
		return fmt.Errorf("engine: teardown yield leg: %w", err)
	}
	if details.Liquidity.Sign() > 0 {
		freed0, freed1, err := e.yields.Decrease(ctx, pos.YieldLegID, details.Liquidity)
		if err != nil {
			return fmt.Errorf("engine: teardown yield leg: %w", err)
		}
		e.logger.InfoContext(ctx, "engine: yield leg burned",
			slog.String("position_id", pos.ID),
			slog.String("freed0", freed0.String()),
			slog.String("freed1", freed1.String()),
		)
	}
	if _, _, err := e.yields.CollectFees(ctx, pos.YieldLegID); err != nil {
		return fmt.Errorf("engine: teardown yield leg: collect fees: %w", err)
	}
	return nil
}

// CollectFees collects the yield leg's accrued fees. The hedge leg has no
// fee analog.
func (e *Engine) CollectFees(ctx context.Context, owner common.Address, id string) (*big.Int, *big.Int, error) {
	unlock, err := e.lockPosition(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	pos, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: collect fees %s: %w", id, err)
	}
	if pos.Owner != owner {
		return nil, nil, fmt.Errorf("engine: collect fees %s: %w", id, domain.ErrUnauthorizedOwner)
	}
	if pos.Status != domain.PositionStatusActive {
		return nil, nil, fmt.Errorf("engine: collect fees %s: %w", id, domain.ErrPositionAlreadyClosed)
	}

	fees0, fees1, err := e.yields.CollectFees(ctx, pos.YieldLegID)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: collect fees %s: %w", id, err)
	}

	e.logger.InfoContext(ctx, "engine: fees collected",
		slog.String("position_id", id),
		slog.String("fees0", fees0.String()),
		slog.String("fees1", fees1.String()),
	)
	e.publish(ctx, domain.EventFeesCollected, id, owner, map[string]string{
		"fees0": fees0.String(),
		"fees1": fees1.String(),
	})
	e.auditLog(ctx, "position.collect", map[string]any{
		"position_id": id,
		"fees0":       fees0.String(),
		"fees1":       fees1.String(),
	})
	return fees0, fees1, nil
}

// GetPosition returns one position, owner-checked.
func (e *Engine) GetPosition(ctx context.Context, owner common.Address, id string) (domain.CompositePosition, error) {
	pos, err := e.store.GetByID(ctx, id)
	if err != nil {
		return domain.CompositePosition{}, fmt.Errorf("engine: get position %s: %w", id, err)
	}
	if pos.Owner != owner {
		return domain.CompositePosition{}, fmt.Errorf("engine: get position %s: %w", id, domain.ErrUnauthorizedOwner)
	}
	return pos, nil
}

// ListPositions returns the owner's positions.
func (e *Engine) ListPositions(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.CompositePosition, error) {
	list, err := e.store.ListByOwner(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("engine: list positions: %w", err)
	}
	return list, nil
}

// EstimateLoss reports the position's estimated impermanent loss as a WAD
// percentage, measured from its reference price to the current spot.
func (e *Engine) EstimateLoss(ctx context.Context, owner common.Address, id string) (*big.Int, error) {
	pos, err := e.GetPosition(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	current, err := e.prices.SpotPrice(ctx, pos.BaseAsset, pos.QuoteAsset)
	if err != nil {
		return nil, fmt.Errorf("engine: estimate loss %s: %w", id, err)
	}
	loss, err := liquidity.EstimateImpermanentLoss(pos.ReferencePrice, current)
	if err != nil {
		return nil, fmt.Errorf("engine: estimate loss %s: %w", id, err)
	}
	return loss, nil
}

func (e *Engine) publish(ctx context.Context, typ domain.EventType, positionID string, owner common.Address, fields map[string]string) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.Event{
		Type:       typ,
		PositionID: positionID,
		Owner:      owner.Hex(),
		At:         time.Now().UTC(),
		Fields:     fields,
	})
	if err == nil {
		if perr := e.bus.Publish(ctx, domain.EventChannel, payload); perr != nil {
			err = perr
		} else if serr := e.bus.StreamAppend(ctx, domain.EventStream, payload); serr != nil {
			err = serr
		}
	}
	if err != nil {
		e.logger.WarnContext(ctx, "engine: event publish failed",
			slog.String("type", string(typ)),
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "engine: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
