// Package hedge drives the leveraged-short side of a composite position:
// a same-transaction loan tops up the caller's principal, the sum is posted
// as collateral, the shorted asset is borrowed against it, and half the
// borrow is converted back to fund the loan settlement. Closing runs the
// inverse flash-repay: borrow the outstanding debt, clear it, unwind the
// collateral.
package hedge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
	"github.com/amsorrytola/HedgeCraft/internal/liquidity"
)

// Config holds the tunable parameters of the hedge manager.
type Config struct {
	// Operator is the account this system acts as at the venues.
	Operator common.Address
	// MinLeverage and MaxLeverage bound the WAD leverage factor, both
	// inclusive.
	MinLeverage *big.Int
	MaxLeverage *big.Int
	// SwapDeadline bounds every swap issued by the lifecycle.
	SwapDeadline time.Duration
	// SlippageBps pads repayment-funding swap inputs.
	SlippageBps int64
}

type loanMode string

const (
	loanModeOpen  loanMode = "open"
	loanModeClose loanMode = "close"
)

// pendingLoan is the single-use record guarding the loan callback: only the
// venue answering the exact outstanding request may re-enter, and only once.
type pendingLoan struct {
	mode            loanMode
	positionID      string
	owner           common.Address
	collateralAsset common.Address
	shortedAsset    common.Address
	asset           common.Address
	amount          *big.Int
	principal       *big.Int
}

// Manager owns the hedge position records and their lifecycle.
type Manager struct {
	lending domain.LendingVenue
	swaps   domain.SwapVenue
	store   domain.HedgePositionStore
	policy  RiskPolicy
	bus     domain.SignalBus
	audit   domain.AuditStore
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]pendingLoan
}

// NewManager creates a hedge manager. bus and audit may be nil; event
// publishing and audit logging are then skipped.
func NewManager(
	lending domain.LendingVenue,
	swaps domain.SwapVenue,
	store domain.HedgePositionStore,
	policy RiskPolicy,
	bus domain.SignalBus,
	audit domain.AuditStore,
	cfg Config,
	logger *slog.Logger,
) *Manager {
	if cfg.MinLeverage == nil {
		cfg.MinLeverage = new(big.Int).Set(liquidity.WAD)
	}
	if cfg.MaxLeverage == nil {
		cfg.MaxLeverage = new(big.Int).Mul(big.NewInt(3), liquidity.WAD)
	}
	if cfg.SwapDeadline <= 0 {
		cfg.SwapDeadline = 2 * time.Minute
	}
	return &Manager{
		lending: lending,
		swaps:   swaps,
		store:   store,
		policy:  policy,
		bus:     bus,
		audit:   audit,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "hedge_manager")),
	}
}

// OpenShort opens a leveraged short: principal in the collateral asset,
// leveraged up by a same-transaction loan, against the shorted asset. It
// returns the id of the opened hedge position.
func (m *Manager) OpenShort(ctx context.Context, owner, collateralAsset, shortedAsset common.Address, principal, leverage *big.Int) (string, error) {
	if (collateralAsset == common.Address{}) || (shortedAsset == common.Address{}) {
		return "", fmt.Errorf("hedge: open short: %w", domain.ErrInvalidAssets)
	}
	if principal == nil || principal.Sign() <= 0 {
		return "", fmt.Errorf("hedge: open short: principal must be positive: %w", domain.ErrInvalidInput)
	}
	if leverage == nil || leverage.Cmp(m.cfg.MinLeverage) < 0 || leverage.Cmp(m.cfg.MaxLeverage) > 0 {
		return "", fmt.Errorf("hedge: open short: leverage %s outside [%s, %s]: %w",
			leverage, m.cfg.MinLeverage, m.cfg.MaxLeverage, domain.ErrLeverageOutOfRange)
	}

	balance, err := m.lending.BalanceOf(ctx, collateralAsset, m.cfg.Operator)
	if err != nil {
		return "", fmt.Errorf("hedge: open short: balance check: %w", err)
	}
	if balance.Cmp(principal) < 0 {
		return "", fmt.Errorf("hedge: open short: principal %s exceeds balance %s: %w",
			principal, balance, domain.ErrInsufficientBalance)
	}

	loan := liquidity.WadMul(principal, new(big.Int).Sub(leverage, liquidity.WAD))

	rec := domain.HedgePosition{
		ID:                 uuid.New().String(),
		Owner:              owner,
		CollateralAsset:    collateralAsset,
		ShortedAsset:       shortedAsset,
		Principal:          new(big.Int).Set(principal),
		Leverage:           new(big.Int).Set(leverage),
		LoanAmount:         loan,
		CollateralSupplied: new(big.Int),
		DebtBorrowed:       new(big.Int),
		State:              domain.HedgeStateRequested,
		OpenedAt:           time.Now().UTC(),
	}
	if err := m.store.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("hedge: open short: create record: %w", err)
	}

	requestID := uuid.New().String()
	m.register(requestID, pendingLoan{
		mode:            loanModeOpen,
		positionID:      rec.ID,
		owner:           owner,
		collateralAsset: collateralAsset,
		shortedAsset:    shortedAsset,
		asset:           collateralAsset,
		amount:          loan,
		principal:       rec.Principal,
	})

	if loan.Sign() > 0 {
		err = m.lending.RequestLoan(ctx, collateralAsset, loan, requestID)
	} else {
		// Leverage of exactly 1.0 needs no loan; run the callback branch
		// directly with a zero advance.
		err = m.OnLoan(ctx, requestID, collateralAsset, loan, new(big.Int))
	}
	if err != nil {
		m.unregister(requestID)
		if derr := m.store.Delete(ctx, rec.ID); derr != nil {
			m.logger.WarnContext(ctx, "hedge_manager: delete aborted record",
				slog.String("position_id", rec.ID),
				slog.String("error", derr.Error()),
			)
		}
		return "", fmt.Errorf("hedge: open short: %w", err)
	}

	if err := m.store.Transition(ctx, rec.ID, domain.HedgeStateBorrowed, domain.HedgeStateOpen); err != nil {
		return "", fmt.Errorf("hedge: open short: finalize: %w", err)
	}
	opened, err := m.store.GetByID(ctx, rec.ID)
	if err != nil {
		return "", fmt.Errorf("hedge: open short: reload: %w", err)
	}

	m.logger.InfoContext(ctx, "hedge_manager: short opened",
		slog.String("position_id", opened.ID),
		slog.String("owner", owner.Hex()),
		slog.String("collateral", opened.CollateralSupplied.String()),
		slog.String("debt", opened.DebtBorrowed.String()),
		slog.String("leverage", opened.Leverage.String()),
	)
	m.publish(ctx, domain.EventHedgeOpened, opened.ID, owner, map[string]string{
		"collateral_asset": collateralAsset.Hex(),
		"shorted_asset":    shortedAsset.Hex(),
		"principal":        opened.Principal.String(),
		"loan":             opened.LoanAmount.String(),
		"collateral":       opened.CollateralSupplied.String(),
		"debt":             opened.DebtBorrowed.String(),
		"leverage":         opened.Leverage.String(),
	})
	m.auditLog(ctx, "hedge.open", map[string]any{
		"position_id": opened.ID,
		"owner":       owner.Hex(),
		"principal":   opened.Principal.String(),
		"collateral":  opened.CollateralSupplied.String(),
		"debt":        opened.DebtBorrowed.String(),
	})
	return opened.ID, nil
}

// OnLoan is the same-transaction loan callback. Each pending request is
// consumable exactly once; anything else is an unauthorized re-entry.
func (m *Manager) OnLoan(ctx context.Context, requestID string, asset common.Address, amount, fee *big.Int) error {
	m.mu.Lock()
	req, ok := m.pending[requestID]
	if ok {
		delete(m.pending, requestID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("hedge: loan callback %q: %w", requestID, domain.ErrUnauthorizedCallback)
	}
	if asset != req.asset || amount == nil || amount.Cmp(req.amount) != 0 {
		return fmt.Errorf("hedge: loan callback %q: asset or amount mismatch: %w", requestID, domain.ErrUnauthorizedCallback)
	}
	if fee == nil {
		fee = new(big.Int)
	}

	if req.mode == loanModeOpen {
		return m.completeOpen(ctx, req, fee)
	}
	return m.completeClose(ctx, req, fee)
}

// completeOpen runs inside the loan settlement: collateralize, borrow,
// fund the repayment. Any error aborts the whole open; the venue unwinds
// its side and OpenShort discards the record.
func (m *Manager) completeOpen(ctx context.Context, req pendingLoan, fee *big.Int) error {
	rec, err := m.store.GetByID(ctx, req.positionID)
	if err != nil {
		return fmt.Errorf("hedge: complete open: %w", err)
	}
	if !rec.State.CanTransition(domain.HedgeStateCollateralized) {
		return fmt.Errorf("hedge: complete open: record in state %s: %w", rec.State, domain.ErrStateConflict)
	}

	collateral := new(big.Int).Add(req.principal, req.amount)
	if err := m.lending.SupplyCollateral(ctx, req.collateralAsset, collateral); err != nil {
		return fmt.Errorf("hedge: supply collateral: %w", err)
	}
	rec.State = domain.HedgeStateCollateralized
	if err := m.store.Update(ctx, rec); err != nil {
		return fmt.Errorf("hedge: complete open: %w", err)
	}

	borrow, err := m.policy.BorrowAmount(ctx, req.collateralAsset, req.shortedAsset, collateral)
	if err != nil {
		return fmt.Errorf("hedge: borrow sizing: %w", err)
	}
	if borrow == nil || borrow.Sign() <= 0 {
		return fmt.Errorf("hedge: borrow sizing produced nothing to short: %w", domain.ErrInvalidInput)
	}
	if err := m.lending.Borrow(ctx, req.shortedAsset, borrow); err != nil {
		return fmt.Errorf("hedge: borrow: %w", err)
	}

	// Venue facts, recorded once the borrow settles and never rewritten.
	rec.CollateralSupplied = collateral
	rec.DebtBorrowed = borrow
	rec.State = domain.HedgeStateBorrowed
	if err := m.store.Update(ctx, rec); err != nil {
		return fmt.Errorf("hedge: record borrow: %w", err)
	}

	owed := new(big.Int).Add(req.amount, fee)
	if owed.Sign() > 0 {
		// Half the borrow converts back to the collateral asset; proceeds
		// below the amount owed abort the open rather than leaving the
		// settlement short.
		half := new(big.Int).Quo(borrow, big.NewInt(2))
		deadline := time.Now().UTC().Add(m.cfg.SwapDeadline)
		if _, err := m.swaps.Swap(ctx, req.shortedAsset, req.collateralAsset, half, owed, deadline); err != nil {
			return fmt.Errorf("hedge: repayment funding swap: %w", err)
		}
		if err := m.lending.Approve(ctx, req.collateralAsset, owed); err != nil {
			return fmt.Errorf("hedge: approve settlement: %w", err)
		}
	}
	return nil
}

// CloseShort unwinds a short: a flash loan of the outstanding debt clears
// the venue position, collateral funds the loan settlement, and whatever
// collateral remains is withdrawn to the owner. Closing an already closed
// position fails with ErrPositionAlreadyClosed and touches no venue.
func (m *Manager) CloseShort(ctx context.Context, owner common.Address, id string) error {
	rec, err := m.store.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("hedge: close short %s: %w", id, err)
	}
	if rec.Owner != owner {
		return fmt.Errorf("hedge: close short %s: %w", id, domain.ErrUnauthorizedOwner)
	}
	if rec.State == domain.HedgeStateClosed {
		return fmt.Errorf("hedge: close short %s: %w", id, domain.ErrPositionAlreadyClosed)
	}

	switch rec.State {
	case domain.HedgeStateOpen:
		if err := m.store.Transition(ctx, id, domain.HedgeStateOpen, domain.HedgeStateRepaying); err != nil {
			if errors.Is(err, domain.ErrStateConflict) {
				return fmt.Errorf("hedge: close short %s: %w", id, domain.ErrPositionBusy)
			}
			return fmt.Errorf("hedge: close short %s: %w", id, err)
		}
	case domain.HedgeStateRepaying, domain.HedgeStateWithdrawn:
		// A previous close attempt failed mid-flight; resume it. The caller
		// serializes retries.
	default:
		return fmt.Errorf("hedge: close short %s in state %s: %w", id, rec.State, domain.ErrPositionBusy)
	}

	if rec.State != domain.HedgeStateWithdrawn {
		status, err := m.lending.AccountStatus(ctx, m.cfg.Operator)
		if err != nil {
			return fmt.Errorf("hedge: close short %s: account status: %w", id, err)
		}
		if status.Debt.Sign() > 0 {
			requestID := uuid.New().String()
			m.register(requestID, pendingLoan{
				mode:            loanModeClose,
				positionID:      id,
				owner:           owner,
				collateralAsset: rec.CollateralAsset,
				shortedAsset:    rec.ShortedAsset,
				asset:           rec.ShortedAsset,
				amount:          new(big.Int).Set(status.Debt),
				principal:       rec.Principal,
			})
			if err := m.lending.RequestLoan(ctx, rec.ShortedAsset, status.Debt, requestID); err != nil {
				m.unregister(requestID)
				return fmt.Errorf("hedge: close short %s: %w", id, err)
			}
		}

		status, err = m.lending.AccountStatus(ctx, m.cfg.Operator)
		if err != nil {
			return fmt.Errorf("hedge: close short %s: account status: %w", id, err)
		}
		payout := new(big.Int).Set(status.Collateral)
		if payout.Cmp(rec.CollateralSupplied) > 0 {
			payout.Set(rec.CollateralSupplied)
		}
		if payout.Sign() > 0 {
			if _, err := m.lending.Withdraw(ctx, rec.CollateralAsset, payout, owner); err != nil {
				return fmt.Errorf("hedge: close short %s: withdraw: %w", id, err)
			}
		}
		if err := m.store.Transition(ctx, id, domain.HedgeStateRepaying, domain.HedgeStateWithdrawn); err != nil {
			return fmt.Errorf("hedge: close short %s: %w", id, err)
		}
	}

	rec, err = m.store.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("hedge: close short %s: reload: %w", id, err)
	}
	now := time.Now().UTC()
	rec.State = domain.HedgeStateClosed
	rec.ClosedAt = &now
	if err := m.store.Update(ctx, rec); err != nil {
		return fmt.Errorf("hedge: close short %s: finalize: %w", id, err)
	}

	m.logger.InfoContext(ctx, "hedge_manager: short closed",
		slog.String("position_id", id),
		slog.String("owner", owner.Hex()),
	)
	m.publish(ctx, domain.EventHedgeClosed, id, owner, map[string]string{
		"collateral_asset": rec.CollateralAsset.Hex(),
		"shorted_asset":    rec.ShortedAsset.Hex(),
		"collateral":       rec.CollateralSupplied.String(),
		"debt":             rec.DebtBorrowed.String(),
	})
	m.auditLog(ctx, "hedge.close", map[string]any{
		"position_id": id,
		"owner":       owner.Hex(),
	})
	return nil
}

// completeClose runs inside the flash-repay settlement: the loaned shorted
// asset clears the venue debt, and a bounded slice of collateral converts
// back to cover the loan plus fee.
func (m *Manager) completeClose(ctx context.Context, req pendingLoan, fee *big.Int) error {
	rec, err := m.store.GetByID(ctx, req.positionID)
	if err != nil {
		return fmt.Errorf("hedge: complete close: %w", err)
	}
	if rec.State != domain.HedgeStateRepaying {
		return fmt.Errorf("hedge: complete close: record in state %s: %w", rec.State, domain.ErrStateConflict)
	}

	repaid, err := m.lending.Repay(ctx, req.shortedAsset, req.amount)
	if err != nil {
		return fmt.Errorf("hedge: repay debt: %w", err)
	}
	m.logger.DebugContext(ctx, "hedge_manager: debt repaid",
		slog.String("position_id", req.positionID),
		slog.String("repaid", repaid.String()),
	)

	owed := new(big.Int).Add(req.amount, fee)
	balance, err := m.lending.BalanceOf(ctx, req.shortedAsset, m.cfg.Operator)
	if err != nil {
		return fmt.Errorf("hedge: complete close: balance: %w", err)
	}
	if balance.Cmp(owed) < 0 {
		shortfall := new(big.Int).Sub(owed, balance)
		price, err := m.swaps.SpotPrice(ctx, req.collateralAsset, req.shortedAsset)
		if err != nil {
			return fmt.Errorf("hedge: complete close: spot price: %w", err)
		}
		needIn, err := liquidity.WadDiv(shortfall, price)
		if err != nil {
			return fmt.Errorf("hedge: complete close: %w", err)
		}
		needIn.Mul(needIn, big.NewInt(10_000+m.cfg.SlippageBps))
		needIn.Quo(needIn, big.NewInt(10_000))
		needIn.Add(needIn, big.NewInt(1))

		withdrawn, err := m.lending.Withdraw(ctx, req.collateralAsset, needIn, m.cfg.Operator)
		if err != nil {
			return fmt.Errorf("hedge: complete close: withdraw for repay: %w", err)
		}
		deadline := time.Now().UTC().Add(m.cfg.SwapDeadline)
		if _, err := m.swaps.Swap(ctx, req.collateralAsset, req.shortedAsset, withdrawn, shortfall, deadline); err != nil {
			return fmt.Errorf("hedge: complete close: funding swap: %w", err)
		}
	}
	if err := m.lending.Approve(ctx, req.shortedAsset, owed); err != nil {
		return fmt.Errorf("hedge: complete close: approve settlement: %w", err)
	}
	return nil
}

// Get returns a hedge position by id.
func (m *Manager) Get(ctx context.Context, id string) (domain.HedgePosition, error) {
	rec, err := m.store.GetByID(ctx, id)
	if err != nil {
		return domain.HedgePosition{}, fmt.Errorf("hedge: get %s: %w", id, err)
	}
	return rec, nil
}

func (m *Manager) register(requestID string, req pendingLoan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		m.pending = make(map[string]pendingLoan)
	}
	m.pending[requestID] = req
}

func (m *Manager) unregister(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, requestID)
}

func (m *Manager) publish(ctx context.Context, typ domain.EventType, positionID string, owner common.Address, fields map[string]string) {
	if m.bus == nil {
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
		if perr := m.bus.Publish(ctx, domain.EventChannel, payload); perr != nil {
			err = perr
		} else if serr := m.bus.StreamAppend(ctx, domain.EventStream, payload); serr != nil {
			err = serr
		}
	}
	if err != nil {
		m.logger.WarnContext(ctx, "hedge_manager: event publish failed",
			slog.String("type", string(typ)),
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) auditLog(ctx context.Context, event string, detail map[string]any) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Log(ctx, event, detail); err != nil {
		m.logger.WarnContext(ctx, "hedge_manager: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// Compile-time interface check.
var _ domain.LoanSink = (*Manager)(nil)
