package sim

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
	"github.com/amsorrytola/HedgeCraft/internal/liquidity"
)

// LendingConfig tunes the simulated lending venue.
type LendingConfig struct {
	// Operator is the account the engine operates; all collateral, debt and
	// allowances are booked against it.
	Operator common.Address
	// LoanFeeBps is the same-transaction loan fee in basis points.
	LoanFeeBps int64
	// LTV and LiquidationThreshold are WAD ratios applied at par valuation.
	LTV                  *big.Int
	LiquidationThreshold *big.Int
}

// LendingVenue is an in-memory margin pool with same-transaction loans.
// RequestLoan snapshots every mutable table before invoking the callback
// and restores it on any failure, so a failed open leaves no trace.
type LendingVenue struct {
	mu         sync.Mutex
	ledger     *Ledger
	cfg        LendingConfig
	sink       domain.LoanSink
	collateral map[common.Address]*big.Int // asset -> amount (operator account)
	debt       map[common.Address]*big.Int
	allowance  map[common.Address]*big.Int
}

// NewLendingVenue creates a lending venue over the shared ledger. The loan
// sink is registered separately once the hedge manager exists.
func NewLendingVenue(ledger *Ledger, cfg LendingConfig) *LendingVenue {
	if cfg.LTV == nil {
		cfg.LTV = big.NewInt(750_000_000_000_000_000) // 0.75
	}
	if cfg.LiquidationThreshold == nil {
		cfg.LiquidationThreshold = big.NewInt(800_000_000_000_000_000) // 0.80
	}
	return &LendingVenue{
		ledger:     ledger,
		cfg:        cfg,
		collateral: make(map[common.Address]*big.Int),
		debt:       make(map[common.Address]*big.Int),
		allowance:  make(map[common.Address]*big.Int),
	}
}

// RegisterSink sets the callback target for same-transaction loans.
func (v *LendingVenue) RegisterSink(sink domain.LoanSink) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sink = sink
}

type lendingSnapshot struct {
	balances   map[common.Address]map[common.Address]*big.Int
	collateral map[common.Address]*big.Int
	debt       map[common.Address]*big.Int
	allowance  map[common.Address]*big.Int
}

func (v *LendingVenue) snapshot() lendingSnapshot {
	return lendingSnapshot{
		balances:   v.ledger.snapshot(),
		collateral: copyAmounts(v.collateral),
		debt:       copyAmounts(v.debt),
		allowance:  copyAmounts(v.allowance),
	}
}

func (v *LendingVenue) restore(snap lendingSnapshot) {
	v.ledger.restore(snap.balances)
	v.collateral = snap.collateral
	v.debt = snap.debt
	v.allowance = snap.allowance
}

func copyAmounts(src map[common.Address]*big.Int) map[common.Address]*big.Int {
	cp := make(map[common.Address]*big.Int, len(src))
	for k, val := range src {
		cp[k] = new(big.Int).Set(val)
	}
	return cp
}

// RequestLoan issues an uncollateralized loan of amount in asset, invokes
// the registered sink synchronously, then pulls amount+fee back through the
// operator's allowance. Any callback error, or an unrepayable settlement,
// rolls the whole attempt back.
func (v *LendingVenue) RequestLoan(ctx context.Context, asset common.Address, amount *big.Int, requestID string) error {
	v.mu.Lock()
	if v.sink == nil {
		v.mu.Unlock()
		return fmt.Errorf("sim: request loan: no callback sink registered: %w", domain.ErrVenueUnavailable)
	}
	if amount == nil || amount.Sign() <= 0 {
		v.mu.Unlock()
		return fmt.Errorf("sim: request loan: non-positive amount: %w", domain.ErrInvalidInput)
	}

	fee := new(big.Int).Mul(amount, big.NewInt(v.cfg.LoanFeeBps))
	fee.Quo(fee, big.NewInt(10_000))

	snap := v.snapshot()
	v.ledger.Fund(asset, v.cfg.Operator, amount)
	sink := v.sink
	v.mu.Unlock()

	// The callback re-enters this venue through SupplyCollateral, Borrow and
	// Approve, so the venue lock cannot be held across it.
	if err := sink.OnLoan(ctx, requestID, asset, amount, fee); err != nil {
		v.mu.Lock()
		v.restore(snap)
		v.mu.Unlock()
		return fmt.Errorf("sim: loan callback: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	owed := new(big.Int).Add(amount, fee)
	allowed := v.allowance[asset]
	if allowed == nil || allowed.Cmp(owed) < 0 {
		v.restore(snap)
		return fmt.Errorf("sim: loan settlement: allowance below %s: %w", owed, domain.ErrInsufficientBalance)
	}

	v.ledger.mu.Lock()
	err := v.ledger.debit(asset, v.cfg.Operator, owed)
	v.ledger.mu.Unlock()
	if err != nil {
		v.restore(snap)
		return fmt.Errorf("sim: loan settlement: %w", err)
	}
	allowed.Sub(allowed, owed)
	return nil
}

// SupplyCollateral moves asset from the operator's balance into collateral.
func (v *LendingVenue) SupplyCollateral(ctx context.Context, asset common.Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.ledger.mu.Lock()
	err := v.ledger.debit(asset, v.cfg.Operator, amount)
	v.ledger.mu.Unlock()
	if err != nil {
		return fmt.Errorf("sim: supply collateral: %w", err)
	}
	addTo(v.collateral, asset, amount)
	return nil
}

// Borrow draws asset against posted collateral at par valuation.
func (v *LendingVenue) Borrow(ctx context.Context, asset common.Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	available := v.availableToBorrow()
	if available.Cmp(amount) < 0 {
		return fmt.Errorf("sim: borrow %s exceeds available %s: %w", amount, available, domain.ErrInsufficientBalance)
	}
	addTo(v.debt, asset, amount)
	v.ledger.Fund(asset, v.cfg.Operator, amount)
	return nil
}

// Repay pays down debt in asset from the operator's balance and returns the
// amount actually repaid, capped at the outstanding debt.
func (v *LendingVenue) Repay(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	owed := v.debt[asset]
	if owed == nil || owed.Sign() == 0 {
		return new(big.Int), nil
	}
	pay := new(big.Int).Set(amount)
	if pay.Cmp(owed) > 0 {
		pay.Set(owed)
	}

	v.ledger.mu.Lock()
	err := v.ledger.debit(asset, v.cfg.Operator, pay)
	v.ledger.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("sim: repay: %w", err)
	}
	owed.Sub(owed, pay)
	return pay, nil
}

// Withdraw releases collateral to the given account, capped at what the
// liquidation threshold permits against remaining debt. Returns the amount
// actually withdrawn.
func (v *LendingVenue) Withdraw(ctx context.Context, asset common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	held := v.collateral[asset]
	if held == nil || held.Sign() == 0 {
		return new(big.Int), nil
	}

	// Collateral locked by outstanding debt: debt / liquidationThreshold.
	locked := new(big.Int)
	totalDebt := sumAmounts(v.debt)
	if totalDebt.Sign() > 0 {
		locked.Mul(totalDebt, liquidity.WAD)
		locked.Add(locked, new(big.Int).Sub(v.cfg.LiquidationThreshold, big.NewInt(1)))
		locked.Quo(locked, v.cfg.LiquidationThreshold)
	}

	free := new(big.Int).Sub(sumAmounts(v.collateral), locked)
	if free.Sign() < 0 {
		free.SetInt64(0)
	}
	take := new(big.Int).Set(amount)
	if take.Cmp(held) > 0 {
		take.Set(held)
	}
	if take.Cmp(free) > 0 {
		take.Set(free)
	}
	if take.Sign() <= 0 {
		return new(big.Int), nil
	}

	held.Sub(held, take)
	v.ledger.Fund(asset, to, take)
	return new(big.Int).Set(take), nil
}

// Approve grants the venue permission to pull asset from the operator's
// balance during loan settlement.
func (v *LendingVenue) Approve(ctx context.Context, asset common.Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.allowance[asset] = new(big.Int).Set(amount)
	return nil
}

// AccountStatus reports the operator account at par valuation: every asset
// counts 1:1 toward collateral and debt. A simulation convention, not a
// market model.
func (v *LendingVenue) AccountStatus(ctx context.Context, account common.Address) (domain.AccountStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	collateral := sumAmounts(v.collateral)
	debt := sumAmounts(v.debt)

	available := liquidity.WadMul(collateral, v.cfg.LTV)
	available.Sub(available, debt)
	if available.Sign() < 0 {
		available.SetInt64(0)
	}

	health := new(big.Int)
	if debt.Sign() == 0 {
		// No debt: report a saturated health factor.
		health.Mul(liquidity.WAD, big.NewInt(1_000_000))
	} else {
		weighted := liquidity.WadMul(collateral, v.cfg.LiquidationThreshold)
		health.Mul(weighted, liquidity.WAD)
		health.Quo(health, debt)
	}

	return domain.AccountStatus{
		Collateral:           collateral,
		Debt:                 debt,
		AvailableToBorrow:    available,
		LiquidationThreshold: new(big.Int).Set(v.cfg.LiquidationThreshold),
		LTV:                  new(big.Int).Set(v.cfg.LTV),
		HealthFactor:         health,
	}, nil
}

// BalanceOf reports the ledger balance the venue can observe.
func (v *LendingVenue) BalanceOf(ctx context.Context, asset, account common.Address) (*big.Int, error) {
	return v.ledger.Balance(asset, account), nil
}

// availableToBorrow is the par-valued headroom; callers hold v.mu.
func (v *LendingVenue) availableToBorrow() *big.Int {
	available := liquidity.WadMul(sumAmounts(v.collateral), v.cfg.LTV)
	available.Sub(available, sumAmounts(v.debt))
	if available.Sign() < 0 {
		available.SetInt64(0)
	}
	return available
}

func addTo(m map[common.Address]*big.Int, asset common.Address, amount *big.Int) {
	cur, ok := m[asset]
	if !ok {
		cur = new(big.Int)
		m[asset] = cur
	}
	cur.Add(cur, amount)
}

func sumAmounts(m map[common.Address]*big.Int) *big.Int {
	total := new(big.Int)
	for _, amount := range m {
		total.Add(total, amount)
	}
	return total
}

// Compile-time interface check.
var _ domain.LendingVenue = (*LendingVenue)(nil)
