package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/amsorrytola/HedgeCraft/internal/crypto"
	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

// LendingVenue drives the deployment's lending-pool contract. A loan
// request is an open/settle bracket: openLoan advances the funds and
// records a digest binding asset and amount to the request, the registered
// sink runs the in-between legs, and settleLoan pulls the repayment the
// sink approved. The digest from the pool's LoanAdvanced event must match
// the locally computed one before the sink sees a single wei.
type LendingVenue struct {
	client *Client
	pool   common.Address
	logger *slog.Logger

	mu   sync.RWMutex
	sink domain.LoanSink
}

// NewLendingVenue binds a client to the lending-pool contract. The sink is
// registered separately once the hedge manager exists.
func NewLendingVenue(client *Client, pool common.Address, logger *slog.Logger) *LendingVenue {
	return &LendingVenue{
		client: client,
		pool:   pool,
		logger: logger.With(slog.String("component", "evm_lending")),
	}
}

// RegisterSink sets the callback target for loan requests.
func (v *LendingVenue) RegisterSink(sink domain.LoanSink) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sink = sink
}

// RequestLoan advances amount of asset from the pool, runs the sink's
// callback, and settles the advance plus fee from the allowance the
// callback granted. A callback error cancels the advance before the error
// surfaces.
func (v *LendingVenue) RequestLoan(ctx context.Context, asset common.Address, amount *big.Int, requestID string) error {
	v.mu.RLock()
	sink := v.sink
	v.mu.RUnlock()
	if sink == nil {
		return fmt.Errorf("evm: request loan: no callback sink registered: %w", domain.ErrVenueUnavailable)
	}

	digest := crypto.RequestDigest(requestID, asset, amount)
	data, err := lendingPoolABI.Pack("openLoan", asset, amount, digest)
	if err != nil {
		return fmt.Errorf("evm: pack openLoan: %w", err)
	}
	receipt, err := v.client.sendTx(ctx, v.pool, data, lendingGasLimit)
	if err != nil {
		return fmt.Errorf("evm: open loan %s: %w", requestID, err)
	}

	vals, err := eventData(lendingPoolABI, receipt, v.pool, "LoanAdvanced")
	if err != nil {
		return fmt.Errorf("evm: open loan %s: %w", requestID, err)
	}
	advDigest, ok := vals[0].([32]byte)
	if !ok {
		return fmt.Errorf("evm: open loan %s: digest is %T", requestID, vals[0])
	}
	advAsset, ok := vals[1].(common.Address)
	if !ok {
		return fmt.Errorf("evm: open loan %s: asset is %T", requestID, vals[1])
	}
	advAmount, err := eventBig(vals, 2)
	if err != nil {
		return err
	}
	fee, err := eventBig(vals, 3)
	if err != nil {
		return err
	}
	if common.Hash(advDigest) != digest || advAsset != asset || advAmount.Cmp(amount) != 0 {
		v.cancelLoan(ctx, digest)
		return fmt.Errorf("evm: open loan %s: advance does not match request: %w", requestID, domain.ErrUnauthorizedCallback)
	}

	if err := sink.OnLoan(ctx, requestID, asset, advAmount, fee); err != nil {
		v.cancelLoan(ctx, digest)
		return fmt.Errorf("evm: loan callback %s: %w", requestID, err)
	}

	data, err = lendingPoolABI.Pack("settleLoan", digest)
	if err != nil {
		return fmt.Errorf("evm: pack settleLoan: %w", err)
	}
	if _, err := v.client.sendTx(ctx, v.pool, data, lendingGasLimit); err != nil {
		// The advance is outstanding but the pool holds the operator's
		// collateral, so recovery is a venue-side claim, not lost funds.
		v.logger.ErrorContext(ctx, "loan settlement failed, advance outstanding",
			slog.String("request_id", requestID),
			slog.String("digest", common.Hash(digest).Hex()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("evm: settle loan %s: %w", requestID, err)
	}
	return nil
}

// cancelLoan returns an advance after a failed callback. Best effort: a
// failure here leaves the advance outstanding against the operator's
// collateral and is only logged.
func (v *LendingVenue) cancelLoan(ctx context.Context, digest common.Hash) {
	data, err := lendingPoolABI.Pack("cancelLoan", digest)
	if err == nil {
		_, err = v.client.sendTx(ctx, v.pool, data, lendingGasLimit)
	}
	if err != nil {
		v.logger.ErrorContext(ctx, "loan cancel failed, advance outstanding",
			slog.String("digest", digest.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// SupplyCollateral deposits amount of asset into the pool. The pool pulls
// via transferFrom, so the call grants the allowance first.
func (v *LendingVenue) SupplyCollateral(ctx context.Context, asset common.Address, amount *big.Int) error {
	if err := v.client.ensureAllowance(ctx, asset, v.pool, amount); err != nil {
		return fmt.Errorf("evm: supply collateral: %w", err)
	}
	data, err := lendingPoolABI.Pack("supply", asset, amount)
	if err != nil {
		return fmt.Errorf("evm: pack supply: %w", err)
	}
	if _, err := v.client.sendTx(ctx, v.pool, data, lendingGasLimit); err != nil {
		return fmt.Errorf("evm: supply collateral: %w", err)
	}
	return nil
}

// Borrow draws amount of asset against the supplied collateral.
func (v *LendingVenue) Borrow(ctx context.Context, asset common.Address, amount *big.Int) error {
	data, err := lendingPoolABI.Pack("borrow", asset, amount)
	if err != nil {
		return fmt.Errorf("evm: pack borrow: %w", err)
	}
	if _, err := v.client.sendTx(ctx, v.pool, data, lendingGasLimit); err != nil {
		return fmt.Errorf("evm: borrow: %w", err)
	}
	return nil
}

// Repay pays down debt and returns the amount the pool actually took,
// which is less than requested when the debt was smaller.
func (v *LendingVenue) Repay(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	if err := v.client.ensureAllowance(ctx, asset, v.pool, amount); err != nil {
		return nil, fmt.Errorf("evm: repay: %w", err)
	}
	data, err := lendingPoolABI.Pack("repay", asset, amount)
	if err != nil {
		return nil, fmt.Errorf("evm: pack repay: %w", err)
	}
	receipt, err := v.client.sendTx(ctx, v.pool, data, lendingGasLimit)
	if err != nil {
		return nil, fmt.Errorf("evm: repay: %w", err)
	}

	vals, err := eventData(lendingPoolABI, receipt, v.pool, "Repaid")
	if err != nil {
		return nil, err
	}
	return eventBig(vals, 1)
}

// Withdraw releases collateral to the given account and returns the amount
// the pool actually released.
func (v *LendingVenue) Withdraw(ctx context.Context, asset common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	data, err := lendingPoolABI.Pack("withdraw", asset, amount, to)
	if err != nil {
		return nil, fmt.Errorf("evm: pack withdraw: %w", err)
	}
	receipt, err := v.client.sendTx(ctx, v.pool, data, lendingGasLimit)
	if err != nil {
		return nil, fmt.Errorf("evm: withdraw: %w", err)
	}

	vals, err := eventData(lendingPoolABI, receipt, v.pool, "Withdrawn")
	if err != nil {
		return nil, err
	}
	return eventBig(vals, 1)
}

// Approve grants the pool an allowance over asset, authorizing the next
// settlement pull.
func (v *LendingVenue) Approve(ctx context.Context, asset common.Address, amount *big.Int) error {
	data, err := erc20ABI.Pack("approve", v.pool, amount)
	if err != nil {
		return fmt.Errorf("evm: pack approve: %w", err)
	}
	if _, err := v.client.sendTx(ctx, asset, data, approveGasLimit); err != nil {
		return fmt.Errorf("evm: approve: %w", err)
	}
	return nil
}

// AccountStatus reads the pool's view of an account.
func (v *LendingVenue) AccountStatus(ctx context.Context, account common.Address) (domain.AccountStatus, error) {
	data, err := lendingPoolABI.Pack("accountStatus", account)
	if err != nil {
		return domain.AccountStatus{}, fmt.Errorf("evm: pack accountStatus: %w", err)
	}
	out, err := v.client.callContract(ctx, v.pool, data)
	if err != nil {
		return domain.AccountStatus{}, fmt.Errorf("evm: account status: %w", err)
	}

	vals, err := lendingPoolABI.Unpack("accountStatus", out)
	if err != nil {
		return domain.AccountStatus{}, fmt.Errorf("evm: unpack accountStatus: %w", err)
	}
	var status domain.AccountStatus
	for i, dst := range []**big.Int{
		&status.Collateral, &status.Debt, &status.AvailableToBorrow,
		&status.LiquidationThreshold, &status.LTV, &status.HealthFactor,
	} {
		val, err := eventBig(vals, i)
		if err != nil {
			return domain.AccountStatus{}, err
		}
		*dst = val
	}
	return status, nil
}

// BalanceOf reads an ERC20 balance.
func (v *LendingVenue) BalanceOf(ctx context.Context, asset, account common.Address) (*big.Int, error) {
	return v.client.erc20BalanceOf(ctx, asset, account)
}

// Compile-time interface check.
var _ domain.LendingVenue = (*LendingVenue)(nil)
