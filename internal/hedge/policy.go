package hedge

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

// RiskPolicy sizes the short borrow against posted collateral. The
// lifecycle state machine never sizes borrows itself, so a deployment can
// swap in an oracle-priced, health-factor-aware policy without touching it.
type RiskPolicy interface {
	BorrowAmount(ctx context.Context, collateralAsset, shortedAsset common.Address, collateral *big.Int) (*big.Int, error)
}

// FixedFractionPolicy borrows a flat fraction of the posted collateral,
// expressed in basis points. It consults no oracle: a deliberately
// conservative placeholder, kept well under venue LTV limits so the
// position opens clear of margin-call territory.
type FixedFractionPolicy struct {
	Bps int64
}

// BorrowAmount returns collateral * Bps / 10000.
func (p FixedFractionPolicy) BorrowAmount(ctx context.Context, collateralAsset, shortedAsset common.Address, collateral *big.Int) (*big.Int, error) {
	if p.Bps <= 0 || p.Bps >= 10_000 {
		return nil, fmt.Errorf("hedge: borrow fraction %d bps outside (0, 10000): %w", p.Bps, domain.ErrInvalidInput)
	}
	if collateral == nil || collateral.Sign() <= 0 {
		return nil, fmt.Errorf("hedge: borrow sizing needs positive collateral: %w", domain.ErrInvalidInput)
	}
	amount := new(big.Int).Mul(collateral, big.NewInt(p.Bps))
	return amount.Quo(amount, big.NewInt(10_000)), nil
}
