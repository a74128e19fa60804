// Package sim provides deterministic in-memory implementations of the
// liquidity, lending and swap venue ports. The lending venue honors the
// same-transaction loan contract: every balance mutation made during a loan
// callback is rolled back if the callback errors or the loan is not repaid,
// so tests and the demo mode exercise the exact atomicity the engine relies
// on in production.
package sim

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

// Ledger tracks per-asset, per-account token balances. The lending and swap
// venues share one Ledger so a swap executed inside a loan callback is
// visible to the loan settlement.
type Ledger struct {
	mu       sync.Mutex
	balances map[common.Address]map[common.Address]*big.Int // asset -> account -> amount
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Fund credits an account with an asset, creating the entry when absent.
// Test and demo setup use it to seed starting balances.
func (l *Ledger) Fund(asset, account common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(asset, account, amount)
}

// Balance returns a copy of the account's balance in the given asset.
func (l *Ledger) Balance(asset, account common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[asset][account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// credit and debit are the lock-free internals; callers hold l.mu.

func (l *Ledger) credit(asset, account common.Address, amount *big.Int) {
	accounts, ok := l.balances[asset]
	if !ok {
		accounts = make(map[common.Address]*big.Int)
		l.balances[asset] = accounts
	}
	cur, ok := accounts[account]
	if !ok {
		cur = new(big.Int)
		accounts[account] = cur
	}
	cur.Add(cur, amount)
}

func (l *Ledger) debit(asset, account common.Address, amount *big.Int) error {
	cur, ok := l.balances[asset][account]
	if !ok || cur.Cmp(amount) < 0 {
		return fmt.Errorf("sim: debit %s from %s: %w", amount, account.Hex(), domain.ErrInsufficientBalance)
	}
	cur.Sub(cur, amount)
	return nil
}

// Transfer moves an amount between two accounts of the same asset.
func (l *Ledger) Transfer(asset, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(asset, from, amount); err != nil {
		return err
	}
	l.credit(asset, to, amount)
	return nil
}

// snapshot deep-copies the balance table.
func (l *Ledger) snapshot() map[common.Address]map[common.Address]*big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := make(map[common.Address]map[common.Address]*big.Int, len(l.balances))
	for asset, accounts := range l.balances {
		cp := make(map[common.Address]*big.Int, len(accounts))
		for account, amount := range accounts {
			cp[account] = new(big.Int).Set(amount)
		}
		snap[asset] = cp
	}
	return snap
}

// restore replaces the balance table with a snapshot.
func (l *Ledger) restore(snap map[common.Address]map[common.Address]*big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = snap
}
