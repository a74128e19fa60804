// Package evm implements the venue ports against the deployment's on-chain
// contracts over JSON-RPC. View calls go through eth_call; state-changing
// operations send signed transactions and read their results back from the
// contract events in the mined receipt.
//
// The sim venue's same-transaction loan becomes an open/settle bracket
// here: the pool advances funds in one transaction, the loan sink runs its
// legs as further transactions, and a final settle pulls the repayment. The
// pool holds the operator's collateral throughout, so an advance that never
// settles is recoverable on the venue side.
package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/amsorrytola/HedgeCraft/internal/crypto"
)

const (
	// receiptPollInterval is how often a pending transaction is re-checked.
	receiptPollInterval = 3 * time.Second
	// gasBufferNum/gasBufferDen pad gas estimates so a near-boundary
	// estimate does not revert on inclusion.
	gasBufferNum = 12
	gasBufferDen = 10
)

// ClientConfig carries the connection parameters for the on-chain venues.
type ClientConfig struct {
	RPCURL         string
	ChainID        int64
	Confirmations  uint64
	ReceiptTimeout time.Duration
	RateLimitRPS   float64
	GasCacheTTL    time.Duration
}

// Client is the shared RPC plumbing behind the venue adapters: one wallet,
// one rate limit, one gas-price cache, and a single-file transaction
// pipeline. Venue adapters hold a *Client and their contract address.
type Client struct {
	eth    *ethclient.Client
	wallet *crypto.Wallet
	logger *slog.Logger

	limiter        *rate.Limiter
	confirmations  uint64
	receiptTimeout time.Duration
	gasTTL         time.Duration

	// sendMu serializes transaction sends; one account owns the nonce.
	sendMu sync.Mutex

	gasMu        sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

// NewClient dials the RPC endpoint and verifies it serves the configured
// chain before any transaction can be signed for the wrong network.
func NewClient(ctx context.Context, cfg ClientConfig, wallet *crypto.Wallet, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial rpc %s: %w", cfg.RPCURL, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("evm: chain id: %w", err)
	}
	if chainID.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("evm: node serves chain %s, config expects %d", chainID, cfg.ChainID)
	}

	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 90 * time.Second
	}
	if cfg.GasCacheTTL <= 0 {
		cfg.GasCacheTTL = 30 * time.Second
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}

	return &Client{
		eth:            eth,
		wallet:         wallet,
		logger:         logger.With(slog.String("component", "evm_client")),
		limiter:        rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		confirmations:  cfg.Confirmations,
		receiptTimeout: cfg.ReceiptTimeout,
		gasTTL:         cfg.GasCacheTTL,
	}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Operator returns the address transactions are sent from.
func (c *Client) Operator() common.Address {
	return c.wallet.Address()
}

// callContract performs a rate-limited eth_call against the latest block.
func (c *Client) callContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("evm: rate limit: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: call %s: %w", to.Hex(), err)
	}
	return out, nil
}

// sendTx signs and sends a transaction carrying data to the contract, then
// blocks until it is mined with the configured confirmation depth. The
// receipt of a successful transaction is returned for event extraction;
// a reverted transaction is an error.
func (c *Client) sendTx(ctx context.Context, to common.Address, data []byte, fallbackGas uint64) (*types.Receipt, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("evm: rate limit: %w", err)
	}

	from := c.wallet.Address()
	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("evm: nonce: %w", err)
	}

	gasPrice, err := c.gasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("evm: gas price: %w", err)
	}

	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       &to,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		gasLimit = fallbackGas
		c.logger.WarnContext(ctx, "gas estimate failed, using fallback",
			slog.String("to", to.Hex()),
			slog.Uint64("fallback", fallbackGas),
			slog.String("error", err.Error()),
		)
	}
	gasLimit = gasLimit * gasBufferNum / gasBufferDen

	tx := types.NewTransaction(nonce, to, new(big.Int), gasLimit, gasPrice, data)
	signed, err := c.wallet.SignTx(tx)
	if err != nil {
		return nil, err
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("evm: send tx: %w", err)
	}

	receiptCtx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	receipt, err := c.waitMined(receiptCtx, signed.Hash())
	if err != nil {
		return nil, fmt.Errorf("evm: tx %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("evm: tx %s reverted", signed.Hash().Hex())
	}
	return receipt, nil
}

// gasPrice returns the current legacy gas price with a short-lived cache
// and a 10% inclusion buffer. A stale cached price beats a guessed one, so
// suggestion failures fall back to the cache before they fail the call.
func (c *Client) gasPrice(ctx context.Context) (*big.Int, error) {
	c.gasMu.RLock()
	cached := c.cachedGasWei
	updatedAt := c.gasUpdatedAt
	c.gasMu.RUnlock()

	if cached != nil && time.Since(updatedAt) < c.gasTTL {
		return cached, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached, nil
		}
		return nil, err
	}

	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	c.gasMu.Lock()
	c.cachedGasWei = buffered
	c.gasUpdatedAt = time.Now()
	c.gasMu.Unlock()

	return buffered, nil
}

// waitMined polls for the receipt until it exists at the configured
// confirmation depth or the context gives up.
func (c *Client) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	var receipt *types.Receipt
	for receipt == nil {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for receipt: %w", ctx.Err())
		case <-ticker.C:
			r, err := c.eth.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue // not yet mined
			}
			receipt = r
		}
	}

	for c.confirmations > 1 {
		head, err := c.eth.BlockNumber(ctx)
		if err == nil && head+1 >= receipt.BlockNumber.Uint64()+c.confirmations {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for confirmations: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return receipt, nil
}

// ensureAllowance grants the spender an exact ERC20 allowance when the
// current one is short. Exact grants keep a compromised spender's reach
// bounded to the operation at hand.
func (c *Client) ensureAllowance(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	data, err := erc20ABI.Pack("allowance", c.wallet.Address(), spender)
	if err != nil {
		return fmt.Errorf("evm: pack allowance: %w", err)
	}
	out, err := c.callContract(ctx, token, data)
	if err != nil {
		return err
	}
	vals, err := erc20ABI.Unpack("allowance", out)
	if err != nil || len(vals) == 0 {
		return fmt.Errorf("evm: unpack allowance: %w", err)
	}
	if current, ok := vals[0].(*big.Int); ok && current.Cmp(amount) >= 0 {
		return nil
	}

	data, err = erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return fmt.Errorf("evm: pack approve: %w", err)
	}
	if _, err := c.sendTx(ctx, token, data, approveGasLimit); err != nil {
		return fmt.Errorf("evm: approve %s for %s: %w", token.Hex(), spender.Hex(), err)
	}
	return nil
}

// erc20BalanceOf reads an ERC20 balance.
func (c *Client) erc20BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("evm: pack balanceOf: %w", err)
	}
	out, err := c.callContract(ctx, token, data)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(vals) == 0 {
		return nil, fmt.Errorf("evm: unpack balanceOf: %w", err)
	}
	bal, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("evm: balanceOf returned %T", vals[0])
	}
	return bal, nil
}

// eventData finds the first log the contract emitted for the named event in
// the receipt and unpacks its data. Venue contracts emit result events with
// non-indexed fields, so everything lives in the data segment.
func eventData(a abi.ABI, receipt *types.Receipt, contract common.Address, name string) ([]any, error) {
	ev, ok := a.Events[name]
	if !ok {
		return nil, fmt.Errorf("evm: unknown event %q", name)
	}
	for _, lg := range receipt.Logs {
		if lg.Address != contract || len(lg.Topics) == 0 || lg.Topics[0] != ev.ID {
			continue
		}
		vals, err := ev.Inputs.Unpack(lg.Data)
		if err != nil {
			return nil, fmt.Errorf("evm: unpack %s: %w", name, err)
		}
		return vals, nil
	}
	return nil, fmt.Errorf("evm: receipt %s carries no %s event", receipt.TxHash.Hex(), name)
}

// eventBig extracts a *big.Int value from unpacked event data.
func eventBig(vals []any, i int) (*big.Int, error) {
	if i >= len(vals) {
		return nil, fmt.Errorf("evm: event value %d missing", i)
	}
	v, ok := vals[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("evm: event value %d is %T, want *big.Int", i, vals[i])
	}
	return v, nil
}
