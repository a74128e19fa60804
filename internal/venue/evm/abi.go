package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Gas fallbacks used when estimation fails (conservative upper bounds).
const (
	approveGasLimit   = uint64(80_000)
	liquidityGasLimit = uint64(600_000)
	lendingGasLimit   = uint64(400_000)
	swapGasLimit      = uint64(350_000)
)

// Contract ABIs for the deployment's venue contracts. State-changing calls
// report results through events; views return values directly.
var (
	positionManagerABI abi.ABI
	lendingPoolABI     abi.ABI
	swapRouterABI      abi.ABI
	erc20ABI           abi.ABI
)

func init() {
	var err error

	positionManagerABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "openLeg",
			"type": "function",
			"inputs": [
				{"name": "base", "type": "address"},
				{"name": "quote", "type": "address"},
				{"name": "amount0", "type": "uint256"},
				{"name": "amount1", "type": "uint256"},
				{"name": "lowerPrice", "type": "uint256"},
				{"name": "upperPrice", "type": "uint256"},
				{"name": "recipient", "type": "address"}
			],
			"outputs": []
		},
		{
			"name": "increaseLeg",
			"type": "function",
			"inputs": [
				{"name": "legId", "type": "uint256"},
				{"name": "amount0", "type": "uint256"},
				{"name": "amount1", "type": "uint256"}
			],
			"outputs": []
		},
		{
			"name": "decreaseLeg",
			"type": "function",
			"inputs": [
				{"name": "legId", "type": "uint256"},
				{"name": "liquidity", "type": "uint256"}
			],
			"outputs": []
		},
		{
			"name": "collectFees",
			"type": "function",
			"inputs": [{"name": "legId", "type": "uint256"}],
			"outputs": []
		},
		{
			"name": "legDetails",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "legId", "type": "uint256"}],
			"outputs": [
				{"name": "liquidity", "type": "uint256"},
				{"name": "owed0", "type": "uint256"},
				{"name": "owed1", "type": "uint256"}
			]
		},
		{
			"name": "LegOpened",
			"type": "event",
			"inputs": [
				{"name": "legId", "type": "uint256", "indexed": false},
				{"name": "liquidity", "type": "uint256", "indexed": false},
				{"name": "used0", "type": "uint256", "indexed": false},
				{"name": "used1", "type": "uint256", "indexed": false}
			]
		},
		{
			"name": "LegIncreased",
			"type": "event",
			"inputs": [
				{"name": "legId", "type": "uint256", "indexed": false},
				{"name": "liquidity", "type": "uint256", "indexed": false},
				{"name": "used0", "type": "uint256", "indexed": false},
				{"name": "used1", "type": "uint256", "indexed": false}
			]
		},
		{
			"name": "LegDecreased",
			"type": "event",
			"inputs": [
				{"name": "legId", "type": "uint256", "indexed": false},
				{"name": "amount0", "type": "uint256", "indexed": false},
				{"name": "amount1", "type": "uint256", "indexed": false}
			]
		},
		{
			"name": "FeesCollected",
			"type": "event",
			"inputs": [
				{"name": "legId", "type": "uint256", "indexed": false},
				{"name": "fees0", "type": "uint256", "indexed": false},
				{"name": "fees1", "type": "uint256", "indexed": false}
			]
		}
	]`))
	if err != nil {
		panic("position manager abi parse: " + err.Error())
	}

	lendingPoolABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "openLoan",
			"type": "function",
			"inputs": [
				{"name": "asset", "type": "address"},
				{"name": "amount", "type": "uint256"},
				{"name": "digest", "type": "bytes32"}
			],
			"outputs": []
		},
		{
			"name": "settleLoan",
			"type": "function",
			"inputs": [{"name": "digest", "type": "bytes32"}],
			"outputs": []
		},
		{
			"name": "cancelLoan",
			"type": "function",
			"inputs": [{"name": "digest", "type": "bytes32"}],
			"outputs": []
		},
		{
			"name": "supply",
			"type": "function",
			"inputs": [
				{"name": "asset", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": []
		},
		{
			"name": "borrow",
			"type": "function",
			"inputs": [
				{"name": "asset", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": []
		},
		{
			"name": "repay",
			"type": "function",
			"inputs": [
				{"name": "asset", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": []
		},
		{
			"name": "withdraw",
			"type": "function",
			"inputs": [
				{"name": "asset", "type": "address"},
				{"name": "amount", "type": "uint256"},
				{"name": "to", "type": "address"}
			],
			"outputs": []
		},
		{
			"name": "accountStatus",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "account", "type": "address"}],
			"outputs": [
				{"name": "collateral", "type": "uint256"},
				{"name": "debt", "type": "uint256"},
				{"name": "available", "type": "uint256"},
				{"name": "liquidationThreshold", "type": "uint256"},
				{"name": "ltv", "type": "uint256"},
				{"name": "healthFactor", "type": "uint256"}
			]
		},
		{
			"name": "LoanAdvanced",
			"type": "event",
			"inputs": [
				{"name": "digest", "type": "bytes32", "indexed": false},
				{"name": "asset", "type": "address", "indexed": false},
				{"name": "amount", "type": "uint256", "indexed": false},
				{"name": "fee", "type": "uint256", "indexed": false}
			]
		},
		{
			"name": "Repaid",
			"type": "event",
			"inputs": [
				{"name": "asset", "type": "address", "indexed": false},
				{"name": "amount", "type": "uint256", "indexed": false}
			]
		},
		{
			"name": "Withdrawn",
			"type": "event",
			"inputs": [
				{"name": "asset", "type": "address", "indexed": false},
				{"name": "amount", "type": "uint256", "indexed": false}
			]
		}
	]`))
	if err != nil {
		panic("lending pool abi parse: " + err.Error())
	}

	swapRouterABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "swapExactIn",
			"type": "function",
			"inputs": [
				{"name": "tokenIn", "type": "address"},
				{"name": "tokenOut", "type": "address"},
				{"name": "amountIn", "type": "uint256"},
				{"name": "minAmountOut", "type": "uint256"},
				{"name": "deadline", "type": "uint256"},
				{"name": "recipient", "type": "address"}
			],
			"outputs": []
		},
		{
			"name": "quoteExactIn",
			"type": "function",
			"stateMutability": "view",
			"inputs": [
				{"name": "tokenIn", "type": "address"},
				{"name": "tokenOut", "type": "address"},
				{"name": "amountIn", "type": "uint256"}
			],
			"outputs": [{"name": "amountOut", "type": "uint256"}]
		},
		{
			"name": "spotPrice",
			"type": "function",
			"stateMutability": "view",
			"inputs": [
				{"name": "tokenIn", "type": "address"},
				{"name": "tokenOut", "type": "address"}
			],
			"outputs": [{"name": "price", "type": "uint256"}]
		},
		{
			"name": "SwapExecuted",
			"type": "event",
			"inputs": [
				{"name": "tokenIn", "type": "address", "indexed": false},
				{"name": "tokenOut", "type": "address", "indexed": false},
				{"name": "amountIn", "type": "uint256", "indexed": false},
				{"name": "amountOut", "type": "uint256", "indexed": false}
			]
		}
	]`))
	if err != nil {
		panic("swap router abi parse: " + err.Error())
	}

	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "approve",
			"type": "function",
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		},
		{
			"name": "allowance",
			"type": "function",
			"stateMutability": "view",
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "balanceOf",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "account", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}
}
