package evm

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amsorrytola/HedgeCraft/internal/crypto"
	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

var (
	testContract = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	testAsset    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testOwner    = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

func TestABIPackFunctions(t *testing.T) {
	amount := big.NewInt(1_000_000)
	digest := crypto.RequestDigest("req-1", testAsset, amount)

	cases := []struct {
		name string
		pack func() ([]byte, error)
	}{
		{"openLeg", func() ([]byte, error) {
			return positionManagerABI.Pack("openLeg", testAsset, testOwner, amount, amount, big.NewInt(1), big.NewInt(2), testOwner)
		}},
		{"increaseLeg", func() ([]byte, error) {
			return positionManagerABI.Pack("increaseLeg", big.NewInt(7), amount, amount)
		}},
		{"decreaseLeg", func() ([]byte, error) {
			return positionManagerABI.Pack("decreaseLeg", big.NewInt(7), amount)
		}},
		{"collectFees", func() ([]byte, error) {
			return positionManagerABI.Pack("collectFees", big.NewInt(7))
		}},
		{"legDetails", func() ([]byte, error) {
			return positionManagerABI.Pack("legDetails", big.NewInt(7))
		}},
		{"openLoan", func() ([]byte, error) {
			return lendingPoolABI.Pack("openLoan", testAsset, amount, digest)
		}},
		{"settleLoan", func() ([]byte, error) {
			return lendingPoolABI.Pack("settleLoan", digest)
		}},
		{"cancelLoan", func() ([]byte, error) {
			return lendingPoolABI.Pack("cancelLoan", digest)
		}},
		{"supply", func() ([]byte, error) {
			return lendingPoolABI.Pack("supply", testAsset, amount)
		}},
		{"borrow", func() ([]byte, error) {
			return lendingPoolABI.Pack("borrow", testAsset, amount)
		}},
		{"repay", func() ([]byte, error) {
			return lendingPoolABI.Pack("repay", testAsset, amount)
		}},
		{"withdraw", func() ([]byte, error) {
			return lendingPoolABI.Pack("withdraw", testAsset, amount, testOwner)
		}},
		{"accountStatus", func() ([]byte, error) {
			return lendingPoolABI.Pack("accountStatus", testOwner)
		}},
		{"swapExactIn", func() ([]byte, error) {
			return swapRouterABI.Pack("swapExactIn", testAsset, testOwner, amount, amount, big.NewInt(0), testOwner)
		}},
		{"quoteExactIn", func() ([]byte, error) {
			return swapRouterABI.Pack("quoteExactIn", testAsset, testOwner, amount)
		}},
		{"spotPrice", func() ([]byte, error) {
			return swapRouterABI.Pack("spotPrice", testAsset, testOwner)
		}},
		{"approve", func() ([]byte, error) {
			return erc20ABI.Pack("approve", testContract, amount)
		}},
		{"allowance", func() ([]byte, error) {
			return erc20ABI.Pack("allowance", testOwner, testContract)
		}},
		{"balanceOf", func() ([]byte, error) {
			return erc20ABI.Pack("balanceOf", testOwner)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := tc.pack()
			require.NoError(t, err)
			// Selector plus at least one word of arguments.
			assert.GreaterOrEqual(t, len(data), 4+32)
		})
	}
}

// receiptWithEvent builds a mined receipt carrying one log for the named
// event, with the given non-indexed values packed into the log data.
func receiptWithEvent(t *testing.T, contract common.Address, name string, vals ...any) *types.Receipt {
	t.Helper()
	ev, ok := lendingPoolABI.Events[name]
	if !ok {
		ev, ok = positionManagerABI.Events[name]
	}
	if !ok {
		ev, ok = swapRouterABI.Events[name]
	}
	require.True(t, ok, "event %s not defined", name)

	data, err := ev.Inputs.Pack(vals...)
	require.NoError(t, err)
	return &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		TxHash: common.HexToHash("0x01"),
		Logs: []*types.Log{{
			Address: contract,
			Topics:  []common.Hash{ev.ID},
			Data:    data,
		}},
	}
}

func TestEventDataRoundTrip(t *testing.T) {
	receipt := receiptWithEvent(t, testContract, "LegOpened",
		big.NewInt(7), big.NewInt(5000), big.NewInt(100), big.NewInt(200))

	vals, err := eventData(positionManagerABI, receipt, testContract, "LegOpened")
	require.NoError(t, err)
	require.Len(t, vals, 4)

	legID, err := eventBig(vals, 0)
	require.NoError(t, err)
	assert.Equal(t, "7", legID.String())
	used1, err := eventBig(vals, 3)
	require.NoError(t, err)
	assert.Equal(t, "200", used1.String())
}

func TestEventDataLoanAdvanced(t *testing.T) {
	amount := big.NewInt(625)
	digest := crypto.RequestDigest("loan-1", testAsset, amount)
	receipt := receiptWithEvent(t, testContract, "LoanAdvanced",
		digest, testAsset, amount, big.NewInt(3))

	vals, err := eventData(lendingPoolABI, receipt, testContract, "LoanAdvanced")
	require.NoError(t, err)

	advDigest, ok := vals[0].([32]byte)
	require.True(t, ok, "digest is %T", vals[0])
	assert.Equal(t, digest, common.Hash(advDigest))
	advAsset, ok := vals[1].(common.Address)
	require.True(t, ok)
	assert.Equal(t, testAsset, advAsset)
	fee, err := eventBig(vals, 3)
	require.NoError(t, err)
	assert.Equal(t, "3", fee.String())
}

func TestEventDataMissingEvent(t *testing.T) {
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: common.HexToHash("0x02")}

	_, err := eventData(positionManagerABI, receipt, testContract, "LegOpened")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carries no LegOpened event")
}

func TestEventDataIgnoresOtherContracts(t *testing.T) {
	other := common.HexToAddress("0x00000000000000000000000000000000000000c2")
	receipt := receiptWithEvent(t, other, "LegOpened",
		big.NewInt(7), big.NewInt(5000), big.NewInt(100), big.NewInt(200))

	_, err := eventData(positionManagerABI, receipt, testContract, "LegOpened")
	require.Error(t, err)
}

func TestEventDataUnknownEvent(t *testing.T) {
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful}

	_, err := eventData(positionManagerABI, receipt, testContract, "NoSuchEvent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event")
}

func TestEventBig(t *testing.T) {
	vals := []any{big.NewInt(42), "not a number"}

	got, err := eventBig(vals, 0)
	require.NoError(t, err)
	assert.Equal(t, "42", got.String())

	_, err = eventBig(vals, 1)
	assert.Error(t, err)
	_, err = eventBig(vals, 5)
	assert.Error(t, err)
}

func TestParseLegID(t *testing.T) {
	id, err := parseLegID("123456789012345678901234567890")
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", id.String())

	_, err = parseLegID("leg-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}
