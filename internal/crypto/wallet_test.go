package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletAddress(t *testing.T) {
	w, err := NewWallet(testKeyHex, 8453)
	require.NoError(t, err)
	assert.Equal(t,
		common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		w.Address(),
	)
}

func TestNewWalletRejectsBadKey(t *testing.T) {
	_, err := NewWallet("not-hex", 8453)
	assert.Error(t, err)
}

func TestWalletSignTx(t *testing.T) {
	w, err := NewWallet(testKeyHex, 8453)
	require.NoError(t, err)

	to := common.HexToAddress("0x0000000000000000000000000000000000000042")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(8453),
		Nonce:     1,
		GasTipCap: big.NewInt(1_000_000),
		GasFeeCap: big.NewInt(50_000_000),
		Gas:       21_000,
		To:        &to,
		Value:     big.NewInt(0),
	})

	signed, err := w.SignTx(tx)
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(8453)), signed)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), sender)
}

func TestSignDigestRecover(t *testing.T) {
	w, err := NewWallet(testKeyHex, 8453)
	require.NoError(t, err)

	digest := ethcrypto.Keccak256([]byte("loan request"))
	sig, err := w.SignDigest(digest)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	signer, err := RecoverSigner(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), signer)

	_, err = w.SignDigest([]byte("short"))
	assert.Error(t, err)
}

func TestRequestDigestBindsParameters(t *testing.T) {
	asset := common.HexToAddress("0x01")
	base := RequestDigest("req-1", asset, big.NewInt(1000))

	assert.Equal(t, base, RequestDigest("req-1", asset, big.NewInt(1000)))
	assert.NotEqual(t, base, RequestDigest("req-2", asset, big.NewInt(1000)))
	assert.NotEqual(t, base, RequestDigest("req-1", common.HexToAddress("0x02"), big.NewInt(1000)))
	assert.NotEqual(t, base, RequestDigest("req-1", asset, big.NewInt(1001)))
}
