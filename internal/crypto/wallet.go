package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Wallet holds the operator's secp256k1 key and signs transactions and
// digests for the EVM venue adapters.
type Wallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	signer     types.Signer
	chainID    *big.Int
}

// NewWallet creates a Wallet from a hex-encoded private key and the target
// chain ID. The signer is EIP-155 replay-protected and accepts dynamic-fee
// transactions.
func NewWallet(privateKeyHex string, chainID int64) (*Wallet, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	id := big.NewInt(chainID)
	return &Wallet{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		signer:     types.LatestSignerForChainID(id),
		chainID:    id,
	}, nil
}

// Address returns the address derived from the wallet key.
func (w *Wallet) Address() common.Address {
	return w.address
}

// ChainID returns the chain the wallet signs for.
func (w *Wallet) ChainID() *big.Int {
	return new(big.Int).Set(w.chainID)
}

// SignTx signs the transaction for the wallet's chain.
func (w *Wallet) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, w.signer, w.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign tx: %w", err)
	}
	return signed, nil
}

// SignDigest signs a 32-byte keccak digest and returns the 65-byte
// r||s||v signature with v in {0,1}. RecoverSigner inverts it.
func (w *Wallet) SignDigest(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("crypto: digest must be 32 bytes, got %d", len(digest))
	}
	sig, err := ethcrypto.Sign(digest, w.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign digest: %w", err)
	}
	return sig, nil
}

// RecoverSigner returns the address that produced sig over digest.
func RecoverSigner(digest, sig []byte) (common.Address, error) {
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// RequestDigest computes the keccak digest binding a flash-loan request to
// its parameters. The EVM lending adapter embeds it in the loan call and
// re-derives it when the callback arrives, so a callback carrying the right
// request id but altered asset or amount still fails verification.
func RequestDigest(requestID string, asset common.Address, amount *big.Int) common.Hash {
	amt := amount
	if amt == nil {
		amt = new(big.Int)
	}
	return common.BytesToHash(ethcrypto.Keccak256(
		[]byte(requestID),
		asset.Bytes(),
		common.LeftPadBytes(amt.Bytes(), 32),
	))
}
