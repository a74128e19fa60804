// Package crypto manages the operator wallet key: an encrypted keystore
// file and transaction signing for the EVM venue adapters.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Keystore format: scrypt stretches the password into an AES-256 key, GCM
// seals the raw private key. The scrypt cost parameters travel inside the
// file so they can be raised later without breaking old keystores.
const (
	keystoreVersion = 1
	scryptN         = 1 << 17
	scryptR         = 8
	scryptP         = 1
	derivedKeyLen   = 32
	keystoreSaltLen = 16
)

// keystoreFile is the on-disk envelope. All byte fields are hex encoded.
type keystoreFile struct {
	Version int    `json:"version"`
	N       int    `json:"n"`
	R       int    `json:"r"`
	P       int    `json:"p"`
	Salt    string `json:"salt"`
	Nonce   string `json:"nonce"`
	Sealed  string `json:"sealed"`
}

// KeyConfig carries the information LoadKey needs to resolve the operator
// private key. The fields map one-to-one onto the [wallet] config section.
type KeyConfig struct {
	// RawPrivateKey is the hex-encoded private key (with or without 0x
	// prefix). If non-empty, LoadKey returns it directly.
	RawPrivateKey string

	// EncryptedKeyPath is the path to a keystore file produced by EncryptKey.
	EncryptedKeyPath string

	// KeyPassword decrypts the file at EncryptedKeyPath.
	KeyPassword string
}

// normalizeKeyHex strips an optional 0x prefix and checks the key is a
// 32-byte hex string.
func normalizeKeyHex(privateKeyHex string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(raw))
	}
	return raw, nil
}

// sealer builds the AES-256-GCM AEAD for the given password and scrypt
// parameters.
func sealer(password string, salt []byte, n, r, p int) (cipher.AEAD, error) {
	dk, err := scrypt.Key([]byte(password), salt, n, r, p, derivedKeyLen)
	if err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	block, err := aes.NewCipher(dk)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptKey seals a hex-encoded private key under a password and returns
// the keystore file contents.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	raw, err := normalizeKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, keystoreSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := sealer(password, salt, scryptN, scryptR, scryptP)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	return json.MarshalIndent(keystoreFile{
		Version: keystoreVersion,
		N:       scryptN,
		R:       scryptR,
		P:       scryptP,
		Salt:    hex.EncodeToString(salt),
		Nonce:   hex.EncodeToString(nonce),
		Sealed:  hex.EncodeToString(aead.Seal(nil, nonce, raw, nil)),
	}, "", "  ")
}

// DecryptKey opens a keystore produced by EncryptKey and returns the
// hex-encoded private key without 0x prefix.
func DecryptKey(keystore []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	var ks keystoreFile
	if err := json.Unmarshal(keystore, &ks); err != nil {
		return "", fmt.Errorf("crypto: parse keystore: %w", err)
	}
	if ks.Version != keystoreVersion {
		return "", fmt.Errorf("crypto: unsupported keystore version %d", ks.Version)
	}

	salt, err := hex.DecodeString(ks.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: keystore salt: %w", err)
	}
	nonce, err := hex.DecodeString(ks.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: keystore nonce: %w", err)
	}
	sealed, err := hex.DecodeString(ks.Sealed)
	if err != nil {
		return "", fmt.Errorf("crypto: keystore payload: %w", err)
	}

	aead, err := sealer(password, salt, ks.N, ks.R, ks.P)
	if err != nil {
		return "", err
	}
	raw, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// LoadKey resolves the operator private key: a raw key wins, then an
// encrypted keystore file; with neither configured it fails.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		raw, err := normalizeKeyHex(cfg.RawPrivateKey)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(raw), nil
	}
	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read keystore: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}
	return "", errors.New("crypto: no private key source configured (set wallet.private_key or wallet.encrypted_key_path)")
}
