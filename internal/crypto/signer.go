// Package crypto signs and verifies wallet messages (EIP-191 personal_sign)
// and keeps operator keys encrypted at rest.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrBadSignature is returned when a signature is malformed or was not
// produced by the expected address.
var ErrBadSignature = errors.New("crypto: bad signature")

// Signer holds a secp256k1 key and signs human-readable messages the way
// wallets do for personal_sign.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex private key, with or without 0x.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &Signer{key: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return &Signer{key: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

func (s *Signer) Address() common.Address { return s.address }

// PrivateKeyHex returns the key without 0x, for EncryptKey.
func (s *Signer) PrivateKeyHex() string {
	return hex.EncodeToString(ethcrypto.FromECDSA(s.key))
}

// SignMessage returns the 65-byte r||s||v signature of the EIP-191 hash of
// msg, hex encoded with 0x and v in {27,28}.
func (s *Signer) SignMessage(msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return "", fmt.Errorf("crypto: sign: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverAddress returns the address whose key produced sigHex over msg.
// Both v encodings ({0,1} and {27,28}) are accepted.
func RecoverAddress(msg []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, fmt.Errorf("%w: want 65 hex bytes", ErrBadSignature)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrBadSignature, sig[64])
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyMessage checks that sigHex over msg was made by want.
func VerifyMessage(want common.Address, msg []byte, sigHex string) error {
	got, err := RecoverAddress(msg, sigHex)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: signed by %s, not %s", ErrBadSignature, got.Hex(), want.Hex())
	}
	return nil
}
