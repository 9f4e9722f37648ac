package auth

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

// DefaultMessage is the plaintext wallets sign to authenticate.
const DefaultMessage = "we're going higherrrrrrr"

// ErrInvalidSignature is returned when no signer can be recovered.
var ErrInvalidSignature = errors.New("invalid signature")

// DecodeSignature parses a hex signature with or without a 0x prefix.
func DecodeSignature(value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if trimmed == "" {
		return nil, ErrInvalidSignature
	}
	sig, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return sig, nil
}

// RecoverSigner returns the address whose key produced signature over the
// EIP-191 personal message hash of message. It only recovers; callers that
// hold a claimed address must compare it themselves.
func RecoverSigner(message string, signature []byte) (common.Address, error) {
	if len(signature) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, ethcrypto.SignatureLength, len(signature))
	}
	sig := make([]byte, ethcrypto.SignatureLength)
	copy(sig, signature)
	// Wallets emit v as 27/28.
	if sig[ethcrypto.RecoveryIDOffset] >= 27 {
		sig[ethcrypto.RecoveryIDOffset] -= 27
	}
	if sig[ethcrypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id out of range", ErrInvalidSignature)
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if pub == nil {
		return common.Address{}, ErrInvalidSignature
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// SignMessage produces a wallet-style personal_sign signature (v = 27/28).
func SignMessage(message string, key *ecdsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, errors.New("signing key required")
	}
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	sig[ethcrypto.RecoveryIDOffset] += 27
	return sig, nil
}

// AuthorizationValue formats the Authorization header for a signed message.
func AuthorizationValue(address common.Address, signature []byte) string {
	return "Bearer " + strings.ToLower(address.Hex()) + ":0x" + hex.EncodeToString(signature)
}
