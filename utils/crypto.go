package utils

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// DecodeSignature decodes a 65-byte R||S||V hex signature and normalizes V to 0/1.
func DecodeSignature(signature string) ([]byte, error) {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature: %w", err)
	}

	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}

	if sigBytes[64] >= 27 {
		sigBytes[64] -= 27
	}

	return sigBytes, nil
}

// RecoverAddressFromSignature recovers the Ethereum address from a signature
func RecoverAddressFromSignature(hash []byte, signature string) (common.Address, error) {
	sigBytes, err := DecodeSignature(signature)
	if err != nil {
		return common.Address{}, err
	}

	pubKey, err := crypto.SigToPub(hash, sigBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

// PrivateKeyFromHex creates a private key from hex string
func PrivateKeyFromHex(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
}

// SignHash signs a 32-byte digest and returns a 0x signature with V in 27/28.
func SignHash(hash []byte, privateKey *ecdsa.PrivateKey) (string, error) {
	signature, err := crypto.Sign(hash, privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign hash: %w", err)
	}
	signature[64] += 27

	return hexutil.Encode(signature), nil
}

// SignPersonalMessage signs message with the personal_sign prefix.
func SignPersonalMessage(message string, privateKey *ecdsa.PrivateKey) (string, error) {
	return SignHash(accounts.TextHash([]byte(message)), privateKey)
}

// RecoverPersonalMessageSigner returns the address that personal_signed message.
func RecoverPersonalMessageSigner(message, signature string) (common.Address, error) {
	return RecoverAddressFromSignature(accounts.TextHash([]byte(message)), signature)
}

// NormalizeAddress returns the checksummed form, or "" for non-addresses.
func NormalizeAddress(address string) string {
	if !common.IsHexAddress(address) {
		return ""
	}
	return common.HexToAddress(address).Hex()
}
