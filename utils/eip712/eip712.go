// Package eip712 builds and hashes the EIP-3009 TransferWithAuthorization typed data.
package eip712

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/vitwit/x402kit/types"
	"github.com/vitwit/x402kit/utils"
)

const PrimaryTypeTransferWithAuthorization = "TransferWithAuthorization"

// Domain is the EIP-712 domain of an EIP-3009 token contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string
}

func (d Domain) validate() error {
	if d.Name == "" || d.Version == "" || d.ChainID == nil || d.VerifyingContract == "" {
		return errors.New("incomplete domain")
	}
	if !common.IsHexAddress(d.VerifyingContract) {
		return fmt.Errorf("invalid verifying contract %q", d.VerifyingContract)
	}
	return nil
}

var transferWithAuthorizationTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	PrimaryTypeTransferWithAuthorization: {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// TransferWithAuthorization assembles the typed data a payer signs.
func TransferWithAuthorization(domain Domain, auth types.EIP3009Authorization) (apitypes.TypedData, error) {
	if err := domain.validate(); err != nil {
		return apitypes.TypedData{}, err
	}

	return apitypes.TypedData{
		Types:       transferWithAuthorizationTypes,
		PrimaryType: PrimaryTypeTransferWithAuthorization,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(domain.ChainID)),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From,
			"to":          auth.To,
			"value":       auth.Value,
			"validAfter":  auth.ValidAfter,
			"validBefore": auth.ValidBefore,
			"nonce":       auth.Nonce,
		},
	}, nil
}

// Digest returns keccak256("\x19\x01" || domainSeparator || structHash).
func Digest(td apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	return digest, nil
}

// RecoverTransferSigner recovers the address that signed auth under domain.
func RecoverTransferSigner(domain Domain, auth types.EIP3009Authorization, signature string) (common.Address, error) {
	td, err := TransferWithAuthorization(domain, auth)
	if err != nil {
		return common.Address{}, err
	}
	digest, err := Digest(td)
	if err != nil {
		return common.Address{}, err
	}
	return utils.RecoverAddressFromSignature(digest, signature)
}

// NewNonce returns 32 random bytes, 0x-hex encoded.
func NewNonce() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hexutil.Encode(b[:]), nil
}
