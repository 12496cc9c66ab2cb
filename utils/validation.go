package utils

import (
	"math/big"
	"net/url"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitwit/x402kit/types"
)

var (
	evmAddressRe    = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	solanaAddressRe = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// ValidateAmount checks if an amount string is a valid, non-negative decimal
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, types.NewError(types.ErrInvalidAmount, "amount cannot be empty")
	}

	dec, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, types.WrapError(types.ErrInvalidAmount, err, "invalid amount %q", amount)
	}

	if dec.IsNegative() {
		return nil, types.NewError(types.ErrInvalidAmount, "amount cannot be negative: %s", amount)
	}

	return &dec, nil
}

// ToAtomicUnits converts a human amount to the token's smallest unit,
// rounding any excess precision up so the payee is never underpaid.
func ToAtomicUnits(amount string, decimals int) (*big.Int, error) {
	dec, err := ValidateAmount(amount)
	if err != nil {
		return nil, err
	}
	if decimals < 0 {
		return nil, types.NewError(types.ErrInvalidAmount, "negative token decimals %d", decimals)
	}

	return dec.Shift(int32(decimals)).Ceil().BigInt(), nil
}

// FromAtomicUnits formats a smallest-unit integer back to a human decimal string.
func FromAtomicUnits(amount *big.Int, decimals int) string {
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// ParseAtomic parses a base-10 uint256-style string.
func ParseAtomic(value string) (*big.Int, error) {
	if value == "" {
		return nil, types.NewError(types.ErrInvalidAmount, "value cannot be empty")
	}

	n, ok := new(big.Int).SetString(value, 10)
	if !ok || n.Sign() < 0 {
		return nil, types.NewError(types.ErrInvalidAmount, "invalid integer %q", value)
	}

	return n, nil
}

// AmountsEqual compares two decimal strings numerically, falling back to
// exact string comparison when either does not parse.
func AmountsEqual(a, b string) bool {
	if a == b {
		return true
	}
	da, errA := decimal.NewFromString(a)
	db, errB := decimal.NewFromString(b)
	if errA != nil || errB != nil {
		return false
	}
	return da.Equal(db)
}

// IsEVMAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsEVMAddress(s string) bool {
	return evmAddressRe.MatchString(s)
}

// IsSolanaAddress reports whether s looks like a base58 public key.
func IsSolanaAddress(s string) bool {
	return solanaAddressRe.MatchString(s)
}

// ValidateAddressForChain validates an address against the chain family.
func ValidateAddressForChain(address string, chain types.ChainType) error {
	if address == "" {
		return types.NewError(types.ErrInvalidAddress, "address cannot be empty")
	}

	switch chain {
	case types.ChainEVM:
		if !IsEVMAddress(address) {
			return types.NewError(types.ErrInvalidAddress, "invalid EVM address %q", address)
		}
	case types.ChainSVM:
		if !IsSolanaAddress(address) {
			return types.NewError(types.ErrInvalidAddress, "invalid Solana address %q", address)
		}
	default:
		return types.NewError(types.ErrUnsupportedNetwork, "unsupported chain type for address validation: %s", chain)
	}

	return nil
}

// AddressesEqual compares addresses; EVM addresses compare case-insensitively.
func AddressesEqual(a, b string) bool {
	if IsEVMAddress(a) && IsEVMAddress(b) {
		return common.HexToAddress(a) == common.HexToAddress(b)
	}
	return a == b
}

// ValidateURL requires an absolute http(s) URL.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, types.WrapError(types.ErrInvalidURL, err, "invalid url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, types.NewError(types.ErrInvalidURL, "url must be http or https: %q", raw)
	}
	if u.Host == "" {
		return nil, types.NewError(types.ErrInvalidURL, "url has no host: %q", raw)
	}
	return u, nil
}

// ValidatePaymentScheme fails with INVALID_PAYLOAD for any scheme but "exact".
func ValidatePaymentScheme(scheme string) error {
	if scheme != string(types.SchemeExact) {
		return types.NewError(types.ErrInvalidPayload, "unsupported scheme %q", scheme)
	}
	return nil
}
