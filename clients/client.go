// Package clients implements the "exact" payment scheme for EVM chains
// (EIP-3009 TransferWithAuthorization) and for Solana (partially signed
// SPL TransferChecked transactions), plus the facilitator-side Solana signer.
package clients

import (
	"encoding/json"
	"strconv"

	"github.com/vitwit/x402kit/schemes"
	"github.com/vitwit/x402kit/types"
)

var (
	_ schemes.SchemeClient = (*ExactEvmScheme)(nil)
	_ schemes.SchemeClient = (*ExactSvmScheme)(nil)
)

// extraInt reads an integer out of PaymentRequirements.Extra, tolerating the
// float64 and string shapes produced by JSON decoding.
func extraInt(req types.PaymentRequirements, key string) (int, bool) {
	if req.Extra == nil {
		return 0, false
	}
	switch v := req.Extra[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

func encodePayload(version types.X402Version, network string, body interface{}) (*types.PaymentPayload, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &types.PaymentPayload{
		X402Version: int(version),
		Scheme:      string(types.SchemeExact),
		Network:     network,
		Payload:     raw,
	}, nil
}
