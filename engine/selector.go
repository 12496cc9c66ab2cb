package engine

import (
	"strings"

	"github.com/vitwit/x402kit/types"
)

// Selector picks one of the offered requirements. supported reports
// whether the engine can pay a given option.
type Selector func(accepts []types.PaymentRequirements, supported func(types.PaymentRequirements) bool) (types.PaymentRequirements, bool)

// FirstSupported picks the first option the engine can pay.
func FirstSupported(accepts []types.PaymentRequirements, supported func(types.PaymentRequirements) bool) (types.PaymentRequirements, bool) {
	for _, r := range accepts {
		if supported(r) {
			return r, true
		}
	}
	return types.PaymentRequirements{}, false
}

// PreferNetworks tries each prefix in order ("solana:", "eip155:8453", ...)
// and falls back to FirstSupported.
func PreferNetworks(prefixes ...string) Selector {
	return func(accepts []types.PaymentRequirements, supported func(types.PaymentRequirements) bool) (types.PaymentRequirements, bool) {
		for _, p := range prefixes {
			for _, r := range accepts {
				if strings.HasPrefix(r.Network, p) && supported(r) {
					return r, true
				}
			}
		}
		return FirstSupported(accepts, supported)
	}
}
