// Package chains holds the immutable table of supported networks keyed by
// CAIP-2 identifier.
package chains

import (
	"fmt"
	"strings"

	"github.com/vitwit/x402kit/types"
	"github.com/vitwit/x402kit/utils"
)

// PaymentTokenConfig describes a token accepted on a chain.
type PaymentTokenConfig struct {
	Address  string `json:"address"` // contract address or SPL mint
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	// Name and Version form the EIP-712 domain of the token contract.
	Name            string `json:"name,omitempty"`
	Version         string `json:"version,omitempty"`
	SupportsEIP3009 bool   `json:"supportsEip3009"`
}

// ChainConfig is the static description of a network.
type ChainConfig struct {
	ID                 string               `json:"id"`
	Name               string               `json:"name"`
	Type               types.ChainType      `json:"type"`
	NativeCurrency     string               `json:"nativeCurrency"`
	Tokens             []PaymentTokenConfig `json:"tokens"`
	RPCURL             string               `json:"rpcUrl"`
	ExplorerTxURL      string               `json:"explorerTxUrl"`      // contains {tx}
	ExplorerAddressURL string               `json:"explorerAddressUrl"` // contains {address}
	FacilitatorURL     string               `json:"facilitatorUrl,omitempty"`
	Testnet            bool                 `json:"testnet"`
	Aliases            []string             `json:"aliases,omitempty"`
}

// Reference returns the CAIP-2 reference part (chain id for EVM, genesis hash for Solana).
func (c ChainConfig) Reference() string {
	_, ref, _ := strings.Cut(c.ID, ":")
	return ref
}

// DefaultToken returns the first configured token.
func (c ChainConfig) DefaultToken() (PaymentTokenConfig, bool) {
	if len(c.Tokens) == 0 {
		return PaymentTokenConfig{}, false
	}
	return c.Tokens[0], true
}

// TokenByAddress looks up a token by contract address or mint.
func (c ChainConfig) TokenByAddress(address string) (PaymentTokenConfig, bool) {
	for _, t := range c.Tokens {
		if utils.AddressesEqual(t.Address, address) {
			return t, true
		}
	}
	return PaymentTokenConfig{}, false
}

// TokenBySymbol looks up a token by its symbol, case-insensitively.
func (c ChainConfig) TokenBySymbol(symbol string) (PaymentTokenConfig, bool) {
	for _, t := range c.Tokens {
		if strings.EqualFold(t.Symbol, symbol) {
			return t, true
		}
	}
	return PaymentTokenConfig{}, false
}

func (c ChainConfig) clone() ChainConfig {
	c.Tokens = append([]PaymentTokenConfig(nil), c.Tokens...)
	c.Aliases = append([]string(nil), c.Aliases...)
	return c
}

// Registry resolves chains by CAIP-2 id or alias. It is read-only after New.
type Registry struct {
	byID          map[string]ChainConfig
	aliases       map[string]string
	order         []string
	defaultEVM    string
	defaultSolana string
}

// Option customises a registry at construction.
type Option func(*Registry)

// WithDefaultEVM sets the chain returned for EVM address detection.
func WithDefaultEVM(id string) Option {
	return func(r *Registry) { r.defaultEVM = id }
}

// WithDefaultSolana sets the chain returned for Solana address detection.
func WithDefaultSolana(id string) Option {
	return func(r *Registry) { r.defaultSolana = id }
}

// New builds a registry. Chain ids must be valid CAIP-2 and unique; aliases
// must not collide.
func New(configs []ChainConfig, opts ...Option) (*Registry, error) {
	r := &Registry{
		byID:    make(map[string]ChainConfig, len(configs)),
		aliases: make(map[string]string),
	}

	for _, c := range configs {
		if _, err := types.ParseCAIP2(c.ID); err != nil {
			return nil, types.WrapError(types.ErrConfigError, err, "chain %q", c.Name)
		}
		if _, dup := r.byID[c.ID]; dup {
			return nil, types.NewError(types.ErrConfigError, "duplicate chain %s", c.ID)
		}
		if c.Type == "" {
			c.Type = types.ChainTypeOf(c.ID)
		}
		c = c.clone()
		r.byID[c.ID] = c
		r.order = append(r.order, c.ID)

		for _, a := range c.Aliases {
			key := strings.ToLower(a)
			if other, dup := r.aliases[key]; dup && other != c.ID {
				return nil, types.NewError(types.ErrConfigError, "alias %q used by %s and %s", a, other, c.ID)
			}
			r.aliases[key] = c.ID
		}

		if r.defaultEVM == "" && c.Type == types.ChainEVM && !c.Testnet {
			r.defaultEVM = c.ID
		}
		if r.defaultSolana == "" && c.Type == types.ChainSVM && !c.Testnet {
			r.defaultSolana = c.ID
		}
	}

	for _, opt := range opts {
		opt(r)
	}

	for _, id := range []string{r.defaultEVM, r.defaultSolana} {
		if id == "" {
			continue
		}
		if _, ok := r.byID[id]; !ok {
			return nil, types.NewError(types.ErrConfigError, "default chain %s is not registered", id)
		}
	}

	return r, nil
}

// Resolve finds a chain by alias (case-insensitive) or CAIP-2 id.
func (r *Registry) Resolve(idOrAlias string) (ChainConfig, error) {
	key := strings.TrimSpace(idOrAlias)
	if id, ok := r.aliases[strings.ToLower(key)]; ok {
		return r.byID[id].clone(), nil
	}

	caip, err := types.ParseCAIP2(key)
	if err == nil {
		if c, ok := r.byID[caip.String()]; ok {
			return c.clone(), nil
		}
	}

	return ChainConfig{}, types.NewError(types.ErrUnsupportedNetwork, "unsupported network: %s", idOrAlias)
}

// ChainType reports the family of a CAIP-2 id; unregistered ids are classified by namespace.
func (r *Registry) ChainType(caip2 string) types.ChainType {
	if c, ok := r.byID[caip2]; ok {
		return c.Type
	}
	return types.ChainTypeOf(caip2)
}

// DetectFromAddress guesses the default chain for an address format.
// It returns false when the address matches neither family.
func (r *Registry) DetectFromAddress(address string) (ChainConfig, bool) {
	var id string
	switch {
	case utils.IsEVMAddress(address):
		id = r.defaultEVM
	case utils.IsSolanaAddress(address):
		id = r.defaultSolana
	}
	if id == "" {
		return ChainConfig{}, false
	}
	return r.byID[id].clone(), true
}

// ExplorerTxURL returns a block explorer link for a transaction.
func (r *Registry) ExplorerTxURL(idOrAlias, txHash string) (string, error) {
	c, err := r.Resolve(idOrAlias)
	if err != nil {
		return "", err
	}
	if c.ExplorerTxURL == "" {
		return "", fmt.Errorf("no explorer configured for %s", c.ID)
	}
	return strings.ReplaceAll(c.ExplorerTxURL, "{tx}", txHash), nil
}

// ExplorerAddressURL returns a block explorer link for an address.
func (r *Registry) ExplorerAddressURL(idOrAlias, address string) (string, error) {
	c, err := r.Resolve(idOrAlias)
	if err != nil {
		return "", err
	}
	if c.ExplorerAddressURL == "" {
		return "", fmt.Errorf("no explorer configured for %s", c.ID)
	}
	return strings.ReplaceAll(c.ExplorerAddressURL, "{address}", address), nil
}

// All returns the chains in registration order.
func (r *Registry) All() []ChainConfig {
	out := make([]ChainConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].clone())
	}
	return out
}

// IDs returns the registered CAIP-2 ids in registration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}
