// Package schemes maps network patterns to the signer that pays on them.
//
// A pattern is either an exact CAIP-2 id ("eip155:8453") or a namespace
// wildcard ("eip155:*"). An exact match always wins over a wildcard, and a
// network matching neither is unsupported: resolution fails closed.
package schemes

import (
	"context"
	"sort"

	"github.com/vitwit/x402kit/types"
)

// SchemeClient turns payment requirements into a signed payload.
type SchemeClient interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirements) (*types.PaymentPayload, error)
}

// Registry is populated at startup and read concurrently afterwards.
// Register is not safe to call concurrently with Resolve.
type Registry struct {
	exact    map[string]map[string]SchemeClient // scheme -> network -> client
	wildcard map[string]map[string]SchemeClient // scheme -> namespace -> client
}

func NewRegistry() *Registry {
	return &Registry{
		exact:    make(map[string]map[string]SchemeClient),
		wildcard: make(map[string]map[string]SchemeClient),
	}
}

// Register binds client to pattern for the client's scheme. Re-registering
// a pattern replaces the previous client.
func (r *Registry) Register(pattern string, client SchemeClient) error {
	if client == nil {
		return types.NewError(types.ErrConfigError, "nil scheme client for %s", pattern)
	}
	caip, err := types.ParseCAIP2(pattern)
	if err != nil {
		return types.WrapError(types.ErrUnsupportedNetwork, err, "invalid network pattern")
	}

	scheme := client.Scheme()
	if caip.IsWildcard() {
		if r.wildcard[scheme] == nil {
			r.wildcard[scheme] = make(map[string]SchemeClient)
		}
		r.wildcard[scheme][caip.Namespace] = client
		return nil
	}

	if r.exact[scheme] == nil {
		r.exact[scheme] = make(map[string]SchemeClient)
	}
	r.exact[scheme][caip.String()] = client
	return nil
}

// Resolve returns the most specific client for scheme on network.
func (r *Registry) Resolve(scheme, network string) (SchemeClient, error) {
	caip, err := types.ParseCAIP2(network)
	if err != nil || caip.IsWildcard() {
		return nil, types.NewError(types.ErrUnsupportedNetwork, "unsupported network: %s", network)
	}

	if c, ok := r.exact[scheme][caip.String()]; ok {
		return c, nil
	}
	if c, ok := r.wildcard[scheme][caip.Namespace]; ok {
		return c, nil
	}

	return nil, types.NewError(types.ErrUnsupportedNetwork, "no %q scheme registered for network %s", scheme, network)
}

// Supports reports whether Resolve would succeed.
func (r *Registry) Supports(scheme, network string) bool {
	_, err := r.Resolve(scheme, network)
	return err == nil
}

// Patterns lists registered patterns for a scheme, exact ids first.
func (r *Registry) Patterns(scheme string) []string {
	var exact, wild []string
	for id := range r.exact[scheme] {
		exact = append(exact, id)
	}
	for ns := range r.wildcard[scheme] {
		wild = append(wild, ns+":*")
	}
	sort.Strings(exact)
	sort.Strings(wild)
	return append(exact, wild...)
}
