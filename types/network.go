package types

import (
	"fmt"
	"strings"
)

// ChainType classifies a network into a signing family.
type ChainType string

const (
	ChainEVM     ChainType = "evm"
	ChainSVM     ChainType = "svm"
	ChainUnknown ChainType = "unknown"
)

// CAIP-2 namespaces.
const (
	NamespaceEIP155 = "eip155"
	NamespaceSolana = "solana"
)

// CAIP2 is a parsed `<namespace>:<reference>` chain identifier.
type CAIP2 struct {
	Namespace string
	Reference string
}

func (c CAIP2) String() string {
	return c.Namespace + ":" + c.Reference
}

// IsWildcard reports whether the reference is "*".
func (c CAIP2) IsWildcard() bool {
	return c.Reference == "*"
}

// ParseCAIP2 splits a CAIP-2 identifier. Both halves must be non-empty.
func ParseCAIP2(id string) (CAIP2, error) {
	ns, ref, ok := strings.Cut(id, ":")
	if !ok || ns == "" || ref == "" || strings.Contains(ref, ":") {
		return CAIP2{}, fmt.Errorf("invalid CAIP-2 identifier %q", id)
	}
	return CAIP2{Namespace: strings.ToLower(ns), Reference: ref}, nil
}

// ChainTypeOf maps a CAIP-2 namespace to a chain type.
func ChainTypeOf(id string) ChainType {
	c, err := ParseCAIP2(id)
	if err != nil {
		return ChainUnknown
	}
	switch c.Namespace {
	case NamespaceEIP155:
		return ChainEVM
	case NamespaceSolana:
		return ChainSVM
	default:
		return ChainUnknown
	}
}
