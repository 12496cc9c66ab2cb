package clients

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vitwit/x402kit/chains"
	"github.com/vitwit/x402kit/types"
)

const eip3009ABI = `[
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"authorizationState","stateMutability":"view",
   "inputs":[{"name":"authorizer","type":"address"},{"name":"nonce","type":"bytes32"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

var tokenABI = sync.OnceValues(func() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(eip3009ABI))
})

// ContractCaller is the read-only part of an EVM node. *ethclient.Client
// implements it.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ ContractCaller = (*ethclient.Client)(nil)

// EvmChainReader reads EIP-3009 token state on chain.
type EvmChainReader interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	AuthorizationState(ctx context.Context, token, authorizer common.Address, nonce [32]byte) (bool, error)
}

// EvmTokenReader implements EvmChainReader over a ContractCaller.
type EvmTokenReader struct {
	caller ContractCaller
}

func NewEvmTokenReader(caller ContractCaller) *EvmTokenReader {
	return &EvmTokenReader{caller: caller}
}

// DialEvmTokenReader connects to the RPC URL of network in registry, or
// to rpcURL when it is set.
func DialEvmTokenReader(ctx context.Context, registry *chains.Registry, network, rpcURL string) (*EvmTokenReader, error) {
	if rpcURL == "" {
		if registry == nil {
			return nil, types.NewError(types.ErrConfigError, "%s: %s", ErrNoRPCForNetwork, network)
		}
		chain, err := registry.Resolve(network)
		if err != nil {
			return nil, err
		}
		rpcURL = chain.RPCURL
	}
	if rpcURL == "" {
		return nil, types.NewError(types.ErrConfigError, "%s: %s", ErrNoRPCForNetwork, network)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return NewEvmTokenReader(client), nil
}

func (r *EvmTokenReader) call(ctx context.Context, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	parsed, err := tokenABI()
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, token.Hex(), err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s returned %d values", method, len(values))
	}
	return values, nil
}

func (r *EvmTokenReader) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	values, err := r.call(ctx, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	bal, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned %T", values[0])
	}
	return bal, nil
}

// AuthorizationState reports whether the nonce was used or canceled on chain.
func (r *EvmTokenReader) AuthorizationState(ctx context.Context, token, authorizer common.Address, nonce [32]byte) (bool, error) {
	values, err := r.call(ctx, token, "authorizationState", authorizer, nonce)
	if err != nil {
		return false, err
	}
	used, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("authorizationState returned %T", values[0])
	}
	return used, nil
}

// AuthorizationNonce decodes a 0x-prefixed 32 byte nonce.
func AuthorizationNonce(nonce string) ([32]byte, error) {
	var out [32]byte
	raw, err := hexutil.Decode(nonce)
	if err != nil {
		return out, types.WrapError(types.ErrInvalidPayload, err, "invalid authorization nonce")
	}
	if len(raw) != 32 {
		return out, types.NewError(types.ErrInvalidPayload, "authorization nonce must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
