package clients

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/vitwit/x402kit/chains"
	"github.com/vitwit/x402kit/types"
)

// SolanaRPC is the subset of *rpc.Client the SVM scheme uses.
type SolanaRPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SimulateTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

var _ SolanaRPC = (*rpc.Client)(nil)

// SvmRPCConfig selects the RPC endpoint per network. Lookup order is RPC,
// NetworkRPCs, WildcardRPC, DefaultRPCURL, then the chain registry RPC URL.
type SvmRPCConfig struct {
	// RPC serves every network.
	RPC SolanaRPC
	// NetworkRPCs maps CAIP-2 ids to a dedicated client.
	NetworkRPCs map[string]SolanaRPC
	// WildcardRPC serves any solana:* network absent from NetworkRPCs.
	WildcardRPC SolanaRPC
	// DefaultRPCURL is dialed lazily when nothing above matches.
	DefaultRPCURL string
	// Registry supplies per-chain RPC URLs as the final fallback.
	Registry *chains.Registry
}

type rpcResolver struct {
	cfg SvmRPCConfig

	mu     sync.Mutex
	dialed map[string]SolanaRPC // url -> client
}

func newRPCResolver(cfg SvmRPCConfig) *rpcResolver {
	return &rpcResolver{cfg: cfg, dialed: make(map[string]SolanaRPC)}
}

func (r *rpcResolver) forNetwork(network string) (SolanaRPC, error) {
	if r.cfg.RPC != nil {
		return r.cfg.RPC, nil
	}
	if c, ok := r.cfg.NetworkRPCs[network]; ok && c != nil {
		return c, nil
	}
	if r.cfg.WildcardRPC != nil && types.ChainTypeOf(network) == types.ChainSVM {
		return r.cfg.WildcardRPC, nil
	}

	url := r.cfg.DefaultRPCURL
	if url == "" && r.cfg.Registry != nil {
		if c, err := r.cfg.Registry.Resolve(network); err == nil {
			url = c.RPCURL
		}
	}
	if url == "" {
		return nil, types.NewError(types.ErrUnsupportedNetwork, "%s: %s", ErrNoRPCForNetwork, network)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.dialed[url]; ok {
		return c, nil
	}
	c := rpc.New(url)
	r.dialed[url] = c
	return c, nil
}
