package x402

import (
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vitwit/x402kit/clients"
	"github.com/vitwit/x402kit/logger"
	"github.com/vitwit/x402kit/metrics"
	"github.com/vitwit/x402kit/verification"
)

type Option func(*X402)

func WithLogger(l logger.Logger) Option {
	return func(x *X402) {
		x.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(x *X402) {
		x.metrics = r
	}
}

func WithTimeout(t time.Duration) Option {
	return func(x *X402) {
		x.timeout = t
	}
}

// WithHTTPClient is used for facilitator calls, and its transport under
// the paying client.
func WithHTTPClient(c *http.Client) Option {
	return func(x *X402) {
		x.httpClient = c
	}
}

// WithStores replaces the in-memory nonce and receipt stores.
func WithStores(nonces, receipts verification.Store) Option {
	return func(x *X402) {
		x.nonceStore = nonces
		x.receiptStore = receipts
	}
}

// WithRedis shares nonces and receipts across instances through Redis.
func WithRedis(client redis.UniversalClient, prefix string) Option {
	return func(x *X402) {
		x.nonceStore = verification.NewRedisStore(client, prefix+"nonce:", verification.DefaultTTL)
		x.receiptStore = verification.NewRedisStore(client, prefix+"receipt:", verification.DefaultTTL)
	}
}

// WithEvmChainReader makes exact EVM verification on network check the
// authorization state and payer balance through reader.
func WithEvmChainReader(network string, reader clients.EvmChainReader) Option {
	return func(x *X402) {
		if x.evmReaders == nil {
			x.evmReaders = make(map[string]clients.EvmChainReader)
		}
		x.evmReaders[network] = reader
	}
}

// WithOnChainChecks dials the RPC endpoint of each EVM network, from
// X402_RPC_* or the chain registry, and enables the same checks.
func WithOnChainChecks(networks ...string) Option {
	return func(x *X402) {
		x.onChain = append(x.onChain, networks...)
	}
}
