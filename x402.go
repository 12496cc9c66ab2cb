// Package x402 wires the x402 payment components by explicit construction:
// a chain registry, a scheme registry for paying clients, a verifier with
// replay protection, an optional facilitator client, and paywalls.
package x402

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vitwit/x402kit/chains"
	"github.com/vitwit/x402kit/clients"
	"github.com/vitwit/x402kit/config"
	"github.com/vitwit/x402kit/engine"
	"github.com/vitwit/x402kit/logger"
	"github.com/vitwit/x402kit/metrics"
	"github.com/vitwit/x402kit/paywall"
	"github.com/vitwit/x402kit/schemes"
	"github.com/vitwit/x402kit/settlement"
	"github.com/vitwit/x402kit/types"
	"github.com/vitwit/x402kit/utils"
	"github.com/vitwit/x402kit/verification"
	"golang.org/x/sync/errgroup"
)

// Version information
const (
	Version         = "2.0.0"
	ProtocolVersion = types.X402Version1
)

// DefaultBatchConcurrency bounds VerifyBatch.
const DefaultBatchConcurrency = 8

// X402 holds the configured components. It is safe for concurrent use once
// wallets are added.
type X402 struct {
	config      *types.X402Config
	chains      *chains.Registry
	schemes     *schemes.Registry
	verifier    *verification.Verifier
	facilitator *settlement.FacilitatorClient

	logger   logger.Logger
	metrics  metrics.Recorder
	gatherer prometheus.Gatherer
	timeout  time.Duration

	nonceStore   verification.Store
	receiptStore verification.Store
	httpClient   *http.Client
	evmReaders   map[string]clients.EvmChainReader
	onChain      []string
}

// New validates cfg and builds every component. A nil cfg uses
// config.Default.
func New(cfg *types.X402Config, opts ...Option) (*X402, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	x := &X402{
		config:  cfg,
		schemes: schemes.NewRegistry(),
		timeout: cfg.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(x)
	}

	if x.timeout <= 0 {
		x.timeout = config.DefaultTimeout
	}
	if x.logger == nil {
		x.logger = logger.NewZapLogger(cfg.LogLevel)
	}
	if x.metrics == nil {
		if err := x.defaultMetrics(); err != nil {
			return nil, err
		}
	}

	defaultChain := chains.WithDefaultEVM(cfg.DefaultChain)
	if types.ChainTypeOf(cfg.DefaultChain) == types.ChainSVM {
		defaultChain = chains.WithDefaultSolana(cfg.DefaultChain)
	}
	reg, err := chains.NewDefault(defaultChain)
	if err != nil {
		return nil, err
	}
	x.chains = reg

	vopts := []verification.Option{
		verification.WithChainRegistry(reg),
		verification.WithLogger(x.logger),
		verification.WithMetrics(x.metrics),
	}
	if x.nonceStore != nil {
		vopts = append(vopts, verification.WithNonceStore(x.nonceStore))
	}
	if x.receiptStore != nil {
		vopts = append(vopts, verification.WithReceiptStore(x.receiptStore))
	}
	readers, err := x.evmChainReaders(reg)
	if err != nil {
		return nil, err
	}
	for network, r := range readers {
		vopts = append(vopts, verification.WithEvmChain(network, r))
	}
	x.verifier = verification.New(vopts...)

	if cfg.FacilitatorURL != "" {
		fopts := []settlement.Option{
			settlement.WithChainRegistry(reg),
			settlement.WithLogger(x.logger),
			settlement.WithMetrics(x.metrics),
		}
		if x.httpClient != nil {
			fopts = append(fopts, settlement.WithHTTPClient(x.httpClient))
		}
		fc, err := settlement.NewFacilitatorClient(settlement.Config{BaseURL: cfg.FacilitatorURL, Timeout: x.timeout}, fopts...)
		if err != nil {
			return nil, err
		}
		x.facilitator = fc
	}

	x.logger.Info("x402 initialized", map[string]any{
		"defaultChain": cfg.DefaultChain,
		"facilitator":  cfg.FacilitatorURL,
		"metrics":      cfg.EnableMetrics,
	})
	return x, nil
}

func (x *X402) evmChainReaders(reg *chains.Registry) (map[string]clients.EvmChainReader, error) {
	readers := make(map[string]clients.EvmChainReader, len(x.evmReaders)+len(x.onChain))
	for network, r := range x.evmReaders {
		readers[network] = r
	}
	for _, name := range x.onChain {
		chain, err := reg.Resolve(name)
		if err != nil {
			return nil, err
		}
		if chain.Type != types.ChainEVM {
			return nil, types.NewError(types.ErrConfigError, "on-chain checks need an EVM network, got %s", chain.ID)
		}
		if _, ok := readers[chain.ID]; ok {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), x.timeout)
		r, err := clients.DialEvmTokenReader(ctx, reg, chain.ID, x.rpcURL(name, chain.ID))
		cancel()
		if err != nil {
			return nil, types.WrapError(types.ErrConfigError, err, "dial %s", chain.ID)
		}
		readers[chain.ID] = r
	}
	return readers, nil
}

// rpcURL prefers an X402_RPC_* override keyed by alias or CAIP-2 id.
func (x *X402) rpcURL(name, id string) string {
	if url := x.config.RPCURLs[name]; url != "" {
		return url
	}
	return x.config.RPCURLs[id]
}

// NewFromEnv loads configuration with config.Load.
func NewFromEnv(opts ...Option) (*X402, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

func validateConfig(cfg *types.X402Config) error {
	if cfg.DefaultChain == "" {
		cfg.DefaultChain = chains.Base
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = config.DefaultLogLevel
	}
	return utils.ValidateStruct(cfg)
}

func (x *X402) defaultMetrics() error {
	if !x.config.EnableMetrics {
		x.metrics = metrics.NoopRecorder{}
		return nil
	}
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewPrometheusRecorder(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	x.metrics = rec
	x.gatherer = reg
	return nil
}

func (x *X402) Config() types.X402Config                   { return *x.config }
func (x *X402) Chains() *chains.Registry                   { return x.chains }
func (x *X402) Schemes() *schemes.Registry                 { return x.schemes }
func (x *X402) Verifier() *verification.Verifier           { return x.verifier }
func (x *X402) Logger() logger.Logger                      { return x.logger }
func (x *X402) Facilitator() *settlement.FacilitatorClient { return x.facilitator }

// MetricsGatherer returns the private Prometheus registry created when
// EnableMetrics is set without WithMetrics, or nil.
func (x *X402) MetricsGatherer() prometheus.Gatherer { return x.gatherer }

// AddEVMWallet registers an exact EVM scheme for networks matching pattern,
// e.g. "eip155:8453" or "eip155:*".
func (x *X402) AddEVMWallet(pattern string, signer clients.ClientEvmSigner) error {
	var opts []clients.EvmOption
	if x.config.ValiditySeconds > 0 {
		opts = append(opts, clients.WithValidity(time.Duration(x.config.ValiditySeconds)*time.Second))
	}
	scheme, err := clients.NewExactEvmScheme(signer, x.chains, opts...)
	if err != nil {
		return err
	}
	if err := x.schemes.Register(pattern, scheme); err != nil {
		return err
	}
	x.logger.Info("evm wallet added", map[string]any{"pattern": pattern, "address": signer.Address().Hex()})
	return nil
}

// AddSolanaWallet registers an exact SVM scheme for networks matching
// pattern. RPC URLs from the configuration fill rpc when it names none.
func (x *X402) AddSolanaWallet(pattern string, signer clients.TransactionSigner, rpc clients.SvmRPCConfig) error {
	if rpc.Registry == nil {
		rpc.Registry = x.chains
	}
	if rpc.RPC == nil && rpc.DefaultRPCURL == "" {
		if url, ok := x.config.RPCURLs[pattern]; ok {
			rpc.DefaultRPCURL = url
		}
	}
	scheme, err := clients.NewExactSvmScheme(signer, rpc)
	if err != nil {
		return err
	}
	if err := x.schemes.Register(pattern, scheme); err != nil {
		return err
	}
	x.logger.Info("solana wallet added", map[string]any{"pattern": pattern, "address": signer.PublicKey().String()})
	return nil
}

// Client returns an http.Client that pays 402 responses with the added
// wallets, capped by MaxPaymentPerRequest.
func (x *X402) Client(opts ...engine.Option) (*http.Client, error) {
	base := []engine.Option{
		engine.WithLogger(x.logger),
		engine.WithMetrics(x.metrics),
		engine.WithMaxAmount(x.config.MaxPaymentPerRequest),
	}
	if x.httpClient != nil && x.httpClient.Transport != nil {
		base = append(base, engine.WithBase(x.httpClient.Transport))
	}
	t, err := engine.New(x.schemes, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	c := t.Client()
	c.Timeout = x.timeout
	return c, nil
}

// Paywall builds a paywall backed by this instance's verifier.
func (x *X402) Paywall(cfg paywall.Config, opts ...paywall.Option) (*paywall.Paywall, error) {
	if cfg.ValiditySeconds == 0 {
		cfg.ValiditySeconds = x.config.ValiditySeconds
	}
	base := []paywall.Option{
		paywall.WithVerifier(x.verifier),
		paywall.WithChainRegistry(x.chains),
		paywall.WithLogger(x.logger),
		paywall.WithMetrics(x.metrics),
	}
	return paywall.New(cfg, append(base, opts...)...)
}

// Verify checks a signed payload against the requirements it answers and
// consumes its nonce when valid.
func (x *X402) Verify(ctx context.Context, payload *types.PaymentPayload, req types.PaymentRequirements) (*types.VerificationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	return x.verifier.VerifyExactPayment(ctx, payload, req)
}

// VerifyProof checks a settled payment proof.
func (x *X402) VerifyProof(ctx context.Context, proof types.PaymentProof, recipient, amount, facilitator string) (*types.VerificationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	return x.verifier.VerifyPaymentProof(ctx, proof, recipient, amount, facilitator)
}

// VerifyRequest pairs a payload with the requirements it answers.
type VerifyRequest struct {
	Payload      *types.PaymentPayload
	Requirements types.PaymentRequirements
}

// VerifyBatch verifies payments concurrently. Results are in request
// order. Invalid payments are results; the first store error aborts the
// batch.
func (x *X402) VerifyBatch(ctx context.Context, reqs []VerifyRequest) ([]*types.VerificationResult, error) {
	if len(reqs) == 0 {
		return nil, types.NewError(types.ErrInvalidPayload, "no payments to verify")
	}

	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	results := make([]*types.VerificationResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultBatchConcurrency)

	for i, r := range reqs {
		i, r := i, r
		g.Go(func() error {
			res, err := x.verifier.VerifyExactPayment(gctx, r.Payload, r.Requirements)
			if err != nil {
				return fmt.Errorf("payment %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Settle submits a payload to the facilitator and waits for a terminal
// status. A failed or expired settlement is a result, not an error.
func (x *X402) Settle(ctx context.Context, payload *types.PaymentPayload, req types.PaymentRequirements, wait settlement.WaitOptions) (*types.FacilitatorPaymentResult, error) {
	if x.facilitator == nil {
		return nil, types.NewError(types.ErrConfigError, "no facilitator configured")
	}
	if payload == nil {
		return nil, types.NewError(types.ErrInvalidPayload, "missing payload")
	}

	reference := uuid.NewString()
	submitted, err := x.facilitator.SubmitPayment(ctx, types.PaymentSubmission{
		PaymentPayload:      *payload,
		PaymentRequirements: &req,
		Reference:           reference,
	})
	if err != nil {
		return nil, err
	}
	if submitted.Status.IsTerminal() {
		return submitted, nil
	}
	return x.facilitator.WaitForSettlement(ctx, types.PaymentQuery{
		PaymentID: submitted.PaymentID,
		TxHash:    submitted.TxHash,
		Reference: reference,
	}, wait)
}

// SupportedKind is one scheme and network pattern this instance can pay.
type SupportedKind struct {
	X402Version types.X402Version `json:"x402Version"`
	Scheme      string            `json:"scheme"`
	Network     string            `json:"network"`
}

func (x *X402) Supported() []SupportedKind {
	scheme := string(types.SchemeExact)
	patterns := x.schemes.Patterns(scheme)
	kinds := make([]SupportedKind, 0, len(patterns))
	for _, p := range patterns {
		kinds = append(kinds, SupportedKind{X402Version: ProtocolVersion, Scheme: scheme, Network: p})
	}
	return kinds
}

// IsNetworkSupported reports whether a wallet can pay on network.
func (x *X402) IsNetworkSupported(network string) bool {
	return x.schemes.Supports(string(types.SchemeExact), network)
}

// Close flushes the logger.
func (x *X402) Close() error {
	if s, ok := x.logger.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	return map[string]interface{}{
		"library_version":   Version,
		"protocol_version":  int(ProtocolVersion),
		"supported_schemes": []string{string(types.SchemeExact)},
		"supported_standards": []string{
			"eip-3009", "spl",
		},
	}
}
