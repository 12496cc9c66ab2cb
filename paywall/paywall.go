// Package paywall gates resources behind an x402 payment. The core works on
// the Request and Response interfaces only; nethttp and ginpaywall adapt it
// to their frameworks.
//
// Per request: exempt paths pass through; a request without payment
// evidence gets a 402 with the accepted requirements; a request with
// evidence is rate limited by payer and verified, failing closed to 402.
package paywall

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vitwit/x402kit/chains"
	"github.com/vitwit/x402kit/clients"
	"github.com/vitwit/x402kit/logger"
	"github.com/vitwit/x402kit/metrics"
	"github.com/vitwit/x402kit/types"
	"github.com/vitwit/x402kit/utils"
)

// DefaultValiditySeconds is the canonical EIP-3009 validity window offered
// in requirements.
const DefaultValiditySeconds = 600

// Verifier checks payment evidence. *verification.Verifier implements it.
type Verifier interface {
	VerifyExactPayment(ctx context.Context, payload *types.PaymentPayload, req types.PaymentRequirements) (*types.VerificationResult, error)
	VerifyPaymentProof(ctx context.Context, proof types.PaymentProof, expectedRecipient, expectedAmount, facilitatorAddress string) (*types.VerificationResult, error)
}

// Evidence is what a client presented: either a signed payload from the
// X-PAYMENT header or a settled proof from the discrete headers.
type Evidence struct {
	Payload *types.PaymentPayload
	Proof   *types.PaymentProof
}

// VerifyFunc replaces the injected Verifier.
type VerifyFunc func(ctx context.Context, ev Evidence, req types.PaymentRequirements) (*types.VerificationResult, error)

// Config describes what a protected resource costs and who gets paid.
type Config struct {
	// Price in human units. Ignored when a PriceCalculator is set.
	Price   string `validate:"omitempty,amount"`
	Network string `validate:"required,caip2"`
	// Token is an asset address, mint or symbol. Empty selects the chain's
	// default token.
	Token string
	PayTo string `validate:"required,payaddress"`
	// Resource overrides the request path in requirements.
	Resource    string
	Description string
	MimeType    string
	// FeePayer is advertised to SVM clients in requirements extra.
	FeePayer string `validate:"omitempty,payaddress"`
	// FacilitatorAddress, when set, is required to have signed discrete proofs.
	FacilitatorAddress string `validate:"omitempty,eth_addr"`

	ValiditySeconds int64    `validate:"gte=0"`
	ExemptPaths     []string `validate:"dive,required"`

	RateLimit *RateLimitConfig
}

// Paywall is the framework-independent core.
type Paywall struct {
	cfg        Config
	token      chains.PaymentTokenConfig
	registry   *chains.Registry
	verifier   Verifier
	verifyFunc VerifyFunc
	calculator PriceCalculator
	limiter    *RateLimiter
	logger     logger.Logger
	metrics    metrics.Recorder
	now        func() time.Time
}

type Option func(*Paywall)

func WithVerifier(v Verifier) Option {
	return func(p *Paywall) { p.verifier = v }
}

// WithVerifyFunc takes precedence over WithVerifier.
func WithVerifyFunc(f VerifyFunc) Option {
	return func(p *Paywall) { p.verifyFunc = f }
}

func WithPriceCalculator(c PriceCalculator) Option {
	return func(p *Paywall) { p.calculator = c }
}

func WithChainRegistry(r *chains.Registry) Option {
	return func(p *Paywall) { p.registry = r }
}

func WithLogger(l logger.Logger) Option {
	return func(p *Paywall) { p.logger = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(p *Paywall) { p.metrics = metrics.Or(m) }
}

func WithClock(now func() time.Time) Option {
	return func(p *Paywall) { p.now = now }
}

// New validates cfg and builds a paywall. A verifier or verify func is
// required.
func New(cfg Config, opts ...Option) (*Paywall, error) {
	if err := utils.ValidateStruct(cfg); err != nil {
		return nil, err
	}
	if cfg.ValiditySeconds == 0 {
		cfg.ValiditySeconds = DefaultValiditySeconds
	}

	p := &Paywall{
		cfg:     cfg,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.verifier == nil && p.verifyFunc == nil {
		return nil, types.NewError(types.ErrConfigError, "paywall needs a verifier")
	}
	if p.calculator == nil {
		if cfg.Price == "" {
			return nil, types.NewError(types.ErrConfigError, "paywall needs a price or a price calculator")
		}
		p.calculator = FixedPrice(cfg.Price)
	}
	if p.registry == nil {
		reg, err := chains.NewDefault()
		if err != nil {
			return nil, err
		}
		p.registry = reg
	}
	if err := utils.ValidateAddressForChain(cfg.PayTo, types.ChainTypeOf(cfg.Network)); err != nil {
		return nil, err
	}

	tok, err := p.resolveToken(cfg.Network, cfg.Token)
	if err != nil {
		return nil, err
	}
	p.token = tok

	if cfg.RateLimit != nil {
		l, err := NewRateLimiter(*cfg.RateLimit)
		if err != nil {
			return nil, err
		}
		l.now = p.now
		p.limiter = l
	}
	return p, nil
}

func (p *Paywall) resolveToken(network, token string) (chains.PaymentTokenConfig, error) {
	chain, err := p.registry.Resolve(network)
	if err != nil {
		if token == "" {
			return chains.PaymentTokenConfig{}, err
		}
		// Unknown chains can still be paid in an explicit asset.
		return chains.PaymentTokenConfig{Address: token, Decimals: chains.DefaultDecimal}, nil
	}
	if token == "" {
		if t, ok := chain.DefaultToken(); ok {
			return t, nil
		}
		return chains.PaymentTokenConfig{}, types.NewError(types.ErrConfigError, "chain %s has no default token", network)
	}
	if t, ok := chain.TokenByAddress(token); ok {
		return t, nil
	}
	if t, ok := chain.TokenBySymbol(token); ok {
		return t, nil
	}
	return chains.PaymentTokenConfig{Address: token, Decimals: chains.DefaultDecimal}, nil
}

// Requirements builds the payment requirements for a resource at price. It
// has no side effects and depends only on configuration, path and price.
func (p *Paywall) Requirements(path string, price Price) (types.PaymentRequirements, error) {
	network := p.cfg.Network
	tok := p.token
	if (price.Network != "" && price.Network != network) || price.Token != "" {
		if price.Network != "" {
			network = price.Network
		}
		t, err := p.resolveToken(network, price.Token)
		if err != nil {
			return types.PaymentRequirements{}, err
		}
		tok = t
	}

	resource := p.cfg.Resource
	if resource == "" {
		resource = path
	}

	req := types.PaymentRequirements{
		Scheme:            string(types.SchemeExact),
		Network:           network,
		Amount:            price.Amount,
		Asset:             tok.Address,
		PayTo:             p.cfg.PayTo,
		Resource:          resource,
		Description:       p.cfg.Description,
		MimeType:          p.cfg.MimeType,
		MaxTimeoutSeconds: int(p.cfg.ValiditySeconds),
		Extra:             map[string]interface{}{"decimals": tok.Decimals},
	}
	switch types.ChainTypeOf(network) {
	case types.ChainEVM:
		if tok.Name != "" {
			req.Extra["name"] = tok.Name
			req.Extra["version"] = tok.Version
		}
	case types.ChainSVM:
		if p.cfg.FeePayer != "" {
			req.Extra["feePayer"] = p.cfg.FeePayer
		}
	}
	if err := req.Validate(); err != nil {
		return types.PaymentRequirements{}, types.WrapError(types.ErrConfigError, err, "build requirements")
	}
	return req, nil
}

// isExempt matches whole path segments: "/free" covers "/free/x" but not
// "/freemium".
func (p *Paywall) isExempt(path string) bool {
	for _, exempt := range p.cfg.ExemptPaths {
		base := strings.TrimSuffix(exempt, "/")
		if path == exempt || path == base || strings.HasPrefix(path, base+"/") {
			return true
		}
	}
	return false
}

// Handle runs the paywall for one request. next is called with the payment
// metadata only when the request may proceed; otherwise res has been
// written with a 402, 429 or 500.
func (p *Paywall) Handle(r Request, res Response, next func(*Payment)) {
	if p.isExempt(r.Path()) {
		next(nil)
		return
	}
	ctx := r.Context()

	price, err := p.calculator.Calculate(ctx, PricingContext{
		Resource:      r.Path(),
		Method:        r.Method(),
		RawQuery:      r.RawQuery(),
		ClientIP:      r.ClientIP(),
		ClientAddress: r.Header(types.HeaderPaymentAddress),
		BodySize:      r.ContentLength(),
		Time:          p.now(),
	})
	if err != nil {
		p.logger.Error("price calculation failed", map[string]any{"path": r.Path(), "error": err.Error()})
		res.JSON(http.StatusInternalServerError, map[string]string{"error": "price unavailable"})
		return
	}

	req, err := p.Requirements(r.Path(), price)
	if err != nil {
		p.logger.Error("building payment requirements failed", map[string]any{"path": r.Path(), "error": err.Error()})
		res.JSON(http.StatusInternalServerError, map[string]string{"error": "price unavailable"})
		return
	}

	ev, err := extractEvidence(r)
	if err != nil {
		p.paymentRequired(res, req, err.Error())
		return
	}
	if ev == nil {
		p.paymentRequired(res, req, "payment required")
		return
	}

	if p.limiter != nil {
		payer := payerOf(r, ev)
		if payer != "" {
			if ok, wait := p.limiter.Allow(payer, req.Amount); !ok {
				p.rateLimited(res, payer, req.Network, wait)
				return
			}
		}
	}

	result, err := p.verify(ctx, *ev, req)
	if err != nil {
		p.logger.Error("payment verification error", map[string]any{"path": r.Path(), "error": err.Error()})
		p.paymentRequired(res, req, "payment verification failed")
		return
	}
	if result == nil || !result.IsValid {
		reason := "payment verification failed"
		if result != nil && result.InvalidReason != "" {
			reason = result.InvalidReason
		}
		p.logger.Warn("payment rejected", map[string]any{"path": r.Path(), "reason": reason})
		p.paymentRequired(res, req, reason)
		return
	}

	payment := &Payment{
		PaymentID:    result.PaymentID,
		Payer:        result.Payer,
		Amount:       result.Amount,
		Network:      req.Network,
		Asset:        req.Asset,
		Warnings:     result.Warnings,
		Requirements: req,
	}
	if header, err := types.EncodeHeader(types.PaymentResponse{
		Success:   true,
		PaymentID: payment.PaymentID,
		Network:   payment.Network,
		Payer:     payment.Payer,
	}); err == nil {
		res.SetHeader(types.HeaderPaymentResponse, header)
	}

	p.logger.Info("payment accepted", map[string]any{
		"path":      r.Path(),
		"paymentId": payment.PaymentID,
		"payer":     payment.Payer,
		"amount":    payment.Amount,
	})
	next(payment)
}

func (p *Paywall) verify(ctx context.Context, ev Evidence, req types.PaymentRequirements) (*types.VerificationResult, error) {
	if p.verifyFunc != nil {
		return p.verifyFunc(ctx, ev, req)
	}
	if ev.Payload != nil {
		return p.verifier.VerifyExactPayment(ctx, ev.Payload, req)
	}

	proof := *ev.Proof
	if proof.ChainID != req.Network {
		return &types.VerificationResult{InvalidReason: "proof chain does not match requirements", Code: types.ErrVerificationFailed}, nil
	}
	if !utils.AddressesEqual(proof.Token, req.Asset) {
		return &types.VerificationResult{InvalidReason: "proof token does not match requirements", Code: types.ErrVerificationFailed}, nil
	}
	return p.verifier.VerifyPaymentProof(ctx, proof, req.PayTo, req.Amount, p.cfg.FacilitatorAddress)
}

func (p *Paywall) paymentRequired(res Response, req types.PaymentRequirements, reason string) {
	body := types.PaymentRequiredResponse{
		X402Version: int(types.X402Version1),
		Error:       reason,
		Accepts:     []types.PaymentRequirements{req},
	}
	if header, err := types.EncodeHeader(body); err == nil {
		res.SetHeader(types.HeaderPaymentRequired, header)
	}
	p.metrics.IncCounter(metrics.EventPaymentRequired, map[string]string{"network": req.Network})
	res.JSON(http.StatusPaymentRequired, body)
}

// RateLimitedBody is the 429 response body.
type RateLimitedBody struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	RetryAfter int64  `json:"retryAfter"`
}

func (p *Paywall) rateLimited(res Response, payer, network string, wait time.Duration) {
	secs := int64((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	p.logger.Warn("payer rate limited", map[string]any{"payer": payer, "retryAfter": secs})
	p.metrics.IncCounter(metrics.EventRateLimited, map[string]string{"network": network})

	res.SetHeader("Retry-After", strconv.FormatInt(secs, 10))
	res.JSON(http.StatusTooManyRequests, RateLimitedBody{
		Error:      "rate limit exceeded",
		Code:       types.ErrRateLimited,
		RetryAfter: secs,
	})
}

// extractEvidence reads X-PAYMENT first, then the discrete proof headers.
// It returns nil when the request carries neither.
func extractEvidence(r Request) (*Evidence, error) {
	if h := r.Header(types.HeaderPayment); h != "" {
		var payload types.PaymentPayload
		if err := types.DecodeHeader(h, &payload); err != nil {
			return nil, types.WrapError(types.ErrInvalidPayload, err, "invalid %s header", types.HeaderPayment)
		}
		return &Evidence{Payload: &payload}, nil
	}

	h := r.Header(types.HeaderPaymentProof)
	if h == "" {
		return nil, nil
	}
	proof, err := decodeProof(h)
	if err != nil {
		return nil, err
	}
	if v := r.Header(types.HeaderPaymentToken); v != "" {
		proof.Token = v
	}
	if v := r.Header(types.HeaderPaymentChain); v != "" {
		proof.ChainID = v
	}
	if v := r.Header(types.HeaderPaymentAddress); v != "" && proof.From == "" {
		proof.From = v
	}
	return &Evidence{Proof: proof}, nil
}

// decodeProof accepts the proof as base64 JSON or as raw JSON.
func decodeProof(h string) (*types.PaymentProof, error) {
	var proof types.PaymentProof
	if strings.HasPrefix(strings.TrimSpace(h), "{") {
		if err := json.Unmarshal([]byte(h), &proof); err != nil {
			return nil, types.WrapError(types.ErrInvalidPayload, err, "invalid %s header", types.HeaderPaymentProof)
		}
		return &proof, nil
	}
	if err := types.DecodeHeader(h, &proof); err != nil {
		return nil, types.WrapError(types.ErrInvalidPayload, err, "invalid %s header", types.HeaderPaymentProof)
	}
	return &proof, nil
}

// payerOf keys the rate limiter: the payer address header, else the
// address the evidence claims to pay from.
func payerOf(r Request, ev *Evidence) string {
	if v := r.Header(types.HeaderPaymentAddress); v != "" {
		return v
	}
	if ev.Proof != nil {
		return ev.Proof.From
	}
	if ev.Payload != nil {
		if evm, err := ev.Payload.EvmPayload(); err == nil {
			return evm.Authorization.From
		}
		if svm, err := ev.Payload.SvmPayload(); err == nil {
			return svmPayer(svm.Transaction)
		}
	}
	return ""
}

// svmPayer is the first signer after the fee payer, which is the transfer
// owner in transactions built by the exact scheme.
func svmPayer(txBase64 string) string {
	tx, err := clients.DecodeTransaction(txBase64)
	if err != nil {
		return ""
	}
	signers := int(tx.Message.Header.NumRequiredSignatures)
	if signers < 2 || len(tx.Message.AccountKeys) < signers {
		return ""
	}
	return tx.Message.AccountKeys[1].String()
}
