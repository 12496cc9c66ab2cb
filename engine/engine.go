// Package engine pays for HTTP resources behind a 402 Payment Required
// response. Transport wraps an http.RoundTripper: a 402 is parsed, one
// payment option is chosen and signed by the matching scheme, and the
// request is retried once with the X-PAYMENT header.
package engine

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitwit/x402kit/logger"
	"github.com/vitwit/x402kit/metrics"
	"github.com/vitwit/x402kit/schemes"
	"github.com/vitwit/x402kit/types"
	"github.com/vitwit/x402kit/utils"
)

// Transport is an http.RoundTripper that pays 402 responses.
type Transport struct {
	base      http.RoundTripper
	schemes   *schemes.Registry
	selector  Selector
	maxAmount *decimal.Decimal

	before  []BeforePaymentHook
	after   []AfterPaymentHook
	failure []FailureHook

	logger  logger.Logger
	metrics metrics.Recorder
}

type Option func(*Transport) error

// WithBase sets the underlying transport. Defaults to http.DefaultTransport.
func WithBase(rt http.RoundTripper) Option {
	return func(t *Transport) error {
		t.base = rt
		return nil
	}
}

func WithSelector(s Selector) Option {
	return func(t *Transport) error {
		t.selector = s
		return nil
	}
}

// WithMaxAmount caps the human-unit amount paid for one request.
func WithMaxAmount(amount string) Option {
	return func(t *Transport) error {
		if amount == "" {
			return nil
		}
		dec, err := utils.ValidateAmount(amount)
		if err != nil {
			return err
		}
		t.maxAmount = dec
		return nil
	}
}

func WithBeforePaymentCreation(h BeforePaymentHook) Option {
	return func(t *Transport) error {
		t.before = append(t.before, h)
		return nil
	}
}

func WithAfterPaymentCreation(h AfterPaymentHook) Option {
	return func(t *Transport) error {
		t.after = append(t.after, h)
		return nil
	}
}

func WithPaymentCreationFailure(h FailureHook) Option {
	return func(t *Transport) error {
		t.failure = append(t.failure, h)
		return nil
	}
}

func WithLogger(l logger.Logger) Option {
	return func(t *Transport) error {
		t.logger = l
		return nil
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(t *Transport) error {
		t.metrics = metrics.Or(m)
		return nil
	}
}

func New(registry *schemes.Registry, opts ...Option) (*Transport, error) {
	if registry == nil {
		return nil, types.NewError(types.ErrNoWalletConfigured, "no payment schemes registered")
	}

	t := &Transport{
		base:     http.DefaultTransport,
		schemes:  registry,
		selector: FirstSupported,
		logger:   logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Client returns an http.Client using t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

func (t *Transport) supported(r types.PaymentRequirements) bool {
	return t.schemes.Supports(r.Scheme, r.Network)
}

// RoundTrip sends req and, on a 402, pays and retries exactly once. The
// retried response is returned as is, even if it is another 402.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(withBody(req, body))
	if err != nil || resp.StatusCode != http.StatusPaymentRequired {
		return resp, err
	}

	info, err := ParsePaymentRequired(resp)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	ctx := req.Context()
	payload, err := t.createPayment(ctx, req, info.Response.Accepts)
	if err != nil {
		return nil, err
	}

	header, err := types.EncodeHeader(payload)
	if err != nil {
		return nil, types.WrapError(types.ErrPaymentCreationFailed, err, "encode payment header")
	}

	retry := withBody(req, body)
	retry.Header.Set(types.HeaderPayment, header)
	return t.base.RoundTrip(retry)
}

func (t *Transport) createPayment(ctx context.Context, req *http.Request, accepts []types.PaymentRequirements) (*types.PaymentPayload, error) {
	start := time.Now()

	selected, ok := t.selector(accepts, t.supported)
	if !ok {
		networks := make([]string, 0, len(accepts))
		for _, a := range accepts {
			networks = append(networks, a.Network)
		}
		return nil, types.NewError(types.ErrUnsupportedNetwork, "no registered scheme for offered networks %v", networks)
	}
	labels := map[string]string{"network": selected.Network}

	if t.maxAmount != nil {
		amount, err := utils.ValidateAmount(selected.Amount)
		if err != nil {
			return nil, err
		}
		if amount.GreaterThan(*t.maxAmount) {
			return nil, types.NewError(types.ErrAmountExceedsLimit, "requested %s exceeds limit %s", selected.Amount, t.maxAmount.String())
		}
	}

	client, err := t.schemes.Resolve(selected.Scheme, selected.Network)
	if err != nil {
		return nil, err
	}

	pc := PaymentContext{Request: req, Requirements: selected, Accepts: accepts}

	for _, h := range t.before {
		if res := h(ctx, pc); res.action == actionAbort {
			t.logger.Info("payment aborted by hook", map[string]any{"reason": res.reason, "network": selected.Network})
			t.metrics.IncCounter(metrics.EventPaymentFailed, labels)
			return nil, types.NewError(types.ErrPaymentAborted, "%s", res.reason)
		}
	}

	payload, err := client.CreatePaymentPayload(ctx, selected)
	if err != nil {
		recovered := t.recover(ctx, pc, err)
		if recovered == nil {
			t.logger.Warn("payment creation failed", map[string]any{"network": selected.Network, "error": err.Error()})
			t.metrics.IncCounter(metrics.EventPaymentFailed, labels)
			return nil, err
		}
		payload = recovered
	}

	for _, h := range t.after {
		h(ctx, pc, *payload)
	}

	t.logger.Info("payment created", map[string]any{
		"network":  selected.Network,
		"amount":   selected.Amount,
		"payTo":    selected.PayTo,
		"resource": selected.Resource,
	})
	t.metrics.IncCounter(metrics.EventPaymentCreated, labels)
	t.metrics.ObserveLatency("payment_creation", time.Since(start), labels)
	return payload, nil
}

func (t *Transport) recover(ctx context.Context, pc PaymentContext, err error) *types.PaymentPayload {
	for _, h := range t.failure {
		if res := h(ctx, pc, err); res.action == actionRecover && res.payload != nil {
			return res.payload
		}
	}
	return nil
}

// bufferBody reads a body that cannot be replayed so the retry can send it
// again. Requests with GetBody are left alone.
func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil, nil
	}
	raw, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func withBody(req *http.Request, buffered []byte) *http.Request {
	out := req.Clone(req.Context())
	switch {
	case buffered != nil:
		out.Body = io.NopCloser(bytes.NewReader(buffered))
		out.ContentLength = int64(len(buffered))
	case req.GetBody != nil:
		if b, err := req.GetBody(); err == nil {
			out.Body = b
		}
	}
	return out
}
