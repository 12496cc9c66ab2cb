// Package settlement talks to an x402 facilitator: it submits signed
// payments, queries their status and waits for a terminal state.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vitwit/x402kit/chains"
	"github.com/vitwit/x402kit/logger"
	"github.com/vitwit/x402kit/metrics"
	"github.com/vitwit/x402kit/types"
	"github.com/vitwit/x402kit/utils"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultPollInterval   = 2 * time.Second
	DefaultSettleTimeout  = 120 * time.Second
)

// Config configures a FacilitatorClient.
type Config struct {
	BaseURL string `validate:"required,url"`
	// Timeout bounds each HTTP call.
	Timeout time.Duration `validate:"gte=0"`
	// SupportedNetworks limits SubmitPayment. Empty means every network in
	// the chain registry.
	SupportedNetworks []string `validate:"dive,caip2"`
	APIKey            string
}

// FacilitatorClient is safe for concurrent use.
type FacilitatorClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	apiKey     string
	supported  map[string]struct{}
	logger     logger.Logger
	metrics    metrics.Recorder
}

type Option func(*FacilitatorClient)

func WithHTTPClient(c *http.Client) Option {
	return func(f *FacilitatorClient) { f.httpClient = c }
}

func WithLogger(l logger.Logger) Option {
	return func(f *FacilitatorClient) { f.logger = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(f *FacilitatorClient) { f.metrics = metrics.Or(m) }
}

// WithChainRegistry makes every registry network submittable when
// Config.SupportedNetworks is empty.
func WithChainRegistry(r *chains.Registry) Option {
	return func(f *FacilitatorClient) {
		if len(f.supported) == 0 && r != nil {
			for _, id := range r.IDs() {
				f.supported[id] = struct{}{}
			}
		}
	}
}

func NewFacilitatorClient(cfg Config, opts ...Option) (*FacilitatorClient, error) {
	if err := utils.ValidateStruct(cfg); err != nil {
		return nil, err
	}
	if _, err := utils.ValidateURL(cfg.BaseURL); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}

	f := &FacilitatorClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{},
		timeout:    timeout,
		apiKey:     cfg.APIKey,
		supported:  make(map[string]struct{}),
		logger:     logger.NoopLogger{},
		metrics:    metrics.NoopRecorder{},
	}
	for _, n := range cfg.SupportedNetworks {
		f.supported[n] = struct{}{}
	}
	for _, opt := range opts {
		opt(f)
	}
	if len(f.supported) == 0 {
		reg, err := chains.NewDefault()
		if err != nil {
			return nil, err
		}
		WithChainRegistry(reg)(f)
	}
	return f, nil
}

// SupportsNetwork reports whether SubmitPayment accepts network.
func (f *FacilitatorClient) SupportsNetwork(network string) bool {
	_, ok := f.supported[network]
	return ok
}

// HealthCheck calls GET /health.
func (f *FacilitatorClient) HealthCheck(ctx context.Context) (*types.FacilitatorHealth, error) {
	var out types.FacilitatorHealth
	if err := f.do(ctx, "health", http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitPayment calls POST /payments. Unsupported networks are rejected
// without a network call.
func (f *FacilitatorClient) SubmitPayment(ctx context.Context, sub types.PaymentSubmission) (*types.FacilitatorPaymentResult, error) {
	network := sub.PaymentPayload.Network
	if !f.SupportsNetwork(network) {
		return nil, types.NewError(types.ErrUnsupportedNetwork, "facilitator does not support network %s", network)
	}
	if sub.Reference == "" {
		sub.Reference = uuid.NewString()
	}

	var out types.FacilitatorPaymentResult
	if err := f.do(ctx, "submit", http.MethodPost, "/payments", sub, &out); err != nil {
		return nil, err
	}

	f.logger.Info("payment submitted to facilitator", map[string]any{
		"paymentId": out.PaymentID,
		"reference": sub.Reference,
		"network":   network,
		"status":    string(out.Status),
	})
	return &out, nil
}

// GetPaymentStatus calls GET /payments with whichever query keys are set.
func (f *FacilitatorClient) GetPaymentStatus(ctx context.Context, q types.PaymentQuery) (*types.FacilitatorPaymentResult, error) {
	if q.IsEmpty() {
		return nil, types.NewError(types.ErrInvalidPayload, "payment query needs paymentId, txHash or reference")
	}

	params := url.Values{}
	if q.PaymentID != "" {
		params.Set("paymentId", q.PaymentID)
	}
	if q.TxHash != "" {
		params.Set("txHash", q.TxHash)
	}
	if q.Reference != "" {
		params.Set("reference", q.Reference)
	}

	var out types.FacilitatorPaymentResult
	if err := f.do(ctx, "status", http.MethodGet, "/payments?"+params.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitOptions tunes WaitForSettlement. Zero values use the defaults.
type WaitOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// WaitForSettlement polls GetPaymentStatus until a terminal status. A
// failed or expired status is returned as a result, not an error; running
// out of time yields SETTLEMENT_TIMEOUT. Transport errors while polling are
// retried, facilitator error responses are returned.
func (f *FacilitatorClient) WaitForSettlement(ctx context.Context, q types.PaymentQuery, opts WaitOptions) (*types.FacilitatorPaymentResult, error) {
	if q.IsEmpty() {
		return nil, types.NewError(types.ErrInvalidPayload, "payment query needs paymentId, txHash or reference")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSettleTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	start := time.Now()
	var last *types.FacilitatorPaymentResult
	for {
		res, err := f.GetPaymentStatus(waitCtx, q)
		switch {
		case err == nil:
			last = res
			if res.Status.IsTerminal() {
				f.metrics.ObserveLatency("settlement_wait", time.Since(start), map[string]string{"network": res.ChainID})
				return res, nil
			}
		case isTransport(err):
			f.logger.Debug("settlement poll failed", map[string]any{"error": err.Error()})
		default:
			return nil, err
		}

		select {
		case <-waitCtx.Done():
			return nil, &types.X402Error{
				Code:    types.ErrSettlementTimeout,
				Message: fmt.Sprintf("payment not settled within %s", opts.Timeout),
				Data:    last,
				Cause:   waitCtx.Err(),
			}
		case <-ticker.C:
		}
	}
}

// VerifyPayment reports whether the payment is confirmed or settled. Any
// error counts as false.
func (f *FacilitatorClient) VerifyPayment(ctx context.Context, q types.PaymentQuery) bool {
	res, err := f.GetPaymentStatus(ctx, q)
	if err != nil {
		f.logger.Debug("facilitator verify failed", map[string]any{"error": err.Error()})
		return false
	}
	return res.Status.IsSuccess()
}

func isTransport(err error) bool {
	var x *types.X402Error
	if !errors.As(err, &x) || x.Code != types.ErrFacilitator {
		return false
	}
	return x.StatusCode == types.StatusCodeTransport || x.StatusCode == types.StatusCodeTimeout
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (f *FacilitatorClient) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		f.metrics.ObserveLatency("facilitator_"+op, time.Since(start), nil)
	}()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		status := types.StatusCodeTransport
		msg := "facilitator unreachable"
		if isTimeout(ctx, err) {
			status = types.StatusCodeTimeout
			msg = "facilitator request timed out"
		}
		return &types.X402Error{
			Code:       types.ErrFacilitator,
			Message:    fmt.Sprintf("%s: %s %s", msg, method, path),
			StatusCode: status,
			Cause:      err,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &types.X402Error{
			Code:       types.ErrFacilitator,
			Message:    fmt.Sprintf("failed to read %s response", op),
			StatusCode: types.StatusCodeTransport,
			Cause:      err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &eb) == nil {
			if eb.Message != "" {
				msg = eb.Message
			} else if eb.Error != "" {
				msg = eb.Error
			}
		}
		f.logger.Warn("facilitator returned error", map[string]any{
			"operation": op,
			"status":    resp.StatusCode,
			"message":   msg,
		})
		return &types.X402Error{
			Code:       types.ErrFacilitator,
			Message:    fmt.Sprintf("facilitator %s returned status %d: %s", op, resp.StatusCode, msg),
			StatusCode: resp.StatusCode,
			Data:       eb.Code,
		}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
