package ginpaywall

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402kit/paywall"
	"github.com/vitwit/x402kit/types"
)

type fixedVerifier struct{ valid bool }

func (f fixedVerifier) result() *types.VerificationResult {
	if !f.valid {
		return &types.VerificationResult{InvalidReason: "bad signature"}
	}
	return &types.VerificationResult{IsValid: true, PaymentID: "pay_gin", Payer: "0x857b06519E91e3A54538791bDbb0E22373e36b66", Amount: "0.01"}
}

func (f fixedVerifier) VerifyExactPayment(context.Context, *types.PaymentPayload, types.PaymentRequirements) (*types.VerificationResult, error) {
	return f.result(), nil
}

func (f fixedVerifier) VerifyPaymentProof(context.Context, types.PaymentProof, string, string, string) (*types.VerificationResult, error) {
	return f.result(), nil
}

func newRouter(t *testing.T, valid bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	p, err := paywall.New(paywall.Config{
		Price:       "0.01",
		Network:     "eip155:84532",
		PayTo:       "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		ExemptPaths: []string{"/health"},
	}, paywall.WithVerifier(fixedVerifier{valid: valid}))
	require.NoError(t, err)

	r := gin.New()
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	paid := r.Group("/", Middleware(p))
	paid.GET("/premium", func(c *gin.Context) {
		pay, ok := PaymentFrom(c)
		if !ok {
			c.String(http.StatusInternalServerError, "no payment")
			return
		}
		fromCtx, _ := paywall.FromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"paymentId": pay.PaymentID, "ctxPaymentId": fromCtx.PaymentID})
	})
	return r
}

func paymentHeader(t *testing.T) string {
	t.Helper()
	h, err := types.EncodeHeader(types.PaymentPayload{
		X402Version: 1, Scheme: "exact", Network: "eip155:84532",
		Payload: json.RawMessage(`{"signature":"0x01","authorization":{"nonce":"0x02"}}`),
	})
	require.NoError(t, err)
	return h
}

func TestMiddleware_402WithoutPayment(t *testing.T) {
	r := newRouter(t, true)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/premium", nil))

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(types.HeaderPaymentRequired))

	var body types.PaymentRequiredResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Accepts, 1)
	assert.Equal(t, "/premium", body.Accepts[0].Resource)
}

func TestMiddleware_PaidRequest(t *testing.T) {
	r := newRouter(t, true)

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set(types.HeaderPayment, paymentHeader(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"paymentId":"pay_gin","ctxPaymentId":"pay_gin"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(types.HeaderPaymentResponse))
}

func TestMiddleware_InvalidPaymentAborts(t *testing.T) {
	r := newRouter(t, false)

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set(types.HeaderPayment, paymentHeader(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	var body types.PaymentRequiredResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "bad signature", body.Error)
}

func TestMiddleware_ExemptRouteUntouched(t *testing.T) {
	r := newRouter(t, true)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
