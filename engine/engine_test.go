package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402kit/schemes"
	"github.com/vitwit/x402kit/types"
)

type stubScheme struct {
	tag   string
	err   error
	calls int32
}

func (s *stubScheme) Scheme() string { return "exact" }

func (s *stubScheme) CreatePaymentPayload(_ context.Context, req types.PaymentRequirements) (*types.PaymentPayload, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return &types.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     req.Network,
		Payload:     json.RawMessage(`{"tag":"` + s.tag + `"}`),
	}, nil
}

func offer(network, amount string) types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:   "exact",
		Network:  network,
		Amount:   amount,
		Asset:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		PayTo:    "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Resource: "/premium",
	}
}

// paywallServer answers 402 until a request carries X-PAYMENT, unless
// alwaysDemand is set.
type paywallServer struct {
	accepts      []types.PaymentRequirements
	alwaysDemand bool
	useBody      bool

	mu       sync.Mutex
	hits     int32
	payments []types.PaymentPayload
	bodies   []string
}

func (p *paywallServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&p.hits, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	b, _ := io.ReadAll(r.Body)
	p.bodies = append(p.bodies, string(b))

	if h := r.Header.Get(types.HeaderPayment); h != "" {
		var pl types.PaymentPayload
		if err := types.DecodeHeader(h, &pl); err == nil {
			p.payments = append(p.payments, pl)
		}
		if !p.alwaysDemand {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("premium content"))
			return
		}
	}

	body := types.PaymentRequiredResponse{X402Version: 1, Error: "payment required", Accepts: p.accepts}
	if p.useBody {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(body)
		return
	}
	h, _ := types.EncodeHeader(body)
	w.Header().Set(types.HeaderPaymentRequired, h)
	w.WriteHeader(http.StatusPaymentRequired)
}

func newEngine(t *testing.T, reg *schemes.Registry, opts ...Option) *http.Client {
	t.Helper()
	tr, err := New(reg, opts...)
	require.NoError(t, err)
	return tr.Client()
}

func registryWith(t *testing.T, pairs map[string]schemes.SchemeClient) *schemes.Registry {
	t.Helper()
	reg := schemes.NewRegistry()
	for pattern, c := range pairs {
		require.NoError(t, reg.Register(pattern, c))
	}
	return reg
}

func TestTransport_PassesThroughNon402(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	scheme := &stubScheme{}
	client := newEngine(t, registryWith(t, map[string]schemes.SchemeClient{"eip155:*": scheme}))

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Zero(t, scheme.calls)
}

func TestTransport_PaysAndRetriesWithBody(t *testing.T) {
	ps := &paywallServer{accepts: []types.PaymentRequirements{offer("eip155:84532", "0.01")}}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	scheme := &stubScheme{tag: "evm"}
	client := newEngine(t, registryWith(t, map[string]schemes.SchemeClient{"eip155:*": scheme}))

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/premium", io.NopCloser(strings.NewReader(`{"q":"hi"}`)))
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "premium content", string(body))

	assert.EqualValues(t, 1, scheme.calls)
	require.Len(t, ps.payments, 1)
	assert.Equal(t, "eip155:84532", ps.payments[0].Network)
	assert.Equal(t, []string{`{"q":"hi"}`, `{"q":"hi"}`}, ps.bodies)
}

func TestTransport_ExactlyOnePaymentPer402(t *testing.T) {
	ps := &paywallServer{accepts: []types.PaymentRequirements{offer("eip155:84532", "0.01")}, alwaysDemand: true}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	scheme := &stubScheme{tag: "evm"}
	client := newEngine(t, registryWith(t, map[string]schemes.SchemeClient{"eip155:84532": scheme}))

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.EqualValues(t, 1, scheme.calls)
	assert.EqualValues(t, 2, ps.hits)
}

func TestTransport_ReadsRequirementsFromBody(t *testing.T) {
	ps := &paywallServer{accepts: []types.PaymentRequirements{offer("eip155:84532", "0.01")}, useBody: true}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	client := newEngine(t, registryWith(t, map[string]schemes.SchemeClient{"eip155:*": &stubScheme{}}))

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTransport_Malformed402(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte("pay me"))
	}))
	defer srv.Close()

	scheme := &stubScheme{}
	client := newEngine(t, registryWith(t, map[string]schemes.SchemeClient{"eip155:*": scheme}))

	_, err := client.Get(srv.URL)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrMalformedPaymentRequired))
	assert.Zero(t, scheme.calls)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	info, err := ParsePaymentRequired(resp)
	require.Error(t, err)
	assert.False(t, info.IsPaymentRequired)
}

func TestTransport_ExactRegistrationBeatsWildcard(t *testing.T) {
	ps := &paywallServer{accepts: []types.PaymentRequirements{offer("eip155:8453", "0.01")}}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	wildcard, exact := &stubScheme{tag: "wildcard"}, &stubScheme{tag: "exact"}
	reg := schemes.NewRegistry()
	require.NoError(t, reg.Register("eip155:*", wildcard))
	require.NoError(t, reg.Register("eip155:8453", exact))

	resp, err := newEngine(t, reg).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.EqualValues(t, 1, exact.calls)
	assert.Zero(t, wildcard.calls)
	assert.JSONEq(t, `{"tag":"exact"}`, string(ps.payments[0].Payload))
}

func TestTransport_UnsupportedNetworkFailsClosed(t *testing.T) {
	ps := &paywallServer{accepts: []types.PaymentRequirements{offer("eip155:1", "0.01")}}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	scheme := &stubScheme{}
	client := newEngine(t, registryWith(t, map[string]schemes.SchemeClient{"eip155:8453": scheme}))

	_, err := client.Get(srv.URL)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUnsupportedNetwork))
	assert.Zero(t, scheme.calls)
	assert.EqualValues(t, 1, ps.hits)
}

func TestTransport_NetworkPreference(t *testing.T) {
	ps := &paywallServer{accepts: []types.PaymentRequirements{
		offer("eip155:84532", "0.01"),
		offer("solana:EtWTRABZaYq6iMfeYKouRu166VoUHMPW", "0.01"),
	}}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	evm, svm := &stubScheme{tag: "evm"}, &stubScheme{tag: "svm"}
	reg := registryWith(t, map[string]schemes.SchemeClient{"eip155:*": evm, "solana:*": svm})

	resp, err := newEngine(t, reg, WithSelector(PreferNetworks("solana:"))).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.EqualValues(t, 1, svm.calls)
	assert.Zero(t, evm.calls)
}

func TestTransport_MaxAmount(t *testing.T) {
	ps := &paywallServer{accepts: []types.PaymentRequirements{offer("eip155:84532", "5.00")}}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	scheme := &stubScheme{}
	client := newEngine(t, registryWith(t, map[string]schemes.SchemeClient{"eip155:*": scheme}), WithMaxAmount("1"))

	_, err := client.Get(srv.URL)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrAmountExceedsLimit))
	assert.Zero(t, scheme.calls)

	_, err = New(schemes.NewRegistry(), WithMaxAmount("lots"))
	require.Error(t, err)
}

func TestTransport_Hooks(t *testing.T) {
	t.Run("before hook aborts", func(t *testing.T) {
		ps := &paywallServer{accepts: []types.PaymentRequirements{offer("eip155:84532", "0.01")}}
		srv := httptest.NewServer(ps)
		defer srv.Close()

		scheme := &stubScheme{}
		client := newEngine(t, registryWith(t, map[string]schemes.SchemeClient{"eip155:*": scheme}),
			WithBeforePaymentCreation(func(context.Context, PaymentContext) HookResult { return Continue() }),
			WithBeforePaymentCreation(func(_ context.Context, pc PaymentContext) HookResult {
				return Abort("budget exhausted for " + pc.Requirements.Resource)
			}),
		)

		_, err := client.Get(srv.URL)
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrPaymentAborted))
		assert.Contains(t, err.Error(), "budget exhausted for /premium")
		assert.Zero(t, scheme.calls)
		assert.EqualValues(t, 1, ps.hits)
	})

	t.Run("failure hook recovers", func(t *testing.T) {
		ps := &paywallServer{accepts: []types.PaymentRequirements{offer("eip155:84532", "0.01")}}
		srv := httptest.NewServer(ps)
		defer srv.Close()

		scheme := &stubScheme{err: errors.New("hardware wallet locked")}
		var observed []string
		client := newEngine(t, registryWith(t, map[string]schemes.SchemeClient{"eip155:*": scheme}),
			WithPaymentCreationFailure(func(_ context.Context, pc PaymentContext, err error) HookResult {
				return Recover(&types.PaymentPayload{X402Version: 1, Scheme: "exact", Network: pc.Requirements.Network, Payload: json.RawMessage(`{"tag":"backup"}`)})
			}),
			WithAfterPaymentCreation(func(_ context.Context, _ PaymentContext, p types.PaymentPayload) {
				observed = append(observed, string(p.Payload))
			}),
		)

		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []string{`{"tag":"backup"}`}, observed)
		assert.JSONEq(t, `{"tag":"backup"}`, string(ps.payments[0].Payload))
	})

	t.Run("failure without recovery propagates", func(t *testing.T) {
		ps := &paywallServer{accepts: []types.PaymentRequirements{offer("eip155:84532", "0.01")}}
		srv := httptest.NewServer(ps)
		defer srv.Close()

		signErr := errors.New("user rejected")
		client := newEngine(t, registryWith(t, map[string]schemes.SchemeClient{"eip155:*": &stubScheme{err: signErr}}),
			WithPaymentCreationFailure(func(context.Context, PaymentContext, error) HookResult { return Continue() }),
		)

		_, err := client.Get(srv.URL)
		require.Error(t, err)
		assert.ErrorIs(t, err, signErr)
	})
}

func TestDecodePaymentResponse(t *testing.T) {
	h, err := types.EncodeHeader(types.PaymentResponse{Success: true, PaymentID: "pay_9", Network: "eip155:84532"})
	require.NoError(t, err)

	resp := &http.Response{Header: http.Header{}}
	got, err := DecodePaymentResponse(resp)
	require.NoError(t, err)
	assert.Nil(t, got)

	resp.Header.Set(types.HeaderPaymentResponse, h)
	got, err = DecodePaymentResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, "pay_9", got.PaymentID)
	assert.True(t, got.Success)
}
