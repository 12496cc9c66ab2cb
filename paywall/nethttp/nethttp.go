// Package nethttp binds the paywall to net/http handlers.
package nethttp

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/vitwit/x402kit/paywall"
)

type request struct{ r *http.Request }

func (q request) Context() context.Context  { return q.r.Context() }
func (q request) Method() string            { return q.r.Method }
func (q request) Path() string              { return q.r.URL.Path }
func (q request) RawQuery() string          { return q.r.URL.RawQuery }
func (q request) Header(name string) string { return q.r.Header.Get(name) }
func (q request) ContentLength() int64      { return q.r.ContentLength }

func (q request) ClientIP() string {
	if fwd := q.r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(q.r.RemoteAddr)
	if err != nil {
		return q.r.RemoteAddr
	}
	return host
}

type response struct{ w http.ResponseWriter }

func (s response) SetHeader(name, value string) { s.w.Header().Set(name, value) }

func (s response) JSON(status int, body interface{}) {
	s.w.Header().Set("Content-Type", "application/json")
	s.w.WriteHeader(status)
	_ = json.NewEncoder(s.w).Encode(body)
}

// Middleware protects next with p. Handlers read the payment with
// paywall.FromContext.
func Middleware(p *paywall.Paywall) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p.Handle(request{r}, response{w}, func(pay *paywall.Payment) {
				if pay != nil {
					r = r.WithContext(paywall.WithPayment(r.Context(), *pay))
				}
				next.ServeHTTP(w, r)
			})
		})
	}
}
