package paywall

import (
	"context"

	"github.com/vitwit/x402kit/types"
)

// Request is the read-only view of an incoming request the paywall needs.
// Framework adapters implement it over their native request type.
type Request interface {
	Context() context.Context
	Method() string
	Path() string
	RawQuery() string
	Header(name string) string
	ClientIP() string
	ContentLength() int64
}

// Response is the write side. JSON must set the status and write the body;
// headers are set before it is called.
type Response interface {
	SetHeader(name, value string)
	JSON(status int, body interface{})
}

// Payment is the metadata attached to a request that passed the paywall.
type Payment struct {
	PaymentID    string
	Payer        string
	Amount       string
	Network      string
	Asset        string
	Warnings     []string
	Requirements types.PaymentRequirements
}

type paymentKey struct{}

// WithPayment returns a copy of ctx carrying p.
func WithPayment(ctx context.Context, p Payment) context.Context {
	return context.WithValue(ctx, paymentKey{}, p)
}

// FromContext returns the payment attached by the paywall, if any.
func FromContext(ctx context.Context) (Payment, bool) {
	p, ok := ctx.Value(paymentKey{}).(Payment)
	return p, ok
}
