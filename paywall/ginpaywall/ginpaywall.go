// Package ginpaywall binds the paywall to gin.
package ginpaywall

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/vitwit/x402kit/paywall"
)

// ContextKey holds the paywall.Payment in the gin context.
const ContextKey = "x402.payment"

type request struct{ c *gin.Context }

func (q request) Context() context.Context  { return q.c.Request.Context() }
func (q request) Method() string            { return q.c.Request.Method }
func (q request) Path() string              { return q.c.Request.URL.Path }
func (q request) RawQuery() string          { return q.c.Request.URL.RawQuery }
func (q request) Header(name string) string { return q.c.GetHeader(name) }
func (q request) ClientIP() string          { return q.c.ClientIP() }
func (q request) ContentLength() int64      { return q.c.Request.ContentLength }

type response struct{ c *gin.Context }

func (s response) SetHeader(name, value string) { s.c.Header(name, value) }

func (s response) JSON(status int, body interface{}) {
	s.c.AbortWithStatusJSON(status, body)
}

// Middleware protects the routes after it with p.
func Middleware(p *paywall.Paywall) gin.HandlerFunc {
	return func(c *gin.Context) {
		p.Handle(request{c}, response{c}, func(pay *paywall.Payment) {
			if pay != nil {
				c.Set(ContextKey, *pay)
				c.Request = c.Request.WithContext(paywall.WithPayment(c.Request.Context(), *pay))
			}
			c.Next()
		})
	}
}

// PaymentFrom returns the payment accepted for this request.
func PaymentFrom(c *gin.Context) (paywall.Payment, bool) {
	v, ok := c.Get(ContextKey)
	if !ok {
		return paywall.Payment{}, false
	}
	p, ok := v.(paywall.Payment)
	return p, ok
}
