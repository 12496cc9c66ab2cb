// Package metrics records payment lifecycle counters and latencies.
package metrics

import "time"

// Event names emitted by x402kit components.
const (
	EventPaymentRequired    = "payment_required"
	EventPaymentVerified    = "payment_verified"
	EventVerificationFailed = "verification_failed"
	EventReplayDetected     = "replay_detected"
	EventRateLimited        = "rate_limited"
	EventPaymentCreated     = "payment_created"
	EventPaymentFailed      = "payment_failed"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
