package engine

import (
	"context"
	"net/http"

	"github.com/vitwit/x402kit/types"
)

type hookAction int

const (
	actionContinue hookAction = iota
	actionAbort
	actionRecover
)

// HookResult tells the engine how to proceed after a hook runs.
type HookResult struct {
	action  hookAction
	reason  string
	payload *types.PaymentPayload
}

// Continue lets the flow proceed.
func Continue() HookResult {
	return HookResult{action: actionContinue}
}

// Abort stops the flow before any payment is signed. Only meaningful from
// a BeforePaymentHook.
func Abort(reason string) HookResult {
	return HookResult{action: actionAbort, reason: reason}
}

// Recover supplies a replacement payload after signing failed. Only
// meaningful from a FailureHook.
func Recover(payload *types.PaymentPayload) HookResult {
	return HookResult{action: actionRecover, payload: payload}
}

// PaymentContext describes the payment being made.
type PaymentContext struct {
	Request      *http.Request
	Requirements types.PaymentRequirements
	Accepts      []types.PaymentRequirements
}

// BeforePaymentHook runs before signing and may Abort.
type BeforePaymentHook func(ctx context.Context, pc PaymentContext) HookResult

// AfterPaymentHook observes a created payload. It receives a copy.
type AfterPaymentHook func(ctx context.Context, pc PaymentContext, payload types.PaymentPayload)

// FailureHook runs when signing fails and may Recover with a payload.
type FailureHook func(ctx context.Context, pc PaymentContext, err error) HookResult
