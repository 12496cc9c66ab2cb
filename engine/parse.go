package engine

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/vitwit/x402kit/types"
)

const maxPaymentRequiredBody = 1 << 20

// PaymentRequiredInfo is the parsed form of a 402 response.
type PaymentRequiredInfo struct {
	IsPaymentRequired bool
	Response          *types.PaymentRequiredResponse
}

// ParsePaymentRequired reads the PAYMENT-REQUIRED header, falling back to
// the JSON body. A 402 with neither, or with no accepts, is malformed:
// IsPaymentRequired is false and the error says why. The body is consumed.
func ParsePaymentRequired(resp *http.Response) (PaymentRequiredInfo, error) {
	if resp == nil || resp.StatusCode != http.StatusPaymentRequired {
		return PaymentRequiredInfo{}, nil
	}

	var pr types.PaymentRequiredResponse
	if h := resp.Header.Get(types.HeaderPaymentRequired); h != "" {
		if err := types.DecodeHeader(h, &pr); err != nil {
			return PaymentRequiredInfo{}, types.WrapError(types.ErrMalformedPaymentRequired, err, "invalid %s header", types.HeaderPaymentRequired)
		}
	} else {
		if resp.Body == nil {
			return PaymentRequiredInfo{}, types.NewError(types.ErrMalformedPaymentRequired, "402 response without payment requirements")
		}
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPaymentRequiredBody))
		if err != nil {
			return PaymentRequiredInfo{}, types.WrapError(types.ErrMalformedPaymentRequired, err, "read 402 body")
		}
		if err := json.Unmarshal(raw, &pr); err != nil {
			return PaymentRequiredInfo{}, types.WrapError(types.ErrMalformedPaymentRequired, err, "402 body is not a payment required response")
		}
	}

	if len(pr.Accepts) == 0 {
		return PaymentRequiredInfo{}, types.NewError(types.ErrMalformedPaymentRequired, "402 response offers no payment options")
	}
	return PaymentRequiredInfo{IsPaymentRequired: true, Response: &pr}, nil
}

// DecodePaymentResponse reads the X-PAYMENT-RESPONSE settlement header.
// It returns nil when the header is absent.
func DecodePaymentResponse(resp *http.Response) (*types.PaymentResponse, error) {
	h := resp.Header.Get(types.HeaderPaymentResponse)
	if h == "" {
		return nil, nil
	}
	var pr types.PaymentResponse
	if err := types.DecodeHeader(h, &pr); err != nil {
		return nil, types.WrapError(types.ErrInvalidPayload, err, "invalid %s header", types.HeaderPaymentResponse)
	}
	return &pr, nil
}
