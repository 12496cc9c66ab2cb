package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// X402Version represents the version of the x402 protocol
type X402Version int

const (
	X402Version1 X402Version = 1
)

// PaymentScheme represents different payment schemes
type PaymentScheme string

const (
	SchemeExact PaymentScheme = "exact"
)

// Header names used on the wire.
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentRequired = "PAYMENT-REQUIRED"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"

	HeaderPaymentProof   = "X-Payment-Proof"
	HeaderPaymentToken   = "X-Payment-Token"
	HeaderPaymentChain   = "X-Payment-Chain"
	HeaderPaymentAddress = "X-Payment-Address"
)

// PaymentRequirements defines what a resource server accepts for payment.
// Amount is expressed in human units of the asset (e.g. "0.01" USDC).
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	Amount            string                 `json:"amount"`
	Asset             string                 `json:"asset"`
	PayTo             string                 `json:"payTo"`
	Resource          string                 `json:"resource"`
	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	Deadline          int64                  `json:"deadline,omitempty"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// ExtraString returns a string entry of Extra, or "" when absent.
func (pr PaymentRequirements) ExtraString(key string) string {
	if pr.Extra == nil {
		return ""
	}
	s, _ := pr.Extra[key].(string)
	return s
}

// Validate checks the fields every scheme relies on.
func (pr *PaymentRequirements) Validate() error {
	if pr.Scheme == "" {
		return fmt.Errorf("paymentRequirements.scheme is required")
	}

	if pr.Network == "" {
		return fmt.Errorf("paymentRequirements.network is required")
	}

	if pr.Amount == "" {
		return fmt.Errorf("paymentRequirements.amount is required")
	}

	if pr.PayTo == "" {
		return fmt.Errorf("paymentRequirements.payTo is required")
	}

	if pr.Asset == "" {
		return fmt.Errorf("paymentRequirements.asset is required")
	}

	return nil
}

// PaymentRequiredResponse is the body of a 402 response.
type PaymentRequiredResponse struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// PaymentPayload is the signed proof a client attaches on retry.
// Payload holds the scheme-specific body (ExactEvmPayload or ExactSvmPayload).
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// EvmPayload decodes the scheme-specific body as an EIP-3009 payload.
func (p *PaymentPayload) EvmPayload() (*ExactEvmPayload, error) {
	var out ExactEvmPayload
	if err := json.Unmarshal(p.Payload, &out); err != nil {
		return nil, fmt.Errorf("invalid evm payload: %w", err)
	}
	if out.Signature == "" || out.Authorization.Nonce == "" {
		return nil, fmt.Errorf("invalid evm payload: missing signature or authorization")
	}
	return &out, nil
}

// SvmPayload decodes the scheme-specific body as a partially signed Solana transaction.
func (p *PaymentPayload) SvmPayload() (*ExactSvmPayload, error) {
	var out ExactSvmPayload
	if err := json.Unmarshal(p.Payload, &out); err != nil {
		return nil, fmt.Errorf("invalid svm payload: %w", err)
	}
	if out.Transaction == "" {
		return nil, fmt.Errorf("invalid svm payload: missing transaction")
	}
	return &out, nil
}

// EncodeHeader returns the base64 JSON form sent in the X-PAYMENT header.
func EncodeHeader(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeHeader reverses EncodeHeader into v.
func DecodeHeader(header string, v interface{}) error {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return fmt.Errorf("failed to decode base64: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

// ExactEvmPayload is the EIP-3009 body of an exact EVM payment.
type ExactEvmPayload struct {
	Signature     string               `json:"signature"`
	Authorization EIP3009Authorization `json:"authorization"`
}

// EIP3009Authorization mirrors the TransferWithAuthorization struct.
// Numeric fields are decimal strings since they are uint256 on chain.
type EIP3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactSvmPayload is the body of an exact SVM payment.
type ExactSvmPayload struct {
	Transaction string `json:"transaction"`
	FeePayer    string `json:"feePayer,omitempty"`
}

// PaymentProof describes a settled transfer as reported by a payer or facilitator.
type PaymentProof struct {
	ChainID     string `json:"chainId"`
	TxHash      string `json:"txHash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	Token       string `json:"token"`
	BlockNumber uint64 `json:"blockNumber"`
	Timestamp   int64  `json:"timestamp"`
	Nonce       string `json:"nonce"`

	// FacilitatorSignature is an optional personal_sign signature over CanonicalMessage.
	FacilitatorSignature string `json:"facilitatorSignature,omitempty"`
}

// PaymentReceipt is stored by the verifier after a successful verification.
type PaymentReceipt struct {
	PaymentID      string       `json:"paymentId"`
	Proof          PaymentProof `json:"proof"`
	VerifiedAt     time.Time    `json:"verifiedAt"`
	Facilitator    string       `json:"facilitator,omitempty"`
	SignatureValid bool         `json:"signatureValid"`
}

// VerificationResult contains the result of payment verification
type VerificationResult struct {
	IsValid       bool            `json:"isValid"`
	InvalidReason string          `json:"invalidReason,omitempty"`
	Code          string          `json:"code,omitempty"`
	PaymentID     string          `json:"paymentId,omitempty"`
	Payer         string          `json:"payer,omitempty"`
	Amount        string          `json:"amount,omitempty"`
	Network       string          `json:"network,omitempty"`
	Warnings      []string        `json:"warnings,omitempty"`
	Receipt       *PaymentReceipt `json:"receipt,omitempty"`
}

// PaymentStatus is the lifecycle state reported by a facilitator.
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusProcessing PaymentStatus = "processing"
	StatusConfirmed  PaymentStatus = "confirmed"
	StatusSettled    PaymentStatus = "settled"
	StatusFailed     PaymentStatus = "failed"
	StatusExpired    PaymentStatus = "expired"
)

// IsTerminal reports whether polling can stop on this status.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case StatusConfirmed, StatusSettled, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// IsSuccess reports whether the status means the funds moved.
func (s PaymentStatus) IsSuccess() bool {
	return s == StatusConfirmed || s == StatusSettled
}

// FacilitatorPaymentResult is the facilitator's view of a submitted payment.
type FacilitatorPaymentResult struct {
	PaymentID   string        `json:"paymentId"`
	TxHash      string        `json:"txHash,omitempty"`
	Status      PaymentStatus `json:"status"`
	BlockNumber uint64        `json:"blockNumber,omitempty"`
	ChainID     string        `json:"chainId,omitempty"`
	Amount      string        `json:"amount,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// FacilitatorHealth is returned by GET /health.
type FacilitatorHealth struct {
	Healthy         bool     `json:"healthy"`
	SupportedChains []string `json:"supportedChains"`
	SupportedTokens []string `json:"supportedTokens"`
}

// PaymentSubmission is the body of POST /payments.
type PaymentSubmission struct {
	PaymentPayload      PaymentPayload       `json:"paymentPayload"`
	PaymentRequirements *PaymentRequirements `json:"paymentRequirements,omitempty"`
	Reference           string               `json:"reference,omitempty"`
}

// PaymentQuery selects a payment on the facilitator. At least one key must be set.
type PaymentQuery struct {
	PaymentID string
	TxHash    string
	Reference string
}

// IsEmpty reports whether no lookup key is set.
func (q PaymentQuery) IsEmpty() bool {
	return q.PaymentID == "" && q.TxHash == "" && q.Reference == ""
}

// PaymentResponse is carried back in the X-PAYMENT-RESPONSE header.
type PaymentResponse struct {
	Success   bool   `json:"success"`
	PaymentID string `json:"paymentId,omitempty"`
	Network   string `json:"network,omitempty"`
	Payer     string `json:"payer,omitempty"`
}

// X402Config contains global configuration for the x402 library
type X402Config struct {
	DefaultChain         string            `json:"defaultChain" validate:"required,caip2"`
	MaxPaymentPerRequest string            `json:"maxPaymentPerRequest,omitempty" validate:"omitempty,amount"`
	FacilitatorURL       string            `json:"facilitatorUrl,omitempty" validate:"omitempty,url"`
	GaslessEnabled       bool              `json:"gaslessEnabled"`
	DefaultTimeout       time.Duration     `json:"defaultTimeout,omitempty" validate:"gte=0"`
	ValiditySeconds      int64             `json:"validitySeconds,omitempty" validate:"gte=0"`
	LogLevel             string            `json:"logLevel,omitempty" validate:"omitempty,oneof=debug info warn error"`
	EnableMetrics        bool              `json:"enableMetrics,omitempty"`
	RPCURLs              map[string]string `json:"rpcUrls,omitempty"`
}
