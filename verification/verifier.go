// Package verification accepts or rejects payment proofs. It owns the nonce
// and receipt stores: a nonce is marked used at most once, and every
// accepted payment leaves a receipt keyed by its payment id.
package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/vitwit/x402kit/chains"
	"github.com/vitwit/x402kit/clients"
	"github.com/vitwit/x402kit/logger"
	"github.com/vitwit/x402kit/metrics"
	"github.com/vitwit/x402kit/types"
	"github.com/vitwit/x402kit/utils"
)

// Invalid reasons reported in VerificationResult.InvalidReason.
const (
	ReasonReplay               = "nonce already used"
	ReasonRecipientMismatch    = "recipient mismatch"
	ReasonAmountMismatch       = "amount mismatch"
	ReasonBadSignature         = "invalid facilitator signature"
	ReasonSignerMismatch       = "facilitator signer mismatch"
	ReasonUntrustedFacilitator = "untrusted facilitator"
	ReasonMissingSignature     = "facilitator signature required"
	ReasonMissingNonce         = "proof has no nonce"
	ReasonNotYetValid          = "authorization not yet valid"
	ReasonExpired              = "authorization expired"
	ReasonValidityTooLong      = "authorization validity exceeds maxTimeoutSeconds"
	ReasonDecimalsMismatch     = "decimals mismatch"
	ReasonMintMismatch         = "mint mismatch"
	ReasonOwnerNotSigned       = "transfer owner did not sign"
	ReasonUsedOnChain          = "authorization already used on chain"
	ReasonInsufficientBalance  = "insufficient balance"
)

const (
	WarnNoFacilitatorSignature = "proof carries no facilitator signature"
	WarnUntrustedSigner        = "facilitator signature from unregistered signer"
)

// Verifier checks payment proofs with replay protection.
type Verifier struct {
	nonces   Store
	receipts Store
	registry *chains.Registry
	logger   logger.Logger
	metrics  metrics.Recorder
	now      func() time.Time

	mu           sync.RWMutex
	facilitators map[common.Address]struct{}
	evmChains    map[string]clients.EvmChainReader
}

type Option func(*Verifier)

func WithNonceStore(s Store) Option {
	return func(v *Verifier) { v.nonces = s }
}

func WithReceiptStore(s Store) Option {
	return func(v *Verifier) { v.receipts = s }
}

// WithChainRegistry supplies token metadata for exact payload checks.
func WithChainRegistry(r *chains.Registry) Option {
	return func(v *Verifier) { v.registry = r }
}

func WithLogger(l logger.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(v *Verifier) { v.metrics = metrics.Or(m) }
}

// WithEvmChain makes exact EVM verification on network consult the token
// contract for the authorization state and the payer's balance.
func WithEvmChain(network string, reader clients.EvmChainReader) Option {
	return func(v *Verifier) {
		if v.evmChains == nil {
			v.evmChains = make(map[string]clients.EvmChainReader)
		}
		v.evmChains[network] = reader
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// New returns a Verifier backed by in-memory stores unless overridden.
func New(opts ...Option) *Verifier {
	v := &Verifier{
		logger:       logger.NoopLogger{},
		metrics:      metrics.NoopRecorder{},
		now:          time.Now,
		facilitators: make(map[common.Address]struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.nonces == nil {
		v.nonces = NewMemoryStore(WithStoreClock(v.now))
	}
	if v.receipts == nil {
		v.receipts = NewMemoryStore(WithStoreClock(v.now))
	}
	return v
}

func nonceKey(nonce string) string {
	return strings.ToLower(strings.TrimSpace(nonce))
}

// IsNonceUsed is a pure read of the nonce store.
func (v *Verifier) IsNonceUsed(ctx context.Context, nonce string) (bool, error) {
	_, ok, err := v.nonces.Get(ctx, nonceKey(nonce))
	if err != nil {
		return false, fmt.Errorf("nonce lookup: %w", err)
	}
	return ok, nil
}

// MarkNonceUsed records nonce atomically. A second mark of the same nonce
// fails with REPLAY_DETECTED and leaves the first record in place.
func (v *Verifier) MarkNonceUsed(ctx context.Context, nonce, paymentID string) error {
	if nonceKey(nonce) == "" {
		return types.NewError(types.ErrInvalidPayload, ReasonMissingNonce)
	}

	ok, err := v.nonces.SetIfAbsent(ctx, nonceKey(nonce), paymentID)
	if err != nil {
		return fmt.Errorf("mark nonce: %w", err)
	}
	if !ok {
		v.replayDetected(ctx, nonce, paymentID)
		return types.NewError(types.ErrReplayDetected, "nonce %s already used", nonce)
	}
	return nil
}

func (v *Verifier) replayDetected(ctx context.Context, nonce, paymentID string) {
	fields := map[string]any{
		"nonce":     nonce,
		"paymentId": paymentID,
	}
	if rec, found, err := v.nonces.Get(ctx, nonceKey(nonce)); err == nil && found {
		fields["originalPaymentId"] = rec.Value
		fields["originalAt"] = rec.CreatedAt
	}
	logger.SecurityEvent(v.logger, "replay detected", fields)
	v.metrics.IncCounter(metrics.EventReplayDetected, nil)
}

// RegisterFacilitator marks address as an authoritative proof signer.
func (v *Verifier) RegisterFacilitator(address string) error {
	if !utils.IsEVMAddress(address) {
		return types.NewError(types.ErrInvalidAddress, "invalid facilitator address %q", address)
	}

	v.mu.Lock()
	v.facilitators[common.HexToAddress(address)] = struct{}{}
	v.mu.Unlock()
	return nil
}

func (v *Verifier) IsTrustedFacilitator(address string) bool {
	if !utils.IsEVMAddress(address) {
		return false
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.facilitators[common.HexToAddress(address)]
	return ok
}

// CanonicalMessage is the newline-joined text a facilitator personal_signs.
func CanonicalMessage(p types.PaymentProof) string {
	return strings.Join([]string{
		p.ChainID,
		p.TxHash,
		p.From,
		p.To,
		p.Amount,
		p.Token,
		strconv.FormatUint(p.BlockNumber, 10),
		strconv.FormatInt(p.Timestamp, 10),
		p.Nonce,
	}, "\n")
}

func (v *Verifier) invalid(network, code, reason string, fields map[string]any) *types.VerificationResult {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["reason"] = reason
	fields["network"] = network
	v.logger.Warn("payment verification failed", fields)
	v.metrics.IncCounter(metrics.EventVerificationFailed, map[string]string{"network": network})

	return &types.VerificationResult{
		IsValid:       false,
		InvalidReason: reason,
		Code:          code,
		Network:       network,
	}
}

// VerifyPaymentProof checks, in order and stopping at the first failure:
// replay, recipient, amount and the optional facilitator signature. On
// success the nonce is consumed and a receipt stored. Only store failures
// are returned as errors.
func (v *Verifier) VerifyPaymentProof(
	ctx context.Context,
	proof types.PaymentProof,
	expectedRecipient string,
	expectedAmount string,
	facilitatorAddress string,
) (*types.VerificationResult, error) {
	start := v.now()
	network := proof.ChainID

	if nonceKey(proof.Nonce) == "" {
		return v.invalid(network, types.ErrInvalidPayload, ReasonMissingNonce, nil), nil
	}

	used, err := v.IsNonceUsed(ctx, proof.Nonce)
	if err != nil {
		return nil, err
	}
	if used {
		v.replayDetected(ctx, proof.Nonce, "")
		return v.invalid(network, types.ErrReplayDetected, ReasonReplay, map[string]any{"nonce": proof.Nonce}), nil
	}

	if !utils.AddressesEqual(proof.To, expectedRecipient) {
		return v.invalid(network, types.ErrVerificationFailed, ReasonRecipientMismatch, map[string]any{
			"expected": expectedRecipient,
			"actual":   proof.To,
		}), nil
	}

	if !utils.AmountsEqual(proof.Amount, expectedAmount) {
		return v.invalid(network, types.ErrVerificationFailed, ReasonAmountMismatch, map[string]any{
			"expected": expectedAmount,
			"actual":   proof.Amount,
		}), nil
	}

	var (
		warnings       []string
		facilitator    string
		signatureValid bool
	)

	switch {
	case proof.FacilitatorSignature != "":
		signer, err := utils.RecoverPersonalMessageSigner(CanonicalMessage(proof), proof.FacilitatorSignature)
		if err != nil {
			return v.invalid(network, types.ErrVerificationFailed, ReasonBadSignature, map[string]any{"error": err.Error()}), nil
		}
		facilitator = signer.Hex()

		if facilitatorAddress != "" {
			if !utils.AddressesEqual(facilitator, facilitatorAddress) {
				return v.invalid(network, types.ErrVerificationFailed, ReasonSignerMismatch, map[string]any{
					"expected": facilitatorAddress,
					"actual":   facilitator,
				}), nil
			}
			if !v.IsTrustedFacilitator(facilitator) {
				return v.invalid(network, types.ErrVerificationFailed, ReasonUntrustedFacilitator, map[string]any{"signer": facilitator}), nil
			}
			signatureValid = true
		} else {
			signatureValid = v.IsTrustedFacilitator(facilitator)
			if !signatureValid {
				warnings = append(warnings, WarnUntrustedSigner)
				v.logger.Warn(WarnUntrustedSigner, map[string]any{"signer": facilitator, "nonce": proof.Nonce})
			}
		}

	case facilitatorAddress != "":
		return v.invalid(network, types.ErrVerificationFailed, ReasonMissingSignature, nil), nil

	default:
		warnings = append(warnings, WarnNoFacilitatorSignature)
		v.logger.Warn(WarnNoFacilitatorSignature, map[string]any{"nonce": proof.Nonce, "txHash": proof.TxHash})
	}

	receipt := &types.PaymentReceipt{
		PaymentID:      uuid.NewString(),
		Proof:          proof,
		Facilitator:    facilitator,
		SignatureValid: signatureValid,
	}
	res, err := v.accept(ctx, proof.Nonce, receipt)
	if err != nil || !res.IsValid {
		return res, err
	}

	res.Payer = proof.From
	res.Amount = proof.Amount
	res.Warnings = warnings
	v.metrics.ObserveLatency("verify_proof", v.now().Sub(start), map[string]string{"network": network})
	return res, nil
}

// accept consumes the nonce and stores the receipt. A lost race on the nonce
// yields an invalid result, not an error.
func (v *Verifier) accept(ctx context.Context, nonce string, receipt *types.PaymentReceipt) (*types.VerificationResult, error) {
	network := receipt.Proof.ChainID

	if err := v.MarkNonceUsed(ctx, nonce, receipt.PaymentID); err != nil {
		if types.IsCode(err, types.ErrReplayDetected) {
			return v.invalid(network, types.ErrReplayDetected, ReasonReplay, map[string]any{"nonce": nonce}), nil
		}
		return nil, err
	}

	receipt.VerifiedAt = v.now().UTC()
	raw, err := json.Marshal(receipt)
	if err != nil {
		return nil, fmt.Errorf("encode receipt: %w", err)
	}
	if err := v.receipts.Set(ctx, receipt.PaymentID, string(raw)); err != nil {
		return nil, fmt.Errorf("store receipt: %w", err)
	}

	v.logger.Info("payment verified", map[string]any{
		"paymentId": receipt.PaymentID,
		"network":   network,
		"from":      receipt.Proof.From,
		"amount":    receipt.Proof.Amount,
	})
	v.metrics.IncCounter(metrics.EventPaymentVerified, map[string]string{"network": network})

	return &types.VerificationResult{
		IsValid:   true,
		PaymentID: receipt.PaymentID,
		Network:   network,
		Receipt:   receipt,
	}, nil
}

// GetReceipt returns the receipt stored for paymentID.
func (v *Verifier) GetReceipt(ctx context.Context, paymentID string) (*types.PaymentReceipt, bool, error) {
	rec, ok, err := v.receipts.Get(ctx, paymentID)
	if err != nil || !ok {
		return nil, false, err
	}

	var receipt types.PaymentReceipt
	if err := json.Unmarshal([]byte(rec.Value), &receipt); err != nil {
		return nil, false, fmt.Errorf("decode receipt: %w", err)
	}
	return &receipt, true, nil
}

// VerifyAuthorizationTiming fails when now is outside
// [validAfter, validBefore] or when the authorization nonce was already used.
func (v *Verifier) VerifyAuthorizationTiming(ctx context.Context, auth types.EIP3009Authorization) error {
	code, reason, err := v.timingFailure(ctx, auth)
	if err != nil {
		return err
	}
	if code != "" {
		return types.NewError(code, "%s", reason)
	}
	return nil
}

// timingFailure reports the first timing or nonce problem with auth as a
// code and reason. err is set only when the nonce store fails.
func (v *Verifier) timingFailure(ctx context.Context, auth types.EIP3009Authorization) (code, reason string, err error) {
	validAfter, perr := strconv.ParseInt(auth.ValidAfter, 10, 64)
	if perr != nil {
		return types.ErrInvalidPayload, fmt.Sprintf("invalid validAfter %q", auth.ValidAfter), nil
	}
	validBefore, perr := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if perr != nil {
		return types.ErrInvalidPayload, fmt.Sprintf("invalid validBefore %q", auth.ValidBefore), nil
	}

	now := v.now().Unix()
	if now < validAfter {
		return types.ErrVerificationFailed, ReasonNotYetValid, nil
	}
	if now > validBefore {
		return types.ErrVerificationFailed, ReasonExpired, nil
	}

	used, err := v.IsNonceUsed(ctx, auth.Nonce)
	if err != nil {
		return "", "", err
	}
	if used {
		v.replayDetected(ctx, auth.Nonce, "")
		return types.ErrReplayDetected, ReasonReplay, nil
	}
	return "", "", nil
}
