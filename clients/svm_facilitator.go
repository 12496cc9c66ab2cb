package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/vitwit/x402kit/logger"
	"github.com/vitwit/x402kit/types"
)

const (
	DefaultConfirmInterval    = time.Second
	DefaultConfirmMaxAttempts = 30
)

// FacilitatorSvmSigner co-signs payer transactions as fee payer, then
// simulates, broadcasts and confirms them.
type FacilitatorSvmSigner struct {
	signers     map[solana.PublicKey]TransactionSigner
	order       []solana.PublicKey
	rpc         *rpcResolver
	interval    time.Duration
	maxAttempts int
	logger      logger.Logger
}

type FacilitatorSvmOption func(*FacilitatorSvmSigner)

// WithConfirmPolling overrides the confirmation poll interval and attempt count.
func WithConfirmPolling(interval time.Duration, attempts int) FacilitatorSvmOption {
	return func(f *FacilitatorSvmSigner) {
		if interval > 0 {
			f.interval = interval
		}
		if attempts > 0 {
			f.maxAttempts = attempts
		}
	}
}

func WithSvmLogger(l logger.Logger) FacilitatorSvmOption {
	return func(f *FacilitatorSvmSigner) {
		if l != nil {
			f.logger = l
		}
	}
}

func NewFacilitatorSvmSigner(signers []TransactionSigner, cfg SvmRPCConfig, opts ...FacilitatorSvmOption) (*FacilitatorSvmSigner, error) {
	if len(signers) == 0 {
		return nil, types.NewError(types.ErrNoWalletConfigured, "facilitator needs at least one fee payer signer")
	}

	f := &FacilitatorSvmSigner{
		signers:     make(map[solana.PublicKey]TransactionSigner, len(signers)),
		rpc:         newRPCResolver(cfg),
		interval:    DefaultConfirmInterval,
		maxAttempts: DefaultConfirmMaxAttempts,
		logger:      logger.NoopLogger{},
	}
	for _, s := range signers {
		pk := s.PublicKey()
		if _, dup := f.signers[pk]; !dup {
			f.order = append(f.order, pk)
		}
		f.signers[pk] = s
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// GetAddresses lists the managed fee payer addresses in registration order.
func (f *FacilitatorSvmSigner) GetAddresses() []string {
	out := make([]string, 0, len(f.order))
	for _, pk := range f.order {
		out = append(out, pk.String())
	}
	return out
}

// SignTransaction adds the feePayer signature. feePayer must be managed by
// this signer and must be the transaction's fee payer account.
func (f *FacilitatorSvmSigner) SignTransaction(_ context.Context, txBase64, feePayer, network string) (string, error) {
	pk, err := solana.PublicKeyFromBase58(feePayer)
	if err != nil {
		return "", types.WrapError(types.ErrInvalidAddress, err, "invalid feePayer")
	}
	signer, ok := f.signers[pk]
	if !ok {
		return "", types.NewError(types.ErrInvalidPayload, "%s: %s", ErrFeePayerNotManaged, feePayer)
	}

	tx, err := DecodeTransaction(txBase64)
	if err != nil {
		return "", err
	}
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(pk) {
		return "", types.NewError(types.ErrInvalidPayload, "%s: expected %s", ErrFeePayerMismatch, feePayer)
	}

	if err := partialSign(tx, signer); err != nil {
		return "", types.WrapError(types.ErrInvalidPayload, err, "fee payer sign")
	}

	f.logger.Debug("fee payer signed transaction", map[string]any{
		"network":  network,
		"feePayer": feePayer,
	})
	return encodeTransaction(tx)
}

// SimulateTransaction runs the transaction against the network and turns
// any program error into a textual error.
func (f *FacilitatorSvmSigner) SimulateTransaction(ctx context.Context, txBase64, network string) error {
	tx, err := DecodeTransaction(txBase64)
	if err != nil {
		return err
	}
	client, err := f.rpc.forNetwork(network)
	if err != nil {
		return err
	}

	res, err := client.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:  true,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return fmt.Errorf("simulate transaction: %w", err)
	}
	if res != nil && res.Value != nil && res.Value.Err != nil {
		return types.NewError(types.ErrInvalidPayload, "%s: %s", ErrSimulationFailed, FormatRPCError(res.Value.Err))
	}
	return nil
}

// SendTransaction broadcasts a fully signed transaction and returns its signature.
func (f *FacilitatorSvmSigner) SendTransaction(ctx context.Context, txBase64, network string) (string, error) {
	tx, err := DecodeTransaction(txBase64)
	if err != nil {
		return "", err
	}
	for i := 0; i < int(tx.Message.Header.NumRequiredSignatures); i++ {
		if i >= len(tx.Signatures) || tx.Signatures[i].IsZero() {
			return "", types.NewError(types.ErrInvalidPayload, ErrTransactionSignerMissingSignatures)
		}
	}

	client, err := f.rpc.forNetwork(network)
	if err != nil {
		return "", err
	}
	sig, err := client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", fmt.Errorf("broadcast failed: %w", err)
	}
	return sig.String(), nil
}

// ConfirmTransaction polls the signature status until it is confirmed or
// finalized, the transaction fails, attempts run out, or ctx ends.
func (f *FacilitatorSvmSigner) ConfirmTransaction(ctx context.Context, signature, network string) error {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return types.WrapError(types.ErrInvalidPayload, err, "invalid signature")
	}
	client, err := f.rpc.forNetwork(network)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		status, err := client.GetSignatureStatuses(ctx, true, sig)
		if err == nil && status != nil && len(status.Value) > 0 && status.Value[0] != nil {
			st := status.Value[0]
			if st.Err != nil {
				return types.NewError(types.ErrFacilitator, "%s: %s", ErrTransactionFailed, FormatRPCError(st.Err))
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		} else if err != nil {
			f.logger.Debug("signature status poll failed", map[string]any{
				"attempt": attempt,
				"error":   err.Error(),
			})
		}

		if attempt == f.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return types.WrapError(types.ErrSettlementTimeout, ctx.Err(), ErrSettleTransactionConfirmationTimedOut)
		case <-ticker.C:
		}
	}

	return types.NewError(types.ErrSettlementTimeout, "%s after %d attempts", ErrSettleTransactionConfirmationTimedOut, f.maxAttempts)
}

// FormatRPCError renders an RPC error value as JSON with every number
// written as a decimal string.
func FormatRPCError(v interface{}) string {
	raw, err := json.Marshal(stringifyNumbers(v))
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func stringifyNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = stringifyNumbers(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = stringifyNumbers(val)
		}
		return out
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case json.Number:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case *big.Int:
		return t.String()
	}
	return v
}
