package verification

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/google/uuid"
	"github.com/vitwit/x402kit/clients"
	"github.com/vitwit/x402kit/logger"
	"github.com/vitwit/x402kit/metrics"
	"github.com/vitwit/x402kit/types"
	"github.com/vitwit/x402kit/utils"
	"github.com/vitwit/x402kit/utils/eip712"
)

const validityLeeway = 30 * time.Second

// VerifyExactPayment verifies a signed "exact" payload against the
// requirements it claims to satisfy and, when valid, consumes its nonce.
// EVM payloads are checked for timing, recipient, value and EIP-712
// signer; SVM payloads for a TransferChecked of the exact amount to the
// payee's token account, signed by its owner.
func (v *Verifier) VerifyExactPayment(
	ctx context.Context,
	payload *types.PaymentPayload,
	req types.PaymentRequirements,
) (*types.VerificationResult, error) {
	if payload == nil {
		return v.invalid(req.Network, types.ErrInvalidPayload, "missing payload", nil), nil
	}
	if payload.Scheme != req.Scheme || utils.ValidatePaymentScheme(payload.Scheme) != nil {
		return v.invalid(req.Network, types.ErrInvalidPayload, "scheme mismatch", map[string]any{"scheme": payload.Scheme}), nil
	}
	if payload.Network != req.Network {
		return v.invalid(req.Network, types.ErrInvalidPayload, "network mismatch", map[string]any{"payloadNetwork": payload.Network}), nil
	}

	switch types.ChainTypeOf(req.Network) {
	case types.ChainEVM:
		return v.verifyExactEvm(ctx, payload, req)
	case types.ChainSVM:
		return v.verifyExactSvm(ctx, payload, req)
	}
	return v.invalid(req.Network, types.ErrUnsupportedNetwork, "unsupported network", nil), nil
}

func (v *Verifier) verifyExactEvm(ctx context.Context, payload *types.PaymentPayload, req types.PaymentRequirements) (*types.VerificationResult, error) {
	network := req.Network

	evm, err := payload.EvmPayload()
	if err != nil {
		return v.invalid(network, types.ErrInvalidPayload, err.Error(), nil), nil
	}
	auth := evm.Authorization

	tok, err := clients.ResolveEvmToken(v.registry, req)
	if err != nil {
		return v.invalid(network, types.ErrorCode(err), err.Error(), nil), nil
	}

	code, reason, err := v.timingFailure(ctx, auth)
	if err != nil {
		return nil, err
	}
	if code != "" {
		return v.invalid(network, code, reason, map[string]any{"nonce": auth.Nonce}), nil
	}
	if v.validityTooLong(auth, req.MaxTimeoutSeconds) {
		return v.invalid(network, types.ErrVerificationFailed, ReasonValidityTooLong, map[string]any{
			"validBefore":       auth.ValidBefore,
			"maxTimeoutSeconds": req.MaxTimeoutSeconds,
		}), nil
	}

	if !utils.AddressesEqual(auth.To, req.PayTo) {
		return v.invalid(network, types.ErrVerificationFailed, ReasonRecipientMismatch, map[string]any{
			"expected": req.PayTo,
			"actual":   auth.To,
		}), nil
	}

	want, err := utils.ToAtomicUnits(req.Amount, tok.Decimals)
	if err != nil {
		return v.invalid(network, types.ErrInvalidAmount, err.Error(), nil), nil
	}
	got, err := utils.ParseAtomic(auth.Value)
	if err != nil || got.Cmp(want) != 0 {
		return v.invalid(network, types.ErrVerificationFailed, ReasonAmountMismatch, map[string]any{
			"expected": want.String(),
			"actual":   auth.Value,
		}), nil
	}

	signer, err := eip712.RecoverTransferSigner(tok.Domain, auth, evm.Signature)
	if err != nil || !utils.AddressesEqual(signer.Hex(), auth.From) {
		return v.invalid(network, types.ErrVerificationFailed, "invalid authorization signature", map[string]any{"from": auth.From}), nil
	}

	if reader, ok := v.evmChains[network]; ok {
		res, err := v.checkEvmChainState(ctx, reader, network, req.Asset, signer, auth.Nonce, want)
		if err != nil || res != nil {
			return res, err
		}
	}

	res, err := v.accept(ctx, auth.Nonce, &types.PaymentReceipt{
		PaymentID: uuid.NewString(),
		Proof: types.PaymentProof{
			ChainID:   network,
			From:      signer.Hex(),
			To:        auth.To,
			Amount:    req.Amount,
			Token:     req.Asset,
			Timestamp: v.now().Unix(),
			Nonce:     auth.Nonce,
		},
		SignatureValid: true,
	})
	if err != nil || !res.IsValid {
		return res, err
	}
	res.Payer = signer.Hex()
	res.Amount = req.Amount
	return res, nil
}

func (v *Verifier) verifyExactSvm(ctx context.Context, payload *types.PaymentPayload, req types.PaymentRequirements) (*types.VerificationResult, error) {
	network := req.Network

	svm, err := payload.SvmPayload()
	if err != nil {
		return v.invalid(network, types.ErrInvalidPayload, err.Error(), nil), nil
	}
	tx, err := clients.DecodeTransaction(svm.Transaction)
	if err != nil {
		return v.invalid(network, types.ErrInvalidPayload, err.Error(), nil), nil
	}

	mint, err := solana.PublicKeyFromBase58(req.Asset)
	if err != nil {
		return v.invalid(network, types.ErrInvalidAddress, "invalid asset mint", nil), nil
	}
	payTo, err := solana.PublicKeyFromBase58(req.PayTo)
	if err != nil {
		return v.invalid(network, types.ErrInvalidAddress, "invalid payTo", nil), nil
	}
	destination, _, err := solana.FindAssociatedTokenAddress(payTo, mint)
	if err != nil {
		return v.invalid(network, types.ErrInvalidAddress, "derive destination token account", nil), nil
	}

	transfer, err := findTransferChecked(tx)
	if err != nil || transfer == nil {
		return v.invalid(network, types.ErrInvalidPayload, "no TransferChecked instruction", nil), nil
	}

	if !transfer.GetDestinationAccount().PublicKey.Equals(destination) {
		return v.invalid(network, types.ErrVerificationFailed, ReasonRecipientMismatch, map[string]any{
			"expected": destination.String(),
			"actual":   transfer.GetDestinationAccount().PublicKey.String(),
		}), nil
	}
	if !transfer.GetMintAccount().PublicKey.Equals(mint) {
		return v.invalid(network, types.ErrVerificationFailed, ReasonMintMismatch, map[string]any{"actual": transfer.GetMintAccount().PublicKey.String()}), nil
	}

	decimals := clients.SvmTokenDecimals(v.registry, req)
	if int(*transfer.Decimals) != decimals {
		return v.invalid(network, types.ErrVerificationFailed, ReasonDecimalsMismatch, map[string]any{
			"expected": decimals,
			"actual":   *transfer.Decimals,
		}), nil
	}

	want, err := utils.ToAtomicUnits(req.Amount, decimals)
	if err != nil {
		return v.invalid(network, types.ErrInvalidAmount, err.Error(), nil), nil
	}
	if !want.IsUint64() || want.Uint64() != *transfer.Amount {
		return v.invalid(network, types.ErrVerificationFailed, ReasonAmountMismatch, map[string]any{
			"expected": want.String(),
			"actual":   strconv.FormatUint(*transfer.Amount, 10),
		}), nil
	}

	owner := transfer.GetOwnerAccount().PublicKey
	ownerSig, ok := signatureOf(tx, owner)
	if !ok {
		return v.invalid(network, types.ErrVerificationFailed, ReasonOwnerNotSigned, map[string]any{"owner": owner.String()}), nil
	}

	// The owner signature is unique per transaction and doubles as its nonce.
	nonce := ownerSig.String()
	used, err := v.IsNonceUsed(ctx, nonce)
	if err != nil {
		return nil, err
	}
	if used {
		v.replayDetected(ctx, nonce, "")
		return v.invalid(network, types.ErrReplayDetected, ReasonReplay, map[string]any{"nonce": nonce}), nil
	}

	res, err := v.accept(ctx, nonce, &types.PaymentReceipt{
		PaymentID: uuid.NewString(),
		Proof: types.PaymentProof{
			ChainID:   network,
			From:      owner.String(),
			To:        req.PayTo,
			Amount:    req.Amount,
			Token:     req.Asset,
			Timestamp: v.now().Unix(),
			Nonce:     nonce,
		},
		SignatureValid: true,
	})
	if err != nil || !res.IsValid {
		return res, err
	}
	res.Payer = owner.String()
	res.Amount = req.Amount
	return res, nil
}

// validityTooLong reports whether auth stays valid past now plus the
// advertised timeout, allowing validityLeeway for clock skew.
func (v *Verifier) validityTooLong(auth types.EIP3009Authorization, maxTimeoutSeconds int) bool {
	if maxTimeoutSeconds <= 0 {
		return false
	}
	validBefore, err := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if err != nil {
		return true
	}
	limit := v.now().Add(time.Duration(maxTimeoutSeconds)*time.Second + validityLeeway).Unix()
	return validBefore > limit
}

// checkEvmChainState returns a non-nil result when the token contract shows
// the authorization cannot settle. RPC failures are returned as errors.
func (v *Verifier) checkEvmChainState(
	ctx context.Context,
	reader clients.EvmChainReader,
	network, asset string,
	payer common.Address,
	nonce string,
	amount *big.Int,
) (*types.VerificationResult, error) {
	raw, err := clients.AuthorizationNonce(nonce)
	if err != nil {
		return v.invalid(network, types.ErrInvalidPayload, err.Error(), nil), nil
	}
	tokenAddr := common.HexToAddress(asset)

	used, err := reader.AuthorizationState(ctx, tokenAddr, payer, raw)
	if err != nil {
		return nil, fmt.Errorf("authorization state: %w", err)
	}
	if used {
		logger.SecurityEvent(v.logger, "authorization already used on chain", map[string]any{
			"nonce":   nonce,
			"payer":   payer.Hex(),
			"network": network,
		})
		v.metrics.IncCounter(metrics.EventReplayDetected, map[string]string{"network": network})
		return v.invalid(network, types.ErrReplayDetected, ReasonUsedOnChain, map[string]any{"nonce": nonce}), nil
	}

	balance, err := reader.BalanceOf(ctx, tokenAddr, payer)
	if err != nil {
		return nil, fmt.Errorf("token balance: %w", err)
	}
	if balance.Cmp(amount) < 0 {
		return v.invalid(network, types.ErrVerificationFailed, ReasonInsufficientBalance, map[string]any{
			"payer":    payer.Hex(),
			"balance":  balance.String(),
			"required": amount.String(),
		}), nil
	}
	return nil, nil
}

func findTransferChecked(tx *solana.Transaction) (*token.TransferChecked, error) {
	for _, inst := range tx.Message.Instructions {
		prog, err := tx.ResolveProgramIDIndex(inst.ProgramIDIndex)
		if err != nil {
			return nil, err
		}
		if !prog.Equals(solana.TokenProgramID) {
			continue
		}

		accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
		if err != nil {
			return nil, err
		}
		decoded, err := token.DecodeInstruction(accounts, inst.Data)
		if err != nil {
			continue
		}
		if tc, ok := decoded.Impl.(*token.TransferChecked); ok {
			return tc, nil
		}
	}
	return nil, nil
}

// signatureOf returns pub's signature if it is a required signer and the
// signature verifies against the message.
func signatureOf(tx *solana.Transaction, pub solana.PublicKey) (solana.Signature, bool) {
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return solana.Signature{}, false
	}
	for i := 0; i < int(tx.Message.Header.NumRequiredSignatures) && i < len(tx.Message.AccountKeys); i++ {
		if !tx.Message.AccountKeys[i].Equals(pub) {
			continue
		}
		if i >= len(tx.Signatures) || tx.Signatures[i].IsZero() {
			return solana.Signature{}, false
		}
		return tx.Signatures[i], tx.Signatures[i].Verify(pub, msg)
	}
	return solana.Signature{}, false
}
