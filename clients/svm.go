package clients

import (
	"context"
	"encoding/base64"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/vitwit/x402kit/chains"
	"github.com/vitwit/x402kit/types"
	"github.com/vitwit/x402kit/utils"
)

const (
	DefaultComputeUnitLimit uint32 = 40_000
	DefaultComputeUnitPrice uint64 = 1 // micro-lamports
)

// TransactionSigner signs serialized Solana messages for one key.
type TransactionSigner interface {
	PublicKey() solana.PublicKey
	SignMessage(message []byte) (solana.Signature, error)
}

// KeypairSigner signs with an in-process ed25519 key.
type KeypairSigner struct {
	key solana.PrivateKey
}

func NewKeypairSigner(key solana.PrivateKey) *KeypairSigner {
	return &KeypairSigner{key: key}
}

// NewKeypairSignerFromBase58 parses a base58 encoded 64-byte secret key.
func NewKeypairSignerFromBase58(secret string) (*KeypairSigner, error) {
	key, err := solana.PrivateKeyFromBase58(secret)
	if err != nil {
		return nil, types.WrapError(types.ErrNoWalletConfigured, err, "invalid solana private key")
	}
	return &KeypairSigner{key: key}, nil
}

func (k *KeypairSigner) PublicKey() solana.PublicKey {
	return k.key.PublicKey()
}

func (k *KeypairSigner) SignMessage(message []byte) (solana.Signature, error) {
	return k.key.Sign(message)
}

// ExactSvmScheme builds SPL TransferChecked transactions signed by the payer
// and left open for the facilitator fee payer signature.
type ExactSvmScheme struct {
	signer   TransactionSigner
	rpc      *rpcResolver
	registry *chains.Registry
}

func NewExactSvmScheme(signer TransactionSigner, cfg SvmRPCConfig) (*ExactSvmScheme, error) {
	if signer == nil {
		return nil, types.NewError(types.ErrNoWalletConfigured, "no solana signer configured")
	}
	return &ExactSvmScheme{
		signer:   signer,
		rpc:      newRPCResolver(cfg),
		registry: cfg.Registry,
	}, nil
}

func (s *ExactSvmScheme) Scheme() string {
	return string(types.SchemeExact)
}

func (s *ExactSvmScheme) decimals(req types.PaymentRequirements) int {
	return SvmTokenDecimals(s.registry, req)
}

// SvmTokenDecimals is the mint precision for req: Extra["decimals"], then
// the registry entry for the asset, then chains.DefaultDecimal.
func SvmTokenDecimals(registry *chains.Registry, req types.PaymentRequirements) int {
	if d, ok := extraInt(req, "decimals"); ok {
		return d
	}
	if registry != nil {
		if c, err := registry.Resolve(req.Network); err == nil {
			if t, ok := c.TokenByAddress(req.Asset); ok {
				return t.Decimals
			}
		}
	}
	return chains.DefaultDecimal
}

// CreatePaymentPayload builds the transfer, partially signs it as owner and
// returns it base64 encoded. The fee payer comes from Extra["feePayer"].
func (s *ExactSvmScheme) CreatePaymentPayload(ctx context.Context, req types.PaymentRequirements) (*types.PaymentPayload, error) {
	if err := utils.ValidatePaymentScheme(req.Scheme); err != nil {
		return nil, err
	}
	if types.ChainTypeOf(req.Network) != types.ChainSVM {
		return nil, types.NewError(types.ErrUnsupportedNetwork, "not a solana network: %s", req.Network)
	}

	feePayerStr := req.ExtraString("feePayer")
	if feePayerStr == "" {
		return nil, types.NewError(types.ErrInvalidPayload, ErrMissingFeePayer)
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerStr)
	if err != nil {
		return nil, types.WrapError(types.ErrInvalidAddress, err, "invalid feePayer")
	}
	mint, err := solana.PublicKeyFromBase58(req.Asset)
	if err != nil {
		return nil, types.WrapError(types.ErrInvalidAddress, err, "invalid asset mint")
	}
	payTo, err := solana.PublicKeyFromBase58(req.PayTo)
	if err != nil {
		return nil, types.WrapError(types.ErrInvalidAddress, err, "invalid payTo")
	}

	decimals := s.decimals(req)
	atomic, err := utils.ToAtomicUnits(req.Amount, decimals)
	if err != nil {
		return nil, err
	}
	if !atomic.IsUint64() {
		return nil, types.NewError(types.ErrInvalidAmount, "%s: %s", ErrAmountOverflow, atomic)
	}

	owner := s.signer.PublicKey()
	source, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, fmt.Errorf("derive source token account: %w", err)
	}
	destination, _, err := solana.FindAssociatedTokenAddress(payTo, mint)
	if err != nil {
		return nil, fmt.Errorf("derive destination token account: %w", err)
	}

	client, err := s.rpc.forNetwork(req.Network)
	if err != nil {
		return nil, err
	}
	latest, err := client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, types.WrapError(types.ErrPaymentCreationFailed, err, "get latest blockhash")
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			computebudget.NewSetComputeUnitLimitInstruction(DefaultComputeUnitLimit).Build(),
			computebudget.NewSetComputeUnitPriceInstruction(DefaultComputeUnitPrice).Build(),
			token.NewTransferCheckedInstruction(
				atomic.Uint64(),
				uint8(decimals),
				source,
				mint,
				destination,
				owner,
				nil,
			).Build(),
		},
		latest.Value.Blockhash,
		solana.TransactionPayer(feePayer),
	)
	if err != nil {
		return nil, types.WrapError(types.ErrPaymentCreationFailed, err, "build transaction")
	}

	if err := partialSign(tx, s.signer); err != nil {
		return nil, types.WrapError(types.ErrPaymentCreationFailed, err, "sign transaction")
	}

	encoded, err := encodeTransaction(tx)
	if err != nil {
		return nil, err
	}

	return encodePayload(types.X402Version1, req.Network, types.ExactSvmPayload{
		Transaction: encoded,
		FeePayer:    feePayer.String(),
	})
}

// partialSign places signer's signature at its required-signer slot and
// leaves every other slot untouched.
func partialSign(tx *solana.Transaction, signer TransactionSigner) error {
	required := int(tx.Message.Header.NumRequiredSignatures)
	pub := signer.PublicKey()

	idx := -1
	for i := 0; i < required && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i].Equals(pub) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%s: %s", ErrNotARequiredSigner, pub)
	}

	for len(tx.Signatures) < required {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	sig, err := signer.SignMessage(msg)
	if err != nil {
		return err
	}
	tx.Signatures[idx] = sig
	return nil
}

func encodeTransaction(tx *solana.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("marshal transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeTransaction parses a base64 wire transaction.
func DecodeTransaction(txBase64 string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return nil, types.WrapError(types.ErrInvalidPayload, err, "%s: invalid base64", ErrInvalidExactSvmPayload)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, types.WrapError(types.ErrInvalidPayload, err, "%s: decode failed", ErrInvalidExactSvmPayload)
	}
	return tx, nil
}
