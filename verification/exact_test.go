package verification

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402kit/chains"
	"github.com/vitwit/x402kit/clients"
	"github.com/vitwit/x402kit/types"
)

func evmFixture(t *testing.T) (*clients.ExactEvmScheme, *chains.Registry, *fakeClock) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	registry, err := chains.NewDefault()
	require.NoError(t, err)
	clock := newFakeClock()

	scheme, err := clients.NewExactEvmScheme(clients.NewPrivateKeySigner(key), registry, clients.WithEvmClock(clock.Now))
	require.NoError(t, err)
	return scheme, registry, clock
}

func evmRequirements() types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:   "exact",
		Network:  chains.BaseSepolia,
		Amount:   "0.01",
		Asset:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		PayTo:    merchant,
		Resource: "/premium",
	}
}

func TestVerifyExactPayment_Evm(t *testing.T) {
	ctx := context.Background()
	scheme, registry, clock := evmFixture(t)
	v := New(WithChainRegistry(registry), WithClock(clock.Now))

	req := evmRequirements()
	payload, err := scheme.CreatePaymentPayload(ctx, req)
	require.NoError(t, err)

	res, err := v.VerifyExactPayment(ctx, payload, req)
	require.NoError(t, err)
	require.True(t, res.IsValid, res.InvalidReason)

	evm, err := payload.EvmPayload()
	require.NoError(t, err)
	assert.Equal(t, evm.Authorization.From, res.Payer)
	assert.Equal(t, "0.01", res.Amount)

	again, err := v.VerifyExactPayment(ctx, payload, req)
	require.NoError(t, err)
	assert.False(t, again.IsValid)
	assert.Equal(t, types.ErrReplayDetected, again.Code)
}

func TestVerifyExactPayment_EvmRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("amount differs", func(t *testing.T) {
		scheme, registry, clock := evmFixture(t)
		v := New(WithChainRegistry(registry), WithClock(clock.Now))

		payload, err := scheme.CreatePaymentPayload(ctx, evmRequirements())
		require.NoError(t, err)

		req := evmRequirements()
		req.Amount = "0.02"
		res, err := v.VerifyExactPayment(ctx, payload, req)
		require.NoError(t, err)
		assert.False(t, res.IsValid)
		assert.Equal(t, ReasonAmountMismatch, res.InvalidReason)
	})

	t.Run("recipient differs", func(t *testing.T) {
		scheme, registry, clock := evmFixture(t)
		v := New(WithChainRegistry(registry), WithClock(clock.Now))

		payload, err := scheme.CreatePaymentPayload(ctx, evmRequirements())
		require.NoError(t, err)

		req := evmRequirements()
		req.PayTo = payer
		res, err := v.VerifyExactPayment(ctx, payload, req)
		require.NoError(t, err)
		assert.False(t, res.IsValid)
		assert.Equal(t, ReasonRecipientMismatch, res.InvalidReason)
	})

	t.Run("expired", func(t *testing.T) {
		scheme, registry, clock := evmFixture(t)
		v := New(WithChainRegistry(registry), WithClock(clock.Now))

		payload, err := scheme.CreatePaymentPayload(ctx, evmRequirements())
		require.NoError(t, err)

		clock.Advance(clients.DefaultValidity + time.Second)
		res, err := v.VerifyExactPayment(ctx, payload, evmRequirements())
		require.NoError(t, err)
		assert.False(t, res.IsValid)
		assert.Equal(t, ReasonExpired, res.InvalidReason)
	})

	t.Run("value tampered after signing", func(t *testing.T) {
		scheme, registry, clock := evmFixture(t)
		v := New(WithChainRegistry(registry), WithClock(clock.Now))

		payload, err := scheme.CreatePaymentPayload(ctx, evmRequirements())
		require.NoError(t, err)

		evm, err := payload.EvmPayload()
		require.NoError(t, err)
		evm.Authorization.Value = "20000"
		payload.Payload, err = json.Marshal(evm)
		require.NoError(t, err)

		req := evmRequirements()
		req.Amount = "0.02"
		res, err := v.VerifyExactPayment(ctx, payload, req)
		require.NoError(t, err)
		assert.False(t, res.IsValid)
		assert.Equal(t, types.ErrVerificationFailed, res.Code)

		used, err := v.IsNonceUsed(ctx, evm.Authorization.Nonce)
		require.NoError(t, err)
		assert.False(t, used)
	})

	t.Run("validity longer than advertised", func(t *testing.T) {
		scheme, registry, clock := evmFixture(t)
		v := New(WithChainRegistry(registry), WithClock(clock.Now))

		payload, err := scheme.CreatePaymentPayload(ctx, evmRequirements())
		require.NoError(t, err)

		req := evmRequirements()
		req.MaxTimeoutSeconds = 60
		res, err := v.VerifyExactPayment(ctx, payload, req)
		require.NoError(t, err)
		assert.False(t, res.IsValid)
		assert.Equal(t, ReasonValidityTooLong, res.InvalidReason)

		evm, err := payload.EvmPayload()
		require.NoError(t, err)
		used, err := v.IsNonceUsed(ctx, evm.Authorization.Nonce)
		require.NoError(t, err)
		assert.False(t, used)

		req.MaxTimeoutSeconds = int(clients.DefaultValidity / time.Second)
		res, err = v.VerifyExactPayment(ctx, payload, req)
		require.NoError(t, err)
		assert.True(t, res.IsValid, res.InvalidReason)
	})

	t.Run("network mismatch", func(t *testing.T) {
		scheme, registry, clock := evmFixture(t)
		v := New(WithChainRegistry(registry), WithClock(clock.Now))

		payload, err := scheme.CreatePaymentPayload(ctx, evmRequirements())
		require.NoError(t, err)

		req := evmRequirements()
		req.Network = chains.Base
		res, err := v.VerifyExactPayment(ctx, payload, req)
		require.NoError(t, err)
		assert.False(t, res.IsValid)
		assert.Equal(t, types.ErrInvalidPayload, res.Code)
	})
}

type blockhashRPC struct{}

func (blockhashRPC) GetLatestBlockhash(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{4, 2}}}, nil
}

func (blockhashRPC) SimulateTransactionWithOpts(context.Context, *solana.Transaction, *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error) {
	return &rpc.SimulateTransactionResponse{Value: &rpc.SimulateTransactionResult{}}, nil
}

func (blockhashRPC) SendTransactionWithOpts(context.Context, *solana.Transaction, rpc.TransactionOpts) (solana.Signature, error) {
	return solana.Signature{}, nil
}

func (blockhashRPC) GetSignatureStatuses(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	return &rpc.GetSignatureStatusesResult{}, nil
}

const devnetUSDC = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"

func TestVerifyExactPayment_Svm(t *testing.T) {
	ctx := context.Background()

	payerKey, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	feePayer, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	payTo, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	scheme, err := clients.NewExactSvmScheme(clients.NewKeypairSigner(payerKey), clients.SvmRPCConfig{RPC: blockhashRPC{}})
	require.NoError(t, err)

	req := types.PaymentRequirements{
		Scheme:   "exact",
		Network:  chains.SolanaDevnet,
		Amount:   "1.5",
		Asset:    devnetUSDC,
		PayTo:    payTo.PublicKey().String(),
		Resource: "/premium",
		Extra:    map[string]interface{}{"feePayer": feePayer.PublicKey().String()},
	}
	payload, err := scheme.CreatePaymentPayload(ctx, req)
	require.NoError(t, err)

	v := New()

	wrong := req
	wrong.Amount = "2"
	res, err := v.VerifyExactPayment(ctx, payload, wrong)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, ReasonAmountMismatch, res.InvalidReason)

	res, err = v.VerifyExactPayment(ctx, payload, req)
	require.NoError(t, err)
	require.True(t, res.IsValid, res.InvalidReason)
	assert.Equal(t, payerKey.PublicKey().String(), res.Payer)

	res, err = v.VerifyExactPayment(ctx, payload, req)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, types.ErrReplayDetected, res.Code)
}

// signedTransfer builds a TransferChecked from owner's token account and has
// signer fill the owner's signature slot.
func signedTransfer(t *testing.T, owner, signer solana.PrivateKey, feePayer, mint, destination solana.PublicKey, amount uint64, decimals uint8) *types.PaymentPayload {
	t.Helper()
	source, _, err := solana.FindAssociatedTokenAddress(owner.PublicKey(), mint)
	require.NoError(t, err)

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			token.NewTransferCheckedInstruction(amount, decimals, source, mint, destination, owner.PublicKey(), nil).Build(),
		},
		solana.Hash{4, 2},
		solana.TransactionPayer(feePayer),
	)
	require.NoError(t, err)

	msg, err := tx.Message.MarshalBinary()
	require.NoError(t, err)
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	for i := range tx.Signatures {
		if tx.Message.AccountKeys[i].Equals(owner.PublicKey()) {
			tx.Signatures[i], err = signer.Sign(msg)
			require.NoError(t, err)
		}
	}

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	body, err := json.Marshal(types.ExactSvmPayload{
		Transaction: base64.StdEncoding.EncodeToString(raw),
		FeePayer:    feePayer.String(),
	})
	require.NoError(t, err)
	return &types.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     chains.SolanaDevnet,
		Payload:     body,
	}
}

func TestVerifyExactPayment_SvmRejections(t *testing.T) {
	ctx := context.Background()

	owner, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	stranger, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	feePayer, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	payTo, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	mint := solana.MustPublicKeyFromBase58(devnetUSDC)
	otherMint := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	destination, _, err := solana.FindAssociatedTokenAddress(payTo.PublicKey(), mint)
	require.NoError(t, err)
	strangerATA, _, err := solana.FindAssociatedTokenAddress(stranger.PublicKey(), mint)
	require.NoError(t, err)

	req := types.PaymentRequirements{
		Scheme:  "exact",
		Network: chains.SolanaDevnet,
		Amount:  "1.5",
		Asset:   devnetUSDC,
		PayTo:   payTo.PublicKey().String(),
		Extra:   map[string]interface{}{"decimals": 6, "feePayer": feePayer.PublicKey().String()},
	}

	tests := []struct {
		name        string
		signer      solana.PrivateKey
		mint        solana.PublicKey
		destination solana.PublicKey
		amount      uint64
		decimals    uint8
		reason      string
	}{
		{name: "exact transfer", signer: owner, mint: mint, destination: destination, amount: 1_500_000, decimals: 6},
		{name: "decimals lowered to shrink amount", signer: owner, mint: mint, destination: destination, amount: 2, decimals: 0, reason: ReasonDecimalsMismatch},
		{name: "pays another account", signer: owner, mint: mint, destination: strangerATA, amount: 1_500_000, decimals: 6, reason: ReasonRecipientMismatch},
		{name: "different mint", signer: owner, mint: otherMint, destination: destination, amount: 1_500_000, decimals: 6, reason: ReasonMintMismatch},
		{name: "owner slot signed by someone else", signer: stranger, mint: mint, destination: destination, amount: 1_500_000, decimals: 6, reason: ReasonOwnerNotSigned},
		{name: "underpays", signer: owner, mint: mint, destination: destination, amount: 1_499_999, decimals: 6, reason: ReasonAmountMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			payload := signedTransfer(t, owner, tt.signer, feePayer.PublicKey(), tt.mint, tt.destination, tt.amount, tt.decimals)

			res, err := v.VerifyExactPayment(ctx, payload, req)
			require.NoError(t, err)
			if tt.reason == "" {
				assert.True(t, res.IsValid, res.InvalidReason)
				assert.Equal(t, owner.PublicKey().String(), res.Payer)
				return
			}
			assert.False(t, res.IsValid)
			assert.Equal(t, tt.reason, res.InvalidReason)
		})
	}
}

func TestVerifyExactPayment_SvmClientDecimalsIgnored(t *testing.T) {
	ctx := context.Background()

	payerKey, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	feePayer, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	payTo, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	scheme, err := clients.NewExactSvmScheme(clients.NewKeypairSigner(payerKey), clients.SvmRPCConfig{RPC: blockhashRPC{}})
	require.NoError(t, err)

	server := types.PaymentRequirements{
		Scheme:  "exact",
		Network: chains.SolanaDevnet,
		Amount:  "1.5",
		Asset:   devnetUSDC,
		PayTo:   payTo.PublicKey().String(),
		Extra:   map[string]interface{}{"decimals": 6, "feePayer": feePayer.PublicKey().String()},
	}
	tampered := server
	tampered.Extra = map[string]interface{}{"decimals": 0, "feePayer": feePayer.PublicKey().String()}

	payload, err := scheme.CreatePaymentPayload(ctx, tampered)
	require.NoError(t, err)

	v := New()
	res, err := v.VerifyExactPayment(ctx, payload, server)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, ReasonDecimalsMismatch, res.InvalidReason)
}

type fakeChain struct {
	balance *big.Int
	used    bool
	err     error
}

func (f fakeChain) BalanceOf(context.Context, common.Address, common.Address) (*big.Int, error) {
	return f.balance, f.err
}

func (f fakeChain) AuthorizationState(context.Context, common.Address, common.Address, [32]byte) (bool, error) {
	return f.used, f.err
}

func TestVerifyExactPayment_EvmChainState(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		chain  fakeChain
		valid  bool
		code   string
		reason string
		err    bool
	}{
		{name: "funded", chain: fakeChain{balance: big.NewInt(10_000)}, valid: true},
		{name: "used on chain", chain: fakeChain{balance: big.NewInt(10_000), used: true}, code: types.ErrReplayDetected, reason: ReasonUsedOnChain},
		{name: "underfunded", chain: fakeChain{balance: big.NewInt(9_999)}, code: types.ErrVerificationFailed, reason: ReasonInsufficientBalance},
		{name: "rpc down", chain: fakeChain{err: errors.New("dial tcp: refused")}, err: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scheme, registry, clock := evmFixture(t)
			v := New(WithChainRegistry(registry), WithClock(clock.Now), WithEvmChain(chains.BaseSepolia, tt.chain))

			req := evmRequirements()
			payload, err := scheme.CreatePaymentPayload(ctx, req)
			require.NoError(t, err)

			res, err := v.VerifyExactPayment(ctx, payload, req)
			if tt.err {
				require.Error(t, err)
				evm, _ := payload.EvmPayload()
				used, _ := v.IsNonceUsed(ctx, evm.Authorization.Nonce)
				assert.False(t, used)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.IsValid)
			if !tt.valid {
				assert.Equal(t, tt.code, res.Code)
				assert.Equal(t, tt.reason, res.InvalidReason)
			}
		})
	}
}
