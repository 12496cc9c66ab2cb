package clients

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/vitwit/x402kit/chains"
	"github.com/vitwit/x402kit/types"
	"github.com/vitwit/x402kit/utils"
	"github.com/vitwit/x402kit/utils/eip712"
)

// DefaultValidity is the canonical lifetime of an EIP-3009 authorization.
const DefaultValidity = 600 * time.Second

// ClientEvmSigner produces EIP-712 signatures for a single account.
type ClientEvmSigner interface {
	Address() common.Address
	SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error)
}

// PrivateKeySigner signs with an in-process secp256k1 key.
type PrivateKeySigner struct {
	key *ecdsa.PrivateKey
}

func NewPrivateKeySigner(key *ecdsa.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{key: key}
}

// NewPrivateKeySignerFromHex parses a hex private key, with or without 0x.
func NewPrivateKeySignerFromHex(hexKey string) (*PrivateKeySigner, error) {
	key, err := utils.PrivateKeyFromHex(hexKey)
	if err != nil {
		return nil, types.WrapError(types.ErrNoWalletConfigured, err, "invalid private key")
	}
	return &PrivateKeySigner{key: key}, nil
}

func (s *PrivateKeySigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// SignTypedData returns a 65-byte signature with V in 27/28.
func (s *PrivateKeySigner) SignTypedData(_ context.Context, td apitypes.TypedData) ([]byte, error) {
	digest, err := eip712.Digest(td)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// EvmToken is the resolved EIP-712 domain plus decimals of a payment asset.
type EvmToken struct {
	Domain   eip712.Domain
	Decimals int
}

// ResolveEvmToken finds the token domain for requirements. Extra "name",
// "version" and "decimals" override the chain registry entry for the asset.
func ResolveEvmToken(registry *chains.Registry, req types.PaymentRequirements) (EvmToken, error) {
	caip, err := types.ParseCAIP2(req.Network)
	if err != nil || caip.Namespace != types.NamespaceEIP155 {
		return EvmToken{}, types.NewError(types.ErrUnsupportedNetwork, "not an EVM network: %s", req.Network)
	}
	chainID, ok := new(big.Int).SetString(caip.Reference, 10)
	if !ok {
		return EvmToken{}, types.NewError(types.ErrUnsupportedNetwork, "invalid EVM chain id: %s", req.Network)
	}
	if !utils.IsEVMAddress(req.Asset) {
		return EvmToken{}, types.NewError(types.ErrInvalidAddress, "invalid asset address %q", req.Asset)
	}

	tok := EvmToken{
		Domain: eip712.Domain{
			Name:              req.ExtraString("name"),
			Version:           req.ExtraString("version"),
			ChainID:           chainID,
			VerifyingContract: req.Asset,
		},
		Decimals: chains.DefaultDecimal,
	}

	var known bool
	if registry != nil {
		if c, err := registry.Resolve(req.Network); err == nil {
			if t, found := c.TokenByAddress(req.Asset); found {
				known = true
				tok.Decimals = t.Decimals
				if tok.Domain.Name == "" {
					tok.Domain.Name = t.Name
				}
				if tok.Domain.Version == "" {
					tok.Domain.Version = t.Version
				}
			}
		}
	}
	if d, ok := extraInt(req, "decimals"); ok {
		tok.Decimals = d
	}

	if tok.Domain.Name == "" || tok.Domain.Version == "" {
		return EvmToken{}, types.NewError(types.ErrInvalidPayload,
			"%s: no EIP-712 name/version for asset %s (registered=%t)", ErrUnknownEvmToken, req.Asset, known)
	}
	return tok, nil
}

// ExactEvmScheme signs EIP-3009 TransferWithAuthorization payloads.
type ExactEvmScheme struct {
	signer   ClientEvmSigner
	registry *chains.Registry
	validity time.Duration
	now      func() time.Time
	nonce    func() (string, error)
}

type EvmOption func(*ExactEvmScheme)

// WithValidity sets how long a signed authorization stays valid.
func WithValidity(d time.Duration) EvmOption {
	return func(s *ExactEvmScheme) {
		if d > 0 {
			s.validity = d
		}
	}
}

// WithEvmClock overrides the time source.
func WithEvmClock(now func() time.Time) EvmOption {
	return func(s *ExactEvmScheme) { s.now = now }
}

// WithNonceSource overrides nonce generation.
func WithNonceSource(f func() (string, error)) EvmOption {
	return func(s *ExactEvmScheme) { s.nonce = f }
}

func NewExactEvmScheme(signer ClientEvmSigner, registry *chains.Registry, opts ...EvmOption) (*ExactEvmScheme, error) {
	if signer == nil {
		return nil, types.NewError(types.ErrNoWalletConfigured, "no EVM signer configured")
	}
	s := &ExactEvmScheme{
		signer:   signer,
		registry: registry,
		validity: DefaultValidity,
		now:      time.Now,
		nonce:    eip712.NewNonce,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *ExactEvmScheme) Scheme() string {
	return string(types.SchemeExact)
}

// CreatePaymentPayload validates req, builds the authorization and signs it.
// All input validation happens before the signer is invoked.
func (s *ExactEvmScheme) CreatePaymentPayload(ctx context.Context, req types.PaymentRequirements) (*types.PaymentPayload, error) {
	if err := utils.ValidatePaymentScheme(req.Scheme); err != nil {
		return nil, err
	}
	if !utils.IsEVMAddress(req.PayTo) {
		return nil, types.NewError(types.ErrInvalidAddress, "invalid payTo address %q", req.PayTo)
	}

	tok, err := ResolveEvmToken(s.registry, req)
	if err != nil {
		return nil, err
	}

	value, err := utils.ToAtomicUnits(req.Amount, tok.Decimals)
	if err != nil {
		return nil, types.WrapError(types.ErrInvalidAmount, err, ErrInvalidEvmAmount)
	}

	nonce, err := s.nonce()
	if err != nil {
		return nil, err
	}

	validity := s.validity
	if maxTimeout := time.Duration(req.MaxTimeoutSeconds) * time.Second; maxTimeout > 0 && maxTimeout < validity {
		validity = maxTimeout
	}
	validBefore := s.now().Add(validity).Unix()
	if req.Deadline > 0 && req.Deadline < validBefore {
		validBefore = req.Deadline
	}

	auth := types.EIP3009Authorization{
		From:        s.signer.Address().Hex(),
		To:          common.HexToAddress(req.PayTo).Hex(),
		Value:       value.String(),
		ValidAfter:  "0",
		ValidBefore: strconv.FormatInt(validBefore, 10),
		Nonce:       nonce,
	}

	td, err := eip712.TransferWithAuthorization(tok.Domain, auth)
	if err != nil {
		return nil, types.WrapError(types.ErrInvalidPayload, err, "build typed data")
	}

	sig, err := s.signer.SignTypedData(ctx, td)
	if err != nil {
		return nil, types.WrapError(types.ErrPaymentCreationFailed, err, ErrFailedToSignAuthorization)
	}
	if len(sig) != 65 {
		return nil, types.NewError(types.ErrPaymentCreationFailed, "%s: signature length %d", ErrFailedToSignAuthorization, len(sig))
	}

	return encodePayload(types.X402Version1, req.Network, types.ExactEvmPayload{
		Signature:     fmt.Sprintf("0x%x", sig),
		Authorization: auth,
	})
}
