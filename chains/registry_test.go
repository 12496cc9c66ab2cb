package chains

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402kit/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewDefault()
	require.NoError(t, err)
	return r
}

func TestResolveByIDAndAlias(t *testing.T) {
	r := newTestRegistry(t)

	c, err := r.Resolve("eip155:8453")
	require.NoError(t, err)
	assert.Equal(t, "Base", c.Name)

	c, err = r.Resolve("BASE-Sepolia")
	require.NoError(t, err)
	assert.Equal(t, BaseSepolia, c.ID)
	assert.True(t, c.Testnet)

	c, err = r.Resolve("EIP155:10")
	require.NoError(t, err)
	assert.Equal(t, Optimism, c.ID)
}

func TestResolveUnknown(t *testing.T) {
	r := newTestRegistry(t)

	for _, id := range []string{"eip155:999999", "cosmos:hub", "nonsense", ""} {
		_, err := r.Resolve(id)
		assert.True(t, types.IsCode(err, types.ErrUnsupportedNetwork), id)
	}
}

func TestChainType(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, types.ChainEVM, r.ChainType(Base))
	assert.Equal(t, types.ChainSVM, r.ChainType(SolanaDevnet))
	assert.Equal(t, types.ChainEVM, r.ChainType("eip155:777"))
	assert.Equal(t, types.ChainUnknown, r.ChainType("cosmos:cosmoshub-4"))
	assert.Equal(t, types.ChainUnknown, r.ChainType("garbage"))
}

func TestDetectFromAddress(t *testing.T) {
	r := newTestRegistry(t)

	c, ok := r.DetectFromAddress("0x384Aa214be0B279cbf211e9b2C992d8633F77848")
	require.True(t, ok)
	assert.Equal(t, Base, c.ID)

	c, ok = r.DetectFromAddress("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	require.True(t, ok)
	assert.Equal(t, SolanaMainnet, c.ID)

	_, ok = r.DetectFromAddress("cosmos1xyz")
	assert.False(t, ok)
}

func TestDetectFromAddressCustomDefaults(t *testing.T) {
	r, err := NewDefault(WithDefaultEVM(BaseSepolia), WithDefaultSolana(SolanaDevnet))
	require.NoError(t, err)

	c, ok := r.DetectFromAddress("0x384Aa214be0B279cbf211e9b2C992d8633F77848")
	require.True(t, ok)
	assert.Equal(t, BaseSepolia, c.ID)
}

func TestExplorerURLs(t *testing.T) {
	r := newTestRegistry(t)

	u, err := r.ExplorerTxURL("base", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "https://basescan.org/tx/0xabc", u)

	u, err = r.ExplorerAddressURL(SolanaDevnet, "Addr")
	require.NoError(t, err)
	assert.Equal(t, "https://explorer.solana.com/address/Addr?cluster=devnet", u)
}

func TestTokenLookup(t *testing.T) {
	r := newTestRegistry(t)
	c, err := r.Resolve(BaseSepolia)
	require.NoError(t, err)

	tok, ok := c.TokenByAddress("0x036cbd53842c5426634e7929541ec2318f3dcf7e")
	require.True(t, ok)
	assert.Equal(t, "USDC", tok.Name)
	assert.Equal(t, 6, tok.Decimals)
	assert.True(t, tok.SupportsEIP3009)

	_, ok = c.TokenBySymbol("usdc")
	assert.True(t, ok)
	assert.Equal(t, "84532", c.Reference())
}

func TestNewRejectsBadTables(t *testing.T) {
	_, err := New([]ChainConfig{{ID: "bad", Name: "bad"}})
	assert.True(t, types.IsCode(err, types.ErrConfigError))

	_, err = New([]ChainConfig{{ID: Base}, {ID: Base}})
	assert.Error(t, err)

	_, err = New([]ChainConfig{
		{ID: Base, Aliases: []string{"x"}},
		{ID: Optimism, Aliases: []string{"X"}},
	})
	assert.Error(t, err)

	_, err = New([]ChainConfig{{ID: Base}}, WithDefaultSolana(SolanaMainnet))
	assert.Error(t, err)
}

func TestRegistryIsImmutable(t *testing.T) {
	r := newTestRegistry(t)
	all := r.All()
	all[0].Tokens[0].Symbol = "HACKED"

	c, err := r.Resolve(all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "USDC", c.Tokens[0].Symbol)
}
