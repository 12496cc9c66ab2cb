package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402kit/chains"
	"github.com/vitwit/x402kit/types"
)

func TestFromEnviron_Defaults(t *testing.T) {
	cfg, err := FromEnviron([]string{"PATH=/usr/bin", "HOME=/root"})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestFromEnviron_AllKeys(t *testing.T) {
	cfg, err := FromEnviron([]string{
		"X402_DEFAULT_CHAIN=base-sepolia",
		"X402_MAX_PAYMENT_PER_REQUEST=2.50",
		"X402_FACILITATOR_URL=https://facilitator.example.com",
		"X402_GASLESS_ENABLED=false",
		"X402_TIMEOUT=45s",
		"X402_VALIDITY_SECONDS=300",
		"X402_LOG_LEVEL=DEBUG",
		"X402_ENABLE_METRICS=1",
		"X402_RPC_BASE_SEPOLIA=https://sepolia.base.org",
		"X402_RPC_SOLANA_DEVNET=https://api.devnet.solana.com",
		"X402_RPC_ARBITRUM=https://arb1.arbitrum.io/rpc",
	})
	require.NoError(t, err)

	assert.Equal(t, chains.BaseSepolia, cfg.DefaultChain)
	assert.Equal(t, "2.50", cfg.MaxPaymentPerRequest)
	assert.Equal(t, "https://facilitator.example.com", cfg.FacilitatorURL)
	assert.False(t, cfg.GaslessEnabled)
	assert.Equal(t, 45*time.Second, cfg.DefaultTimeout)
	assert.EqualValues(t, 300, cfg.ValiditySeconds)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.EnableMetrics)
	assert.Equal(t, map[string]string{
		chains.BaseSepolia:  "https://sepolia.base.org",
		chains.SolanaDevnet: "https://api.devnet.solana.com",
		chains.Arbitrum:     "https://arb1.arbitrum.io/rpc",
	}, cfg.RPCURLs)
}

func TestFromEnviron_TimeoutInSeconds(t *testing.T) {
	cfg, err := FromEnviron([]string{"X402_TIMEOUT=12"})
	require.NoError(t, err)
	assert.Equal(t, 12*time.Second, cfg.DefaultTimeout)
}

func TestFromEnviron_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown chain":  "X402_DEFAULT_CHAIN=atlantis",
		"negative max":   "X402_MAX_PAYMENT_PER_REQUEST=-1",
		"bad url":        "X402_FACILITATOR_URL=not a url",
		"bad bool":       "X402_GASLESS_ENABLED=maybe",
		"bad timeout":    "X402_TIMEOUT=soon",
		"bad validity":   "X402_VALIDITY_SECONDS=ten",
		"bad log level":  "X402_LOG_LEVEL=verbose",
		"bad rpc url":    "X402_RPC_BASE=ftp//nowhere",
		"negative valid": "X402_VALIDITY_SECONDS=-5",
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnviron([]string{kv})
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.ErrConfigError), "got %v", err)
		})
	}
}

func TestLoad_ReadsProcessEnvironment(t *testing.T) {
	t.Setenv(EnvDefaultChain, "solana-devnet")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, chains.SolanaDevnet, cfg.DefaultChain)
	assert.Equal(t, "warn", cfg.LogLevel)
}
