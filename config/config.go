// Package config loads X402Config from X402_* environment variables.
// Protocol packages never read the environment themselves.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vitwit/x402kit/chains"
	"github.com/vitwit/x402kit/types"
	"github.com/vitwit/x402kit/utils"
)

const (
	EnvDefaultChain         = "X402_DEFAULT_CHAIN"
	EnvMaxPaymentPerRequest = "X402_MAX_PAYMENT_PER_REQUEST"
	EnvFacilitatorURL       = "X402_FACILITATOR_URL"
	EnvGaslessEnabled       = "X402_GASLESS_ENABLED"
	EnvTimeout              = "X402_TIMEOUT"
	EnvValiditySeconds      = "X402_VALIDITY_SECONDS"
	EnvLogLevel             = "X402_LOG_LEVEL"
	EnvEnableMetrics        = "X402_ENABLE_METRICS"
	// EnvRPCPrefix is followed by a chain alias, e.g. X402_RPC_BASE_SEPOLIA.
	EnvRPCPrefix = "X402_RPC_"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultValiditySeconds = 600
	DefaultLogLevel        = "info"
)

// Default returns the configuration used when nothing is set.
func Default() *types.X402Config {
	return &types.X402Config{
		DefaultChain:    chains.Base,
		DefaultTimeout:  DefaultTimeout,
		ValiditySeconds: DefaultValiditySeconds,
		LogLevel:        DefaultLogLevel,
		GaslessEnabled:  true,
		RPCURLs:         map[string]string{},
	}
}

// Load reads the process environment.
func Load() (*types.X402Config, error) {
	return FromEnviron(os.Environ())
}

// FromEnviron parses KEY=VALUE pairs over Default and validates the result.
// Chain aliases are resolved to CAIP-2 identifiers.
func FromEnviron(environ []string) (*types.X402Config, error) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, "X402_") {
			env[k] = strings.TrimSpace(v)
		}
	}

	reg, err := chains.NewDefault()
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if v := env[EnvDefaultChain]; v != "" {
		cfg.DefaultChain = resolveChain(reg, v)
	}
	cfg.MaxPaymentPerRequest = env[EnvMaxPaymentPerRequest]
	cfg.FacilitatorURL = env[EnvFacilitatorURL]
	if v := env[EnvLogLevel]; v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if v := env[EnvGaslessEnabled]; v != "" {
		if cfg.GaslessEnabled, err = strconv.ParseBool(v); err != nil {
			return nil, invalid(EnvGaslessEnabled, v, err)
		}
	}
	if v := env[EnvEnableMetrics]; v != "" {
		if cfg.EnableMetrics, err = strconv.ParseBool(v); err != nil {
			return nil, invalid(EnvEnableMetrics, v, err)
		}
	}
	if v := env[EnvTimeout]; v != "" {
		if cfg.DefaultTimeout, err = parseDuration(v); err != nil {
			return nil, invalid(EnvTimeout, v, err)
		}
	}
	if v := env[EnvValiditySeconds]; v != "" {
		if cfg.ValiditySeconds, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, invalid(EnvValiditySeconds, v, err)
		}
	}

	for k, v := range env {
		alias, ok := strings.CutPrefix(k, EnvRPCPrefix)
		if !ok || alias == "" || v == "" {
			continue
		}
		alias = strings.ReplaceAll(strings.ToLower(alias), "_", "-")
		cfg.RPCURLs[resolveChain(reg, alias)] = v
	}

	if err := utils.ValidateStruct(cfg); err != nil {
		return nil, err
	}
	for chain, rawURL := range cfg.RPCURLs {
		if _, err := utils.ValidateURL(rawURL); err != nil {
			return nil, types.WrapError(types.ErrConfigError, err, "rpc url for %s", chain)
		}
	}
	return cfg, nil
}

func resolveChain(reg *chains.Registry, v string) string {
	if c, err := reg.Resolve(v); err == nil {
		return c.ID
	}
	return v
}

// parseDuration accepts Go durations ("45s") and bare seconds ("45").
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func invalid(key, value string, err error) error {
	return types.WrapError(types.ErrConfigError, err, "%s: invalid value %q", key, value)
}
