package paywall

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLLMTokenPricing(t *testing.T) {
	p := LLMTokenPricing{PricePerThousand: "0.002", MinPrice: "0.0001", Network: "eip155:8453"}

	price, err := p.Calculate(context.Background(), PricingContext{BodySize: 4000})
	require.NoError(t, err)
	assert.Equal(t, "0.002", price.Amount)
	assert.Equal(t, "eip155:8453", price.Network)

	price, err = p.Calculate(context.Background(), PricingContext{BodySize: 0})
	require.NoError(t, err)
	assert.Equal(t, "0.0001", price.Amount)

	// 10 bytes is 3 tokens at 4 bytes per token.
	price, err = LLMTokenPricing{PricePerThousand: "1"}.Calculate(context.Background(), PricingContext{BodySize: 10})
	require.NoError(t, err)
	assert.Equal(t, "0.003", price.Amount)

	_, err = LLMTokenPricing{PricePerThousand: "free"}.Calculate(context.Background(), PricingContext{})
	require.Error(t, err)
}

func TestTierPricing(t *testing.T) {
	p := TierPricing{
		Tiers: []Tier{
			{Prefix: "/api", Price: Price{Amount: "0.01"}},
			{Prefix: "/api/ml", Price: Price{Amount: "0.10", Token: "USDC"}},
		},
	}

	price, err := p.Calculate(context.Background(), PricingContext{Resource: "/api/ml/predict"})
	require.NoError(t, err)
	assert.Equal(t, Price{Amount: "0.10", Token: "USDC"}, price)

	price, err = p.Calculate(context.Background(), PricingContext{Resource: "/api/users"})
	require.NoError(t, err)
	assert.Equal(t, "0.01", price.Amount)

	_, err = p.Calculate(context.Background(), PricingContext{Resource: "/other"})
	require.Error(t, err)

	// Calculate must not reorder the caller's tiers.
	assert.Equal(t, "/api", p.Tiers[0].Prefix)
}

func TestSurgePricing(t *testing.T) {
	p := SurgePricing{
		Base: FixedPrice("0.10"),
		Windows: []SurgeWindow{
			{StartHour: 9, EndHour: 17, Multiplier: "1.5"},
			{StartHour: 22, EndHour: 2, Multiplier: "2"},
		},
		Location: time.UTC,
	}

	at := func(hour int) PricingContext {
		return PricingContext{Time: time.Date(2026, 5, 4, hour, 30, 0, 0, time.UTC)}
	}

	cases := map[int]string{8: "0.1", 9: "0.15", 16: "0.15", 17: "0.1", 23: "0.2", 1: "0.2", 2: "0.1"}
	for hour, want := range cases {
		price, err := p.Calculate(context.Background(), at(hour))
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString(want).Equal(decimal.RequireFromString(price.Amount)),
			"hour %d: want %s, got %s", hour, want, price.Amount)
	}

	_, err := SurgePricing{Base: FixedPrice("1"), Windows: []SurgeWindow{{StartHour: 0, EndHour: 24, Multiplier: "-1"}}}.Calculate(context.Background(), at(3))
	require.Error(t, err)

	_, err = SurgePricing{}.Calculate(context.Background(), at(3))
	require.Error(t, err)
}
