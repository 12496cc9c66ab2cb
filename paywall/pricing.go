package paywall

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitwit/x402kit/types"
	"github.com/vitwit/x402kit/utils"
)

// PricingContext is what a PriceCalculator may price on.
type PricingContext struct {
	Resource      string
	Method        string
	RawQuery      string
	ClientIP      string
	ClientAddress string
	BodySize      int64
	Time          time.Time
}

// Price is a calculated quote in human units. Empty Token or Network fall
// back to the paywall configuration.
type Price struct {
	Amount  string
	Token   string
	Network string
}

type PriceCalculator interface {
	Calculate(ctx context.Context, pc PricingContext) (Price, error)
}

// PriceFunc adapts a function to PriceCalculator.
type PriceFunc func(ctx context.Context, pc PricingContext) (Price, error)

func (f PriceFunc) Calculate(ctx context.Context, pc PricingContext) (Price, error) {
	return f(ctx, pc)
}

// FixedPrice always quotes amount.
func FixedPrice(amount string) PriceCalculator {
	return PriceFunc(func(context.Context, PricingContext) (Price, error) {
		return Price{Amount: amount}, nil
	})
}

// LLMTokenPricing prices a request by its estimated model token count,
// derived from the request body size.
type LLMTokenPricing struct {
	// PricePerThousand is the price of 1000 tokens.
	PricePerThousand string
	// BytesPerToken defaults to 4.
	BytesPerToken int64
	// MinPrice is charged when the estimate is lower, including empty bodies.
	MinPrice string
	Token    string
	Network  string
}

func (p LLMTokenPricing) Calculate(_ context.Context, pc PricingContext) (Price, error) {
	perThousand, err := utils.ValidateAmount(p.PricePerThousand)
	if err != nil {
		return Price{}, err
	}
	bpt := p.BytesPerToken
	if bpt <= 0 {
		bpt = 4
	}

	tokens := (pc.BodySize + bpt - 1) / bpt
	amount := perThousand.Mul(decimal.NewFromInt(tokens)).Div(decimal.NewFromInt(1000))

	if p.MinPrice != "" {
		floor, err := utils.ValidateAmount(p.MinPrice)
		if err != nil {
			return Price{}, err
		}
		if amount.LessThan(*floor) {
			amount = *floor
		}
	}
	return Price{Amount: amount.String(), Token: p.Token, Network: p.Network}, nil
}

// Tier prices every resource under Prefix.
type Tier struct {
	Prefix string
	Price  Price
}

// TierPricing picks the tier with the longest matching prefix, or Default.
type TierPricing struct {
	Tiers   []Tier
	Default Price
}

func (p TierPricing) Calculate(_ context.Context, pc PricingContext) (Price, error) {
	tiers := make([]Tier, len(p.Tiers))
	copy(tiers, p.Tiers)
	sort.SliceStable(tiers, func(i, j int) bool { return len(tiers[i].Prefix) > len(tiers[j].Prefix) })

	for _, t := range tiers {
		if strings.HasPrefix(pc.Resource, t.Prefix) {
			return t.Price, nil
		}
	}
	if p.Default.Amount == "" {
		return Price{}, types.NewError(types.ErrInvalidAmount, "no price tier for %s", pc.Resource)
	}
	return p.Default, nil
}

// SurgeWindow multiplies prices between StartHour (inclusive) and EndHour
// (exclusive). A window may wrap midnight, e.g. 22 to 2.
type SurgeWindow struct {
	StartHour  int
	EndHour    int
	Multiplier string
}

func (w SurgeWindow) contains(hour int) bool {
	if w.StartHour <= w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	return hour >= w.StartHour || hour < w.EndHour
}

// SurgePricing scales the Base quote by the first window containing the
// request time.
type SurgePricing struct {
	Base     PriceCalculator
	Windows  []SurgeWindow
	Location *time.Location
}

func (p SurgePricing) Calculate(ctx context.Context, pc PricingContext) (Price, error) {
	if p.Base == nil {
		return Price{}, fmt.Errorf("surge pricing has no base calculator")
	}
	price, err := p.Base.Calculate(ctx, pc)
	if err != nil {
		return Price{}, err
	}

	at := pc.Time
	if at.IsZero() {
		at = time.Now()
	}
	if p.Location != nil {
		at = at.In(p.Location)
	}

	for _, w := range p.Windows {
		if !w.contains(at.Hour()) {
			continue
		}
		mult, err := decimal.NewFromString(w.Multiplier)
		if err != nil || !mult.IsPositive() {
			return Price{}, types.NewError(types.ErrInvalidAmount, "invalid surge multiplier %q", w.Multiplier)
		}
		base, err := utils.ValidateAmount(price.Amount)
		if err != nil {
			return Price{}, err
		}
		price.Amount = base.Mul(mult).String()
		break
	}
	return price, nil
}
