// Package pricing resolves the final price of a registration.
//
// Resolve is a pure function of its input: the same distance snapshot,
// instant, crew size and membership always produce the same Quote, so a
// stored registration price can be re-derived when it is disputed.
package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/race-admission/internal/model"
)

// ErrCrewPriceUndefined is returned when a crew-priced distance has no entry
// for the requested crew size, or no crew size was given.
var ErrCrewPriceUndefined = errors.New("crew price undefined")

// Input is everything the price depends on.
type Input struct {
	Distance   *model.Distance
	Now        time.Time
	CrewSize   *int
	Membership *model.MembershipTier
}

// Quote is a resolved price in minor units of each currency.
type Quote struct {
	Local         int64  `json:"local"`
	Secondary     int64  `json:"secondary"`
	IsCrewPricing bool   `json:"is_crew_pricing"`
	TierName      string `json:"tier_name,omitempty"`
}

// Resolve computes the price for in. Crew pricing ignores tiers and
// membership discounts; discounts apply to the local currency only.
func Resolve(in Input) (Quote, error) {
	if in.Distance == nil {
		return Quote{}, errors.New("pricing: nil distance")
	}

	switch mode := in.Distance.Pricing.(type) {
	case model.CrewPricing:
		return crewQuote(mode, in.CrewSize)
	case model.StandardPricing:
		return standardQuote(mode, in.Now, in.Membership), nil
	default:
		return Quote{}, fmt.Errorf("pricing: unsupported pricing mode %T", mode)
	}
}

func crewQuote(mode model.CrewPricing, crewSize *int) (Quote, error) {
	if crewSize == nil {
		return Quote{}, fmt.Errorf("%w: crew size required", ErrCrewPriceUndefined)
	}
	price, ok := mode.Prices[*crewSize]
	if !ok {
		return Quote{}, fmt.Errorf("%w: crew size %d", ErrCrewPriceUndefined, *crewSize)
	}
	return Quote{Local: 0, Secondary: price, IsCrewPricing: true}, nil
}

func standardQuote(mode model.StandardPricing, now time.Time, membership *model.MembershipTier) Quote {
	q := Quote{Local: mode.BaseLocal, Secondary: mode.BaseSecondary}
	if tier, ok := ActiveTier(mode.Tiers, now); ok {
		q.Local = tier.PriceLocal
		q.Secondary = tier.PriceSecondary
		q.TierName = tier.Name
	}
	q.Local = ApplyDiscount(q.Local, membership)
	return q
}

// ActiveTier returns the first tier, in list order, whose window contains now.
func ActiveTier(tiers []model.PriceTier, now time.Time) (model.PriceTier, bool) {
	for _, t := range tiers {
		if t.ActiveAt(now) {
			return t, true
		}
	}
	return model.PriceTier{}, false
}

// ApplyDiscount applies a membership discount to a local price. A fixed
// amount takes precedence over a percentage; the two are never combined.
// Percentage discounts round down.
func ApplyDiscount(base int64, membership *model.MembershipTier) int64 {
	if membership == nil {
		return base
	}
	if membership.DiscountAmountLocal > 0 {
		return max(0, base-membership.DiscountAmountLocal)
	}
	if pct := min(int64(membership.DiscountPercentage), 100); pct > 0 {
		return base * (100 - pct) / 100
	}
	return base
}
