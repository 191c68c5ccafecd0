package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/race-admission/internal/model"
)

var (
	t1 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	t2 = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
)

func standardDistance(baseLocal, baseSecondary int64, tiers ...model.PriceTier) *model.Distance {
	return &model.Distance{
		ID:   "d-10k",
		Name: "10K",
		Pricing: model.StandardPricing{
			BaseLocal:     baseLocal,
			BaseSecondary: baseSecondary,
			Tiers:         tiers,
		},
	}
}

func crewDistance(prices map[int]int64) *model.Distance {
	return &model.Distance{ID: "d-relay", Name: "Relay", Pricing: model.CrewPricing{Prices: prices}}
}

func intPtr(v int) *int { return &v }

func TestResolveBasePriceWithoutTiers(t *testing.T) {
	q, err := Resolve(Input{Distance: standardDistance(5000, 0), Now: t1})
	require.NoError(t, err)
	assert.Equal(t, Quote{Local: 5000, Secondary: 0}, q)
}

func TestResolveTierBoundary(t *testing.T) {
	early := model.PriceTier{Name: "early bird", PriceLocal: 4000, PriceSecondary: 1000, ValidFrom: t1, ValidTo: t2}
	d := standardDistance(6000, 1500, early)

	tests := []struct {
		name string
		now  time.Time
		want Quote
	}{
		{"before window", t1.Add(-time.Nanosecond), Quote{Local: 6000, Secondary: 1500}},
		{"at valid_from", t1, Quote{Local: 4000, Secondary: 1000, TierName: "early bird"}},
		{"inside window", t1.Add(24 * time.Hour), Quote{Local: 4000, Secondary: 1000, TierName: "early bird"}},
		{"at valid_to", t2, Quote{Local: 6000, Secondary: 1500}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Resolve(Input{Distance: d, Now: tt.now})
			require.NoError(t, err)
			assert.Equal(t, tt.want, q)
		})
	}
}

func TestResolveOverlappingTiersFirstWins(t *testing.T) {
	d := standardDistance(9000, 0,
		model.PriceTier{Name: "first", PriceLocal: 7000, ValidFrom: t1, ValidTo: t2},
		model.PriceTier{Name: "second", PriceLocal: 5000, ValidFrom: t1, ValidTo: t2},
	)
	q, err := Resolve(Input{Distance: d, Now: t1})
	require.NoError(t, err)
	assert.Equal(t, "first", q.TierName)
	assert.Equal(t, int64(7000), q.Local)
}

func TestDiscountAmountTakesPrecedence(t *testing.T) {
	q, err := Resolve(Input{
		Distance:   standardDistance(10000, 2500),
		Now:        t1,
		Membership: &model.MembershipTier{DiscountAmountLocal: 500, DiscountPercentage: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9500), q.Local)
	assert.Equal(t, int64(2500), q.Secondary, "secondary price is never discounted")
}

func TestDiscountPercentageRoundsDown(t *testing.T) {
	tests := []struct {
		base int64
		pct  int
		want int64
	}{
		{10000, 15, 8500},
		{999, 15, 849},
		{1, 50, 0},
		{5000, 100, 0},
		{5000, 150, 0},
	}
	for _, tt := range tests {
		got := ApplyDiscount(tt.base, &model.MembershipTier{DiscountPercentage: tt.pct})
		assert.Equal(t, tt.want, got, "base=%d pct=%d", tt.base, tt.pct)
	}
}

func TestDiscountAmountNeverNegative(t *testing.T) {
	assert.Equal(t, int64(0), ApplyDiscount(300, &model.MembershipTier{DiscountAmountLocal: 500}))
	assert.Equal(t, int64(300), ApplyDiscount(300, nil))
	assert.Equal(t, int64(300), ApplyDiscount(300, &model.MembershipTier{}))
}

func TestCrewPricingIsExclusive(t *testing.T) {
	d := crewDistance(map[int]int64{2: 150, 4: 280})
	q, err := Resolve(Input{
		Distance:   d,
		Now:        t1,
		CrewSize:   intPtr(2),
		Membership: &model.MembershipTier{DiscountAmountLocal: 500, DiscountPercentage: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, Quote{Local: 0, Secondary: 150, IsCrewPricing: true}, q)
}

func TestCrewPricingUndefined(t *testing.T) {
	d := crewDistance(map[int]int64{2: 150})

	_, err := Resolve(Input{Distance: d, Now: t1, CrewSize: intPtr(3)})
	assert.ErrorIs(t, err, ErrCrewPriceUndefined)

	_, err = Resolve(Input{Distance: d, Now: t1})
	assert.ErrorIs(t, err, ErrCrewPriceUndefined)
}

func TestStandardPricingIgnoresCrewSize(t *testing.T) {
	q, err := Resolve(Input{Distance: standardDistance(5000, 0), Now: t1, CrewSize: intPtr(4)})
	require.NoError(t, err)
	assert.False(t, q.IsCrewPricing)
	assert.Equal(t, int64(5000), q.Local)
}

func TestResolveIsDeterministic(t *testing.T) {
	in := Input{
		Distance: standardDistance(8000, 2000,
			model.PriceTier{Name: "early", PriceLocal: 6000, PriceSecondary: 1500, ValidFrom: t1, ValidTo: t2}),
		Now:        t1.Add(time.Hour),
		Membership: &model.MembershipTier{DiscountPercentage: 15},
	}
	first, err := Resolve(in)
	require.NoError(t, err)
	for range 100 {
		again, err := Resolve(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestResolveRejectsNilDistance(t *testing.T) {
	_, err := Resolve(Input{Now: t1})
	assert.Error(t, err)
}
