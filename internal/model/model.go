// Package model defines the core domain types for race registration:
// distances, their pricing, registrations and admission decisions.
package model

import (
	"errors"
	"time"
)

// ErrAmbiguousPricing is returned when a distance is configured with both a
// crew price table and standard tiered pricing.
var ErrAmbiguousPricing = errors.New("crew pricing cannot be combined with price tiers")

// ErrCrewBasePrice is returned when a crew-priced distance also carries base
// prices, which crew pricing would never charge.
var ErrCrewBasePrice = errors.New("crew pricing cannot be combined with base prices")

// RegistrationStatus is the lifecycle state of a registration.
type RegistrationStatus string

const (
	StatusPending   RegistrationStatus = "PENDING"
	StatusConfirmed RegistrationStatus = "CONFIRMED"
	StatusCancelled RegistrationStatus = "CANCELLED"
)

// PriceTier is a time-bounded price override, active on [ValidFrom, ValidTo).
type PriceTier struct {
	Name           string    `json:"name" validate:"required"`
	PriceLocal     int64     `json:"price_local" validate:"gte=0"`
	PriceSecondary int64     `json:"price_secondary" validate:"gte=0"`
	ValidFrom      time.Time `json:"valid_from" validate:"required"`
	ValidTo        time.Time `json:"valid_to" validate:"required"`
}

// ActiveAt reports whether the tier window contains t.
func (t PriceTier) ActiveAt(now time.Time) bool {
	return !now.Before(t.ValidFrom) && now.Before(t.ValidTo)
}

// PricingMode is either StandardPricing or CrewPricing. The set is closed:
// only types in this package implement it.
type PricingMode interface {
	pricingMode()
}

// StandardPricing is base pricing with optional time-windowed tiers.
type StandardPricing struct {
	BaseLocal     int64
	BaseSecondary int64
	Tiers         []PriceTier
}

// CrewPricing maps a crew size to a secondary-currency price.
type CrewPricing struct {
	Prices map[int]int64
}

func (StandardPricing) pricingMode() {}
func (CrewPricing) pricingMode()     {}

// NewPricingMode builds the pricing mode from flat storage fields. A non-empty
// crew table selects crew pricing; tiers alongside it are rejected.
func NewPricingMode(baseLocal, baseSecondary int64, tiers []PriceTier, crew map[int]int64) (PricingMode, error) {
	if len(crew) > 0 {
		if len(tiers) > 0 {
			return nil, ErrAmbiguousPricing
		}
		if baseLocal != 0 || baseSecondary != 0 {
			return nil, ErrCrewBasePrice
		}
		return CrewPricing{Prices: crew}, nil
	}
	return StandardPricing{BaseLocal: baseLocal, BaseSecondary: baseSecondary, Tiers: tiers}, nil
}

// Distance is a race-length offering within an event with its own capacity
// and price. CapacityLimit 0 means unlimited.
type Distance struct {
	ID            string
	EventName     string
	Name          string
	CapacityLimit int
	Pricing       PricingMode
	CreatedAt     time.Time
}

// Unlimited reports whether the distance has no capacity limit.
func (d *Distance) Unlimited() bool {
	return d.CapacityLimit == 0
}

// DistanceView is the JSON representation of a distance together with its
// live registration count.
type DistanceView struct {
	ID                 string        `json:"id"`
	EventName          string        `json:"event_name"`
	Name               string        `json:"name"`
	CapacityLimit      int           `json:"capacity_limit"`
	ActiveCount        int           `json:"active_count"`
	Remaining          *int          `json:"remaining,omitempty"`
	BasePriceLocal     int64         `json:"base_price_local"`
	BasePriceSecondary int64         `json:"base_price_secondary"`
	PriceTiers         []PriceTier   `json:"price_tiers,omitempty"`
	CrewPricing        map[int]int64 `json:"crew_pricing,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// View flattens the distance for API output.
func (d *Distance) View(activeCount int) DistanceView {
	v := DistanceView{
		ID:            d.ID,
		EventName:     d.EventName,
		Name:          d.Name,
		CapacityLimit: d.CapacityLimit,
		ActiveCount:   activeCount,
		CreatedAt:     d.CreatedAt,
	}
	if !d.Unlimited() {
		remaining := max(d.CapacityLimit-activeCount, 0)
		v.Remaining = &remaining
	}
	switch p := d.Pricing.(type) {
	case StandardPricing:
		v.BasePriceLocal = p.BaseLocal
		v.BasePriceSecondary = p.BaseSecondary
		v.PriceTiers = p.Tiers
	case CrewPricing:
		v.CrewPricing = p.Prices
	}
	return v
}

// MembershipTier is a user's membership level and the discount it grants.
type MembershipTier struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	DiscountPercentage  int    `json:"discount_percentage"`
	DiscountAmountLocal int64  `json:"discount_amount_local"`
}

// Registration is a user's registration for a distance.
type Registration struct {
	ID                  string             `json:"id"`
	UserID              string             `json:"user_id"`
	DistanceID          string             `json:"distance_id"`
	Status              RegistrationStatus `json:"status"`
	FinalPriceLocal     int64              `json:"final_price_local"`
	FinalPriceSecondary int64              `json:"final_price_secondary"`
	CrewSize            *int               `json:"crew_size,omitempty"`
	IsCrewPricing       bool               `json:"is_crew_pricing"`
	TierName            string             `json:"tier_name,omitempty"`
	ReferenceNumber     string             `json:"reference_number,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
}

// Reason explains why an admission was rejected.
type Reason string

const (
	ReasonNone               Reason = "NONE"
	ReasonDistanceNotFound   Reason = "DISTANCE_NOT_FOUND"
	ReasonCapacityFull       Reason = "CAPACITY_FULL"
	ReasonCrewPriceUndefined Reason = "CREW_PRICE_UNDEFINED"
	ReasonGateTimeout        Reason = "GATE_TIMEOUT"
	ReasonInternal           Reason = "INTERNAL_ERROR"
)

// Message is the user-facing text for a rejection reason.
func (r Reason) Message() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonDistanceNotFound:
		return "distance not found"
	case ReasonCapacityFull:
		return "no spots left"
	case ReasonCrewPriceUndefined:
		return "no price defined for the requested crew size"
	case ReasonGateTimeout:
		return "registration is busy, please try again"
	default:
		return "registration failed"
	}
}

// AdmissionDecision is the outcome of a single admission attempt.
type AdmissionDecision struct {
	Accepted            bool   `json:"accepted"`
	Reason              Reason `json:"reason,omitempty"`
	RegistrationID      string `json:"registration_id,omitempty"`
	FinalPriceLocal     int64  `json:"final_price_local"`
	FinalPriceSecondary int64  `json:"final_price_secondary"`
	IsCrewPricing       bool   `json:"is_crew_pricing"`
}

// Reject builds a rejected decision.
func Reject(reason Reason) AdmissionDecision {
	return AdmissionDecision{Reason: reason}
}
