package model

import (
	"net/http"
	"strings"

	"github.com/Shivanand-hulikatti/race-admission/internal/validate"
)

// CreateDistanceRequest is the payload for creating a new distance.
type CreateDistanceRequest struct {
	EventName          string        `json:"event_name" validate:"required,max=200"`
	Name               string        `json:"name" validate:"required,max=100"`
	CapacityLimit      int           `json:"capacity_limit" validate:"gte=0,lte=100000"`
	BasePriceLocal     int64         `json:"base_price_local" validate:"gte=0,excluded_with=CrewPricing"`
	BasePriceSecondary int64         `json:"base_price_secondary" validate:"gte=0,excluded_with=CrewPricing"`
	PriceTiers         []PriceTier   `json:"price_tiers" validate:"omitempty,dive"`
	CrewPricing        map[int]int64 `json:"crew_pricing" validate:"omitempty,excluded_with=PriceTiers,dive,keys,gte=1,endkeys,gte=0"`
}

func (c *CreateDistanceRequest) Bind(_ *http.Request) error {
	c.EventName = strings.TrimSpace(c.EventName)
	c.Name = strings.TrimSpace(c.Name)
	return validate.Struct(c)
}

// RegisterRequest is the payload for registering for a distance. CrewSize is
// only meaningful for distances sold with crew pricing.
type RegisterRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	CrewSize *int   `json:"crew_size" validate:"omitempty,gte=1"`
}

func (r *RegisterRequest) Bind(_ *http.Request) error {
	r.UserID = strings.TrimSpace(r.UserID)
	return validate.Struct(r)
}

// QuoteRequest asks for a price preview without reserving a spot.
type QuoteRequest struct {
	UserID   string `json:"user_id"`
	CrewSize *int   `json:"crew_size" validate:"omitempty,gte=1"`
}

func (q *QuoteRequest) Bind(_ *http.Request) error {
	q.UserID = strings.TrimSpace(q.UserID)
	return validate.Struct(q)
}
