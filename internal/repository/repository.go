// Package repository implements all database queries for race registration.
// It uses pgx directly (no ORM) for transparency and performance.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/race-admission/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// DistanceRepository handles persistence for distances.
type DistanceRepository struct {
	db *pgxpool.Pool
}

// NewDistanceRepository constructs a DistanceRepository.
func NewDistanceRepository(db *pgxpool.Pool) *DistanceRepository {
	return &DistanceRepository{db: db}
}

const distanceColumns = `id, event_name, name, capacity_limit, base_price_local,
	base_price_secondary, price_tiers, crew_pricing, created_at`

// Create inserts a new distance and returns it with a generated UUID.
func (r *DistanceRepository) Create(ctx context.Context, req model.CreateDistanceRequest) (*model.Distance, error) {
	pricing, err := model.NewPricingMode(req.BasePriceLocal, req.BasePriceSecondary, req.PriceTiers, req.CrewPricing)
	if err != nil {
		return nil, err
	}
	d := &model.Distance{
		ID:            uuid.New().String(),
		EventName:     req.EventName,
		Name:          req.Name,
		CapacityLimit: req.CapacityLimit,
		Pricing:       pricing,
		CreatedAt:     time.Now().UTC(),
	}

	tiers := req.PriceTiers
	if tiers == nil {
		tiers = []model.PriceTier{}
	}
	tiersJSON, err := json.Marshal(tiers)
	if err != nil {
		return nil, fmt.Errorf("encode price tiers: %w", err)
	}
	crew := req.CrewPricing
	if crew == nil {
		crew = map[int]int64{}
	}
	crewJSON, err := json.Marshal(crew)
	if err != nil {
		return nil, fmt.Errorf("encode crew pricing: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO distances (`+distanceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.EventName, d.Name, d.CapacityLimit, req.BasePriceLocal,
		req.BasePriceSecondary, tiersJSON, crewJSON, d.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert distance: %w", err)
	}
	return d, nil
}

// List returns all distances ordered by event and name.
func (r *DistanceRepository) List(ctx context.Context) ([]model.Distance, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+distanceColumns+`
		 FROM distances
		 ORDER BY event_name, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list distances: %w", err)
	}
	defer rows.Close()

	var distances []model.Distance
	for rows.Next() {
		d, err := scanDistance(rows)
		if err != nil {
			return nil, err
		}
		distances = append(distances, *d)
	}
	return distances, rows.Err()
}

// GetByID returns a single distance or ErrNotFound.
func (r *DistanceRepository) GetByID(ctx context.Context, id string) (*model.Distance, error) {
	if uuid.Validate(id) != nil {
		return nil, ErrNotFound
	}
	d, err := scanDistance(r.db.QueryRow(ctx,
		`SELECT `+distanceColumns+` FROM distances WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get distance: %w", err)
	}
	return d, nil
}

func scanDistance(row pgx.Row) (*model.Distance, error) {
	var (
		d                        model.Distance
		baseLocal, baseSecondary int64
		tiersJSON, crewJSON      []byte
	)
	err := row.Scan(&d.ID, &d.EventName, &d.Name, &d.CapacityLimit, &baseLocal,
		&baseSecondary, &tiersJSON, &crewJSON, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Pricing, err = DecodePricing(baseLocal, baseSecondary, tiersJSON, crewJSON)
	if err != nil {
		return nil, fmt.Errorf("distance %s: %w", d.ID, err)
	}
	return &d, nil
}

// DecodePricing rebuilds a pricing mode from its stored JSON columns.
func DecodePricing(baseLocal, baseSecondary int64, tiersJSON, crewJSON []byte) (model.PricingMode, error) {
	var tiers []model.PriceTier
	if len(tiersJSON) > 0 {
		if err := json.Unmarshal(tiersJSON, &tiers); err != nil {
			return nil, fmt.Errorf("decode price tiers: %w", err)
		}
	}
	var crew map[int]int64
	if len(crewJSON) > 0 {
		if err := json.Unmarshal(crewJSON, &crew); err != nil {
			return nil, fmt.Errorf("decode crew pricing: %w", err)
		}
	}
	return model.NewPricingMode(baseLocal, baseSecondary, tiers, crew)
}

// MembershipRepository reads membership tiers assigned to users.
type MembershipRepository struct {
	db *pgxpool.Pool
}

// NewMembershipRepository constructs a MembershipRepository.
func NewMembershipRepository(db *pgxpool.Pool) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// GetByUserID returns the user's membership tier or ErrNotFound when the
// user has none.
func (r *MembershipRepository) GetByUserID(ctx context.Context, userID string) (*model.MembershipTier, error) {
	var m model.MembershipTier
	err := r.db.QueryRow(ctx,
		`SELECT t.id, t.name, t.discount_percentage, t.discount_amount_local
		 FROM user_memberships um
		 JOIN membership_tiers t ON t.id = um.membership_tier_id
		 WHERE um.user_id = $1`,
		userID,
	).Scan(&m.ID, &m.Name, &m.DiscountPercentage, &m.DiscountAmountLocal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return &m, nil
}
