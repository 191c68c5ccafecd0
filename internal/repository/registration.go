package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/race-admission/internal/model"
)

// ErrInvalidTransition is returned when a registration status change is not
// allowed from its current status.
var ErrInvalidTransition = errors.New("invalid registration status transition")

// RegistrationRepository handles persistence for registrations.
type RegistrationRepository struct {
	db *pgxpool.Pool
}

// NewRegistrationRepository constructs a RegistrationRepository.
func NewRegistrationRepository(db *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

const registrationColumns = `id, user_id, distance_id, status, final_price_local,
	final_price_secondary, crew_size, is_crew_pricing, tier_name, reference_number, created_at`

// CountActive counts registrations for the distance that are not cancelled.
//
// The count is not locked: callers that act on it must hold the admission
// gate for the distance, which serialises every writer for that distance.
func (r *RegistrationRepository) CountActive(ctx context.Context, distanceID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE distance_id = $1 AND status <> $2`,
		distanceID, model.StatusCancelled,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active registrations: %w", err)
	}
	return n, nil
}

// Create inserts the registration. An empty ID is filled with a new UUID.
func (r *RegistrationRepository) Create(ctx context.Context, reg *model.Registration) error {
	if reg.ID == "" {
		reg.ID = uuid.New().String()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO registrations (`+registrationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		reg.ID, reg.UserID, reg.DistanceID, reg.Status, reg.FinalPriceLocal,
		reg.FinalPriceSecondary, reg.CrewSize, reg.IsCrewPricing, reg.TierName,
		reg.ReferenceNumber, reg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

// GetByID returns a single registration or ErrNotFound.
func (r *RegistrationRepository) GetByID(ctx context.Context, id string) (*model.Registration, error) {
	if uuid.Validate(id) != nil {
		return nil, ErrNotFound
	}
	reg, err := scanRegistration(r.db.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

// ListByDistance returns all registrations for a given distance.
func (r *RegistrationRepository) ListByDistance(ctx context.Context, distanceID string) ([]model.Registration, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE distance_id = $1
		 ORDER BY created_at ASC`,
		distanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

// UpdateStatus moves a registration from one of the allowed statuses to the
// target status. It returns ErrNotFound for unknown ids and
// ErrInvalidTransition when the current status is not in from.
func (r *RegistrationRepository) UpdateStatus(ctx context.Context, id string, to model.RegistrationStatus, from ...model.RegistrationStatus) (*model.Registration, error) {
	if uuid.Validate(id) != nil {
		return nil, ErrNotFound
	}
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	reg, err := scanRegistration(r.db.QueryRow(ctx,
		`UPDATE registrations SET status = $2
		 WHERE id = $1 AND status = ANY($3)
		 RETURNING `+registrationColumns,
		id, to, allowed,
	))
	if err == nil {
		return reg, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update registration status: %w", err)
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrInvalidTransition
}

// SetReferenceNumber stores the human-readable reference for a registration.
func (r *RegistrationRepository) SetReferenceNumber(ctx context.Context, id, ref string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE registrations SET reference_number = $2 WHERE id = $1`,
		id, ref,
	)
	if err != nil {
		return fmt.Errorf("set reference number: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRegistration(row pgx.Row) (*model.Registration, error) {
	var reg model.Registration
	err := row.Scan(&reg.ID, &reg.UserID, &reg.DistanceID, &reg.Status, &reg.FinalPriceLocal,
		&reg.FinalPriceSecondary, &reg.CrewSize, &reg.IsCrewPricing, &reg.TierName,
		&reg.ReferenceNumber, &reg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}
