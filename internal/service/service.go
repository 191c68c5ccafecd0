// Package service implements business logic, validation, and orchestration
// between HTTP handlers, the admission engine and the repository layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Shivanand-hulikatti/race-admission/internal/admission"
	"github.com/Shivanand-hulikatti/race-admission/internal/model"
	"github.com/Shivanand-hulikatti/race-admission/internal/pricing"
	"github.com/Shivanand-hulikatti/race-admission/internal/repository"
	"github.com/Shivanand-hulikatti/race-admission/internal/sl"
)

// ErrValidation marks errors caused by invalid input.
var ErrValidation = errors.New("validation failed")

type DistanceStore interface {
	Create(ctx context.Context, req model.CreateDistanceRequest) (*model.Distance, error)
	List(ctx context.Context) ([]model.Distance, error)
	GetByID(ctx context.Context, id string) (*model.Distance, error)
}

type RegistrationStore interface {
	CountActive(ctx context.Context, distanceID string) (int, error)
	ListByDistance(ctx context.Context, distanceID string) ([]model.Registration, error)
	UpdateStatus(ctx context.Context, id string, to model.RegistrationStatus, from ...model.RegistrationStatus) (*model.Registration, error)
}

type MembershipStore interface {
	GetByUserID(ctx context.Context, userID string) (*model.MembershipTier, error)
}

type Admitter interface {
	Admit(ctx context.Context, req admission.Request) model.AdmissionDecision
}

// RegistrationService orchestrates distance and registration operations.
type RegistrationService struct {
	distances     DistanceStore
	registrations RegistrationStore
	memberships   MembershipStore
	engine        Admitter
	format        *pricing.Formatter
	now           func() time.Time
	log           *slog.Logger
}

// NewRegistrationService constructs a RegistrationService with its dependencies.
func NewRegistrationService(
	distances DistanceStore,
	registrations RegistrationStore,
	memberships MembershipStore,
	engine Admitter,
	format *pricing.Formatter,
	log *slog.Logger,
) *RegistrationService {
	return &RegistrationService{
		distances:     distances,
		registrations: registrations,
		memberships:   memberships,
		engine:        engine,
		format:        format,
		now:           time.Now,
		log:           log.With(sl.Module("service")),
	}
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// CreateDistance validates the pricing configuration and stores the distance.
// Tier windows must be well formed and must not overlap; the price resolver
// relies on this and does not check it.
func (s *RegistrationService) CreateDistance(ctx context.Context, req model.CreateDistanceRequest) (*model.DistanceView, error) {
	if req.Name == "" || req.EventName == "" {
		return nil, validationErr("event_name and name are required")
	}
	if req.CapacityLimit < 0 {
		return nil, validationErr("capacity_limit must not be negative")
	}
	if len(req.CrewPricing) > 0 && len(req.PriceTiers) > 0 {
		return nil, validationErr("%v", model.ErrAmbiguousPricing)
	}
	if len(req.CrewPricing) > 0 && (req.BasePriceLocal != 0 || req.BasePriceSecondary != 0) {
		return nil, validationErr("%v", model.ErrCrewBasePrice)
	}
	for size, price := range req.CrewPricing {
		if size < 1 || price < 0 {
			return nil, validationErr("crew_pricing entry %d=%d is invalid", size, price)
		}
	}
	if err := checkTiers(req.PriceTiers); err != nil {
		return nil, err
	}

	d, err := s.distances.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create distance: %w", err)
	}
	s.log.Info("distance created", slog.String("distance_id", d.ID), slog.Int("capacity", d.CapacityLimit))
	view := d.View(0)
	return &view, nil
}

func checkTiers(tiers []model.PriceTier) error {
	sorted := slices.Clone(tiers)
	for _, t := range sorted {
		if !t.ValidFrom.Before(t.ValidTo) {
			return validationErr("tier %q: valid_from must be before valid_to", t.Name)
		}
	}
	slices.SortFunc(sorted, func(a, b model.PriceTier) int {
		return a.ValidFrom.Compare(b.ValidFrom)
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].ValidFrom.Before(sorted[i-1].ValidTo) {
			return validationErr("tiers %q and %q overlap", sorted[i-1].Name, sorted[i].Name)
		}
	}
	return nil
}

// ListDistances returns all distances with their live registration counts.
func (s *RegistrationService) ListDistances(ctx context.Context) ([]model.DistanceView, error) {
	distances, err := s.distances.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]model.DistanceView, 0, len(distances))
	for i := range distances {
		active, err := s.registrations.CountActive(ctx, distances[i].ID)
		if err != nil {
			return nil, err
		}
		views = append(views, distances[i].View(active))
	}
	return views, nil
}

// GetDistance returns a single distance by ID.
func (s *RegistrationService) GetDistance(ctx context.Context, id string) (*model.DistanceView, error) {
	if id == "" {
		return nil, validationErr("distance id is required")
	}
	d, err := s.distances.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get distance: %w", err)
	}
	active, err := s.registrations.CountActive(ctx, id)
	if err != nil {
		return nil, err
	}
	view := d.View(active)
	return &view, nil
}

// membership returns the user's tier, or nil when the user has none.
func (s *RegistrationService) membership(ctx context.Context, userID string) (*model.MembershipTier, error) {
	if userID == "" {
		return nil, nil
	}
	m, err := s.memberships.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

// Register resolves the registrant's membership and asks the admission
// engine for a decision. Rejections are returned as decisions, not errors.
func (s *RegistrationService) Register(ctx context.Context, distanceID string, req model.RegisterRequest) (model.AdmissionDecision, error) {
	if distanceID == "" {
		return model.AdmissionDecision{}, validationErr("distance id is required")
	}
	if req.UserID == "" {
		return model.AdmissionDecision{}, validationErr("user_id is required")
	}
	if req.CrewSize != nil && *req.CrewSize < 1 {
		return model.AdmissionDecision{}, validationErr("crew_size must be positive")
	}

	membership, err := s.membership(ctx, req.UserID)
	if err != nil {
		s.log.Error("membership lookup failed", slog.String("user_id", req.UserID), sl.Err(err))
		return model.Reject(model.ReasonInternal), nil
	}

	return s.engine.Admit(ctx, admission.Request{
		DistanceID: distanceID,
		UserID:     req.UserID,
		CrewSize:   req.CrewSize,
		Membership: membership,
	}), nil
}

// QuotePrice previews the price a user would pay right now. It takes no
// lock and reserves nothing; the admitted price may differ if a tier
// boundary passes in between.
func (s *RegistrationService) QuotePrice(ctx context.Context, distanceID string, req model.QuoteRequest) (*pricing.Breakdown, error) {
	d, err := s.distances.GetByID(ctx, distanceID)
	if err != nil {
		return nil, err
	}
	membership, err := s.membership(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	quote, err := pricing.Resolve(pricing.Input{
		Distance:   d,
		Now:        s.now(),
		CrewSize:   req.CrewSize,
		Membership: membership,
	})
	if err != nil {
		return nil, err
	}
	b := s.format.Breakdown(quote)
	return &b, nil
}

// ListRegistrations returns all registrations for a distance.
func (s *RegistrationService) ListRegistrations(ctx context.Context, distanceID string) ([]model.Registration, error) {
	if _, err := s.distances.GetByID(ctx, distanceID); err != nil {
		return nil, err
	}
	return s.registrations.ListByDistance(ctx, distanceID)
}

// CancelRegistration cancels a pending or confirmed registration, which
// frees its spot.
func (s *RegistrationService) CancelRegistration(ctx context.Context, id string) (*model.Registration, error) {
	reg, err := s.registrations.UpdateStatus(ctx, id, model.StatusCancelled, model.StatusPending, model.StatusConfirmed)
	if err != nil {
		return nil, err
	}
	s.log.Info("registration cancelled", slog.String("registration_id", id), slog.String("distance_id", reg.DistanceID))
	return reg, nil
}

// ConfirmRegistration marks a pending registration as paid.
func (s *RegistrationService) ConfirmRegistration(ctx context.Context, id string) (*model.Registration, error) {
	reg, err := s.registrations.UpdateStatus(ctx, id, model.StatusConfirmed, model.StatusPending)
	if err != nil {
		return nil, err
	}
	s.log.Info("registration confirmed", slog.String("registration_id", id))
	return reg, nil
}
