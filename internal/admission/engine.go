// Package admission decides whether a registration for a capacity-limited
// distance is accepted and at what price.
//
// Every decision for a distance runs under that distance's gate: the
// capacity count, the price and the PENDING registration are read, computed
// and written while no other decision for the same distance can run. The
// write happens before the gate is released so the next waiter counts it.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/race-admission/internal/gate"
	"github.com/Shivanand-hulikatti/race-admission/internal/model"
	"github.com/Shivanand-hulikatti/race-admission/internal/pricing"
	"github.com/Shivanand-hulikatti/race-admission/internal/repository"
	"github.com/Shivanand-hulikatti/race-admission/internal/sl"
)

// Distances reads distance configuration. GetByID returns
// repository.ErrNotFound for unknown ids.
type Distances interface {
	GetByID(ctx context.Context, id string) (*model.Distance, error)
}

// Registrations is the capacity ledger and registration store.
type Registrations interface {
	CountActive(ctx context.Context, distanceID string) (int, error)
	Create(ctx context.Context, reg *model.Registration) error
}

// Dispatcher runs post-admission side effects. It must not block: the
// engine calls it after releasing the gate and ignores its outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, decision model.AdmissionDecision, reg model.Registration)
}

// Request is a single admission attempt. Membership is the registrant's
// tier, if any, resolved by the caller.
type Request struct {
	DistanceID string
	UserID     string
	CrewSize   *int
	Membership *model.MembershipTier
}

type Engine struct {
	gate          gate.Gate
	distances     Distances
	registrations Registrations
	dispatcher    Dispatcher
	now           func() time.Time
	log           *slog.Logger
}

type Option func(*Engine)

func WithDispatcher(d Dispatcher) Option {
	return func(e *Engine) {
		e.dispatcher = d
	}
}

// WithClock overrides the time source used for tier selection and
// registration timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(g gate.Gate, distances Distances, registrations Registrations, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		gate:          g,
		distances:     distances,
		registrations: registrations,
		now:           time.Now,
		log:           log.With(sl.Module("admission")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Admit decides a single registration attempt. It never returns internal
// errors to the caller: failures are logged and reported as
// model.ReasonInternal. Admit does not retry.
func (e *Engine) Admit(ctx context.Context, req Request) model.AdmissionDecision {
	log := e.log.With(
		slog.String("distance_id", req.DistanceID),
		slog.String("user_id", req.UserID),
	)

	waitStart := time.Now()
	lease, err := e.gate.Acquire(ctx, req.DistanceID)
	if err != nil {
		if gate.IsWaitExpired(err) {
			log.Warn("gate wait expired", slog.Duration("waited", time.Since(waitStart)), sl.Err(err))
			return model.Reject(model.ReasonGateTimeout)
		}
		log.Error("acquire gate", sl.Err(err))
		return model.Reject(model.ReasonInternal)
	}

	// Once the gate is held the decision runs to completion even if the
	// caller goes away, so a reservation is never left half-written.
	holdStart := time.Now()
	decision, reg := e.decide(context.WithoutCancel(ctx), req, lease, log)
	log.Debug("admission decided",
		slog.Bool("accepted", decision.Accepted),
		slog.String("reason", string(decision.Reason)),
		slog.Duration("waited", holdStart.Sub(waitStart)),
		slog.Duration("held", time.Since(holdStart)),
	)

	if decision.Accepted && e.dispatcher != nil {
		e.dispatcher.Dispatch(context.WithoutCancel(ctx), decision, *reg)
	}
	return decision
}

// decide is the critical section. The lease is released on every exit,
// including panics in collaborators.
func (e *Engine) decide(ctx context.Context, req Request, lease gate.Lease, log *slog.Logger) (decision model.AdmissionDecision, reg *model.Registration) {
	defer lease.Release()
	defer func() {
		if r := recover(); r != nil {
			log.Error("admission panicked", slog.Any("panic", r))
			decision, reg = model.Reject(model.ReasonInternal), nil
		}
	}()

	distance, err := e.distances.GetByID(ctx, req.DistanceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Reject(model.ReasonDistanceNotFound), nil
		}
		log.Error("load distance", sl.Err(err))
		return model.Reject(model.ReasonInternal), nil
	}

	if !distance.Unlimited() {
		active, err := e.registrations.CountActive(ctx, distance.ID)
		if err != nil {
			log.Error("count active registrations", sl.Err(err))
			return model.Reject(model.ReasonInternal), nil
		}
		if active >= distance.CapacityLimit {
			log.Info("distance full", slog.Int("active", active), slog.Int("limit", distance.CapacityLimit))
			return model.Reject(model.ReasonCapacityFull), nil
		}
	}

	now := e.now()
	quote, err := pricing.Resolve(pricing.Input{
		Distance:   distance,
		Now:        now,
		CrewSize:   req.CrewSize,
		Membership: req.Membership,
	})
	if err != nil {
		if errors.Is(err, pricing.ErrCrewPriceUndefined) {
			log.Info("crew price undefined", sl.Err(err))
			return model.Reject(model.ReasonCrewPriceUndefined), nil
		}
		log.Error("resolve price", sl.Err(err))
		return model.Reject(model.ReasonInternal), nil
	}

	// The count above is only authoritative while the lease still excludes
	// other deciders.
	if err := lease.Valid(ctx); err != nil {
		log.Error("gate lease lost before persist", sl.Err(err))
		return model.Reject(model.ReasonInternal), nil
	}

	reg = newRegistration(req, distance.ID, quote, now)
	if err := e.registrations.Create(ctx, reg); err != nil {
		log.Error("persist registration", sl.Err(fmt.Errorf("registration %s: %w", reg.ID, err)))
		return model.Reject(model.ReasonInternal), nil
	}

	return model.AdmissionDecision{
		Accepted:            true,
		Reason:              model.ReasonNone,
		RegistrationID:      reg.ID,
		FinalPriceLocal:     quote.Local,
		FinalPriceSecondary: quote.Secondary,
		IsCrewPricing:       quote.IsCrewPricing,
	}, reg
}

func newRegistration(req Request, distanceID string, quote pricing.Quote, now time.Time) *model.Registration {
	reg := &model.Registration{
		ID:                  uuid.New().String(),
		UserID:              req.UserID,
		DistanceID:          distanceID,
		Status:              model.StatusPending,
		FinalPriceLocal:     quote.Local,
		FinalPriceSecondary: quote.Secondary,
		IsCrewPricing:       quote.IsCrewPricing,
		TierName:            quote.TierName,
		CreatedAt:           now.UTC(),
	}
	if quote.IsCrewPricing && req.CrewSize != nil {
		size := *req.CrewSize
		reg.CrewSize = &size
	}
	return reg
}
