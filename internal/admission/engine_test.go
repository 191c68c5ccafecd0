package admission

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/race-admission/internal/gate"
	"github.com/Shivanand-hulikatti/race-admission/internal/logger"
	"github.com/Shivanand-hulikatti/race-admission/internal/model"
	"github.com/Shivanand-hulikatti/race-admission/internal/repository"
)

var fixedNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

// memStore is an in-memory ledger. Its own mutex only protects the maps;
// it does not make count-then-create atomic, that is the gate's job.
type memStore struct {
	mu            sync.Mutex
	distances     map[string]*model.Distance
	registrations map[string][]*model.Registration

	// Hooks run outside the store mutex.
	beforeCount  func(ctx context.Context)
	createErr    func(reg *model.Registration) error
	createCalled int
}

func newMemStore(distances ...*model.Distance) *memStore {
	s := &memStore{
		distances:     make(map[string]*model.Distance),
		registrations: make(map[string][]*model.Registration),
	}
	for _, d := range distances {
		s.distances[d.ID] = d
	}
	return s
}

func (s *memStore) GetByID(_ context.Context, id string) (*model.Distance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.distances[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return d, nil
}

func (s *memStore) CountActive(ctx context.Context, distanceID string) (int, error) {
	if s.beforeCount != nil {
		s.beforeCount(ctx)
	}
	s.mu.Lock()
	n := 0
	for _, r := range s.registrations[distanceID] {
		if r.Status != model.StatusCancelled {
			n++
		}
	}
	s.mu.Unlock()
	// Widen the check-then-act window so a missing gate would overbook.
	runtime.Gosched()
	return n, nil
}

func (s *memStore) Create(_ context.Context, reg *model.Registration) error {
	s.mu.Lock()
	s.createCalled++
	hook := s.createErr
	s.mu.Unlock()
	if hook != nil {
		if err := hook(reg); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations[reg.DistanceID] = append(s.registrations[reg.DistanceID], reg)
	return nil
}

func (s *memStore) active(distanceID string) int {
	n, _ := s.CountActive(context.Background(), distanceID)
	return n
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []model.Registration
	check func(reg model.Registration)
}

func (d *recordingDispatcher) Dispatch(_ context.Context, decision model.AdmissionDecision, reg model.Registration) {
	if d.check != nil {
		d.check(reg)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, reg)
}

func distance(id string, capacity int, baseLocal int64) *model.Distance {
	return &model.Distance{
		ID:            id,
		Name:          id,
		CapacityLimit: capacity,
		Pricing:       model.StandardPricing{BaseLocal: baseLocal},
	}
}

func newEngine(g gate.Gate, store *memStore, opts ...Option) *Engine {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(g, store, store, logger.Discard(), opts...)
}

func admitAll(t *testing.T, e *Engine, distanceID string, n int) []model.AdmissionDecision {
	t.Helper()
	decisions := make([]model.AdmissionDecision, n)
	var g errgroup.Group
	start := make(chan struct{})
	for i := range n {
		g.Go(func() error {
			<-start
			decisions[i] = e.Admit(context.Background(), Request{DistanceID: distanceID, UserID: "runner"})
			return nil
		})
	}
	close(start)
	require.NoError(t, g.Wait())
	return decisions
}

func countReasons(decisions []model.AdmissionDecision) (accepted int, reasons map[model.Reason]int) {
	reasons = make(map[model.Reason]int)
	for _, d := range decisions {
		if d.Accepted {
			accepted++
			continue
		}
		reasons[d.Reason]++
	}
	return accepted, reasons
}

func TestAdmitNeverExceedsCapacity(t *testing.T) {
	const capacity, extra = 25, 75
	store := newMemStore(distance("d-half", capacity, 12000))
	e := newEngine(gate.NewMemory(), store)

	decisions := admitAll(t, e, "d-half", capacity+extra)

	accepted, reasons := countReasons(decisions)
	assert.Equal(t, capacity, accepted)
	assert.Equal(t, extra, reasons[model.ReasonCapacityFull])
	assert.Equal(t, capacity, store.active("d-half"))
}

func TestAdmitSingleSpotTwoCallers(t *testing.T) {
	store := newMemStore(distance("d-5k", 1, 5000))
	e := newEngine(gate.NewMemory(), store)

	decisions := admitAll(t, e, "d-5k", 2)

	var winner, loser model.AdmissionDecision
	if decisions[0].Accepted {
		winner, loser = decisions[0], decisions[1]
	} else {
		winner, loser = decisions[1], decisions[0]
	}
	assert.True(t, winner.Accepted)
	assert.Equal(t, int64(5000), winner.FinalPriceLocal)
	assert.NotEmpty(t, winner.RegistrationID)
	assert.False(t, loser.Accepted)
	assert.Equal(t, model.ReasonCapacityFull, loser.Reason)
}

func TestAdmitUnlimitedCapacity(t *testing.T) {
	store := newMemStore(distance("d-fun", 0, 1000))
	e := newEngine(gate.NewMemory(), store)

	decisions := admitAll(t, e, "d-fun", 40)

	accepted, _ := countReasons(decisions)
	assert.Equal(t, 40, accepted)
}

func TestAdmitCancelledRegistrationsFreeCapacity(t *testing.T) {
	store := newMemStore(distance("d-10k", 1, 7000))
	store.registrations["d-10k"] = []*model.Registration{
		{ID: "old", DistanceID: "d-10k", Status: model.StatusCancelled},
	}
	e := newEngine(gate.NewMemory(), store)

	d := e.Admit(context.Background(), Request{DistanceID: "d-10k", UserID: "u1"})
	assert.True(t, d.Accepted)

	d = e.Admit(context.Background(), Request{DistanceID: "d-10k", UserID: "u2"})
	assert.Equal(t, model.ReasonCapacityFull, d.Reason)
}

func TestAdmitDistanceNotFound(t *testing.T) {
	g := gate.NewMemory()
	e := newEngine(g, newMemStore())

	d := e.Admit(context.Background(), Request{DistanceID: "missing", UserID: "u1"})
	assert.False(t, d.Accepted)
	assert.Equal(t, model.ReasonDistanceNotFound, d.Reason)
	assert.Zero(t, g.Len(), "gate must be released")
}

func TestAdmitPersistsPricedRegistration(t *testing.T) {
	d := &model.Distance{
		ID:            "d-21k",
		CapacityLimit: 10,
		Pricing: model.StandardPricing{
			BaseLocal:     15000,
			BaseSecondary: 4000,
			Tiers: []model.PriceTier{{
				Name: "early bird", PriceLocal: 10000, PriceSecondary: 2800,
				ValidFrom: fixedNow.Add(-time.Hour), ValidTo: fixedNow.Add(time.Hour),
			}},
		},
	}
	store := newMemStore(d)
	e := newEngine(gate.NewMemory(), store)

	decision := e.Admit(context.Background(), Request{
		DistanceID: "d-21k",
		UserID:     "u1",
		Membership: &model.MembershipTier{DiscountPercentage: 15},
	})
	require.True(t, decision.Accepted)
	assert.Equal(t, int64(8500), decision.FinalPriceLocal)
	assert.Equal(t, int64(2800), decision.FinalPriceSecondary)

	require.Len(t, store.registrations["d-21k"], 1)
	reg := store.registrations["d-21k"][0]
	assert.Equal(t, decision.RegistrationID, reg.ID)
	assert.Equal(t, model.StatusPending, reg.Status)
	assert.Equal(t, "u1", reg.UserID)
	assert.Equal(t, int64(8500), reg.FinalPriceLocal)
	assert.Equal(t, "early bird", reg.TierName)
	assert.Nil(t, reg.CrewSize)
	assert.Equal(t, fixedNow, reg.CreatedAt)
}

func TestAdmitCrewPricing(t *testing.T) {
	d := &model.Distance{
		ID:            "d-relay",
		CapacityLimit: 5,
		Pricing:       model.CrewPricing{Prices: map[int]int64{2: 150, 4: 280}},
	}
	store := newMemStore(d)
	e := newEngine(gate.NewMemory(), store)
	two, three := 2, 3

	decision := e.Admit(context.Background(), Request{
		DistanceID: "d-relay",
		UserID:     "u1",
		CrewSize:   &two,
		Membership: &model.MembershipTier{DiscountAmountLocal: 500},
	})
	require.True(t, decision.Accepted)
	assert.True(t, decision.IsCrewPricing)
	assert.Zero(t, decision.FinalPriceLocal)
	assert.Equal(t, int64(150), decision.FinalPriceSecondary)
	require.NotNil(t, store.registrations["d-relay"][0].CrewSize)
	assert.Equal(t, 2, *store.registrations["d-relay"][0].CrewSize)

	decision = e.Admit(context.Background(), Request{DistanceID: "d-relay", UserID: "u2", CrewSize: &three})
	assert.False(t, decision.Accepted)
	assert.Equal(t, model.ReasonCrewPriceUndefined, decision.Reason)
	assert.Len(t, store.registrations["d-relay"], 1)
}

func TestAdmitReleasesGateOnPersistenceFailure(t *testing.T) {
	store := newMemStore(distance("d-10k", 5, 7000))
	failures := 1
	store.createErr = func(*model.Registration) error {
		if failures > 0 {
			failures--
			return errors.New("connection reset by peer")
		}
		return nil
	}
	e := newEngine(gate.NewMemory(), store)

	first := e.Admit(context.Background(), Request{DistanceID: "d-10k", UserID: "u1"})
	assert.False(t, first.Accepted)
	assert.Equal(t, model.ReasonInternal, first.Reason)

	done := make(chan model.AdmissionDecision, 1)
	go func() {
		done <- e.Admit(context.Background(), Request{DistanceID: "d-10k", UserID: "u2"})
	}()
	select {
	case d := <-done:
		assert.True(t, d.Accepted)
	case <-time.After(2 * time.Second):
		t.Fatal("gate was not released after a persistence failure")
	}
}

func TestAdmitReleasesGateOnPanic(t *testing.T) {
	g := gate.NewMemory()
	store := newMemStore(distance("d-10k", 5, 7000))
	store.createErr = func(*model.Registration) error {
		panic("driver bug")
	}
	e := newEngine(g, store)

	d := e.Admit(context.Background(), Request{DistanceID: "d-10k", UserID: "u1"})
	assert.Equal(t, model.ReasonInternal, d.Reason)
	assert.Zero(t, g.Len())
}

func TestAdmitGateTimeout(t *testing.T) {
	g := gate.NewMemory(gate.WithTimeout(20 * time.Millisecond))
	store := newMemStore(distance("d-10k", 5, 7000))
	e := newEngine(g, store)

	lease, err := g.Acquire(context.Background(), "d-10k")
	require.NoError(t, err)
	defer lease.Release()

	d := e.Admit(context.Background(), Request{DistanceID: "d-10k", UserID: "u1"})
	assert.Equal(t, model.ReasonGateTimeout, d.Reason)
	assert.Zero(t, store.createCalled)
}

func TestAdmitCallerCancelWhileWaiting(t *testing.T) {
	g := gate.NewMemory()
	store := newMemStore(distance("d-10k", 5, 7000))
	e := newEngine(g, store)

	lease, err := g.Acquire(context.Background(), "d-10k")
	require.NoError(t, err)
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	d := e.Admit(ctx, Request{DistanceID: "d-10k", UserID: "u1"})
	assert.Equal(t, model.ReasonGateTimeout, d.Reason)
}

func TestAdmitFinishesCriticalSectionAfterCallerCancel(t *testing.T) {
	store := newMemStore(distance("d-10k", 5, 7000))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var criticalCtxErr error
	store.beforeCount = func(c context.Context) {
		cancel()
		criticalCtxErr = c.Err()
	}
	e := newEngine(gate.NewMemory(), store)

	d := e.Admit(ctx, Request{DistanceID: "d-10k", UserID: "u1"})
	assert.True(t, d.Accepted)
	assert.NoError(t, criticalCtxErr)
	assert.Equal(t, 1, store.active("d-10k"))
}

func TestAdmitDifferentDistancesDoNotBlock(t *testing.T) {
	g := gate.NewMemory()
	store := newMemStore(distance("d-a", 10, 1000), distance("d-b", 10, 1000))
	e := newEngine(g, store)

	holdA, err := g.Acquire(context.Background(), "d-a")
	require.NoError(t, err)
	defer holdA.Release()

	done := make(chan model.AdmissionDecision, 1)
	go func() {
		done <- e.Admit(context.Background(), Request{DistanceID: "d-b", UserID: "u1"})
	}()
	select {
	case d := <-done:
		assert.True(t, d.Accepted)
	case <-time.After(time.Second):
		t.Fatal("admission on d-b waited for d-a")
	}
}

func TestAdmitDispatchesAfterRelease(t *testing.T) {
	g := gate.NewMemory(gate.WithTimeout(50 * time.Millisecond))
	store := newMemStore(distance("d-10k", 1, 7000))
	disp := &recordingDispatcher{}
	disp.check = func(reg model.Registration) {
		lease, err := g.Acquire(context.Background(), reg.DistanceID)
		if assert.NoError(t, err, "dispatcher ran while the gate was held") {
			lease.Release()
		}
	}
	e := newEngine(g, store, WithDispatcher(disp))

	accepted := e.Admit(context.Background(), Request{DistanceID: "d-10k", UserID: "u1"})
	rejected := e.Admit(context.Background(), Request{DistanceID: "d-10k", UserID: "u2"})

	require.True(t, accepted.Accepted)
	require.False(t, rejected.Accepted)
	require.Len(t, disp.calls, 1)
	assert.Equal(t, accepted.RegistrationID, disp.calls[0].ID)
}

// expiringGate hands out leases that report themselves lost, as a Redis
// lease does once its key expired and another holder took it.
type expiringGate struct {
	*gate.Memory
}

type expiredLease struct {
	gate.Lease
}

func (expiredLease) Valid(context.Context) error { return gate.ErrLeaseLost }

func (g expiringGate) Acquire(ctx context.Context, key string) (gate.Lease, error) {
	lease, err := g.Memory.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	return expiredLease{lease}, nil
}

func TestAdmitRejectsWhenLeaseLostBeforePersist(t *testing.T) {
	g := expiringGate{gate.NewMemory()}
	store := newMemStore(distance("d-10k", 1, 7000))
	disp := &recordingDispatcher{}
	e := newEngine(g, store, WithDispatcher(disp))

	d := e.Admit(context.Background(), Request{DistanceID: "d-10k", UserID: "u1"})
	assert.False(t, d.Accepted)
	assert.Equal(t, model.ReasonInternal, d.Reason)
	assert.Zero(t, store.createCalled)
	assert.Empty(t, disp.calls)
	assert.Zero(t, g.Len(), "lease must still be released")
}
