// Package dispatch runs the side effects of an accepted registration:
// reference number, registrant confirmation and organizer notification.
// Side effects are best effort; a failure is logged and never changes the
// admission decision.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/race-admission/internal/model"
	"github.com/Shivanand-hulikatti/race-admission/internal/sl"
)

// ReferenceStore persists the reference number of a registration.
type ReferenceStore interface {
	SetReferenceNumber(ctx context.Context, registrationID, ref string) error
}

// Mailer sends the registrant their confirmation.
type Mailer interface {
	SendConfirmation(ctx context.Context, decision model.AdmissionDecision, reg model.Registration) error
}

// Notifier tells the organizer about a new registration.
type Notifier interface {
	NotifyOrganizer(ctx context.Context, reg model.Registration) error
}

const defaultTimeout = 30 * time.Second

type Dispatcher struct {
	refs     ReferenceStore
	mailer   Mailer
	notifier Notifier
	timeout  time.Duration
	log      *slog.Logger
	wg       sync.WaitGroup
}

func New(refs ReferenceStore, mailer Mailer, notifier Notifier, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		refs:     refs,
		mailer:   mailer,
		notifier: notifier,
		timeout:  defaultTimeout,
		log:      log.With(sl.Module("dispatch")),
	}
}

// Dispatch starts the side effects in the background and returns at once.
func (d *Dispatcher) Dispatch(ctx context.Context, decision model.AdmissionDecision, reg model.Registration) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx, decision, reg)
	}()
}

// Wait blocks until all dispatched side effects have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, decision model.AdmissionDecision, reg model.Registration) {
	log := d.log.With(slog.String("registration_id", reg.ID), slog.String("distance_id", reg.DistanceID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("side effect panicked", slog.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	reg.ReferenceNumber = ReferenceNumber(reg)
	if err := d.refs.SetReferenceNumber(ctx, reg.ID, reg.ReferenceNumber); err != nil {
		log.Error("persist reference number", sl.Err(err))
	}

	var g errgroup.Group
	if d.mailer != nil {
		g.Go(func() error {
			if err := d.mailer.SendConfirmation(ctx, decision, reg); err != nil {
				log.Error("send confirmation", sl.Err(err))
				return err
			}
			return nil
		})
	}
	if d.notifier != nil {
		g.Go(func() error {
			if err := d.notifier.NotifyOrganizer(ctx, reg); err != nil {
				log.Error("notify organizer", sl.Err(err))
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn("side effects incomplete", slog.String("reference", reg.ReferenceNumber))
		return
	}
	log.Debug("side effects done", slog.String("reference", reg.ReferenceNumber))
}

// ReferenceNumber derives the registrant-facing reference from the
// registration's creation date and id.
func ReferenceNumber(reg model.Registration) string {
	id := strings.ToUpper(strings.ReplaceAll(reg.ID, "-", ""))
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("REG-%s-%s", reg.CreatedAt.UTC().Format("20060102"), id)
}
