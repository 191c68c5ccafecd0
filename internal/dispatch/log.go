package dispatch

import (
	"context"
	"log/slog"

	"github.com/Shivanand-hulikatti/race-admission/internal/model"
	"github.com/Shivanand-hulikatti/race-admission/internal/pricing"
	"github.com/Shivanand-hulikatti/race-admission/internal/sl"
)

// LogMailer records confirmations in the log instead of sending mail.
type LogMailer struct {
	format *pricing.Formatter
	log    *slog.Logger
}

func NewLogMailer(format *pricing.Formatter, log *slog.Logger) *LogMailer {
	return &LogMailer{format: format, log: log.With(sl.Module("dispatch.mailer"))}
}

func (m *LogMailer) SendConfirmation(_ context.Context, decision model.AdmissionDecision, reg model.Registration) error {
	b := m.format.Breakdown(pricing.Quote{
		Local:         decision.FinalPriceLocal,
		Secondary:     decision.FinalPriceSecondary,
		IsCrewPricing: decision.IsCrewPricing,
		TierName:      reg.TierName,
	})
	m.log.Info("confirmation",
		slog.String("user_id", reg.UserID),
		slog.String("reference", reg.ReferenceNumber),
		slog.String("price_local", b.Local.Text),
		slog.String("price_secondary", b.Secondary.Text),
	)
	return nil
}

// LogNotifier records organizer notifications in the log.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With(sl.Module("dispatch.notifier"))}
}

func (n *LogNotifier) NotifyOrganizer(_ context.Context, reg model.Registration) error {
	n.log.Info("new registration",
		slog.String("distance_id", reg.DistanceID),
		slog.String("user_id", reg.UserID),
		slog.String("reference", reg.ReferenceNumber),
		slog.Bool("crew", reg.IsCrewPricing),
	)
	return nil
}
