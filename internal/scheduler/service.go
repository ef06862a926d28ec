// Package scheduler promotes prepared ceremonies to RUNNING once their
// scheduled start time has passed, and closes out RUNNING ceremonies whose
// queue has drained.
package scheduler

import (
	"context"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/clrfund/setup-mpc-ui/internal/ceremony"
	"github.com/clrfund/setup-mpc-ui/internal/metrics"
)

// DefaultInterval is how often the sweep is scheduled.
const DefaultInterval = 30 * time.Minute

type Service struct {
	store   ceremony.Store
	events  ceremony.EventLog
	clock   time2.Clock
	metrics *metrics.Service
}

func NewService(store ceremony.Store, events ceremony.EventLog, clock time2.Clock, m *metrics.Service) *Service {
	return &Service{
		store:   store,
		events:  events,
		clock:   clock,
		metrics: m,
	}
}

// Sweep starts every PRESELECTION ceremony whose start time is in the past.
// Idempotent: a ceremony already RUNNING no longer matches the query, so a
// repeated sweep has no effect.
func (s *Service) Sweep(ctx context.Context) error {
	now := s.clock.Now()
	cutoff := now.Unix()
	due, err := s.store.ListCeremonies(ctx, &ceremony.Filter{
		State:       ceremony.StatePreselection,
		StartBefore: &cutoff,
	})
	if err != nil {
		return errors.Wrap(err, "failed to list pending ceremonies")
	}

	for _, c := range due {
		if err := s.start(ctx, c, now); err != nil {
			log.Warn().Err(err).Str("ceremony_id", c.ID).Msg("Failed to start ceremony")
		}
	}

	running, err := s.store.ListCeremonies(ctx, &ceremony.Filter{State: ceremony.StateRunning})
	if err != nil {
		return errors.Wrap(err, "failed to list running ceremonies")
	}
	for _, c := range running {
		// Drained: every handed-out turn has resolved and nobody is left
		// to wait for. The final accepted hash becomes the ceremony hash.
		if c.LastQueueIndex == 0 || c.CurrentIndex <= c.LastQueueIndex {
			continue
		}
		if err := s.store.MarkCeremonyComplete(ctx, c.ID, c.Hash); err != nil {
			log.Warn().Err(err).Str("ceremony_id", c.ID).Msg("Failed to complete ceremony")
			continue
		}
		log.Info().Str("ceremony_id", c.ID).Str("title", c.Title).Msg("Ceremony complete")
	}
	return nil
}

func (s *Service) start(ctx context.Context, c *ceremony.Ceremony, now time.Time) error {
	if err := s.store.SetCeremonyState(ctx, c.ID, ceremony.StateRunning); err != nil {
		return errors.Wrap(err, "failed to set ceremony state")
	}

	event := &ceremony.Event{
		CeremonyID: c.ID,
		Sender:     ceremony.SenderWatchdog,
		EventType:  ceremony.EventSetRunning,
		Message:    "Ceremony started",
		Timestamp:  now,
	}
	if err := s.events.Append(ctx, event); err != nil {
		return errors.Wrap(err, "failed to append start event")
	}

	if s.metrics != nil {
		s.metrics.SchedulerPromotions.Inc()
	}
	log.Info().Str("ceremony_id", c.ID).Str("title", c.Title).Msg("Ceremony is ready to start")
	return nil
}
