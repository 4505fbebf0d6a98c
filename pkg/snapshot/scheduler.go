package snapshot

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Scheduler triggers snapshot captures on a cron schedule. The trigger
// closure is expected to spawn a snapshot task through the session, which
// replaces any still-running one.
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	trigger  func()
}

// NewScheduler validates the schedule and creates a stopped scheduler.
// Standard five-field cron expressions and @every descriptors are accepted.
func NewScheduler(schedule string, trigger func()) (*Scheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid snapshot schedule %q: %w", schedule, err)
	}
	return &Scheduler{cron: cron.New(), schedule: schedule, trigger: trigger}, nil
}

// Start begins firing the trigger on schedule
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.trigger); err != nil {
		return fmt.Errorf("failed to schedule snapshots: %w", err)
	}
	s.cron.Start()

	log.Info().Str("schedule", s.schedule).Msg("Snapshot scheduler started")
	return nil
}

// Stop halts scheduling; a trigger already in flight finishes on its own
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Info().Msg("Snapshot scheduler stopped")
}
