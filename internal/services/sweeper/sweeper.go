package sweeper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/acta/internal/common"
	"github.com/ternarybob/acta/internal/interfaces"
	"github.com/ternarybob/acta/internal/models"
	"github.com/ternarybob/arbor"
)

// Sweeper reclaims jobs abandoned in processing (worker crash, lost ticket).
// Reclaimed jobs return to pending with a fresh ticket so the next worker's
// pending guard lets them resume. This is the one sanctioned bypass of the
// job transition table and every reclaim is logged.
type Sweeper struct {
	store    interfaces.StorageManager
	queue    interfaces.TicketQueue
	cron     *cron.Cron
	staleAge time.Duration
	logger   arbor.ILogger
}

// NewSweeper creates a stale-job sweeper
func NewSweeper(store interfaces.StorageManager, queue interfaces.TicketQueue, cfg *common.SweeperConfig, logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		store:    store,
		queue:    queue,
		cron:     cron.New(cron.WithSeconds()),
		staleAge: common.Duration(cfg.StaleAge, 30*time.Minute),
		logger:   logger,
	}
}

// Start begins the scheduled sweeps
func (s *Sweeper) Start(schedule string) error {
	if schedule == "" {
		// Default: every 5 minutes
		schedule = "0 */5 * * * *"
	}

	_, err := s.cron.AddFunc(schedule, func() {
		s.runSweep()
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info().
		Str("schedule", schedule).
		Dur("stale_age", s.staleAge).
		Msg("Stale-job sweeper started")

	return nil
}

// Stop stops the sweeper
func (s *Sweeper) Stop() {
	s.cron.Stop()
	s.logger.Info().Msg("Stale-job sweeper stopped")
}

// RunNow triggers an immediate sweep
func (s *Sweeper) RunNow() {
	s.logger.Info().Msg("Triggering immediate sweep")
	go s.runSweep()
}

func (s *Sweeper) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	reclaimed, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error().
			Err(err).
			Msg("Sweep failed")
		return
	}
	if reclaimed > 0 {
		s.logger.Info().
			Int("reclaimed", reclaimed).
			Msg("Sweep completed")
	}
}

// Sweep reclaims every stale processing job and returns how many it touched
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.staleAge)
	stale, err := s.store.JobStorage().ListStaleProcessing(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, job := range stale {
		if err := s.reclaim(ctx, job); err != nil {
			s.logger.Error().
				Err(err).
				Str("job_id", job.ID).
				Msg("Failed to reclaim stale job")
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}

func (s *Sweeper) reclaim(ctx context.Context, job *models.Job) error {
	s.logger.Warn().
		Str("job_id", job.ID).
		Str("process_number", job.ProcessNumber).
		Str("started_at", startedAt(job).Format(time.RFC3339)).
		Msg("Reclaiming job stuck in processing")

	job.Status = models.JobStatusPending
	job.StartedAt = nil
	if err := s.store.JobStorage().UpdateJob(ctx, job); err != nil {
		return err
	}

	return s.queue.Enqueue(ctx, interfaces.Ticket{JobID: job.ID})
}

func startedAt(job *models.Job) time.Time {
	if job.StartedAt != nil {
		return *job.StartedAt
	}
	return job.CreatedAt
}
