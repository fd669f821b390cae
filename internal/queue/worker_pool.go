package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/acta/internal/interfaces"
	"github.com/ternarybob/arbor"
)

// TicketHandler processes a single job ticket. A nil return acknowledges the
// ticket; an error leaves it on the queue for redelivery after the visibility
// timeout.
type TicketHandler func(ctx context.Context, ticket *interfaces.Ticket) error

// WorkerPool manages a pool of workers consuming job tickets
type WorkerPool struct {
	queue        interfaces.TicketQueue
	handler      TicketHandler
	concurrency  int
	pollInterval time.Duration
	logger       arbor.ILogger
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queue interfaces.TicketQueue, handler TicketHandler, concurrency int, pollInterval time.Duration, logger arbor.ILogger) *WorkerPool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queue:        queue,
		handler:      handler,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts the worker goroutines
func (wp *WorkerPool) Start() error {
	wp.logger.Info().
		Int("concurrency", wp.concurrency).
		Msg("Starting worker pool")

	for i := 0; i < wp.concurrency; i++ {
		go wp.worker(i)
	}

	return nil
}

// Stop gracefully stops the worker pool
func (wp *WorkerPool) Stop() error {
	wp.logger.Info().Msg("Stopping worker pool")
	wp.cancel()
	return nil
}

// worker is the main loop that polls for tickets
func (wp *WorkerPool) worker(workerID int) {
	// Stagger worker starts to reduce lock contention on the queue
	staggerDelay := (wp.pollInterval / time.Duration(wp.concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		time.Sleep(staggerDelay)
	}

	wp.logger.Debug().
		Int("worker_id", workerID).
		Dur("stagger_delay", staggerDelay).
		Msg("Worker started")

	ticker := time.NewTicker(wp.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			if err := wp.processTicket(workerID); err != nil {
				if !errors.Is(err, interfaces.ErrNoMessage) {
					wp.logger.Warn().
						Err(err).
						Int("worker_id", workerID).
						Msg("Error processing ticket")
				}
			}
		}
	}
}

// processTicket receives and processes a single ticket
func (wp *WorkerPool) processTicket(workerID int) error {
	ticket, ack, err := wp.queue.Receive(wp.ctx)
	if err != nil {
		return err
	}

	wp.logger.Debug().
		Str("job_id", ticket.JobID).
		Int("worker_id", workerID).
		Msg("Processing ticket")

	startTime := time.Now()
	handlerErr := wp.handler(wp.ctx, ticket)
	duration := time.Since(startTime)

	if handlerErr != nil {
		// Do not acknowledge: the ticket becomes visible again after the
		// visibility timeout and the job's status guard decides whether the
		// redelivery resumes or skips.
		wp.logger.Error().
			Err(handlerErr).
			Str("job_id", ticket.JobID).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Ticket handler failed, leaving ticket for redelivery")
		return handlerErr
	}

	wp.logger.Info().
		Str("job_id", ticket.JobID).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Ticket processed")

	if err := ack(); err != nil {
		wp.logger.Warn().
			Err(err).
			Str("job_id", ticket.JobID).
			Msg("Failed to acknowledge ticket after successful processing")
		return err
	}

	return nil
}
