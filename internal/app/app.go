package app

import (
	"fmt"
	"time"

	"github.com/ternarybob/acta/internal/clients/blob"
	"github.com/ternarybob/acta/internal/clients/portal"
	"github.com/ternarybob/acta/internal/common"
	"github.com/ternarybob/acta/internal/handlers"
	"github.com/ternarybob/acta/internal/interfaces"
	"github.com/ternarybob/acta/internal/queue"
	"github.com/ternarybob/acta/internal/services/projection"
	"github.com/ternarybob/acta/internal/services/scheduler"
	"github.com/ternarybob/acta/internal/services/status"
	"github.com/ternarybob/acta/internal/services/sweeper"
	"github.com/ternarybob/acta/internal/services/webhook"
	"github.com/ternarybob/acta/internal/services/worker"
	badgerstorage "github.com/ternarybob/acta/internal/storage/badger"
	"github.com/ternarybob/arbor"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	TicketQueue    interfaces.TicketQueue
	PortalClient   interfaces.PortalClient
	BlobStore      interfaces.BlobStore

	StatusManager     *status.Manager
	WebhookDispatcher interfaces.WebhookDispatcher
	SchedulerService  *scheduler.Service
	WorkerService     *worker.Service
	ProjectionService *projection.Service
	Sweeper           *sweeper.Sweeper
	WorkerPool        *queue.WorkerPool

	// HTTP handlers
	APIHandler     *handlers.APIHandler
	ProcessHandler *handlers.ProcessHandler
	WebhookHandler *handlers.WebhookHandler

	storage *badgerstorage.Manager
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Str("environment", cfg.Environment).
		Int("worker_concurrency", cfg.Queue.Concurrency).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage opens the Badger metadata store and the ticket queue on top of
// the same database.
func (a *App) initStorage() error {
	storageManager, err := badgerstorage.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.storage = storageManager
	a.StorageManager = storageManager

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	queueManager, err := queue.NewManager(
		storageManager.DB().Store().Badger(),
		a.Config.Queue.QueueName,
		common.Duration(a.Config.Queue.VisibilityTimeout, 10*time.Minute),
		a.Config.Queue.MaxReceive,
	)
	if err != nil {
		return fmt.Errorf("failed to create ticket queue: %w", err)
	}
	a.TicketQueue = queueManager

	return nil
}

// initServices wires external clients and the pipeline services
func (a *App) initServices() error {
	a.PortalClient = portal.NewClient(&a.Config.Portal, a.Logger)

	blobStore, err := blob.NewS3Store(&a.Config.Storage.S3, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create blob store: %w", err)
	}
	a.BlobStore = blobStore

	a.StatusManager = status.NewManager(a.Config.IsProduction())
	a.WebhookDispatcher = webhook.NewDispatcher(&a.Config.Webhook, a.StatusManager, a.Logger)

	presignTTL := common.Duration(a.Config.Storage.S3.PresignTTL, time.Hour)

	a.SchedulerService = scheduler.NewService(
		a.StorageManager,
		a.TicketQueue,
		a.PortalClient,
		a.StatusManager,
		a.Logger,
	)

	a.WorkerService = worker.NewService(
		a.StorageManager,
		a.PortalClient,
		a.BlobStore,
		a.WebhookDispatcher,
		a.StatusManager,
		&a.Config.Worker,
		presignTTL,
		a.Logger,
	)

	a.ProjectionService = projection.NewService(
		a.StorageManager,
		a.BlobStore,
		presignTTL,
		a.Logger,
	)

	a.WorkerPool = queue.NewWorkerPool(
		a.TicketQueue,
		a.WorkerService.HandleTicket,
		a.Config.Queue.Concurrency,
		common.Duration(a.Config.Queue.PollInterval, time.Second),
		a.Logger,
	)

	a.Sweeper = sweeper.NewSweeper(a.StorageManager, a.TicketQueue, &a.Config.Sweeper, a.Logger)

	return nil
}

// initHandlers creates the HTTP handlers
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler()
	a.ProcessHandler = handlers.NewProcessHandler(a.SchedulerService, a.ProjectionService)
	a.WebhookHandler = handlers.NewWebhookHandler(a.StatusManager, a.WebhookDispatcher)
}

// Start begins background processing: the worker pool and the sweeper
func (a *App) Start() error {
	if err := a.WorkerPool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	if a.Config.Sweeper.Enabled {
		if err := a.Sweeper.Start(a.Config.Sweeper.Schedule); err != nil {
			return fmt.Errorf("failed to start sweeper: %w", err)
		}
	}

	return nil
}

// Close shuts down background processing and closes storage
func (a *App) Close() error {
	a.Logger.Info().Msg("Shutting down application")

	if a.WorkerPool != nil {
		if err := a.WorkerPool.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop worker pool")
		}
	}

	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}

	if a.TicketQueue != nil {
		if err := a.TicketQueue.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close ticket queue")
		}
	}

	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
			return err
		}
	}

	a.Logger.Info().Msg("Application shutdown complete")
	return nil
}
