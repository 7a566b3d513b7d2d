package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/nsqio/go-nsq"
	"github.com/phrazzld/mailpipe/internal/api"
	"github.com/phrazzld/mailpipe/internal/api/middleware"
	"github.com/phrazzld/mailpipe/internal/auth"
	"github.com/phrazzld/mailpipe/internal/config"
	"github.com/phrazzld/mailpipe/internal/events"
	"github.com/phrazzld/mailpipe/internal/notify"
	"github.com/phrazzld/mailpipe/internal/outbox"
	"github.com/phrazzld/mailpipe/internal/platform/converter"
	"github.com/phrazzld/mailpipe/internal/platform/gemini"
	"github.com/phrazzld/mailpipe/internal/platform/nsqbus"
	"github.com/phrazzld/mailpipe/internal/platform/postgres"
	"github.com/phrazzld/mailpipe/internal/platform/ses"
	"github.com/phrazzld/mailpipe/internal/platform/storage"
	"github.com/phrazzld/mailpipe/internal/store"
	"github.com/phrazzld/mailpipe/internal/task"
	"github.com/spf13/afero"
)

// database is what the application needs from *sql.DB beyond store.DBTX.
type database interface {
	api.Pinger
	Close() error
}

// application holds the wired dependencies of the server process.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     database

	taskService    api.TaskService
	webhookService api.WebhookEventService
	tokens         middleware.TokenValidator

	runner   *task.Runner
	consumer *nsqbus.Consumer
	producer *nsq.Producer
}

// newApplication wires stores, pipeline stages, background jobs and the
// optional NSQ intake around an open database.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	var err error
	app.tokens, err = auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenLifetime)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	taskStore := postgres.NewPostgresTaskStore(db, logger)
	eventStore := postgres.NewPostgresWebhookEventStore(db, logger)
	emailStore := postgres.NewPostgresEmailStore(db, logger)
	tenantStore := postgres.NewPostgresTenantStore(db, logger)
	tx := store.NewTransactor(db)

	emitter, err := app.setupEmitter(ctx)
	if err != nil {
		return nil, err
	}

	aggregator, err := task.NewCompletionAggregator(task.AggregatorDeps{
		Tasks:    taskStore,
		Emails:   emailStore,
		Outbox:   eventStore,
		Tx:       tx,
		Webhooks: tenantStore,
		Emitter:  emitter,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion aggregator: %w", err)
	}

	files, err := storage.NewOSFileStorage(cfg.Storage.DocumentRoot, cfg.Storage.ResultsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create file storage: %w", err)
	}
	conv, err := converter.NewHTTPClient(cfg.Converter.URL, cfg.Converter.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create converter client: %w", err)
	}
	extractor, err := gemini.NewExtractor(ctx, gemini.Config{
		APIKey:  cfg.LLM.GeminiAPIKey,
		Model:   cfg.LLM.ModelName,
		Timeout: cfg.LLM.Timeout,
	}, afero.NewBasePathFs(afero.NewOsFs(), cfg.Storage.TemplateRoot), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}

	worker, err := task.NewExtractionWorker(task.WorkerDeps{
		Tasks:      taskStore,
		Outbox:     eventStore,
		Emails:     emailStore,
		Tx:         tx,
		Templates:  tenantStore,
		Storage:    files,
		Converter:  conv,
		Extractor:  extractor,
		Webhooks:   tenantStore,
		Aggregator: aggregator,
	}, task.WorkerConfig{
		BatchSize:      cfg.Worker.BatchSize,
		BaseRetryDelay: cfg.Worker.BaseRetryDelay,
		TaskTimeout:    cfg.Worker.TaskTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction worker: %w", err)
	}

	reaper, err := task.NewStuckTaskReaper(taskStore, aggregator, task.ReaperConfig{
		Threshold:      cfg.Reaper.Threshold,
		BaseRetryDelay: cfg.Worker.BaseRetryDelay,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create stuck task reaper: %w", err)
	}

	dispatcher, err := outbox.NewDispatcher(eventStore, tenantStore, outbox.NewHTTPSender(cfg.Outbox.HTTPTimeout),
		outbox.DispatcherConfig{
			BatchSize:      cfg.Outbox.BatchSize,
			BaseRetryDelay: cfg.Outbox.BaseRetryDelay,
			StaleAfter:     cfg.Outbox.StaleAfter,
		}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook dispatcher: %w", err)
	}

	taskService, err := task.NewService(task.ServiceDeps{
		Tasks:      taskStore,
		Emails:     emailStore,
		Tx:         tx,
		Aggregator: aggregator,
	}, cfg.Worker.MaxAttempts, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}
	app.taskService = taskService

	app.webhookService, err = outbox.NewService(eventStore, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook event service: %w", err)
	}

	app.runner, err = setupRunner(cfg, logger, worker, reaper, dispatcher)
	if err != nil {
		return nil, err
	}

	if cfg.NSQ.Enabled {
		handler, err := nsqbus.NewAttachmentReadyHandler(taskService, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment handler: %w", err)
		}
		app.consumer, err = nsqbus.NewConsumer(nsqbus.ConsumerConfig{
			LookupdAddress: cfg.NSQ.LookupdAddress,
			Topic:          cfg.NSQ.IntakeTopic,
			Channel:        cfg.NSQ.IntakeChannel,
		}, handler, logger)
		if err != nil {
			return nil, err
		}
	}

	logger.Info("application initialized",
		slog.Bool("nsq_enabled", cfg.NSQ.Enabled),
		slog.String("notification_provider", cfg.Notification.Provider))
	return app, nil
}

// setupEmitter builds the in-process event bus that receives finished
// completion groups: the sender notice always, the NSQ publication when a
// completed topic is configured.
func (app *application) setupEmitter(ctx context.Context) (*events.InMemoryEventEmitter, error) {
	cfg := app.config
	emitter := events.NewInMemoryEventEmitter(app.logger)

	var notifier notify.Notifier = notify.NewLogNotifier(app.logger)
	if cfg.Notification.Provider == "ses" {
		sesNotifier, err := ses.NewNotifier(ctx, cfg.Notification.AWSRegion, cfg.Notification.FromEmail, app.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES notifier: %w", err)
		}
		notifier = sesNotifier
	}
	notifyHandler, err := notify.NewHandler(notifier, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification handler: %w", err)
	}
	emitter.RegisterHandler(notifyHandler)

	if cfg.NSQ.Enabled && cfg.NSQ.CompletedTopic != "" {
		app.producer, err = nsqbus.NewProducer(cfg.NSQ.NSQDAddress, app.logger)
		if err != nil {
			return nil, err
		}
		publisher, err := nsqbus.NewCompletionPublisher(app.producer, cfg.NSQ.CompletedTopic, app.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create completion publisher: %w", err)
		}
		emitter.RegisterHandler(publisher)
	}
	return emitter, nil
}

// setupRunner registers the periodic background jobs.
func setupRunner(
	cfg *config.Config,
	logger *slog.Logger,
	worker *task.ExtractionWorker,
	reaper *task.StuckTaskReaper,
	dispatcher *outbox.Dispatcher,
) (*task.Runner, error) {
	runner := task.NewRunner(logger)
	jobs := []task.PeriodicJob{
		{
			Name:     "extraction_worker",
			Interval: cfg.Worker.Interval,
			Run: func(ctx context.Context) error {
				_, err := worker.RunOnce(ctx)
				return err
			},
		},
		{
			Name:     "stuck_task_reaper",
			Interval: cfg.Reaper.Interval,
			Run: func(ctx context.Context) error {
				_, err := reaper.RunOnce(ctx)
				return err
			},
		},
		{
			Name:     "webhook_dispatcher",
			Interval: cfg.Outbox.Interval,
			Run: func(ctx context.Context) error {
				_, err := dispatcher.RunOnce(ctx)
				return err
			},
		},
		{
			Name:     "webhook_stale_recovery",
			Interval: cfg.Reaper.Interval,
			Run: func(ctx context.Context) error {
				_, err := dispatcher.RecoverStale(ctx)
				return err
			},
		},
	}
	for _, job := range jobs {
		if err := runner.Register(job); err != nil {
			return nil, fmt.Errorf("failed to register job: %w", err)
		}
	}
	return runner, nil
}

// Run starts background processing and serves the operator API until ctx
// is cancelled or a shutdown signal arrives.
func (app *application) Run(ctx context.Context) error {
	if app.runner != nil {
		app.runner.Start()
	}
	if app.consumer != nil {
		if err := app.consumer.Start(); err != nil {
			app.cleanup()
			return err
		}
		app.logger.Info("nsq intake consumer started", slog.String("topic", app.config.NSQ.IntakeTopic))
	}

	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup stops intake first, then background jobs, then closes the pool.
func (app *application) cleanup() {
	if app.consumer != nil {
		app.consumer.Stop()
	}
	if app.runner != nil {
		app.runner.Stop()
	}
	if app.producer != nil {
		app.producer.Stop()
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
	app.logger.Info("application shutdown completed")
}
