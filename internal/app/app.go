// Package app wires the orchestrator together: storage, queues, clients,
// stage handlers, the lifecycle engine, queue consumers and the discovery
// worker runner.
package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/clients/chain"
	"github.com/ternarybob/conductor/internal/clients/da"
	"github.com/ternarybob/conductor/internal/clients/prover"
	"github.com/ternarybob/conductor/internal/clients/settlement"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/jobs"
	"github.com/ternarybob/conductor/internal/jobs/handlers"
	"github.com/ternarybob/conductor/internal/models"
	"github.com/ternarybob/conductor/internal/queue"
	storage "github.com/ternarybob/conductor/internal/storage/badger"
	"github.com/ternarybob/conductor/internal/workers"
)

// App holds the constructed component graph.
type App struct {
	config *common.Config
	logger arbor.ILogger

	db          *storage.BadgerDB
	jobStore    *storage.JobStore
	payload     *storage.PayloadStore
	queue       *queue.BadgerQueue
	chainClient *chain.Client
	engine      *jobs.Engine
	consumer    *queue.Consumer
	runner      *workers.Runner

	cancel context.CancelFunc
}

// New builds the application from configuration
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		config: config,
		logger: logger,
	}

	if err := a.initStorage(); err != nil {
		return nil, err
	}
	if err := a.initQueue(); err != nil {
		return nil, err
	}
	a.initEngine()
	if err := a.initWorkers(); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *App) initStorage() error {
	db, err := storage.NewBadgerDB(a.logger, &a.config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.db = db
	a.jobStore = storage.NewJobStore(db, a.logger)
	a.payload = storage.NewPayloadStore(db, a.logger)
	return nil
}

func (a *App) initQueue() error {
	q, err := queue.NewBadgerQueue(
		a.db.Store().Badger(),
		common.ParseDuration(a.config.Queue.VisibilityTimeout, 0),
		a.config.Queue.MaxReceive,
		a.logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	a.queue = q
	return nil
}

func (a *App) initEngine() {
	chainClient := chain.NewClient(&a.config.Chain, a.logger)
	a.chainClient = chainClient
	proverClient := prover.NewClient(&a.config.Prover, a.logger)
	daClient := da.NewClient(&a.config.DA, a.logger)
	settlementClient := settlement.NewClient(&a.config.Settlement, a.logger)

	registry := jobs.NewRegistry()
	registry.Register(models.JobTypeSnosRun,
		handlers.NewSnosHandler(&a.config.Jobs, chainClient, a.payload, a.logger))
	registry.Register(models.JobTypeProofCreation,
		handlers.NewProvingHandler(&a.config.Jobs, proverClient, a.payload, a.logger))
	registry.Register(models.JobTypeDataSubmission,
		handlers.NewDataSubmissionHandler(&a.config.Jobs, chainClient, daClient, a.payload, a.logger))
	registry.Register(models.JobTypeProofRegistration,
		handlers.NewProofRegistrationHandler(&a.config.Jobs, settlementClient, a.payload, a.logger))
	registry.Register(models.JobTypeStateTransition,
		handlers.NewStateTransitionHandler(&a.config.Jobs, &a.config.Settlement, settlementClient, a.payload, a.logger))

	a.engine = jobs.NewEngine(
		a.jobStore,
		a.queue,
		registry,
		a.logger,
		common.ParseDuration(a.config.Jobs.HandlerTimeout, 0),
	)
	a.consumer = queue.NewConsumer(
		a.queue,
		a.engine,
		common.ParseDuration(a.config.Queue.PollInterval, 0),
		a.logger,
	)
}

func (a *App) initWorkers() error {
	runner := workers.NewRunner(a.jobStore, a.config.Workers.Schedule, a.logger)

	workerList := []workers.Worker{
		workers.NewSnosWorker(a.chainClient, a.jobStore, a.engine, a.config.Workers.SnosBatchSize, a.logger),
		workers.NewProvingWorker(a.jobStore, a.engine, a.logger),
		workers.NewDataSubmissionWorker(a.jobStore, a.engine, a.logger),
		workers.NewUpdateStateWorker(a.jobStore, a.engine, a.logger),
	}
	if a.config.Workers.ProofRegistrationEnabled {
		workerList = append(workerList, workers.NewProofRegistrationWorker(a.jobStore, a.engine, a.logger))
	}

	for _, w := range workerList {
		if err := runner.Register(w); err != nil {
			return err
		}
	}

	a.runner = runner
	return nil
}

// Engine exposes the lifecycle engine for operator tooling and tests
func (a *App) Engine() *jobs.Engine {
	return a.engine
}

// Start launches the queue consumers and the worker runner
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.consumer.Start(ctx)
	a.runner.Start()

	a.logger.Info().Msg("Orchestrator started")
}

// Close stops consumers and workers and releases storage
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.runner != nil {
		a.runner.Stop()
	}
	if a.consumer != nil {
		a.consumer.Wait()
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close queue")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}
	a.logger.Info().Msg("Orchestrator stopped")
	return nil
}
