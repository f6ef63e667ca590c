package workers

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// Runner drives the discovery workers on a shared cron schedule. Runs are
// serialized per worker: a tick that fires while the previous run is still
// going is skipped. All workers share one admission gate: any job currently
// in VerificationFailed halts discovery entirely, so a regression surfaces
// before it fans out across the pipeline.
type Runner struct {
	cron     *cron.Cron
	store    interfaces.JobStore
	schedule string
	logger   arbor.ILogger

	mu      sync.Mutex
	running map[string]*sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewRunner creates a worker runner with the given cron schedule
func NewRunner(store interfaces.JobStore, schedule string, logger arbor.ILogger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron:     cron.New(),
		store:    store,
		schedule: schedule,
		logger:   logger,
		running:  make(map[string]*sync.Mutex),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register adds a worker to the schedule
func (r *Runner) Register(worker Worker) error {
	r.mu.Lock()
	lock := &sync.Mutex{}
	r.running[worker.Name()] = lock
	r.mu.Unlock()

	_, err := r.cron.AddFunc(r.schedule, func() {
		r.tick(worker, lock)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule worker %s: %w", worker.Name(), err)
	}

	r.logger.Debug().
		Str("worker", worker.Name()).
		Str("schedule", r.schedule).
		Msg("Worker registered")
	return nil
}

// Start begins firing scheduled ticks
func (r *Runner) Start() {
	r.cron.Start()
	r.logger.Info().Str("schedule", r.schedule).Msg("Worker runner started")
}

// Stop cancels running workers and waits for scheduled ticks to finish
func (r *Runner) Stop() {
	r.cancel()
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	r.logger.Info().Msg("Worker runner stopped")
}

func (r *Runner) tick(worker Worker, lock *sync.Mutex) {
	if !lock.TryLock() {
		r.logger.Debug().Str("worker", worker.Name()).Msg("Previous run still in progress, skipping tick")
		return
	}
	defer lock.Unlock()

	halted, err := CreationHalted(r.ctx, r.store)
	if err != nil {
		r.logger.Error().Err(err).Str("worker", worker.Name()).Msg("Failed to evaluate worker gate")
		return
	}
	if halted {
		r.logger.Warn().
			Str("worker", worker.Name()).
			Msg("Jobs in VerificationFailed, discovery halted")
		return
	}

	if err := worker.Run(r.ctx); err != nil {
		r.logger.Error().Err(err).Str("worker", worker.Name()).Msg("Worker run failed")
	}
}

// CreationHalted probes for any job in VerificationFailed. While one exists,
// no discovery worker schedules new work.
func CreationHalted(ctx context.Context, store interfaces.JobStore) (bool, error) {
	failed, err := store.GetJobsByStatuses(ctx, []models.JobStatus{models.JobStatusVerificationFailed}, 1)
	if err != nil {
		return false, err
	}
	return len(failed) > 0, nil
}
