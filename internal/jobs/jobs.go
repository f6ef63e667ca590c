package jobs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// Engine drives the job lifecycle state machine. It is the only component
// that mutates job records; every transition is an optimistic update guarded
// by the job version, so duplicate queue deliveries and concurrent workers
// resolve to exactly one winner.
type Engine struct {
	store          interfaces.JobStore
	queue          interfaces.JobQueue
	registry       *Registry
	logger         arbor.ILogger
	handlerTimeout time.Duration
}

// NewEngine creates a lifecycle engine
func NewEngine(store interfaces.JobStore, queue interfaces.JobQueue, registry *Registry, logger arbor.ILogger, handlerTimeout time.Duration) *Engine {
	if handlerTimeout <= 0 {
		handlerTimeout = 10 * time.Minute
	}
	return &Engine{
		store:          store,
		queue:          queue,
		registry:       registry,
		logger:         logger,
		handlerTimeout: handlerTimeout,
	}
}

// CreateJob builds a new job through the stage handler, persists it in
// Created state and enqueues a processing message. Fails with ErrDuplicateJob
// when a job already exists for the same (job_type, internal_id).
func (e *Engine) CreateJob(ctx context.Context, jobType models.JobType, internalID string, metadata map[string]string) (*models.JobItem, error) {
	handler, err := e.registry.Get(jobType)
	if err != nil {
		return nil, err
	}

	job, err := handler.CreateJob(ctx, internalID, metadata)
	if err != nil {
		return nil, fmt.Errorf("handler failed to build job %s/%s: %w", jobType, internalID, err)
	}

	// The engine owns the attempt counters regardless of what the handler put
	// in the metadata.
	if job.Metadata == nil {
		job.Metadata = make(map[string]string)
	}
	job.Metadata[MetadataProcessAttempt] = "0"
	job.Metadata[MetadataVerificationAttempt] = "0"

	if err := e.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	msg := models.JobQueueMessage{ID: job.ID}
	if err := e.queue.Enqueue(ctx, interfaces.JobProcessingQueue, msg, 0); err != nil {
		return nil, fmt.Errorf("job %s created but enqueue failed: %w", job.ID, err)
	}

	e.logger.Info().
		Str("job_id", job.ID).
		Str("job_type", string(jobType)).
		Str("internal_id", internalID).
		Msg("Job created")
	return job, nil
}

// ProcessJob executes the stage's external side effect for a job in Created
// or VerificationFailed state. Exactly one of two racing callers wins the
// LockedForProcessing transition; the loser fails with ErrStaleVersion.
func (e *Engine) ProcessJob(ctx context.Context, id string) error {
	job, err := e.store.GetJobByID(ctx, id)
	if err != nil {
		return err
	}

	switch job.Status {
	case models.JobStatusCreated, models.JobStatusVerificationFailed:
	default:
		return invalidState("cannot process job %s in status %s", id, job.Status)
	}

	locked, err := e.store.UpdateJobStatus(ctx, job, models.JobStatusLockedForProcessing)
	if err != nil {
		// A stale version here means another worker claimed the job first.
		return err
	}

	handler, err := e.registry.Get(job.JobType)
	if err != nil {
		return err
	}

	hctx, cancel := context.WithTimeout(ctx, e.handlerTimeout)
	externalID, err := handler.ProcessJob(hctx, locked)
	cancel()
	if err != nil {
		metadata := IncrementMetadataKey(locked.Metadata, MetadataProcessAttempt)
		if _, uerr := e.store.UpdateJobMetadata(ctx, locked, metadata); uerr != nil {
			e.logger.Warn().Err(uerr).Str("job_id", id).Msg("Failed to record process attempt")
		}
		e.logger.Error().Err(err).
			Str("job_id", id).
			Str("job_type", string(job.JobType)).
			Msg("Handler failed to process job")
		return fmt.Errorf("handler failed to process job %s: %w", id, err)
	}

	// Single optimistic write carrying status, external id and the bumped
	// attempt counter.
	status := models.JobStatusPendingVerification
	metadata := IncrementMetadataKey(locked.Metadata, MetadataProcessAttempt)
	updated, err := e.store.UpdateJob(ctx, locked, models.JobUpdate{
		Status:     &status,
		ExternalID: &externalID,
		Metadata:   metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to finalize processing of job %s: %w", id, err)
	}

	msg := models.JobQueueMessage{ID: updated.ID}
	if err := e.queue.Enqueue(ctx, interfaces.JobVerificationQueue, msg, handler.VerificationPollingDelay()); err != nil {
		return fmt.Errorf("job %s processed but verification enqueue failed: %w", id, err)
	}

	e.logger.Info().
		Str("job_id", id).
		Str("job_type", string(job.JobType)).
		Str("external_id", externalID.String()).
		Msg("Job processed, verification scheduled")
	return nil
}

// VerifyJob polls the stage's external service for a job in
// PendingVerification state and settles the outcome: Completed on Verified,
// VerificationFailed on Rejected (with a re-process when attempts remain),
// another delayed poll on Pending until attempts exhaust into
// VerificationTimeout.
func (e *Engine) VerifyJob(ctx context.Context, id string) error {
	job, err := e.store.GetJobByID(ctx, id)
	if err != nil {
		return err
	}

	if job.Status != models.JobStatusPendingVerification {
		return invalidState("cannot verify job %s in status %s", id, job.Status)
	}

	handler, err := e.registry.Get(job.JobType)
	if err != nil {
		return err
	}

	hctx, cancel := context.WithTimeout(ctx, e.handlerTimeout)
	result, err := handler.VerifyJob(hctx, job)
	cancel()
	if err != nil {
		e.logger.Error().Err(err).
			Str("job_id", id).
			Str("job_type", string(job.JobType)).
			Msg("Handler failed to verify job")
		return fmt.Errorf("handler failed to verify job %s: %w", id, err)
	}

	switch result.Status {
	case VerificationVerified:
		if _, err := e.store.UpdateJobStatus(ctx, job, models.JobStatusCompleted); err != nil {
			return fmt.Errorf("failed to complete job %s: %w", id, err)
		}
		e.logger.Info().
			Str("job_id", id).
			Str("job_type", string(job.JobType)).
			Str("internal_id", job.InternalID).
			Msg("Job completed")
		return nil

	case VerificationRejected:
		updated, err := e.store.UpdateJobStatus(ctx, job, models.JobStatusVerificationFailed)
		if err != nil {
			return fmt.Errorf("failed to mark job %s verification failed: %w", id, err)
		}
		e.logger.Warn().
			Str("job_id", id).
			Str("job_type", string(job.JobType)).
			Str("reason", result.Reason).
			Msg("Job verification rejected")

		if MetadataCounter(updated.Metadata, MetadataProcessAttempt) < handler.MaxProcessAttempts() {
			msg := models.JobQueueMessage{ID: id}
			if err := e.queue.Enqueue(ctx, interfaces.JobProcessingQueue, msg, 0); err != nil {
				return fmt.Errorf("failed to re-enqueue processing for job %s: %w", id, err)
			}
		}
		return nil

	case VerificationPending:
		attempts := MetadataCounter(job.Metadata, MetadataVerificationAttempt)
		if attempts >= handler.MaxVerificationAttempts() {
			if _, err := e.store.UpdateJobStatus(ctx, job, models.JobStatusVerificationTimeout); err != nil {
				return fmt.Errorf("failed to time out job %s: %w", id, err)
			}
			e.logger.Warn().
				Str("job_id", id).
				Str("job_type", string(job.JobType)).
				Str("attempts", strconv.FormatUint(attempts, 10)).
				Msg("Job verification timed out")
			return nil
		}

		metadata := IncrementMetadataKey(job.Metadata, MetadataVerificationAttempt)
		if _, err := e.store.UpdateJobMetadata(ctx, job, metadata); err != nil {
			return fmt.Errorf("failed to record verification attempt for job %s: %w", id, err)
		}
		msg := models.JobQueueMessage{ID: id}
		if err := e.queue.Enqueue(ctx, interfaces.JobVerificationQueue, msg, handler.VerificationPollingDelay()); err != nil {
			return fmt.Errorf("failed to re-enqueue verification for job %s: %w", id, err)
		}
		return nil

	default:
		return fmt.Errorf("handler returned unknown verification status %q for job %s", result.Status, id)
	}
}

// HandleJobFailure is the dead-letter sink. It records the status the job
// held in metadata.last_job_status and moves the job to Failed. Completed
// jobs must never reach the dead-letter queue.
func (e *Engine) HandleJobFailure(ctx context.Context, id string) error {
	job, err := e.store.GetJobByID(ctx, id)
	if err != nil {
		return err
	}

	if job.Status == models.JobStatusCompleted {
		return invalidState("Invalid state exists on DL queue: %s", job.Status)
	}
	if job.Status == models.JobStatusFailed {
		e.logger.Debug().Str("job_id", id).Msg("Job already failed, nothing to do")
		return nil
	}

	status := models.JobStatusFailed
	metadata := job.CloneMetadata()
	metadata[MetadataLastJobStatus] = string(job.Status)
	if _, err := e.store.UpdateJob(ctx, job, models.JobUpdate{
		Status:   &status,
		Metadata: metadata,
	}); err != nil {
		return fmt.Errorf("failed to mark job %s failed: %w", id, err)
	}

	e.logger.Error().
		Str("job_id", id).
		Str("job_type", string(job.JobType)).
		Str("last_status", string(job.Status)).
		Msg("Job moved to failed")
	return nil
}
