package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// successorWorker is the shared shape of the stage hand-off scanners: find
// every job of one type in one status that has no successor of the next type
// for the same block, and create that successor with the predecessor's
// metadata.
type successorWorker struct {
	name       string
	fromType   models.JobType
	fromStatus models.JobStatus
	toType     models.JobType
	store      interfaces.JobStore
	creator    JobCreator
	logger     arbor.ILogger
}

func (w *successorWorker) Name() string {
	return w.name
}

func (w *successorWorker) Run(ctx context.Context) error {
	eligible, err := w.store.GetJobsWithoutSuccessor(ctx, w.fromType, w.fromStatus, w.toType)
	if err != nil {
		return fmt.Errorf("discovery query failed for %s: %w", w.name, err)
	}

	created := 0
	for _, job := range eligible {
		_, err := w.creator.CreateJob(ctx, w.toType, job.InternalID, job.CloneMetadata())
		if err != nil {
			if errors.Is(err, models.ErrDuplicateJob) {
				continue
			}
			return fmt.Errorf("failed to create %s job for block %s: %w", w.toType, job.InternalID, err)
		}
		created++
	}

	if created > 0 {
		w.logger.Info().
			Str("worker", w.name).
			Str("job_type", string(w.toType)).
			Int("created", created).
			Msg("Successor jobs scheduled")
	}
	return nil
}

// NewProvingWorker schedules a ProofCreation job for every completed SnosRun
// without one.
func NewProvingWorker(store interfaces.JobStore, creator JobCreator, logger arbor.ILogger) Worker {
	return &successorWorker{
		name:       "proving",
		fromType:   models.JobTypeSnosRun,
		fromStatus: models.JobStatusCompleted,
		toType:     models.JobTypeProofCreation,
		store:      store,
		creator:    creator,
		logger:     logger,
	}
}

// NewDataSubmissionWorker schedules a DataSubmission job for every completed
// ProofCreation without one.
func NewDataSubmissionWorker(store interfaces.JobStore, creator JobCreator, logger arbor.ILogger) Worker {
	return &successorWorker{
		name:       "data_submission",
		fromType:   models.JobTypeProofCreation,
		fromStatus: models.JobStatusCompleted,
		toType:     models.JobTypeDataSubmission,
		store:      store,
		creator:    creator,
		logger:     logger,
	}
}

// NewProofRegistrationWorker schedules a ProofRegistration job for every
// completed ProofCreation without one. Only registered when the deployment
// settles with on-chain proof registration.
func NewProofRegistrationWorker(store interfaces.JobStore, creator JobCreator, logger arbor.ILogger) Worker {
	return &successorWorker{
		name:       "proof_registration",
		fromType:   models.JobTypeProofCreation,
		fromStatus: models.JobStatusCompleted,
		toType:     models.JobTypeProofRegistration,
		store:      store,
		creator:    creator,
		logger:     logger,
	}
}
