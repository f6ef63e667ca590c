package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// UpdateStateWorker schedules a StateTransition job for every block whose
// proof completed after the last settled block. Ordering against the
// settlement contract is the handler's concern, not discovery's. Bootstrap is
// operator-seeded: with no prior successful StateTransition the worker yields.
type UpdateStateWorker struct {
	store   interfaces.JobStore
	creator JobCreator
	logger  arbor.ILogger
}

// NewUpdateStateWorker creates the StateTransition discovery worker
func NewUpdateStateWorker(store interfaces.JobStore, creator JobCreator, logger arbor.ILogger) *UpdateStateWorker {
	return &UpdateStateWorker{
		store:   store,
		creator: creator,
		logger:  logger,
	}
}

func (w *UpdateStateWorker) Name() string {
	return "update_state"
}

func (w *UpdateStateWorker) Run(ctx context.Context) error {
	lastSettled, err := w.store.GetLatestJobByTypeAndStatus(ctx, models.JobTypeStateTransition, models.JobStatusCompleted)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			w.logger.Debug().Msg("No settled state transition yet, waiting for operator seed")
			return nil
		}
		return err
	}

	candidates, err := w.store.GetJobsAfterInternalIDByJobType(ctx, models.JobTypeProofCreation, lastSettled.InternalID)
	if err != nil {
		return fmt.Errorf("failed to query proofs after block %s: %w", lastSettled.InternalID, err)
	}

	created := 0
	for _, proof := range candidates {
		if proof.Status != models.JobStatusCompleted {
			continue
		}

		if _, err := w.store.GetJobByInternalIDAndType(ctx, proof.InternalID, models.JobTypeStateTransition); err == nil {
			continue
		} else if !errors.Is(err, models.ErrJobNotFound) {
			return err
		}

		_, err = w.creator.CreateJob(ctx, models.JobTypeStateTransition, proof.InternalID, proof.CloneMetadata())
		if err != nil {
			if errors.Is(err, models.ErrDuplicateJob) {
				continue
			}
			return fmt.Errorf("failed to create StateTransition job for block %s: %w", proof.InternalID, err)
		}
		created++
	}

	if created > 0 {
		w.logger.Info().
			Int("created", created).
			Str("after_block", lastSettled.InternalID).
			Msg("State transition jobs scheduled")
	}
	return nil
}
