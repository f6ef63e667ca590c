package handlers

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/jobs"
	"github.com/ternarybob/conductor/internal/models"
)

// ProvingHandler submits the block's execution artifact to the prover
// gateway and polls the task. When the task succeeds, the proof artifact is
// downloaded and stored for the registration stage.
type ProvingHandler struct {
	retryPolicy
	prover  interfaces.ProverClient
	payload interfaces.PayloadStore
	logger  arbor.ILogger
}

// NewProvingHandler creates the ProofCreation stage handler
func NewProvingHandler(config *common.JobsConfig, prover interfaces.ProverClient, payload interfaces.PayloadStore, logger arbor.ILogger) *ProvingHandler {
	return &ProvingHandler{
		retryPolicy: policyFor(config, models.JobTypeProofCreation),
		prover:      prover,
		payload:     payload,
		logger:      logger,
	}
}

func (h *ProvingHandler) CreateJob(ctx context.Context, internalID string, metadata map[string]string) (*models.JobItem, error) {
	return models.NewJobItem(models.JobTypeProofCreation, internalID, metadata), nil
}

func (h *ProvingHandler) ProcessJob(ctx context.Context, job *models.JobItem) (models.ExternalID, error) {
	artifact, err := h.payload.Get(ctx, ArtifactKey(job.InternalID, ArtifactSnosOutput))
	if err != nil {
		return models.ExternalID{}, fmt.Errorf("execution artifact missing for block %s: %w", job.InternalID, err)
	}

	taskID, err := h.prover.SubmitTask(ctx, artifact)
	if err != nil {
		return models.ExternalID{}, fmt.Errorf("failed to submit proving task for block %s: %w", job.InternalID, err)
	}

	h.logger.Debug().
		Str("internal_id", job.InternalID).
		Str("task_id", taskID).
		Msg("Proving task submitted")
	return models.StringExternalID(taskID), nil
}

func (h *ProvingHandler) VerifyJob(ctx context.Context, job *models.JobItem) (jobs.VerificationResult, error) {
	taskID := job.ExternalID.String()
	if taskID == "" {
		return jobs.VerificationResult{}, fmt.Errorf("job %s has no prover task id", job.ID)
	}

	status, err := h.prover.GetTaskStatus(ctx, taskID)
	if err != nil {
		return jobs.VerificationResult{}, err
	}

	switch status {
	case interfaces.ProverTaskSucceeded:
		proof, err := h.prover.FetchProof(ctx, taskID)
		if err != nil {
			return jobs.VerificationResult{}, fmt.Errorf("proving task %s succeeded but proof download failed: %w", taskID, err)
		}
		if err := h.payload.Put(ctx, ArtifactKey(job.InternalID, ArtifactProof), proof); err != nil {
			return jobs.VerificationResult{}, fmt.Errorf("failed to store proof for block %s: %w", job.InternalID, err)
		}
		return jobs.VerificationResult{Status: jobs.VerificationVerified}, nil
	case interfaces.ProverTaskFailed:
		return jobs.VerificationResult{
			Status: jobs.VerificationRejected,
			Reason: fmt.Sprintf("proving task %s failed", taskID),
		}, nil
	default:
		return jobs.VerificationResult{Status: jobs.VerificationPending}, nil
	}
}
