package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/jobs"
	"github.com/ternarybob/conductor/internal/models"
)

// SnosHandler runs the per-block execution stage: it pulls the block's state
// update from the chain and persists the execution artifact the proving stage
// consumes. The external id is the block number itself.
type SnosHandler struct {
	retryPolicy
	chain   interfaces.ChainClient
	payload interfaces.PayloadStore
	logger  arbor.ILogger
}

// NewSnosHandler creates the SnosRun stage handler
func NewSnosHandler(config *common.JobsConfig, chain interfaces.ChainClient, payload interfaces.PayloadStore, logger arbor.ILogger) *SnosHandler {
	return &SnosHandler{
		retryPolicy: policyFor(config, models.JobTypeSnosRun),
		chain:       chain,
		payload:     payload,
		logger:      logger,
	}
}

func (h *SnosHandler) CreateJob(ctx context.Context, internalID string, metadata map[string]string) (*models.JobItem, error) {
	return models.NewJobItem(models.JobTypeSnosRun, internalID, metadata), nil
}

func (h *SnosHandler) ProcessJob(ctx context.Context, job *models.JobItem) (models.ExternalID, error) {
	blockNumber, err := job.BlockNumber()
	if err != nil {
		return models.ExternalID{}, err
	}

	update, err := h.chain.GetStateUpdate(ctx, blockNumber)
	if err != nil {
		return models.ExternalID{}, fmt.Errorf("failed to fetch state update for block %d: %w", blockNumber, err)
	}
	if update.Pending {
		return models.ExternalID{}, fmt.Errorf("block %d is still pending", blockNumber)
	}

	artifact, err := json.Marshal(update)
	if err != nil {
		return models.ExternalID{}, fmt.Errorf("failed to encode execution artifact for block %d: %w", blockNumber, err)
	}
	if err := h.payload.Put(ctx, ArtifactKey(job.InternalID, ArtifactSnosOutput), artifact); err != nil {
		return models.ExternalID{}, fmt.Errorf("failed to store execution artifact for block %d: %w", blockNumber, err)
	}

	h.logger.Debug().
		Str("internal_id", job.InternalID).
		Int("bytes", len(artifact)).
		Msg("Execution artifact stored")
	return models.NumberExternalID(blockNumber), nil
}

func (h *SnosHandler) VerifyJob(ctx context.Context, job *models.JobItem) (jobs.VerificationResult, error) {
	exists, err := h.payload.Exists(ctx, ArtifactKey(job.InternalID, ArtifactSnosOutput))
	if err != nil {
		return jobs.VerificationResult{}, err
	}
	if !exists {
		return jobs.VerificationResult{Status: jobs.VerificationPending}, nil
	}
	return jobs.VerificationResult{Status: jobs.VerificationVerified}, nil
}
