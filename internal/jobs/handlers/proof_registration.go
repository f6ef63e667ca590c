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

// ProofRegistrationHandler registers a generated proof on the settlement
// layer. The proof artifact is stored by the proving stage when its task
// succeeds.
type ProofRegistrationHandler struct {
	retryPolicy
	settlement interfaces.SettlementClient
	payload    interfaces.PayloadStore
	logger     arbor.ILogger
}

// NewProofRegistrationHandler creates the ProofRegistration stage handler
func NewProofRegistrationHandler(config *common.JobsConfig, settlement interfaces.SettlementClient, payload interfaces.PayloadStore, logger arbor.ILogger) *ProofRegistrationHandler {
	return &ProofRegistrationHandler{
		retryPolicy: policyFor(config, models.JobTypeProofRegistration),
		settlement:  settlement,
		payload:     payload,
		logger:      logger,
	}
}

func (h *ProofRegistrationHandler) CreateJob(ctx context.Context, internalID string, metadata map[string]string) (*models.JobItem, error) {
	return models.NewJobItem(models.JobTypeProofRegistration, internalID, metadata), nil
}

func (h *ProofRegistrationHandler) ProcessJob(ctx context.Context, job *models.JobItem) (models.ExternalID, error) {
	proof, err := h.payload.Get(ctx, ArtifactKey(job.InternalID, ArtifactProof))
	if err != nil {
		return models.ExternalID{}, fmt.Errorf("proof artifact missing for block %s: %w", job.InternalID, err)
	}

	txHash, err := h.settlement.RegisterProof(ctx, proof)
	if err != nil {
		return models.ExternalID{}, fmt.Errorf("failed to register proof for block %s: %w", job.InternalID, err)
	}

	h.logger.Debug().
		Str("internal_id", job.InternalID).
		Str("tx_hash", txHash).
		Msg("Proof registration submitted")
	return models.StringExternalID(txHash), nil
}

func (h *ProofRegistrationHandler) VerifyJob(ctx context.Context, job *models.JobItem) (jobs.VerificationResult, error) {
	return verifySettlementTx(ctx, h.settlement, job)
}

// verifySettlementTx maps a settlement transaction poll onto a verification
// result. Shared by the registration and state transition stages.
func verifySettlementTx(ctx context.Context, settlement interfaces.SettlementClient, job *models.JobItem) (jobs.VerificationResult, error) {
	txHash := job.ExternalID.String()
	if txHash == "" {
		return jobs.VerificationResult{}, fmt.Errorf("job %s has no settlement tx hash", job.ID)
	}

	status, err := settlement.VerifyTxInclusion(ctx, txHash)
	if err != nil {
		return jobs.VerificationResult{}, err
	}

	switch status {
	case interfaces.SettlementTxVerified:
		return jobs.VerificationResult{Status: jobs.VerificationVerified}, nil
	case interfaces.SettlementTxRejected:
		return jobs.VerificationResult{
			Status: jobs.VerificationRejected,
			Reason: fmt.Sprintf("settlement tx %s rejected", txHash),
		}, nil
	default:
		return jobs.VerificationResult{Status: jobs.VerificationPending}, nil
	}
}
