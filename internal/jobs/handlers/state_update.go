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

// StateTransitionHandler finalizes a block's state transition on the
// settlement layer. The settlement input has two variants selected by
// configuration: calldata-DA submissions carry the onchain data and its size,
// blob-DA submissions carry the KZG proof.
type StateTransitionHandler struct {
	retryPolicy
	settlement interfaces.SettlementClient
	payload    interfaces.PayloadStore
	useKZG     bool
	logger     arbor.ILogger
}

// NewStateTransitionHandler creates the StateTransition stage handler
func NewStateTransitionHandler(config *common.JobsConfig, settlementConfig *common.SettlementConfig, settlement interfaces.SettlementClient, payload interfaces.PayloadStore, logger arbor.ILogger) *StateTransitionHandler {
	return &StateTransitionHandler{
		retryPolicy: policyFor(config, models.JobTypeStateTransition),
		settlement:  settlement,
		payload:     payload,
		useKZG:      settlementConfig.UseKZG,
		logger:      logger,
	}
}

func (h *StateTransitionHandler) CreateJob(ctx context.Context, internalID string, metadata map[string]string) (*models.JobItem, error) {
	return models.NewJobItem(models.JobTypeStateTransition, internalID, metadata), nil
}

func (h *StateTransitionHandler) ProcessJob(ctx context.Context, job *models.JobItem) (models.ExternalID, error) {
	payload, err := h.buildPayload(ctx, job.InternalID)
	if err != nil {
		return models.ExternalID{}, err
	}

	var txHash string
	if h.useKZG {
		txHash, err = h.settlement.UpdateStateKZG(ctx, payload.ProgramOutput, payload.KZGProof)
	} else {
		txHash, err = h.settlement.UpdateState(ctx, payload.ProgramOutput, payload.OnchainData, payload.OnchainDataSize)
	}
	if err != nil {
		return models.ExternalID{}, fmt.Errorf("failed to settle state transition for block %s: %w", job.InternalID, err)
	}

	h.logger.Debug().
		Str("internal_id", job.InternalID).
		Str("tx_hash", txHash).
		Bool("kzg", h.useKZG).
		Msg("State transition submitted")
	return models.StringExternalID(txHash), nil
}

func (h *StateTransitionHandler) VerifyJob(ctx context.Context, job *models.JobItem) (jobs.VerificationResult, error) {
	return verifySettlementTx(ctx, h.settlement, job)
}

// buildPayload assembles the settlement input for one block from the stored
// stage artifacts.
func (h *StateTransitionHandler) buildPayload(ctx context.Context, internalID string) (*interfaces.StateUpdatePayload, error) {
	programOutput, err := h.payload.Get(ctx, ArtifactKey(internalID, ArtifactSnosOutput))
	if err != nil {
		return nil, fmt.Errorf("program output missing for block %s: %w", internalID, err)
	}

	payload := &interfaces.StateUpdatePayload{
		ProgramOutput: [][]byte{programOutput},
	}

	if h.useKZG {
		proof, err := h.payload.Get(ctx, ArtifactKey(internalID, ArtifactProof))
		if err != nil {
			return nil, fmt.Errorf("proof artifact missing for block %s: %w", internalID, err)
		}
		payload.KZGProof = proof
		return payload, nil
	}

	onchainData, err := h.payload.Get(ctx, ArtifactKey(internalID, ArtifactStateDiff))
	if err != nil {
		return nil, fmt.Errorf("state diff missing for block %s: %w", internalID, err)
	}
	payload.OnchainData = onchainData
	payload.OnchainDataSize = uint64(len(onchainData))
	return payload, nil
}
