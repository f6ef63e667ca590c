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

// DataSubmissionHandler publishes a block's state diff to the DA layer. The
// diff is chunked into blobs within the layer's per-blob size limit; blocks
// whose diff needs more blobs than one submission allows fail processing.
type DataSubmissionHandler struct {
	retryPolicy
	chain   interfaces.ChainClient
	da      interfaces.DAClient
	payload interfaces.PayloadStore
	logger  arbor.ILogger
}

// NewDataSubmissionHandler creates the DataSubmission stage handler
func NewDataSubmissionHandler(config *common.JobsConfig, chain interfaces.ChainClient, da interfaces.DAClient, payload interfaces.PayloadStore, logger arbor.ILogger) *DataSubmissionHandler {
	return &DataSubmissionHandler{
		retryPolicy: policyFor(config, models.JobTypeDataSubmission),
		chain:       chain,
		da:          da,
		payload:     payload,
		logger:      logger,
	}
}

func (h *DataSubmissionHandler) CreateJob(ctx context.Context, internalID string, metadata map[string]string) (*models.JobItem, error) {
	return models.NewJobItem(models.JobTypeDataSubmission, internalID, metadata), nil
}

func (h *DataSubmissionHandler) ProcessJob(ctx context.Context, job *models.JobItem) (models.ExternalID, error) {
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

	diff, err := json.Marshal(update.StateDiff)
	if err != nil {
		return models.ExternalID{}, fmt.Errorf("failed to encode state diff for block %d: %w", blockNumber, err)
	}
	if err := h.payload.Put(ctx, ArtifactKey(job.InternalID, ArtifactStateDiff), diff); err != nil {
		return models.ExternalID{}, fmt.Errorf("failed to store state diff for block %d: %w", blockNumber, err)
	}

	blobs := chunkBlobs(diff, h.da.MaxBytesPerBlob())
	if len(blobs) > h.da.MaxBlobPerTxn() {
		return models.ExternalID{}, fmt.Errorf("state diff for block %d needs %d blobs, limit is %d per submission",
			blockNumber, len(blobs), h.da.MaxBlobPerTxn())
	}

	submissionID, err := h.da.PublishStateDiff(ctx, blobs)
	if err != nil {
		return models.ExternalID{}, fmt.Errorf("failed to publish state diff for block %d: %w", blockNumber, err)
	}

	h.logger.Debug().
		Str("internal_id", job.InternalID).
		Str("submission_id", submissionID).
		Int("blobs", len(blobs)).
		Msg("State diff published")
	return models.StringExternalID(submissionID), nil
}

func (h *DataSubmissionHandler) VerifyJob(ctx context.Context, job *models.JobItem) (jobs.VerificationResult, error) {
	submissionID := job.ExternalID.String()
	if submissionID == "" {
		return jobs.VerificationResult{}, fmt.Errorf("job %s has no submission id", job.ID)
	}

	status, err := h.da.VerifyInclusion(ctx, submissionID)
	if err != nil {
		return jobs.VerificationResult{}, err
	}

	switch status {
	case interfaces.DAVerificationVerified:
		return jobs.VerificationResult{Status: jobs.VerificationVerified}, nil
	case interfaces.DAVerificationRejected:
		return jobs.VerificationResult{
			Status: jobs.VerificationRejected,
			Reason: fmt.Sprintf("da submission %s rejected", submissionID),
		}, nil
	default:
		return jobs.VerificationResult{Status: jobs.VerificationPending}, nil
	}
}

// chunkBlobs splits data into blobs of at most maxBytes each
func chunkBlobs(data []byte, maxBytes int) [][]byte {
	if maxBytes <= 0 {
		return [][]byte{data}
	}
	var blobs [][]byte
	for len(data) > maxBytes {
		blobs = append(blobs, data[:maxBytes])
		data = data[maxBytes:]
	}
	blobs = append(blobs, data)
	return blobs
}
