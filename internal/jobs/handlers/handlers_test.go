package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/jobs"
	"github.com/ternarybob/conductor/internal/models"
)

// mapPayloadStore is an in-memory payload store for handler tests.
type mapPayloadStore struct {
	data map[string][]byte
}

func newMapPayloadStore() *mapPayloadStore {
	return &mapPayloadStore{data: make(map[string][]byte)}
}

func (s *mapPayloadStore) Put(ctx context.Context, key string, data []byte) error {
	s.data[key] = data
	return nil
}

func (s *mapPayloadStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := s.data[key]
	if !ok {
		return nil, models.ErrPayloadNotFound
	}
	return data, nil
}

func (s *mapPayloadStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := s.data[key]
	return ok, nil
}

type fakeDA struct {
	published   [][]byte
	status      interfaces.DAVerificationStatus
	maxBlobs    int
	maxBlobSize int
}

func (c *fakeDA) PublishStateDiff(ctx context.Context, blobs [][]byte) (string, error) {
	c.published = blobs
	return "submission-1", nil
}

func (c *fakeDA) VerifyInclusion(ctx context.Context, externalID string) (interfaces.DAVerificationStatus, error) {
	return c.status, nil
}

func (c *fakeDA) MaxBlobPerTxn() int   { return c.maxBlobs }
func (c *fakeDA) MaxBytesPerBlob() int { return c.maxBlobSize }

type fakeProver struct {
	status interfaces.ProverTaskStatus
	proof  []byte
}

func (c *fakeProver) SubmitTask(ctx context.Context, programOutput []byte) (string, error) {
	return "task-1", nil
}

func (c *fakeProver) GetTaskStatus(ctx context.Context, taskID string) (interfaces.ProverTaskStatus, error) {
	return c.status, nil
}

func (c *fakeProver) FetchProof(ctx context.Context, taskID string) ([]byte, error) {
	return c.proof, nil
}

type fakeChain struct {
	update *interfaces.StateUpdate
}

func (c *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	return c.update.BlockNumber, nil
}

func (c *fakeChain) GetStateUpdate(ctx context.Context, blockNumber uint64) (*interfaces.StateUpdate, error) {
	return c.update, nil
}

func (c *fakeChain) GetNonce(ctx context.Context, contractAddress string) (uint64, error) {
	return 0, nil
}

func testJobsConfig() *common.JobsConfig {
	cfg := common.NewDefaultConfig()
	return &cfg.Jobs
}

func TestChunkBlobs(t *testing.T) {
	blobs := chunkBlobs(make([]byte, 10), 4)
	require.Len(t, blobs, 3)
	assert.Len(t, blobs[0], 4)
	assert.Len(t, blobs[1], 4)
	assert.Len(t, blobs[2], 2)

	// Data within the limit stays a single blob
	blobs = chunkBlobs(make([]byte, 4), 4)
	assert.Len(t, blobs, 1)
}

func TestPolicyFor(t *testing.T) {
	cfg := testJobsConfig()

	policy := policyFor(cfg, models.JobTypeProofCreation)
	assert.Equal(t, uint64(2), policy.MaxProcessAttempts())
	assert.Equal(t, uint64(300), policy.MaxVerificationAttempts())
	assert.Equal(t, time.Minute, policy.VerificationPollingDelay())

	// Unconfigured types fall back to defaults
	policy = policyFor(&common.JobsConfig{}, models.JobTypeSnosRun)
	assert.Equal(t, uint64(2), policy.MaxProcessAttempts())
	assert.Equal(t, 30*time.Second, policy.VerificationPollingDelay())
}

func TestSnosHandlerProcessStoresArtifact(t *testing.T) {
	payload := newMapPayloadStore()
	chain := &fakeChain{update: &interfaces.StateUpdate{BlockNumber: 42, BlockHash: "0xabc"}}
	handler := NewSnosHandler(testJobsConfig(), chain, payload, common.GetLogger())
	ctx := context.Background()

	job, err := handler.CreateJob(ctx, "42", nil)
	require.NoError(t, err)

	externalID, err := handler.ProcessJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, "42", externalID.String())

	exists, err := payload.Exists(ctx, ArtifactKey("42", ArtifactSnosOutput))
	require.NoError(t, err)
	assert.True(t, exists)

	result, err := handler.VerifyJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, jobs.VerificationVerified, result.Status)
}

func TestSnosHandlerRejectsPendingBlock(t *testing.T) {
	payload := newMapPayloadStore()
	chain := &fakeChain{update: &interfaces.StateUpdate{BlockNumber: 42, Pending: true}}
	handler := NewSnosHandler(testJobsConfig(), chain, payload, common.GetLogger())

	job, err := handler.CreateJob(context.Background(), "42", nil)
	require.NoError(t, err)

	_, err = handler.ProcessJob(context.Background(), job)
	assert.Error(t, err)
}

func TestProvingHandlerStoresProofOnSuccess(t *testing.T) {
	payload := newMapPayloadStore()
	require.NoError(t, payload.Put(context.Background(), ArtifactKey("7", ArtifactSnosOutput), []byte("artifact")))

	prover := &fakeProver{status: interfaces.ProverTaskSucceeded, proof: []byte("proof-bytes")}
	handler := NewProvingHandler(testJobsConfig(), prover, payload, common.GetLogger())
	ctx := context.Background()

	job, err := handler.CreateJob(ctx, "7", nil)
	require.NoError(t, err)

	externalID, err := handler.ProcessJob(ctx, job)
	require.NoError(t, err)
	job.ExternalID = externalID

	result, err := handler.VerifyJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, jobs.VerificationVerified, result.Status)

	proof, err := payload.Get(ctx, ArtifactKey("7", ArtifactProof))
	require.NoError(t, err)
	assert.Equal(t, []byte("proof-bytes"), proof)
}

func TestProvingHandlerMissingArtifact(t *testing.T) {
	handler := NewProvingHandler(testJobsConfig(), &fakeProver{}, newMapPayloadStore(), common.GetLogger())

	job, err := handler.CreateJob(context.Background(), "7", nil)
	require.NoError(t, err)

	_, err = handler.ProcessJob(context.Background(), job)
	assert.ErrorIs(t, err, models.ErrPayloadNotFound)
}

func TestDataSubmissionHandlerChunksAndPublishes(t *testing.T) {
	payload := newMapPayloadStore()
	chain := &fakeChain{update: &interfaces.StateUpdate{
		BlockNumber: 3,
		BlockHash:   "0xabc",
		StateDiff: []interfaces.ContractStateDiff{
			{Address: "0x1", StorageEntries: []interfaces.StorageEntry{{Key: "0x2", Value: "0x3"}}},
		},
	}}
	da := &fakeDA{status: interfaces.DAVerificationVerified, maxBlobs: 6, maxBlobSize: 16}
	handler := NewDataSubmissionHandler(testJobsConfig(), chain, da, payload, common.GetLogger())
	ctx := context.Background()

	job, err := handler.CreateJob(ctx, "3", nil)
	require.NoError(t, err)

	externalID, err := handler.ProcessJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, "submission-1", externalID.String())
	assert.NotEmpty(t, da.published)
	for _, blob := range da.published {
		assert.LessOrEqual(t, len(blob), 16)
	}

	job.ExternalID = externalID
	result, err := handler.VerifyJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, jobs.VerificationVerified, result.Status)
}

func TestDataSubmissionHandlerBlobLimitExceeded(t *testing.T) {
	payload := newMapPayloadStore()
	chain := &fakeChain{update: &interfaces.StateUpdate{
		BlockNumber: 3,
		BlockHash:   "0xabc",
		StateDiff: []interfaces.ContractStateDiff{
			{Address: "0x1", StorageEntries: []interfaces.StorageEntry{{Key: "0x2", Value: "0x3"}}},
		},
	}}
	// One-byte blobs force more chunks than a single submission allows
	da := &fakeDA{maxBlobs: 2, maxBlobSize: 1}
	handler := NewDataSubmissionHandler(testJobsConfig(), chain, da, payload, common.GetLogger())

	job, err := handler.CreateJob(context.Background(), "3", nil)
	require.NoError(t, err)

	_, err = handler.ProcessJob(context.Background(), job)
	assert.Error(t, err)
	assert.Empty(t, da.published)
}
