package workers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
	storage "github.com/ternarybob/conductor/internal/storage/badger"
	"github.com/ternarybob/conductor/internal/workers"
)

// fakeChain is a canned chain client for discovery tests.
type fakeChain struct {
	tip uint64
}

func (c *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	return c.tip, nil
}

func (c *fakeChain) GetStateUpdate(ctx context.Context, blockNumber uint64) (*interfaces.StateUpdate, error) {
	return &interfaces.StateUpdate{BlockNumber: blockNumber}, nil
}

func (c *fakeChain) GetNonce(ctx context.Context, contractAddress string) (uint64, error) {
	return 0, nil
}

// recordingCreator persists jobs like the engine would and records the order
// of creations.
type recordingCreator struct {
	store   *storage.JobStore
	created []string
}

func (c *recordingCreator) CreateJob(ctx context.Context, jobType models.JobType, internalID string, metadata map[string]string) (*models.JobItem, error) {
	job := models.NewJobItem(jobType, internalID, metadata)
	if err := c.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	c.created = append(c.created, string(jobType)+"/"+internalID)
	return job, nil
}

func newWorkerStore(t *testing.T) *storage.JobStore {
	t.Helper()
	db, err := storage.NewBadgerDB(common.GetLogger(), &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewJobStore(db, common.GetLogger())
}

func seedCompleted(t *testing.T, store *storage.JobStore, jobType models.JobType, internalID string) {
	t.Helper()
	job := models.NewJobItem(jobType, internalID, nil)
	require.NoError(t, store.CreateJob(context.Background(), job))
	_, err := store.UpdateJobStatus(context.Background(), job, models.JobStatusCompleted)
	require.NoError(t, err)
}

func TestSnosWorkerSchedulesToTip(t *testing.T) {
	store := newWorkerStore(t)
	creator := &recordingCreator{store: store}
	worker := workers.NewSnosWorker(&fakeChain{tip: 3}, store, creator, 0, common.GetLogger())

	require.NoError(t, worker.Run(context.Background()))
	assert.Equal(t, []string{"SnosRun/0", "SnosRun/1", "SnosRun/2", "SnosRun/3"}, creator.created)

	// A second tick with an unchanged tip schedules nothing new
	creator.created = nil
	require.NoError(t, worker.Run(context.Background()))
	assert.Empty(t, creator.created)
}

func TestSnosWorkerBatchCap(t *testing.T) {
	store := newWorkerStore(t)
	creator := &recordingCreator{store: store}
	worker := workers.NewSnosWorker(&fakeChain{tip: 9}, store, creator, 4, common.GetLogger())

	require.NoError(t, worker.Run(context.Background()))
	assert.Len(t, creator.created, 4)

	// The next tick resumes where the cap stopped
	require.NoError(t, worker.Run(context.Background()))
	assert.Len(t, creator.created, 8)
	assert.Equal(t, "SnosRun/7", creator.created[7])
}

func TestProvingWorkerCreatesSuccessors(t *testing.T) {
	store := newWorkerStore(t)
	ctx := context.Background()

	seedCompleted(t, store, models.JobTypeSnosRun, "1")
	seedCompleted(t, store, models.JobTypeSnosRun, "2")
	// Block 1 already has its proof job
	require.NoError(t, store.CreateJob(ctx, models.NewJobItem(models.JobTypeProofCreation, "1", nil)))

	creator := &recordingCreator{store: store}
	worker := workers.NewProvingWorker(store, creator, common.GetLogger())

	require.NoError(t, worker.Run(ctx))
	assert.Equal(t, []string{"ProofCreation/2"}, creator.created)
}

func TestUpdateStateWorkerWaitsForSeed(t *testing.T) {
	store := newWorkerStore(t)
	seedCompleted(t, store, models.JobTypeProofCreation, "1")

	creator := &recordingCreator{store: store}
	worker := workers.NewUpdateStateWorker(store, creator, common.GetLogger())

	require.NoError(t, worker.Run(context.Background()))
	assert.Empty(t, creator.created)
}

func TestUpdateStateWorkerSchedulesEveryCompletedProof(t *testing.T) {
	store := newWorkerStore(t)

	seedCompleted(t, store, models.JobTypeStateTransition, "5")
	seedCompleted(t, store, models.JobTypeProofCreation, "6")
	seedCompleted(t, store, models.JobTypeProofCreation, "7")
	// Block 8's proof is not done yet but block 9's is scheduled anyway
	seedCompleted(t, store, models.JobTypeProofCreation, "9")

	creator := &recordingCreator{store: store}
	worker := workers.NewUpdateStateWorker(store, creator, common.GetLogger())

	require.NoError(t, worker.Run(context.Background()))
	assert.Equal(t, []string{"StateTransition/6", "StateTransition/7", "StateTransition/9"}, creator.created)
}

func TestUpdateStateWorkerSkipsUnprovenAndExisting(t *testing.T) {
	store := newWorkerStore(t)
	ctx := context.Background()

	seedCompleted(t, store, models.JobTypeStateTransition, "5")
	seedCompleted(t, store, models.JobTypeProofCreation, "6")
	// Block 7's proof is still in flight
	require.NoError(t, store.CreateJob(ctx, models.NewJobItem(models.JobTypeProofCreation, "7", nil)))
	seedCompleted(t, store, models.JobTypeProofCreation, "8")
	// Block 8 already has its state transition
	require.NoError(t, store.CreateJob(ctx, models.NewJobItem(models.JobTypeStateTransition, "8", nil)))

	creator := &recordingCreator{store: store}
	worker := workers.NewUpdateStateWorker(store, creator, common.GetLogger())

	require.NoError(t, worker.Run(ctx))
	assert.Equal(t, []string{"StateTransition/6"}, creator.created)
}

func TestCreationHaltedGate(t *testing.T) {
	store := newWorkerStore(t)
	ctx := context.Background()

	halted, err := workers.CreationHalted(ctx, store)
	require.NoError(t, err)
	assert.False(t, halted)

	job := models.NewJobItem(models.JobTypeDataSubmission, "1", nil)
	require.NoError(t, store.CreateJob(ctx, job))
	_, err = store.UpdateJobStatus(ctx, job, models.JobStatusVerificationFailed)
	require.NoError(t, err)

	halted, err = workers.CreationHalted(ctx, store)
	require.NoError(t, err)
	assert.True(t, halted)
}
