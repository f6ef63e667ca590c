package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/models"
)

func newTestStore(t *testing.T) *JobStore {
	t.Helper()

	db, err := NewBadgerDB(common.GetLogger(), &common.BadgerConfig{
		Path: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	return NewJobStore(db, common.GetLogger())
}

func TestCreateJobAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := models.NewJobItem(models.JobTypeSnosRun, "100", map[string]string{"process_attempt": "0"})
	require.NoError(t, store.CreateJob(ctx, job))

	got, err := store.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.JobStatusCreated, got.Status)
	assert.Equal(t, int64(0), got.Version)

	byKey, err := store.GetJobByInternalIDAndType(ctx, "100", models.JobTypeSnosRun)
	require.NoError(t, err)
	assert.Equal(t, job.ID, byKey.ID)
}

func TestCreateJobDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := models.NewJobItem(models.JobTypeSnosRun, "100", nil)
	require.NoError(t, store.CreateJob(ctx, first))

	// Same (type, internal_id), different id
	second := models.NewJobItem(models.JobTypeSnosRun, "100", nil)
	err := store.CreateJob(ctx, second)
	assert.ErrorIs(t, err, models.ErrDuplicateJob)

	// Same internal_id on a different type is fine
	other := models.NewJobItem(models.JobTypeProofCreation, "100", nil)
	assert.NoError(t, store.CreateJob(ctx, other))
}

func TestGetJobByIDNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetJobByID(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestUpdateJobIncrementsVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := models.NewJobItem(models.JobTypeSnosRun, "1", nil)
	require.NoError(t, store.CreateJob(ctx, job))

	locked, err := store.UpdateJobStatus(ctx, job, models.JobStatusLockedForProcessing)
	require.NoError(t, err)
	assert.Equal(t, int64(1), locked.Version)
	assert.Equal(t, models.JobStatusLockedForProcessing, locked.Status)

	externalID := models.StringExternalID("0xbeef")
	status := models.JobStatusPendingVerification
	updated, err := store.UpdateJob(ctx, locked, models.JobUpdate{
		Status:     &status,
		ExternalID: &externalID,
		Metadata:   map[string]string{"process_attempt": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "0xbeef", updated.ExternalID.String())
	assert.Equal(t, "1", updated.Metadata["process_attempt"])
}

func TestUpdateJobStaleVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := models.NewJobItem(models.JobTypeSnosRun, "1", nil)
	require.NoError(t, store.CreateJob(ctx, job))

	// First writer wins
	_, err := store.UpdateJobStatus(ctx, job, models.JobStatusLockedForProcessing)
	require.NoError(t, err)

	// Second writer still holds version 0
	_, err = store.UpdateJobStatus(ctx, job, models.JobStatusLockedForProcessing)
	assert.ErrorIs(t, err, models.ErrStaleVersion)

	// The losing write must not have touched the record
	got, err := store.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestLatestByTypeNumericOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Lexicographic ordering would pick "9" over "10"
	for _, id := range []string{"9", "10", "2"} {
		require.NoError(t, store.CreateJob(ctx, models.NewJobItem(models.JobTypeSnosRun, id, nil)))
	}

	latest, err := store.GetLatestJobByType(ctx, models.JobTypeSnosRun)
	require.NoError(t, err)
	assert.Equal(t, "10", latest.InternalID)

	_, err = store.GetLatestJobByType(ctx, models.JobTypeStateTransition)
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestLatestByTypeAndStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := models.NewJobItem(models.JobTypeStateTransition, "5", nil)
	require.NoError(t, store.CreateJob(ctx, a))
	_, err := store.UpdateJobStatus(ctx, a, models.JobStatusCompleted)
	require.NoError(t, err)

	// Higher block but not completed
	b := models.NewJobItem(models.JobTypeStateTransition, "6", nil)
	require.NoError(t, store.CreateJob(ctx, b))

	latest, err := store.GetLatestJobByTypeAndStatus(ctx, models.JobTypeStateTransition, models.JobStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, "5", latest.InternalID)
}

func TestJobsAfterInternalID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3", "10"} {
		require.NoError(t, store.CreateJob(ctx, models.NewJobItem(models.JobTypeProofCreation, id, nil)))
	}

	after, err := store.GetJobsAfterInternalIDByJobType(ctx, models.JobTypeProofCreation, "2")
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "3", after[0].InternalID)
	assert.Equal(t, "10", after[1].InternalID)
}

func TestJobsByStatuses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := models.NewJobItem(models.JobTypeSnosRun, "1", nil)
	require.NoError(t, store.CreateJob(ctx, a))
	_, err := store.UpdateJobStatus(ctx, a, models.JobStatusVerificationFailed)
	require.NoError(t, err)

	require.NoError(t, store.CreateJob(ctx, models.NewJobItem(models.JobTypeSnosRun, "2", nil)))

	failed, err := store.GetJobsByStatuses(ctx, []models.JobStatus{models.JobStatusVerificationFailed}, 1)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "1", failed[0].InternalID)

	none, err := store.GetJobsByStatuses(ctx, []models.JobStatus{models.JobStatusFailed}, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestJobsWithoutSuccessor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	complete := func(jobType models.JobType, internalID string) {
		job := models.NewJobItem(jobType, internalID, nil)
		require.NoError(t, store.CreateJob(ctx, job))
		_, err := store.UpdateJobStatus(ctx, job, models.JobStatusCompleted)
		require.NoError(t, err)
	}

	complete(models.JobTypeSnosRun, "1")
	complete(models.JobTypeSnosRun, "2")
	complete(models.JobTypeSnosRun, "3")

	// Block 1 already has its successor; block 2's is in flight, which still
	// counts as covered
	complete(models.JobTypeProofCreation, "1")
	require.NoError(t, store.CreateJob(ctx, models.NewJobItem(models.JobTypeProofCreation, "2", nil)))

	missing, err := store.GetJobsWithoutSuccessor(ctx, models.JobTypeSnosRun, models.JobStatusCompleted, models.JobTypeProofCreation)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "3", missing[0].InternalID)
}

func TestPayloadStoreRoundTrip(t *testing.T) {
	db, err := NewBadgerDB(common.GetLogger(), &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	payload := NewPayloadStore(db, common.GetLogger())
	ctx := context.Background()

	_, err = payload.Get(ctx, "42/snos_output")
	assert.ErrorIs(t, err, models.ErrPayloadNotFound)

	exists, err := payload.Exists(ctx, "42/snos_output")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, payload.Put(ctx, "42/snos_output", []byte("artifact")))

	data, err := payload.Get(ctx, "42/snos_output")
	require.NoError(t, err)
	assert.Equal(t, []byte("artifact"), data)

	exists, err = payload.Exists(ctx, "42/snos_output")
	require.NoError(t, err)
	assert.True(t, exists)
}
