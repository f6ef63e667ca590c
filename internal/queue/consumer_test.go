package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/jobs"
	"github.com/ternarybob/conductor/internal/models"
)

type fakeLifecycle struct {
	processErr error
	calls      int
}

func (f *fakeLifecycle) ProcessJob(ctx context.Context, id string) error {
	f.calls++
	return f.processErr
}

func (f *fakeLifecycle) VerifyJob(ctx context.Context, id string) error {
	return nil
}

func (f *fakeLifecycle) HandleJobFailure(ctx context.Context, id string) error {
	return nil
}

func newConsumerQueue(t *testing.T) *BadgerQueue {
	t.Helper()
	opts := badgerdb.DefaultOptions(t.TempDir())
	opts.Logger = nil
	db, err := badgerdb.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	q, err := NewBadgerQueue(db, time.Minute, 3, common.GetLogger())
	require.NoError(t, err)
	return q
}

func TestDispatchAcksOnSuccess(t *testing.T) {
	q := newConsumerQueue(t)
	lifecycle := &fakeLifecycle{}
	c := NewConsumer(q, lifecycle, time.Second, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, interfaces.JobProcessingQueue, models.JobQueueMessage{ID: "job-1"}, 0))
	delivery, err := q.Consume(ctx, interfaces.JobProcessingQueue)
	require.NoError(t, err)

	c.dispatch(ctx, interfaces.JobProcessingQueue, delivery, lifecycle.ProcessJob)
	assert.Equal(t, 1, lifecycle.calls)

	_, err = q.Consume(ctx, interfaces.JobProcessingQueue)
	assert.ErrorIs(t, err, models.ErrNoMessage)
}

func TestDispatchAcksOnInvalidState(t *testing.T) {
	q := newConsumerQueue(t)
	lifecycle := &fakeLifecycle{processErr: jobs.ErrInvalidState}
	c := NewConsumer(q, lifecycle, time.Second, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, interfaces.JobProcessingQueue, models.JobQueueMessage{ID: "job-1"}, 0))
	delivery, err := q.Consume(ctx, interfaces.JobProcessingQueue)
	require.NoError(t, err)

	c.dispatch(ctx, interfaces.JobProcessingQueue, delivery, lifecycle.ProcessJob)

	// Duplicate delivery outcome: the message is gone, nothing dead-lettered
	_, err = q.Consume(ctx, interfaces.JobProcessingQueue)
	assert.ErrorIs(t, err, models.ErrNoMessage)
	_, err = q.Consume(ctx, interfaces.JobDeadLetterQueue)
	assert.ErrorIs(t, err, models.ErrNoMessage)
}

func TestDispatchNacksOnTransientError(t *testing.T) {
	q := newConsumerQueue(t)
	lifecycle := &fakeLifecycle{processErr: errors.New("store briefly down")}
	c := NewConsumer(q, lifecycle, time.Second, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, interfaces.JobProcessingQueue, models.JobQueueMessage{ID: "job-1"}, 0))
	delivery, err := q.Consume(ctx, interfaces.JobProcessingQueue)
	require.NoError(t, err)

	c.dispatch(ctx, interfaces.JobProcessingQueue, delivery, lifecycle.ProcessJob)

	// Nacked message is immediately redeliverable
	redelivered, err := q.Consume(ctx, interfaces.JobProcessingQueue)
	require.NoError(t, err)
	assert.Equal(t, 2, redelivered.ReceiveCount())
}

func TestDispatchDeadLettersUnknownJobAfterRetry(t *testing.T) {
	q := newConsumerQueue(t)
	lifecycle := &fakeLifecycle{processErr: models.ErrJobNotFound}
	c := NewConsumer(q, lifecycle, time.Second, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, interfaces.JobProcessingQueue, models.JobQueueMessage{ID: "job-1"}, 0))

	// First delivery nacks, second dead-letters
	delivery, err := q.Consume(ctx, interfaces.JobProcessingQueue)
	require.NoError(t, err)
	c.dispatch(ctx, interfaces.JobProcessingQueue, delivery, lifecycle.ProcessJob)

	delivery, err = q.Consume(ctx, interfaces.JobProcessingQueue)
	require.NoError(t, err)
	c.dispatch(ctx, interfaces.JobProcessingQueue, delivery, lifecycle.ProcessJob)

	_, err = q.Consume(ctx, interfaces.JobProcessingQueue)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	dead, err := q.Consume(ctx, interfaces.JobDeadLetterQueue)
	require.NoError(t, err)
	assert.Equal(t, "job-1", dead.Message().ID)
}
