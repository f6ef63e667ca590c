package queue

import (
	"context"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

func newTestQueue(t *testing.T, visibilityTimeout time.Duration, maxReceive int) *BadgerQueue {
	t.Helper()

	opts := badgerdb.DefaultOptions(t.TempDir())
	opts.Logger = nil
	db, err := badgerdb.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	q, err := NewBadgerQueue(db, visibilityTimeout, maxReceive, common.GetLogger())
	require.NoError(t, err)
	return q
}

func TestEnqueueConsumeAck(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	msg := models.JobQueueMessage{ID: "job-1"}
	require.NoError(t, q.Enqueue(ctx, interfaces.JobProcessingQueue, msg, 0))

	delivery, err := q.Consume(ctx, interfaces.JobProcessingQueue)
	require.NoError(t, err)
	assert.Equal(t, "job-1", delivery.Message().ID)
	assert.Equal(t, 1, delivery.ReceiveCount())

	// Claimed message is invisible to a second consumer
	_, err = q.Consume(ctx, interfaces.JobProcessingQueue)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	require.NoError(t, delivery.Ack())
	_, err = q.Consume(ctx, interfaces.JobProcessingQueue)
	assert.ErrorIs(t, err, models.ErrNoMessage)
}

func TestEnqueueWithDelay(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	msg := models.JobQueueMessage{ID: "job-1"}
	require.NoError(t, q.Enqueue(ctx, interfaces.JobVerificationQueue, msg, 150*time.Millisecond))

	_, err := q.Consume(ctx, interfaces.JobVerificationQueue)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	time.Sleep(200 * time.Millisecond)

	delivery, err := q.Consume(ctx, interfaces.JobVerificationQueue)
	require.NoError(t, err)
	assert.Equal(t, "job-1", delivery.Message().ID)
}

func TestNackMakesMessageVisible(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, interfaces.JobProcessingQueue, models.JobQueueMessage{ID: "job-1"}, 0))

	delivery, err := q.Consume(ctx, interfaces.JobProcessingQueue)
	require.NoError(t, err)
	require.NoError(t, delivery.Nack())

	redelivered, err := q.Consume(ctx, interfaces.JobProcessingQueue)
	require.NoError(t, err)
	assert.Equal(t, "job-1", redelivered.Message().ID)
	assert.Equal(t, 2, redelivered.ReceiveCount())
}

func TestVisibilityTimeoutRedelivery(t *testing.T) {
	q := newTestQueue(t, 100*time.Millisecond, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, interfaces.JobProcessingQueue, models.JobQueueMessage{ID: "job-1"}, 0))

	_, err := q.Consume(ctx, interfaces.JobProcessingQueue)
	require.NoError(t, err)

	// Unacked claim expires and the message becomes visible again
	time.Sleep(150 * time.Millisecond)

	redelivered, err := q.Consume(ctx, interfaces.JobProcessingQueue)
	require.NoError(t, err)
	assert.Equal(t, 2, redelivered.ReceiveCount())
}

func TestDeadLetterRouting(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, interfaces.JobProcessingQueue, models.JobQueueMessage{ID: "job-1"}, 0))

	delivery, err := q.Consume(ctx, interfaces.JobProcessingQueue)
	require.NoError(t, err)
	require.NoError(t, delivery.DeadLetter("handler kept failing"))

	// Gone from the source queue, visible on the dead-letter queue
	_, err = q.Consume(ctx, interfaces.JobProcessingQueue)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	dead, err := q.Consume(ctx, interfaces.JobDeadLetterQueue)
	require.NoError(t, err)
	assert.Equal(t, "job-1", dead.Message().ID)
	assert.Equal(t, 1, dead.ReceiveCount())
}

func TestDeliveryLimitMovesToDeadLetter(t *testing.T) {
	q := newTestQueue(t, time.Millisecond, 2)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, interfaces.JobProcessingQueue, models.JobQueueMessage{ID: "job-1"}, 0))

	// Burn through the delivery limit without acking
	for i := 0; i < 2; i++ {
		_, err := q.Consume(ctx, interfaces.JobProcessingQueue)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	// The next consume finds the exhausted message and evicts it
	_, err := q.Consume(ctx, interfaces.JobProcessingQueue)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	dead, err := q.Consume(ctx, interfaces.JobDeadLetterQueue)
	require.NoError(t, err)
	assert.Equal(t, "job-1", dead.Message().ID)
}

func TestEvictionCommitsWhenQueueDrains(t *testing.T) {
	q := newTestQueue(t, time.Millisecond, 1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, interfaces.JobProcessingQueue, models.JobQueueMessage{ID: "job-1"}, 0))

	_, err := q.Consume(ctx, interfaces.JobProcessingQueue)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	// The only message left is exhausted: this consume evicts it and comes
	// back empty. The eviction must stick even though nothing was delivered.
	_, err = q.Consume(ctx, interfaces.JobProcessingQueue)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	// If the eviction had been rolled back the message would be found and
	// re-evicted here instead of the queue staying empty
	_, err = q.Consume(ctx, interfaces.JobProcessingQueue)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	dead, err := q.Consume(ctx, interfaces.JobDeadLetterQueue)
	require.NoError(t, err)
	assert.Equal(t, "job-1", dead.Message().ID)
}
