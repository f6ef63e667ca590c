package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// storedMessage is the internal envelope persisted in Badger
type storedMessage struct {
	ID           string                 `json:"id"`
	Body         models.JobQueueMessage `json:"body"`
	EnqueuedAt   time.Time              `json:"enqueued_at"`
	VisibleAt    time.Time              `json:"visible_at"`
	ReceiveCount int                    `json:"receive_count"`
	Reason       string                 `json:"reason,omitempty"` // Set when moved to the dead-letter queue
}

// BadgerQueue implements a persistent multi-queue broker on BadgerDB. Each
// named queue keeps message bodies under queue:{name}:msg:{id} and a
// visibility index under queue:{name}:index:{timestamp}:{id}; the zero-padded
// timestamp makes lexicographic key order equal delivery order, so a prefix
// scan finds the next visible message without touching the rest.
type BadgerQueue struct {
	db                *badgerdb.DB
	visibilityTimeout time.Duration
	maxReceive        int
	logger            arbor.ILogger
}

// NewBadgerQueue creates a Badger-backed queue broker. The database is shared
// with the job store and managed externally.
func NewBadgerQueue(db *badgerdb.DB, visibilityTimeout time.Duration, maxReceive int, logger arbor.ILogger) (*BadgerQueue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 3
	}

	return &BadgerQueue{
		db:                db,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		logger:            logger,
	}, nil
}

// Enqueue publishes a message to the named queue. The message becomes visible
// to consumers after the delay elapses; a zero delay means immediately.
func (q *BadgerQueue) Enqueue(ctx context.Context, queueName string, msg models.JobQueueMessage, delay time.Duration) error {
	id := uuid.New().String()
	now := time.Now()

	stored := storedMessage{
		ID:           id,
		Body:         msg,
		EnqueuedAt:   now,
		VisibleAt:    now.Add(delay),
		ReceiveCount: 0,
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	err = q.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(msgKey(queueName, id), data); err != nil {
			return err
		}
		return txn.Set(indexKey(queueName, stored.VisibleAt, id), []byte{})
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue message on %s: %w", queueName, err)
	}

	q.logger.Trace().
		Str("queue", queueName).
		Str("message_id", id).
		Str("job_id", msg.ID).
		Str("delay", delay.String()).
		Msg("Message enqueued")
	return nil
}

// Consume claims the next visible message from the named queue, or returns
// models.ErrNoMessage when none is ready. A claimed message stays invisible
// for the visibility timeout. Messages that exceed the delivery limit are
// moved to the dead-letter queue instead of being delivered again.
func (q *BadgerQueue) Consume(ctx context.Context, queueName string) (interfaces.Delivery, error) {
	var claimed storedMessage
	found := false

	err := q.db.Update(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := indexPrefix(queueName)
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := parseIndexKey(queueName, key)
			if err != nil {
				continue
			}
			if ts.After(now) {
				// Keys sort by timestamp, so nothing after this one is
				// visible either.
				break
			}

			item, err := txn.Get(msgKey(queueName, id))
			if err != nil {
				if errors.Is(err, badgerdb.ErrKeyNotFound) {
					// Orphaned index entry, clean it up and keep scanning
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			var stored storedMessage
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				return err
			}

			if stored.ReceiveCount >= q.maxReceive {
				if err := q.evictInTxn(txn, queueName, key, stored); err != nil {
					return err
				}
				continue
			}

			// Claim: bump the receive count and push visibility out
			stored.ReceiveCount++
			stored.VisibleAt = now.Add(q.visibilityTimeout)

			data, err := json.Marshal(stored)
			if err != nil {
				return err
			}
			if err := txn.Set(msgKey(queueName, id), data); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(indexKey(queueName, stored.VisibleAt, id), []byte{}); err != nil {
				return err
			}

			claimed = stored
			found = true
			return nil
		}

		// No visible message. The closure must still return nil so that
		// evictions and orphan cleanups done during the scan commit.
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, models.ErrNoMessage
	}

	return &delivery{
		queue:     q,
		queueName: queueName,
		stored:    claimed,
	}, nil
}

// Close is a no-op: the underlying database is managed externally
func (q *BadgerQueue) Close() error {
	return nil
}

// evictInTxn removes a poisoned message from its queue. Messages from normal
// queues move to the dead-letter queue; messages already on the dead-letter
// queue are dropped to prevent a loop.
func (q *BadgerQueue) evictInTxn(txn *badgerdb.Txn, queueName string, idxKey []byte, stored storedMessage) error {
	if err := txn.Delete(idxKey); err != nil {
		return err
	}
	if err := txn.Delete(msgKey(queueName, stored.ID)); err != nil {
		return err
	}

	if queueName == interfaces.JobDeadLetterQueue {
		q.logger.Warn().
			Str("message_id", stored.ID).
			Str("job_id", stored.Body.ID).
			Msg("Dropping poisoned dead-letter message")
		return nil
	}

	q.logger.Warn().
		Str("queue", queueName).
		Str("message_id", stored.ID).
		Str("job_id", stored.Body.ID).
		Int("receive_count", stored.ReceiveCount).
		Msg("Delivery limit reached, moving message to dead-letter queue")

	dead := storedMessage{
		ID:           stored.ID,
		Body:         stored.Body,
		EnqueuedAt:   time.Now(),
		VisibleAt:    time.Now(),
		ReceiveCount: 0,
		Reason:       fmt.Sprintf("delivery limit reached on %s", queueName),
	}
	data, err := json.Marshal(dead)
	if err != nil {
		return err
	}
	if err := txn.Set(msgKey(interfaces.JobDeadLetterQueue, dead.ID), data); err != nil {
		return err
	}
	return txn.Set(indexKey(interfaces.JobDeadLetterQueue, dead.VisibleAt, dead.ID), []byte{})
}

// delivery is the acknowledgement handle for one claimed message
type delivery struct {
	queue     *BadgerQueue
	queueName string
	stored    storedMessage
}

func (d *delivery) Message() models.JobQueueMessage {
	return d.stored.Body
}

func (d *delivery) ReceiveCount() int {
	return d.stored.ReceiveCount
}

// Ack removes the message from the queue
func (d *delivery) Ack() error {
	return d.queue.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Delete(indexKey(d.queueName, d.stored.VisibleAt, d.stored.ID)); err != nil &&
			!errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		if err := txn.Delete(msgKey(d.queueName, d.stored.ID)); err != nil &&
			!errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		return nil
	})
}

// Nack makes the message immediately visible for redelivery
func (d *delivery) Nack() error {
	return d.queue.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(msgKey(d.queueName, d.stored.ID))
		if err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return nil // Already gone
			}
			return err
		}

		var stored storedMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		}); err != nil {
			return err
		}

		oldVisibleAt := stored.VisibleAt
		stored.VisibleAt = time.Now()

		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		if err := txn.Set(msgKey(d.queueName, stored.ID), data); err != nil {
			return err
		}
		if err := txn.Delete(indexKey(d.queueName, oldVisibleAt, stored.ID)); err != nil &&
			!errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		return txn.Set(indexKey(d.queueName, stored.VisibleAt, stored.ID), []byte{})
	})
}

// DeadLetter removes the message from its queue and publishes it to the
// dead-letter queue with the given reason.
func (d *delivery) DeadLetter(reason string) error {
	return d.queue.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Delete(indexKey(d.queueName, d.stored.VisibleAt, d.stored.ID)); err != nil &&
			!errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		if err := txn.Delete(msgKey(d.queueName, d.stored.ID)); err != nil &&
			!errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}

		if d.queueName == interfaces.JobDeadLetterQueue {
			// Already on the dead-letter queue, dropping is final
			d.queue.logger.Warn().
				Str("message_id", d.stored.ID).
				Str("job_id", d.stored.Body.ID).
				Str("reason", reason).
				Msg("Dropping message from dead-letter queue")
			return nil
		}

		dead := storedMessage{
			ID:           d.stored.ID,
			Body:         d.stored.Body,
			EnqueuedAt:   time.Now(),
			VisibleAt:    time.Now(),
			ReceiveCount: 0,
			Reason:       reason,
		}
		data, err := json.Marshal(dead)
		if err != nil {
			return err
		}
		if err := txn.Set(msgKey(interfaces.JobDeadLetterQueue, dead.ID), data); err != nil {
			return err
		}
		return txn.Set(indexKey(interfaces.JobDeadLetterQueue, dead.VisibleAt, dead.ID), []byte{})
	})
}

// Key helpers

func msgKey(queueName, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", queueName, id))
}

func indexPrefix(queueName string) []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", queueName))
}

func indexKey(queueName string, visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so string sorting matches numeric sorting
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", queueName, visibleAt.UnixNano(), id))
}

func parseIndexKey(queueName string, key []byte) (time.Time, string, error) {
	prefix := indexPrefix(queueName)
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid index key length")
	}

	suffix := string(key[len(prefix):])
	if len(suffix) < 22 { // 20 digits + colon + at least one id character
		return time.Time{}, "", fmt.Errorf("invalid index key suffix")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts), suffix[21:], nil
}
