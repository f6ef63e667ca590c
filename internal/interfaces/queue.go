package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/conductor/internal/models"
)

// Queue names used by the lifecycle engine. The dead-letter queue feeds
// HandleJobFailure.
const (
	JobProcessingQueue   = "job_processing_queue"
	JobVerificationQueue = "job_verification_queue"
	JobDeadLetterQueue   = "job_dead_letter_queue"
)

// Delivery is a consumed message with its acknowledgement handle.
type Delivery interface {
	// Message returns the decoded payload.
	Message() models.JobQueueMessage
	// ReceiveCount is the number of times this message has been delivered,
	// including this delivery.
	ReceiveCount() int
	// Ack removes the message from the queue.
	Ack() error
	// Nack makes the message immediately visible for redelivery.
	Nack() error
	// DeadLetter removes the message from its queue and routes it to the
	// dead-letter queue with the given reason.
	DeadLetter(reason string) error
}

// JobQueue is an at-least-once broker with visibility delay. Ordering across
// messages is not guaranteed; consumers must tolerate double delivery.
type JobQueue interface {
	// Enqueue publishes a message that must not be delivered before the
	// delay elapses. A zero delay means immediately visible.
	Enqueue(ctx context.Context, queue string, msg models.JobQueueMessage, delay time.Duration) error

	// Consume claims one visible message, or returns models.ErrNoMessage.
	// A claimed message stays invisible for the configured visibility
	// timeout unless acked, nacked or dead-lettered first.
	Consume(ctx context.Context, queue string) (Delivery, error)

	Close() error
}
