package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/jobs"
	"github.com/ternarybob/conductor/internal/models"
)

// Lifecycle is the part of the job engine the consumers drive.
type Lifecycle interface {
	ProcessJob(ctx context.Context, id string) error
	VerifyJob(ctx context.Context, id string) error
	HandleJobFailure(ctx context.Context, id string) error
}

// Consumer runs one poll loop per queue: the processing queue feeds
// ProcessJob, the verification queue feeds VerifyJob and the dead-letter
// queue feeds HandleJobFailure.
type Consumer struct {
	queue        interfaces.JobQueue
	engine       Lifecycle
	pollInterval time.Duration
	logger       arbor.ILogger
	wg           sync.WaitGroup
}

// NewConsumer creates the queue consumer set
func NewConsumer(queue interfaces.JobQueue, engine Lifecycle, pollInterval time.Duration, logger arbor.ILogger) *Consumer {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Consumer{
		queue:        queue,
		engine:       engine,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Start launches the three poll loops. They stop when the context is
// cancelled; Wait blocks until all of them have drained.
func (c *Consumer) Start(ctx context.Context) {
	loops := []struct {
		queue  string
		handle func(context.Context, string) error
	}{
		{interfaces.JobProcessingQueue, c.engine.ProcessJob},
		{interfaces.JobVerificationQueue, c.engine.VerifyJob},
		{interfaces.JobDeadLetterQueue, c.engine.HandleJobFailure},
	}

	for _, loop := range loops {
		c.wg.Add(1)
		go func(queueName string, handle func(context.Context, string) error) {
			defer c.wg.Done()
			c.run(ctx, queueName, handle)
		}(loop.queue, loop.handle)
	}
}

// Wait blocks until every poll loop has exited
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context, queueName string, handle func(context.Context, string) error) {
	c.logger.Debug().Str("queue", queueName).Msg("Queue consumer started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug().Str("queue", queueName).Msg("Queue consumer stopped")
			return
		default:
		}

		delivery, err := c.queue.Consume(ctx, queueName)
		if err != nil {
			if !errors.Is(err, models.ErrNoMessage) {
				c.logger.Error().Err(err).Str("queue", queueName).Msg("Failed to consume message")
			}
			select {
			case <-ctx.Done():
				c.logger.Debug().Str("queue", queueName).Msg("Queue consumer stopped")
				return
			case <-time.After(c.pollInterval):
			}
			continue
		}

		c.dispatch(ctx, queueName, delivery, handle)
	}
}

// dispatch runs one lifecycle call and settles the message according to the
// redelivery policy: invalid state acks (expected duplicate delivery),
// unknown ids nack once then dead-letter, registry misses dead-letter
// immediately, everything else nacks and leaves eviction to the broker's
// delivery limit.
func (c *Consumer) dispatch(ctx context.Context, queueName string, delivery interfaces.Delivery, handle func(context.Context, string) error) {
	jobID := delivery.Message().ID
	err := handle(ctx, jobID)

	switch {
	case err == nil:
		if aerr := delivery.Ack(); aerr != nil {
			c.logger.Error().Err(aerr).Str("queue", queueName).Str("job_id", jobID).Msg("Failed to ack message")
		}

	case errors.Is(err, jobs.ErrInvalidState):
		c.logger.Debug().Err(err).Str("queue", queueName).Str("job_id", jobID).Msg("Dropping message for job in unexpected state")
		if aerr := delivery.Ack(); aerr != nil {
			c.logger.Error().Err(aerr).Str("queue", queueName).Str("job_id", jobID).Msg("Failed to ack message")
		}

	case errors.Is(err, jobs.ErrUnknownJobType):
		c.logger.Error().Err(err).Str("queue", queueName).Str("job_id", jobID).Msg("Dead-lettering message for unknown job type")
		if derr := delivery.DeadLetter(err.Error()); derr != nil {
			c.logger.Error().Err(derr).Str("queue", queueName).Str("job_id", jobID).Msg("Failed to dead-letter message")
		}

	case errors.Is(err, models.ErrJobNotFound):
		if delivery.ReceiveCount() >= 2 {
			c.logger.Error().Err(err).Str("queue", queueName).Str("job_id", jobID).Msg("Dead-lettering message for unknown job")
			if derr := delivery.DeadLetter(err.Error()); derr != nil {
				c.logger.Error().Err(derr).Str("queue", queueName).Str("job_id", jobID).Msg("Failed to dead-letter message")
			}
			return
		}
		c.logger.Warn().Err(err).Str("queue", queueName).Str("job_id", jobID).Msg("Job not found, retrying once")
		if nerr := delivery.Nack(); nerr != nil {
			c.logger.Error().Err(nerr).Str("queue", queueName).Str("job_id", jobID).Msg("Failed to nack message")
		}

	default:
		c.logger.Warn().Err(err).Str("queue", queueName).Str("job_id", jobID).Int("receive_count", delivery.ReceiveCount()).Msg("Lifecycle call failed, retrying")
		if nerr := delivery.Nack(); nerr != nil {
			c.logger.Error().Err(nerr).Str("queue", queueName).Str("job_id", jobID).Msg("Failed to nack message")
		}
	}
}
