package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/conductor/internal/models"
)

// VerificationStatus is the outcome of polling a stage's external service.
type VerificationStatus string

const (
	VerificationVerified VerificationStatus = "Verified"
	VerificationRejected VerificationStatus = "Rejected"
	VerificationPending  VerificationStatus = "Pending"
)

// VerificationResult pairs the poll outcome with a rejection reason.
type VerificationResult struct {
	Status VerificationStatus
	Reason string
}

// Handler implements one pipeline stage. Handlers perform the external side
// effects; they never mutate the job record directly. Idempotency on
// (job_type, internal_id) is the handler's responsibility.
type Handler interface {
	// CreateJob constructs (but does not persist) the initial record for the
	// given correlation key. Handlers may embed stage-specific metadata.
	CreateJob(ctx context.Context, internalID string, metadata map[string]string) (*models.JobItem, error)

	// ProcessJob performs the stage's external side effect and returns the
	// opaque handle the external service assigned.
	ProcessJob(ctx context.Context, job *models.JobItem) (models.ExternalID, error)

	// VerifyJob polls the external service using the job's external id.
	VerifyJob(ctx context.Context, job *models.JobItem) (VerificationResult, error)

	// MaxProcessAttempts caps re-processing after rejected verifications.
	MaxProcessAttempts() uint64

	// MaxVerificationAttempts caps verification polls before timeout.
	MaxVerificationAttempts() uint64

	// VerificationPollingDelay is the re-enqueue delay for pending
	// verifications.
	VerificationPollingDelay() time.Duration
}

// Registry resolves a job type to its stage handler. Registration happens
// once at startup; lookups are read-only afterwards.
type Registry struct {
	handlers map[models.JobType]Handler
}

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[models.JobType]Handler),
	}
}

// Register binds a handler to a job type, replacing any previous binding
func (r *Registry) Register(jobType models.JobType, handler Handler) {
	r.handlers[jobType] = handler
}

// Get resolves the handler for a job type, or fails with ErrUnknownJobType
func (r *Registry) Get(jobType models.JobType) (Handler, error) {
	handler, ok := r.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
	return handler, nil
}
