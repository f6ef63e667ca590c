package interfaces

import (
	"context"

	"github.com/ternarybob/conductor/internal/models"
)

// JobStore is the sole authority on job state. Implementations must support
// optimistic locking: if two workers read the same job and both write, the
// second write must fail with models.ErrStaleVersion because its version of
// the record is outdated. No upserts.
type JobStore interface {
	// CreateJob inserts a new record. Fails with models.ErrDuplicateJob if a
	// record already exists for the same (job_type, internal_id).
	CreateJob(ctx context.Context, job *models.JobItem) error

	// GetJobByID returns the record or models.ErrJobNotFound.
	GetJobByID(ctx context.Context, id string) (*models.JobItem, error)

	// GetJobByInternalIDAndType is the unique (internal_id, job_type) lookup.
	GetJobByInternalIDAndType(ctx context.Context, internalID string, jobType models.JobType) (*models.JobItem, error)

	// UpdateJob applies the patch only if the stored record's version equals
	// current.Version, atomically incrementing the version. Fails with
	// models.ErrStaleVersion otherwise.
	UpdateJob(ctx context.Context, current *models.JobItem, update models.JobUpdate) (*models.JobItem, error)

	// UpdateJobStatus is a specialization of UpdateJob.
	UpdateJobStatus(ctx context.Context, job *models.JobItem, status models.JobStatus) (*models.JobItem, error)

	// UpdateJobMetadata is a specialization of UpdateJob.
	UpdateJobMetadata(ctx context.Context, job *models.JobItem, metadata map[string]string) (*models.JobItem, error)

	// GetLatestJobByType returns the record with the highest internal id
	// (numeric over decimal strings), or models.ErrJobNotFound.
	GetLatestJobByType(ctx context.Context, jobType models.JobType) (*models.JobItem, error)

	// GetLatestJobByTypeAndStatus is GetLatestJobByType narrowed to a status.
	GetLatestJobByTypeAndStatus(ctx context.Context, jobType models.JobType, status models.JobStatus) (*models.JobItem, error)

	// GetJobsAfterInternalIDByJobType returns all records of the type with
	// internal id greater than the given one, ascending.
	GetJobsAfterInternalIDByJobType(ctx context.Context, jobType models.JobType, internalID string) ([]*models.JobItem, error)

	// GetJobsByStatuses returns records matching any status in the set.
	// limit <= 0 means no limit.
	GetJobsByStatuses(ctx context.Context, statuses []models.JobStatus, limit int) ([]*models.JobItem, error)

	// GetJobsWithoutSuccessor returns every record of aType in aStatus that
	// has no record of bType sharing its internal id. This is the primary
	// discovery query.
	GetJobsWithoutSuccessor(ctx context.Context, aType models.JobType, aStatus models.JobStatus, bType models.JobType) ([]*models.JobItem, error)
}

// PayloadStore is the object store stage handlers use for artifacts: SNOS
// outputs, program outputs, state diffs. The orchestrator never inspects the
// bytes.
type PayloadStore interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns models.ErrPayloadNotFound for unknown keys.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether a payload is stored under the key.
	Exists(ctx context.Context, key string) (bool, error)
}
