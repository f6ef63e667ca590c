package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStore persists pipeline jobs in badgerhold. All mutating operations are
// guarded by the job version: a write only lands when the stored version
// matches the caller's snapshot, so two consumers holding the same message
// cannot both advance the job.
type JobStore struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStore creates a job store backed by the given database
func NewJobStore(db *BadgerDB, logger arbor.ILogger) *JobStore {
	return &JobStore{
		db:     db,
		logger: logger,
	}
}

// CreateJob inserts a new job. Fails with ErrDuplicateJob when a job with the
// same (type, internal_id) pair already exists, regardless of its status.
func (s *JobStore) CreateJob(ctx context.Context, job *models.JobItem) error {
	store := s.db.Store()

	err := store.Badger().Update(func(tx *badgerdb.Txn) error {
		var existing models.JobItem
		err := store.TxFindOne(tx, &existing, badgerhold.Where("JobType").Eq(job.JobType).Index("JobType").
			And("InternalID").Eq(job.InternalID))
		if err == nil {
			return fmt.Errorf("%w: job type %s internal_id %s", models.ErrDuplicateJob, job.JobType, job.InternalID)
		}
		if !errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("failed to check for existing job: %w", err)
		}

		if err := store.TxInsert(tx, job.ID, job); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				return fmt.Errorf("%w: job id %s", models.ErrDuplicateJob, job.ID)
			}
			return fmt.Errorf("failed to insert job: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug().
		Str("job_id", job.ID).
		Str("job_type", string(job.JobType)).
		Str("internal_id", job.InternalID).
		Msg("Job created")
	return nil
}

// GetJobByID retrieves a job by its unique identifier
func (s *JobStore) GetJobByID(ctx context.Context, id string) (*models.JobItem, error) {
	var job models.JobItem
	err := s.db.Store().Get(id, &job)
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return &job, nil
}

// GetJobByInternalIDAndType retrieves a job by its pipeline coordinates
func (s *JobStore) GetJobByInternalIDAndType(ctx context.Context, internalID string, jobType models.JobType) (*models.JobItem, error) {
	var job models.JobItem
	err := s.db.Store().FindOne(&job, badgerhold.Where("JobType").Eq(jobType).Index("JobType").
		And("InternalID").Eq(internalID))
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: type %s internal_id %s", models.ErrJobNotFound, jobType, internalID)
		}
		return nil, fmt.Errorf("failed to find job: %w", err)
	}
	return &job, nil
}

// UpdateJob applies the given update to the job, conditional on the stored
// version matching current.Version. On success the stored version is exactly
// current.Version+1 and the updated job is returned. A version mismatch
// returns ErrStaleVersion and leaves the job untouched.
func (s *JobStore) UpdateJob(ctx context.Context, current *models.JobItem, update models.JobUpdate) (*models.JobItem, error) {
	store := s.db.Store()

	var updated models.JobItem
	err := store.Badger().Update(func(tx *badgerdb.Txn) error {
		var stored models.JobItem
		if err := store.TxGet(tx, current.ID, &stored); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: %s", models.ErrJobNotFound, current.ID)
			}
			return fmt.Errorf("failed to load job %s: %w", current.ID, err)
		}

		if stored.Version != current.Version {
			return fmt.Errorf("%w: job %s version %d, expected %d",
				models.ErrStaleVersion, current.ID, stored.Version, current.Version)
		}

		if update.Status != nil {
			stored.Status = *update.Status
		}
		if update.ExternalID != nil {
			stored.ExternalID = *update.ExternalID
		}
		if update.Metadata != nil {
			stored.Metadata = update.Metadata
		}
		stored.Version = current.Version + 1
		stored.UpdatedAt = time.Now().UTC()

		if err := store.TxUpdate(tx, stored.ID, &stored); err != nil {
			return fmt.Errorf("failed to update job %s: %w", stored.ID, err)
		}
		updated = stored
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("job_id", updated.ID).
		Str("status", string(updated.Status)).
		Int64("version", updated.Version).
		Msg("Job updated")
	return &updated, nil
}

// UpdateJobStatus is a convenience wrapper around UpdateJob for status-only
// transitions.
func (s *JobStore) UpdateJobStatus(ctx context.Context, current *models.JobItem, status models.JobStatus) (*models.JobItem, error) {
	return s.UpdateJob(ctx, current, models.JobUpdate{Status: &status})
}

// UpdateJobMetadata replaces the job metadata, conditional on the version.
func (s *JobStore) UpdateJobMetadata(ctx context.Context, current *models.JobItem, metadata map[string]string) (*models.JobItem, error) {
	return s.UpdateJob(ctx, current, models.JobUpdate{Metadata: metadata})
}

// GetLatestJobByType returns the job of the given type with the highest
// internal id, or ErrJobNotFound when no such job exists.
func (s *JobStore) GetLatestJobByType(ctx context.Context, jobType models.JobType) (*models.JobItem, error) {
	var jobs []models.JobItem
	err := s.db.Store().Find(&jobs, badgerhold.Where("JobType").Eq(jobType).Index("JobType"))
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs of type %s: %w", jobType, err)
	}
	latest := latestByInternalID(jobs)
	if latest == nil {
		return nil, fmt.Errorf("%w: no jobs of type %s", models.ErrJobNotFound, jobType)
	}
	return latest, nil
}

// GetLatestJobByTypeAndStatus returns the job of the given type and status
// with the highest internal id, or ErrJobNotFound when no such job exists.
func (s *JobStore) GetLatestJobByTypeAndStatus(ctx context.Context, jobType models.JobType, status models.JobStatus) (*models.JobItem, error) {
	var jobs []models.JobItem
	err := s.db.Store().Find(&jobs, badgerhold.Where("JobType").Eq(jobType).Index("JobType").
		And("Status").Eq(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs of type %s status %s: %w", jobType, status, err)
	}
	latest := latestByInternalID(jobs)
	if latest == nil {
		return nil, fmt.Errorf("%w: no jobs of type %s in status %s", models.ErrJobNotFound, jobType, status)
	}
	return latest, nil
}

// GetJobsAfterInternalIDByJobType returns jobs of the given type whose
// internal id is strictly greater than the given one, ordered by ascending
// internal id.
func (s *JobStore) GetJobsAfterInternalIDByJobType(ctx context.Context, jobType models.JobType, internalID string) ([]*models.JobItem, error) {
	var jobs []models.JobItem
	err := s.db.Store().Find(&jobs, badgerhold.Where("JobType").Eq(jobType).Index("JobType"))
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs of type %s: %w", jobType, err)
	}

	filtered := make([]*models.JobItem, 0, len(jobs))
	for i := range jobs {
		if compareInternalIDs(jobs[i].InternalID, internalID) > 0 {
			filtered = append(filtered, &jobs[i])
		}
	}
	sortByInternalID(filtered)
	return filtered, nil
}

// GetJobsByStatuses returns jobs in any of the given statuses, up to limit.
// A limit <= 0 means no limit.
func (s *JobStore) GetJobsByStatuses(ctx context.Context, statuses []models.JobStatus, limit int) ([]*models.JobItem, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	in := make([]interface{}, len(statuses))
	for i, st := range statuses {
		in[i] = st
	}

	query := badgerhold.Where("Status").In(in...).Index("Status")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []models.JobItem
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to query jobs by status: %w", err)
	}
	result := make([]*models.JobItem, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// GetJobsWithoutSuccessor returns jobs of type aType in status aStatus for
// which no job of type bType exists with the same internal id. This is the
// discovery query the pipeline workers use to find completed stages whose
// next stage has not been scheduled yet.
func (s *JobStore) GetJobsWithoutSuccessor(ctx context.Context, aType models.JobType, aStatus models.JobStatus, bType models.JobType) ([]*models.JobItem, error) {
	store := s.db.Store()

	var candidates []models.JobItem
	err := store.Find(&candidates, badgerhold.Where("JobType").Eq(aType).Index("JobType").
		And("Status").Eq(aStatus))
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs of type %s: %w", aType, err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var successors []models.JobItem
	err = store.Find(&successors, badgerhold.Where("JobType").Eq(bType).Index("JobType"))
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs of type %s: %w", bType, err)
	}

	covered := make(map[string]struct{}, len(successors))
	for _, job := range successors {
		covered[job.InternalID] = struct{}{}
	}

	result := make([]*models.JobItem, 0, len(candidates))
	for i := range candidates {
		if _, ok := covered[candidates[i].InternalID]; !ok {
			result = append(result, &candidates[i])
		}
	}
	sortByInternalID(result)
	return result, nil
}

// latestByInternalID picks the job with the highest internal id, or nil for
// an empty slice.
func latestByInternalID(jobs []models.JobItem) *models.JobItem {
	if len(jobs) == 0 {
		return nil
	}
	latest := jobs[0]
	for _, job := range jobs[1:] {
		if compareInternalIDs(job.InternalID, latest.InternalID) > 0 {
			latest = job
		}
	}
	return &latest
}

// sortByInternalID orders jobs by ascending internal id
func sortByInternalID(jobs []*models.JobItem) {
	sort.Slice(jobs, func(i, j int) bool {
		return compareInternalIDs(jobs[i].InternalID, jobs[j].InternalID) < 0
	})
}

// compareInternalIDs orders internal ids numerically when both parse as
// unsigned integers (the common case: block numbers), lexicographically
// otherwise.
func compareInternalIDs(a, b string) int {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}
