// Package workers contains the periodic discovery scanners that feed the job
// pipeline. Each worker queries persistent state for eligible successor work
// and creates jobs through the lifecycle engine; none of them mutate job
// records directly.
package workers

import (
	"context"

	"github.com/ternarybob/conductor/internal/models"
)

// Worker is one periodic discovery scanner.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
}

// JobCreator is the slice of the lifecycle engine the workers use.
type JobCreator interface {
	CreateJob(ctx context.Context, jobType models.JobType, internalID string, metadata map[string]string) (*models.JobItem, error)
}
