package models

// JobQueueMessage is the structure stored in the work queues.
// Keep it minimal - just enough to route the job.
type JobQueueMessage struct {
	// ID references JobItem.ID.
	ID string `json:"id"`
}
