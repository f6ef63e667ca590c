package models

import "errors"

var (
	// ErrStaleVersion is the "no document modified" signal from an optimistic
	// update whose {id, version} filter matched nothing.
	ErrStaleVersion = errors.New("job version is outdated")

	// ErrDuplicateJob is returned when a job already exists for the same
	// (job_type, internal_id) pair.
	ErrDuplicateJob = errors.New("job already exists for internal id and type")

	// ErrJobNotFound is returned for lookups of unknown job ids.
	ErrJobNotFound = errors.New("job not found")

	// ErrNoMessage is returned when a queue has no visible messages.
	ErrNoMessage = errors.New("no messages in queue")

	// ErrPayloadNotFound is returned for lookups of unknown payload keys.
	ErrPayloadNotFound = errors.New("payload not found")
)
