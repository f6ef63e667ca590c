// -----------------------------------------------------------------------
// Job - Persistent job record for the proving pipeline orchestrator
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// JobType identifies the pipeline stage a job belongs to.
type JobType string

const (
	// JobTypeSnosRun executes SNOS for a block and stores its output.
	JobTypeSnosRun JobType = "SnosRun"
	// JobTypeProofCreation submits the SNOS output to the prover.
	JobTypeProofCreation JobType = "ProofCreation"
	// JobTypeProofRegistration registers a generated proof on the settlement layer.
	JobTypeProofRegistration JobType = "ProofRegistration"
	// JobTypeDataSubmission publishes the block state diff to the DA layer.
	JobTypeDataSubmission JobType = "DataSubmission"
	// JobTypeStateTransition finalizes the state transition on the settlement layer.
	JobTypeStateTransition JobType = "StateTransition"
)

// JobStatus tracks a job through the lifecycle state machine.
type JobStatus string

const (
	JobStatusCreated             JobStatus = "Created"
	JobStatusLockedForProcessing JobStatus = "LockedForProcessing"
	JobStatusPendingVerification JobStatus = "PendingVerification"
	JobStatusCompleted           JobStatus = "Completed"
	JobStatusVerificationFailed  JobStatus = "VerificationFailed"
	JobStatusVerificationTimeout JobStatus = "VerificationTimeout"
	JobStatusFailed              JobStatus = "Failed"
)

// IsTerminal returns true if no further lifecycle transitions are permitted.
// VerificationFailed is not terminal: a re-process can still pick it up.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ExternalIDKind discriminates the ExternalID union.
type ExternalIDKind string

const (
	ExternalIDKindNone   ExternalIDKind = ""
	ExternalIDKindString ExternalIDKind = "string"
	ExternalIDKindNumber ExternalIDKind = "number"
)

// ExternalID is the opaque handle returned by a stage's external service:
// a prover task id, an L1 tx hash, a DA blob reference. External services
// disagree on the shape, so it is a tagged string-or-number union.
// Fields are exported for gob encoding in the store; use the constructors.
type ExternalID struct {
	Kind ExternalIDKind `json:"kind"`
	Str  string         `json:"str,omitempty"`
	Num  uint64         `json:"num,omitempty"`
}

// StringExternalID wraps a string handle.
func StringExternalID(s string) ExternalID {
	return ExternalID{Kind: ExternalIDKindString, Str: s}
}

// NumberExternalID wraps a numeric handle.
func NumberExternalID(n uint64) ExternalID {
	return ExternalID{Kind: ExternalIDKindNumber, Num: n}
}

// IsZero returns true when no external id has been assigned yet.
func (e ExternalID) IsZero() bool {
	return e.Kind == ExternalIDKindNone
}

// String renders the handle for logging and client calls.
func (e ExternalID) String() string {
	switch e.Kind {
	case ExternalIDKindString:
		return e.Str
	case ExternalIDKindNumber:
		return strconv.FormatUint(e.Num, 10)
	default:
		return ""
	}
}

// MarshalJSON emits the raw string or number, matching the wire form
// external services hand back.
func (e ExternalID) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case ExternalIDKindString:
		return json.Marshal(e.Str)
	case ExternalIDKindNumber:
		return json.Marshal(e.Num)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a string, a number, or null.
func (e *ExternalID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = ExternalID{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = StringExternalID(s)
		return nil
	}
	var n uint64
	if err := json.Unmarshal(data, &n); err == nil {
		*e = NumberExternalID(n)
		return nil
	}
	return fmt.Errorf("external id must be a string or an unsigned integer: %s", data)
}

// JobItem is the single persistent entity of the orchestrator. Mutated
// exclusively by the lifecycle engine through optimistic updates; never
// deleted - Completed and Failed jobs are retained as history.
type JobItem struct {
	// ID is globally unique, assigned at creation, immutable.
	ID string `json:"id"`
	// InternalID is the caller-supplied correlation key, typically a block
	// number as a decimal string. Unique per JobType.
	InternalID string    `json:"internal_id" badgerhold:"index"`
	JobType    JobType   `json:"job_type" badgerhold:"index"`
	Status     JobStatus `json:"status" badgerhold:"index"`
	// ExternalID is empty until the stage's process call succeeds.
	ExternalID ExternalID `json:"external_id"`
	// Metadata carries the attempt counters and handler-specific keys.
	Metadata map[string]string `json:"metadata"`
	// Version increases by exactly 1 on every successful update and backs
	// the optimistic concurrency filter {id, version}.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJobItem builds a fresh record in Created state with version 0.
func NewJobItem(jobType JobType, internalID string, metadata map[string]string) *JobItem {
	if metadata == nil {
		metadata = make(map[string]string)
	}
	now := time.Now().UTC()
	return &JobItem{
		ID:         uuid.New().String(),
		InternalID: internalID,
		JobType:    jobType,
		Status:     JobStatusCreated,
		Metadata:   metadata,
		Version:    0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// CloneMetadata returns a copy of the job metadata safe to mutate.
func (j *JobItem) CloneMetadata() map[string]string {
	out := make(map[string]string, len(j.Metadata))
	for k, v := range j.Metadata {
		out[k] = v
	}
	return out
}

// BlockNumber parses the internal id as a block number.
func (j *JobItem) BlockNumber() (uint64, error) {
	n, err := strconv.ParseUint(j.InternalID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("internal id %q is not a block number: %w", j.InternalID, err)
	}
	return n, nil
}

// JobUpdate is the patch applied by an optimistic store update. Nil fields
// are left untouched.
type JobUpdate struct {
	Status     *JobStatus
	ExternalID *ExternalID
	Metadata   map[string]string
}
