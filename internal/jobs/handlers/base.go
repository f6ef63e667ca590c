// Package handlers implements one stage handler per job type. Handlers own
// the external side effects of their stage and the artifacts that flow to the
// next stage through the payload store; job records are only ever mutated by
// the lifecycle engine.
package handlers

import (
	"time"

	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/models"
)

// Artifact names under the payload store. Keys are "{internal_id}/{artifact}".
const (
	ArtifactSnosOutput = "snos_output"
	ArtifactStateDiff  = "state_diff"
	ArtifactProof      = "proof"
)

// ArtifactKey builds the payload store key for a job artifact
func ArtifactKey(internalID, artifact string) string {
	return internalID + "/" + artifact
}

// retryPolicy carries the per-stage attempt caps and polling delay resolved
// from configuration at construction time.
type retryPolicy struct {
	maxProcessAttempts      uint64
	maxVerificationAttempts uint64
	pollingDelay            time.Duration
}

func (p retryPolicy) MaxProcessAttempts() uint64 {
	return p.maxProcessAttempts
}

func (p retryPolicy) MaxVerificationAttempts() uint64 {
	return p.maxVerificationAttempts
}

func (p retryPolicy) VerificationPollingDelay() time.Duration {
	return p.pollingDelay
}

// policyFor resolves the retry policy for a job type from the jobs config,
// falling back to conservative defaults for unconfigured types.
func policyFor(config *common.JobsConfig, jobType models.JobType) retryPolicy {
	policy := retryPolicy{
		maxProcessAttempts:      2,
		maxVerificationAttempts: 10,
		pollingDelay:            30 * time.Second,
	}
	if n, ok := config.MaxProcessAttempts[string(jobType)]; ok {
		policy.maxProcessAttempts = n
	}
	if n, ok := config.MaxVerificationAttempts[string(jobType)]; ok {
		policy.maxVerificationAttempts = n
	}
	if raw, ok := config.VerificationPollDelay[string(jobType)]; ok {
		policy.pollingDelay = common.ParseDuration(raw, policy.pollingDelay)
	}
	return policy
}
