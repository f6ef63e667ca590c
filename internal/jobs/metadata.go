package jobs

import "strconv"

// Reserved metadata keys maintained by the lifecycle engine. Handlers may add
// their own keys but must not touch these.
const (
	MetadataProcessAttempt      = "process_attempt"
	MetadataVerificationAttempt = "verification_attempt"
	MetadataLastJobStatus       = "last_job_status"
)

// MetadataCounter reads a counter stored as a decimal string. Absent or
// malformed values read as 0.
func MetadataCounter(metadata map[string]string, key string) uint64 {
	raw, ok := metadata[key]
	if !ok {
		return 0
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// IncrementMetadataKey returns a copy of the metadata with the counter at key
// incremented by 1. Absent keys read as 0 and become "1". The input map is
// never mutated.
func IncrementMetadataKey(metadata map[string]string, key string) map[string]string {
	out := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out[key] = strconv.FormatUint(MetadataCounter(metadata, key)+1, 10)
	return out
}
