package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetadataCounter(t *testing.T) {
	assert.Equal(t, uint64(0), MetadataCounter(nil, MetadataProcessAttempt))
	assert.Equal(t, uint64(0), MetadataCounter(map[string]string{}, MetadataProcessAttempt))
	assert.Equal(t, uint64(3), MetadataCounter(map[string]string{MetadataProcessAttempt: "3"}, MetadataProcessAttempt))
	assert.Equal(t, uint64(0), MetadataCounter(map[string]string{MetadataProcessAttempt: "not-a-number"}, MetadataProcessAttempt))
}

func TestIncrementMetadataKey(t *testing.T) {
	out := IncrementMetadataKey(nil, MetadataVerificationAttempt)
	assert.Equal(t, "1", out[MetadataVerificationAttempt])

	in := map[string]string{
		MetadataVerificationAttempt: "41",
		"other":                     "kept",
	}
	out = IncrementMetadataKey(in, MetadataVerificationAttempt)
	assert.Equal(t, "42", out[MetadataVerificationAttempt])
	assert.Equal(t, "kept", out["other"])

	// Input map is never mutated
	assert.Equal(t, "41", in[MetadataVerificationAttempt])
}
