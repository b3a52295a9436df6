package models

import (
	"fmt"
	"strings"
)

// Request id prefixes embedded in batch custom ids at submission time. The
// ingestor uses them to correlate each response line back to the origin or
// comparison group that produced the request.
const (
	requestPrefixGeneration = "gen:"
	requestPrefixDifficulty = "diff:"
)

// GenerationRequestID builds the custom id for a generation request.
func GenerationRequestID(originID string) string {
	return requestPrefixGeneration + originID
}

// DifficultyRequestID builds the custom id for a difficulty request.
func DifficultyRequestID(groupID string) string {
	return requestPrefixDifficulty + groupID
}

// ParseRequestID splits a custom id into its batch type and the referenced
// record id.
func ParseRequestID(customID string) (batchType, ref string, err error) {
	switch {
	case strings.HasPrefix(customID, requestPrefixGeneration):
		return BatchTypeGeneration, strings.TrimPrefix(customID, requestPrefixGeneration), nil
	case strings.HasPrefix(customID, requestPrefixDifficulty):
		return BatchTypeDifficulty, strings.TrimPrefix(customID, requestPrefixDifficulty), nil
	default:
		return "", "", fmt.Errorf("unrecognized request id %q", customID)
	}
}
