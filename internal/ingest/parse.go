package ingest

import (
	"strings"
)

// stripFences removes a markdown code fence wrapping an LLM response body.
// Models occasionally wrap JSON payloads in ```json fences even when asked
// for bare JSON.
func stripFences(content string) string {
	cleaned := strings.TrimSpace(content)
	switch {
	case strings.HasPrefix(cleaned, "```json"):
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimSuffix(cleaned, "```")
	case strings.HasPrefix(cleaned, "```"):
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
	}
	return strings.TrimSpace(cleaned)
}

// splitLines yields the non-empty lines of a JSONL file.
func splitLines(data []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

// generationPayload is the expected response shape of a generation request.
type generationPayload struct {
	GeneratedUnits []generatedUnitPayload `json:"generated_units"`
}

type generatedUnitPayload struct {
	BloomLevel string `json:"bloom_level"`
	UCText     string `json:"uc_text"`
}

// difficultyPayload is the expected response shape of a difficulty request.
type difficultyPayload struct {
	DifficultyAssessments []assessmentPayload `json:"difficulty_assessments"`
}

type assessmentPayload struct {
	UCID          string  `json:"uc_id"`
	Score         float64 `json:"difficulty_score"`
	Justification string  `json:"justification"`
}
