package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/raphaelgruber/knowforge-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureStore records what the ingestor persists.
type captureStore struct {
	units      []models.GeneratedUnit
	scores     []models.DifficultyScore
	ingestErrs []models.IngestError
	saveErr    error
	saves      int
}

func (s *captureStore) SaveGeneratedUnits(_ context.Context, units []models.GeneratedUnit, ingestErrs []models.IngestError) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.units = units
	s.ingestErrs = ingestErrs
	return nil
}

func (s *captureStore) SaveDifficultyScores(_ context.Context, scores []models.DifficultyScore, ingestErrs []models.IngestError) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.scores = scores
	s.ingestErrs = ingestErrs
	return nil
}

// outputLine renders one provider output line whose completion content is
// the given payload.
func outputLine(t *testing.T, customIDValue, content string) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"content": content}}},
	})
	require.NoError(t, err)
	line, err := json.Marshal(map[string]any{
		"custom_id": customIDValue,
		"response":  map[string]any{"status_code": 200, "body": json.RawMessage(body)},
	})
	require.NoError(t, err)
	return string(line)
}

// generationContent builds a well-formed six-unit generation payload.
func generationContent(t *testing.T) string {
	t.Helper()
	units := make([]map[string]string, 0, len(models.BloomOrder))
	for _, level := range models.BloomOrder {
		units = append(units, map[string]string{
			"bloom_level": level,
			"uc_text":     "Unidade para " + level,
		})
	}
	payload, err := json.Marshal(map[string]any{"generated_units": units})
	require.NoError(t, err)
	return string(payload)
}

func TestIngestGenerationRoundTrip(t *testing.T) {
	store := &captureStore{}
	ing := New(store, nil, nil)

	var lines []string
	for i := 0; i < 3; i++ {
		lines = append(lines, outputLine(t, models.GenerationRequestID(fmt.Sprintf("origin-%d", i)), generationContent(t)))
	}
	output := []byte(strings.Join(lines, "\n") + "\n")

	err := ing.Ingest(context.Background(), "r1", models.BatchTypeGeneration, output, nil)
	require.NoError(t, err)

	assert.Len(t, store.units, 3*len(models.BloomOrder))
	assert.Empty(t, store.ingestErrs)
	assert.Equal(t, "origin-0", store.units[0].OriginID)
	assert.Equal(t, "Lembrar", store.units[0].BloomLevel)
	assert.Equal(t, "r1", store.units[0].RunID)
}

func TestIngestGenerationMalformedLinesAreIsolated(t *testing.T) {
	store := &captureStore{}
	ing := New(store, nil, nil)

	lines := []string{
		outputLine(t, models.GenerationRequestID("origin-0"), generationContent(t)),
		"this is not json",
		outputLine(t, models.GenerationRequestID("origin-2"), `{"generated_units":[]}`),
		outputLine(t, models.GenerationRequestID("origin-3"), generationContent(t)),
	}
	output := []byte(strings.Join(lines, "\n"))

	err := ing.Ingest(context.Background(), "r1", models.BatchTypeGeneration, output, nil)
	require.NoError(t, err)

	// 2 good lines survive, 2 bad lines become recorded errors.
	assert.Len(t, store.units, 2*len(models.BloomOrder))
	require.Len(t, store.ingestErrs, 2)
	assert.Equal(t, 2, store.ingestErrs[0].Line)
	assert.Equal(t, "unknown", store.ingestErrs[0].RequestID)
	assert.Equal(t, 3, store.ingestErrs[1].Line)
	assert.Contains(t, store.ingestErrs[1].Reason, "expected 6")
}

func TestIngestGenerationFencedContent(t *testing.T) {
	store := &captureStore{}
	ing := New(store, nil, nil)

	fenced := "```json\n" + generationContent(t) + "\n```"
	output := []byte(outputLine(t, models.GenerationRequestID("origin-0"), fenced))

	err := ing.Ingest(context.Background(), "r1", models.BatchTypeGeneration, output, nil)
	require.NoError(t, err)
	assert.Len(t, store.units, len(models.BloomOrder))
	assert.Empty(t, store.ingestErrs)
}

func TestIngestGenerationUnknownBloomLevel(t *testing.T) {
	store := &captureStore{}
	ing := New(store, nil, nil)

	units := make([]map[string]string, len(models.BloomOrder))
	for i, level := range models.BloomOrder {
		units[i] = map[string]string{"bloom_level": level, "uc_text": "x"}
	}
	units[2]["bloom_level"] = "Remember" // wrong label set
	payload, err := json.Marshal(map[string]any{"generated_units": units})
	require.NoError(t, err)

	output := []byte(outputLine(t, models.GenerationRequestID("origin-0"), string(payload)))
	require.NoError(t, ing.Ingest(context.Background(), "r1", models.BatchTypeGeneration, output, nil))

	assert.Empty(t, store.units)
	require.Len(t, store.ingestErrs, 1)
	assert.Contains(t, store.ingestErrs[0].Reason, "unknown bloom level")
}

func TestIngestRejectsForeignRequestID(t *testing.T) {
	store := &captureStore{}
	ing := New(store, nil, nil)

	// A difficulty request id inside a generation batch fails correlation.
	output := []byte(outputLine(t, models.DifficultyRequestID("group-1"), generationContent(t)))
	require.NoError(t, ing.Ingest(context.Background(), "r1", models.BatchTypeGeneration, output, nil))

	assert.Empty(t, store.units)
	require.Len(t, store.ingestErrs, 1)
	assert.Contains(t, store.ingestErrs[0].Reason, "does not belong")
}

func TestIngestDifficultyRoundTrip(t *testing.T) {
	store := &captureStore{}
	ing := New(store, nil, nil)

	content := `{"difficulty_assessments":[
		{"uc_id":"u1","difficulty_score":80,"justification":"Abstrato."},
		{"uc_id":"u2","difficulty_score":20,"justification":"Direto."}
	]}`
	output := []byte(outputLine(t, models.DifficultyRequestID("group-1"), content))

	err := ing.Ingest(context.Background(), "r1", models.BatchTypeDifficulty, output, nil)
	require.NoError(t, err)

	require.Len(t, store.scores, 2)
	assert.Equal(t, "group-1", store.scores[0].GroupID)
	assert.Equal(t, "u1", store.scores[0].UnitID)
	assert.Equal(t, 80, store.scores[0].Score)
	assert.Empty(t, store.ingestErrs)
}

func TestIngestDifficultyBadAssessmentsAreIsolated(t *testing.T) {
	store := &captureStore{}
	ing := New(store, nil, nil)

	content := `{"difficulty_assessments":[
		{"uc_id":"u1","difficulty_score":55,"justification":"ok"},
		{"difficulty_score":50,"justification":"missing id"},
		{"uc_id":"u3","difficulty_score":140,"justification":"out of range"},
		{"uc_id":"u4","difficulty_score":33.5,"justification":"fractional"}
	]}`
	output := []byte(outputLine(t, models.DifficultyRequestID("group-1"), content))

	err := ing.Ingest(context.Background(), "r1", models.BatchTypeDifficulty, output, nil)
	require.NoError(t, err)

	require.Len(t, store.scores, 1)
	assert.Equal(t, "u1", store.scores[0].UnitID)
	require.Len(t, store.ingestErrs, 3)
	for _, e := range store.ingestErrs {
		assert.Equal(t, models.DifficultyRequestID("group-1"), e.RequestID)
	}
}

func TestIngestErrorFileRecorded(t *testing.T) {
	store := &captureStore{}
	ing := New(store, nil, nil)

	errorFile := []byte(
		`{"custom_id":"gen:origin-9","error":{"code":"rate_limited","message":"too many requests"}}` + "\n" +
			"garbage line\n")

	err := ing.Ingest(context.Background(), "r1", models.BatchTypeGeneration, nil, errorFile)
	require.NoError(t, err)

	require.Len(t, store.ingestErrs, 2)
	assert.Equal(t, "gen:origin-9", store.ingestErrs[0].RequestID)
	assert.Equal(t, "too many requests", store.ingestErrs[0].Reason)
	assert.Equal(t, "unknown", store.ingestErrs[1].RequestID)
}

func TestIngestPersistenceFailureSurfaced(t *testing.T) {
	store := &captureStore{saveErr: errors.New("db down")}
	ing := New(store, nil, nil)

	output := []byte(outputLine(t, models.GenerationRequestID("origin-0"), generationContent(t)))
	err := ing.Ingest(context.Background(), "r1", models.BatchTypeGeneration, output, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestIngestUnknownBatchType(t *testing.T) {
	ing := New(&captureStore{}, nil, nil)
	err := ing.Ingest(context.Background(), "r1", "nonsense", nil, nil)
	require.Error(t, err)
}

func TestMeanPolicy(t *testing.T) {
	scores := []models.DifficultyScore{
		{Score: 70, Justification: "A"},
		{Score: 75, Justification: "B"},
		{Score: 72, Justification: ""},
	}
	agg := MeanPolicy(scores)
	assert.Equal(t, 72, agg.Score) // round(217/3)
	assert.Equal(t, "A | B", agg.Justification)
	assert.Equal(t, 3, agg.EvaluationCount)

	solo := MeanPolicy([]models.DifficultyScore{{Score: 41}})
	assert.Equal(t, 41, solo.Score)
	assert.Equal(t, "N/A", solo.Justification)
}

func TestAggregateByUnit(t *testing.T) {
	scores := []models.DifficultyScore{
		{UnitID: "u1", Score: 10, Justification: "x"},
		{UnitID: "u2", Score: 90, Justification: "y"},
		{UnitID: "u1", Score: 20, Justification: "z"},
	}
	agg := AggregateByUnit(scores, nil)
	require.Len(t, agg, 2)
	assert.Equal(t, 15, agg["u1"].Score)
	assert.Equal(t, 2, agg["u1"].EvaluationCount)
	assert.Equal(t, 90, agg["u2"].Score)
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"whitespace", "  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripFences(tt.in))
		})
	}
}
