// Package ingest turns provider batch result files into persisted domain
// records. Malformed lines are recorded and skipped, never fatal: one bad
// response must not discard a thousand good ones.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/knowforge-go/internal/llm"
	"github.com/raphaelgruber/knowforge-go/internal/metrics"
	"github.com/raphaelgruber/knowforge-go/internal/models"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Store is the persistence surface the ingestor needs. Both saves are
// atomic per batch: records and ingestion errors land together or not at
// all.
type Store interface {
	SaveGeneratedUnits(ctx context.Context, units []models.GeneratedUnit, ingestErrs []models.IngestError) error
	SaveDifficultyScores(ctx context.Context, scores []models.DifficultyScore, ingestErrs []models.IngestError) error
}

// Ingestor parses batch output and error files and persists the results.
type Ingestor struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Collector
}

// New creates an ingestor.
func New(store Store, log *slog.Logger, collector *metrics.Collector) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{store: store, logger: log, metrics: collector}
}

// Ingest processes one batch's result files. Output lines that fail
// correlation or validation become IngestError records alongside the
// successfully parsed ones; only a persistence failure is returned as an
// error (and is retryable through the coordinator).
func (in *Ingestor) Ingest(ctx context.Context, runID, batchType string, output, errorFile []byte) error {
	ingestErrs := in.collectErrorLines(runID, batchType, errorFile)

	switch batchType {
	case models.BatchTypeGeneration:
		units, lineErrs := in.parseGenerationLines(runID, output)
		ingestErrs = append(ingestErrs, lineErrs...)
		in.logCounts(runID, batchType, len(units), len(ingestErrs))
		if err := in.store.SaveGeneratedUnits(ctx, units, ingestErrs); err != nil {
			return fmt.Errorf("persist generation results: %w", err)
		}
		return nil

	case models.BatchTypeDifficulty:
		scores, lineErrs := in.parseDifficultyLines(runID, output)
		ingestErrs = append(ingestErrs, lineErrs...)
		in.logCounts(runID, batchType, len(scores), len(ingestErrs))
		if err := in.store.SaveDifficultyScores(ctx, scores, ingestErrs); err != nil {
			return fmt.Errorf("persist difficulty results: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("ingest: unknown batch type %q", batchType)
	}
}

func (in *Ingestor) logCounts(runID, batchType string, records, errs int) {
	in.logger.Info("Ingested batch results",
		slog.String("run_id", runID),
		slog.String("batch_type", batchType),
		slog.Int("records", records),
		slog.Int("errors", errs))
}

// collectErrorLines records provider-reported per-request failures. They
// carry no parseable result, only a request id and a message.
func (in *Ingestor) collectErrorLines(runID, batchType string, errorFile []byte) []models.IngestError {
	var ingestErrs []models.IngestError
	for i, raw := range splitLines(errorFile) {
		var line llm.OutputLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			ingestErrs = append(ingestErrs, newIngestError(runID, batchType, "unknown", i+1,
				fmt.Sprintf("malformed error line: %v", err)))
			continue
		}
		reason := "provider reported request failure"
		if line.Error != nil && line.Error.Message != "" {
			reason = line.Error.Message
		}
		ingestErrs = append(ingestErrs, newIngestError(runID, batchType, line.CustomID, i+1, reason))
	}
	return ingestErrs
}

// parseGenerationLines decodes generation output lines. Each good line
// yields one unit per bloom level for its origin.
func (in *Ingestor) parseGenerationLines(runID string, output []byte) ([]models.GeneratedUnit, []models.IngestError) {
	var units []models.GeneratedUnit
	var ingestErrs []models.IngestError

	for i, raw := range splitLines(output) {
		start := time.Now()
		lineUnits, lineErr := in.parseGenerationLine(runID, raw)
		in.metrics.Record(metrics.OpIngestLine, time.Since(start), lineErr)

		if lineErr != nil {
			ingestErrs = append(ingestErrs, newIngestError(runID, models.BatchTypeGeneration,
				customID(raw), i+1, lineErr.Error()))
			continue
		}
		units = append(units, lineUnits...)
	}
	return units, ingestErrs
}

func (in *Ingestor) parseGenerationLine(runID, raw string) ([]models.GeneratedUnit, error) {
	content, originID, err := decodeResultLine(raw, models.BatchTypeGeneration)
	if err != nil {
		return nil, err
	}

	var payload generationPayload
	if err := json.Unmarshal([]byte(stripFences(content)), &payload); err != nil {
		return nil, fmt.Errorf("decode generation payload: %w", err)
	}
	if len(payload.GeneratedUnits) != len(models.BloomOrder) {
		return nil, fmt.Errorf("expected %d generated units, got %d", len(models.BloomOrder), len(payload.GeneratedUnits))
	}

	units := make([]models.GeneratedUnit, 0, len(payload.GeneratedUnits))
	for _, u := range payload.GeneratedUnits {
		if models.BloomIndex(u.BloomLevel) < 0 {
			return nil, fmt.Errorf("unknown bloom level %q", u.BloomLevel)
		}
		if u.UCText == "" {
			return nil, fmt.Errorf("empty unit text at level %q", u.BloomLevel)
		}
		units = append(units, models.GeneratedUnit{
			ID:         surrealmodels.NewRecordID("generated_unit", uuid.New().String()),
			RunID:      runID,
			OriginID:   originID,
			BloomLevel: u.BloomLevel,
			Text:       u.UCText,
		})
	}
	return units, nil
}

// parseDifficultyLines decodes difficulty output lines. Validation is per
// assessment: one bad judgment inside a response drops only itself.
func (in *Ingestor) parseDifficultyLines(runID string, output []byte) ([]models.DifficultyScore, []models.IngestError) {
	var scores []models.DifficultyScore
	var ingestErrs []models.IngestError

	for i, raw := range splitLines(output) {
		start := time.Now()
		lineScores, lineErrs := in.parseDifficultyLine(runID, i+1, raw)
		var firstErr error
		if len(lineErrs) > 0 {
			firstErr = fmt.Errorf("%s", lineErrs[0].Reason)
		}
		in.metrics.Record(metrics.OpIngestLine, time.Since(start), firstErr)

		scores = append(scores, lineScores...)
		ingestErrs = append(ingestErrs, lineErrs...)
	}
	return scores, ingestErrs
}

func (in *Ingestor) parseDifficultyLine(runID string, lineNo int, raw string) ([]models.DifficultyScore, []models.IngestError) {
	content, groupID, err := decodeResultLine(raw, models.BatchTypeDifficulty)
	if err != nil {
		return nil, []models.IngestError{newIngestError(runID, models.BatchTypeDifficulty,
			customID(raw), lineNo, err.Error())}
	}

	var payload difficultyPayload
	if err := json.Unmarshal([]byte(stripFences(content)), &payload); err != nil {
		return nil, []models.IngestError{newIngestError(runID, models.BatchTypeDifficulty,
			customID(raw), lineNo, fmt.Sprintf("decode difficulty payload: %v", err))}
	}

	var scores []models.DifficultyScore
	var ingestErrs []models.IngestError
	for _, a := range payload.DifficultyAssessments {
		if a.UCID == "" {
			ingestErrs = append(ingestErrs, newIngestError(runID, models.BatchTypeDifficulty,
				models.DifficultyRequestID(groupID), lineNo, "assessment missing uc_id"))
			continue
		}
		score, ok := integralScore(a.Score)
		if !ok {
			ingestErrs = append(ingestErrs, newIngestError(runID, models.BatchTypeDifficulty,
				models.DifficultyRequestID(groupID), lineNo,
				fmt.Sprintf("score %v for unit %s outside 0-100", a.Score, a.UCID)))
			continue
		}
		scores = append(scores, models.DifficultyScore{
			ID:            surrealmodels.NewRecordID("difficulty_score", uuid.New().String()),
			RunID:         runID,
			GroupID:       groupID,
			UnitID:        a.UCID,
			Score:         score,
			Justification: a.Justification,
		})
	}
	return scores, ingestErrs
}

// decodeResultLine peels the provider envelope off one output line and
// checks the request id against the batch type being ingested.
func decodeResultLine(raw, batchType string) (content, ref string, err error) {
	var line llm.OutputLine
	if err := json.Unmarshal([]byte(raw), &line); err != nil {
		return "", "", fmt.Errorf("malformed output line: %w", err)
	}

	kind, ref, err := models.ParseRequestID(line.CustomID)
	if err != nil {
		return "", "", err
	}
	if kind != batchType {
		return "", "", fmt.Errorf("request id %q does not belong to a %s batch", line.CustomID, batchType)
	}

	if line.Error != nil {
		return "", "", fmt.Errorf("provider error: %s", line.Error.Message)
	}
	if line.Response == nil || line.Response.StatusCode != 200 {
		return "", "", fmt.Errorf("request did not succeed")
	}

	content, err = llm.ContentFromBody(line.Response.Body)
	if err != nil {
		return "", "", err
	}
	return content, ref, nil
}

// integralScore validates a judged score: integer-valued and within 0-100.
func integralScore(raw float64) (int, bool) {
	if raw != math.Trunc(raw) {
		return 0, false
	}
	score := int(raw)
	if score < 0 || score > 100 {
		return 0, false
	}
	return score, true
}

// customID best-effort extracts the custom id from a raw line for error
// reporting, even when the rest of the line is unusable.
func customID(raw string) string {
	var line struct {
		CustomID string `json:"custom_id"`
	}
	if err := json.Unmarshal([]byte(raw), &line); err != nil || line.CustomID == "" {
		return "unknown"
	}
	return line.CustomID
}

func newIngestError(runID, batchType, requestID string, line int, reason string) models.IngestError {
	return models.IngestError{
		ID:        surrealmodels.NewRecordID("ingest_error", uuid.New().String()),
		RunID:     runID,
		BatchType: batchType,
		RequestID: requestID,
		Line:      line,
		Reason:    reason,
	}
}
