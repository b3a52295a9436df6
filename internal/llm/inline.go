package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// TextGenerator is the slice of Model that InlineClient needs.
type TextGenerator interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)
}

// InlineClient executes batch requests synchronously through a langchaingo
// model, emulating the provider's file and batch surface in memory. Output
// files use the same JSONL wire shape as real batches, so ingestion cannot
// tell them apart. Results do not survive a process restart, which is fine
// for development runs where submit and process happen in one invocation.
type InlineClient struct {
	generator TextGenerator
	logger    *slog.Logger

	mu      sync.Mutex
	files   map[string][]byte
	batches map[string]*BatchStatus
	// pending input file ids that have not been attached to a batch yet
	requests map[string][]BatchRequest
}

// NewInlineClient creates an inline batch client over a text generator.
func NewInlineClient(generator TextGenerator, log *slog.Logger) *InlineClient {
	if log == nil {
		log = slog.Default()
	}
	return &InlineClient{
		generator: generator,
		logger:    log,
		files:     make(map[string][]byte),
		batches:   make(map[string]*BatchStatus),
		requests:  make(map[string][]BatchRequest),
	}
}

// UploadBatchFile stores the requests under a synthetic file id.
func (c *InlineClient) UploadBatchFile(_ context.Context, requests []BatchRequest) (string, error) {
	if len(requests) == 0 {
		return "", fmt.Errorf("upload batch file: no requests")
	}

	fileID := "file-inline-" + uuid.New().String()

	c.mu.Lock()
	c.requests[fileID] = requests
	c.mu.Unlock()

	return fileID, nil
}

// CreateBatch runs every request in the input file immediately and records
// the results as an output file. The returned batch is already terminal.
func (c *InlineClient) CreateBatch(ctx context.Context, inputFileID string) (string, error) {
	c.mu.Lock()
	requests, ok := c.requests[inputFileID]
	c.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("create batch: unknown input file %s", inputFileID)
	}

	var output, errOutput bytes.Buffer
	outEnc := json.NewEncoder(&output)
	errEnc := json.NewEncoder(&errOutput)

	for _, r := range requests {
		content, err := c.generator.GenerateWithSystem(ctx, r.SystemPrompt, r.UserPrompt, r.Temperature)
		if err != nil {
			c.logger.Warn("Inline batch request failed",
				slog.String("custom_id", r.CustomID),
				slog.String("error", err.Error()))
			line := OutputLine{
				CustomID: r.CustomID,
				Error:    &OutputError{Code: "inline_generation_failed", Message: err.Error()},
			}
			if encErr := errEnc.Encode(line); encErr != nil {
				return "", fmt.Errorf("encode error line: %w", encErr)
			}
			continue
		}

		body, err := json.Marshal(chatCompletionBody{
			Choices: []chatChoice{{Message: chatMessage{Content: content}}},
		})
		if err != nil {
			return "", fmt.Errorf("marshal completion body: %w", err)
		}
		line := OutputLine{
			CustomID: r.CustomID,
			Response: &OutputResponse{StatusCode: 200, Body: body},
		}
		if err := outEnc.Encode(line); err != nil {
			return "", fmt.Errorf("encode output line: %w", err)
		}
	}

	batchID := "batch-inline-" + uuid.New().String()
	outputFileID := "file-inline-out-" + uuid.New().String()

	status := &BatchStatus{
		ID:           batchID,
		Status:       BatchStatusCompleted,
		OutputFileID: &outputFileID,
	}

	c.mu.Lock()
	c.files[outputFileID] = output.Bytes()
	if errOutput.Len() > 0 {
		errorFileID := "file-inline-err-" + uuid.New().String()
		c.files[errorFileID] = errOutput.Bytes()
		status.ErrorFileID = &errorFileID
	}
	c.batches[batchID] = status
	delete(c.requests, inputFileID)
	c.mu.Unlock()

	c.logger.Info("Executed inline batch",
		slog.String("batch_id", batchID),
		slog.Int("requests", len(requests)))
	return batchID, nil
}

// GetBatchStatus returns the recorded batch snapshot.
func (c *InlineClient) GetBatchStatus(_ context.Context, batchID string) (*BatchStatus, error) {
	c.mu.Lock()
	status, ok := c.batches[batchID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("get batch status: unknown batch %s", batchID)
	}
	copied := *status
	return &copied, nil
}

// ReadFile returns a stored file's content.
func (c *InlineClient) ReadFile(_ context.Context, fileID string) ([]byte, error) {
	c.mu.Lock()
	data, ok := c.files[fileID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("read file: unknown file %s", fileID)
	}
	return data, nil
}
