// Package llm wraps language-model access: synchronous generation through
// langchaingo and asynchronous provider batch jobs through BatchClient.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/raphaelgruber/knowforge-go/internal/config"
	"github.com/raphaelgruber/knowforge-go/internal/metrics"
	"log/slog"
)

// Batch lifecycle statuses as reported by the provider.
const (
	BatchStatusValidating = "validating"
	BatchStatusInProgress = "in_progress"
	BatchStatusFinalizing = "finalizing"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
	BatchStatusExpired    = "expired"
	BatchStatusCancelled  = "cancelled"
)

// BatchRequest is one chat-completion request inside a batch input file.
// CustomID correlates the response line back to the pipeline record that
// produced the request.
type BatchRequest struct {
	CustomID     string
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
}

// BatchStatus is a provider batch job snapshot.
type BatchStatus struct {
	ID           string
	Status       string
	OutputFileID *string
	ErrorFileID  *string
}

// Done reports whether the provider will make no further progress on the
// batch.
func (s BatchStatus) Done() bool {
	switch s.Status {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusExpired, BatchStatusCancelled:
		return true
	}
	return false
}

// BatchClient is the provider-side surface of the batch lifecycle: upload an
// input file, create a batch over it, poll it, and read its result files.
// Implementations must be safe for concurrent use.
type BatchClient interface {
	UploadBatchFile(ctx context.Context, requests []BatchRequest) (string, error)
	CreateBatch(ctx context.Context, inputFileID string) (string, error)
	GetBatchStatus(ctx context.Context, batchID string) (*BatchStatus, error)
	ReadFile(ctx context.Context, fileID string) ([]byte, error)
}

// OutputLine is one line of a batch output or error file, in the provider's
// JSONL shape. Exactly one of Response and Error is meaningful per line.
type OutputLine struct {
	CustomID string          `json:"custom_id"`
	Response *OutputResponse `json:"response,omitempty"`
	Error    *OutputError    `json:"error,omitempty"`
}

// OutputResponse is the HTTP-level response embedded in an output line.
type OutputResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// OutputError is the provider-reported failure embedded in an error line.
type OutputError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// chatCompletionBody is the subset of a chat-completion response the
// pipeline reads.
type chatCompletionBody struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatMessage struct {
	Content string `json:"content"`
}

// ContentFromBody extracts the assistant message content from a
// chat-completion response body.
func ContentFromBody(body json.RawMessage) (string, error) {
	var parsed chatCompletionBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode completion body: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion body has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// NewBatchClient selects the batch transport for the configured provider.
// Only OpenAI exposes a true asynchronous batch API; every other provider
// (and the explicit "inline" mode) runs requests synchronously through the
// langchaingo model behind an in-memory BatchClient with the same wire shape.
func NewBatchClient(ctx context.Context, cfg config.Config, log *slog.Logger, collector *metrics.Collector) (BatchClient, error) {
	if cfg.LLMProvider == config.ProviderOpenAI {
		return NewOpenAIBatchClient(cfg, log, collector), nil
	}

	model, err := NewModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewInlineClient(model, log), nil
}
