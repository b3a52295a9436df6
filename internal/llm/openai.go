package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/raphaelgruber/knowforge-go/internal/config"
	"github.com/raphaelgruber/knowforge-go/internal/metrics"
)

// OpenAIBatchClient talks to the OpenAI Files and Batches REST APIs.
// langchaingo covers synchronous completions but has no batch surface, so
// the four batch endpoints are called directly.
type OpenAIBatchClient struct {
	baseURL          string
	apiKey           string
	model            string
	completionWindow string
	httpClient       *http.Client
	logger           *slog.Logger
	metrics          *metrics.Collector
}

// NewOpenAIBatchClient creates a batch client from configuration.
func NewOpenAIBatchClient(cfg config.Config, log *slog.Logger, collector *metrics.Collector) *OpenAIBatchClient {
	if log == nil {
		log = slog.Default()
	}
	return &OpenAIBatchClient{
		baseURL:          strings.TrimRight(cfg.OpenAIBaseURL, "/"),
		apiKey:           cfg.OpenAIAPIKey,
		model:            cfg.LLMModel,
		completionWindow: cfg.BatchWindow,
		httpClient:       &http.Client{Timeout: 120 * time.Second},
		logger:           log,
		metrics:          collector,
	}
}

// inputLine is one JSONL line of a batch input file.
type inputLine struct {
	CustomID string         `json:"custom_id"`
	Method   string         `json:"method"`
	URL      string         `json:"url"`
	Body     map[string]any `json:"body"`
}

// buildInputJSONL renders batch requests as the provider's input file format.
func (c *OpenAIBatchClient) buildInputJSONL(requests []BatchRequest) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range requests {
		line := inputLine{
			CustomID: r.CustomID,
			Method:   "POST",
			URL:      "/v1/chat/completions",
			Body: map[string]any{
				"model": c.model,
				"messages": []map[string]string{
					{"role": "system", "content": r.SystemPrompt},
					{"role": "user", "content": r.UserPrompt},
				},
				"temperature":     r.Temperature,
				"response_format": map[string]string{"type": "json_object"},
			},
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("encode batch request %q: %w", r.CustomID, err)
		}
	}
	return buf.Bytes(), nil
}

// UploadBatchFile uploads the requests as a purpose=batch file and returns
// the file id.
func (c *OpenAIBatchClient) UploadBatchFile(ctx context.Context, requests []BatchRequest) (string, error) {
	start := time.Now()
	fileID, err := c.uploadBatchFile(ctx, requests)
	c.metrics.Record(metrics.OpProviderUpload, time.Since(start), err)
	return fileID, err
}

func (c *OpenAIBatchClient) uploadBatchFile(ctx context.Context, requests []BatchRequest) (string, error) {
	if len(requests) == 0 {
		return "", fmt.Errorf("upload batch file: no requests")
	}

	jsonl, err := c.buildInputJSONL(requests)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purpose", "batch"); err != nil {
		return "", fmt.Errorf("write purpose field: %w", err)
	}
	part, err := mw.CreateFormFile("file", "batch_input.jsonl")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(jsonl); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", fmt.Errorf("upload batch file: %w", err)
	}

	c.logger.Info("Uploaded batch input file",
		slog.String("file_id", resp.ID),
		slog.Int("requests", len(requests)))
	return resp.ID, nil
}

// CreateBatch creates a batch job over an uploaded input file and returns
// the provider batch id.
func (c *OpenAIBatchClient) CreateBatch(ctx context.Context, inputFileID string) (string, error) {
	start := time.Now()
	batchID, err := c.createBatch(ctx, inputFileID)
	c.metrics.Record(metrics.OpProviderCreate, time.Since(start), err)
	return batchID, err
}

func (c *OpenAIBatchClient) createBatch(ctx context.Context, inputFileID string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"input_file_id":     inputFileID,
		"endpoint":          "/v1/chat/completions",
		"completion_window": c.completionWindow,
	})
	if err != nil {
		return "", fmt.Errorf("marshal batch payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/batches", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", fmt.Errorf("create batch: %w", err)
	}

	c.logger.Info("Created provider batch",
		slog.String("batch_id", resp.ID),
		slog.String("status", resp.Status))
	return resp.ID, nil
}

// GetBatchStatus polls a batch job.
func (c *OpenAIBatchClient) GetBatchStatus(ctx context.Context, batchID string) (*BatchStatus, error) {
	start := time.Now()
	status, err := c.getBatchStatus(ctx, batchID)
	c.metrics.Record(metrics.OpProviderPoll, time.Since(start), err)
	return status, err
}

func (c *OpenAIBatchClient) getBatchStatus(ctx context.Context, batchID string) (*BatchStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/batches/"+batchID, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}

	var resp struct {
		ID           string  `json:"id"`
		Status       string  `json:"status"`
		OutputFileID *string `json:"output_file_id"`
		ErrorFileID  *string `json:"error_file_id"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("get batch status: %w", err)
	}

	return &BatchStatus{
		ID:           resp.ID,
		Status:       resp.Status,
		OutputFileID: resp.OutputFileID,
		ErrorFileID:  resp.ErrorFileID,
	}, nil
}

// ReadFile downloads a result file's raw JSONL content.
func (c *OpenAIBatchClient) ReadFile(ctx context.Context, fileID string) ([]byte, error) {
	start := time.Now()
	data, err := c.readFile(ctx, fileID)
	c.metrics.Record(metrics.OpProviderRead, time.Since(start), err)
	return data, err
}

func (c *OpenAIBatchClient) readFile(ctx context.Context, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+fileID+"/content", nil)
	if err != nil {
		return nil, fmt.Errorf("build file content request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", fileID, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("read file %s: status %d: %s", fileID, res.StatusCode, strings.TrimSpace(string(body)))
	}

	return io.ReadAll(res.Body)
}

// do executes an authenticated request and decodes the JSON response into
// out.
func (c *OpenAIBatchClient) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
