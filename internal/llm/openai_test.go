package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/raphaelgruber/knowforge-go/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBatchClient(t *testing.T, handler http.HandlerFunc) *OpenAIBatchClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewOpenAIBatchClient(config.Config{
		OpenAIBaseURL: server.URL,
		OpenAIAPIKey:  "test-key",
		LLMModel:      "gpt-4o-mini",
		BatchWindow:   "24h",
	}, nil, nil)
}

func TestBuildInputJSONL(t *testing.T) {
	client := newTestBatchClient(t, func(w http.ResponseWriter, r *http.Request) {})

	requests := []BatchRequest{
		{CustomID: "gen:origin-1", SystemPrompt: "You are a tutor.", UserPrompt: "Generate units.", Temperature: 0.2},
		{CustomID: "diff:group-1", SystemPrompt: "You are a judge.", UserPrompt: "Judge units.", Temperature: 0.1},
	}

	jsonl, err := client.buildInputJSONL(requests)
	require.NoError(t, err)

	scanner := bufio.NewScanner(bytes.NewReader(jsonl))
	var lines []inputLine
	for scanner.Scan() {
		var line inputLine
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)

	assert.Equal(t, "gen:origin-1", lines[0].CustomID)
	assert.Equal(t, "POST", lines[0].Method)
	assert.Equal(t, "/v1/chat/completions", lines[0].URL)
	assert.Equal(t, "gpt-4o-mini", lines[0].Body["model"])
	assert.Equal(t, 0.2, lines[0].Body["temperature"])

	messages, ok := lines[0].Body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	system := messages[0].(map[string]any)
	assert.Equal(t, "system", system["role"])
	assert.Equal(t, "You are a tutor.", system["content"])
}

func TestUploadBatchFile(t *testing.T) {
	var gotPurpose, gotAuth string
	var gotFile []byte

	client := newTestBatchClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/files", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotPurpose = r.FormValue("purpose")
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		buf := new(bytes.Buffer)
		_, err = buf.ReadFrom(file)
		require.NoError(t, err)
		gotFile = buf.Bytes()

		json.NewEncoder(w).Encode(map[string]string{"id": "file-abc"})
	})

	fileID, err := client.UploadBatchFile(context.Background(), []BatchRequest{
		{CustomID: "gen:o1", SystemPrompt: "s", UserPrompt: "u", Temperature: 0.2},
	})
	require.NoError(t, err)
	assert.Equal(t, "file-abc", fileID)
	assert.Equal(t, "batch", gotPurpose)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Contains(t, string(gotFile), `"custom_id":"gen:o1"`)
}

func TestUploadBatchFileEmpty(t *testing.T) {
	client := newTestBatchClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty upload")
	})

	_, err := client.UploadBatchFile(context.Background(), nil)
	require.Error(t, err)
}

func TestCreateBatch(t *testing.T) {
	client := newTestBatchClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/batches", r.URL.Path)

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "file-abc", payload["input_file_id"])
		assert.Equal(t, "/v1/chat/completions", payload["endpoint"])
		assert.Equal(t, "24h", payload["completion_window"])

		json.NewEncoder(w).Encode(map[string]string{"id": "batch-xyz", "status": "validating"})
	})

	batchID, err := client.CreateBatch(context.Background(), "file-abc")
	require.NoError(t, err)
	assert.Equal(t, "batch-xyz", batchID)
}

func TestGetBatchStatus(t *testing.T) {
	client := newTestBatchClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/batches/batch-xyz", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"id":             "batch-xyz",
			"status":         "completed",
			"output_file_id": "file-out",
			"error_file_id":  nil,
		})
	})

	status, err := client.GetBatchStatus(context.Background(), "batch-xyz")
	require.NoError(t, err)
	assert.Equal(t, BatchStatusCompleted, status.Status)
	require.NotNil(t, status.OutputFileID)
	assert.Equal(t, "file-out", *status.OutputFileID)
	assert.Nil(t, status.ErrorFileID)
	assert.True(t, status.Done())
}

func TestGetBatchStatusInProgressNotDone(t *testing.T) {
	client := newTestBatchClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "batch-xyz", "status": "in_progress"})
	})

	status, err := client.GetBatchStatus(context.Background(), "batch-xyz")
	require.NoError(t, err)
	assert.False(t, status.Done())
}

func TestReadFile(t *testing.T) {
	content := `{"custom_id":"gen:o1","response":{"status_code":200,"body":{}}}` + "\n"
	client := newTestBatchClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/files/file-out/content", r.URL.Path)
		w.Write([]byte(content))
	})

	data, err := client.ReadFile(context.Background(), "file-out")
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestAPIErrorSurfaced(t *testing.T) {
	client := newTestBatchClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	})

	_, err := client.CreateBatch(context.Background(), "file-abc")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "401"))
	assert.True(t, isFatalAPIError(err))
}

func TestContentFromBody(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"content":"{\"generated_units\":[]}"}}]}`)
	content, err := ContentFromBody(body)
	require.NoError(t, err)
	assert.Equal(t, `{"generated_units":[]}`, content)

	_, err = ContentFromBody([]byte(`{"choices":[]}`))
	require.Error(t, err)

	_, err = ContentFromBody([]byte(`not json`))
	require.Error(t, err)
}
