package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/raphaelgruber/knowforge-go/internal/db"
	"github.com/raphaelgruber/knowforge-go/internal/llm"
	"github.com/raphaelgruber/knowforge-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// memStore is an in-memory Store with real compare-and-swap semantics.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*models.BatchJob // key: runID/batchType
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*models.BatchJob)}
}

func jobKey(runID, batchType string) string { return runID + "/" + batchType }

func (s *memStore) CreateOrGetJob(_ context.Context, runID, batchType string) (*models.BatchJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobKey(runID, batchType)]; ok {
		copied := *job
		return &copied, false, nil
	}
	job := &models.BatchJob{
		ID:        surrealmodels.NewRecordID("batch_job", uuid.New().String()),
		RunID:     runID,
		BatchType: batchType,
		Status:    models.JobStatusPendingSubmission,
	}
	s.jobs[jobKey(runID, batchType)] = job
	copied := *job
	return &copied, true, nil
}

func (s *memStore) GetJob(_ context.Context, runID, batchType string) (*models.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobKey(runID, batchType)]
	if !ok {
		return nil, nil
	}
	copied := *job
	return &copied, nil
}

func (s *memStore) CASUpdateJobStatus(_ context.Context, jobID string, expected, next models.JobStatus, fields db.JobFields) (*models.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if models.MustRecordIDString(job.ID) != jobID {
			continue
		}
		if job.Status != expected {
			copied := *job
			return &copied, fmt.Errorf("%w: expected %q, found %q", db.ErrConcurrencyConflict, expected, job.Status)
		}
		job.Status = next
		if fields.ProviderBatchID != nil {
			job.ProviderBatchID = fields.ProviderBatchID
		}
		if fields.OutputFileID != nil {
			job.OutputFileID = fields.OutputFileID
		}
		if fields.ErrorFileID != nil {
			job.ErrorFileID = fields.ErrorFileID
		}
		if fields.LastError != nil {
			job.LastError = fields.LastError
		}
		if fields.IncrementAttempts {
			job.Attempts++
		}
		copied := *job
		return &copied, nil
	}
	return nil, db.ErrNotFound
}

// fakeBatchClient counts provider calls and serves scripted responses.
type fakeBatchClient struct {
	mu          sync.Mutex
	uploads     int
	creates     int
	uploadErr   error
	createErr   error
	statusErr   error
	status      llm.BatchStatus
	files       map[string][]byte
	readFileErr map[string]error
}

func newFakeBatchClient() *fakeBatchClient {
	return &fakeBatchClient{
		files:       make(map[string][]byte),
		readFileErr: make(map[string]error),
	}
}

func (f *fakeBatchClient) UploadBatchFile(_ context.Context, requests []llm.BatchRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploads++
	return "file-in-1", nil
}

func (f *fakeBatchClient) CreateBatch(_ context.Context, inputFileID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.creates++
	return "batch-1", nil
}

func (f *fakeBatchClient) GetBatchStatus(_ context.Context, batchID string) (*llm.BatchStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	copied := f.status
	copied.ID = batchID
	return &copied, nil
}

func (f *fakeBatchClient) ReadFile(_ context.Context, fileID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readFileErr[fileID]; err != nil {
		return nil, err
	}
	data, ok := f.files[fileID]
	if !ok {
		return nil, fmt.Errorf("unknown file %s", fileID)
	}
	return data, nil
}

// fakeIngestor records ingest calls.
type fakeIngestor struct {
	mu       sync.Mutex
	calls    int
	lastOut  []byte
	lastErrs []byte
	err      error
}

func (f *fakeIngestor) Ingest(_ context.Context, runID, batchType string, output, errorFile []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls++
	f.lastOut = output
	f.lastErrs = errorFile
	return nil
}

func newTestCoordinator() (*Coordinator, *memStore, *fakeBatchClient, *fakeIngestor) {
	store := newMemStore()
	client := newFakeBatchClient()
	ingestor := &fakeIngestor{}
	return New(store, client, ingestor, nil), store, client, ingestor
}

func someRequests() []llm.BatchRequest {
	return []llm.BatchRequest{{CustomID: "gen:o1", SystemPrompt: "s", UserPrompt: "u", Temperature: 0.2}}
}

func TestSubmitThenSkip(t *testing.T) {
	ctx := context.Background()
	coord, _, client, _ := newTestCoordinator()

	out, err := coord.Submit(ctx, "r1", models.BatchTypeGeneration, someRequests())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmitted, out.Kind)
	assert.Equal(t, models.JobStatusSubmitted, out.Job.Status)
	require.NotNil(t, out.Job.ProviderBatchID)
	assert.Equal(t, "batch-1", *out.Job.ProviderBatchID)
	assert.Equal(t, 1, out.Job.Attempts)

	// Re-submitting must not touch the provider again.
	again, err := coord.Submit(ctx, "r1", models.BatchTypeGeneration, someRequests())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, again.Kind)
	assert.Equal(t, "batch-1", *again.Job.ProviderBatchID)
	assert.Equal(t, 1, client.uploads)
	assert.Equal(t, 1, client.creates)
}

func TestSubmitNothingToSubmit(t *testing.T) {
	ctx := context.Background()
	coord, _, client, _ := newTestCoordinator()

	out, err := coord.Submit(ctx, "r1", models.BatchTypeDifficulty, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, out.Kind)
	assert.Equal(t, models.JobStatusPendingSubmission, out.Job.Status)
	assert.Equal(t, 0, client.uploads)
}

func TestSubmitUploadFailureThenRetry(t *testing.T) {
	ctx := context.Background()
	coord, store, client, _ := newTestCoordinator()
	client.uploadErr = errors.New("invalid api key")

	out, err := coord.Submit(ctx, "r1", models.BatchTypeGeneration, someRequests())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, models.JobStatusSubmissionFailed, out.Job.Status)
	require.NotNil(t, out.Job.LastError)
	assert.Contains(t, *out.Job.LastError, "invalid api key")

	// The job stays failed until an explicit re-submit, which retries.
	client.uploadErr = nil
	again, err := coord.Submit(ctx, "r1", models.BatchTypeGeneration, someRequests())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmitted, again.Kind)

	job, err := store.GetJob(ctx, "r1", models.BatchTypeGeneration)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSubmitted, job.Status)
	assert.Equal(t, 2, job.Attempts)
}

func TestPollWhileInProgress(t *testing.T) {
	ctx := context.Background()
	coord, store, client, _ := newTestCoordinator()

	_, err := coord.Submit(ctx, "r1", models.BatchTypeGeneration, someRequests())
	require.NoError(t, err)

	client.status = llm.BatchStatus{Status: llm.BatchStatusInProgress}
	out, err := coord.Poll(ctx, "r1", models.BatchTypeGeneration)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmitted, out.Kind)

	job, err := store.GetJob(ctx, "r1", models.BatchTypeGeneration)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSubmitted, job.Status)
}

func TestPollCompletedRecordsFiles(t *testing.T) {
	ctx := context.Background()
	coord, _, client, _ := newTestCoordinator()

	_, err := coord.Submit(ctx, "r1", models.BatchTypeGeneration, someRequests())
	require.NoError(t, err)

	outFile := "file-out-1"
	errFile := "file-err-1"
	client.status = llm.BatchStatus{
		Status:       llm.BatchStatusCompleted,
		OutputFileID: &outFile,
		ErrorFileID:  &errFile,
	}

	out, err := coord.Poll(ctx, "r1", models.BatchTypeGeneration)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessing, out.Kind)
	assert.Equal(t, models.JobStatusPendingProcessing, out.Job.Status)
	require.NotNil(t, out.Job.OutputFileID)
	assert.Equal(t, outFile, *out.Job.OutputFileID)
	require.NotNil(t, out.Job.ErrorFileID)
	assert.Equal(t, errFile, *out.Job.ErrorFileID)
}

func TestPollProviderExpired(t *testing.T) {
	ctx := context.Background()
	coord, _, client, _ := newTestCoordinator()

	_, err := coord.Submit(ctx, "r1", models.BatchTypeGeneration, someRequests())
	require.NoError(t, err)

	client.status = llm.BatchStatus{Status: llm.BatchStatusExpired}
	out, err := coord.Poll(ctx, "r1", models.BatchTypeGeneration)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, models.JobStatusSubmissionFailed, out.Job.Status)
	assert.Contains(t, out.Reason, "expired")
}

func TestPollTransientErrorLeavesJobUntouched(t *testing.T) {
	ctx := context.Background()
	coord, store, client, _ := newTestCoordinator()

	_, err := coord.Submit(ctx, "r1", models.BatchTypeGeneration, someRequests())
	require.NoError(t, err)

	client.statusErr = errors.New("connection reset")
	_, err = coord.Poll(ctx, "r1", models.BatchTypeGeneration)
	require.Error(t, err)

	job, err := store.GetJob(ctx, "r1", models.BatchTypeGeneration)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSubmitted, job.Status)
}

func TestPollMissingJob(t *testing.T) {
	coord, _, _, _ := newTestCoordinator()
	_, err := coord.Poll(context.Background(), "r-none", models.BatchTypeGeneration)
	require.ErrorIs(t, err, db.ErrNotFound)
}

// submitAndComplete drives a job to PENDING_PROCESSING with result files.
func submitAndComplete(t *testing.T, coord *Coordinator, client *fakeBatchClient, runID string, output, errorFile []byte) {
	t.Helper()
	ctx := context.Background()

	_, err := coord.Submit(ctx, runID, models.BatchTypeGeneration, someRequests())
	require.NoError(t, err)

	outFile := "file-out-1"
	client.files[outFile] = output
	status := llm.BatchStatus{Status: llm.BatchStatusCompleted, OutputFileID: &outFile}
	if errorFile != nil {
		errFile := "file-err-1"
		client.files[errFile] = errorFile
		status.ErrorFileID = &errFile
	}
	client.status = status

	_, err = coord.Poll(ctx, runID, models.BatchTypeGeneration)
	require.NoError(t, err)
}

func TestProcessThenSkip(t *testing.T) {
	ctx := context.Background()
	coord, _, client, ingestor := newTestCoordinator()
	submitAndComplete(t, coord, client, "r1", []byte("output-lines"), []byte("error-lines"))

	out, err := coord.Process(ctx, "r1", models.BatchTypeGeneration)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.Kind)
	assert.Equal(t, models.JobStatusCompleted, out.Job.Status)
	assert.Equal(t, 1, ingestor.calls)
	assert.Equal(t, []byte("output-lines"), ingestor.lastOut)
	assert.Equal(t, []byte("error-lines"), ingestor.lastErrs)

	// Re-processing a completed job writes nothing.
	again, err := coord.Process(ctx, "r1", models.BatchTypeGeneration)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, again.Kind)
	assert.Equal(t, 1, ingestor.calls)
}

func TestProcessNotReady(t *testing.T) {
	ctx := context.Background()
	coord, _, _, ingestor := newTestCoordinator()

	_, err := coord.Submit(ctx, "r1", models.BatchTypeGeneration, someRequests())
	require.NoError(t, err)

	out, err := coord.Process(ctx, "r1", models.BatchTypeGeneration)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, out.Kind)
	assert.Equal(t, 0, ingestor.calls)
}

func TestProcessIngestFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	coord, store, client, ingestor := newTestCoordinator()
	submitAndComplete(t, coord, client, "r1", []byte("output-lines"), nil)

	ingestor.err = errors.New("store unavailable")
	out, err := coord.Process(ctx, "r1", models.BatchTypeGeneration)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, models.JobStatusProcessingFailed, out.Job.Status)

	// File references survive the failure, so the retry skips the provider
	// poll and goes straight back to the download.
	job, err := store.GetJob(ctx, "r1", models.BatchTypeGeneration)
	require.NoError(t, err)
	require.NotNil(t, job.OutputFileID)

	ingestor.err = nil
	retry, err := coord.Process(ctx, "r1", models.BatchTypeGeneration)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, retry.Kind)
	assert.Equal(t, 1, ingestor.calls)
}

func TestProcessUnreadableErrorFileIsAdvisory(t *testing.T) {
	ctx := context.Background()
	coord, _, client, ingestor := newTestCoordinator()
	submitAndComplete(t, coord, client, "r1", []byte("output-lines"), []byte("error-lines"))
	client.readFileErr["file-err-1"] = errors.New("gone")

	out, err := coord.Process(ctx, "r1", models.BatchTypeGeneration)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.Kind)
	assert.Nil(t, ingestor.lastErrs)
}

func TestAbandonSubmittedJob(t *testing.T) {
	ctx := context.Background()
	coord, _, _, _ := newTestCoordinator()

	_, err := coord.Submit(ctx, "r1", models.BatchTypeGeneration, someRequests())
	require.NoError(t, err)

	out, err := coord.Abandon(ctx, "r1", models.BatchTypeGeneration, "stuck for 48h")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, models.JobStatusSubmissionFailed, out.Job.Status)

	// Only submitted jobs can be abandoned.
	again, err := coord.Abandon(ctx, "r1", models.BatchTypeGeneration, "again")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, again.Kind)
}

func TestFullLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	coord, _, client, ingestor := newTestCoordinator()

	// Fresh job: submit moves PENDING_SUBMISSION -> SUBMITTED.
	out, err := coord.Submit(ctx, "r1", models.BatchTypeGeneration, someRequests())
	require.NoError(t, err)
	require.Equal(t, OutcomeSubmitted, out.Kind)

	// A duplicate trigger is absorbed.
	dup, err := coord.Submit(ctx, "r1", models.BatchTypeGeneration, someRequests())
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, dup.Kind)
	require.Equal(t, *out.Job.ProviderBatchID, *dup.Job.ProviderBatchID)

	// Poll before provider completion: still submitted.
	client.status = llm.BatchStatus{Status: llm.BatchStatusValidating}
	polled, err := coord.Poll(ctx, "r1", models.BatchTypeGeneration)
	require.NoError(t, err)
	require.Equal(t, OutcomeSubmitted, polled.Kind)

	// Provider finishes: poll records the output file.
	outFile := "file-out-1"
	client.files[outFile] = []byte("results")
	client.status = llm.BatchStatus{Status: llm.BatchStatusCompleted, OutputFileID: &outFile}
	polled, err = coord.Poll(ctx, "r1", models.BatchTypeGeneration)
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessing, polled.Kind)

	// Process ingests and completes.
	processed, err := coord.Process(ctx, "r1", models.BatchTypeGeneration)
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, processed.Kind)
	require.Equal(t, 1, ingestor.calls)

	// Everything downstream of COMPLETED is a no-op.
	finalPoll, err := coord.Poll(ctx, "r1", models.BatchTypeGeneration)
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, finalPoll.Kind)
	finalProc, err := coord.Process(ctx, "r1", models.BatchTypeGeneration)
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, finalProc.Kind)
	require.Equal(t, 1, client.uploads)
}
