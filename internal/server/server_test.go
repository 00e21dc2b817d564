package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/fetchd/internal/artifact"
	"github.com/you/fetchd/internal/domain"
	"github.com/you/fetchd/internal/fetch"
	"github.com/you/fetchd/internal/queue"
	"github.com/you/fetchd/internal/storage"
	"github.com/you/fetchd/internal/worker"
)

type failingQueue struct{}

func (failingQueue) Enqueue(ctx context.Context, id string) error {
	return errors.New("redis unreachable")
}
func (failingQueue) Dequeue(ctx context.Context) (string, error) {
	return "", errors.New("redis unreachable")
}

type env struct {
	store      *storage.Memory
	queue      *queue.MemQ
	storageDir string
	ts         *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:      storage.NewMemory(),
		queue:      queue.NewMem(16),
		storageDir: t.TempDir(),
	}
	srv := New(e.store, e.queue, e.storageDir, zap.NewNop())
	e.ts = httptest.NewServer(srv.Router())
	t.Cleanup(e.ts.Close)
	return e
}

func (e *env) submit(t *testing.T, url string) (*http.Response, domain.Job) {
	t.Helper()
	resp, err := http.Post(e.ts.URL+"/v1/jobs", "application/json",
		strings.NewReader(`{"url":"`+url+`"}`))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var job domain.Job
	if resp.StatusCode == http.StatusAccepted {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	}
	return resp, job
}

func TestSubmitCreatesPendingJob(t *testing.T) {
	e := newEnv(t)

	resp, job := e.submit(t, "https://example.com/video")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.Pending, job.Status)

	// The id landed on the queue exactly once.
	id, err := e.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, job.ID, id)

	stored, err := e.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/video", stored.URL)
}

func TestSubmitRejectsBadURL(t *testing.T) {
	e := newEnv(t)

	for _, bad := range []string{"", "   ", "not-a-url", "ftp://example.com/x"} {
		resp, _ := e.submit(t, bad)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "url %q", bad)
	}

	// No job record was created for any rejected submission.
	jobs, err := e.store.List(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSubmitEnqueueFailureFailsJob(t *testing.T) {
	store := storage.NewMemory()
	srv := New(store, failingQueue{}, t.TempDir(), zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/jobs", "application/json",
		strings.NewReader(`{"url":"https://example.com/video"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// The job exists but is Failed, never silently Pending.
	jobs, err := store.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.Failed, jobs[0].Status)
	assert.Contains(t, jobs[0].ErrorMessage, "failed to enqueue job")
}

// ctxStore honors context cancellation on Transition the way a real
// database-backed store does.
type ctxStore struct {
	*storage.Memory
}

func (s ctxStore) Transition(ctx context.Context, id string, next domain.Status, f domain.TransitionFields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Memory.Transition(ctx, id, next, f)
}

func TestSubmitEnqueueFailureSurvivesClientDisconnect(t *testing.T) {
	store := ctxStore{storage.NewMemory()}
	srv := New(store, failingQueue{}, t.TempDir(), zap.NewNop())

	// The client is gone by the time the enqueue failure is handled.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs",
		strings.NewReader(`{"url":"https://example.com/video"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	// The job must still end up Failed, never silently Pending.
	jobs, err := store.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.Failed, jobs[0].Status)
	assert.Contains(t, jobs[0].ErrorMessage, "failed to enqueue job")
}

func TestStatusNotFound(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.ts.URL + "/v1/jobs/2c123456-0000-4000-8000-000000000000")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusReflectsTransitions(t *testing.T) {
	e := newEnv(t)
	_, job := e.submit(t, "https://example.com/video")

	require.NoError(t, e.store.Transition(context.Background(), job.ID, domain.Downloading, domain.TransitionFields{}))
	require.NoError(t, e.store.Transition(context.Background(), job.ID, domain.Completed,
		domain.TransitionFields{ArtifactName: job.ID + ".mp4"}))

	resp, err := http.Get(e.ts.URL + "/v1/jobs/" + job.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got domain.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, domain.Completed, got.Status)
	assert.Equal(t, job.ID+".mp4", got.ArtifactName)
}

func TestListNewestFirst(t *testing.T) {
	e := newEnv(t)
	_, a := e.submit(t, "https://example.com/a")
	_, b := e.submit(t, "https://example.com/b")

	resp, err := http.Get(e.ts.URL + "/v1/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Jobs []domain.Job `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Jobs, 2)
	assert.Equal(t, b.ID, body.Jobs[0].ID)
	assert.Equal(t, a.ID, body.Jobs[1].ID)
}

func completedJob(t *testing.T, e *env, content string) domain.Job {
	t.Helper()
	ctx := context.Background()
	j, err := e.store.Create(ctx, "https://example.com/video")
	require.NoError(t, err)
	name := j.ID + ".mp4"
	require.NoError(t, os.WriteFile(filepath.Join(e.storageDir, name), []byte(content), 0o644))
	require.NoError(t, e.store.Transition(ctx, j.ID, domain.Downloading, domain.TransitionFields{}))
	require.NoError(t, e.store.Transition(ctx, j.ID, domain.Completed, domain.TransitionFields{ArtifactName: name}))
	j, err = e.store.Get(ctx, j.ID)
	require.NoError(t, err)
	return j
}

func TestDownloadCompletedArtifact(t *testing.T) {
	e := newEnv(t)
	job := completedJob(t, e, "media-bytes")

	resp, err := http.Get(e.ts.URL + "/downloads/" + job.ArtifactName)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
}

func TestDownloadUnknownFilename(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Get(e.ts.URL + "/downloads/2c123456-0000-4000-8000-000000000000.mp4")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownloadRejectsFileWithoutJob(t *testing.T) {
	e := newEnv(t)
	// The file physically exists, but no Completed job records it.
	require.NoError(t, os.WriteFile(filepath.Join(e.storageDir, "loose.mp4"), []byte("x"), 0o644))

	resp, err := http.Get(e.ts.URL + "/downloads/loose.mp4")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownloadNotReadyWhileDownloading(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	j, err := e.store.Create(ctx, "https://example.com/video")
	require.NoError(t, err)
	require.NoError(t, e.store.Transition(ctx, j.ID, domain.Downloading, domain.TransitionFields{}))

	resp, err := http.Get(e.ts.URL + "/downloads/" + j.ID + ".mp4")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "in-flight job is 'not ready', not 'not found'")
}

func TestDownloadMismatchedArtifactName(t *testing.T) {
	e := newEnv(t)
	job := completedJob(t, e, "media")

	// Same job id, different extension than the recorded artifact.
	resp, err := http.Get(e.ts.URL + "/downloads/" + job.ID + ".webm")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDownloadFailedJobArtifact(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	j, err := e.store.Create(ctx, "https://example.com/video")
	require.NoError(t, err)
	require.NoError(t, e.store.Transition(ctx, j.ID, domain.Failed,
		domain.TransitionFields{ErrorMessage: "boom"}))

	resp, err := http.Get(e.ts.URL + "/downloads/" + j.ID + ".mp4")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// The whole path for a tool that nests its output: submit over HTTP, let
// the pool resolve and relocate the inner file, then download it back.
func TestDownloadNestedOutputArtifact(t *testing.T) {
	e := newEnv(t)

	pool := worker.NewPool(worker.Options{
		Store: e.store,
		Queue: e.queue,
		Fetcher: fetch.Func(func(ctx context.Context, url, tmpl string) error {
			id := strings.TrimSuffix(filepath.Base(tmpl), ".%(ext)s")
			sub := filepath.Join(filepath.Dir(tmpl), id)
			if err := os.MkdirAll(sub, 0o755); err != nil {
				return err
			}
			return os.WriteFile(filepath.Join(sub, "track.mp3"), []byte("audio"), 0o644)
		}),
		Relocator:  artifact.NewRelocator(e.storageDir, zap.NewNop()),
		ScratchDir: t.TempDir(),
		Size:       1,
		Log:        zap.NewNop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pool.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	resp, job := e.submit(t, "https://example.com/album")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var got domain.Job
	require.Eventually(t, func() bool {
		j, err := e.store.Get(context.Background(), job.ID)
		if err != nil {
			return false
		}
		got = j
		return j.Status.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, domain.Completed, got.Status)

	dl, err := http.Get(e.ts.URL + "/downloads/" + got.ArtifactName)
	require.NoError(t, err)
	defer dl.Body.Close()
	body, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, dl.StatusCode, "a Completed job's artifact must be servable")
	assert.Equal(t, "audio", string(body))
}

func TestDownloadRejectsTraversal(t *testing.T) {
	e := newEnv(t)

	req, err := http.NewRequest(http.MethodGet, e.ts.URL+"/downloads/..%2F..%2Fetc%2Fpasswd", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
}
