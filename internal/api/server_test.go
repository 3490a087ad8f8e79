package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/leadprobe/internal/config"
	"github.com/ignite/leadprobe/internal/domain"
	"github.com/ignite/leadprobe/internal/mxresolve"
	"github.com/ignite/leadprobe/internal/observability"
	"github.com/ignite/leadprobe/internal/pipeline"
	"github.com/ignite/leadprobe/internal/queue"
)

type fakeRunStore struct {
	runs map[string]*domain.Run

	createErr error
}

func newFakeRunStore() *fakeRunStore { return &fakeRunStore{runs: make(map[string]*domain.Run)} }

func (f *fakeRunStore) CreateRun(ctx context.Context, r *domain.Run) error {
	if f.createErr != nil {
		return f.createErr
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	f.runs[r.ID] = r
	return nil
}
func (f *fakeRunStore) UpsertCompany(ctx context.Context, c *domain.Company) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}
func (f *fakeRunStore) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, errMsg string) error {
	if r, ok := f.runs[runID]; ok {
		r.Status = status
	}
	return nil
}
func (f *fakeRunStore) UpdateRunProgress(ctx context.Context, runID string, progress domain.RunProgress) error {
	if r, ok := f.runs[runID]; ok {
		r.Progress = progress
	}
	return nil
}
func (f *fakeRunStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	return f.runs[runID], nil
}

type fakeTaskQueue struct{}

func (f *fakeTaskQueue) Enqueue(ctx context.Context, t queue.Task) (uuid.UUID, error) {
	return uuid.New(), nil
}
func (f *fakeTaskQueue) RecoverStale(ctx context.Context) (int64, int64, error) { return 0, 0, nil }
func (f *fakeTaskQueue) CountByRun(ctx context.Context, runID uuid.UUID, taskType queue.TaskType, status queue.Status) (int, error) {
	return 0, nil
}

type fakeLimiter struct{ allow bool }

func (f *fakeLimiter) ConsumeWindow(ctx context.Context, scopeKey, windowKey string, limit, cost int, ttl time.Duration) (bool, int64, error) {
	return f.allow, 0, nil
}

type fakeRequeuer struct {
	revivedID uuid.UUID
}

func (f *fakeRequeuer) ReviveDeadLetter(ctx context.Context, id uuid.UUID) error {
	f.revivedID = id
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeRunStore, sqlmock.Sqlmock, *fakeRequeuer) {
	t.Helper()
	st := newFakeRunStore()
	orchestrator := pipeline.New(st, &fakeTaskQueue{}, &fakeLimiter{allow: true}, config.OrchestratorConfig{})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	req := &fakeRequeuer{}
	collector := observability.New(db, mxresolve.NewBehaviorCache(), req, time.Hour)

	return New(orchestrator, collector, st), st, mock, req
}

func TestHandleHealthz_ReturnsOK(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleStartRun_CreatesRun(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	payload, _ := json.Marshal(map[string]any{
		"tenant_id": "tenant-1",
		"domains":   []string{"acme.com"},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/runs/", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var run domain.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, domain.RunQueued, run.Status)
}

func TestHandleStartRun_EmptyDomainsIsBadRequest(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	payload, _ := json.Marshal(map[string]any{"tenant_id": "tenant-1", "domains": []string{}})
	req := httptest.NewRequest(http.MethodPost, "/v1/runs/", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetRun_NotFound(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+uuid.New().String(), nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetRun_ReturnsStoredRun(t *testing.T) {
	s, st, _, _ := newTestServer(t)
	run := &domain.Run{ID: uuid.New().String(), TenantID: "tenant-1", Status: domain.RunRunning}
	st.runs[run.ID] = run

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+run.ID, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, run.ID, got.ID)
}

func TestHandleListDeadLetters_ReturnsEntries(t *testing.T) {
	s, _, mock, _ := newTestServer(t)
	runID := uuid.New()
	mock.ExpectQuery("SELECT id, task_type, payload").
		WithArgs("dead_letter", runID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "task_type", "payload", "attempts", "last_error", "created_at"}).
			AddRow(uuid.New(), "verify", []byte(`{}`), 5, "smtp timeout", time.Now()))

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String()+"/dlq", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var entries []observability.DLQEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "smtp timeout", entries[0].LastError)
}

func TestHandleRequeueDeadLetter_DelegatesToCollector(t *testing.T) {
	s, _, _, req := newTestServer(t)
	jobID := uuid.New()

	httpReq := httptest.NewRequest(http.MethodPost, "/v1/runs/"+uuid.New().String()+"/dlq/"+jobID.String()+"/requeue", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httpReq)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, jobID, req.revivedID)
}
