package observability

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/leadprobe/internal/mxresolve"
)

type fakeRequeuer struct {
	revivedID uuid.UUID
	err       error
}

func (f *fakeRequeuer) ReviveDeadLetter(ctx context.Context, id uuid.UUID) error {
	f.revivedID = id
	return f.err
}

func newMockCollector(t *testing.T) (*Collector, sqlmock.Sqlmock, *fakeRequeuer) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	req := &fakeRequeuer{}
	c := New(db, mxresolve.NewBehaviorCache(), req, time.Hour)
	return c, mock, req
}

func TestQueueDepth_AggregatesByTypeAndStatus(t *testing.T) {
	c, mock, _ := newMockCollector(t)
	mock.ExpectQuery("SELECT task_type, status, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"task_type", "status", "count"}).
			AddRow("verify", "queued", 3).
			AddRow("crawl", "done", 10))

	depth, err := c.queueDepth(context.Background())
	require.NoError(t, err)
	require.Len(t, depth, 2)
	assert.Equal(t, 3, depth[0].Count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeadLetters_FiltersByRunWhenProvided(t *testing.T) {
	c, mock, _ := newMockCollector(t)
	runID := uuid.New()
	mock.ExpectQuery("SELECT id, task_type, payload").
		WithArgs("dead_letter", runID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "task_type", "payload", "attempts", "last_error", "created_at"}).
			AddRow(uuid.New(), "verify", []byte(`{}`), 5, "smtp timeout", time.Now()))

	entries, err := c.DeadLetters(context.Background(), &runID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "smtp timeout", entries[0].LastError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeue_DelegatesToReviveDeadLetter(t *testing.T) {
	c, _, req := newMockCollector(t)
	id := uuid.New()
	require.NoError(t, c.Requeue(context.Background(), id))
	assert.Equal(t, id, req.revivedID)
}

func TestCollector_LatestReflectsCollectedSnapshot(t *testing.T) {
	c, mock, _ := newMockCollector(t)
	mock.ExpectQuery("SELECT task_type, status, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"task_type", "status", "count"}).AddRow("verify", "queued", 1))
	mock.ExpectQuery("SELECT worker_id, MAX").
		WillReturnRows(sqlmock.NewRows([]string{"worker_id", "max", "active"}))

	c.collect(context.Background(), nil)
	snap := c.Latest()
	require.Len(t, snap.QueueDepth, 1)
	assert.Equal(t, 1, snap.QueueDepth[0].Count)
}

func TestCollector_StartStopDoesNotPanic(t *testing.T) {
	c, mock, _ := newMockCollector(t)
	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery("SELECT task_type, status, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"task_type", "status", "count"}))
	mock.ExpectQuery("SELECT worker_id, MAX").
		WillReturnRows(sqlmock.NewRows([]string{"worker_id", "max", "active"}))

	c.Start(context.Background(), nil)
	c.Stop()
}
