package queue

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockQueue(t *testing.T) (*Queue, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, "test-worker"), mock
}

func TestEnqueue_DefaultsAppliedAndInsertRuns(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectExec("INSERT INTO queue_tasks").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), string(TaskCrawl),
			sqlmock.AnyArg(), StatusQueued, sqlmock.AnyArg(), 5, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	id, err := q.Enqueue(context.Background(), Task{
		TenantID: uuid.New(),
		RunID:    uuid.New(),
		Type:     TaskCrawl,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestComplete_UpdatesStatus(t *testing.T) {
	q, mock := newMockQueue(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE queue_tasks SET status").
		WithArgs(StatusDone, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, q.Complete(context.Background(), id))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFail_NoRowsAffectedIsError(t *testing.T) {
	q, mock := newMockQueue(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE queue_tasks").
		WithArgs(StatusDeadLetter, StatusFailed, "boom", id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := q.Fail(context.Background(), id, "boom")
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeue_OnlyMatchesFailedStatus(t *testing.T) {
	q, mock := newMockQueue(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE queue_tasks").
		WithArgs(StatusQueued, id, StatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, q.Requeue(context.Background(), id))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoverStale_CountsRequeuedAndDeadLettered(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectExec("UPDATE queue_tasks").
		WithArgs(StatusQueued, StatusClaimed, StatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("UPDATE queue_tasks").
		WithArgs(StatusDeadLetter, StatusClaimed, StatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	requeued, deadLettered, err := q.RecoverStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), requeued)
	assert.Equal(t, int64(1), deadLettered)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHeartbeat_ExtendsLease(t *testing.T) {
	q, mock := newMockQueue(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE queue_tasks SET lease_until").
		WithArgs((5 * time.Minute).String(), id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, q.Heartbeat(context.Background(), id, 5*time.Minute))
	require.NoError(t, mock.ExpectationsWereMet())
}
