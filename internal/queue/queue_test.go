package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestQueue(t *testing.T, cfg RetryConfig) *Queue {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&OutboundMessage{}))
	return New(db, cfg)
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q := newTestQueue(t, DefaultRetryConfig())
	ctx := t.Context()

	_, err := q.Enqueue(ctx, "+628111", "hi", nil, nil, 0)
	require.NoError(t, err)

	m, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, StatusProcessing, m.Status)
	require.Equal(t, 1, m.Attempts)

	empty, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Nil(t, empty)
}

func TestDequeuePrefersHigherPriority(t *testing.T) {
	q := newTestQueue(t, DefaultRetryConfig())
	ctx := t.Context()

	_, err := q.Enqueue(ctx, "+628111", "low", nil, nil, 0)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "+628222", "high", nil, nil, 10)
	require.NoError(t, err)

	m, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "high", m.Content)
}

func TestMarkFailedRetriesThenDeadLetters(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, RetryBaseDelay: time.Millisecond, VisibilityTimeout: time.Minute}
	q := newTestQueue(t, cfg)
	ctx := t.Context()

	created, err := q.Enqueue(ctx, "+628111", "hi", nil, nil, 0)
	require.NoError(t, err)

	m, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.MarkFailed(ctx, m.ID, errors.New("boom")))

	time.Sleep(2 * time.Millisecond)
	m, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, created.ID, m.ID)
	require.Equal(t, 2, m.Attempts)

	require.NoError(t, q.MarkFailed(ctx, m.ID, errors.New("boom again")))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Dead)
	require.EqualValues(t, 0, stats.Queued)
}

func TestRecoverStuckRequeuesTimedOutProcessing(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, RetryBaseDelay: time.Second, VisibilityTimeout: time.Millisecond}
	q := newTestQueue(t, cfg)
	ctx := t.Context()

	_, err := q.Enqueue(ctx, "+628111", "hi", nil, nil, 0)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	n, err := q.RecoverStuck(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Queued)
	require.EqualValues(t, 0, stats.Processing)
}

func TestRequeueDeadResetsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 1, RetryBaseDelay: time.Millisecond, VisibilityTimeout: time.Minute}
	q := newTestQueue(t, cfg)
	ctx := t.Context()

	_, err := q.Enqueue(ctx, "+628111", "hi", nil, nil, 0)
	require.NoError(t, err)
	m, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.MarkFailed(ctx, m.ID, errors.New("boom")))

	n, err := q.RequeueDead(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Queued)
	require.EqualValues(t, 0, stats.Dead)

	m, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, 1, m.Attempts)
}
