package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestJudgeQueueFIFO(t *testing.T) {
	_, rdb := newTestRedis(t)
	q := NewJudgeQueue(rdb, "judge")
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, JudgeJob{SubmissionID: "a"}))
	require.NoError(t, q.Push(ctx, JudgeJob{SubmissionID: "b", Attempt: 2}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	job, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, &JudgeJob{SubmissionID: "a"}, job)

	job, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, &JudgeJob{SubmissionID: "b", Attempt: 2}, job)
}

func TestJudgeQueueRejectsGarbage(t *testing.T) {
	_, rdb := newTestRedis(t)
	q := NewJudgeQueue(rdb, "judge")
	ctx := context.Background()

	require.NoError(t, rdb.LPush(ctx, "judge", "not json").Err())
	_, err := q.Pop(ctx, time.Second)
	assert.Error(t, err)
}

func TestLockerMutualExclusion(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewLocker(rdb, "judge:lock:", time.Minute)
	ctx := context.Background()

	first, err := l.TryAcquire(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := l.TryAcquire(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, second)

	other, err := l.TryAcquire(ctx, "s2")
	require.NoError(t, err)
	assert.NotNil(t, other)

	released, err := first.Release(ctx)
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists("judge:lock:s1"))

	again, err := l.TryAcquire(ctx, "s1")
	require.NoError(t, err)
	assert.NotNil(t, again)
}

func TestLockReleaseAfterExpiryDoesNotStealNewHolder(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewLocker(rdb, "judge:lock:", time.Second)
	ctx := context.Background()

	stale, err := l.TryAcquire(ctx, "s1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := l.TryAcquire(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, fresh)

	released, err := stale.Release(ctx)
	require.NoError(t, err)
	assert.False(t, released)
	assert.True(t, mr.Exists("judge:lock:s1"))
}
