package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// JudgeJob asks a worker to judge one submission. Attempt counts persistence retries.
type JudgeJob struct {
	SubmissionID string `json:"submission_id"`
	Attempt      int    `json:"attempt"`
}

// JudgeQueue is a Redis list: producers LPUSH, workers BRPOP, so jobs are taken oldest first.
type JudgeQueue struct {
	rdb  *redis.Client
	name string
}

func NewJudgeQueue(rdb *redis.Client, name string) *JudgeQueue {
	return &JudgeQueue{rdb: rdb, name: name}
}

func (q *JudgeQueue) Name() string { return q.name }

func (q *JudgeQueue) Push(ctx context.Context, job JudgeJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal judge job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("push judge job %s: %w", job.SubmissionID, err)
	}
	return nil
}

// Pop blocks up to timeout for the next job. It returns (nil, nil) when the wait timed out.
func (q *JudgeQueue) Pop(ctx context.Context, timeout time.Duration) (*JudgeJob, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	// res is [queueName, value]
	if len(res) < 2 || res[1] == "" {
		return nil, nil
	}
	var job JudgeJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("decode judge job %q: %w", res[1], err)
	}
	return &job, nil
}

func (q *JudgeQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.name).Result()
}
