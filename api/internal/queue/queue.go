// Package queue implements the broker contract the worker and HTTP
// handler share: a reliable FIFO job queue, a per-job pub/sub channel,
// and a short-lived TTL result store, all backed by Redis.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/turbo-run/turbo/api/internal/types"
)

const (
	jobsKey        = "turbo:jobs"
	resultTTL      = 3600 * time.Second
	popBlockPeriod = 5 * time.Second
)

func resultChannel(jobID string) string {
	return "turbo:job:" + jobID
}

func resultKey(jobID string) string {
	return "turbo:result:" + jobID
}

// Queue is the Redis-backed broker.
type Queue struct {
	client *redis.Client
	logger *logrus.Entry
}

// New connects to the broker at the given Redis URL.
func New(redisURL string, logger *logrus.Logger) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	return &Queue{client: client, logger: logger.WithField("component", "queue")}, nil
}

// Ping verifies connectivity, used for the health endpoint.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (q *Queue) Close() error {
	return q.client.Close()
}

// PushJob serializes job as JSON and right-pushes it onto turbo:jobs.
func (q *Queue) PushJob(ctx context.Context, job types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to serialize job: %w", err)
	}
	if err := q.client.RPush(ctx, jobsKey, data).Err(); err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}
	return nil
}

// PopJob blocks until a job is available (polling in popBlockPeriod
// windows so a cancelled context is observed promptly) and returns it.
func (q *Queue) PopJob(ctx context.Context) (*types.Job, error) {
	for {
		result, err := q.client.BLPop(ctx, popBlockPeriod, jobsKey).Result()
		if err == redis.Nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to pop job: %w", err)
		}

		if len(result) != 2 {
			return nil, fmt.Errorf("unexpected BLPOP reply shape")
		}

		var job types.Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			return nil, fmt.Errorf("failed to deserialize job: %w", err)
		}
		return &job, nil
	}
}

// PublishResult publishes the result on the job's channel and then writes
// it to the TTL store. Either step may fail independently: a publish failure
// is logged here and the store step still runs; a store failure is returned
// to the caller (the worker), which logs and moves on.
func (q *Queue) PublishResult(ctx context.Context, jobID string, result types.JobResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to serialize result: %w", err)
	}

	if err := q.client.Publish(ctx, resultChannel(jobID), data).Err(); err != nil {
		q.logger.WithError(err).Warnf("failed to publish result for job %s", jobID)
	}

	if err := q.client.Set(ctx, resultKey(jobID), data, resultTTL).Err(); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}

	return nil
}

// WaitForResult implements the subscribe-before-check protocol: subscribe
// to the job's result channel first, then check the TTL key for a value
// that may have already been published, and only then block on the next
// pub/sub message. This ordering is mandatory — checking the key before
// subscribing can lose a result published in the gap between the two.
func (q *Queue) WaitForResult(ctx context.Context, jobID string) (*types.JobResult, error) {
	sub := q.client.Subscribe(ctx, resultChannel(jobID))
	defer sub.Close()

	// Ensure the subscription is active before checking the key, per the
	// mandatory ordering above.
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe to result channel: %w", err)
	}

	if existing, err := q.client.Get(ctx, resultKey(jobID)).Result(); err == nil {
		var result types.JobResult
		if err := json.Unmarshal([]byte(existing), &result); err != nil {
			return nil, fmt.Errorf("failed to deserialize stored result: %w", err)
		}
		return &result, nil
	} else if err != redis.Nil {
		q.logger.WithError(err).Warn("failed to read result key, falling back to pub/sub")
	}

	ch := sub.Channel()
	select {
	case msg := <-ch:
		var result types.JobResult
		if err := json.Unmarshal([]byte(msg.Payload), &result); err != nil {
			return nil, fmt.Errorf("failed to deserialize published result: %w", err)
		}
		return &result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
