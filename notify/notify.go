// Package notify carries best-effort "task became ready" nudges over a
// Redis list so idle workers wake promptly instead of polling hot. The
// durable store stays authoritative: a worker that receives a nudge
// still goes through the normal claim, and a lost or stale nudge costs
// nothing but one poll interval of latency.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const readyKey = "claimqueue:ready"

type Notifier struct {
	client *redis.Client
}

func New(ctx context.Context, addr string) (*Notifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Notifier{client: client}, nil
}

func (n *Notifier) Close() error {
	return n.client.Close()
}

// Publish announces that a task became ready. Called by the upstream
// pipeline after it flips the task's ready flag.
func (n *Notifier) Publish(ctx context.Context, taskID int64) error {
	return n.client.LPush(ctx, readyKey, taskID).Err()
}

// Wait blocks up to blockFor for a nudge. The second return value is
// false when the wait timed out with nothing to report.
func (n *Notifier) Wait(ctx context.Context, blockFor time.Duration) (int64, bool, error) {
	result, err := n.client.BRPop(ctx, blockFor, readyKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	if len(result) != 2 {
		return 0, false, fmt.Errorf("unexpected BRPOP result: %v", result)
	}

	id, err := strconv.ParseInt(result[1], 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("malformed ready nudge %q: %w", result[1], err)
	}
	return id, true, nil
}
