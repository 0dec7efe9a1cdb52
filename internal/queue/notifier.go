package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spigell/job-matcher/internal/matching"
)

const (
	DefaultEventsChannel = "EVENT_JOB_SCORED"
	EventJobScored       = "EVENT_JOB_SCORED"
)

// RedisNotifier publishes job completion events on a Redis channel.
type RedisNotifier struct {
	rdb     redis.UniversalClient
	channel string
}

func NewRedisNotifier(rdb redis.UniversalClient, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultEventsChannel
	}
	return &RedisNotifier{rdb: rdb, channel: channel}
}

type jobScoredEvent struct {
	Type        string     `json:"type"`
	JobID       string     `json:"jobId"`
	Total       int        `json:"total"`
	Scored      int        `json:"scored"`
	Failed      int        `json:"failed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (n *RedisNotifier) JobScored(ctx context.Context, agg matching.JobAggregate) error {
	event, err := json.Marshal(jobScoredEvent{
		Type:        EventJobScored,
		JobID:       agg.JobID,
		Total:       agg.Total,
		Scored:      agg.Scored,
		Failed:      agg.Failed,
		CompletedAt: agg.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", EventJobScored, err)
	}

	if err := n.rdb.Publish(ctx, n.channel, event).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", EventJobScored, err)
	}
	return nil
}
