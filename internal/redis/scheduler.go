package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/crawler-sentinel/internal/jobs"
)

// Scheduler implements jobs.Scheduler with a sorted set scored by due time in unix milliseconds.
// Members are "name|key".
type Scheduler struct {
	client *Client
}

// NewScheduler creates a Redis-backed scheduler.
func NewScheduler(client *Client) *Scheduler {
	return &Scheduler{client: client}
}

func (s *Scheduler) setKey() string {
	return s.client.key("jobs")
}

func member(name, key string) string {
	return name + "|" + key
}

// Schedule adds the job with ZADD NX so a pending job is never moved.
func (s *Scheduler) Schedule(ctx context.Context, job jobs.Job) (bool, error) {
	added, err := s.client.rdb.ZAddNX(ctx, s.setKey(), goredis.Z{
		Score:  float64(job.RunAt.UnixMilli()),
		Member: member(job.Name, job.Key),
	}).Result()
	if err != nil {
		return false, fmt.Errorf("schedule %s/%s: %w", job.Name, job.Key, err)
	}
	return added == 1, nil
}

// IsScheduled reports whether the member is present in the set.
func (s *Scheduler) IsScheduled(ctx context.Context, name, key string) (bool, error) {
	err := s.client.rdb.ZScore(ctx, s.setKey(), member(name, key)).Err()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup %s/%s: %w", name, key, err)
	}
	return true, nil
}

// Due reads members scored at or before now and claims each one with ZREM. A member removed
// by another instance in between is skipped.
func (s *Scheduler) Due(ctx context.Context, now time.Time, limit int) ([]jobs.Job, error) {
	rng := &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		rng.Count = int64(limit)
	}
	entries, err := s.client.rdb.ZRangeByScoreWithScores(ctx, s.setKey(), rng).Result()
	if err != nil {
		return nil, fmt.Errorf("range due jobs: %w", err)
	}

	due := make([]jobs.Job, 0, len(entries))
	for _, entry := range entries {
		m, ok := entry.Member.(string)
		if !ok {
			continue
		}
		removed, err := s.client.rdb.ZRem(ctx, s.setKey(), m).Result()
		if err != nil {
			return due, fmt.Errorf("claim job %s: %w", m, err)
		}
		if removed == 0 {
			continue
		}
		name, key, _ := strings.Cut(m, "|")
		due = append(due, jobs.Job{
			Name:  name,
			Key:   key,
			RunAt: time.UnixMilli(int64(entry.Score)),
		})
	}
	return due, nil
}
