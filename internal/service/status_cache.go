package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/gema-coursework/internal/dto"
)

// StatusCache stores derived submission summaries between mutations.
type StatusCache interface {
	Get(ctx context.Context, submissionID uint) (dto.SubmissionStatusResponse, bool, error)
	Set(ctx context.Context, status dto.SubmissionStatusResponse) error
	Invalidate(ctx context.Context, submissionIDs ...uint) error
}

type redisStatusCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStatusCache caches statuses under prefix. A nil client yields a
// cache that never hits.
func NewRedisStatusCache(client *redis.Client, prefix string, ttl time.Duration) StatusCache {
	if prefix == "" {
		prefix = "coursework"
	}
	return &redisStatusCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *redisStatusCache) key(submissionID uint) string {
	return fmt.Sprintf("%s:submission:%d:status", c.prefix, submissionID)
}

func (c *redisStatusCache) Get(ctx context.Context, submissionID uint) (dto.SubmissionStatusResponse, bool, error) {
	if c == nil || c.client == nil {
		return dto.SubmissionStatusResponse{}, false, nil
	}

	raw, err := c.client.Get(ctx, c.key(submissionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return dto.SubmissionStatusResponse{}, false, nil
	}
	if err != nil {
		return dto.SubmissionStatusResponse{}, false, err
	}

	var status dto.SubmissionStatusResponse
	if err := json.Unmarshal(raw, &status); err != nil {
		return dto.SubmissionStatusResponse{}, false, err
	}
	return status, true, nil
}

func (c *redisStatusCache) Set(ctx context.Context, status dto.SubmissionStatusResponse) error {
	if c == nil || c.client == nil || status.SubmissionID == 0 {
		return nil
	}

	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(status.SubmissionID), payload, c.ttl).Err()
}

func (c *redisStatusCache) Invalidate(ctx context.Context, submissionIDs ...uint) error {
	if c == nil || c.client == nil || len(submissionIDs) == 0 {
		return nil
	}

	keys := make([]string, 0, len(submissionIDs))
	for _, id := range submissionIDs {
		if id != 0 {
			keys = append(keys, c.key(id))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
