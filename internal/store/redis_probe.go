package store

import (
	"context"
	"time"

	"github.com/feral-file/ff-gift-engine/internal/adapter"
	"github.com/feral-file/ff-gift-engine/internal/domain"
)

type redisProbeMissStore struct {
	client adapter.RedisClient
	keys   Keys
}

// NewRedisProbeMissStore creates the probe miss markers on expiring Redis keys
func NewRedisProbeMissStore(client adapter.RedisClient, keys Keys) ProbeMissStore {
	return &redisProbeMissStore{client: client, keys: keys}
}

func (s *redisProbeMissStore) MarkProbeMiss(ctx context.Context, tokenID domain.TokenID, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.keys.ProbeMiss(tokenID), "1", ttl).Err(); err != nil {
		return classify("mark probe miss", err)
	}
	return nil
}

func (s *redisProbeMissStore) ProbeMissed(ctx context.Context, tokenID domain.TokenID) (bool, error) {
	n, err := s.client.Exists(ctx, s.keys.ProbeMiss(tokenID)).Result()
	if err != nil {
		return false, classify("read probe miss", err)
	}
	return n > 0, nil
}

func (s *redisProbeMissStore) ClearProbeMiss(ctx context.Context, tokenID domain.TokenID) error {
	if err := s.client.Del(ctx, s.keys.ProbeMiss(tokenID)).Err(); err != nil {
		return classify("clear probe miss", err)
	}
	return nil
}
