package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/feral-file/ff-gift-engine/internal/adapter"
)

// advanceScript stores max(current, value) and returns the resulting value
var advanceScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return cur
end
redis.call('SET', KEYS[1], ARGV[1])
return ARGV[1]
`)

type redisCheckpointStore struct {
	client adapter.RedisClient
	keys   Keys
}

// NewRedisCheckpointStore creates the Redis-backed checkpoint store
func NewRedisCheckpointStore(client adapter.RedisClient, keys Keys) CheckpointStore {
	return &redisCheckpointStore{client: client, keys: keys}
}

func (s *redisCheckpointStore) GetCheckpoint(ctx context.Context, name string) (uint64, bool, error) {
	v, err := s.client.Get(ctx, s.keys.Checkpoint(name)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify("get checkpoint", err)
	}
	return v, true, nil
}

func (s *redisCheckpointStore) AdvanceCheckpoint(ctx context.Context, name string, value uint64) (uint64, error) {
	v, err := advanceScript.Run(ctx, s.client, []string{s.keys.Checkpoint(name)}, value).Uint64()
	if err != nil {
		return 0, classify("advance checkpoint", err)
	}
	return v, nil
}
