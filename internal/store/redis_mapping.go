package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/feral-file/ff-gift-engine/internal/adapter"
	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/logger"
)

// bindScript writes mapping:token:<t> and mapping:gift:<g> together.
// Returns {1} when written, {0} when the identical pair already exists,
// {-1, giftId} when the token maps elsewhere and {-2, tokenId} when the gift does.
var bindScript = redis.NewScript(`
local g = redis.call('GET', KEYS[1])
local t = redis.call('GET', KEYS[2])
if g and g ~= ARGV[1] then return {-1, g} end
if t and t ~= ARGV[2] then return {-2, t} end
if g and t then return {0} end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
return {1}
`)

type redisMappingStore struct {
	client adapter.RedisClient
	keys   Keys
}

// NewRedisMappingStore creates the Redis-backed identifier mapping store
func NewRedisMappingStore(client adapter.RedisClient, keys Keys) MappingStore {
	return &redisMappingStore{client: client, keys: keys}
}

func (s *redisMappingStore) GiftIDForToken(ctx context.Context, tokenID domain.TokenID) (domain.GiftID, error) {
	v, err := s.client.Get(ctx, s.keys.TokenMapping(tokenID)).Result()
	if err != nil {
		return 0, classify(fmt.Sprintf("mapping for token %d", tokenID), err)
	}
	return domain.ParseGiftID(v)
}

func (s *redisMappingStore) TokenIDForGift(ctx context.Context, giftID domain.GiftID) (domain.TokenID, error) {
	v, err := s.client.Get(ctx, s.keys.GiftMapping(giftID)).Result()
	if err != nil {
		return 0, classify(fmt.Sprintf("mapping for gift %d", giftID), err)
	}
	return domain.ParseTokenID(v)
}

func (s *redisMappingStore) Bind(ctx context.Context, tokenID domain.TokenID, giftID domain.GiftID) (bool, error) {
	res, err := bindScript.Run(ctx, s.client,
		[]string{s.keys.TokenMapping(tokenID), s.keys.GiftMapping(giftID)},
		giftID.String(), tokenID.String(),
	).Slice()
	if err != nil {
		return false, classify("bind mapping", err)
	}
	if len(res) == 0 {
		return false, classify("bind mapping", fmt.Errorf("empty script reply"))
	}

	code, _ := res[0].(int64)
	switch code {
	case 1:
		return true, nil
	case 0:
		return false, nil
	}

	existing := ""
	if len(res) > 1 {
		existing, _ = res[1].(string)
	}
	cerr := &domain.ConsistencyError{
		Kind:    domain.ConsistencyMappingCollision,
		TokenID: tokenID,
		GiftID:  giftID,
	}
	if code == -1 {
		cerr.Detail = fmt.Sprintf("token already mapped to gift %s", existing)
	} else {
		cerr.Detail = fmt.Sprintf("gift already mapped to token %s", existing)
	}

	logger.ErrorCtx(ctx, cerr,
		zap.Uint64("tokenID", uint64(tokenID)),
		zap.Uint64("giftID", uint64(giftID)),
		zap.String("existing", existing))

	return false, cerr
}

func (s *redisMappingStore) ListMappings(ctx context.Context, fn func(tokenID domain.TokenID, giftID domain.GiftID) error) error {
	prefix := strings.TrimSuffix(s.keys.TokenMappingPattern(), "*")

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.keys.TokenMappingPattern(), 200).Result()
		if err != nil {
			return classify("scan mappings", err)
		}

		for _, key := range keys {
			tokenID, err := domain.ParseTokenID(strings.TrimPrefix(key, prefix))
			if err != nil {
				logger.WarnCtx(ctx, "Skipping malformed mapping key", zap.String("key", key))
				continue
			}
			giftID, err := s.GiftIDForToken(ctx, tokenID)
			if err != nil {
				return err
			}
			if err := fn(tokenID, giftID); err != nil {
				return err
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
