package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/feral-file/ff-gift-engine/internal/adapter"
	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/logger"
)

// transitionScript moves status forward only. Returns 1 on success, -1 when the
// current status is terminal and differs from the requested one.
var transitionScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if cur == ARGV[1] then
	if ARGV[2] ~= '' then redis.call('HSETNX', KEYS[1], 'claimer', ARGV[2]) end
	return 1
end
if cur and cur ~= 'active' then
	return -1
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'gift_id', ARGV[3])
if ARGV[2] ~= '' then redis.call('HSET', KEYS[1], 'claimer', ARGV[2]) end
return 1
`)

// setMissingScript writes each field pair with HSETNX and returns the names written
var setMissingScript = redis.NewScript(`
local written = {}
for i = 1, #ARGV, 2 do
	if redis.call('HSETNX', KEYS[1], ARGV[i], ARGV[i + 1]) == 1 then
		table.insert(written, ARGV[i])
	end
end
return written
`)

const maxWatchRetries = 5

type redisGiftStore struct {
	client adapter.RedisClient
	keys   Keys
}

// NewRedisGiftStore creates the Redis-backed gift store
func NewRedisGiftStore(client adapter.RedisClient, keys Keys) GiftStore {
	return &redisGiftStore{client: client, keys: keys}
}

func (s *redisGiftStore) GetGift(ctx context.Context, giftID domain.GiftID) (*domain.Gift, error) {
	fields, err := s.client.HGetAll(ctx, s.keys.Gift(uint64(giftID))).Result()
	if err != nil {
		return nil, classify("get gift", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("gift %d: %w", giftID, domain.ErrNotFound)
	}
	return decodeGift(giftID, fields)
}

func (s *redisGiftStore) UpsertCreated(ctx context.Context, gift domain.Gift) error {
	key := s.keys.Gift(uint64(gift.GiftID))
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, createdFields(gift))
		pipe.HSetNX(ctx, key, FieldStatus, string(domain.GiftStatusActive))
		return nil
	})
	if err != nil {
		return classify("upsert gift", err)
	}
	return nil
}

func (s *redisGiftStore) TransitionStatus(ctx context.Context, giftID domain.GiftID, status domain.GiftStatus, claimer string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, status)
	}

	res, err := transitionScript.Run(ctx, s.client, []string{s.keys.Gift(uint64(giftID))},
		string(status), claimer, giftID.String()).Int()
	if err != nil {
		return classify("transition status", err)
	}
	if res < 0 {
		return fmt.Errorf("%w: gift %d cannot move to %s", domain.ErrInvalidTransition, giftID, status)
	}
	return nil
}

func (s *redisGiftStore) MergeAnnotations(ctx context.Context, giftID domain.GiftID, patch domain.AnnotationPatch, at time.Time) (domain.Annotations, error) {
	if patch.Empty() {
		return s.GetAnnotations(ctx, giftID)
	}

	fields, err := annotationPatchFields(patch, at)
	if err != nil {
		return domain.Annotations{}, err
	}
	fields[FieldGiftID] = giftID.String()

	key := s.keys.Gift(uint64(giftID))
	newHMAC, hmacChanged := fields[FieldEmailHMAC].(string)

	txf := func(tx *redis.Tx) error {
		oldHMAC, err := tx.HGet(ctx, key, FieldEmailHMAC).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			if hmacChanged && oldHMAC != newHMAC {
				if oldHMAC != "" {
					pipe.SRem(ctx, s.keys.EmailIndex(oldHMAC), giftID.String())
				}
				pipe.SAdd(ctx, s.keys.EmailIndex(newHMAC), giftID.String())
			}
			return nil
		})
		return err
	}

	for range maxWatchRetries {
		err = s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return domain.Annotations{}, classify("merge annotations", err)
		}
		return s.GetAnnotations(ctx, giftID)
	}

	logger.WarnCtx(ctx, "Annotation merge kept losing to concurrent writers", zap.Uint64("giftID", uint64(giftID)))
	return domain.Annotations{}, classify("merge annotations", redis.TxFailedErr)
}

func (s *redisGiftStore) GetAnnotations(ctx context.Context, giftID domain.GiftID) (domain.Annotations, error) {
	fields, err := s.client.HGetAll(ctx, s.keys.Gift(uint64(giftID))).Result()
	if err != nil {
		return domain.Annotations{}, classify("get annotations", err)
	}
	if len(fields) == 0 {
		return domain.Annotations{}, fmt.Errorf("gift %d: %w", giftID, domain.ErrNotFound)
	}
	return decodeAnnotations(fields)
}

func (s *redisGiftStore) FindByEmailHMAC(ctx context.Context, hmac string) ([]domain.GiftID, error) {
	members, err := s.client.SMembers(ctx, s.keys.EmailIndex(hmac)).Result()
	if err != nil {
		return nil, classify("find by email hmac", err)
	}

	ids := make([]domain.GiftID, 0, len(members))
	for _, m := range members {
		id, err := domain.ParseGiftID(m)
		if err != nil {
			logger.WarnCtx(ctx, "Skipping malformed email index member", zap.String("member", m))
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids, nil
}

func (s *redisGiftStore) RawFields(ctx context.Context, id uint64) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, s.keys.Gift(id)).Result()
	if err != nil {
		return nil, classify("read gift fields", err)
	}
	return fields, nil
}

func (s *redisGiftStore) SetMissingFields(ctx context.Context, giftID domain.GiftID, fields map[string]string) ([]string, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]interface{}, 0, len(fields)*2)
	for _, name := range names {
		args = append(args, name, fields[name])
	}

	written, err := setMissingScript.Run(ctx, s.client, []string{s.keys.Gift(uint64(giftID))}, args...).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, classify("set missing fields", err)
	}

	if hmac, ok := fields[FieldEmailHMAC]; ok && containsString(written, FieldEmailHMAC) {
		if err := s.client.SAdd(ctx, s.keys.EmailIndex(hmac), giftID.String()).Err(); err != nil {
			return written, classify("index email hmac", err)
		}
	}

	return written, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
