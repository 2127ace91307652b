package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/feral-file/ff-gift-engine/internal/adapter"
	"github.com/feral-file/ff-gift-engine/internal/domain"
)

type redisAggregateStore struct {
	client adapter.RedisClient
	keys   Keys
}

// NewRedisAggregateStore creates the Redis-backed campaign aggregate store
func NewRedisAggregateStore(client adapter.RedisClient, keys Keys) AggregateStore {
	return &redisAggregateStore{client: client, keys: keys}
}

func decodeAggregate(campaignID string, raw string) (*domain.CampaignAggregate, error) {
	agg := domain.NewCampaignAggregate(campaignID)
	if err := json.Unmarshal([]byte(raw), agg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal aggregate %s: %w", campaignID, err)
	}
	if agg.Gifts == nil {
		agg.Gifts = make(map[domain.GiftID]*domain.GiftProjection)
	}
	return agg, nil
}

func (s *redisAggregateStore) LoadAggregate(ctx context.Context, campaignID string) (*domain.CampaignAggregate, error) {
	raw, err := s.client.Get(ctx, s.keys.Aggregate(campaignID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.NewCampaignAggregate(campaignID), nil
	}
	if err != nil {
		return nil, classify("load aggregate", err)
	}
	return decodeAggregate(campaignID, raw)
}

func (s *redisAggregateStore) CompareAndSwapAggregate(ctx context.Context, agg *domain.CampaignAggregate, expected uint64) error {
	key := s.keys.Aggregate(agg.CampaignID)

	txf := func(tx *redis.Tx) error {
		var current uint64
		raw, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			stored, err := decodeAggregate(agg.CampaignID, raw)
			if err != nil {
				return err
			}
			current = stored.Version
		}
		if current != expected {
			return ErrVersionConflict
		}

		next := *agg
		next.Version = expected + 1
		// The whole document, per-gift projections included, is rewritten on every swap
		doc, err := json.Marshal(&next)
		if err != nil {
			return fmt.Errorf("failed to marshal aggregate: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			pipe.SAdd(ctx, s.keys.Campaigns(), agg.CampaignID)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	switch {
	case err == nil:
		agg.Version = expected + 1
		return nil
	case errors.Is(err, ErrVersionConflict), errors.Is(err, redis.TxFailedErr):
		return ErrVersionConflict
	}
	return classify("write aggregate", err)
}

func (s *redisAggregateStore) ListCampaigns(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.keys.Campaigns()).Result()
	if err != nil {
		return nil, classify("list campaigns", err)
	}
	sort.Strings(ids)
	return ids, nil
}
