package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/feral-file/ff-gift-engine/internal/adapter"
	"github.com/feral-file/ff-gift-engine/internal/domain"
)

// appendScript claims the event id, assigns the next offset and stores the event
// in one atomic step. Returns the new offset or 0 for a duplicate.
var appendScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], '0') == 0 then
	return 0
end
local off = redis.call('INCR', KEYS[2])
redis.call('SET', KEYS[1], off)
redis.call('ZADD', KEYS[3], off, off)
redis.call('HSET', KEYS[4], off, ARGV[1])
return off
`)

const defaultReadLimit = 500

type redisEventLog struct {
	client adapter.RedisClient
	keys   Keys
}

// NewRedisEventLog creates the Redis-backed canonical event log
func NewRedisEventLog(client adapter.RedisClient, keys Keys) EventLog {
	return &redisEventLog{client: client, keys: keys}
}

func (l *redisEventLog) Append(ctx context.Context, event *domain.CanonicalEvent) (bool, error) {
	if event.EventID == "" {
		return false, fmt.Errorf("append: event id is required")
	}

	doc := *event
	doc.Offset = 0
	raw, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("failed to marshal event: %w", err)
	}

	offset, err := appendScript.Run(ctx, l.client,
		[]string{l.keys.EventDedup(event.EventID), l.keys.EventSeq(), l.keys.EventLog(), l.keys.EventData()},
		string(raw),
	).Uint64()
	if err != nil {
		return false, classify("append event", err)
	}
	if offset == 0 {
		return false, nil
	}

	event.Offset = offset
	return true, nil
}

func (l *redisEventLog) Read(ctx context.Context, query domain.EventQuery) ([]domain.CanonicalEvent, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultReadLimit
	}

	lo := "(" + strconv.FormatUint(query.After, 10)
	hi := "+inf"
	if query.Before > 0 {
		hi = "(" + strconv.FormatUint(query.Before, 10)
	}
	rangeBy := &redis.ZRangeBy{Min: lo, Max: hi, Count: int64(limit)}

	var offsets []string
	var err error
	if query.Order == domain.OrderDesc {
		offsets, err = l.client.ZRevRangeByScore(ctx, l.keys.EventLog(), rangeBy).Result()
	} else {
		offsets, err = l.client.ZRangeByScore(ctx, l.keys.EventLog(), rangeBy).Result()
	}
	if err != nil {
		return nil, classify("read event log", err)
	}
	if len(offsets) == 0 {
		return []domain.CanonicalEvent{}, nil
	}

	docs, err := l.client.HMGet(ctx, l.keys.EventData(), offsets...).Result()
	if err != nil {
		return nil, classify("read event data", err)
	}

	events := make([]domain.CanonicalEvent, 0, len(offsets))
	for i, doc := range docs {
		raw, ok := doc.(string)
		if !ok {
			return nil, fmt.Errorf("event at offset %s has no data", offsets[i])
		}
		var event domain.CanonicalEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event at offset %s: %w", offsets[i], err)
		}
		event.Offset, err = strconv.ParseUint(offsets[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid offset %q: %w", offsets[i], err)
		}
		events = append(events, event)
	}

	return events, nil
}

func (l *redisEventLog) Head(ctx context.Context) (uint64, error) {
	head, err := l.client.Get(ctx, l.keys.EventSeq()).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, classify("read log head", err)
	}
	return head, nil
}
