package stream

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStream implements Stream on Redis streams.
type RedisStream struct {
	client *redis.Client
	maxLen int64
}

// Option configures a RedisStream.
type Option func(*RedisStream)

// WithMaxLen caps each stream at approximately n entries.
func WithMaxLen(n int64) Option {
	return func(s *RedisStream) { s.maxLen = n }
}

// NewRedisStream wraps an existing client. The client is shared with
// other redis users in the process (rate limiter, etc.).
func NewRedisStream(client *redis.Client, options ...Option) *RedisStream {
	s := &RedisStream{client: client, maxLen: 10000}
	for _, option := range options {
		if option != nil {
			option(s)
		}
	}
	return s
}

func (s *RedisStream) Append(ctx context.Context, key string, fields map[string]string) (string, error) {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Result()
}

func (s *RedisStream) EnsureGroup(ctx context.Context, key, group, start string) error {
	if start == "" {
		start = "0"
	}
	err := s.client.XGroupCreateMkStream(ctx, key, group, start).Err()
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (s *RedisStream) ReadGroup(ctx context.Context, group, consumer string, cursors map[string]string, count int64, block time.Duration) ([]KeyEntries, error) {
	streams := make([]string, 0, len(cursors)*2)
	ids := make([]string, 0, len(cursors))
	for key, cursor := range cursors {
		streams = append(streams, key)
		ids = append(ids, cursor)
	}
	streams = append(streams, ids...)

	if block == 0 {
		block = -1
	}
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  streams,
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	out := make([]KeyEntries, 0, len(res))
	for _, str := range res {
		entries := make([]Entry, 0, len(str.Messages))
		for _, msg := range str.Messages {
			entries = append(entries, Entry{ID: msg.ID, Fields: stringFields(msg.Values)})
		}
		out = append(out, KeyEntries{Key: str.Stream, Entries: entries})
	}
	return out, nil
}

func (s *RedisStream) Ack(ctx context.Context, key, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.client.XAck(ctx, key, group, ids...).Err()
}

func (s *RedisStream) Range(ctx context.Context, key, start, end string, count int64) ([]Entry, error) {
	if start == "" {
		start = "-"
	}
	if end == "" {
		end = "+"
	}
	var (
		msgs []redis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = s.client.XRangeN(ctx, key, start, end, count).Result()
	} else {
		msgs, err = s.client.XRange(ctx, key, start, end).Result()
	}
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, Entry{ID: msg.ID, Fields: stringFields(msg.Values)})
	}
	return entries, nil
}

func (s *RedisStream) RemoveConsumer(ctx context.Context, key, group, consumer string) error {
	err := s.client.XGroupDelConsumer(ctx, key, group, consumer).Err()
	if err != nil && (err == redis.Nil || strings.Contains(err.Error(), "NOGROUP")) {
		return nil
	}
	return err
}

func stringFields(values map[string]any) map[string]string {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			fields[k] = s
		}
	}
	return fields
}
