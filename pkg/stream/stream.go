// Package stream is the append-only stream port the chat broker fans
// out through. RedisStream backs it with Redis streams and consumer
// groups; any backend with monotonic per-key ids and group semantics
// satisfies the contract.
package stream

import (
	"context"
	"time"
)

// Entry is one stream record.
type Entry struct {
	ID     string
	Fields map[string]string
}

// KeyEntries groups the entries delivered for one stream key.
type KeyEntries struct {
	Key     string
	Entries []Entry
}

// Stream is the adapter contract. Transient failures surface as plain
// errors callers may retry; "group already exists" is not an error.
type Stream interface {
	// Append adds an entry and returns its id. Ids are monotonic per key.
	Append(ctx context.Context, key string, fields map[string]string) (string, error)
	// EnsureGroup creates the consumer group at start (creating the
	// stream when absent). Idempotent.
	EnsureGroup(ctx context.Context, key, group, start string) error
	// ReadGroup performs a cooperative blocking read for the consumer.
	// cursors maps stream key → cursor (">" for new entries). A block
	// duration < 0 returns immediately when nothing is pending.
	ReadGroup(ctx context.Context, group, consumer string, cursors map[string]string, count int64, block time.Duration) ([]KeyEntries, error)
	// Ack retires delivered entries for the group.
	Ack(ctx context.Context, key, group string, ids ...string) error
	// Range reads historical entries from start to end, inclusive.
	Range(ctx context.Context, key, start, end string, count int64) ([]Entry, error)
	// RemoveConsumer deregisters a consumer from the group. Best-effort.
	RemoveConsumer(ctx context.Context, key, group, consumer string) error
}
