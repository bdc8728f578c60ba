package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Len returns XLEN of stream.
func (b *RedisBroker) Len(ctx context.Context, stream string) (int64, error) {
	client, err := b.client(ctx)
	if err != nil {
		return 0, err
	}

	n, err := client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen %s: %w", stream, err)
	}

	return n, nil
}

// GroupPending returns the pending count of every group on stream.
func (b *RedisBroker) GroupPending(ctx context.Context, stream string) (map[string]int64, error) {
	client, err := b.client(ctx)
	if err != nil {
		return nil, err
	}

	groups, err := client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return nil, fmt.Errorf("xinfo groups %s: %w", stream, err)
	}

	out := make(map[string]int64, len(groups))
	for _, g := range groups {
		out[g.Name] = g.Pending
	}

	return out, nil
}

// PendingEntries lists up to count unacknowledged messages of group.
func (b *RedisBroker) PendingEntries(ctx context.Context, stream, group string, count int64) ([]PendingEntry, error) {
	if err := requireNames(stream, group); err != nil {
		return nil, err
	}

	client, err := b.client(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xpending %s %s: %w", stream, group, err)
	}

	out := make([]PendingEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, PendingEntry{
			ID:         entry.ID,
			Consumer:   entry.Consumer,
			Idle:       entry.Idle,
			IdleMS:     entry.Idle.Milliseconds(),
			Deliveries: entry.RetryCount,
		})
	}

	return out, nil
}

// Range returns up to count entries, oldest first.
func (b *RedisBroker) Range(ctx context.Context, stream string, count int64) ([]Message, error) {
	client, err := b.client(ctx)
	if err != nil {
		return nil, err
	}

	msgs, err := client.XRangeN(ctx, stream, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", stream, err)
	}

	return toMessages(msgs), nil
}

// RevRange returns up to count entries, newest first.
func (b *RedisBroker) RevRange(ctx context.Context, stream string, count int64) ([]Message, error) {
	client, err := b.client(ctx)
	if err != nil {
		return nil, err
	}

	msgs, err := client.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", stream, err)
	}

	return toMessages(msgs), nil
}

// Get returns the entry with id. found is false when it does not exist.
func (b *RedisBroker) Get(ctx context.Context, stream, id string) (msg Message, found bool, err error) {
	client, err := b.client(ctx)
	if err != nil {
		return Message{}, false, err
	}

	msgs, err := client.XRangeN(ctx, stream, id, id, 1).Result()
	if err != nil {
		return Message{}, false, fmt.Errorf("xrange %s %s: %w", stream, id, err)
	}

	if len(msgs) == 0 {
		return Message{}, false, nil
	}

	return Message{ID: msgs[0].ID, Values: msgs[0].Values}, true, nil
}

// Delete removes ids from stream and returns how many existed.
func (b *RedisBroker) Delete(ctx context.Context, stream string, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	client, err := b.client(ctx)
	if err != nil {
		return 0, err
	}

	n, err := client.XDel(ctx, stream, ids...).Result()
	if err != nil {
		return 0, fmt.Errorf("xdel %s: %w", stream, err)
	}

	return n, nil
}

// Trim approximately trims stream to maxLen entries and returns how many
// were evicted. A non-positive maxLen is a no-op.
func (b *RedisBroker) Trim(ctx context.Context, stream string, maxLen int64) (int64, error) {
	if strings.TrimSpace(stream) == "" {
		return 0, ErrStreamRequired
	}

	if maxLen <= 0 {
		return 0, nil
	}

	client, err := b.client(ctx)
	if err != nil {
		return 0, err
	}

	n, err := client.XTrimMaxLenApprox(ctx, stream, maxLen, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("xtrim %s: %w", stream, err)
	}

	return n, nil
}

// SAdd adds member to the set at key and returns 1 when it was new.
func (b *RedisBroker) SAdd(ctx context.Context, key, member string) (int64, error) {
	client, err := b.client(ctx)
	if err != nil {
		return 0, err
	}

	n, err := client.SAdd(ctx, key, member).Result()
	if err != nil {
		return 0, fmt.Errorf("sadd %s: %w", key, err)
	}

	return n, nil
}

// SRem removes member from the set at key.
func (b *RedisBroker) SRem(ctx context.Context, key, member string) error {
	client, err := b.client(ctx)
	if err != nil {
		return err
	}

	if err := client.SRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("srem %s: %w", key, err)
	}

	return nil
}

// IsNoGroup reports whether err means the stream or group does not exist.
func IsNoGroup(err error) bool {
	if err == nil {
		return false
	}

	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		msg := redisErr.Error()

		return strings.HasPrefix(msg, "NOGROUP") || strings.Contains(msg, "no such key")
	}

	return false
}
