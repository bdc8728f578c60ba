package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	libOpentelemetry "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/opentelemetry"
)

// EnsureGroup creates group on stream reading from the beginning, creating
// the stream when missing. An existing group is not an error.
func (b *RedisBroker) EnsureGroup(ctx context.Context, stream, group string) error {
	if err := requireNames(stream, group); err != nil {
		return err
	}

	client, err := b.client(ctx)
	if err != nil {
		return err
	}

	err = client.XGroupCreateMkStream(ctx, stream, group, "0-0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}

	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// ReadGroup reads new messages for req.Consumer, or its pending backlog when
// req.Backlog is set. A block timeout with no messages returns an empty
// slice.
func (b *RedisBroker) ReadGroup(ctx context.Context, req ReadRequest) ([]Message, error) {
	if err := requireNames(req.Stream, req.Group); err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Consumer) == "" {
		return nil, ErrConsumerRequired
	}

	client, err := b.client(ctx)
	if err != nil {
		return nil, err
	}

	block := req.Block
	if block <= 0 {
		// go-redis sends BLOCK 0 (forever) for a zero duration.
		block = -1
	}

	count := req.Count
	if count <= 0 {
		count = 1
	}

	start := ">"
	if req.Backlog {
		start = "0"
	}

	streams, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    req.Group,
		Consumer: req.Consumer,
		Streams:  []string{req.Stream, start},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read group %s on %s: %w", req.Group, req.Stream, err)
	}

	var out []Message

	for _, s := range streams {
		out = append(out, toMessages(s.Messages)...)
	}

	return out, nil
}

// Ack acknowledges ids for group.
func (b *RedisBroker) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if err := requireNames(stream, group); err != nil {
		return err
	}

	if len(ids) == 0 {
		return nil
	}

	client, err := b.client(ctx)
	if err != nil {
		return err
	}

	ctx, span := b.tracer.Start(ctx, "stream.ack")
	defer span.End()

	span.SetAttributes(
		attribute.String(attrDestination, stream),
		attribute.String("messaging.consumer.group.name", group),
	)

	if err := client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		err = fmt.Errorf("ack %d messages on %s: %w", len(ids), stream, err)
		libOpentelemetry.HandleSpanError(span, "Failed to ack stream messages", err)

		return err
	}

	return nil
}

func requireNames(stream, group string) error {
	if strings.TrimSpace(stream) == "" {
		return ErrStreamRequired
	}

	if strings.TrimSpace(group) == "" {
		return ErrGroupRequired
	}

	return nil
}
