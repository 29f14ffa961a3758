package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConsumerConfig names a consumer inside a group.
type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	// BatchSize caps messages per read or claim.
	BatchSize int64
	// Block is how long a read waits for new messages.
	Block time.Duration
}

// StreamConsumer reads a stream through a consumer group. Messages stay
// pending until acknowledged, so a crashed worker's backlog can be claimed
// by another.
type StreamConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig

	mu          sync.Mutex
	claimCursor string
}

func NewStreamConsumer(client *redis.Client, cfg ConsumerConfig) *StreamConsumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &StreamConsumer{client: client, cfg: cfg, claimCursor: "0-0"}
}

// CreateGroup creates the group, and the stream if needed. An existing
// group is not an error.
func (c *StreamConsumer) CreateGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !redis.HasErrorPrefix(err, "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", c.cfg.Group, c.cfg.Stream, err)
	}
	return nil
}

// Read returns messages never delivered to the group. It returns nil when
// the block times out.
func (c *StreamConsumer) Read(ctx context.Context) ([]redis.XMessage, error) {
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.Block,
	}).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", c.cfg.Stream, err)
	}

	var msgs []redis.XMessage
	for _, s := range res {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

func (c *StreamConsumer) Ack(ctx context.Context, messageID string) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, messageID).Err(); err != nil {
		return fmt.Errorf("ack %s on %s: %w", messageID, c.cfg.Stream, err)
	}
	return nil
}

// ClaimStale takes over messages idle for at least minIdle. Successive calls
// walk the pending list from where the previous one stopped and wrap around
// at its end.
func (c *StreamConsumer) ClaimStale(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error) {
	c.mu.Lock()
	start := c.claimCursor
	c.mu.Unlock()

	msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		MinIdle:  minIdle,
		Start:    start,
		Count:    c.cfg.BatchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("claim stale on %s: %w", c.cfg.Stream, err)
	}

	c.mu.Lock()
	c.claimCursor = next
	c.mu.Unlock()
	return msgs, nil
}
