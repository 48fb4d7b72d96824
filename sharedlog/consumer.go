package sharedlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"code.example.org/collabdoc/common"
	"github.com/redis/go-redis/v9"
)

// Handler processes one message pulled off a shard stream. Returning an
// error leaves the message unacked, so it is reclaimed and retried by
// claimStale once its idle time exceeds the claim threshold.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Topic         Topic
	Group         string
	ConsumerName  string
	ShardCount    int
	InstanceCount int
	InstanceIndex int
	// ClaimIdle is how long a message may sit unacked and owned by a dead
	// consumer before claimStale hands it to this consumer instead.
	ClaimIdle time.Duration
	// BatchSize is the max entries read per XREADGROUP call.
	BatchSize int64
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.ShardCount <= 0 {
		c.ShardCount = DefaultShardCount
	}
	if c.InstanceCount <= 0 {
		c.InstanceCount = 1
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	return c
}

// Consumer reads one topic's owned shards via a Redis consumer group in a
// dequeue/process/ack loop keyed on document shard ownership.
type Consumer struct {
	client  *redis.Client
	config  ConsumerConfig
	handler Handler
	logger  *common.ContextLogger
	shards  []int
}

// NewConsumer builds a Consumer. The instance claims OwnedShards(shardCount,
// instanceCount, instanceIndex) of config.Topic, so a fleet of
// InstanceCount Reconciler processes partitions the topic's shards between
// them with no overlap.
func NewConsumer(client *redis.Client, config ConsumerConfig, handler Handler) *Consumer {
	config = config.withDefaults()
	shards := OwnedShards(config.ShardCount, config.InstanceCount, config.InstanceIndex)
	return &Consumer{
		client:  client,
		config:  config,
		handler: handler,
		shards:  shards,
		logger: common.ServiceLogger("sharedlog-consumer", "").WithFields(map[string]interface{}{
			"topic": string(config.Topic),
			"group": config.Group,
		}),
	}
}

// Shards returns the shard indices this consumer owns.
func (c *Consumer) Shards() []int { return c.shards }

// Run blocks, reading and handling messages from every owned shard until
// ctx is cancelled. Each shard is serviced by its own goroutine so a slow
// handler on one shard never starves another.
func (c *Consumer) Run(ctx context.Context) error {
	if len(c.shards) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	if err := EnsureGroup(ctx, c.client, c.config.Topic, c.config.ShardCount, c.config.Group); err != nil {
		return err
	}

	errCh := make(chan error, len(c.shards))
	for _, shard := range c.shards {
		go c.runShard(ctx, shard, errCh)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (c *Consumer) runShard(ctx context.Context, shard int, errCh chan<- error) {
	key := StreamKey(c.config.Topic, shard)
	claimTicker := time.NewTicker(c.config.ClaimIdle)
	defer claimTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-claimTicker.C:
			if err := c.claimStale(ctx, key); err != nil {
				c.logger.WithError(err).Warnf("claim stale entries on %s", key)
			}
		default:
		}

		res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.config.Group,
			Consumer: c.config.ConsumerName,
			Streams:  []string{key, ">"},
			Count:    c.config.BatchSize,
			Block:    waitBetweenPolls,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.logger.WithError(err).Errorf("read group on %s", key)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range res {
			for _, entry := range stream.Messages {
				c.process(ctx, key, entry)
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, key string, entry redis.XMessage) {
	msg, err := toMessage(entry)
	if err != nil {
		c.logger.WithError(err).Errorf("malformed entry %s on %s, acking to drop", entry.ID, key)
		c.client.XAck(ctx, key, c.config.Group, entry.ID)
		return
	}

	if err := c.handler.Handle(ctx, msg); err != nil {
		c.logger.WithError(err).WithField("document_id", msg.DocumentID).Warnf("handler failed for %s, leaving unacked", entry.ID)
		return
	}

	if err := c.client.XAck(ctx, key, c.config.Group, entry.ID).Err(); err != nil {
		c.logger.WithError(err).Errorf("ack %s on %s", entry.ID, key)
	}
}

// claimStale reassigns entries idle longer than ClaimIdle to this
// consumer and hands each to the handler again, the recovery path for a
// crashed instance's in-flight messages and for failed handler calls.
func (c *Consumer) claimStale(ctx context.Context, key string) error {
	start := "0-0"
	for {
		claimed, nextStart, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   key,
			Group:    c.config.Group,
			Consumer: c.config.ConsumerName,
			MinIdle:  c.config.ClaimIdle,
			Start:    start,
			Count:    c.config.BatchSize,
		}).Result()
		if err != nil {
			return err
		}
		for _, entry := range claimed {
			c.process(ctx, key, entry)
		}
		if nextStart == "0-0" || nextStart == start {
			return nil
		}
		start = nextStart
	}
}

func toMessage(entry redis.XMessage) (Message, error) {
	docID, _ := entry.Values["document_id"].(string)
	if docID == "" {
		return Message{}, fmt.Errorf("sharedlog: entry %s missing document_id", entry.ID)
	}

	var payload []byte
	switch v := entry.Values["payload"].(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		return Message{}, fmt.Errorf("sharedlog: entry %s missing payload", entry.ID)
	}

	return Message{ID: entry.ID, DocumentID: docID, Payload: payload}, nil
}
