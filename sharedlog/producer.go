package sharedlog

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is one entry read back off a stream.
type Message struct {
	ID         string
	DocumentID string
	Payload    []byte
}

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	// ShardCount is the number of streams each topic is split across.
	// Must match the value consumers use, or messages route to streams
	// nobody is reading.
	ShardCount int
	// MaxLen approximately caps each shard stream's length via XADD's
	// MAXLEN ~ option, so the log does not grow unbounded once snapshots
	// have made old entries unnecessary for recovery.
	MaxLen int64
}

// DefaultProducerConfig returns sensible defaults: DefaultShardCount shards
// and a generous approximate retention cap.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{ShardCount: DefaultShardCount, MaxLen: 100_000}
}

// Producer publishes document messages onto the Shared Log.
type Producer struct {
	client *redis.Client
	config ProducerConfig
}

// NewProducer wraps an existing Redis client. The client is shared with the
// rest of the process (Cache Repository, Pub/Sub Fabric) by design: one
// connection pool backs all Redis-based ambient concerns.
func NewProducer(client *redis.Client, config ProducerConfig) *Producer {
	if config.ShardCount <= 0 {
		config.ShardCount = DefaultShardCount
	}
	return &Producer{client: client, config: config}
}

// Publish appends payload to the shard stream owned by documentID on topic,
// returning the Redis stream entry id assigned to the message.
func (p *Producer) Publish(ctx context.Context, topic Topic, documentID string, payload []byte) (string, error) {
	shard := ShardFor(documentID, p.config.ShardCount)
	key := StreamKey(topic, shard)

	args := &redis.XAddArgs{
		Stream: key,
		MaxLen: p.config.MaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"document_id": documentID,
			"payload":     payload,
		},
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("sharedlog: publish to %s failed: %w", key, err)
	}
	return id, nil
}

// EnsureGroup creates the consumer group for every shard of topic, ignoring
// BUSYGROUP errors from a group that already exists. Consumer.Run calls it
// once before reading; Producer does not call it.
func EnsureGroup(ctx context.Context, client *redis.Client, topic Topic, shardCount int, group string) error {
	for shard := 0; shard < shardCount; shard++ {
		key := StreamKey(topic, shard)
		err := client.XGroupCreateMkStream(ctx, key, group, "0").Err()
		if err != nil && !isBusyGroup(err) {
			return fmt.Errorf("sharedlog: create group %s on %s: %w", group, key, err)
		}
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// waitBetweenPolls is how long each shard's read loop blocks on XREADGROUP
// before re-checking ctx.Done and the claim ticker.
const waitBetweenPolls = 2 * time.Second
