// Command dlqtool lists and replays dlq entries, a human/operator tool for
// the drain spec.md §4.2 leaves unspecified.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"code.example.org/collabdoc/reconciler"
	"code.example.org/collabdoc/sharedlog"
	"github.com/redis/go-redis/v9"
)

func main() {
	redisURL := flag.String("redis", "redis://localhost:6379", "Shared Log Redis URL")
	shardCount := flag.Int("shards", sharedlog.DefaultShardCount, "Shared Log shard count (must match the running services)")
	replay := flag.Bool("replay", false, "republish each listed dlq entry onto its original topic instead of only listing it")
	limit := flag.Int64("limit", 100, "max entries to read")
	flag.Parse()

	opts, err := redis.ParseURL(*redisURL)
	if err != nil {
		log.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	producer := sharedlog.NewProducer(client, sharedlog.ProducerConfig{ShardCount: *shardCount, MaxLen: 100_000})

	// dlq entries are always published with an empty document id (spec.md
	// §4.2 has no per-document ordering requirement for the DLQ), so every
	// entry lands on the one shard ShardFor("", shardCount) selects.
	key := sharedlog.StreamKey(sharedlog.TopicDLQ, sharedlog.ShardFor("", *shardCount))

	entries, err := client.XRange(ctx, key, "-", "+").Result()
	if err != nil {
		log.Fatalf("read dlq stream %s: %v", key, err)
	}
	if int64(len(entries)) > *limit {
		entries = entries[:*limit]
	}

	fmt.Printf("%d entries on %s\n", len(entries), key)
	for _, entry := range entries {
		payload, _ := entry.Values["payload"].(string)
		var dlq reconciler.DLQMessage
		if err := json.Unmarshal([]byte(payload), &dlq); err != nil {
			fmt.Printf("%s: malformed dlq entry, skipping: %v\n", entry.ID, err)
			continue
		}

		fmt.Printf("%s  topic=%s  error=%q  at=%s\n", entry.ID, dlq.OriginalTopic, dlq.Error, dlq.Timestamp.Format(time.RFC3339))

		if !*replay {
			continue
		}

		docID := extractDocumentID(dlq.OriginalMessage)
		if _, err := producer.Publish(ctx, sharedlog.Topic(dlq.OriginalTopic), docID, dlq.OriginalMessage); err != nil {
			fmt.Printf("  replay failed: %v\n", err)
			continue
		}
		fmt.Printf("  replayed onto %s\n", dlq.OriginalTopic)
	}
}

func extractDocumentID(raw json.RawMessage) string {
	var withID struct {
		DocumentID string `json:"documentId"`
	}
	if err := json.Unmarshal(raw, &withID); err != nil {
		return ""
	}
	return withID.DocumentID
}
