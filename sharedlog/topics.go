// Package sharedlog implements the Shared Log: a durable, partitioned,
// ordered message bus keyed by document id, backing the five topics the
// Collaboration Gateway and Reconciliation Engine exchange changes on.
// Built on Redis Streams, since the ambient stack already carries
// github.com/redis/go-redis/v9 for the Pub/Sub Fabric and Cache Repository.
//
// Redis Streams has no native partitioning, so ordering-per-document is
// achieved by sharding: each topic is backed by ShardCount independent
// streams, and a document id is deterministically routed to one shard by
// hashing. A Reconciler instance claims a disjoint set of shards (see
// Consumer.Shards), giving the "one document processed by at most one
// instance at a time" guarantee spec.md §4.2 requires.
package sharedlog

import "hash/fnv"

// Topic names the five Shared Log topics.
type Topic string

const (
	TopicDocumentChanges   Topic = "document-changes"
	TopicDocumentUpdates   Topic = "document-updates"
	TopicDocumentSnapshots Topic = "document-snapshots"
	TopicDocumentEvents    Topic = "document-events"
	TopicDLQ               Topic = "dlq"
)

// DefaultShardCount is used when a caller does not override shard count.
// Chosen as a power of two comfortably larger than any single deployment's
// expected Reconciler fleet size, so shard-to-instance assignment stays
// coarse-grained.
const DefaultShardCount = 16

// ShardFor deterministically maps a document id to a shard index in
// [0, shardCount). The same document id always maps to the same shard for
// a fixed shardCount, which is what gives per-document ordering: all of a
// document's messages land on one stream.
func ShardFor(documentID string, shardCount int) int {
	if shardCount <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(documentID))
	return int(h.Sum32() % uint32(shardCount))
}

// StreamKey returns the Redis key backing one topic's shard.
func StreamKey(topic Topic, shard int) string {
	return string(topic) + ":" + itoa(shard)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// OwnedShards returns the shards assigned to instance index of instanceCount
// total instances, a static modulo assignment. Every shard in
// [0, shardCount) is owned by exactly one instance.
func OwnedShards(shardCount, instanceCount, instanceIndex int) []int {
	if instanceCount <= 1 {
		shards := make([]int, shardCount)
		for i := range shards {
			shards[i] = i
		}
		return shards
	}
	var owned []int
	for shard := 0; shard < shardCount; shard++ {
		if shard%instanceCount == instanceIndex {
			owned = append(owned, shard)
		}
	}
	return owned
}
