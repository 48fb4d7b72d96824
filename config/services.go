package config

import "time"

// SharedLogConfig configures a service's connection to the Shared Log.
type SharedLogConfig struct {
	RedisURL      string
	ShardCount    int
	InstanceCount int
	InstanceIndex int
	ConsumerName  string
}

// LoadSharedLogConfig loads Shared Log configuration from environment.
func LoadSharedLogConfig(prefix string) SharedLogConfig {
	env := NewEnvConfig(prefix)
	return SharedLogConfig{
		RedisURL:      env.GetString("REDIS_URL", "redis://localhost:6379"),
		ShardCount:    env.GetInt("SHARD_COUNT", 16),
		InstanceCount: env.GetInt("INSTANCE_COUNT", 1),
		InstanceIndex: env.GetInt("INSTANCE_INDEX", 0),
		ConsumerName:  env.GetString("CONSUMER_NAME", "consumer-1"),
	}
}

// PubSubConfig configures a service's connection to the Pub/Sub Fabric and
// Presence TTL store, both backed by the same Redis deployment as the
// Shared Log but addressed separately since a deployment may split them.
type PubSubConfig struct {
	RedisURL string
}

// LoadPubSubConfig loads Pub/Sub Fabric configuration from environment.
func LoadPubSubConfig(prefix string) PubSubConfig {
	env := NewEnvConfig(prefix)
	return PubSubConfig{
		RedisURL: env.GetString("REDIS_URL", "redis://localhost:6379"),
	}
}

// RelationalStoreConfig configures the Postgres-backed Document store.
type RelationalStoreConfig struct {
	DSN string
}

// LoadRelationalStoreConfig loads Relational Store configuration from
// environment.
func LoadRelationalStoreConfig(prefix string) RelationalStoreConfig {
	env := NewEnvConfig(prefix)
	return RelationalStoreConfig{
		DSN: env.MustGetString("DSN"),
	}
}

// ObjectStoreConfig configures the S3-compatible Object Store backing the
// Snapshot Archiver.
type ObjectStoreConfig struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UsePathStyle bool
}

// LoadObjectStoreConfig loads Object Store configuration from environment.
func LoadObjectStoreConfig(prefix string) ObjectStoreConfig {
	env := NewEnvConfig(prefix)
	return ObjectStoreConfig{
		Endpoint:     env.GetString("ENDPOINT", ""),
		Region:       env.GetString("REGION", "us-east-1"),
		AccessKey:    env.GetString("ACCESS_KEY", ""),
		SecretKey:    env.GetString("SECRET_KEY", ""),
		Bucket:       env.GetString("BUCKET", "collabdoc-snapshots"),
		UsePathStyle: env.GetBool("USE_PATH_STYLE", false),
	}
}

// AuditConfig configures the Gateway's secondary audit channel for
// Shared-Log publish failures. AMQPURL is left empty by default: the
// Gateway only dials RabbitMQ when an operator opts in.
type AuditConfig struct {
	AMQPURL   string
	QueueName string
}

// LoadAuditConfig loads audit-channel configuration from environment.
func LoadAuditConfig(prefix string) AuditConfig {
	env := NewEnvConfig(prefix)
	return AuditConfig{
		AMQPURL:   env.GetString("AUDIT_AMQP_URL", ""),
		QueueName: env.GetString("AUDIT_QUEUE_NAME", "shared-log-publish-failures"),
	}
}

// GatewayConfig configures the Collaboration Gateway service.
type GatewayConfig struct {
	Server             ServerConfig
	Auth               AuthConfig
	SharedLog          SharedLogConfig
	PubSub             PubSubConfig
	Relational         RelationalStoreConfig
	Audit              AuditConfig
	DocumentServiceURL string
	Instance           string
}

// LoadGatewayConfig loads the Collaboration Gateway's configuration.
func LoadGatewayConfig(prefix string) GatewayConfig {
	env := NewEnvConfig(prefix)
	return GatewayConfig{
		Server:             LoadServerConfig(prefix),
		Auth:               LoadAuthConfig(prefix),
		SharedLog:          LoadSharedLogConfig(prefix),
		PubSub:             LoadPubSubConfig(prefix),
		Relational:         LoadRelationalStoreConfig(prefix),
		Audit:              LoadAuditConfig(prefix),
		DocumentServiceURL: env.GetString("DOCUMENT_SERVICE_URL", ""),
		Instance:           env.GetString("INSTANCE_ID", "gateway-1"),
	}
}

// ReconcilerConfig configures the Reconciliation Engine service.
type ReconcilerConfig struct {
	Server     ServerConfig
	SharedLog  SharedLogConfig
	Relational RelationalStoreConfig
	Instance   string
}

// LoadReconcilerConfig loads the Reconciliation Engine's configuration.
func LoadReconcilerConfig(prefix string) ReconcilerConfig {
	env := NewEnvConfig(prefix)
	return ReconcilerConfig{
		Server:     LoadServerConfig(prefix),
		SharedLog:  LoadSharedLogConfig(prefix),
		Relational: LoadRelationalStoreConfig(prefix),
		Instance:   env.GetString("INSTANCE_ID", "reconciler-1"),
	}
}

// PresenceConfig configures the Presence Tracker service.
type PresenceConfig struct {
	Server ServerConfig
	PubSub PubSubConfig
}

// LoadPresenceConfig loads the Presence Tracker's configuration.
func LoadPresenceConfig(prefix string) PresenceConfig {
	return PresenceConfig{
		Server: LoadServerConfig(prefix),
		PubSub: LoadPubSubConfig(prefix),
	}
}

// ArchiverConfig configures the Snapshot Archiver service.
type ArchiverConfig struct {
	Server      ServerConfig
	SharedLog   SharedLogConfig
	ObjectStore ObjectStoreConfig
}

// LoadArchiverConfig loads the Snapshot Archiver's configuration.
func LoadArchiverConfig(prefix string) ArchiverConfig {
	return ArchiverConfig{
		Server:      LoadServerConfig(prefix),
		SharedLog:   LoadSharedLogConfig(prefix),
		ObjectStore: LoadObjectStoreConfig(prefix),
	}
}

// DLQToolDefaultPollInterval is a default poll interval for cmd/dlqtool.
// Nothing reads it: dlqtool makes a single XRANGE pass over the dlq shards
// and has no -watch mode.
const DLQToolDefaultPollInterval = 5 * time.Second
