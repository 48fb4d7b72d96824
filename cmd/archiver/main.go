// Command archiver runs the Snapshot Archiver: consumes document-snapshots
// and writes blobs to the Object Store, per spec.md §4.4.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"code.example.org/collabdoc/archiver"
	"code.example.org/collabdoc/common"
	"code.example.org/collabdoc/config"
	collabhttp "code.example.org/collabdoc/http"
	"code.example.org/collabdoc/otel"
	"code.example.org/collabdoc/sharedlog"
	"code.example.org/collabdoc/storage"
	"code.example.org/collabdoc/version"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.LoadArchiverConfig("ARCHIVER")
	logger := common.ServiceLogger("archiver", "")

	provider := otel.Init("archiver", version.GetModuleVersion())
	defer func() {
		if provider != nil {
			_ = provider.Shutdown(context.Background())
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s3Client, err := storage.NewClient(ctx, storage.ClientConfig{
		Endpoint:     cfg.ObjectStore.Endpoint,
		Region:       cfg.ObjectStore.Region,
		AccessKey:    cfg.ObjectStore.AccessKey,
		SecretKey:    cfg.ObjectStore.SecretKey,
		UsePathStyle: cfg.ObjectStore.UsePathStyle,
	})
	if err != nil {
		log.Fatalf("build object store client: %v", err)
	}

	if err := storage.EnsureBucketExists(ctx, s3Client, cfg.ObjectStore.Bucket); err != nil {
		log.Fatalf("ensure snapshot bucket exists: %v", err)
	}

	writer := storage.NewSnapshotWriter(s3Client, cfg.ObjectStore.Bucket)
	snapshotArchiver := archiver.New(writer)

	redisOpts, err := redis.ParseURL(cfg.SharedLog.RedisURL)
	if err != nil {
		log.Fatalf("parse redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	consumer := sharedlog.NewConsumer(redisClient, sharedlog.ConsumerConfig{
		Topic:         sharedlog.TopicDocumentSnapshots,
		Group:         "archiver",
		ConsumerName:  cfg.SharedLog.ConsumerName,
		ShardCount:    cfg.SharedLog.ShardCount,
		InstanceCount: cfg.SharedLog.InstanceCount,
		InstanceIndex: cfg.SharedLog.InstanceIndex,
	}, snapshotArchiver)
	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("document-snapshots consumer stopped")
		}
	}()

	e := collabhttp.NewEchoServer(cfg.Server)
	e.Use(otel.EchoMiddleware("archiver"))
	e.GET("/health", collabhttp.HealthCheckHandler("archiver", ""))
	archiver.NewHandlers(writer).Register(e.Group(""))

	go func() {
		if err := collabhttp.StartServer(e, cfg.Server); err != nil {
			logger.WithError(err).Warn("archiver http server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down archiver")
	cancel()
	_ = collabhttp.GracefulShutdown(e, 10*time.Second)
}
