// Command reconciler runs the Reconciliation Engine: the sole authority
// for canonical document state and version numbering, per spec.md §4.2.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"code.example.org/collabdoc/common"
	"code.example.org/collabdoc/config"
	"code.example.org/collabdoc/db"
	"code.example.org/collabdoc/db/repository"
	collabhttp "code.example.org/collabdoc/http"
	"code.example.org/collabdoc/otel"
	"code.example.org/collabdoc/reconciler"
	"code.example.org/collabdoc/sharedlog"
	"code.example.org/collabdoc/statemanager"
	"code.example.org/collabdoc/version"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.LoadReconcilerConfig("RECONCILER")
	v := config.NewValidator()
	v.RequireString("DSN", cfg.Relational.DSN)
	if err := v.Validate(); err != nil {
		log.Fatalf("invalid reconciler configuration: %v", err)
	}

	logger := common.ServiceLogger("reconciler", "")

	provider := otel.Init("reconciler", version.GetModuleVersion())
	defer func() {
		if provider != nil {
			_ = provider.Shutdown(context.Background())
		}
	}()

	redisOpts, err := redis.ParseURL(cfg.SharedLog.RedisURL)
	if err != nil {
		log.Fatalf("parse redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	relStore, err := db.NewRelationalStore(cfg.Relational.DSN)
	if err != nil {
		log.Fatalf("connect relational store: %v", err)
	}
	if err := relStore.Migrate(); err != nil {
		log.Fatalf("migrate documents table: %v", err)
	}
	relRepo := repository.NewRelationalRepository(relStore)

	producer := sharedlog.NewProducer(redisClient, sharedlog.ProducerConfig{
		ShardCount: cfg.SharedLog.ShardCount,
		MaxLen:     100_000,
	})

	engine := reconciler.New(relRepo, producer, cfg.Instance)

	state := statemanager.New(statemanager.Config{ServiceName: "reconciler"})
	engine.SetStateManager(state)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.RunDirtyFlush(ctx)
	go engine.RunIdleEviction(ctx)

	changesConsumer := sharedlog.NewConsumer(redisClient, sharedlog.ConsumerConfig{
		Topic:         sharedlog.TopicDocumentChanges,
		Group:         "reconciler",
		ConsumerName:  cfg.Instance,
		ShardCount:    cfg.SharedLog.ShardCount,
		InstanceCount: cfg.SharedLog.InstanceCount,
		InstanceIndex: cfg.SharedLog.InstanceIndex,
	}, engine)
	go func() {
		if err := changesConsumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("document-changes consumer stopped")
		}
	}()

	eventsConsumer := sharedlog.NewConsumer(redisClient, sharedlog.ConsumerConfig{
		Topic:         sharedlog.TopicDocumentEvents,
		Group:         "reconciler",
		ConsumerName:  cfg.Instance,
		ShardCount:    cfg.SharedLog.ShardCount,
		InstanceCount: cfg.SharedLog.InstanceCount,
		InstanceIndex: cfg.SharedLog.InstanceIndex,
	}, sharedlog.HandlerFunc(engine.HandleEvent))
	go func() {
		if err := eventsConsumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("document-events consumer stopped")
		}
	}()

	e := collabhttp.NewEchoServer(cfg.Server)
	e.Use(otel.EchoMiddleware("reconciler"))
	e.Use(state.Middleware("reconciler-request"))
	e.GET("/health", collabhttp.HealthCheckHandler("reconciler", ""))
	state.RegisterRoutes(e.Group("/debug"))
	go func() {
		if err := collabhttp.StartServer(e, cfg.Server); err != nil {
			logger.WithError(err).Warn("reconciler http server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down reconciler, flushing dirty buffers")
	cancel()
	engine.FlushAllNow(context.Background())
	_ = collabhttp.GracefulShutdown(e, 10*time.Second)
}
