// Command gateway runs the Collaboration Gateway: the socket-terminating
// service of spec.md §4.1.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"code.example.org/collabdoc/auth"
	"code.example.org/collabdoc/common"
	"code.example.org/collabdoc/config"
	"code.example.org/collabdoc/db"
	"code.example.org/collabdoc/db/repository"
	"code.example.org/collabdoc/gateway"
	collabhttp "code.example.org/collabdoc/http"
	"code.example.org/collabdoc/otel"
	"code.example.org/collabdoc/presence"
	"code.example.org/collabdoc/queue"
	"code.example.org/collabdoc/sharedlog"
	"code.example.org/collabdoc/statemanager"
	"code.example.org/collabdoc/version"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.LoadGatewayConfig("GATEWAY")
	v := config.NewValidator()
	v.RequireString("JWT_SECRET", cfg.Auth.JWTSecret)
	v.RequireString("DSN", cfg.Relational.DSN)
	if err := v.Validate(); err != nil {
		log.Fatalf("invalid gateway configuration: %v", err)
	}

	logger := common.ServiceLogger("gateway", "")

	provider := otel.Init("gateway", version.GetModuleVersion())
	defer func() {
		if provider != nil {
			_ = provider.Shutdown(context.Background())
		}
	}()

	redisOpts, err := redis.ParseURL(cfg.PubSub.RedisURL)
	if err != nil {
		log.Fatalf("parse redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	cache, err := repository.NewRedisRepository(cfg.PubSub.RedisURL)
	if err != nil {
		log.Fatalf("connect pub/sub fabric: %v", err)
	}

	relStore, err := db.NewRelationalStore(cfg.Relational.DSN)
	if err != nil {
		log.Fatalf("connect relational store: %v", err)
	}
	relRepo := repository.NewRelationalRepository(relStore)

	pgConn, err := db.NewPostgresDB(cfg.Relational.DSN)
	if err != nil {
		log.Fatalf("connect operation log: %v", err)
	}
	defer pgConn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opLog, err := db.NewOperationLog(ctx, pgConn)
	if err != nil {
		log.Fatalf("init operation log table: %v", err)
	}

	producer := sharedlog.NewProducer(redisClient, sharedlog.ProducerConfig{
		ShardCount: cfg.SharedLog.ShardCount,
		MaxLen:     100_000,
	})

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret)
	tracker := presence.New(cache)

	var access gateway.AccessChecker = gateway.NewDocumentExistenceChecker(relRepo)
	if cfg.DocumentServiceURL != "" {
		access = gateway.NewHTTPAccessChecker(cfg.DocumentServiceURL)
	}

	state := statemanager.New(statemanager.Config{ServiceName: "gateway"})

	batch := gateway.NewBatchWriter(opLog)
	batch.SetStateManager(state)
	go batch.Run(ctx)

	gw := gateway.New(tokens, cache, producer, tracker, access, batch, cfg.Instance)
	gw.Start(ctx)

	if cfg.Audit.AMQPURL != "" {
		auditSvc, err := queue.NewRabbitMQService(queue.Config{AMQPURL: cfg.Audit.AMQPURL, QueueName: cfg.Audit.QueueName})
		if err != nil {
			logger.WithError(err).Warn("audit queue unavailable, Shared-Log publish failures will only be logged")
		} else {
			defer auditSvc.Close()
			gw.SetAuditPublisher(auditSvc)
		}
	}

	updatesConsumer := sharedlog.NewConsumer(redisClient, sharedlog.ConsumerConfig{
		Topic:         sharedlog.TopicDocumentUpdates,
		Group:         "gateway",
		ConsumerName:  cfg.Instance,
		ShardCount:    cfg.SharedLog.ShardCount,
		InstanceCount: cfg.SharedLog.InstanceCount,
		InstanceIndex: cfg.SharedLog.InstanceIndex,
	}, sharedlog.HandlerFunc(gw.HandleUpdate))
	go func() {
		if err := updatesConsumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("document-updates consumer stopped")
		}
	}()

	eventsConsumer := sharedlog.NewConsumer(redisClient, sharedlog.ConsumerConfig{
		Topic:         sharedlog.TopicDocumentEvents,
		Group:         "gateway",
		ConsumerName:  cfg.Instance,
		ShardCount:    cfg.SharedLog.ShardCount,
		InstanceCount: cfg.SharedLog.InstanceCount,
		InstanceIndex: cfg.SharedLog.InstanceIndex,
	}, sharedlog.HandlerFunc(gw.HandleEvent))
	go func() {
		if err := eventsConsumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("document-events consumer stopped")
		}
	}()

	e := collabhttp.NewEchoServer(cfg.Server)
	e.Use(otel.EchoMiddleware("gateway"))
	e.Use(state.Middleware("gateway-request"))
	e.GET("/health", collabhttp.HealthCheckHandler("gateway", ""))
	gw.Register(e.Group(""))
	state.RegisterRoutes(e.Group("/debug"))

	go func() {
		if err := collabhttp.StartServer(e, cfg.Server); err != nil {
			logger.WithError(err).Warn("gateway http server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gateway")
	cancel()
	if !gw.Shutdown(5 * time.Second) {
		logger.Warn("timed out waiting for rooms to close their sockets")
	}
	batch.Flush(context.Background())
	_ = collabhttp.GracefulShutdown(e, 10*time.Second)
}
