// Command presence runs the Presence Tracker HTTP surface, per spec.md
// §4.3 and §6.
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
	"code.example.org/collabdoc/db/repository"
	collabhttp "code.example.org/collabdoc/http"
	"code.example.org/collabdoc/otel"
	"code.example.org/collabdoc/presence"
	"code.example.org/collabdoc/version"
)

func main() {
	cfg := config.LoadPresenceConfig("PRESENCE")
	logger := common.ServiceLogger("presence", "")

	provider := otel.Init("presence", version.GetModuleVersion())
	defer func() {
		if provider != nil {
			_ = provider.Shutdown(context.Background())
		}
	}()

	cache, err := repository.NewRedisRepository(cfg.PubSub.RedisURL)
	if err != nil {
		log.Fatalf("connect cache repository: %v", err)
	}

	tracker := presence.New(cache)
	handlers := presence.NewHandlers(tracker)

	e := collabhttp.NewEchoServer(cfg.Server)
	e.Use(otel.EchoMiddleware("presence"))
	e.GET("/health", collabhttp.HealthCheckHandler("presence", ""))
	handlers.Register(e.Group(""))

	go func() {
		if err := collabhttp.StartServer(e, cfg.Server); err != nil {
			logger.WithError(err).Warn("presence http server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down presence tracker")
	_ = collabhttp.GracefulShutdown(e, 10*time.Second)
}
