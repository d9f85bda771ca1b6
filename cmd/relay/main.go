package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/drawspace/drawspace-relay/internal/metrics"
	"github.com/drawspace/drawspace-relay/internal/server"
)

const (
	httpShutdownTimeout = 10 * time.Second
	hubShutdownTimeout  = 5 * time.Second
)

func main() {
	fmt.Println("Starting Drawspace relay...")

	instanceID := uuid.New().String()
	log.Printf("Relay instance ID: %s", instanceID)

	cfg := server.NewConfigFromEnv()
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	server.SetConfig(cfg)

	// Redis is optional: without it, token revocation checks are skipped.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		var err error
		redisClient, err = server.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer func() {
			if err := server.CloseRedisClient(redisClient); err != nil {
				log.Printf("Error closing Redis client: %v", err)
			}
		}()
		log.Printf("Connected to Redis at %s for token revocation checks", cfg.Redis.Addr)
	} else {
		log.Println("REDIS_ADDR not set; token revocation checks disabled")
	}

	server.SetTokenVerifier(server.NewJWTVerifier(cfg.JWTSecret, redisClient))

	metrics.StartServer(cfg.MetricsPort)
	server.StartHub()

	mux := server.SetupRoutes()
	httpServer := server.CreateServer(cfg.Port, mux)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Relay server failed: %v", err)
		}
	}

	if err := server.ShutdownServer(httpServer, httpShutdownTimeout); err != nil {
		log.Printf("HTTP shutdown finished with error: %v", err)
	}
	if err := server.GetHub().Shutdown(hubShutdownTimeout); err != nil {
		log.Printf("Hub shutdown finished with error: %v", err)
	}

	log.Println("Relay stopped")
}
