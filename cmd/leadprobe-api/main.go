package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/leadprobe/internal/api"
	"github.com/ignite/leadprobe/internal/config"
	"github.com/ignite/leadprobe/internal/mxresolve"
	"github.com/ignite/leadprobe/internal/observability"
	"github.com/ignite/leadprobe/internal/pipeline"
	"github.com/ignite/leadprobe/internal/pkg/distlock"
	"github.com/ignite/leadprobe/internal/queue"
	"github.com/ignite/leadprobe/internal/ratelimit"
	"github.com/ignite/leadprobe/internal/store"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func mustRedis(url string) *redis.Client {
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Printf("warning: could not parse REDIS_URL (%v), falling back to addr-only client", err)
		return redis.NewClient(&redis.Options{Addr: url})
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	return client
}

func main() {
	log.Println("Starting leadprobe API...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Printf("failed to load config: %v", err)
		os.Exit(2)
	}

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("pre-flight check failed: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Printf("failed to connect to database: %v", err)
		os.Exit(3)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = db.PingContext(pingCtx)
	pingCancel()
	if err != nil {
		log.Printf("failed to ping database: %v", err)
		os.Exit(3)
	}
	log.Println("connected to database")

	redisClient := mustRedis(cfg.Redis.URL)
	defer redisClient.Close()

	st := store.New(db)
	workerID := "leadprobe-api"
	q := queue.New(db, workerID)
	limiter := ratelimit.New(redisClient)
	behaviorCache := mxresolve.NewBehaviorCache()

	orchestrator := pipeline.New(st, q, limiter, cfg.Orchestrator)
	orchestrator.SetRecoverySweepLock(distlock.NewLock(redisClient, db, "leadprobe:recovery-sweep", 2*time.Minute))
	collector := observability.New(db, behaviorCache, q, 30*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orchestrator.Start(ctx)
	collector.Start(ctx, nil)

	server := api.New(orchestrator, collector, st)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: server.Router(),
	}

	go func() {
		log.Printf("leadprobe API listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down API...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	cancel()
	orchestrator.Stop()
	collector.Stop()
	log.Println("API stopped")
}
