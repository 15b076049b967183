package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"visa-automation-service/internal/repository/postgresql"
	"visa-automation-service/internal/service"
	httptransport "visa-automation-service/internal/transport/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pgDSN := mustEnv("POSTGRES_DSN")
	redisAddr := mustEnv("REDIS_ADDR")

	addr := envOr("API_ADDR", ":8080")
	queueKey := envOr("REDIS_QUEUE_KEY", "automation:queue")
	processingKey := envOr("REDIS_PROCESSING_KEY", "automation:processing")
	cancelChannel := envOr("REDIS_CANCEL_CHANNEL", "automation:cancel")
	shutdownSec := envIntOr("SHUTDOWN_TIMEOUT_SEC", 20)

	// Postgres
	pool, err := postgresql.NewPool(ctx, pgDSN)
	if err != nil {
		log.Fatalf("pg: %v", err)
	}
	defer pool.Close()

	if err := postgresql.InitSchema(ctx, pool); err != nil {
		log.Fatalf("pg schema: %v", err)
	}

	// Redis
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis: %v", err)
	}

	// DI
	repo := postgresql.NewJobRepository(pool)
	queue := service.NewRedisJobQueue(rdb, queueKey, processingKey, cancelChannel)
	jobSvc := service.NewJobService(repo, queue)
	handler := httptransport.NewHandler(jobSvc)

	srv := &http.Server{
		Addr:              addr,
		Handler:           httptransport.Routes(handler),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("[api] listening addr=%s redis_addr=%s", addr, redisAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[api] shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(shutdownSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[api] shutdown error: %v", err)
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing env: %s", key)
	}
	return v
}

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
