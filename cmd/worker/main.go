package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"volunteerattendance/internal/config"
	"volunteerattendance/internal/notifyclient"
	"volunteerattendance/internal/queue"
	"volunteerattendance/internal/store"
)

const forwarders = 4

// Worker consumes terminal-transition notifications and forwards them to the
// notification dispatcher.
func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		log.Println("WARNING: memory queue is process-local; the worker will only see its own messages")
		q = queue.NewInMemory(64)
	} else {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
		if !redisClient.Healthy(ctx) {
			log.Printf("WARNING: redis not reachable addr=%s, consumer will keep retrying", cfg.RedisAddr)
		}
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	client := notifyclient.New(cfg.NotifyURL, cfg.NotifySkip)
	if !cfg.NotifySkip {
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := client.Health(hctx); err != nil {
			log.Printf("WARNING: notify service not available: %v", err)
		} else {
			log.Println("notify service connected")
		}
		cancel()
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Printf("worker started forwarders=%d queue=%s", forwarders, cfg.QueueBackend)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < forwarders; i++ {
		f := &notifyclient.Forwarder{Client: client, Attempts: 3, Backoff: 500 * time.Millisecond}
		g.Go(func() error { return f.Run(gctx, messages) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("worker stopped err=%v", err)
	}
	log.Println("worker stopped")
}
