package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/leadgen-pipeline/internal/app"
	"github.com/ignite/leadgen-pipeline/internal/config"
	"github.com/ignite/leadgen-pipeline/internal/orchestrator"
)

func main() {
	mode := flag.String("mode", "loop", "run mode: once or loop")
	pollInterval := flag.Int("poll-interval", 60, "seconds between ticks in loop mode")
	batchSize := flag.Int("batch-size", 5, "entities processed per stage per tick")
	flag.Parse()

	if *mode != "once" && *mode != "loop" {
		log.Fatalf("invalid --mode %q: want once or loop", *mode)
	}

	cfg, err := config.Get()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := app.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer db.Close()

	pipeline, err := app.Pipeline(ctx, db, cfg, orchestrator.Config{
		BatchSize:    *batchSize,
		PollInterval: time.Duration(*pollInterval) * time.Second,
	})
	if err != nil {
		log.Fatalf("build pipeline: %v", err)
	}

	if *mode == "once" {
		pipeline.RunOnce(ctx)
		return
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("[Orchestrator] Shutting down...")
		cancel()
	}()

	log.Println("[Orchestrator] Running...")
	pipeline.RunForever(ctx)
	log.Println("[Orchestrator] Stopped")
}
