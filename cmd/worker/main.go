// The worker process handles contact enrichment and outreach; query
// scheduling and polling run elsewhere.
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
	pollInterval := flag.Int("poll-interval", 60, "seconds between worker passes")
	batchSize := flag.Int("batch-size", 5, "entities processed per pass")
	flag.Parse()

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

	pipeline, err := app.Pipeline(ctx, db, cfg, orchestrator.Config{BatchSize: *batchSize})
	if err != nil {
		log.Fatalf("build pipeline: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("[Worker] Running enrichment and outreach")
	ticker := time.NewTicker(time.Duration(*pollInterval) * time.Second)
	defer ticker.Stop()

	for {
		pipeline.RunWorkerPass(ctx)
		select {
		case <-quit:
			log.Println("[Worker] Stopped")
			return
		case <-ticker.C:
		}
	}
}
