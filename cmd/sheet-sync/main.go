// One-shot sync of the niches spreadsheet into the search query queue.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/ignite/leadgen-pipeline/internal/app"
	"github.com/ignite/leadgen-pipeline/internal/config"
)

func main() {
	batchTag := flag.String("batch-tag", "", "process only rows with this batch_tag")
	flag.Parse()

	cfg, err := config.Get()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	db, err := app.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer db.Close()

	service, err := app.SheetSyncService(ctx, db, cfg)
	if err != nil {
		log.Fatalf("build sheet sync: %v", err)
	}

	tag := *batchTag
	if tag == "" {
		tag = cfg.SheetSync.BatchTag
	}

	summary, err := service.Sync(ctx, tag)
	if err != nil {
		log.Fatalf("sheet sync failed: %v", err)
	}
	log.Printf("Done: %d rows processed, %d queries inserted, %d duplicates, %d errors",
		summary.ProcessedRows, summary.InsertedQueries, summary.DuplicateQueries, summary.Errors)
}
