// Package app wires configuration into the pipeline's collaborators. The
// cmd entry points share this bootstrap instead of repeating it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/leadgen-pipeline/internal/config"
	"github.com/ignite/leadgen-pipeline/internal/dedupe"
	"github.com/ignite/leadgen-pipeline/internal/emailgen"
	"github.com/ignite/leadgen-pipeline/internal/enrich"
	"github.com/ignite/leadgen-pipeline/internal/mxrouter"
	"github.com/ignite/leadgen-pipeline/internal/orchestrator"
	"github.com/ignite/leadgen-pipeline/internal/outreach"
	"github.com/ignite/leadgen-pipeline/internal/pkg/httpretry"
	"github.com/ignite/leadgen-pipeline/internal/pkg/logger"
	"github.com/ignite/leadgen-pipeline/internal/querygen"
	"github.com/ignite/leadgen-pipeline/internal/serp"
	"github.com/ignite/leadgen-pipeline/internal/sheets"
	"github.com/ignite/leadgen-pipeline/internal/yandex"
)

// OpenDB connects to Postgres and verifies the connection.
func OpenDB(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// TokenProvider resolves the configured Yandex Cloud auth into a provider:
// a static token when given, otherwise a JWT-exchanging provider built from
// the service account key.
func TokenProvider(cfg config.YandexConfig) (yandex.TokenProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.IAMToken != "" {
		return yandex.StaticTokenProvider(cfg.IAMToken), nil
	}

	var (
		key *yandex.ServiceAccountKey
		err error
	)
	if cfg.SAKeyFile != "" {
		key, err = yandex.LoadServiceAccountKeyFile(cfg.SAKeyFile)
	} else {
		key, err = yandex.ParseServiceAccountKey([]byte(cfg.SAKeyJSON))
	}
	if err != nil {
		return nil, err
	}
	return yandex.NewIAMTokenProvider(key, httpretry.New(nil, 3)), nil
}

// SearchClient builds the deferred search client from configuration.
func SearchClient(cfg *config.Config) (*yandex.Client, error) {
	tokens, err := TokenProvider(cfg.Yandex)
	if err != nil {
		return nil, err
	}
	client, err := yandex.NewClient(tokens, cfg.Yandex.FolderID, cfg.Timezone, cfg.Yandex.EnforceNightWindow,
		yandex.WithHTTPClient(httpretry.New(&http.Client{Timeout: cfg.Yandex.Timeout()}, 3)),
	)
	if err != nil {
		return nil, err
	}
	client.SetPollInterval(time.Duration(cfg.Yandex.PollIntervalSeconds) * time.Second)
	client.SetMaxWait(time.Duration(cfg.Yandex.MaxWaitMinutes) * time.Minute)
	return client, nil
}

// SheetSyncService builds the sheet sync scenario. It returns an error when
// the sheet id or the service-account key is not configured.
func SheetSyncService(ctx context.Context, db *sql.DB, cfg *config.Config) (*sheets.SyncService, error) {
	adapter, err := sheets.NewGoogleAdapter(ctx, cfg.Sheets)
	if err != nil {
		return nil, err
	}
	generator, err := querygen.NewGenerator(cfg.QueryGen, cfg.Timezone)
	if err != nil {
		return nil, err
	}
	return sheets.NewSyncService(adapter, sheets.NewQueryRepository(db), generator), nil
}

// Pipeline assembles the full orchestrator.
func Pipeline(ctx context.Context, db *sql.DB, cfg *config.Config, ocfg orchestrator.Config) (*orchestrator.Pipeline, error) {
	search, err := SearchClient(cfg)
	if err != nil {
		return nil, err
	}

	router := mxrouter.New(cfg.Routing)
	sender, err := outreach.NewSender(db, cfg, router, nil)
	if err != nil {
		return nil, err
	}

	deps := orchestrator.Deps{
		Search:    search,
		Ingest:    serp.NewIngestService(db),
		Dedupe:    dedupe.NewService(db),
		Enricher:  enrich.NewEnricher(db, &http.Client{Timeout: cfg.Enrich.Timeout()}, cfg.Enrich.UserAgent),
		Generator: emailgen.NewGenerator(cfg.OpenAI, httpretry.New(&http.Client{Timeout: cfg.OpenAI.Timeout()}, 3)),
		Sender:    sender,
		SheetCfg:  cfg.SheetSync,
	}

	if cfg.SheetSync.Enabled {
		syncService, err := SheetSyncService(ctx, db, cfg)
		if err != nil {
			logger.Error("app: sheet sync disabled, setup failed", "error", err.Error())
		} else {
			deps.SheetSync = syncService
			logger.Info("app: periodic sheet sync enabled",
				"interval_minutes", cfg.SheetSync.IntervalMinutes, "batch_tag", cfg.SheetSync.BatchTag)
		}
	}

	return orchestrator.NewPipeline(db, ocfg, deps), nil
}
