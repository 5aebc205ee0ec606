package serp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/leadgen-pipeline/internal/normalize"
	"github.com/ignite/leadgen-pipeline/internal/pkg/logger"
)

const upsertResultSQL = `
INSERT INTO serp_results (operation_id, url, domain, title, snippet, position, language, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
ON CONFLICT (operation_id, url)
DO UPDATE SET
    title = EXCLUDED.title,
    snippet = EXCLUDED.snippet,
    position = EXCLUDED.position,
    language = EXCLUDED.language,
    metadata = serp_results.metadata || EXCLUDED.metadata
RETURNING id`

const upsertCompanySQL = `
INSERT INTO companies (
    name, canonical_domain, website_url, status, dedupe_hash, attributes, source, first_seen_at, last_seen_at
)
VALUES ($1, $2, $3, 'new', $4, $5::jsonb, 'yandex_search_api', NOW(), NOW())
ON CONFLICT (dedupe_hash)
DO UPDATE SET
    website_url = COALESCE(companies.website_url, EXCLUDED.website_url),
    attributes = companies.attributes || EXCLUDED.attributes,
    last_seen_at = NOW(),
    updated_at = NOW()
RETURNING id`

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// IngestService persists parsed SERP documents.
type IngestService struct {
	db *sql.DB
}

// NewIngestService returns an ingest service over the given database.
func NewIngestService(db *sql.DB) *IngestService {
	return &IngestService{db: db}
}

// Ingest parses the XML payload and stores its documents inside a single
// transaction. Re-ingesting the same operation is idempotent. It returns
// the ids of the touched serp_results rows.
func (s *IngestService) Ingest(ctx context.Context, operationID string, payload []byte) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin ingest tx: %w", err)
	}
	ids, err := s.IngestTx(ctx, tx, operationID, payload)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ingest tx: %w", err)
	}
	return ids, nil
}

// IngestTx is Ingest composed into an externally managed transaction.
func (s *IngestService) IngestTx(ctx context.Context, q Querier, operationID string, payload []byte) ([]string, error) {
	documents, err := ParseXML(payload)
	if err != nil {
		return nil, err
	}
	if len(documents) == 0 {
		logger.Info("serp: operation has no documents to store", "operation_id", operationID)
		return nil, nil
	}

	ids := make([]string, 0, len(documents))
	for _, doc := range documents {
		id, err := s.upsertResult(ctx, q, operationID, doc)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
		if err := s.ensureCompany(ctx, q, doc); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (s *IngestService) upsertResult(ctx context.Context, q Querier, operationID string, doc Document) (string, error) {
	metadata, _ := json.Marshal(map[string]interface{}{
		"language": doc.Language,
		"source":   "yandex",
	})

	var id string
	err := q.QueryRowContext(ctx, upsertResultSQL,
		operationID, doc.URL, doc.Domain, doc.Title, doc.Snippet, doc.Position, nullable(doc.Language), string(metadata),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert serp result %s: %w", doc.URL, err)
	}
	return id, nil
}

func (s *IngestService) ensureCompany(ctx context.Context, q Querier, doc Document) error {
	dedupeHash := normalize.BuildCompanyDedupeKey(doc.Title, doc.Domain)
	attributes, _ := json.Marshal(map[string]interface{}{
		"source":       "yandex_serp",
		"last_snippet": doc.Snippet,
	})

	name := doc.Title
	if name == "" {
		name = doc.Domain
	}

	var id string
	err := q.QueryRowContext(ctx, upsertCompanySQL,
		name, nullable(doc.Domain), doc.URL, dedupeHash, string(attributes),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("upsert company %s: %w", doc.Domain, err)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
