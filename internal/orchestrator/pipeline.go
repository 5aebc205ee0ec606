// Package orchestrator advances the lead-generation pipeline: sheet sync,
// deferred query submission, operation polling and ingest, deduplication,
// contact enrichment and outreach. Every stage reads actionable rows in
// bounded batches and contains failures per row.
package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/leadgen-pipeline/internal/config"
	"github.com/ignite/leadgen-pipeline/internal/dedupe"
	"github.com/ignite/leadgen-pipeline/internal/emailgen"
	"github.com/ignite/leadgen-pipeline/internal/outreach"
	"github.com/ignite/leadgen-pipeline/internal/pkg/logger"
	"github.com/ignite/leadgen-pipeline/internal/serp"
	"github.com/ignite/leadgen-pipeline/internal/sheets"
	"github.com/ignite/leadgen-pipeline/internal/yandex"
)

// Config bounds one orchestration tick.
type Config struct {
	BatchSize    int
	PollInterval time.Duration
}

// SearchClient creates and polls deferred search operations.
type SearchClient interface {
	CreateDeferredSearch(ctx context.Context, params yandex.SearchParams) (*yandex.OperationResponse, error)
	GetOperation(ctx context.Context, operationID string) (*yandex.OperationResponse, error)
}

// SheetSyncer runs one spreadsheet sync pass.
type SheetSyncer interface {
	Sync(ctx context.Context, batchTag string) (sheets.Summary, error)
}

// Deduper resolves duplicate companies.
type Deduper interface {
	Run(ctx context.Context) (dedupe.Stats, error)
}

// ContactEnricher extracts and stores contacts for one company.
type ContactEnricher interface {
	EnrichCompany(ctx context.Context, companyID, websiteURL string) ([]string, error)
}

// EmailGenerator produces a personalized template.
type EmailGenerator interface {
	Generate(ctx context.Context, company emailgen.CompanyBrief, offer emailgen.OfferBrief, contact *emailgen.ContactBrief) emailgen.GeneratedEmail
}

// OutreachSender queues and delivers outreach messages.
type OutreachSender interface {
	Queue(ctx context.Context, in outreach.QueueInput) (string, string, error)
	Deliver(ctx context.Context, msg outreach.Message) (string, error)
}

// Ingestor persists SERP documents inside the caller's transaction.
type Ingestor interface {
	IngestTx(ctx context.Context, q serp.Querier, operationID string, payload []byte) ([]string, error)
}

// Deps are the pipeline collaborators.
type Deps struct {
	Search    SearchClient
	Ingest    Ingestor
	Dedupe    Deduper
	Enricher  ContactEnricher
	Generator EmailGenerator
	Sender    OutreachSender
	SheetSync SheetSyncer // optional
	SheetCfg  config.SheetSyncConfig
}

// defaultOffer is the pitch used for every generated e-mail.
var defaultOffer = emailgen.OfferBrief{
	Pains:            []string{"Расширение воронки B2B", "Высокая стоимость лида"},
	ValueProposition: "Автоматизируем поиск релевантных компаний и персонализируем письма в течение суток.",
	CallToAction:     "Готовы обсудить 15-минутный пилот на этой неделе?",
}

// Pipeline ties the stages into a single tick loop.
type Pipeline struct {
	db   *sql.DB
	cfg  Config
	deps Deps
	now  func() time.Time

	lastSheetSync time.Time
}

// NewPipeline builds the orchestrator.
func NewPipeline(db *sql.DB, cfg Config, deps Deps) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	return &Pipeline{db: db, cfg: cfg, deps: deps, now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// RunOnce executes a single tick. Stage failures are logged and never abort
// the remaining stages.
func (p *Pipeline) RunOnce(ctx context.Context) {
	p.maybeSyncSheet(ctx)

	logger.Info("orchestrator: tick started")
	scheduled := p.scheduleDeferredQueries(ctx)
	processed := p.pollOperations(ctx)
	if processed > 0 {
		if _, err := p.deps.Dedupe.Run(ctx); err != nil {
			logger.Error("orchestrator: dedupe failed", "error", err.Error())
		}
	}
	enriched := p.enrichMissingContacts(ctx)
	queued := p.generateAndQueueEmails(ctx)
	delivered := p.deliverDueMessages(ctx)

	logger.Info("orchestrator: tick finished",
		"scheduled", scheduled, "processed", processed,
		"enriched", enriched, "queued", queued, "delivered", delivered)
}

// RunForever ticks until the context is cancelled.
func (p *Pipeline) RunForever(ctx context.Context) {
	logger.Info("orchestrator: loop mode", "poll_interval", p.cfg.PollInterval.String())
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		p.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ScheduleDeferredQueries runs only the submission stage. The scheduler
// process uses it to keep deferred creation separate from ingest.
func (p *Pipeline) ScheduleDeferredQueries(ctx context.Context) int {
	scheduled := p.scheduleDeferredQueries(ctx)
	if scheduled > 0 {
		logger.Info("orchestrator: deferred queries submitted", "count", scheduled)
	}
	return scheduled
}

// RunWorkerPass runs enrichment and outreach only. The worker process uses
// it alongside a separately running scheduler.
func (p *Pipeline) RunWorkerPass(ctx context.Context) {
	enriched := p.enrichMissingContacts(ctx)
	queued := p.generateAndQueueEmails(ctx)
	delivered := p.deliverDueMessages(ctx)
	logger.Info("orchestrator: worker pass finished",
		"enriched", enriched, "queued", queued, "delivered", delivered)
}

func (p *Pipeline) maybeSyncSheet(ctx context.Context) {
	if p.deps.SheetSync == nil || !p.deps.SheetCfg.Enabled {
		return
	}
	now := p.now()
	if !p.lastSheetSync.IsZero() && now.Sub(p.lastSheetSync) < p.deps.SheetCfg.Interval() {
		return
	}
	defer func() { p.lastSheetSync = now }()

	summary, err := p.deps.SheetSync.Sync(ctx, p.deps.SheetCfg.BatchTag)
	if err != nil {
		logger.Error("orchestrator: sheet sync failed", "error", err.Error())
		return
	}
	logger.Info("orchestrator: sheet sync done",
		"processed", summary.ProcessedRows, "inserted", summary.InsertedQueries,
		"duplicates", summary.DuplicateQueries, "errors", summary.Errors)
}

const selectPendingQueriesSQL = `
SELECT id, query_text, region_code
FROM serp_queries
WHERE status = 'pending' AND scheduled_for <= NOW()
ORDER BY scheduled_for ASC
LIMIT $1
FOR UPDATE SKIP LOCKED`

const insertOperationSQL = `
INSERT INTO serp_operations (query_id, operation_id, status, requested_at, metadata)
VALUES ($1, $2, 'created', NOW(), $3::jsonb)
ON CONFLICT (operation_id) DO NOTHING`

const updateQueryStatusSQL = `
UPDATE serp_queries SET status = $1, updated_at = NOW() WHERE id = $2`

// scheduleDeferredQueries submits due pending queries to the search API.
// A night-window rejection is an expected signal: the batch is released
// untouched and retried on a later tick.
func (p *Pipeline) scheduleDeferredQueries(ctx context.Context) int {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("orchestrator: begin schedule tx", "error", err.Error())
		return 0
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, selectPendingQueriesSQL, p.cfg.BatchSize)
	if err != nil {
		logger.Error("orchestrator: select pending queries", "error", err.Error())
		return 0
	}

	type pendingQuery struct {
		id, text string
		region   int
	}
	var pending []pendingQuery
	for rows.Next() {
		var q pendingQuery
		if err := rows.Scan(&q.id, &q.text, &q.region); err != nil {
			rows.Close()
			logger.Error("orchestrator: scan pending query", "error", err.Error())
			return 0
		}
		pending = append(pending, q)
	}
	rows.Close()
	if len(pending) == 0 {
		return 0
	}

	scheduled := 0
	for _, q := range pending {
		operation, err := p.deps.Search.CreateDeferredSearch(ctx, yandex.NewSearchParams(q.text, q.region))
		if err != nil {
			if errors.Is(err, yandex.ErrNightWindow) {
				logger.Info("orchestrator: outside night window, deferring batch")
				return scheduled
			}
			logger.Error("orchestrator: create deferred search failed", "query_id", q.id, "error", err.Error())
			continue
		}

		metadata, _ := json.Marshal(map[string]string{"created_at": p.now().UTC().Format(time.RFC3339)})
		if _, err := tx.ExecContext(ctx, insertOperationSQL, q.id, operation.ID, string(metadata)); err != nil {
			logger.Error("orchestrator: insert operation failed", "query_id", q.id, "error", err.Error())
			continue
		}
		if _, err := tx.ExecContext(ctx, updateQueryStatusSQL, "in_progress", q.id); err != nil {
			logger.Error("orchestrator: update query status failed", "query_id", q.id, "error", err.Error())
			continue
		}
		scheduled++
	}

	if err := tx.Commit(); err != nil {
		logger.Error("orchestrator: commit schedule tx", "error", err.Error())
		return 0
	}
	return scheduled
}

const selectOpenOperationsSQL = `
SELECT id, query_id, operation_id
FROM serp_operations
WHERE status IN ('created', 'running')
ORDER BY requested_at
LIMIT $1
FOR UPDATE SKIP LOCKED`

const updateOperationSQL = `
UPDATE serp_operations
SET status = $1,
    completed_at = $2,
    retry_count = retry_count + $3,
    error_payload = $4::jsonb,
    metadata = metadata || $5::jsonb,
    modified_at = NOW()
WHERE id = $6`

// pollOperations checks open operations and ingests completed payloads.
// It returns the number of operations whose results were ingested.
func (p *Pipeline) pollOperations(ctx context.Context) int {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("orchestrator: begin poll tx", "error", err.Error())
		return 0
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, selectOpenOperationsSQL, p.cfg.BatchSize)
	if err != nil {
		logger.Error("orchestrator: select open operations", "error", err.Error())
		return 0
	}

	type openOperation struct {
		rowID, queryID, operationID string
	}
	var open []openOperation
	for rows.Next() {
		var op openOperation
		if err := rows.Scan(&op.rowID, &op.queryID, &op.operationID); err != nil {
			rows.Close()
			logger.Error("orchestrator: scan open operation", "error", err.Error())
			return 0
		}
		open = append(open, op)
	}
	rows.Close()
	if len(open) == 0 {
		return 0
	}

	processed := 0
	for _, op := range open {
		operation, err := p.deps.Search.GetOperation(ctx, op.operationID)
		if err != nil {
			p.failOperation(ctx, tx, op.rowID, err)
			continue
		}

		checked, _ := json.Marshal(map[string]string{"last_checked": p.now().UTC().Format(time.RFC3339)})
		if !operation.Done {
			if _, err := tx.ExecContext(ctx, updateOperationSQL,
				"running", nil, 0, nil, string(checked), op.rowID); err != nil {
				logger.Error("orchestrator: update running operation", "operation_id", op.operationID, "error", err.Error())
			}
			continue
		}

		if operation.Err != nil {
			p.failOperation(ctx, tx, op.rowID, fmt.Errorf("operation error %d: %s", operation.Err.Code, operation.Err.Message))
			continue
		}

		payload, err := operation.DecodeRawData()
		if err != nil {
			p.failOperation(ctx, tx, op.rowID, err)
			continue
		}
		if _, err := p.deps.Ingest.IngestTx(ctx, tx, op.operationID, payload); err != nil {
			p.failOperation(ctx, tx, op.rowID, err)
			continue
		}

		if _, err := tx.ExecContext(ctx, updateQueryStatusSQL, "completed", op.queryID); err != nil {
			logger.Error("orchestrator: mark query completed", "query_id", op.queryID, "error", err.Error())
			continue
		}
		if _, err := tx.ExecContext(ctx, updateOperationSQL,
			"done", p.now().UTC(), 0, nil, string(checked), op.rowID); err != nil {
			logger.Error("orchestrator: mark operation done", "operation_id", op.operationID, "error", err.Error())
			continue
		}
		processed++
	}

	if err := tx.Commit(); err != nil {
		logger.Error("orchestrator: commit poll tx", "error", err.Error())
		return 0
	}
	return processed
}

func (p *Pipeline) failOperation(ctx context.Context, tx *sql.Tx, rowID string, cause error) {
	logger.Error("orchestrator: operation failed", "operation_row", rowID, "error", cause.Error())
	payload, _ := json.Marshal(map[string]string{"reason": cause.Error()})
	if _, err := tx.ExecContext(ctx, updateOperationSQL,
		"failed", p.now().UTC(), 1, string(payload), "{}", rowID); err != nil {
		logger.Error("orchestrator: record operation failure", "operation_row", rowID, "error", err.Error())
	}
}

const selectCompaniesWithoutContactsSQL = `
SELECT c.id, COALESCE(c.website_url, 'https://' || c.canonical_domain) AS website_url
FROM companies c
LEFT JOIN contacts ct ON ct.company_id = c.id
WHERE ct.id IS NULL
  AND COALESCE(c.website_url, c.canonical_domain) IS NOT NULL
ORDER BY c.created_at
LIMIT $1`

func (p *Pipeline) enrichMissingContacts(ctx context.Context) int {
	rows, err := p.db.QueryContext(ctx, selectCompaniesWithoutContactsSQL, p.cfg.BatchSize)
	if err != nil {
		logger.Error("orchestrator: select companies for enrichment", "error", err.Error())
		return 0
	}

	type target struct{ id, websiteURL string }
	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.id, &t.websiteURL); err != nil {
			rows.Close()
			logger.Error("orchestrator: scan enrichment target", "error", err.Error())
			return 0
		}
		targets = append(targets, t)
	}
	rows.Close()

	enriched := 0
	for _, t := range targets {
		ids, err := p.deps.Enricher.EnrichCompany(ctx, t.id, t.websiteURL)
		if err != nil {
			logger.Error("orchestrator: enrichment failed", "company_id", t.id, "error", err.Error())
			continue
		}
		if len(ids) > 0 {
			enriched++
		}
	}
	return enriched
}

const selectContactsForOutreachSQL = `
SELECT ct.id AS contact_id, ct.company_id, ct.value,
       c.name, COALESCE(c.canonical_domain, ''), COALESCE(c.industry, ''),
       COALESCE(c.attributes->>'homepage_excerpt', '')
FROM contacts ct
JOIN companies c ON c.id = ct.company_id
LEFT JOIN outreach_messages om ON om.contact_id = ct.id AND om.status IN ('sent', 'scheduled')
LEFT JOIN opt_out_registry o ON LOWER(o.contact_value) = LOWER(ct.value)
WHERE ct.contact_type = 'email'
  AND om.id IS NULL
  AND o.id IS NULL
ORDER BY ct.first_seen_at
LIMIT $1`

func (p *Pipeline) generateAndQueueEmails(ctx context.Context) int {
	rows, err := p.db.QueryContext(ctx, selectContactsForOutreachSQL, p.cfg.BatchSize)
	if err != nil {
		logger.Error("orchestrator: select contacts for outreach", "error", err.Error())
		return 0
	}

	type outreachTarget struct {
		contactID, companyID, email       string
		name, domain, industry, highlights string
	}
	var targets []outreachTarget
	for rows.Next() {
		var t outreachTarget
		if err := rows.Scan(&t.contactID, &t.companyID, &t.email, &t.name, &t.domain, &t.industry, &t.highlights); err != nil {
			rows.Close()
			logger.Error("orchestrator: scan outreach target", "error", err.Error())
			return 0
		}
		targets = append(targets, t)
	}
	rows.Close()

	queued := 0
	for _, t := range targets {
		domain := t.domain
		if domain == "" {
			if at := strings.LastIndex(t.email, "@"); at >= 0 {
				domain = t.email[at+1:]
			}
		}
		company := emailgen.CompanyBrief{Name: t.name, Domain: domain, Industry: t.industry}
		if t.highlights != "" {
			company.Highlights = []string{t.highlights}
		}

		generated := p.deps.Generator.Generate(ctx, company, defaultOffer, nil)
		if _, _, err := p.deps.Sender.Queue(ctx, outreach.QueueInput{
			CompanyID:      t.companyID,
			ContactID:      t.contactID,
			ToEmail:        t.email,
			Template:       generated.Template,
			RequestPayload: generated.RequestPayload,
		}); err != nil {
			logger.Error("orchestrator: queue outreach failed", "company_id", t.companyID, "error", err.Error())
			continue
		}
		queued++
	}
	return queued
}

const selectDueOutreachSQL = `
SELECT id, company_id, COALESCE(contact_id::text, ''),
       COALESCE(metadata->>'to_email', ''), subject, body
FROM outreach_messages
WHERE status = 'scheduled'
  AND channel = 'email'
  AND scheduled_for IS NOT NULL
  AND scheduled_for <= NOW()
ORDER BY scheduled_for
LIMIT $1`

func (p *Pipeline) deliverDueMessages(ctx context.Context) int {
	rows, err := p.db.QueryContext(ctx, selectDueOutreachSQL, p.cfg.BatchSize)
	if err != nil {
		logger.Error("orchestrator: select due outreach", "error", err.Error())
		return 0
	}

	var due []outreach.Message
	for rows.Next() {
		var m outreach.Message
		if err := rows.Scan(&m.ID, &m.CompanyID, &m.ContactID, &m.ToEmail, &m.Subject, &m.Body); err != nil {
			rows.Close()
			logger.Error("orchestrator: scan due outreach", "error", err.Error())
			return 0
		}
		due = append(due, m)
	}
	rows.Close()

	delivered := 0
	for _, msg := range due {
		status, err := p.deps.Sender.Deliver(ctx, msg)
		if err != nil {
			logger.Error("orchestrator: deliver failed", "outreach_id", msg.ID, "error", err.Error())
			continue
		}
		if status == outreach.StatusSent {
			delivered++
		}
	}
	return delivered
}
