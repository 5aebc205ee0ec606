// Package dedupe recomputes company dedup hashes and resolves duplicate
// groups down to a single primary company per hash.
package dedupe

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/ignite/leadgen-pipeline/internal/normalize"
	"github.com/ignite/leadgen-pipeline/internal/pkg/logger"
)

// Stats summarizes one deduplication run.
type Stats struct {
	HashUpdates      int
	PrimaryCompanies int
	DuplicatesMarked int
	UpdatedRecords   int
}

// Service deduplicates companies by canonical domain or name.
type Service struct {
	db *sql.DB
}

// NewService returns a deduplication service over the given database.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Run executes both phases inside a single transaction: hash refresh, then
// group resolution.
func (s *Service) Run(ctx context.Context) (Stats, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("begin dedupe tx: %w", err)
	}

	stats, err := s.runTx(ctx, tx)
	if err != nil {
		tx.Rollback()
		return Stats{}, err
	}
	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("commit dedupe tx: %w", err)
	}
	return stats, nil
}

func (s *Service) runTx(ctx context.Context, tx *sql.Tx) (Stats, error) {
	var stats Stats

	updates, err := s.refreshHashes(ctx, tx)
	if err != nil {
		return stats, err
	}
	stats.HashUpdates = updates

	primaries, duplicates, err := s.groupDuplicates(ctx, tx)
	if err != nil {
		return stats, err
	}
	stats.PrimaryCompanies = len(primaries)
	stats.DuplicatesMarked = len(duplicates)

	updated, err := s.applyGroupUpdates(ctx, tx, primaries, duplicates)
	if err != nil {
		return stats, err
	}
	stats.UpdatedRecords = updated
	return stats, nil
}

// refreshHashes recomputes each company's dedupe hash from the preferred
// domain source (canonical_domain, then website_url, then name) and writes
// back only the rows whose hash actually changed.
func (s *Service) refreshHashes(ctx context.Context, tx *sql.Tx) (int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, COALESCE(canonical_domain, ''), COALESCE(website_url, ''), COALESCE(dedupe_hash, '')
		FROM companies`)
	if err != nil {
		return 0, fmt.Errorf("select companies for hash refresh: %w", err)
	}
	defer rows.Close()

	type refresh struct {
		id, hash, domain string
	}
	var pending []refresh

	for rows.Next() {
		var id, name, canonicalDomain, websiteURL, currentHash string
		if err := rows.Scan(&id, &name, &canonicalDomain, &websiteURL, &currentHash); err != nil {
			return 0, fmt.Errorf("scan company: %w", err)
		}

		domainSource := canonicalDomain
		if domainSource == "" {
			domainSource = websiteURL
		}
		if domainSource == "" {
			domainSource = name
		}

		hash := normalize.BuildCompanyDedupeKey(name, domainSource)
		if hash != currentHash {
			pending = append(pending, refresh{id: id, hash: hash, domain: normalize.NormalizeDomain(domainSource)})
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, p := range pending {
		if _, err := tx.ExecContext(ctx, `
			UPDATE companies
			SET dedupe_hash = $1, canonical_domain = $2, updated_at = NOW()
			WHERE id = $3`, p.hash, nullableStr(p.domain), p.id); err != nil {
			return 0, fmt.Errorf("update dedupe hash for %s: %w", p.id, err)
		}
	}

	if len(pending) > 0 {
		logger.Info("dedupe: refreshed hashes", "updated", len(pending))
	}
	return len(pending), nil
}

type groupedCompany struct {
	id        string
	hash      string
	status    string
	createdAt time.Time
}

// groupDuplicates picks, per hash group, the earliest created company as
// primary and the rest as duplicates.
func (s *Service) groupDuplicates(ctx context.Context, tx *sql.Tx) (primaries, duplicates []string, err error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, dedupe_hash, status, created_at
		FROM companies
		WHERE dedupe_hash IS NOT NULL AND dedupe_hash <> ''`)
	if err != nil {
		return nil, nil, fmt.Errorf("select companies for grouping: %w", err)
	}
	defer rows.Close()

	groups := make(map[string][]groupedCompany)
	for rows.Next() {
		var c groupedCompany
		if err := rows.Scan(&c.id, &c.hash, &c.status, &c.createdAt); err != nil {
			return nil, nil, fmt.Errorf("scan grouped company: %w", err)
		}
		groups[c.hash] = append(groups[c.hash], c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	for _, members := range groups {
		sort.Slice(members, func(i, j int) bool {
			if !members[i].createdAt.Equal(members[j].createdAt) {
				return members[i].createdAt.Before(members[j].createdAt)
			}
			return members[i].id < members[j].id
		})
		primaries = append(primaries, members[0].id)
		for _, d := range members[1:] {
			duplicates = append(duplicates, d.id)
		}
	}
	sort.Strings(primaries)
	sort.Strings(duplicates)
	return primaries, duplicates, nil
}

func (s *Service) applyGroupUpdates(ctx context.Context, tx *sql.Tx, primaries, duplicates []string) (int, error) {
	updated := 0
	for _, id := range duplicates {
		res, err := tx.ExecContext(ctx, `
			UPDATE companies
			SET status = 'duplicate', opt_out = TRUE, updated_at = NOW()
			WHERE id = $1 AND status <> 'duplicate'`, id)
		if err != nil {
			return 0, fmt.Errorf("mark duplicate %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			updated += int(n)
		}
	}

	// Primaries demoted on an earlier run come back into the pipeline.
	for _, id := range primaries {
		if _, err := tx.ExecContext(ctx, `
			UPDATE companies
			SET status = CASE WHEN status = 'duplicate' THEN 'new' ELSE status END,
			    opt_out = FALSE,
			    updated_at = NOW()
			WHERE id = $1`, id); err != nil {
			return 0, fmt.Errorf("restore primary %s: %w", id, err)
		}
	}

	if updated > 0 {
		logger.Info("dedupe: duplicates marked", "count", updated)
	}
	return updated, nil
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
