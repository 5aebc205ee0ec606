// Package enrich fetches company websites and extracts contact data
// (e-mail, phone) plus a homepage excerpt used for personalization.
package enrich

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/ignite/leadgen-pipeline/internal/normalize"
	"github.com/ignite/leadgen-pipeline/internal/pkg/logger"
)

// HomepageExcerptLimit bounds the stored homepage text, in runes.
const HomepageExcerptLimit = 40000

var (
	emailRe = regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\d[\d\s().-]{7,}`)
	ctrlRe  = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	digitRe = regexp.MustCompile(`[^\d+]`)
)

var candidateSuffixes = []string{"/", "/contact", "/contacts", "/about", "/about-us", "/kontakty"}

// Contact is one extracted contact record.
type Contact struct {
	Type      string // "email" or "phone"
	Value     string
	SourceURL string
	Quality   float64
	Label     string
}

func (c Contact) key() string {
	if c.Type == "email" {
		return "email:" + strings.ToLower(c.Value)
	}
	digits := digitRe.ReplaceAllString(c.Value, "")
	return "phone:" + digits
}

// Doer executes HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Enricher extracts contacts from company websites and persists them.
type Enricher struct {
	db        *sql.DB
	http      Doer
	userAgent string
}

// NewEnricher builds an enricher. A nil client gets a default http.Client
// with a 10-second timeout and redirect following.
func NewEnricher(db *sql.DB, client Doer, userAgent string) *Enricher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if userAgent == "" {
		userAgent = "LeadGenBot/1.0 (+https://example.com/bot-info)"
	}
	return &Enricher{db: db, http: client, userAgent: userAgent}
}

const upsertContactSQL = `
INSERT INTO contacts (company_id, contact_type, value, source_url, is_primary, quality_score, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
ON CONFLICT (contact_type, value)
DO UPDATE SET
    company_id = EXCLUDED.company_id,
    source_url = COALESCE(EXCLUDED.source_url, contacts.source_url),
    quality_score = GREATEST(contacts.quality_score, EXCLUDED.quality_score),
    last_seen_at = NOW(),
    metadata = contacts.metadata || EXCLUDED.metadata
RETURNING id`

// EnrichCompany walks the candidate pages of a company website, stores the
// first batch of contacts found and updates the company status. It returns
// the ids of touched contact rows.
func (e *Enricher) EnrichCompany(ctx context.Context, companyID, websiteURL string) ([]string, error) {
	if websiteURL == "" {
		logger.Warn("enrich: company has no URL", "company_id", companyID)
		return nil, nil
	}

	baseURL := normalize.NormalizeURL(websiteURL)
	candidates := buildCandidateURLs(baseURL)

	var (
		collected []Contact
		seen      = map[string]struct{}{}
		excerpt   string
	)
	for i, candidate := range candidates {
		body := e.fetch(ctx, candidate)
		if body == "" {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			logger.Debug("enrich: unparsable page", "url", candidate, "error", err.Error())
			continue
		}
		if i == 0 {
			excerpt = homepageExcerpt(doc)
		}
		for _, contact := range extractContacts(doc, candidate) {
			if _, dup := seen[contact.key()]; dup {
				continue
			}
			seen[contact.key()] = struct{}{}
			collected = append(collected, contact)
		}
		if len(collected) > 0 {
			break // first page with contacts wins
		}
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enrich tx: %w", err)
	}
	ids, err := e.persist(ctx, tx, companyID, collected, excerpt)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enrich tx: %w", err)
	}
	return ids, nil
}

func (e *Enricher) persist(ctx context.Context, tx *sql.Tx, companyID string, contacts []Contact, excerpt string) ([]string, error) {
	if excerpt != "" {
		attrs, _ := json.Marshal(map[string]string{"homepage_excerpt": excerpt})
		if _, err := tx.ExecContext(ctx, `
			UPDATE companies
			SET attributes = attributes || $1::jsonb, updated_at = NOW()
			WHERE id = $2`, string(attrs), companyID); err != nil {
			return nil, fmt.Errorf("store homepage excerpt: %w", err)
		}
	}

	var (
		ids          []string
		emailSaved   bool
		primaryTaken = map[string]bool{}
	)
	for _, contact := range contacts {
		isPrimary := !primaryTaken[contact.Type]
		primaryTaken[contact.Type] = true

		value := normalize.CleanSnippet(strings.ReplaceAll(contact.Value, "\u00a0", " "))
		metadata, _ := json.Marshal(map[string]string{"label": contact.Label, "source_type": contact.Type})

		var id string
		err := tx.QueryRowContext(ctx, upsertContactSQL,
			companyID, contact.Type, value, contact.SourceURL, isPrimary, contact.Quality, string(metadata),
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("upsert contact %s: %w", contact.Type, err)
		}
		ids = append(ids, id)
		if contact.Type == "email" {
			emailSaved = true
		}
	}

	status := "contacts_not_found"
	if emailSaved {
		status = "contacts_ready"
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE companies SET status = $1, updated_at = NOW() WHERE id = $2`, status, companyID); err != nil {
		return nil, fmt.Errorf("update company status: %w", err)
	}

	if len(ids) == 0 {
		logger.Info("enrich: no contacts found", "company_id", companyID)
	}
	return ids, nil
}

// fetch downloads a page, returning "" on any transport error or a status
// of 400 and above.
func (e *Enricher) fetch(ctx context.Context, pageURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.http.Do(req)
	if err != nil {
		logger.Debug("enrich: fetch failed", "url", pageURL, "error", err.Error())
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		logger.Debug("enrich: page returned error status", "url", pageURL, "status", resp.StatusCode)
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return ""
	}
	return string(body)
}

// buildCandidateURLs resolves the well-known contact page paths against the
// site root, preserving order and dropping duplicates.
func buildCandidateURLs(baseURL string) []string {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return nil
	}
	root := parsed.Scheme + "://" + parsed.Host

	seen := map[string]struct{}{}
	var candidates []string
	for _, suffix := range candidateSuffixes {
		candidate := root + suffix
		if suffix == "/" {
			candidate = root + "/"
		}
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		candidates = append(candidates, candidate)
	}
	return candidates
}

// extractContacts pulls contacts from a parsed page: mailto/tel anchors
// first (highest quality), then regex matches over the text body.
func extractContacts(doc *goquery.Document, sourceURL string) []Contact {
	var found []Contact
	seen := map[string]struct{}{}
	add := func(c Contact) {
		if _, dup := seen[c.key()]; dup {
			return
		}
		seen[c.key()] = struct{}{}
		found = append(found, c)
	}

	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		label := normalize.CleanSnippet(sel.Text())
		lowered := strings.ToLower(href)
		switch {
		case strings.HasPrefix(lowered, "mailto:"):
			email := normalize.CleanEmail(href)
			if normalize.IsValidEmail(email) {
				if label == "" {
					label = "mailto"
				}
				add(Contact{Type: "email", Value: email, SourceURL: sourceURL, Quality: 1.0, Label: label})
			}
		case strings.HasPrefix(lowered, "tel:"):
			phone := strings.SplitN(href[4:], "?", 2)[0]
			if phone != "" {
				if label == "" {
					label = "tel"
				}
				add(Contact{Type: "phone", Value: phone, SourceURL: sourceURL, Quality: 0.9, Label: label})
			}
		}
	})

	// Join text nodes with spaces so text of adjacent elements does not run
	// together into one bogus match.
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			parts = append(parts, n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	text := strings.Join(parts, " ")
	for _, match := range emailRe.FindAllString(text, -1) {
		email := normalize.CleanEmail(match)
		if normalize.IsValidEmail(email) {
			add(Contact{Type: "email", Value: email, SourceURL: sourceURL, Quality: 0.8, Label: "text"})
		}
	}
	for _, match := range phoneRe.FindAllString(text, -1) {
		add(Contact{Type: "phone", Value: match, SourceURL: sourceURL, Quality: 0.6, Label: "text"})
	}

	return found
}

// homepageExcerpt flattens the page text, strips ASCII control characters
// and truncates to the storage limit.
func homepageExcerpt(doc *goquery.Document) string {
	text := normalize.CleanSnippet(ctrlRe.ReplaceAllString(doc.Text(), " "))
	runes := []rune(text)
	if len(runes) > HomepageExcerptLimit {
		return string(runes[:HomepageExcerptLimit])
	}
	return text
}
