// Package sheets syncs the niches spreadsheet into the search query queue
// and writes per-row processing status back.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/ignite/leadgen-pipeline/internal/config"
)

const sheetsAPIBase = "https://sheets.googleapis.com/v4/spreadsheets"

// statusColumns are the write-back columns, in sheet order.
var statusColumns = []string{
	"status",
	"generated_count",
	"db_inserted_count",
	"db_duplicate_count",
	"db_first_scheduled_for",
	"db_last_scheduled_for",
	"last_error",
}

// Row is one spreadsheet row with header-keyed values.
type Row struct {
	RowIndex int
	Values   map[string]string
}

// Get returns the trimmed cell under the lowercased header name.
func (r Row) Get(key string) string {
	return strings.TrimSpace(r.Values[strings.ToLower(key)])
}

// StatusUpdate is the write-back payload for one processed row.
type StatusUpdate struct {
	RowIndex       int
	Status         string
	GeneratedCount int
	InsertedCount  int
	DuplicateCount int
	FirstScheduled *time.Time
	LastScheduled  *time.Time
	LastError      string
}

// Adapter abstracts spreadsheet access.
type Adapter interface {
	FetchRows(ctx context.Context) ([]Row, error)
	UpdateRows(ctx context.Context, updates []StatusUpdate) error
}

// GoogleAdapter talks to the Google Sheets REST API with a service-account
// JWT.
type GoogleAdapter struct {
	http    *http.Client
	baseURL string
	sheetID string
	tab     string

	headerMap map[string]int
}

// NewGoogleAdapter authenticates with the configured service-account key
// (file or inline JSON) and targets the configured sheet tab.
func NewGoogleAdapter(ctx context.Context, cfg config.SheetsConfig) (*GoogleAdapter, error) {
	if cfg.SheetID == "" {
		return nil, fmt.Errorf("google sheet id not configured")
	}

	var keyJSON []byte
	switch {
	case cfg.SAKeyFile != "":
		data, err := os.ReadFile(cfg.SAKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read google service account key: %w", err)
		}
		keyJSON = data
	case cfg.SAKeyJSON != "":
		keyJSON = []byte(cfg.SAKeyJSON)
	default:
		return nil, fmt.Errorf("set GOOGLE_SA_KEY_FILE or GOOGLE_SA_KEY_JSON for Sheets access")
	}

	jwtConfig, err := google.JWTConfigFromJSON(keyJSON, "https://www.googleapis.com/auth/spreadsheets")
	if err != nil {
		return nil, fmt.Errorf("parse google service account key: %w", err)
	}

	return &GoogleAdapter{
		http:    jwtConfig.Client(ctx),
		baseURL: sheetsAPIBase,
		sheetID: cfg.SheetID,
		tab:     cfg.Tab,
	}, nil
}

// WithHTTPClient replaces the HTTP client and base URL. Intended for tests.
func (a *GoogleAdapter) WithHTTPClient(client *http.Client, baseURL string) *GoogleAdapter {
	a.http = client
	a.baseURL = baseURL
	return a
}

// FetchRows reads the whole tab and maps each data row by its headers.
func (a *GoogleAdapter) FetchRows(ctx context.Context) ([]Row, error) {
	endpoint := fmt.Sprintf("%s/%s/values/%s", a.baseURL, a.sheetID, url.PathEscape(a.tab))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sheet values: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch sheet values: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var payload struct {
		Values [][]interface{} `json:"values"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode sheet values: %w", err)
	}
	if len(payload.Values) == 0 {
		return nil, nil
	}

	headers := payload.Values[0]
	a.headerMap = make(map[string]int, len(headers))
	for idx, h := range headers {
		a.headerMap[normalizeHeader(cellString(h))] = idx + 1
	}

	rows := make([]Row, 0, len(payload.Values)-1)
	for i, cells := range payload.Values[1:] {
		values := make(map[string]string, len(headers))
		for col, h := range headers {
			value := ""
			if col < len(cells) {
				value = strings.TrimSpace(cellString(cells[col]))
			}
			values[normalizeHeader(cellString(h))] = value
		}
		rows = append(rows, Row{RowIndex: i + 2, Values: values})
	}
	return rows, nil
}

// UpdateRows writes the status columns of every processed row in a single
// batch request.
func (a *GoogleAdapter) UpdateRows(ctx context.Context, updates []StatusUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	if a.headerMap == nil {
		return fmt.Errorf("sheet headers unknown, call FetchRows first")
	}

	var missing []string
	for _, col := range statusColumns {
		if _, ok := a.headerMap[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("sheet is missing status columns: %s", strings.Join(missing, ", "))
	}

	startCol := a.headerMap[statusColumns[0]]
	endCol := a.headerMap[statusColumns[len(statusColumns)-1]]

	type valueRange struct {
		Range  string          `json:"range"`
		Values [][]interface{} `json:"values"`
	}
	data := make([]valueRange, 0, len(updates))
	for _, u := range updates {
		data = append(data, valueRange{
			Range: fmt.Sprintf("%s!%s%d:%s%d",
				a.tab, columnLetter(startCol), u.RowIndex, columnLetter(endCol), u.RowIndex),
			Values: [][]interface{}{{
				u.Status,
				fmt.Sprintf("%d", u.GeneratedCount),
				fmt.Sprintf("%d", u.InsertedCount),
				fmt.Sprintf("%d", u.DuplicateCount),
				formatTime(u.FirstScheduled),
				formatTime(u.LastScheduled),
				u.LastError,
			}},
		})
	}

	body, _ := json.Marshal(map[string]interface{}{
		"valueInputOption": "RAW",
		"data":             data,
	})
	endpoint := fmt.Sprintf("%s/%s/values:batchUpdate", a.baseURL, a.sheetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("batch update sheet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("batch update sheet: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

func cellString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// columnLetter converts a 1-based column index into A1 notation.
func columnLetter(index int) string {
	result := ""
	for index > 0 {
		index--
		result = string(rune('A'+index%26)) + result
		index /= 26
	}
	return result
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
