// Package yandex implements the deferred (asynchronous) Yandex Search API
// client: operation creation inside the nightly quiet window, status
// polling, rate limiting over three sliding windows and IAM token exchange.
package yandex

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/leadgen-pipeline/internal/pkg/logger"
)

const (
	searchAsyncURL = "https://searchapi.api.cloud.yandex.net/v2/web/searchAsync"
	operationsURL  = "https://operation.api.cloud.yandex.net/operations"
)

// SearchParams describes one deferred web search request.
type SearchParams struct {
	QueryText    string
	Region       int
	SearchType   string
	Localization string
	Page         int
	FixTypoMode  string
	SortMode     string
	SortOrder    string
	GroupMode    string
	GroupsOnPage int
	DocsInGroup  int
	MaxPassages  int
	UserAgent    string
}

// NewSearchParams returns params with the defaults used by the pipeline.
func NewSearchParams(queryText string, region int) SearchParams {
	if region == 0 {
		region = 225
	}
	return SearchParams{
		QueryText:    queryText,
		Region:       region,
		SearchType:   "SEARCH_TYPE_RU",
		Localization: "LOCALIZATION_RU",
		FixTypoMode:  "FIX_TYPO_MODE_ON",
		SortMode:     "SORT_MODE_BY_RELEVANCE",
		SortOrder:    "SORT_ORDER_DESC",
		GroupMode:    "GROUP_MODE_DEEP",
		GroupsOnPage: 100,
		DocsInGroup:  1,
		MaxPassages:  3,
	}
}

func (p SearchParams) payload(folderID string) map[string]interface{} {
	body := map[string]interface{}{
		"query": map[string]interface{}{
			"search_type":   p.SearchType,
			"query_text":    p.QueryText,
			"family_mode":   "FAMILY_MODE_MODERATE",
			"page":          p.Page,
			"fix_typo_mode": p.FixTypoMode,
		},
		"sort_spec": map[string]interface{}{
			"sort_mode":  p.SortMode,
			"sort_order": p.SortOrder,
		},
		"group_spec": map[string]interface{}{
			"group_mode":     p.GroupMode,
			"groups_on_page": p.GroupsOnPage,
			"docs_in_group":  p.DocsInGroup,
		},
		"max_passages":    p.MaxPassages,
		"region":          p.Region,
		"l10n":            p.Localization,
		"folder_id":       folderID,
		"response_format": "FORMAT_XML",
	}
	if p.UserAgent != "" {
		body["user_agent"] = p.UserAgent
	}
	return body
}

// OperationPayload is the response part of a completed operation.
type OperationPayload struct {
	RawData string `json:"rawData"`
}

// OperationError is the error part of a failed operation.
type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// OperationResponse is the state of a deferred operation.
type OperationResponse struct {
	ID       string            `json:"id"`
	Done     bool              `json:"done"`
	Response *OperationPayload `json:"response"`
	Err      *OperationError   `json:"error"`
}

// DecodeRawData base64-decodes the XML payload of a completed operation.
func (o *OperationResponse) DecodeRawData() ([]byte, error) {
	if o.Response == nil || o.Response.RawData == "" {
		return nil, ErrInvalidResponse
	}
	data, err := base64.StdEncoding.DecodeString(o.Response.RawData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return data, nil
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(d Doer) ClientOption { return func(c *Client) { c.http = d } }

// WithEndpoints overrides the API endpoints. Intended for tests.
func WithEndpoints(search, operations string) ClientOption {
	return func(c *Client) { c.searchURL, c.operationsURL = search, operations }
}

// WithClock replaces the time source used by the quiet-window gate and the
// rate limiters. Intended for tests.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// WithSleep replaces the cooperative sleep used by limiters and polling.
func WithSleep(sleep func(context.Context, time.Duration) error) ClientOption {
	return func(c *Client) { c.sleep = sleep }
}

// WithRateLimits replaces the default create/status limits.
func WithRateLimits(create, status RateLimits) ClientOption {
	return func(c *Client) { c.createLimits, c.statusLimits = create, status }
}

// Client talks to the deferred search API. A Client instance is used from a
// single goroutine; its rate-limit queues are not shared.
type Client struct {
	tokens             TokenProvider
	folderID           string
	location           *time.Location
	enforceNightWindow bool
	pollInterval       time.Duration
	maxWait            time.Duration

	http          Doer
	searchURL     string
	operationsURL string
	now           func() time.Time
	sleep         func(context.Context, time.Duration) error
	createLimits  RateLimits
	statusLimits  RateLimits
	createLimiter *limiter
	statusLimiter *limiter
}

// NewClient builds a deferred search client. The timezone names the zone in
// which the quiet window is evaluated.
func NewClient(tokens TokenProvider, folderID, timezone string, enforceNightWindow bool, opts ...ClientOption) (*Client, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	c := &Client{
		tokens:             tokens,
		folderID:           folderID,
		location:           loc,
		enforceNightWindow: enforceNightWindow,
		pollInterval:       time.Minute,
		maxWait:            3 * time.Hour,
		http:               &http.Client{Timeout: 10 * time.Second},
		searchURL:          searchAsyncURL,
		operationsURL:      operationsURL,
		now:                time.Now,
		sleep:              sleepCtx,
		createLimits:       DefaultRateLimits,
		statusLimits:       DefaultRateLimits,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.createLimiter = newLimiter(c.createLimits, c.localNow, c.sleep)
	c.statusLimiter = newLimiter(c.statusLimits, c.localNow, c.sleep)
	return c, nil
}

// SetPollInterval adjusts the WaitUntilReady polling cadence.
func (c *Client) SetPollInterval(d time.Duration) {
	if d >= time.Second {
		c.pollInterval = d
	}
}

// SetMaxWait adjusts the WaitUntilReady deadline.
func (c *Client) SetMaxWait(d time.Duration) {
	if d > 0 {
		c.maxWait = d
	}
}

func (c *Client) localNow() time.Time { return c.now().In(c.location) }

// ensureNightWindow rejects creation outside the local quiet window.
func (c *Client) ensureNightWindow() error {
	if !c.enforceNightWindow {
		return nil
	}
	if hour := c.localNow().Hour(); hour >= 8 {
		return ErrNightWindow
	}
	return nil
}

// CreateDeferredSearch submits a deferred search and returns the created
// operation. Outside the quiet window it fails with ErrNightWindow before
// any HTTP request is issued.
func (c *Client) CreateDeferredSearch(ctx context.Context, params SearchParams) (*OperationResponse, error) {
	if err := c.ensureNightWindow(); err != nil {
		return nil, err
	}
	if err := c.createLimiter.wait(ctx); err != nil {
		return nil, err
	}

	body, _ := json.Marshal(params.payload(c.folderID))
	resp, err := c.doJSON(ctx, http.MethodPost, c.searchURL, body)
	if err != nil {
		return nil, err
	}
	logger.Debug("yandex: deferred search created", "operation_id", resp.ID)
	return resp, nil
}

// GetOperation fetches the current state of a deferred operation.
func (c *Client) GetOperation(ctx context.Context, operationID string) (*OperationResponse, error) {
	if err := c.statusLimiter.wait(ctx); err != nil {
		return nil, err
	}
	return c.doJSON(ctx, http.MethodGet, c.operationsURL+"/"+operationID, nil)
}

// WaitUntilReady polls the operation until done or the deadline passes.
// On deadline it returns ErrOperationTimeout; the operation itself keeps
// running server-side and can be retried later.
func (c *Client) WaitUntilReady(ctx context.Context, operationID string) (*OperationResponse, error) {
	deadline := c.now().Add(c.maxWait)
	for {
		op, err := c.GetOperation(ctx, operationID)
		if err != nil {
			return nil, err
		}
		if op.Done {
			return op, nil
		}
		if !c.now().Before(deadline) {
			return nil, fmt.Errorf("%w: operation %s", ErrOperationTimeout, operationID)
		}
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return nil, err
		}
	}
}

func (c *Client) doJSON(ctx context.Context, method, url string, body []byte) (*OperationResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire iam token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yandex api request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var op OperationResponse
	if err := json.Unmarshal(raw, &op); err != nil {
		return nil, fmt.Errorf("decode operation response: %w", err)
	}
	return &op, nil
}
