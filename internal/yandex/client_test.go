package yandex

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestClient(t *testing.T, serverURL string, now time.Time, enforce bool) *Client {
	t.Helper()
	c, err := NewClient(StaticTokenProvider("t1.test-token"), "folder-1", "Europe/Moscow", enforce,
		WithEndpoints(serverURL+"/searchAsync", serverURL+"/operations"),
		WithClock(fixedClock(now)),
		WithSleep(noSleep),
	)
	require.NoError(t, err)
	return c
}

// 03:00 MSK is midnight UTC, safely inside the quiet window.
var nightTime = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

// 15:00 MSK, outside the quiet window.
var dayTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestCreateDeferredSearch(t *testing.T) {
	var gotPayload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/searchAsync", r.URL.Path)
		require.Equal(t, "Bearer t1.test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "op-123", "done": false})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nightTime, true)
	op, err := c.CreateDeferredSearch(context.Background(), NewSearchParams("стоматология Москва", 213))
	require.NoError(t, err)

	assert.Equal(t, "op-123", op.ID)
	assert.False(t, op.Done)
	assert.Equal(t, "folder-1", gotPayload["folder_id"])
	assert.Equal(t, "FORMAT_XML", gotPayload["response_format"])
	assert.EqualValues(t, 213, gotPayload["region"])
	query := gotPayload["query"].(map[string]interface{})
	assert.Equal(t, "SEARCH_TYPE_RU", query["search_type"])
	assert.Equal(t, "FAMILY_MODE_MODERATE", query["family_mode"])
}

func TestCreateDeferredSearchOutsideNightWindow(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, dayTime, true)
	_, err := c.CreateDeferredSearch(context.Background(), NewSearchParams("q", 225))
	assert.ErrorIs(t, err, ErrNightWindow)
	assert.Zero(t, atomic.LoadInt32(&calls), "no HTTP request may be issued")
}

func TestCreateDeferredSearchWindowDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "op-9", "done": false})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, dayTime, false)
	op, err := c.CreateDeferredSearch(context.Background(), NewSearchParams("q", 225))
	require.NoError(t, err)
	assert.Equal(t, "op-9", op.ID)
}

func TestCreateDeferredSearchAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"quota exceeded"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nightTime, true)
	_, err := c.CreateDeferredSearch(context.Background(), NewSearchParams("q", 225))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestGetOperationAndDecode(t *testing.T) {
	xml := `<yandexsearch><doc><url>https://test.ru</url></doc></yandexsearch>`
	encoded := base64.StdEncoding.EncodeToString([]byte(xml))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/operations/op-123", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":       "op-123",
			"done":     true,
			"response": map[string]string{"rawData": encoded},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, dayTime, true) // polling is never gated
	op, err := c.GetOperation(context.Background(), "op-123")
	require.NoError(t, err)
	require.True(t, op.Done)

	payload, err := op.DecodeRawData()
	require.NoError(t, err)
	assert.Equal(t, xml, string(payload))
}

func TestDecodeRawDataMissing(t *testing.T) {
	op := &OperationResponse{ID: "op-1", Done: true}
	_, err := op.DecodeRawData()
	assert.ErrorIs(t, err, ErrInvalidResponse)

	op.Response = &OperationPayload{RawData: "%%%not-base64%%%"}
	_, err = op.DecodeRawData()
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestWaitUntilReadyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "op-slow", "done": false})
	}))
	defer srv.Close()

	current := nightTime
	c, err := NewClient(StaticTokenProvider("t"), "f", "Europe/Moscow", false,
		WithEndpoints(srv.URL+"/searchAsync", srv.URL+"/operations"),
		WithClock(func() time.Time { return current }),
		WithSleep(func(context.Context, time.Duration) error {
			current = current.Add(time.Minute)
			return nil
		}),
	)
	require.NoError(t, err)
	c.SetMaxWait(3 * time.Minute)

	_, err = c.WaitUntilReady(context.Background(), "op-slow")
	assert.ErrorIs(t, err, ErrOperationTimeout)
}

func TestWaitUntilReadyCompletes(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := atomic.AddInt32(&polls, 1) >= 3
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "op-ok", "done": done})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nightTime, false)
	op, err := c.WaitUntilReady(context.Background(), "op-ok")
	require.NoError(t, err)
	assert.True(t, op.Done)
	assert.EqualValues(t, 3, atomic.LoadInt32(&polls))
}

func TestLimiterBlocksWhenWindowFull(t *testing.T) {
	current := time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)
	var slept []time.Duration
	lim := newLimiter(RateLimits{PerSecond: 2, PerMinute: 100, PerHour: 1000},
		func() time.Time { return current },
		func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			current = current.Add(d)
			return nil
		})

	ctx := context.Background()
	require.NoError(t, lim.wait(ctx))
	require.NoError(t, lim.wait(ctx))
	assert.Empty(t, slept, "first two calls admitted immediately")

	require.NoError(t, lim.wait(ctx))
	require.Len(t, slept, 1, "third call must wait for the window to age out")
	assert.Equal(t, time.Second, slept[0])
}
