package querygen

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/leadgen-pipeline/internal/config"
)

func testGenerator(t *testing.T, now time.Time) *Generator {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	g, err := NewGenerator(cfg.QueryGen, "Europe/Moscow")
	require.NoError(t, err)
	return g.WithClock(func() time.Time { return now })
}

func TestGenerateInsideNightWindow(t *testing.T) {
	// 03:00 UTC = 06:00 MSK, inside [00:00, 07:59].
	now := time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)
	g := testGenerator(t, now)

	row := NicheRow{RowIndex: 2, Niche: "стоматология", City: "Москва", Country: "Россия", BatchTag: "batch-1"}
	queries := g.Generate(row)

	require.Len(t, queries, 6)
	first := queries[0]
	assert.True(t, first.ScheduledFor.Equal(now.In(g.loc)), "inside the window the first query starts now")
	assert.Equal(t, 213, first.RegionCode)
	assert.Empty(t, first.Trigger)
	assert.True(t, strings.HasPrefix(first.QueryText, "lang:ru стоматология Москва"))
	assert.Contains(t, first.QueryText, "-domain:avito.ru")
	assert.Contains(t, first.QueryText, "-site:vk.com")

	for i, q := range queries {
		expected := now.In(g.loc).Add(time.Duration(i*45) * time.Second)
		assert.True(t, q.ScheduledFor.Equal(expected), "query %d spaced 45s apart", i)
		assert.Len(t, q.QueryHash, 40)
	}
	for _, q := range queries[1:] {
		assert.NotEmpty(t, q.Trigger)
		assert.Contains(t, q.QueryText, q.Trigger)
	}
}

func TestGenerateOutsideWindowSchedulesNextOpening(t *testing.T) {
	// 12:00 UTC = 15:00 MSK, past the window end.
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	g := testGenerator(t, now)

	queries := g.Generate(NicheRow{Niche: "доставка еды", City: "Казань"})
	require.NotEmpty(t, queries)

	wantStart := time.Date(2025, 3, 11, 0, 0, 0, 0, g.loc)
	assert.True(t, queries[0].ScheduledFor.Equal(wantStart), "first query starts at next window open, got %v", queries[0].ScheduledFor)
	assert.Equal(t, 43, queries[0].RegionCode)
}

func TestGenerateRegionResolution(t *testing.T) {
	now := time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)
	g := testGenerator(t, now)

	byCity := g.Generate(NicheRow{Niche: "n", City: "ЕКАТЕРИНБУРГ"})
	assert.Equal(t, 54, byCity[0].RegionCode)

	byCountry := g.Generate(NicheRow{Niche: "n", City: "Неизвестный город", Country: "Россия"})
	assert.Equal(t, 225, byCountry[0].RegionCode)

	fallback := g.Generate(NicheRow{Niche: "n", City: "Unknown", Country: "Atlantis"})
	assert.Equal(t, 225, fallback[0].RegionCode)
}

func TestGenerateHashStable(t *testing.T) {
	now := time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)
	row := NicheRow{Niche: "стоматология", City: "Москва"}

	first := testGenerator(t, now).Generate(row)
	second := testGenerator(t, now.Add(time.Hour)).Generate(row)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].QueryHash, second[i].QueryHash, "hash must not depend on schedule time")
	}
}

func TestGenerateRespectsMaxQueries(t *testing.T) {
	now := time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.QueryGen.MaxQueriesPerNiche = 3
	g, err := NewGenerator(cfg.QueryGen, "Europe/Moscow")
	require.NoError(t, err)
	g.WithClock(func() time.Time { return now })

	queries := g.Generate(NicheRow{Niche: "стоматология"})
	assert.Len(t, queries, 3)
}

func TestGenerateTruncatesAtWindowEnd(t *testing.T) {
	// 07:58 MSK: only two 45s slots fit before 07:59.
	now := time.Date(2025, 3, 10, 4, 58, 0, 0, time.UTC)
	g := testGenerator(t, now)

	queries := g.Generate(NicheRow{Niche: "стоматология"})
	require.NotEmpty(t, queries)
	assert.Less(t, len(queries), 6)
	_, windowEnd := g.nextWindow(now)
	for _, q := range queries {
		assert.False(t, q.ScheduledFor.After(windowEnd))
	}
}

func TestNextWindowSpansMidnight(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.QueryGen.NightWindowStart = "22:00"
	cfg.QueryGen.NightWindowEnd = "06:00"
	g, err := NewGenerator(cfg.QueryGen, "Europe/Moscow")
	require.NoError(t, err)

	// 02:00 MSK is inside the window that opened yesterday at 22:00.
	inside := time.Date(2025, 3, 9, 23, 0, 0, 0, time.UTC)
	start, end := g.nextWindow(inside)
	assert.True(t, start.Equal(inside.In(g.loc)))
	assert.Equal(t, 6, end.In(g.loc).Hour())

	// 12:00 MSK waits for today's 22:00 opening.
	day := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	start, _ = g.nextWindow(day)
	assert.Equal(t, 22, start.In(g.loc).Hour())
	assert.Equal(t, 10, start.In(g.loc).Day())
}
