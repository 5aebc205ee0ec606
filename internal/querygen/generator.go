// Package querygen expands a niche row into scheduled search queries with
// regional codes, trigger-phrase variants and nightly-window start times.
package querygen

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/leadgen-pipeline/internal/config"
)

// triggers are quoted intent phrases appended to query variants.
var triggers = []string{
	`"оставить заявку"`,
	`"онлайн запись"`,
	`"рассчитать стоимость"`,
	`"коммерческое предложение"`,
	`"бриф"`,
}

// negSites are hosts excluded from search results via negative clauses.
var negSites = []string{
	"domain:avito.ru",
	"yandex.ru",
	"2gis.ru",
	"hh.ru",
	"flamp.ru",
	"otzovik.com",
	"irecommend.ru",
	"youtube.com",
	"profi.ru",
	"yell.ru",
	"workspace.ru",
	"vuzopedia.ru",
	"orgpage.ru",
	"rating-gamedev.ru",
	"ru.wadline.com",
	"vk.com",
	"reddit.com",
	"pikabu.ru",
}

// NicheRow is one input row of the niches sheet.
type NicheRow struct {
	RowIndex int
	Niche    string
	City     string
	Country  string
	BatchTag string
}

// GeneratedQuery is one scheduled search query.
type GeneratedQuery struct {
	QueryText    string
	QueryHash    string
	RegionCode   int
	ScheduledFor time.Time
	Trigger      string
	Metadata     map[string]interface{}
}

// Generator builds query batches for niche rows.
type Generator struct {
	cfg config.QueryGenConfig
	loc *time.Location
	now func() time.Time

	startHour, startMin int
	endHour, endMin     int
}

// NewGenerator builds a generator; timezone names the zone of the nightly
// window.
func NewGenerator(cfg config.QueryGenConfig, timezone string) (*Generator, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	g := &Generator{cfg: cfg, loc: loc, now: time.Now}
	if _, err := fmt.Sscanf(cfg.NightWindowStart, "%d:%d", &g.startHour, &g.startMin); err != nil {
		return nil, fmt.Errorf("parse night window start %q: %w", cfg.NightWindowStart, err)
	}
	if _, err := fmt.Sscanf(cfg.NightWindowEnd, "%d:%d", &g.endHour, &g.endMin); err != nil {
		return nil, fmt.Errorf("parse night window end %q: %w", cfg.NightWindowEnd, err)
	}
	return g, nil
}

// WithClock replaces the time source. Intended for tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces up to max_queries_per_niche scheduled queries: one base
// query plus trigger variants, spaced spacing_seconds apart from the next
// nightly-window opening (or from now when already inside the window).
// Queries that would land past the window end are truncated.
func (g *Generator) Generate(row NicheRow) []GeneratedQuery {
	texts := g.buildQueryTexts(row)
	windowStart, windowEnd := g.nextWindow(g.now())

	spacing := time.Duration(g.cfg.SpacingSeconds) * time.Second
	region := g.resolveRegion(row.City, row.Country)

	metadataBase := map[string]interface{}{
		"niche":     strings.TrimSpace(row.Niche),
		"city":      trimOrNil(row.City),
		"country":   trimOrNil(row.Country),
		"batch_tag": trimOrNil(row.BatchTag),
		"language":  g.cfg.Language,
		"selection": "balanced",
	}

	var result []GeneratedQuery
	for i, qt := range texts {
		scheduled := windowStart.Add(spacing * time.Duration(i))
		if scheduled.After(windowEnd) {
			break
		}

		cleaned := strings.Join(strings.Fields(qt.text), " ")
		digest := sha1.Sum([]byte(fmt.Sprintf("%s|%d", cleaned, region)))

		metadata := make(map[string]interface{}, len(metadataBase)+1)
		for k, v := range metadataBase {
			metadata[k] = v
		}
		if qt.trigger != "" {
			metadata["trigger"] = qt.trigger
		} else {
			metadata["trigger"] = nil
		}

		result = append(result, GeneratedQuery{
			QueryText:    cleaned,
			QueryHash:    hex.EncodeToString(digest[:]),
			RegionCode:   region,
			ScheduledFor: scheduled,
			Trigger:      qt.trigger,
			Metadata:     metadata,
		})
	}
	return result
}

type queryText struct {
	text    string
	trigger string
}

func (g *Generator) buildQueryTexts(row NicheRow) []queryText {
	baseTokens := []string{"lang:" + g.cfg.Language, strings.TrimSpace(row.Niche)}
	if place := g.placeFragment(row); place != "" {
		baseTokens = append(baseTokens, place)
	}
	negatives := negativeClause()

	join := func(tokens []string) string {
		q := strings.Join(tokens, " ")
		if negatives != "" {
			q += " " + negatives
		}
		return q
	}

	texts := []queryText{{text: join(baseTokens)}}
	maxVariants := g.cfg.MaxQueriesPerNiche - 1
	for i, trigger := range triggers {
		if i >= maxVariants {
			break
		}
		texts = append(texts, queryText{
			text:    join(append(append([]string{}, baseTokens...), trigger)),
			trigger: trigger,
		})
		if len(texts) >= g.cfg.MaxQueriesPerNiche {
			break
		}
	}
	return texts
}

func (g *Generator) placeFragment(row NicheRow) string {
	if city := strings.TrimSpace(row.City); city != "" {
		return city
	}
	return strings.TrimSpace(row.Country)
}

// negativeClause renders the exclusion list as -site:/-domain: tokens.
func negativeClause() string {
	var tokens []string
	for _, entry := range negSites {
		raw := strings.TrimSpace(entry)
		if raw == "" {
			continue
		}
		if idx := strings.Index(raw, ":"); idx > 0 {
			prefix := strings.ToLower(strings.TrimSpace(raw[:idx]))
			value := strings.TrimSpace(raw[idx+1:])
			if (prefix == "site" || prefix == "domain" || prefix == "host") && value != "" {
				tokens = append(tokens, "-"+prefix+":"+value)
				continue
			}
		}
		tokens = append(tokens, "-site:"+raw)
	}
	return strings.Join(tokens, " ")
}

func (g *Generator) resolveRegion(city, country string) int {
	if code, ok := regionsLR[normalizeKey(city)]; ok && city != "" {
		return code
	}
	if code, ok := regionsLR[normalizeKey(country)]; ok && country != "" {
		return code
	}
	return g.cfg.RegionFallback
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// windowBounds returns the nightly window anchored on the given date. A
// window whose end is not after its start spans midnight into the next day.
func (g *Generator) windowBounds(day time.Time) (start, end time.Time) {
	start = time.Date(day.Year(), day.Month(), day.Day(), g.startHour, g.startMin, 0, 0, g.loc)
	end = time.Date(day.Year(), day.Month(), day.Day(), g.endHour, g.endMin, 0, 0, g.loc)
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start, end
}

// nextWindow resolves the scheduling start: now when inside the current
// window (including one that opened yesterday and spans midnight),
// otherwise the next window opening.
func (g *Generator) nextWindow(now time.Time) (start, end time.Time) {
	local := now.In(g.loc)
	startToday, endToday := g.windowBounds(local)

	spansMidnight := g.endHour*60+g.endMin <= g.startHour*60+g.startMin
	if spansMidnight && local.Before(startToday) {
		startPrev, endPrev := g.windowBounds(local.AddDate(0, 0, -1))
		if !local.Before(startPrev) && !local.After(endPrev) {
			return local, endPrev
		}
	}

	if !local.Before(startToday) && !local.After(endToday) {
		return local, endToday
	}
	if local.Before(startToday) {
		return startToday, endToday
	}
	startNext, endNext := g.windowBounds(local.AddDate(0, 0, 1))
	return startNext, endNext
}

func trimOrNil(s string) interface{} {
	if trimmed := strings.TrimSpace(s); trimmed != "" {
		return trimmed
	}
	return nil
}
