// Package serp parses Yandex Search XML payloads and persists the results
// as serp_results rows and company upserts.
package serp

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ignite/leadgen-pipeline/internal/normalize"
	"github.com/ignite/leadgen-pipeline/internal/pkg/logger"
)

// ErrParse signals a malformed XML payload.
var ErrParse = errors.New("malformed serp xml")

// excludedDomains are aggregators, marketplaces, review sites and social
// networks that never represent a reachable company of their own.
var excludedDomains = map[string]struct{}{
	"avito.ru":          {},
	"yandex.ru":         {},
	"2gis.ru":           {},
	"hh.ru":             {},
	"flamp.ru":          {},
	"otzovik.com":       {},
	"irecommend.ru":     {},
	"youtube.com":       {},
	"profi.ru":          {},
	"yell.ru":           {},
	"workspace.ru":      {},
	"vuzopedia.ru":      {},
	"orgpage.ru":        {},
	"rating-gamedev.ru": {},
	"ru.wadline.com":    {},
	"vk.com":            {},
	"reddit.com":        {},
	"pikabu.ru":         {},
}

// Document is one normalized search result.
type Document struct {
	URL      string
	Domain   string
	Title    string
	Snippet  string
	Position int
	Language string
}

type xmlProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type xmlDoc struct {
	URL        string        `xml:"url"`
	LURL       string        `xml:"lurl"`
	Domain     string        `xml:"domain"`
	Title      string        `xml:"title"`
	Name       string        `xml:"name"`
	Passages   []string      `xml:"passages>passage"`
	Properties []xmlProperty `xml:"properties>property"`
}

// ParseXML extracts documents from a search result payload. Documents with
// an un-normalizable URL or an excluded domain are dropped; position keeps
// counting in document order either way.
func ParseXML(payload []byte) ([]Document, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	decoder := xml.NewDecoder(bytes.NewReader(payload))
	var documents []Document
	position := 0

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}

		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != "doc" {
			continue
		}
		position++

		var raw xmlDoc
		if err := decoder.DecodeElement(&raw, &start); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}

		urlText := strings.TrimSpace(raw.URL)
		if urlText == "" {
			urlText = strings.TrimSpace(raw.LURL)
		}
		normalizedURL := normalize.NormalizeURL(urlText)
		if normalizedURL == "" {
			logger.Debug("serp: dropping document without a usable URL", "raw_url", urlText)
			continue
		}

		domainSource := raw.Domain
		if strings.TrimSpace(domainSource) == "" {
			domainSource = normalizedURL
		}
		domain := normalize.NormalizeDomain(domainSource)
		if _, excluded := excludedDomains[domain]; excluded {
			logger.Debug("serp: dropping excluded domain", "domain", domain)
			continue
		}

		title := strings.TrimSpace(raw.Title)
		if title == "" {
			title = strings.TrimSpace(raw.Name)
		}
		if title == "" {
			title = domain
		}

		var parts []string
		for _, p := range raw.Passages {
			if cleaned := normalize.CleanSnippet(p); cleaned != "" {
				parts = append(parts, cleaned)
			}
		}

		language := ""
		for _, prop := range raw.Properties {
			if prop.Name == "lang" && strings.TrimSpace(prop.Value) != "" {
				language = strings.TrimSpace(prop.Value)
				break
			}
		}

		documents = append(documents, Document{
			URL:      normalizedURL,
			Domain:   domain,
			Title:    title,
			Snippet:  normalize.CleanSnippet(strings.Join(parts, " ")),
			Position: position,
			Language: language,
		})
	}

	return documents, nil
}
