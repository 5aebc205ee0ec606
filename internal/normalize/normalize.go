// Package normalize provides URL, domain and e-mail canonicalization used
// for company deduplication and contact validation.
package normalize

import (
	"crypto/sha1"
	"encoding/hex"
	"net/mail"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var schemeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

var multiSlashRe = regexp.MustCompile(`/{2,}`)

// NormalizeURL canonicalizes a raw URL: lowercase scheme and host, strips
// "www." and default ports, collapses repeated slashes, drops the fragment
// and keeps the query. A trailing slash remains only when the path is empty.
// Empty input yields an empty string.
func NormalizeURL(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}

	if !schemeRe.MatchString(value) {
		value = "https://" + value
	}

	parsed, err := url.Parse(value)
	if err != nil || parsed.Host == "" {
		return ""
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		scheme = "https"
	}

	host := strings.ToLower(parsed.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if port := parsed.Port(); port != "" && port != "80" && port != "443" {
		host = host + ":" + port
	}

	path := multiSlashRe.ReplaceAllString(parsed.EscapedPath(), "/")
	path = strings.TrimRight(path, "/")
	if path == "" {
		path = "/"
	}

	normalized := scheme + "://" + host + path
	if parsed.RawQuery != "" {
		normalized += "?" + parsed.RawQuery
	}
	return normalized
}

// NormalizeDomain extracts and canonicalizes a domain: host part of a URL,
// lowercase, no "www.", punycode for non-ASCII labels. A port survives only
// when non-default.
func NormalizeDomain(raw string) string {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return ""
	}

	domain := candidate
	if strings.Contains(candidate, "/") || schemeRe.MatchString(candidate) {
		normalized := NormalizeURL(candidate)
		parsed, err := url.Parse(normalized)
		if err != nil {
			return ""
		}
		domain = parsed.Host
	}

	domain = strings.ToLower(domain)
	domain = strings.TrimPrefix(domain, "www.")

	host, port := domain, ""
	if idx := strings.LastIndex(domain, ":"); idx >= 0 {
		host, port = domain[:idx], domain[idx+1:]
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	if port != "" && port != "80" && port != "443" {
		return host + ":" + port
	}
	return host
}

// BuildCompanyDedupeKey returns the deterministic dedup hash for a company:
// SHA-1 hex of the canonical domain, or of the lowercased trimmed name when
// no domain is known. Companies sharing a domain always share a key.
func BuildCompanyDedupeKey(name, domain string) string {
	payload := NormalizeDomain(domain)
	if payload == "" {
		payload = strings.ToLower(strings.TrimSpace(name))
	}
	digest := sha1.Sum([]byte(payload))
	return hex.EncodeToString(digest[:])
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// CleanSnippet collapses runs of whitespace into single spaces.
func CleanSnippet(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

var emailRe = regexp.MustCompile(
	`(?i)^[A-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@` +
		`[A-Z0-9](?:[A-Z0-9-]{0,61}[A-Z0-9])?` +
		`(?:\.[A-Z0-9](?:[A-Z0-9-]{0,61}[A-Z0-9])?)+$`)

const emailStripChars = "<>[]()\"' \t\r\n"

// CleanEmail normalizes a raw address: drops a mailto: prefix and any query
// part, unwraps a display-name form, strips brackets/quotes/zero-width
// characters and lowercases the result.
func CleanEmail(value string) string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return ""
	}

	if strings.HasPrefix(strings.ToLower(raw), "mailto:") {
		raw = raw[strings.Index(raw, ":")+1:]
	}
	if idx := strings.Index(raw, "?"); idx >= 0 {
		raw = raw[:idx]
	}

	candidate := raw
	if addr, err := mail.ParseAddress(raw); err == nil {
		candidate = addr.Address
	} else if open := strings.LastIndex(raw, "<"); open >= 0 {
		if close := strings.Index(raw[open:], ">"); close > 0 {
			candidate = raw[open+1 : open+close]
		}
	}
	candidate = strings.Trim(candidate, emailStripChars)
	candidate = strings.ReplaceAll(candidate, " ", "")
	candidate = strings.ReplaceAll(candidate, "\u200b", "")
	return strings.ToLower(candidate)
}

// IsValidEmail reports whether the value cleans up to an address that
// satisfies the basic RFC 5321 shape.
func IsValidEmail(value string) bool {
	candidate := CleanEmail(value)
	if candidate == "" || !strings.Contains(candidate, "@") {
		return false
	}
	return emailRe.MatchString(candidate)
}
