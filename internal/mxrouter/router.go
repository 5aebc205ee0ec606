// Package mxrouter classifies recipient domains by their MX records to pick
// an SMTP delivery channel. Resolutions are cached in an expiring LRU so a
// domain keeps the same classification for the configured TTL.
package mxrouter

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ignite/leadgen-pipeline/internal/config"
	"github.com/ignite/leadgen-pipeline/internal/pkg/logger"
)

// Class is the MX classification of a domain.
type Class string

const (
	ClassRU      Class = "RU"
	ClassOther   Class = "OTHER"
	ClassUnknown Class = "UNKNOWN"
)

// Result holds the outcome of a classification.
type Result struct {
	Class   Class
	Records []string
	TTLHit  bool
}

// Resolver performs MX lookups. *net.Resolver satisfies it.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

const (
	cacheSize   = 1024
	maxAttempts = 2
)

type cacheEntry struct {
	class   Class
	records []string
}

// Router resolves and classifies MX records with an LRU+TTL cache.
type Router struct {
	cfg       config.RoutingConfig
	cache     *expirable.LRU[string, cacheEntry]
	resolvers []Resolver
	patterns  []string
	tlds      []string
	forceRU   map[string]struct{}
}

// New builds a Router from routing configuration. The resolver order is the
// configured explicit resolvers first, then the system resolver.
func New(cfg config.RoutingConfig) *Router {
	ttl := time.Duration(cfg.MXCacheTTLHours) * time.Hour
	if ttl < time.Minute {
		ttl = time.Minute
	}

	r := &Router{
		cfg:     cfg,
		cache:   expirable.NewLRU[string, cacheEntry](cacheSize, nil, ttl),
		forceRU: make(map[string]struct{}),
	}
	for _, p := range cfg.RUMXPatterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			r.patterns = append(r.patterns, p)
		}
	}
	for _, t := range cfg.RUTLDs {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			r.tlds = append(r.tlds, t)
		}
	}
	for _, d := range cfg.ForceRUDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			r.forceRU[d] = struct{}{}
		}
	}

	if addrs := resolverAddrs(cfg.DNSResolvers); len(addrs) > 0 {
		r.resolvers = append(r.resolvers, customResolver(addrs))
	}
	r.resolvers = append(r.resolvers, net.DefaultResolver)
	return r
}

// WithResolvers replaces the resolver chain. Intended for tests.
func (r *Router) WithResolvers(resolvers ...Resolver) *Router {
	r.resolvers = resolvers
	return r
}

// Classify returns the MX class for a recipient domain. DNS failures are
// never fatal: after exhausting the resolver chain the domain degrades to
// UNKNOWN and nothing is cached.
func (r *Router) Classify(ctx context.Context, domain string) Result {
	if !r.cfg.Enabled {
		return Result{Class: ClassOther}
	}

	normalized := strings.ToLower(strings.TrimSpace(domain))
	if normalized == "" {
		logger.Warn("mxrouter: empty domain for classification")
		return Result{Class: ClassUnknown}
	}

	if _, ok := r.forceRU[normalized]; ok {
		r.cache.Add(normalized, cacheEntry{class: ClassRU})
		return Result{Class: ClassRU}
	}

	if entry, ok := r.cache.Get(normalized); ok {
		return Result{Class: entry.class, Records: append([]string(nil), entry.records...), TTLHit: true}
	}

	records, err := r.resolveMX(ctx, normalized)
	if err != nil {
		logger.Warn("mxrouter: MX lookup failed", "domain", normalized, "error", err.Error())
		return Result{Class: ClassUnknown}
	}
	if len(records) == 0 {
		logger.Info("mxrouter: no MX records", "domain", normalized)
		return Result{Class: ClassUnknown}
	}

	class := ClassOther
	if r.matchesRU(records) {
		class = ClassRU
	}
	r.cache.Add(normalized, cacheEntry{class: class, records: records})
	return Result{Class: class, Records: records}
}

func (r *Router) matchesRU(records []string) bool {
	for _, record := range records {
		for _, pattern := range r.patterns {
			if strings.Contains(record, pattern) {
				return true
			}
		}
		for _, tld := range r.tlds {
			if strings.HasSuffix(record, tld) {
				return true
			}
		}
	}
	return false
}

func (r *Router) resolveMX(ctx context.Context, domain string) ([]string, error) {
	var lastErr error
	attempts := 0
	for _, resolver := range r.resolvers {
		if attempts >= maxAttempts {
			break
		}
		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.DNSTimeout())
		mxs, err := resolver.LookupMX(attemptCtx, domain)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}

		records := make([]string, 0, len(mxs))
		for _, mx := range mxs {
			host := strings.ToLower(strings.TrimSuffix(mx.Host, "."))
			if host != "" {
				records = append(records, host)
			}
		}
		return records, nil
	}
	return nil, lastErr
}

// resolverAddrs normalizes configured resolver addresses to host:port form.
func resolverAddrs(raw []string) []string {
	var addrs []string
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(r); err != nil {
			r = net.JoinHostPort(r, "53")
		}
		addrs = append(addrs, r)
	}
	return addrs
}

// customResolver builds a net.Resolver pinned to the given DNS servers.
func customResolver(addrs []string) *net.Resolver {
	var next int
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			addr := addrs[next%len(addrs)]
			next++
			d := net.Dialer{}
			return d.DialContext(ctx, network, addr)
		},
	}
}
