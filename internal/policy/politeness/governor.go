// Package politeness enforces per-domain request pacing and concurrency caps.
package politeness

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DomainRule overrides the defaults for a single domain. Zero fields inherit
// the default value.
type DomainRule struct {
	Domain             string
	DownloadDelay      time.Duration
	ConcurrentRequests int
}

// Config holds governor configuration.
type Config struct {
	DownloadDelay      time.Duration
	ConcurrentRequests int
	Overrides          []DomainRule
	// OnWait, when set, is called after every acquisition that had to wait.
	OnWait func(domain string, waited time.Duration)
}

type domainGate struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// Governor manages per-domain gates. It is shared by every stage that issues
// requests so the caps hold for the whole run.
type Governor struct {
	mu        sync.Mutex
	gates     map[string]*domainGate
	defaults  DomainRule
	overrides map[string]DomainRule
	onWait    func(string, time.Duration)
}

// New creates a Governor. A non-positive concurrency cap is treated as 1.
func New(cfg Config) *Governor {
	g := &Governor{
		gates:     make(map[string]*domainGate),
		defaults:  DomainRule{DownloadDelay: cfg.DownloadDelay, ConcurrentRequests: cfg.ConcurrentRequests},
		overrides: make(map[string]DomainRule, len(cfg.Overrides)),
		onWait:    cfg.OnWait,
	}
	for _, rule := range cfg.Overrides {
		domain := strings.ToLower(strings.TrimSpace(rule.Domain))
		if domain == "" {
			continue
		}
		rule.Domain = domain
		g.overrides[domain] = rule
	}
	return g
}

// RuleFor returns the effective rule for domain.
func (g *Governor) RuleFor(domain string) DomainRule {
	domain = strings.ToLower(domain)
	rule := g.defaults
	rule.Domain = domain
	if o, ok := g.overrides[domain]; ok {
		if o.DownloadDelay != 0 {
			rule.DownloadDelay = o.DownloadDelay
		}
		if o.ConcurrentRequests != 0 {
			rule.ConcurrentRequests = o.ConcurrentRequests
		}
	}
	if rule.ConcurrentRequests <= 0 {
		rule.ConcurrentRequests = 1
	}
	if rule.DownloadDelay < 0 {
		rule.DownloadDelay = 0
	}
	return rule
}

// Acquire blocks until a request to domain may start: a concurrency slot is
// free and the inter-request delay since the previous start has elapsed.
// Every successful Acquire must be paired with Release.
func (g *Governor) Acquire(ctx context.Context, domain string) error {
	gate := g.gate(domain)
	start := time.Now()
	if err := gate.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire slot for %s: %w", domain, err)
	}
	if err := gate.limiter.Wait(ctx); err != nil {
		gate.sem.Release(1)
		return fmt.Errorf("politeness wait for %s: %w", domain, err)
	}
	if waited := time.Since(start); waited > time.Millisecond && g.onWait != nil {
		g.onWait(strings.ToLower(domain), waited)
	}
	return nil
}

// Release returns the slot taken by Acquire.
func (g *Governor) Release(domain string) {
	g.gate(domain).sem.Release(1)
}

func (g *Governor) gate(domain string) *domainGate {
	domain = strings.ToLower(domain)
	g.mu.Lock()
	defer g.mu.Unlock()
	gate, ok := g.gates[domain]
	if ok {
		return gate
	}
	rule := g.RuleFor(domain)
	limit := rate.Inf
	if rule.DownloadDelay > 0 {
		limit = rate.Every(rule.DownloadDelay)
	}
	gate = &domainGate{
		sem:     semaphore.NewWeighted(int64(rule.ConcurrentRequests)),
		limiter: rate.NewLimiter(limit, 1),
	}
	g.gates[domain] = gate
	return gate
}
