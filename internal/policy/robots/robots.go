// Package robots enforces robots.txt directives per host.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/pdfcrawler/internal/crawler"
)

const maxRobotsBytes = 1 << 20

// Config controls robots enforcement.
type Config struct {
	Respect   bool
	UserAgent string
	Timeout   time.Duration
	Client    *http.Client
	// Governor, when set, paces robots.txt requests like any other request.
	Governor crawler.Governor
}

type hostEntry struct {
	once  sync.Once
	group *robotstxt.Group
}

// Enforcer fetches robots.txt once per host and caches the outcome, including
// failures, for the rest of the run.
type Enforcer struct {
	client    *http.Client
	userAgent string
	governor  crawler.Governor
	logger    *zap.Logger

	mu    sync.Mutex
	hosts map[string]*hostEntry
}

// New builds a RobotsPolicy respecting the config toggle.
func New(cfg Config, logger *zap.Logger) crawler.RobotsPolicy {
	if !cfg.Respect {
		return AllowAll{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Enforcer{
		client:    client,
		userAgent: cfg.UserAgent,
		governor:  cfg.Governor,
		logger:    logger,
		hosts:     make(map[string]*hostEntry),
	}
}

// Allowed implements crawler.RobotsPolicy.
func (e *Enforcer) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	group := e.groupFor(ctx, parsed)
	if group == nil {
		return true
	}
	p := parsed.EscapedPath()
	if p == "" {
		p = "/"
	}
	if parsed.RawQuery != "" {
		p += "?" + parsed.RawQuery
	}
	return group.Test(p)
}

func (e *Enforcer) groupFor(ctx context.Context, parsed *url.URL) *robotstxt.Group {
	key := strings.ToLower(parsed.Scheme + "://" + parsed.Host)

	e.mu.Lock()
	entry, ok := e.hosts[key]
	if !ok {
		entry = &hostEntry{}
		e.hosts[key] = entry
	}
	e.mu.Unlock()

	entry.once.Do(func() {
		data, err := e.load(ctx, parsed)
		if err != nil {
			e.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
			return
		}
		entry.group = data.FindGroup(e.userAgent)
	})
	return entry.group
}

func (e *Enforcer) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	domain := strings.ToLower(parsed.Hostname())

	if e.governor != nil {
		if err := e.governor.Acquire(ctx, domain); err != nil {
			return nil, fmt.Errorf("robots politeness: %w", err)
		}
		defer e.governor.Release(domain)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

// AllowAll permits every URL.
type AllowAll struct{}

// Allowed implements crawler.RobotsPolicy.
func (AllowAll) Allowed(context.Context, string) bool { return true }
