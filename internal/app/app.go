// Package app builds the long-lived services of a crawl run from configuration
// and holds them for the duration of the run.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/pdfcrawler/internal/api"
	"github.com/JakeFAU/pdfcrawler/internal/clock/system"
	"github.com/JakeFAU/pdfcrawler/internal/config"
	"github.com/JakeFAU/pdfcrawler/internal/coordinator"
	"github.com/JakeFAU/pdfcrawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/pdfcrawler/internal/fetcher/colly"
	"github.com/JakeFAU/pdfcrawler/internal/id/uuid"
	"github.com/JakeFAU/pdfcrawler/internal/policy/politeness"
	"github.com/JakeFAU/pdfcrawler/internal/policy/robots"
	"github.com/JakeFAU/pdfcrawler/internal/processor"
	"github.com/JakeFAU/pdfcrawler/internal/progress"
	"github.com/JakeFAU/pdfcrawler/internal/progress/sinks"
	"github.com/JakeFAU/pdfcrawler/internal/storage/postgres"
)

const hubCloseTimeout = 5 * time.Second

// App holds the shared services of one run. It is built once at startup and
// closed after the run finishes.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	registry    *prometheus.Registry
	hub         *progress.Hub
	mirror      *postgres.MetadataStore
	coordinator *coordinator.Coordinator
	server      *api.Server
}

// New wires every component for rc from cfg. It fails fast when a configured
// service cannot be initialized.
func New(ctx context.Context, cfg config.Config, rc coordinator.RunContext, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := system.Clock{}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger}, promSink, sinks.NewLogSink(logger))
	reporter := progress.NewReporter(hub, uuid.Bytes(rc.RunID), clock.Now)

	governor := politeness.New(politeness.Config{
		DownloadDelay:      cfg.Politeness.DownloadDelay,
		ConcurrentRequests: cfg.Politeness.ConcurrentRequestsPerDomain,
		Overrides:          domainRules(cfg.Politeness.Overrides),
		OnWait: func(domain string, waited time.Duration) {
			reporter.Emit(progress.Event{Stage: progress.StagePolitenessWait, Site: domain, Dur: waited})
		},
	})

	robotsPolicy := robots.New(robots.Config{
		Respect:   cfg.Crawler.RespectRobots,
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.HTTP.Timeout,
		Governor:  governor,
	}, logger)

	classifier := crawler.NewClassifier(cfg.Crawler.DocumentExtensions)
	allowList := crawler.NewDomainAllowList(cfg.Crawler.AllowedDomains)
	if allowList.Empty() {
		allowList = crawler.NewDomainAllowList(seedHosts(rc.Seeds))
	}
	logger.Info("allowed domains", zap.Strings("domains", allowList.Domains()))

	var mirror *postgres.MetadataStore
	if cfg.Metadata.Postgres.DSN != "" {
		mirror, err = openMirror(ctx, cfg.Metadata.Postgres)
		if err != nil {
			_ = hub.Close(context.Background())
			return nil, err
		}
		logger.Info("postgres metadata mirror enabled", zap.String("table", mirror.Table()))
	}

	deps := coordinator.Deps{
		Fetcher: collyfetcher.New(collyfetcher.Config{
			UserAgent:   cfg.Crawler.UserAgent,
			Timeout:     cfg.HTTP.Timeout,
			MaxBodySize: cfg.Crawler.MaxPageBytes,
		}),
		Robots:   robotsPolicy,
		Governor: governor,
		Retry:    crawler.NewExponentialRetryPolicy(cfg.HTTP.Attempts(), cfg.HTTP.BackoffInitial, cfg.HTTP.BackoffMax),
		Processor: processor.New(processor.Config{
			Follow:     cfg.Crawler.Follow,
			MaxDepth:   cfg.Crawler.MaxDepth,
			AllowList:  allowList,
			Classifier: classifier,
			Clock:      clock,
		}),
		Classifier: classifier,
		HTTPClient: &http.Client{Timeout: cfg.HTTP.DownloadTimeout},
		Reporter:   reporter,
		Clock:      clock,
		Stats:      &crawler.Stats{},
		Logger:     logger,
	}
	if mirror != nil {
		deps.Mirror = mirror
		deps.Runs = mirror
	}

	coord := coordinator.New(rc, coordinator.Options{
		FetchWorkers:     cfg.Crawler.FetchWorkers,
		DownloadWorkers:  cfg.Crawler.DownloadWorkers,
		DownloadQueue:    cfg.Crawler.DownloadQueue,
		MaxPageBytes:     cfg.Crawler.MaxPageBytes,
		MaxDocumentBytes: cfg.Crawler.MaxDocumentBytes,
		UserAgent:        cfg.Crawler.UserAgent,
		DownloadTimeout:  cfg.HTTP.DownloadTimeout,
		DrainTimeout:     cfg.Crawler.DrainTimeout,
		CancelGrace:      cfg.Crawler.CancelGrace,
		Fsync:            cfg.Metadata.Fsync,
	}, deps)

	a := &App{
		cfg:         cfg,
		logger:      logger,
		registry:    registry,
		hub:         hub,
		mirror:      mirror,
		coordinator: coord,
	}
	if cfg.Server.ListenAddr != "" {
		a.server = api.NewServer(coord, registry, logger)
	}
	return a, nil
}

// Coordinator returns the run coordinator.
func (a *App) Coordinator() *coordinator.Coordinator {
	return a.coordinator
}

// Registry returns the Prometheus registry the run reports into.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Run executes the crawl, serving the status API alongside it when enabled.
func (a *App) Run(ctx context.Context) (coordinator.Summary, error) {
	if a.server == nil {
		return a.coordinator.Run(ctx)
	}
	serveCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.server.Serve(serveCtx, a.cfg.Server.ListenAddr)
	}()

	summary, err := a.coordinator.Run(ctx)
	stop()
	if sErr := <-serveErr; sErr != nil {
		a.logger.Warn("status server stopped", zap.Error(sErr))
	}
	return summary, err
}

// Close flushes progress events and releases external connections.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), hubCloseTimeout)
	defer cancel()
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("flush progress events", zap.Error(err))
	}
	if dropped := a.hub.Dropped(); dropped.Total() > 0 {
		a.logger.Warn("progress events dropped",
			zap.Int64("outcome", dropped.Outcome),
			zap.Int64("activity", dropped.Activity),
		)
	}
	if a.mirror != nil {
		a.mirror.Close()
	}
}

func openMirror(ctx context.Context, cfg config.PostgresConfig) (*postgres.MetadataStore, error) {
	store, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.DSN,
		Table:    cfg.Table,
		MaxConns: cfg.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("init postgres mirror: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("init postgres mirror: %w", err)
	}
	return store, nil
}

func domainRules(overrides []config.DomainOverride) []politeness.DomainRule {
	rules := make([]politeness.DomainRule, 0, len(overrides))
	for _, o := range overrides {
		rules = append(rules, politeness.DomainRule{
			Domain:             o.Domain,
			DownloadDelay:      o.DownloadDelay,
			ConcurrentRequests: o.ConcurrentRequests,
		})
	}
	return rules
}

func seedHosts(seeds []string) []string {
	hosts := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		if host := crawler.DomainOf(seed); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

// ExitCode maps a run error to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, coordinator.ErrInterrupted):
		return 130
	default:
		return 1
	}
}
