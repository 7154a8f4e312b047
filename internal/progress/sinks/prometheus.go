package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/pdfcrawler/internal/progress"
)

var runStates = []string{"seeding", "running", "draining", "finalized"}

// PrometheusSink exports crawl progress via Prometheus. It owns the run
// lifecycle collectors and per-site fetch and download counters.
type PrometheusSink struct {
	runsFinished *prometheus.CounterVec
	runState     *prometheus.GaugeVec
	runDuration  prometheus.Histogram

	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	fetchRetries  *prometheus.CounterVec
	fetchFailures *prometheus.CounterVec
	robotsBlocked *prometheus.CounterVec
	linksFound    *prometheus.CounterVec

	documentsQueued  *prometheus.CounterVec
	documents        *prometheus.CounterVec
	documentBytes    *prometheus.CounterVec
	downloadDuration *prometheus.HistogramVec
	politenessWait   *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfcrawler_runs_finished_total",
			Help: "Runs that reached the finalized state, partitioned by result.",
		}, []string{"result"}),
		runState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pdfcrawler_run_state",
			Help: "1 for the state the current run is in, 0 otherwise.",
		}, []string{"state"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pdfcrawler_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfcrawler_fetch_requests_total",
			Help: "Page fetch completions partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfcrawler_fetch_bytes_total",
			Help: "Page bytes fetched per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pdfcrawler_fetch_duration_seconds",
			Help:    "Page fetch duration partitioned by site and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"site", "status_class"}),
		fetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfcrawler_fetch_retries_total",
			Help: "Retried requests per site.",
		}, []string{"site"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfcrawler_fetch_failures_total",
			Help: "Pages dropped after terminal fetch failures, by site and reason.",
		}, []string{"site", "reason"}),
		robotsBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfcrawler_robots_blocked_total",
			Help: "URLs skipped because robots.txt disallows them.",
		}, []string{"site"}),
		linksFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfcrawler_links_discovered_total",
			Help: "Links extracted from processed pages per site.",
		}, []string{"site"}),
		documentsQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfcrawler_documents_queued_total",
			Help: "Document tasks handed to the download stage.",
		}, []string{"site"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfcrawler_documents_total",
			Help: "Finished document tasks partitioned by outcome and failure reason.",
		}, []string{"outcome", "reason"}),
		documentBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdfcrawler_document_bytes_total",
			Help: "Bytes of stored documents per site.",
		}, []string{"site"}),
		downloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pdfcrawler_download_duration_seconds",
			Help:    "Document download duration per site.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"site"}),
		politenessWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pdfcrawler_politeness_wait_seconds",
			Help:    "Time spent waiting on per-domain politeness gates.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5},
		}, []string{"site"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsFinished,
		s.runState,
		s.runDuration,
		s.fetchRequests,
		s.fetchBytes,
		s.fetchDuration,
		s.fetchRetries,
		s.fetchFailures,
		s.robotsBlocked,
		s.linksFound,
		s.documentsQueued,
		s.documents,
		s.documentBytes,
		s.downloadDuration,
		s.politenessWait,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	switch evt.Stage {
	case progress.StageRunState:
		for _, state := range runStates {
			value := 0.0
			if state == evt.Note {
				value = 1
			}
			s.runState.WithLabelValues(state).Set(value)
		}
	case progress.StageRunDone:
		result := evt.Note
		if result == "" {
			result = "success"
		}
		s.runsFinished.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.runDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageFetchDone:
		s.handleFetchEvent(site, evt)
	case progress.StageFetchRetry:
		s.fetchRetries.WithLabelValues(site).Inc()
	case progress.StageFetchFailed:
		s.fetchFailures.WithLabelValues(site, evt.Reason).Inc()
	case progress.StageRobotsBlocked:
		s.robotsBlocked.WithLabelValues(site).Inc()
	case progress.StagePageProcessed:
		if evt.Links > 0 {
			s.linksFound.WithLabelValues(site).Add(float64(evt.Links))
		}
	case progress.StageDocumentQueued:
		s.documentsQueued.WithLabelValues(site).Inc()
	case progress.StageDownloadDone:
		s.documents.WithLabelValues("success", "").Inc()
		if evt.Bytes > 0 {
			s.documentBytes.WithLabelValues(site).Add(float64(evt.Bytes))
		}
		if evt.Dur > 0 {
			s.downloadDuration.WithLabelValues(site).Observe(evt.Dur.Seconds())
		}
	case progress.StageDownloadFailed:
		s.documents.WithLabelValues("failed", evt.Reason).Inc()
	case progress.StagePolitenessWait:
		s.politenessWait.WithLabelValues(site).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleFetchEvent(site string, evt progress.Event) {
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetchRequests.WithLabelValues(site, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(site, statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
