// Package worker implements the per-entry fetch pipeline run by the dispatcher.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pdfcrawler/internal/crawler"
	"github.com/JakeFAU/pdfcrawler/internal/processor"
	"github.com/JakeFAU/pdfcrawler/internal/progress"
)

// Frontier is the subset of the frontier a worker feeds.
type Frontier interface {
	Offer(entry crawler.FrontierEntry) (bool, error)
	Claim(rawURL string) (string, bool)
}

// PageProcessor extracts links from a fetched page.
type PageProcessor interface {
	Process(page crawler.Page) (processor.Links, error)
}

// Submitter accepts document tasks for download.
type Submitter interface {
	Submit(ctx context.Context, task crawler.DocumentTask) error
}

// Config controls Worker behavior.
type Config struct {
	// MaxPageBytes is the fetcher body cap, used to tell whether a document
	// body fetched as a page is complete.
	MaxPageBytes int
}

// Deps are the collaborators a Worker needs.
type Deps struct {
	Frontier   Frontier
	Fetcher    crawler.Fetcher
	Governor   crawler.Governor
	Robots     crawler.RobotsPolicy
	Retry      crawler.RetryPolicy
	Processor  PageProcessor
	Classifier *crawler.Classifier
	Downloads  Submitter
	Recorder   crawler.ResultRecorder
	Clock      crawler.Clock
	Reporter   *progress.Reporter
	Stats      *crawler.Stats
	Logger     *zap.Logger
}

// Worker handles frontier entries one at a time. A single Worker is safe to
// share between dispatcher goroutines.
type Worker struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New constructs a Worker.
func New(cfg Config, deps Deps) *Worker {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Classifier == nil {
		deps.Classifier = crawler.NewClassifier(nil)
	}
	if deps.Stats == nil {
		deps.Stats = &crawler.Stats{}
	}
	return &Worker{cfg: cfg, deps: deps, logger: deps.Logger}
}

// Handle runs the pipeline for one entry. Failures are counted and logged;
// nothing escapes to the caller.
func (w *Worker) Handle(ctx context.Context, entry crawler.FrontierEntry) {
	logger := w.logger.With(zap.String("url", entry.URL), zap.Int("depth", entry.Depth))

	if !w.allowed(ctx, entry.URL) {
		logger.Info("blocked by robots.txt")
		return
	}

	if w.deps.Classifier.HasDocumentSuffix(entry.URL) {
		source := entry.DiscoveredFrom
		if source == "" {
			source = entry.URL
		}
		w.submit(ctx, crawler.DocumentTask{
			SourceURL:    source,
			DocumentURL:  entry.URL,
			DiscoveredAt: w.now(),
		}, logger)
		return
	}

	resp, err := w.fetch(ctx, entry, logger)
	if err != nil {
		reason := crawler.ReasonOf(err)
		w.deps.Stats.PagesFailed.Add(1)
		w.deps.Reporter.Emit(progress.Event{
			Stage:  progress.StageFetchFailed,
			Site:   crawler.DomainOf(entry.URL),
			URL:    entry.URL,
			Reason: string(reason),
		})
		logger.Warn("page fetch failed", zap.String("reason", string(reason)), zap.Error(err))
		return
	}
	w.deps.Stats.PagesVisited.Add(1)

	contentType := resp.Headers.Get("Content-Type")
	finalURL := resp.FinalURL
	if finalURL == "" {
		finalURL = entry.URL
	}

	switch kind := w.deps.Classifier.Classify(finalURL, contentType, resp.Body); kind {
	case crawler.KindDocument:
		task := crawler.DocumentTask{
			SourceURL:    sourceOf(entry),
			DocumentURL:  entry.URL,
			DiscoveredAt: w.now(),
		}
		if w.complete(resp) {
			prefetched := resp
			task.Prefetched = &prefetched
		}
		logger.Debug("page response is a document", zap.String("content_type", contentType))
		w.submit(ctx, task, logger)
	case crawler.KindPage:
		w.processPage(ctx, entry, crawler.Page{
			URL:         entry.URL,
			FinalURL:    finalURL,
			Depth:       entry.Depth,
			ContentType: contentType,
			Body:        resp.Body,
		}, logger)
	default:
		logger.Debug("skipping unsupported content", zap.String("content_type", contentType), zap.Stringer("kind", kind))
	}
}

func (w *Worker) allowed(ctx context.Context, rawURL string) bool {
	if w.deps.Robots == nil || w.deps.Robots.Allowed(ctx, rawURL) {
		return true
	}
	w.deps.Stats.RobotsBlocked.Add(1)
	w.deps.Reporter.Emit(progress.Event{
		Stage: progress.StageRobotsBlocked,
		Site:  crawler.DomainOf(rawURL),
		URL:   rawURL,
	})
	return false
}

func (w *Worker) fetch(ctx context.Context, entry crawler.FrontierEntry, logger *zap.Logger) (crawler.FetchResponse, error) {
	if w.deps.Fetcher == nil {
		return crawler.FetchResponse{}, crawler.NewTaskError(crawler.ReasonPermanentFetch, entry.URL, fmt.Errorf("no fetcher configured"))
	}
	domain := crawler.DomainOf(entry.URL)
	onRetry := func(attempt int, err error, wait time.Duration) {
		logger.Debug("retrying page fetch",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		w.deps.Reporter.Emit(progress.Event{Stage: progress.StageFetchRetry, Site: domain, URL: entry.URL, Note: err.Error()})
	}

	var resp crawler.FetchResponse
	err := crawler.Retry(ctx, w.deps.Retry, onRetry, func(ctx context.Context, _ int) error {
		var attemptErr error
		resp, attemptErr = w.attempt(ctx, entry, domain)
		return attemptErr
	})
	return resp, err
}

func (w *Worker) attempt(ctx context.Context, entry crawler.FrontierEntry, domain string) (crawler.FetchResponse, error) {
	if w.deps.Governor != nil {
		if err := w.deps.Governor.Acquire(ctx, domain); err != nil {
			return crawler.FetchResponse{}, crawler.NetworkError(ctx, entry.URL, err)
		}
		defer w.deps.Governor.Release(domain)
	}

	w.deps.Reporter.Emit(progress.Event{Stage: progress.StageFetchStart, Site: domain, URL: entry.URL})
	resp, err := w.deps.Fetcher.Fetch(ctx, crawler.FetchRequest{URL: entry.URL, Depth: entry.Depth})
	if err != nil {
		return crawler.FetchResponse{}, crawler.NetworkError(ctx, entry.URL, err)
	}
	w.deps.Reporter.Emit(progress.Event{
		Stage:       progress.StageFetchDone,
		Site:        domain,
		URL:         entry.URL,
		Bytes:       int64(len(resp.Body)),
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Dur:         resp.Duration,
	})
	if !crawler.IsSuccessStatus(resp.StatusCode) {
		return crawler.FetchResponse{}, crawler.StatusError(entry.URL, resp.StatusCode)
	}
	return resp, nil
}

func (w *Worker) processPage(ctx context.Context, entry crawler.FrontierEntry, page crawler.Page, logger *zap.Logger) {
	if w.deps.Processor == nil {
		return
	}
	links, err := w.deps.Processor.Process(page)
	if err != nil {
		logger.Warn("page processing failed", zap.String("reason", string(crawler.ReasonOf(err))), zap.Error(err))
		return
	}

	offered := 0
	for _, child := range links.Pages {
		added, err := w.deps.Frontier.Offer(child)
		if err != nil {
			logger.Debug("discarding link", zap.String("link", child.URL), zap.Error(err))
			continue
		}
		if added {
			offered++
		}
	}

	queued := 0
	for _, task := range links.Documents {
		if !w.allowed(ctx, task.DocumentURL) {
			logger.Info("document blocked by robots.txt", zap.String("document_url", task.DocumentURL))
			continue
		}
		if _, fresh := w.deps.Frontier.Claim(task.DocumentURL); !fresh {
			continue
		}
		if w.submit(ctx, task, logger) {
			queued++
		}
	}

	w.deps.Reporter.Emit(progress.Event{
		Stage: progress.StagePageProcessed,
		Site:  crawler.DomainOf(entry.URL),
		URL:   entry.URL,
		Links: len(links.Pages) + len(links.Documents),
	})
	logger.Debug("page processed",
		zap.Int("pages_offered", offered),
		zap.Int("documents_queued", queued),
		zap.Int("discarded", links.Discarded),
	)
}

// submit hands task to the download stage. A refused task is recorded as
// canceled so it still yields a metadata row.
func (w *Worker) submit(ctx context.Context, task crawler.DocumentTask, logger *zap.Logger) bool {
	if w.deps.Downloads == nil {
		return false
	}
	err := w.deps.Downloads.Submit(ctx, task)
	if err == nil {
		return true
	}
	logger.Info("document not accepted for download",
		zap.String("document_url", task.DocumentURL),
		zap.Error(err),
	)
	if w.deps.Recorder == nil {
		return false
	}
	result := crawler.FailedResult(task, crawler.NewTaskError(crawler.ReasonCanceled, task.DocumentURL, err), w.now())
	if recErr := w.deps.Recorder.Record(context.WithoutCancel(ctx), result); recErr != nil {
		logger.Error("record canceled document", zap.String("document_url", task.DocumentURL), zap.Error(recErr))
	}
	return false
}

// complete reports whether a body fetched as a page holds the whole document.
func (w *Worker) complete(resp crawler.FetchResponse) bool {
	if declared := resp.Headers.Get("Content-Length"); declared != "" {
		n, err := strconv.Atoi(declared)
		return err == nil && n == len(resp.Body) && n > 0
	}
	if len(resp.Body) == 0 {
		return false
	}
	return w.cfg.MaxPageBytes <= 0 || len(resp.Body) < w.cfg.MaxPageBytes
}

func (w *Worker) now() time.Time {
	if w.deps.Clock != nil {
		return w.deps.Clock.Now()
	}
	return time.Now().UTC()
}

func sourceOf(entry crawler.FrontierEntry) string {
	if entry.DiscoveredFrom != "" {
		return entry.DiscoveredFrom
	}
	return entry.URL
}
