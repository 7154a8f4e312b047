// Package download fetches documents and stores them as run artifacts.
package download

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pdfcrawler/internal/crawler"
	"github.com/JakeFAU/pdfcrawler/internal/hash/sha256"
	"github.com/JakeFAU/pdfcrawler/internal/progress"
	"github.com/JakeFAU/pdfcrawler/internal/queue/memory"
	"github.com/JakeFAU/pdfcrawler/internal/storage/local"
)

const sniffLen = 512

// ArtifactWriter persists document bodies.
type ArtifactWriter interface {
	Reserve(name string) string
	Write(ctx context.Context, req local.WriteRequest) (local.Artifact, error)
}

// Config controls the download pool.
type Config struct {
	Workers   int
	QueueSize int
	// MaxBytes is the per-document size ceiling; zero disables it.
	MaxBytes  int64
	UserAgent string
	Timeout   time.Duration
	Client    *http.Client
}

// Deps are the collaborators shared with the rest of the run.
type Deps struct {
	Store    ArtifactWriter
	Governor crawler.Governor
	Retry    crawler.RetryPolicy
	Recorder crawler.ResultRecorder
	Hasher   crawler.Hasher
	Clock    crawler.Clock
	Reporter *progress.Reporter
	Stats    *crawler.Stats
	Logger   *zap.Logger
}

// Stage is a fixed pool of download workers fed by a bounded queue. Every
// accepted task yields exactly one recorded DownloadResult, either from a
// worker or, for tasks handed back by Strand, from the caller.
type Stage struct {
	cfg     Config
	deps    Deps
	client  *http.Client
	queue   *memory.Queue[crawler.DocumentTask]
	tracker *tracker
	logger  *zap.Logger

	startOnce sync.Once
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New builds a Stage; call Start before Submit.
func New(cfg Config, deps Deps) *Stage {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if deps.Stats == nil {
		deps.Stats = &crawler.Stats{}
	}
	return &Stage{
		cfg:     cfg,
		deps:    deps,
		client:  client,
		queue:   memory.NewQueue[crawler.DocumentTask](cfg.QueueSize),
		tracker: newTracker(),
		logger:  deps.Logger,
	}
}

// Start launches the workers. Workers stop taking new tasks when ctx ends;
// workCtx bounds the downloads already in progress.
func (s *Stage) Start(ctx, workCtx context.Context) {
	s.startOnce.Do(func() {
		for i := 0; i < s.cfg.Workers; i++ {
			s.wg.Add(1)
			go func(id int) {
				defer s.wg.Done()
				s.run(ctx, workCtx, id)
			}(i)
		}
	})
}

// Submit hands a task to the pool, blocking while the queue is full.
func (s *Stage) Submit(ctx context.Context, task crawler.DocumentTask) error {
	if !s.tracker.begin(task) {
		return fmt.Errorf("submit %s: %w", task.DocumentURL, crawler.ErrStageClosed)
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.tracker.finish(task)
		if errors.Is(err, memory.ErrClosed) {
			return fmt.Errorf("submit %s: %w", task.DocumentURL, crawler.ErrStageClosed)
		}
		return fmt.Errorf("submit %s: %w", task.DocumentURL, err)
	}
	s.deps.Stats.DocumentsQueued.Add(1)
	s.deps.Reporter.Emit(progress.Event{
		Stage: progress.StageDocumentQueued,
		Site:  crawler.DomainOf(task.DocumentURL),
		URL:   task.DocumentURL,
	})
	return nil
}

// Close stops accepting tasks. Queued tasks are still processed.
func (s *Stage) Close() {
	s.closeOnce.Do(s.queue.Close)
}

// Wait blocks until every worker exits or ctx ends.
func (s *Stage) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for download workers: %w", ctx.Err())
	}
}

// Pending returns the number of accepted tasks without a recorded result.
func (s *Stage) Pending() int {
	return s.tracker.pending()
}

// Strand returns every unfinished task and stops workers from recording
// results for them. The caller owns recording those tasks.
func (s *Stage) Strand() []crawler.DocumentTask {
	s.Close()
	return s.tracker.strand()
}

func (s *Stage) run(ctx, workCtx context.Context, id int) {
	logger := s.logger.With(zap.Int("download_worker", id))
	for {
		task, err := s.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, memory.ErrClosed) {
				logger.Debug("download worker stopping", zap.Error(err))
			}
			return
		}
		start := time.Now()
		result := s.Download(workCtx, task)
		if !s.tracker.finish(task) {
			logger.Debug("dropping result for stranded task", zap.String("document_url", task.DocumentURL))
			continue
		}
		s.record(workCtx, result, time.Since(start), logger)
	}
}

func (s *Stage) record(ctx context.Context, result crawler.DownloadResult, dur time.Duration, logger *zap.Logger) {
	site := crawler.DomainOf(result.Task.DocumentURL)
	if result.Succeeded() {
		s.deps.Reporter.Emit(progress.Event{
			Stage: progress.StageDownloadDone,
			Site:  site,
			URL:   result.Task.DocumentURL,
			Bytes: result.ByteSize,
			Dur:   dur,
		})
	} else {
		s.deps.Reporter.Emit(progress.Event{
			Stage:  progress.StageDownloadFailed,
			Site:   site,
			URL:    result.Task.DocumentURL,
			Reason: string(result.Reason),
			Dur:    dur,
			Note:   result.Detail,
		})
	}
	if s.deps.Recorder == nil {
		return
	}
	if err := s.deps.Recorder.Record(context.WithoutCancel(ctx), result); err != nil {
		logger.Error("record download result",
			zap.String("document_url", result.Task.DocumentURL),
			zap.Error(err),
		)
	}
}

// Download runs one task to completion and returns its result. It never
// returns a partially written artifact.
func (s *Stage) Download(ctx context.Context, task crawler.DocumentTask) crawler.DownloadResult {
	start := time.Now()
	logger := s.logger.With(zap.String("document_url", task.DocumentURL))

	var (
		artifact local.Artifact
		err      error
	)
	if task.Prefetched != nil && crawler.IsSuccessStatus(task.Prefetched.StatusCode) {
		artifact, err = s.storePrefetched(ctx, task)
	} else {
		artifact, err = s.fetchAndStore(ctx, task, logger)
	}

	now := s.now()
	if err != nil {
		logger.Info("document download failed",
			zap.String("reason", string(crawler.ReasonOf(err))),
			zap.Error(err),
		)
		return crawler.FailedResult(task, err, now)
	}
	logger.Info("document stored",
		zap.String("path", artifact.Path),
		zap.Int64("bytes", artifact.Size),
		zap.Duration("dur", time.Since(start)),
	)
	result := crawler.SuccessResult(task, artifact.Path, artifact.Size, now)
	result.ContentHash = artifact.SHA256
	return result
}

func (s *Stage) storePrefetched(ctx context.Context, task crawler.DocumentTask) (local.Artifact, error) {
	resp := task.Prefetched
	name, err := s.reserveName(task.DocumentURL, resp.Headers.Get("Content-Type"), resp.Body)
	if err != nil {
		return local.Artifact{}, err
	}
	return s.deps.Store.Write(ctx, local.WriteRequest{
		Name:     name,
		URL:      task.DocumentURL,
		Body:     bytes.NewReader(resp.Body),
		MaxBytes: s.cfg.MaxBytes,
		Expected: int64(len(resp.Body)),
	})
}

func (s *Stage) fetchAndStore(ctx context.Context, task crawler.DocumentTask, logger *zap.Logger) (local.Artifact, error) {
	var (
		artifact local.Artifact
		name     string
	)
	domain := crawler.DomainOf(task.DocumentURL)
	onRetry := func(attempt int, err error, wait time.Duration) {
		logger.Debug("retrying document download",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		s.deps.Reporter.Emit(progress.Event{Stage: progress.StageFetchRetry, Site: domain, URL: task.DocumentURL, Note: err.Error()})
	}
	err := crawler.Retry(ctx, s.deps.Retry, onRetry, func(ctx context.Context, _ int) error {
		var attemptErr error
		artifact, attemptErr = s.attempt(ctx, task, domain, &name)
		return attemptErr
	})
	return artifact, err
}

func (s *Stage) attempt(ctx context.Context, task crawler.DocumentTask, domain string, name *string) (local.Artifact, error) {
	if s.deps.Governor != nil {
		if err := s.deps.Governor.Acquire(ctx, domain); err != nil {
			return local.Artifact{}, crawler.NetworkError(ctx, task.DocumentURL, err)
		}
		defer s.deps.Governor.Release(domain)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.DocumentURL, nil)
	if err != nil {
		return local.Artifact{}, crawler.NewTaskError(crawler.ReasonPermanentFetch, task.DocumentURL, err)
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	if task.SourceURL != "" && task.SourceURL != task.DocumentURL {
		req.Header.Set("Referer", task.SourceURL)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return local.Artifact{}, crawler.NetworkError(ctx, task.DocumentURL, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Debug("close document body", zap.Error(cerr))
		}
	}()

	if !crawler.IsSuccessStatus(resp.StatusCode) {
		return local.Artifact{}, crawler.StatusError(task.DocumentURL, resp.StatusCode)
	}
	if s.cfg.MaxBytes > 0 && resp.ContentLength > s.cfg.MaxBytes {
		return local.Artifact{}, crawler.NewTaskError(crawler.ReasonSizeLimitExceeded, task.DocumentURL,
			fmt.Errorf("declared length %d exceeds %d bytes", resp.ContentLength, s.cfg.MaxBytes))
	}

	body := bufio.NewReaderSize(resp.Body, sniffLen)
	head, _ := body.Peek(sniffLen)
	if *name == "" {
		*name, err = s.reserveName(task.DocumentURL, resp.Header.Get("Content-Type"), head)
		if err != nil {
			return local.Artifact{}, err
		}
	}

	return s.deps.Store.Write(ctx, local.WriteRequest{
		Name:     *name,
		URL:      task.DocumentURL,
		Body:     body,
		MaxBytes: s.cfg.MaxBytes,
		Expected: resp.ContentLength,
	})
}

func (s *Stage) reserveName(documentURL, contentType string, head []byte) (string, error) {
	key := documentURL
	if normalized, err := crawler.NormalizeURL(documentURL); err == nil {
		key = normalized
	}
	digest, err := s.deps.Hasher.Hash([]byte(key))
	if err != nil {
		return "", crawler.NewTaskError(crawler.ReasonWrite, documentURL, fmt.Errorf("hash url: %w", err))
	}
	ext := ""
	if crawler.IsPDF(contentType, head) {
		ext = ".pdf"
	}
	return s.deps.Store.Reserve(crawler.ArtifactName(digest, documentURL, ext)), nil
}

func (s *Stage) now() time.Time {
	if s.deps.Clock != nil {
		return s.deps.Clock.Now()
	}
	return time.Now().UTC()
}
