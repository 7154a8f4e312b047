package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pdfcrawler/internal/crawler"
	"github.com/JakeFAU/pdfcrawler/internal/dispatcher"
	"github.com/JakeFAU/pdfcrawler/internal/download"
	"github.com/JakeFAU/pdfcrawler/internal/frontier"
	"github.com/JakeFAU/pdfcrawler/internal/metadata"
	"github.com/JakeFAU/pdfcrawler/internal/progress"
	"github.com/JakeFAU/pdfcrawler/internal/storage/local"
	"github.com/JakeFAU/pdfcrawler/internal/storage/postgres"
	"github.com/JakeFAU/pdfcrawler/internal/worker"
)

const (
	defaultDrainTimeout = 2 * time.Minute
	defaultCancelGrace  = 10 * time.Second
)

// Run results reported in RUN_DONE events and the run store.
const (
	resultSuccess     = "success"
	resultInterrupted = "interrupted"
	resultFailed      = "failed"
)

var errDrainTimeout = errors.New("drain timeout elapsed")

// Options are the run tunables.
type Options struct {
	FetchWorkers     int
	DownloadWorkers  int
	DownloadQueue    int
	MaxPageBytes     int
	MaxDocumentBytes int64
	UserAgent        string
	DownloadTimeout  time.Duration
	DrainTimeout     time.Duration
	CancelGrace      time.Duration
	Fsync            bool
}

// RunStore keeps run-level bookkeeping outside the output directory.
type RunStore interface {
	StartRun(ctx context.Context, runID string, startedAt time.Time) error
	FinishRun(ctx context.Context, runID string, finishedAt time.Time, status string, totals postgres.RunTotals) error
}

// Deps are the shared, run-independent collaborators.
type Deps struct {
	Fetcher    crawler.Fetcher
	Robots     crawler.RobotsPolicy
	Governor   crawler.Governor
	Retry      crawler.RetryPolicy
	Processor  worker.PageProcessor
	Classifier *crawler.Classifier
	HTTPClient *http.Client
	Mirror     metadata.Mirror
	Runs       RunStore
	Reporter   *progress.Reporter
	Clock      crawler.Clock
	Stats      *crawler.Stats
	Logger     *zap.Logger
}

// Coordinator owns one run. Run may be called once.
type Coordinator struct {
	rc     RunContext
	opts   Options
	deps   Deps
	logger *zap.Logger

	mu    sync.RWMutex
	state State
}

// New builds a Coordinator for rc.
func New(rc RunContext, opts Options, deps Deps) *Coordinator {
	if opts.FetchWorkers <= 0 {
		opts.FetchWorkers = 1
	}
	if opts.DownloadWorkers <= 0 {
		opts.DownloadWorkers = 1
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = defaultCancelGrace
	}
	if deps.Stats == nil {
		deps.Stats = &crawler.Stats{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Coordinator{
		rc:     rc,
		opts:   opts,
		deps:   deps,
		logger: deps.Logger.With(zap.String("run_id", rc.RunID)),
		state:  StateIdle,
	}
}

// RunContext returns the run identity and layout.
func (c *Coordinator) RunContext() RunContext {
	return c.rc
}

// State returns the current lifecycle phase.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Stats returns the live run counters.
func (c *Coordinator) Stats() crawler.StatsSnapshot {
	return c.deps.Stats.Snapshot()
}

// Run executes the run. Seeding failures are returned before any worker
// starts. Canceling ctx stops new work, gives in-flight work the cancel
// grace to finish and returns ErrInterrupted after finalizing.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	start := c.now()
	c.setState(StateSeeding)
	c.startRun(ctx, start)
	c.logger.Info("run starting",
		zap.Strings("seeds", c.rc.Seeds),
		zap.String("output_dir", c.rc.OutputDir),
	)

	sink := metadata.New(metadata.Config{
		Path:   c.rc.MetadataPath,
		RunID:  c.rc.RunID,
		Fsync:  c.opts.Fsync,
		Mirror: c.deps.Mirror,
		Logger: c.logger,
	})
	if err := sink.Open(); err != nil {
		return c.fail(start, nil, fmt.Errorf("open metadata sink: %w", err))
	}
	store, err := local.New(local.Config{Dir: c.rc.DocumentsDir, Fsync: c.opts.Fsync})
	if err != nil {
		return c.fail(start, sink, crawler.NewTaskError(crawler.ReasonWrite, c.rc.DocumentsDir, err))
	}
	if removed, err := store.CleanPartials(); err != nil {
		c.logger.Warn("clean partial artifacts", zap.Error(err))
	} else if removed > 0 {
		c.logger.Info("removed partial artifacts from an earlier run", zap.Int("count", removed))
	}

	front := frontier.New()
	if c.offerSeeds(front) == 0 {
		return c.fail(start, sink, fmt.Errorf("seed frontier: %w", crawler.ErrNoSeeds))
	}

	workCtx, stopWork := c.graceContext(ctx)
	defer stopWork()

	rec := &countingRecorder{sink: sink, stats: c.deps.Stats, abort: front.Close}
	stage := download.New(download.Config{
		Workers:   c.opts.DownloadWorkers,
		QueueSize: c.opts.DownloadQueue,
		MaxBytes:  c.opts.MaxDocumentBytes,
		UserAgent: c.opts.UserAgent,
		Timeout:   c.opts.DownloadTimeout,
		Client:    c.deps.HTTPClient,
	}, download.Deps{
		Store:    store,
		Governor: c.deps.Governor,
		Retry:    c.deps.Retry,
		Recorder: rec,
		Clock:    c.deps.Clock,
		Reporter: c.deps.Reporter,
		Stats:    c.deps.Stats,
		Logger:   c.logger,
	})
	wk := worker.New(worker.Config{MaxPageBytes: c.opts.MaxPageBytes}, worker.Deps{
		Frontier:   front,
		Fetcher:    c.deps.Fetcher,
		Governor:   c.deps.Governor,
		Robots:     c.deps.Robots,
		Retry:      c.deps.Retry,
		Processor:  c.deps.Processor,
		Classifier: c.deps.Classifier,
		Downloads:  stage,
		Recorder:   rec,
		Clock:      c.deps.Clock,
		Reporter:   c.deps.Reporter,
		Stats:      c.deps.Stats,
		Logger:     c.logger,
	})

	c.setState(StateRunning)
	stage.Start(ctx, workCtx)
	if err := dispatcher.New(front, wk, c.opts.FetchWorkers, c.logger).Run(ctx, workCtx); err != nil {
		c.logger.Error("fetch dispatcher stopped", zap.Error(err))
	}

	c.setState(StateDraining)
	front.Close()
	c.drain(stage, rec, stopWork)

	c.setState(StateFinalized)
	var runErr error
	if err := rec.Err(); err != nil {
		runErr = fmt.Errorf("record metadata: %w", err)
	}
	if err := sink.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("close metadata sink: %w", err)
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = ErrInterrupted
	}
	return c.finish(start, runErr), runErr
}

func (c *Coordinator) offerSeeds(front *frontier.Frontier) int {
	accepted := 0
	for _, seed := range c.rc.Seeds {
		added, err := front.Offer(crawler.FrontierEntry{URL: seed})
		if err != nil {
			c.logger.Warn("ignoring invalid seed", zap.String("seed", seed), zap.Error(err))
			continue
		}
		if added {
			accepted++
		}
	}
	return accepted
}

// graceContext derives the context for in-flight work: it survives ctx by
// the cancel grace, then ends.
func (c *Coordinator) graceContext(ctx context.Context) (context.Context, context.CancelFunc) {
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(c.opts.CancelGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
			c.logger.Warn("cancel grace elapsed, aborting in-flight work", zap.Duration("cancel_grace", c.opts.CancelGrace))
			cancel()
		case <-workCtx.Done():
		}
	})
	return workCtx, func() {
		stop()
		cancel()
	}
}

// drain waits for the download stage to finish, bounded by the drain
// timeout. Tasks still unfinished afterwards are recorded as canceled.
func (c *Coordinator) drain(stage *download.Stage, rec *countingRecorder, stopWork context.CancelFunc) {
	stage.Close()
	drainCtx, cancel := context.WithTimeout(context.Background(), c.opts.DrainTimeout)
	defer cancel()

	cause := context.Canceled
	if err := stage.Wait(drainCtx); err != nil {
		cause = errDrainTimeout
		c.logger.Warn("drain timeout elapsed",
			zap.Duration("drain_timeout", c.opts.DrainTimeout),
			zap.Int("pending", stage.Pending()),
		)
	}

	stranded := stage.Strand()
	stopWork()
	for _, task := range stranded {
		result := crawler.FailedResult(task, crawler.NewTaskError(crawler.ReasonCanceled, task.DocumentURL, cause), c.now())
		if err := rec.Record(context.Background(), result); err != nil {
			c.logger.Error("record stranded document", zap.String("document_url", task.DocumentURL), zap.Error(err))
		}
	}
	if len(stranded) > 0 {
		c.logger.Info("recorded unfinished documents as canceled", zap.Int("count", len(stranded)))
	}

	exitCtx, cancelExit := context.WithTimeout(context.Background(), c.opts.CancelGrace)
	defer cancelExit()
	if err := stage.Wait(exitCtx); err != nil {
		c.logger.Warn("download workers did not exit", zap.Error(err))
	}
}

// fail finalizes a run that could not start.
func (c *Coordinator) fail(start time.Time, sink *metadata.Sink, err error) (Summary, error) {
	c.logger.Error("run seeding failed", zap.Error(err))
	c.setState(StateFinalized)
	if sink != nil {
		if closeErr := sink.Close(); closeErr != nil {
			c.logger.Warn("close metadata sink", zap.Error(closeErr))
		}
	}
	return c.finish(start, err), err
}

func (c *Coordinator) finish(start time.Time, runErr error) Summary {
	end := c.now()
	stats := c.deps.Stats.Snapshot()
	summary := Summary{
		RunID:              c.rc.RunID,
		PagesVisited:       stats.PagesVisited,
		PagesFailed:        stats.PagesFailed,
		RobotsBlocked:      stats.RobotsBlocked,
		DocumentsSucceeded: stats.DocumentsSucceeded,
		DocumentsFailed:    stats.DocumentsFailed,
		Duration:           end.Sub(start),
	}

	result := resultSuccess
	switch {
	case errors.Is(runErr, ErrInterrupted):
		result = resultInterrupted
	case runErr != nil:
		result = resultFailed
	}
	c.deps.Reporter.Emit(progress.Event{Stage: progress.StageRunDone, Dur: summary.Duration, Note: result})
	summary.EventsDropped = c.deps.Reporter.Dropped().Total()
	if c.deps.Runs != nil {
		err := c.deps.Runs.FinishRun(context.Background(), c.rc.RunID, end, result, postgres.RunTotals{
			PagesVisited:       summary.PagesVisited,
			DocumentsSucceeded: summary.DocumentsSucceeded,
			DocumentsFailed:    summary.DocumentsFailed,
		})
		if err != nil {
			c.logger.Warn("store run finish", zap.Error(err))
		}
	}
	c.logger.Info("run finished", zap.String("result", result), summaryField(summary))
	return summary
}

func (c *Coordinator) startRun(ctx context.Context, start time.Time) {
	if c.deps.Runs == nil {
		return
	}
	if err := c.deps.Runs.StartRun(ctx, c.rc.RunID, start); err != nil {
		c.logger.Warn("store run start", zap.Error(err))
	}
}

func (c *Coordinator) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.deps.Reporter.Emit(progress.Event{Stage: progress.StageRunState, Note: string(state)})
	c.logger.Debug("run state changed", zap.String("state", string(state)))
}

func (c *Coordinator) now() time.Time {
	if c.deps.Clock != nil {
		return c.deps.Clock.Now()
	}
	return time.Now().UTC()
}

// countingRecorder feeds results to the sink and the run counters. The first
// sink failure aborts the crawl.
type countingRecorder struct {
	sink  crawler.ResultRecorder
	stats *crawler.Stats
	abort func()

	mu  sync.Mutex
	err error
}

func (r *countingRecorder) Record(ctx context.Context, result crawler.DownloadResult) error {
	if err := r.sink.Record(ctx, result); err != nil {
		r.mu.Lock()
		first := r.err == nil
		if first {
			r.err = err
		}
		r.mu.Unlock()
		if first && r.abort != nil {
			r.abort()
		}
		return err
	}
	r.stats.ObserveResult(result)
	return nil
}

// Err returns the first sink failure.
func (r *countingRecorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
