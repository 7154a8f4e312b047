package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: capacity of the request-level lane (default 4096).
//   - OutcomeBuffer: capacity of the outcome lane (default 1024).
//   - MaxBatchEvents: flush once this many events queue (default 1000).
//   - MaxBatchWait: flush request-level events after this long (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
type Config struct {
	BufferSize     int
	OutcomeBuffer  int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultOutcomeBuffer  = 1024
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// IsOutcome reports whether stage records a run state change or the final
// result of a page or document, as opposed to per-request activity.
func IsOutcome(stage Stage) bool {
	switch stage {
	case StageRunState, StageRunDone, StageDownloadDone, StageDownloadFailed,
		StageFetchFailed, StageRobotsBlocked:
		return true
	default:
		return false
	}
}

// DropCounts totals events discarded under backpressure, split by lane.
type DropCounts struct {
	Outcome  int64
	Activity int64
}

// Total returns the number of dropped events across both lanes.
func (d DropCounts) Total() int64 {
	return d.Outcome + d.Activity
}

// Hub fans events from the fetch workers, download workers and coordinator out
// to sinks. Outcome events travel on their own lane so a flood of request
// events cannot crowd them out, and each one flushes the pending batch so run
// state and document results reach sinks without waiting for the timer.
// Emit never blocks.
type Hub struct {
	cfg      Config
	sinks    []Sink
	outcomes chan Event
	activity chan Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *zap.Logger
	dropLog  rate.Sometimes

	droppedOutcome  atomic.Int64
	droppedActivity atomic.Int64
	closed          atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts a Hub delivering to sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.OutcomeBuffer <= 0 {
		cfg.OutcomeBuffer = defaultOutcomeBuffer
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:      cfg,
		sinks:    append([]Sink(nil), sinks...),
		outcomes: make(chan Event, cfg.OutcomeBuffer),
		activity: make(chan Event, cfg.BufferSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
		dropLog:  rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit queues evt on its lane, or drops and counts it when the lane is full.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	lane, counter := h.activity, &h.droppedActivity
	if IsOutcome(evt.Stage) {
		lane, counter = h.outcomes, &h.droppedOutcome
	}
	select {
	case lane <- evt:
	default:
		counter.Add(1)
		h.dropLog.Do(func() {
			d := h.Dropped()
			h.logger.Warn("progress events dropped due to backpressure",
				zap.Int64("outcome", d.Outcome),
				zap.Int64("activity", d.Activity),
				zap.String("stage", string(evt.Stage)),
			)
		})
	}
}

// Dropped reports the events discarded so far in this run.
func (h *Hub) Dropped() DropCounts {
	if h == nil {
		return DropCounts{}
	}
	return DropCounts{Outcome: h.droppedOutcome.Load(), Activity: h.droppedActivity.Load()}
}

// Close delivers queued events, closes the sinks, and waits for the delivery
// goroutine to exit or ctx to end. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()
	armed := false

	flush := func() {
		if armed {
			timer.Stop()
			armed = false
		}
		h.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case evt := <-h.outcomes:
			batch = append(batch, evt)
			flush()
		case evt := <-h.activity:
			batch = append(batch, evt)
			switch {
			case len(batch) >= h.cfg.MaxBatchEvents:
				flush()
			case !armed:
				timer.Reset(h.cfg.MaxBatchWait)
				armed = true
			}
		case <-timer.C:
			armed = false
			h.flush(batch)
			batch = batch[:0]
		case <-h.stopCh:
			h.drain(batch)
			h.closeSinks()
			return
		}
	}
}

// drain delivers everything still queued, outcomes first.
func (h *Hub) drain(batch []Event) {
	for _, lane := range []chan Event{h.outcomes, h.activity} {
	loop:
		for {
			select {
			case evt := <-lane:
				batch = append(batch, evt)
				if len(batch) >= h.cfg.MaxBatchEvents {
					h.flush(batch)
					batch = batch[:0]
				}
			default:
				break loop
			}
		}
	}
	h.flush(batch)
}

func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	out := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
