package progress

import (
	"context"
	"time"
)

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so stages
// can remain agnostic about how events are buffered or exported.
type Emitter interface {
	Emit(evt Event)
}

// Reporter stamps events with the run ID and the current time before handing
// them to an Emitter. A nil Reporter or a nil Emitter discards events.
type Reporter struct {
	emitter Emitter
	runID   [16]byte
	now     func() time.Time
}

// NewReporter builds a Reporter for runID. now defaults to time.Now in UTC.
func NewReporter(emitter Emitter, runID [16]byte, now func() time.Time) *Reporter {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Reporter{emitter: emitter, runID: runID, now: now}
}

// Dropped reports how many events the emitter discarded, when it keeps count.
func (r *Reporter) Dropped() DropCounts {
	if r == nil || r.emitter == nil {
		return DropCounts{}
	}
	if c, ok := r.emitter.(interface{ Dropped() DropCounts }); ok {
		return c.Dropped()
	}
	return DropCounts{}
}

// Emit fills RunID and TS and forwards evt.
func (r *Reporter) Emit(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	if evt.TS.IsZero() {
		evt.TS = r.now()
	}
	r.emitter.Emit(evt)
}
