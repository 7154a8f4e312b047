// Package coordinator drives a single crawl run from seeding to finalization.
package coordinator

import (
	"errors"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrInterrupted is returned when a run was canceled before the frontier was
// exhausted. The run is still finalized.
var ErrInterrupted = errors.New("run interrupted")

// State is a run lifecycle phase.
type State string

// Run lifecycle phases, in order.
const (
	StateIdle      State = "idle"
	StateSeeding   State = "seeding"
	StateRunning   State = "running"
	StateDraining  State = "draining"
	StateFinalized State = "finalized"
)

// RunContext holds the immutable identity and output layout of a run.
type RunContext struct {
	RunID        string
	OutputDir    string
	DocumentsDir string
	MetadataPath string
	LogsDir      string
	Seeds        []string
}

// NewRunContext lays out the output tree under outputDir.
func NewRunContext(runID, outputDir string, seeds []string) RunContext {
	return RunContext{
		RunID:        runID,
		OutputDir:    outputDir,
		DocumentsDir: filepath.Join(outputDir, "documents"),
		MetadataPath: filepath.Join(outputDir, "metadata.csv"),
		LogsDir:      filepath.Join(outputDir, "logs"),
		Seeds:        append([]string(nil), seeds...),
	}
}

// LogFile returns the per-run log file path for a run started at t.
func (rc RunContext) LogFile(t time.Time) string {
	return filepath.Join(rc.LogsDir, t.Format("20060102_150405")+".log")
}

// Summary reports the totals of a finished run.
type Summary struct {
	RunID              string        `json:"run_id"`
	PagesVisited       int64         `json:"pages_visited"`
	PagesFailed        int64         `json:"pages_failed"`
	RobotsBlocked      int64         `json:"robots_blocked"`
	DocumentsSucceeded int64         `json:"documents_succeeded"`
	DocumentsFailed    int64         `json:"documents_failed"`
	Duration           time.Duration `json:"duration"`
	// EventsDropped counts progress events lost to backpressure; a non-zero
	// value means /metrics undercounts this run.
	EventsDropped int64 `json:"events_dropped,omitempty"`
}

// MarshalLogObject lets a Summary be logged with zap.Object.
func (s Summary) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("run_id", s.RunID)
	enc.AddInt64("pages_visited", s.PagesVisited)
	enc.AddInt64("pages_failed", s.PagesFailed)
	enc.AddInt64("robots_blocked", s.RobotsBlocked)
	enc.AddInt64("documents_succeeded", s.DocumentsSucceeded)
	enc.AddInt64("documents_failed", s.DocumentsFailed)
	enc.AddDuration("duration", s.Duration)
	if s.EventsDropped > 0 {
		enc.AddInt64("events_dropped", s.EventsDropped)
	}
	return nil
}

var _ zapcore.ObjectMarshaler = Summary{}

func summaryField(s Summary) zap.Field {
	return zap.Object("summary", s)
}
