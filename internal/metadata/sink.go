// Package metadata records one durable row per finished document task.
package metadata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pdfcrawler/internal/crawler"
)

// Header is the column layout of metadata.csv.
var Header = []string{
	"document_url",
	"source_url",
	"outcome",
	"local_path",
	"byte_size",
	"failure_reason",
	"completed_at",
}

// Mirror receives a copy of every record. Mirror failures never fail Record.
type Mirror interface {
	Insert(ctx context.Context, rec crawler.MetadataRecord) error
}

// Config controls the sink.
type Config struct {
	Path  string
	RunID string
	// Fsync syncs the file after every row.
	Fsync  bool
	Mirror Mirror
	Logger *zap.Logger
}

// Sink appends rows to a CSV file. Writes are serialized so concurrent
// callers never interleave partial rows. An existing file is appended to.
type Sink struct {
	path   string
	runID  string
	fsync  bool
	mirror Mirror
	logger *zap.Logger

	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	opened bool
	closed bool
	rows   int
}

// New builds a Sink; call Open before Record.
func New(cfg Config) *Sink {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		path:   cfg.Path,
		runID:  cfg.RunID,
		fsync:  cfg.Fsync,
		mirror: cfg.Mirror,
		logger: logger,
	}
}

// Open creates or opens the metadata file for appending and writes the
// header when the file is empty. Errors are SinkErrors and fatal to the run.
func (s *Sink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return crawler.ErrSinkClosed
	}
	if s.opened {
		return nil
	}
	if s.path == "" {
		return crawler.NewTaskError(crawler.ReasonSink, "", errors.New("metadata path is required"))
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return crawler.NewTaskError(crawler.ReasonSink, s.path, fmt.Errorf("create metadata dir: %w", err))
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return crawler.NewTaskError(crawler.ReasonSink, s.path, fmt.Errorf("open metadata file: %w", err))
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return crawler.NewTaskError(crawler.ReasonSink, s.path, fmt.Errorf("stat metadata file: %w", err))
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			_ = f.Close()
			return crawler.NewTaskError(crawler.ReasonSink, s.path, fmt.Errorf("write header: %w", err))
		}
		w.Flush()
		if err := w.Error(); err != nil {
			_ = f.Close()
			return crawler.NewTaskError(crawler.ReasonSink, s.path, fmt.Errorf("flush header: %w", err))
		}
	}
	s.file = f
	s.writer = w
	s.opened = true
	return nil
}

// Record appends the row for result. It returns crawler.ErrSinkClosed after Close.
func (s *Sink) Record(ctx context.Context, result crawler.DownloadResult) error {
	rec := crawler.NewMetadataRecord(s.runID, result)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return crawler.ErrSinkClosed
	}
	if !s.opened {
		s.mu.Unlock()
		return crawler.NewTaskError(crawler.ReasonSink, s.path, errors.New("metadata sink not opened"))
	}
	if err := s.writeLocked(rec); err != nil {
		s.mu.Unlock()
		return err
	}
	s.rows++
	s.mu.Unlock()

	if s.mirror != nil {
		if err := s.mirror.Insert(ctx, rec); err != nil {
			s.logger.Warn("metadata mirror insert failed",
				zap.String("document_url", rec.DocumentURL),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Sink) writeLocked(rec crawler.MetadataRecord) error {
	if err := s.writer.Write(Row(rec)); err != nil {
		return crawler.NewTaskError(crawler.ReasonSink, s.path, fmt.Errorf("write row: %w", err))
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return crawler.NewTaskError(crawler.ReasonSink, s.path, fmt.Errorf("flush row: %w", err))
	}
	if s.fsync {
		if err := s.file.Sync(); err != nil {
			return crawler.NewTaskError(crawler.ReasonSink, s.path, fmt.Errorf("sync metadata file: %w", err))
		}
	}
	return nil
}

// Rows returns the number of rows written by this sink.
func (s *Sink) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Close flushes and closes the file. Later calls are no-ops.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.opened {
		return nil
	}
	s.writer.Flush()
	flushErr := s.writer.Error()
	var syncErr error
	if s.fsync {
		syncErr = s.file.Sync()
	}
	closeErr := s.file.Close()
	if err := errors.Join(flushErr, syncErr, closeErr); err != nil {
		return fmt.Errorf("close metadata file: %w", err)
	}
	return nil
}

// Row renders rec in Header column order.
func Row(rec crawler.MetadataRecord) []string {
	size := ""
	if rec.ByteSize != nil {
		size = strconv.FormatInt(*rec.ByteSize, 10)
	}
	return []string{
		rec.DocumentURL,
		rec.SourceURL,
		string(rec.Outcome),
		rec.LocalPath,
		size,
		string(rec.FailureReason),
		rec.CompletedAt.UTC().Format(time.RFC3339),
	}
}
