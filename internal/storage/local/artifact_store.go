// Package local stores downloaded documents on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/pdfcrawler/internal/crawler"
	"github.com/JakeFAU/pdfcrawler/internal/hash/sha256"
)

const partialPattern = ".partial-*"

// Config captures the parameters for the artifact store.
type Config struct {
	// Dir is the directory artifacts are written to.
	Dir string
	// Fsync flushes every artifact to stable storage before it is renamed into place.
	Fsync bool
}

// Artifact describes a stored document.
type Artifact struct {
	Path   string
	Size   int64
	SHA256 string
}

// WriteRequest describes one artifact write.
type WriteRequest struct {
	Name string
	URL  string
	Body io.Reader
	// MaxBytes is the size ceiling; zero disables it.
	MaxBytes int64
	// Expected is the declared length; negative when unknown.
	Expected int64
}

// Store writes artifacts atomically: bodies land in a temporary file in the
// same directory and are renamed to their final name only once complete.
type Store struct {
	dir   string
	fsync bool

	mu       sync.Mutex
	reserved map[string]struct{}
}

// New creates the artifact directory if needed and verifies it is writable.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}

	info, err := os.Stat(cfg.Dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create artifact directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat artifact directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("artifact path %q is not a directory", cfg.Dir)
	}

	probe, err := os.CreateTemp(cfg.Dir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("artifact directory is not writable: %w", err)
	}
	name := probe.Name()
	if err := probe.Close(); err != nil {
		return nil, fmt.Errorf("close writable probe: %w", err)
	}
	if err := os.Remove(name); err != nil {
		return nil, fmt.Errorf("remove writable probe: %w", err)
	}

	return &Store{
		dir:      cfg.Dir,
		fsync:    cfg.Fsync,
		reserved: make(map[string]struct{}),
	}, nil
}

// Dir returns the artifact directory.
func (s *Store) Dir() string {
	return s.dir
}

// Reserve claims name for this run. When another document already claimed it,
// an ordinal suffix is added until the name is unique.
func (s *Store) Reserve(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	candidate := name
	for n := 1; ; n++ {
		if _, taken := s.reserved[candidate]; !taken {
			s.reserved[candidate] = struct{}{}
			return candidate
		}
		candidate = crawler.WithOrdinal(name, n)
	}
}

// Write streams req.Body into the artifact req.Name. Nothing is left at the
// final path unless the whole body was received within the size ceiling.
func (s *Store) Write(ctx context.Context, req WriteRequest) (Artifact, error) {
	if req.Name == "" || req.Name != filepath.Base(req.Name) || strings.HasPrefix(req.Name, ".") {
		return Artifact{}, crawler.NewTaskError(crawler.ReasonWrite, req.URL, fmt.Errorf("invalid artifact name %q", req.Name))
	}
	finalPath := filepath.Join(s.dir, req.Name)

	tmp, err := os.CreateTemp(s.dir, partialPattern)
	if err != nil {
		return Artifact{}, crawler.NewTaskError(crawler.ReasonWrite, req.URL, fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	src := &trackingReader{r: req.Body}
	var reader io.Reader = src
	if req.MaxBytes > 0 {
		reader = io.LimitReader(src, req.MaxBytes+1)
	}
	digest := sha256.NewDigest()
	written, err := io.Copy(digest.TeeWriter(tmp), reader)
	if err != nil {
		if src.err != nil {
			return Artifact{}, crawler.NetworkError(ctx, req.URL, fmt.Errorf("read body: %w", src.err))
		}
		return Artifact{}, crawler.NewTaskError(crawler.ReasonWrite, req.URL, fmt.Errorf("write temp file: %w", err))
	}

	switch {
	case req.MaxBytes > 0 && written > req.MaxBytes:
		return Artifact{}, crawler.NewTaskError(crawler.ReasonSizeLimitExceeded, req.URL,
			fmt.Errorf("body exceeds %d bytes", req.MaxBytes))
	case written == 0:
		return Artifact{}, crawler.NewTaskError(crawler.ReasonEmptyDocument, req.URL, errors.New("empty body"))
	case req.Expected >= 0 && written != req.Expected:
		return Artifact{}, crawler.NewTaskError(crawler.ReasonTransientNetwork, req.URL,
			fmt.Errorf("received %d of %d declared bytes", written, req.Expected))
	}

	if s.fsync {
		if err := tmp.Sync(); err != nil {
			return Artifact{}, crawler.NewTaskError(crawler.ReasonWrite, req.URL, fmt.Errorf("sync temp file: %w", err))
		}
	}
	if err := tmp.Close(); err != nil {
		return Artifact{}, crawler.NewTaskError(crawler.ReasonWrite, req.URL, fmt.Errorf("close temp file: %w", err))
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		return Artifact{}, crawler.NewTaskError(crawler.ReasonWrite, req.URL, fmt.Errorf("rename artifact: %w", err))
	}
	committed = true

	return Artifact{Path: finalPath, Size: written, SHA256: digest.Sum()}, nil
}

// CleanPartials removes temporary files left behind by an interrupted process.
func (s *Store) CleanPartials() (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, partialPattern))
	if err != nil {
		return 0, fmt.Errorf("glob partial files: %w", err)
	}
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove partial %s: %w", m, err)
		}
		removed++
	}
	return removed, nil
}

type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		t.err = err
	}
	return n, err
}
