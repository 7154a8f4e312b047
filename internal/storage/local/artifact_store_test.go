package local_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pdfcrawler/internal/crawler"
	"github.com/JakeFAU/pdfcrawler/internal/storage/local"
)

func newStore(t *testing.T) (*local.Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "documents")
	store, err := local.New(local.Config{Dir: dir, Fsync: true})
	require.NoError(t, err)
	return store, dir
}

func entries(t *testing.T, dir string) []string {
	t.Helper()
	list, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(list))
	for _, e := range list {
		names = append(names, e.Name())
	}
	return names
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("CreatesMissingDir", func(t *testing.T) {
		t.Parallel()
		_, dir := newStore(t)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Empty(t, entries(t, dir))
	})

	t.Run("MissingDir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("PathIsAFile", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{Dir: file})
		assert.Error(t, err)
	})

	t.Run("ParentIsAFile", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{Dir: filepath.Join(file, "documents")})
		assert.Error(t, err)
	})
}

func TestWriteStoresArtifact(t *testing.T) {
	t.Parallel()

	store, dir := newStore(t)
	body := []byte("%PDF-1.4 hello")
	art, err := store.Write(context.Background(), local.WriteRequest{
		Name:     "abc_report.pdf",
		URL:      "https://example.com/report.pdf",
		Body:     bytes.NewReader(body),
		MaxBytes: 1024,
		Expected: int64(len(body)),
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "abc_report.pdf"), art.Path)
	require.EqualValues(t, len(body), art.Size)
	require.Len(t, art.SHA256, 64)

	got, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	require.Equal(t, body, got)
	require.Equal(t, []string{"abc_report.pdf"}, entries(t, dir))
}

func TestWriteFailuresLeaveNothingBehind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		req    local.WriteRequest
		reason crawler.FailureReason
	}{
		{
			name:   "size ceiling",
			req:    local.WriteRequest{Body: strings.NewReader(strings.Repeat("x", 100)), MaxBytes: 10, Expected: -1},
			reason: crawler.ReasonSizeLimitExceeded,
		},
		{
			name:   "empty body",
			req:    local.WriteRequest{Body: strings.NewReader(""), Expected: -1},
			reason: crawler.ReasonEmptyDocument,
		},
		{
			name:   "short body",
			req:    local.WriteRequest{Body: strings.NewReader("abc"), Expected: 10},
			reason: crawler.ReasonTransientNetwork,
		},
		{
			name:   "read error",
			req:    local.WriteRequest{Body: io.MultiReader(strings.NewReader("abc"), errReader{}), Expected: -1},
			reason: crawler.ReasonTransientNetwork,
		},
		{
			name:   "bad name",
			req:    local.WriteRequest{Body: strings.NewReader("abc"), Expected: -1},
			reason: crawler.ReasonWrite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store, dir := newStore(t)
			req := tt.req
			req.URL = "https://example.com/a.pdf"
			if tt.reason != crawler.ReasonWrite {
				req.Name = "abc_a.pdf"
			} else {
				req.Name = "../escape.pdf"
			}
			_, err := store.Write(context.Background(), req)
			require.Error(t, err)
			require.Equal(t, tt.reason, crawler.ReasonOf(err))
			require.Empty(t, entries(t, dir))
		})
	}
}

func TestReserveAddsOrdinalOnCollision(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	require.Equal(t, "abc_a.pdf", store.Reserve("abc_a.pdf"))
	require.Equal(t, "abc_a-1.pdf", store.Reserve("abc_a.pdf"))
	require.Equal(t, "abc_a-2.pdf", store.Reserve("abc_a.pdf"))
	require.Equal(t, "abc_b.pdf", store.Reserve("abc_b.pdf"))
}

func TestCleanPartials(t *testing.T) {
	t.Parallel()

	store, dir := newStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".partial-123"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.pdf"), []byte("x"), 0o600))

	removed, err := store.CleanPartials()
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.Equal(t, []string{"keep.pdf"}, entries(t, dir))
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}
