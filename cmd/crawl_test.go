package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pdfcrawler/internal/app"
	"github.com/JakeFAU/pdfcrawler/internal/config"
	"github.com/JakeFAU/pdfcrawler/internal/coordinator"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context) (coordinator.Summary, error) {
	args := m.Called(ctx)
	return args.Get(0).(coordinator.Summary), args.Error(1)
}

func (m *mockRunner) Close() {
	m.Called()
}

// swapRunner replaces the run factory for one test. Tests using it must not run in parallel.
func swapRunner(t *testing.T, runner Runner, captured *config.Config, rcOut *coordinator.RunContext) {
	t.Helper()
	orig := newRunner
	newRunner = func(_ context.Context, cfg config.Config, rc coordinator.RunContext, _ *zap.Logger) (Runner, error) {
		if captured != nil {
			*captured = cfg
		}
		if rcOut != nil {
			*rcOut = rc
		}
		return runner, nil
	}
	t.Cleanup(func() { newRunner = orig })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlFlagsOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
start_urls:
  - https://from-file.example/
output_dir: from-file
log_level: warn
crawler:
  fetch_workers: 3
`), 0o600))

	runner := &mockRunner{}
	summary := coordinator.Summary{RunID: "r1", PagesVisited: 4, DocumentsSucceeded: 2, Duration: time.Second}
	runner.On("Run", mock.Anything).Return(summary, nil).Once()
	runner.On("Close").Return().Once()

	var cfg config.Config
	var rc coordinator.RunContext
	swapRunner(t, runner, &cfg, &rc)

	outDir := filepath.Join(dir, "out")
	out, err := execute(t, "crawl", "--config", cfgPath,
		"--seed", "https://a.example/", "--seed", "https://b.example/",
		"--output-dir", outDir)
	require.NoError(t, err)
	runner.AssertExpectations(t)

	require.Equal(t, []string{"https://a.example/", "https://b.example/"}, cfg.StartURLs)
	require.Equal(t, outDir, cfg.OutputDir)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, 3, cfg.Crawler.FetchWorkers)

	require.NotEmpty(t, rc.RunID)
	require.Equal(t, filepath.Join(outDir, "metadata.csv"), rc.MetadataPath)
	entries, err := os.ReadDir(rc.LogsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var printed coordinator.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &printed))
	require.Equal(t, summary, printed)
}

func TestCrawlReturnsRunError(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", mock.Anything).Return(coordinator.Summary{RunID: "r2"}, coordinator.ErrInterrupted).Once()
	runner.On("Close").Return().Once()
	swapRunner(t, runner, nil, nil)

	_, err := execute(t, "crawl", "--seed", "https://a.example/", "--output-dir", t.TempDir())
	require.ErrorIs(t, err, coordinator.ErrInterrupted)
	require.Equal(t, 130, app.ExitCode(err))
	runner.AssertExpectations(t)
}

func TestCrawlRejectsInvalidConfig(t *testing.T) {
	runner := &mockRunner{}
	swapRunner(t, runner, nil, nil)

	_, err := execute(t, "crawl", "--output-dir", t.TempDir())
	require.ErrorContains(t, err, "invalid config")
	runner.AssertNotCalled(t, "Run", mock.Anything)
}

func TestCrawlMissingConfigFile(t *testing.T) {
	_, err := execute(t, "crawl", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "load config")
}
