package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pdfcrawler/internal/crawler"
	"github.com/JakeFAU/pdfcrawler/internal/frontier"
	"github.com/JakeFAU/pdfcrawler/internal/processor"
)

const site = "https://example.com"

func htmlResponse(body string) crawler.FetchResponse {
	return crawler.FetchResponse{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(body),
		Duration:   5 * time.Millisecond,
	}
}

type harness struct {
	frontier  *frontier.Frontier
	fetcher   *fakeFetcher
	governor  *fakeGovernor
	robots    *fakeRobots
	downloads *fakeSubmitter
	recorder  *fakeRecorder
	stats     *crawler.Stats
	worker    *Worker
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		frontier:  frontier.New(),
		fetcher:   &fakeFetcher{responses: map[string][]crawler.FetchResponse{}, errors: map[string]error{}},
		governor:  &fakeGovernor{},
		robots:    &fakeRobots{blocked: map[string]bool{}},
		downloads: &fakeSubmitter{},
		recorder:  &fakeRecorder{},
		stats:     &crawler.Stats{},
	}
	h.worker = New(cfg, Deps{
		Frontier:  h.frontier,
		Fetcher:   h.fetcher,
		Governor:  h.governor,
		Robots:    h.robots,
		Retry:     crawler.NewExponentialRetryPolicy(3, time.Millisecond, 2*time.Millisecond),
		Processor: processor.New(processor.Config{}),
		Downloads: h.downloads,
		Recorder:  h.recorder,
		Clock:     &fakeClock{now: time.Unix(100, 0).UTC()},
		Stats:     h.stats,
		Logger:    zap.NewNop(),
	})
	return h
}

func (h *harness) seed(t *testing.T, raw string) crawler.FrontierEntry {
	t.Helper()
	added, err := h.frontier.Offer(crawler.FrontierEntry{URL: raw})
	require.NoError(t, err)
	require.True(t, added)
	entry, err := h.frontier.Take(context.Background())
	require.NoError(t, err)
	return entry
}

func TestWorkerProcessesPage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.responses[site+"/"] = []crawler.FetchResponse{htmlResponse(`
		<a href="/reports">Reports</a>
		<a href="/files/a.pdf">A</a>
		<a href="/files/a.pdf#page=2">A again</a>
		<a href="/files/b.pdf">B</a>`)}

	h.worker.Handle(context.Background(), h.seed(t, site))

	require.EqualValues(t, 1, h.stats.PagesVisited.Load())
	require.Equal(t, []string{site + "/files/a.pdf", site + "/files/b.pdf"}, h.downloads.urls())
	for _, task := range h.downloads.tasks {
		require.Equal(t, site+"/", task.SourceURL)
		require.Nil(t, task.Prefetched)
	}

	pending, _, _ := h.frontier.Stats()
	require.Equal(t, 1, pending)
	require.Equal(t, 1, h.governor.acquired)
	require.Equal(t, h.governor.acquired, h.governor.released)
}

func TestWorkerDocumentSuffixShortCircuit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})

	h.worker.Handle(context.Background(), h.seed(t, site+"/seed.pdf"))

	require.Equal(t, []string{site + "/seed.pdf"}, h.downloads.urls())
	require.Zero(t, h.fetcher.calls(site+"/seed.pdf"))
	require.Zero(t, h.stats.RobotsBlocked.Load())
}

func TestWorkerRobotsBlockedSeedDocument(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.robots.blocked[site+"/docs/seed.pdf"] = true

	h.worker.Handle(context.Background(), h.seed(t, site+"/docs/seed.pdf"))

	require.Empty(t, h.downloads.urls())
	require.Empty(t, h.recorder.results)
	require.EqualValues(t, 1, h.stats.RobotsBlocked.Load())
}

func TestWorkerRobotsBlocked(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.robots.blocked[site+"/private"] = true

	h.worker.Handle(context.Background(), h.seed(t, site+"/private"))

	require.EqualValues(t, 1, h.stats.RobotsBlocked.Load())
	require.Zero(t, h.fetcher.calls(site+"/private"))
	require.Zero(t, h.stats.PagesVisited.Load())
}

func TestWorkerSkipsBlockedDocumentLinks(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.robots.blocked[site+"/secret.pdf"] = true
	h.fetcher.responses[site+"/"] = []crawler.FetchResponse{htmlResponse(`
		<a href="/secret.pdf">S</a><a href="/open.pdf">O</a>`)}

	h.worker.Handle(context.Background(), h.seed(t, site))

	require.Equal(t, []string{site + "/open.pdf"}, h.downloads.urls())
	require.EqualValues(t, 1, h.stats.RobotsBlocked.Load())
}

func TestWorkerRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.responses[site+"/"] = []crawler.FetchResponse{
		{StatusCode: http.StatusServiceUnavailable},
		htmlResponse(`<a href="/x.pdf">x</a>`),
	}

	h.worker.Handle(context.Background(), h.seed(t, site))

	require.Equal(t, 2, h.fetcher.calls(site+"/"))
	require.EqualValues(t, 1, h.stats.PagesVisited.Load())
	require.Len(t, h.downloads.urls(), 1)
}

func TestWorkerPermanentFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.responses[site+"/gone"] = []crawler.FetchResponse{{StatusCode: http.StatusNotFound}}

	h.worker.Handle(context.Background(), h.seed(t, site+"/gone"))

	require.Equal(t, 1, h.fetcher.calls(site+"/gone"))
	require.EqualValues(t, 1, h.stats.PagesFailed.Load())
	require.Zero(t, h.stats.PagesVisited.Load())
}

func TestWorkerTransportErrorsExhaustRetries(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.errors[site+"/down"] = errors.New("connection refused")

	h.worker.Handle(context.Background(), h.seed(t, site+"/down"))

	require.Equal(t, 3, h.fetcher.calls(site+"/down"))
	require.EqualValues(t, 1, h.stats.PagesFailed.Load())
	require.Equal(t, 3, h.governor.released)
}

func TestWorkerDocumentByContentType(t *testing.T) {
	t.Parallel()

	body := []byte("%PDF-1.7\n%%EOF\n")
	tests := []struct {
		name       string
		headers    http.Header
		maxBytes   int
		prefetched bool
	}{
		{
			name:       "declared length matches",
			headers:    http.Header{"Content-Type": {"application/pdf"}, "Content-Length": {"15"}},
			prefetched: true,
		},
		{
			name:       "below page cap",
			headers:    http.Header{"Content-Type": {"application/pdf"}},
			maxBytes:   1024,
			prefetched: true,
		},
		{
			name:     "possibly truncated",
			headers:  http.Header{"Content-Type": {"application/pdf"}},
			maxBytes: len(body),
		},
		{
			name:    "declared length mismatch",
			headers: http.Header{"Content-Type": {"application/pdf"}, "Content-Length": {"9000"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, Config{MaxPageBytes: tt.maxBytes})
			h.fetcher.responses[site+"/download?id=1"] = []crawler.FetchResponse{{
				StatusCode: http.StatusOK,
				Headers:    tt.headers,
				Body:       body,
			}}

			h.worker.Handle(context.Background(), h.seed(t, site+"/download?id=1"))

			require.Len(t, h.downloads.tasks, 1)
			task := h.downloads.tasks[0]
			require.Equal(t, site+"/download?id=1", task.DocumentURL)
			require.Equal(t, tt.prefetched, task.Prefetched != nil)
		})
	}
}

func TestWorkerRecordsRefusedDocumentsAsCanceled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.downloads.err = crawler.ErrStageClosed
	h.fetcher.responses[site+"/"] = []crawler.FetchResponse{htmlResponse(`<a href="/late.pdf">late</a>`)}

	h.worker.Handle(context.Background(), h.seed(t, site))

	require.Len(t, h.recorder.results, 1)
	result := h.recorder.results[0]
	require.Equal(t, crawler.OutcomeFailed, result.Outcome)
	require.Equal(t, crawler.ReasonCanceled, result.Reason)
	require.Equal(t, site+"/late.pdf", result.Task.DocumentURL)
}

func TestWorkerClaimsEachDocumentOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.responses[site+"/a"] = []crawler.FetchResponse{htmlResponse(`<a href="/shared.pdf">s</a>`)}
	h.fetcher.responses[site+"/b"] = []crawler.FetchResponse{htmlResponse(`<a href="HTTPS://EXAMPLE.COM/shared.pdf">s</a>`)}

	h.worker.Handle(context.Background(), h.seed(t, site+"/a"))
	h.worker.Handle(context.Background(), h.seed(t, site+"/b"))

	require.Equal(t, []string{site + "/shared.pdf"}, h.downloads.urls())
}

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string][]crawler.FetchResponse
	errors    map[string]error
	counts    map[string]int
}

// Fetch replays the queued responses for a URL, repeating the last one.
func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	n := f.counts[req.URL]
	f.counts[req.URL]++
	if err, ok := f.errors[req.URL]; ok {
		return crawler.FetchResponse{}, err
	}
	queued := f.responses[req.URL]
	if len(queued) == 0 {
		return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	if n >= len(queued) {
		n = len(queued) - 1
	}
	resp := queued[n]
	resp.URL = req.URL
	return resp, nil
}

func (f *fakeFetcher) calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[url]
}

type fakeGovernor struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (g *fakeGovernor) Acquire(context.Context, string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.acquired++
	return nil
}

func (g *fakeGovernor) Release(string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released++
}

type fakeRobots struct {
	blocked map[string]bool
}

func (r *fakeRobots) Allowed(_ context.Context, rawURL string) bool {
	return !r.blocked[rawURL]
}

type fakeSubmitter struct {
	mu    sync.Mutex
	tasks []crawler.DocumentTask
	err   error
}

func (s *fakeSubmitter) Submit(_ context.Context, task crawler.DocumentTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.tasks = append(s.tasks, task)
	return nil
}

func (s *fakeSubmitter) urls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task.DocumentURL)
	}
	return out
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []crawler.DownloadResult
}

func (r *fakeRecorder) Record(_ context.Context, result crawler.DownloadResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}
