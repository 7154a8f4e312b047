package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pdfcrawler/internal/crawler"
	"github.com/JakeFAU/pdfcrawler/internal/frontier"
)

// fanoutHandler offers children for every entry up to a fixed depth.
type fanoutHandler struct {
	frontier *frontier.Frontier
	maxDepth int
	mu       sync.Mutex
	seen     []string
	active   atomic.Int32
	peak     atomic.Int32
}

func (h *fanoutHandler) Handle(_ context.Context, entry crawler.FrontierEntry) {
	n := h.active.Add(1)
	defer h.active.Add(-1)
	for {
		peak := h.peak.Load()
		if n <= peak || h.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	h.mu.Lock()
	h.seen = append(h.seen, entry.URL)
	h.mu.Unlock()

	if entry.Depth >= h.maxDepth {
		return
	}
	for i := 0; i < 3; i++ {
		child := fmt.Sprintf("%s/%d", entry.URL, i)
		if entry.URL[len(entry.URL)-1] == '/' {
			child = fmt.Sprintf("%s%d", entry.URL, i)
		}
		_, _ = h.frontier.Offer(crawler.FrontierEntry{URL: child, DiscoveredFrom: entry.URL, Depth: entry.Depth + 1})
	}
}

func TestDispatcherDrainsFrontier(t *testing.T) {
	t.Parallel()

	f := frontier.New()
	_, err := f.Offer(crawler.FrontierEntry{URL: "https://example.com/"})
	require.NoError(t, err)
	_, err = f.Offer(crawler.FrontierEntry{URL: "https://example.org/"})
	require.NoError(t, err)

	h := &fanoutHandler{frontier: f, maxDepth: 2}
	d := New(f, h, 4, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Run(ctx, ctx))

	// 2 seeds, 6 children, 18 grandchildren.
	require.Len(t, h.seen, 26)
	require.True(t, f.IsExhausted())
	require.LessOrEqual(t, h.peak.Load(), int32(4))
}

func TestDispatcherStopsOnCancel(t *testing.T) {
	t.Parallel()

	f := frontier.New()
	_, err := f.Offer(crawler.FrontierEntry{URL: "https://example.com/"})
	require.NoError(t, err)

	block := make(chan struct{})
	h := handlerFunc(func(ctx context.Context, _ crawler.FrontierEntry) {
		select {
		case <-block:
		case <-ctx.Done():
		}
	})
	d := New(f, h, 2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	workCtx, cancelWork := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, workCtx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
		t.Fatal("dispatcher returned while an entry was still in flight")
	case <-time.After(20 * time.Millisecond):
	}

	cancelWork()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

type handlerFunc func(ctx context.Context, entry crawler.FrontierEntry)

func (f handlerFunc) Handle(ctx context.Context, entry crawler.FrontierEntry) { f(ctx, entry) }
