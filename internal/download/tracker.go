package download

import (
	"sort"
	"sync"

	"github.com/JakeFAU/pdfcrawler/internal/crawler"
)

// tracker remembers every accepted task until its result is recorded, so the
// coordinator can account for tasks that never finish.
type tracker struct {
	mu       sync.Mutex
	open     map[string]crawler.DocumentTask
	stranded bool
}

func newTracker() *tracker {
	return &tracker{open: make(map[string]crawler.DocumentTask)}
}

func (t *tracker) begin(task crawler.DocumentTask) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stranded {
		return false
	}
	if _, dup := t.open[task.DocumentURL]; dup {
		return false
	}
	t.open[task.DocumentURL] = task
	return true
}

// finish reports whether the caller still owns the task's result.
func (t *tracker) finish(task crawler.DocumentTask) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.open[task.DocumentURL]; !ok {
		return false
	}
	delete(t.open, task.DocumentURL)
	return true
}

func (t *tracker) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

// strand hands every unfinished task to the caller. Later begin and finish
// calls are refused.
func (t *tracker) strand() []crawler.DocumentTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stranded = true
	out := make([]crawler.DocumentTask, 0, len(t.open))
	for _, task := range t.open {
		out = append(out, task)
	}
	t.open = make(map[string]crawler.DocumentTask)
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentURL < out[j].DocumentURL })
	return out
}
