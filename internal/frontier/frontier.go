// Package frontier holds the set of URLs waiting to be fetched during a run.
//
// The frontier deduplicates by normalized URL for the whole run, hands out
// entries round-robin across domains, and tracks in-flight dispatches so that
// exhaustion (nothing pending, nothing in flight) can be observed by blocked
// callers without polling.
package frontier

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/pdfcrawler/internal/crawler"
)

// Frontier is safe for concurrent use.
type Frontier struct {
	mu       sync.Mutex
	visited  map[string]struct{}
	queues   map[string][]crawler.FrontierEntry
	ring     []string
	next     int
	pending  int
	inFlight int
	closed   bool
	changed  chan struct{}
}

// New creates an empty frontier.
func New() *Frontier {
	return &Frontier{
		visited: make(map[string]struct{}),
		queues:  make(map[string][]crawler.FrontierEntry),
		changed: make(chan struct{}),
	}
}

// Offer inserts entry unless its normalized URL has been seen before. It
// returns false for duplicates and after Close, and an error for invalid URLs.
func (f *Frontier) Offer(entry crawler.FrontierEntry) (bool, error) {
	normalized, err := crawler.NormalizeURL(entry.URL)
	if err != nil {
		return false, fmt.Errorf("offer %q: %w", entry.URL, err)
	}
	entry.URL = normalized
	domain := crawler.DomainOf(normalized)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false, nil
	}
	if _, seen := f.visited[normalized]; seen {
		return false, nil
	}
	f.visited[normalized] = struct{}{}

	q := f.queues[domain]
	if len(q) == 0 {
		f.ring = append(f.ring, domain)
	}
	f.queues[domain] = append(q, entry)
	f.pending++
	f.broadcastLocked()
	return true, nil
}

// Claim marks rawURL as seen without queueing it. It returns the normalized
// URL and whether this call was the first to see it.
func (f *Frontier) Claim(rawURL string) (string, bool) {
	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return "", false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return normalized, false
	}
	if _, seen := f.visited[normalized]; seen {
		return normalized, false
	}
	f.visited[normalized] = struct{}{}
	return normalized, true
}

// Take blocks until an entry is available. It returns crawler.ErrEmptyFrontier
// once the frontier is exhausted or closed, and ctx.Err() if ctx ends first.
// Every successful Take must be paired with a Done.
func (f *Frontier) Take(ctx context.Context) (crawler.FrontierEntry, error) {
	for {
		if err := ctx.Err(); err != nil {
			return crawler.FrontierEntry{}, err
		}
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return crawler.FrontierEntry{}, crawler.ErrEmptyFrontier
		}
		if f.pending > 0 {
			entry := f.popLocked()
			f.inFlight++
			f.mu.Unlock()
			return entry, nil
		}
		if f.inFlight == 0 {
			f.mu.Unlock()
			return crawler.FrontierEntry{}, crawler.ErrEmptyFrontier
		}
		wait := f.changed
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.FrontierEntry{}, ctx.Err()
		case <-wait:
		}
	}
}

// Done ends the dispatch of an entry returned by Take. Children discovered
// while processing entry must be offered before calling Done.
func (f *Frontier) Done(crawler.FrontierEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight > 0 {
		f.inFlight--
	}
	f.broadcastLocked()
}

// Close releases every blocked Take. Later Offers are ignored.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.broadcastLocked()
}

// IsExhausted reports whether nothing is pending and nothing is in flight.
func (f *Frontier) IsExhausted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending == 0 && f.inFlight == 0
}

// Stats returns pending, in-flight and seen counts.
func (f *Frontier) Stats() (pending, inFlight, seen int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, f.inFlight, len(f.visited)
}

func (f *Frontier) popLocked() crawler.FrontierEntry {
	if f.next >= len(f.ring) {
		f.next = 0
	}
	domain := f.ring[f.next]
	q := f.queues[domain]
	entry := q[0]
	q[0] = crawler.FrontierEntry{}
	q = q[1:]
	f.pending--

	if len(q) == 0 {
		delete(f.queues, domain)
		f.ring = append(f.ring[:f.next], f.ring[f.next+1:]...)
	} else {
		f.queues[domain] = q
		f.next++
	}
	if f.next >= len(f.ring) {
		f.next = 0
	}
	return entry
}

func (f *Frontier) broadcastLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}
