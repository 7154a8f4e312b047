package crawler

import "sync/atomic"

// Stats accumulates run counters shared by every stage.
type Stats struct {
	PagesVisited       atomic.Int64
	PagesFailed        atomic.Int64
	RobotsBlocked      atomic.Int64
	DocumentsQueued    atomic.Int64
	DocumentsSucceeded atomic.Int64
	DocumentsFailed    atomic.Int64
	BytesDownloaded    atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	PagesVisited       int64 `json:"pages_visited"`
	PagesFailed        int64 `json:"pages_failed"`
	RobotsBlocked      int64 `json:"robots_blocked"`
	DocumentsQueued    int64 `json:"documents_queued"`
	DocumentsSucceeded int64 `json:"documents_succeeded"`
	DocumentsFailed    int64 `json:"documents_failed"`
	BytesDownloaded    int64 `json:"bytes_downloaded"`
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		PagesVisited:       s.PagesVisited.Load(),
		PagesFailed:        s.PagesFailed.Load(),
		RobotsBlocked:      s.RobotsBlocked.Load(),
		DocumentsQueued:    s.DocumentsQueued.Load(),
		DocumentsSucceeded: s.DocumentsSucceeded.Load(),
		DocumentsFailed:    s.DocumentsFailed.Load(),
		BytesDownloaded:    s.BytesDownloaded.Load(),
	}
}

// ObserveResult updates document counters for a recorded result.
func (s *Stats) ObserveResult(result DownloadResult) {
	if result.Succeeded() {
		s.DocumentsSucceeded.Add(1)
		s.BytesDownloaded.Add(result.ByteSize)
		return
	}
	s.DocumentsFailed.Add(1)
}
