package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a page and returns the body plus metadata. Non-2xx
// responses are returned without error; transport failures return an error.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Governor enforces per-domain politeness.
type Governor interface {
	Acquire(ctx context.Context, domain string) error
	Release(domain string)
}

// RobotsPolicy reports whether robots.txt permits fetching a URL.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// RetryPolicy decides whether and when a failed attempt is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// ResultRecorder durably records a finished document task.
type ResultRecorder interface {
	Record(ctx context.Context, result DownloadResult) error
}

// Hasher computes digests used for artifact naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
