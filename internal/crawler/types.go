package crawler

import (
	"net/http"
	"time"
)

// FrontierEntry is one URL waiting to be dispatched. URL is stored in its
// normalized form and the entry is never mutated once created.
type FrontierEntry struct {
	URL            string
	DiscoveredFrom string
	Depth          int
}

// DocumentTask asks the download stage to fetch a single document.
type DocumentTask struct {
	SourceURL    string
	DocumentURL  string
	DiscoveredAt time.Time
	// Prefetched holds the response when the fetch workers already retrieved
	// the document body; the download stage stores it without a second GET.
	Prefetched *FetchResponse
}

// Outcome is the terminal state of a document task.
type Outcome string

// Supported outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// DownloadResult is produced exactly once per DocumentTask.
type DownloadResult struct {
	Task        DocumentTask
	LocalPath   string
	ByteSize    int64
	ContentHash string
	Outcome     Outcome
	Reason      FailureReason
	Detail      string
	CompletedAt time.Time
}

// Succeeded reports whether the download produced an artifact.
func (r DownloadResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// SuccessResult builds the result for a stored artifact.
func SuccessResult(task DocumentTask, localPath string, size int64, at time.Time) DownloadResult {
	return DownloadResult{
		Task:        task,
		LocalPath:   localPath,
		ByteSize:    size,
		Outcome:     OutcomeSuccess,
		CompletedAt: at,
	}
}

// FailedResult builds a terminal failure for task, deriving the reason from err.
func FailedResult(task DocumentTask, err error, at time.Time) DownloadResult {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return DownloadResult{
		Task:        task,
		Outcome:     OutcomeFailed,
		Reason:      ReasonOf(err),
		Detail:      detail,
		CompletedAt: at,
	}
}

// MetadataRecord is the durable projection of a DownloadResult.
type MetadataRecord struct {
	RunID         string
	DocumentURL   string
	SourceURL     string
	Outcome       Outcome
	LocalPath     string
	ByteSize      *int64
	ContentSHA256 string
	FailureReason FailureReason
	CompletedAt   time.Time
}

// NewMetadataRecord projects result into a record owned by runID.
func NewMetadataRecord(runID string, result DownloadResult) MetadataRecord {
	rec := MetadataRecord{
		RunID:       runID,
		DocumentURL: result.Task.DocumentURL,
		SourceURL:   result.Task.SourceURL,
		Outcome:     result.Outcome,
		CompletedAt: result.CompletedAt.UTC(),
	}
	if result.Succeeded() {
		size := result.ByteSize
		rec.LocalPath = result.LocalPath
		rec.ByteSize = &size
		rec.ContentSHA256 = result.ContentHash
	} else {
		rec.FailureReason = result.Reason
	}
	return rec
}

// FetchRequest captures everything needed to fetch a page.
type FetchRequest struct {
	URL   string
	Depth int
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Page is a successfully fetched HTML page handed to the page processor.
type Page struct {
	URL         string
	FinalURL    string
	Depth       int
	ContentType string
	Body        []byte
}

// BaseURL returns the URL relative links should be resolved against.
func (p Page) BaseURL() string {
	if p.FinalURL != "" {
		return p.FinalURL
	}
	return p.URL
}
