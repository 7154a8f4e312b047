// Package progress defines the event structures emitted by the crawl stages.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunState       Stage = "RUN_STATE"
	StageRunDone        Stage = "RUN_DONE"
	StageFetchStart     Stage = "FETCH_START"
	StageFetchDone      Stage = "FETCH_DONE"
	StageFetchRetry     Stage = "FETCH_RETRY"
	StageFetchFailed    Stage = "FETCH_FAILED"
	StageRobotsBlocked  Stage = "ROBOTS_BLOCKED"
	StagePageProcessed  Stage = "PAGE_PROCESSED"
	StageDocumentQueued Stage = "DOCUMENT_QUEUED"
	StageDownloadDone   Stage = "DOWNLOAD_DONE"
	StageDownloadFailed Stage = "DOWNLOAD_FAILED"
	StagePolitenessWait Stage = "POLITENESS_WAIT"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single component of crawler progress.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle, fetch, or download milestone occurred.
	Stage Stage
	// Site scopes request events to a host.
	Site string
	// URL is the optional page or document URL.
	URL string
	// Bytes carries the response or artifact size.
	Bytes int64
	// StatusClass groups HTTP response codes (2xx, 3xx, etc).
	StatusClass StatusClass
	// Dur captures latency for fetches, downloads, waits, and run completion.
	Dur time.Duration
	// Reason holds the failure reason code for failed stages.
	Reason string
	// Links counts links discovered on a processed page.
	Links int
	// Note carries the run state name or low-volume debug context.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunState:
		if e.Note == "" {
			return errors.New("run state requires note")
		}
	case StageRunDone:
	case StageFetchStart, StageFetchRetry, StageRobotsBlocked, StagePageProcessed,
		StageDocumentQueued, StageDownloadDone, StagePolitenessWait:
		if e.Site == "" {
			return fmt.Errorf("%s requires site", e.Stage)
		}
	case StageFetchDone:
		if e.Site == "" {
			return errors.New("fetch done requires site")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	case StageFetchFailed, StageDownloadFailed:
		if e.Site == "" {
			return fmt.Errorf("%s requires site", e.Stage)
		}
		if e.Reason == "" {
			return fmt.Errorf("%s requires reason", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
