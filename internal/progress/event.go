package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the step of a crawl run an Event reports on.
type Stage string

// Supported progress stages.
const (
	StageRunStart        Stage = "RUN_START"
	StageRunDone         Stage = "RUN_DONE"
	StageRunError        Stage = "RUN_ERROR"
	StagePage            Stage = "PAGE"
	StageIdentifier      Stage = "IDENTIFIER"
	StageFetchDone       Stage = "FETCH_DONE"
	StageFetchFailed     Stage = "FETCH_FAILED"
	StageRecordSkipped   Stage = "RECORD_SKIPPED"
	StageArtifactWritten Stage = "ARTIFACT_WRITTEN"
	StageInfo            Stage = "INFO"
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

// Event is one progress message of a crawl run.
type Event struct {
	// RunID identifies the pipeline run in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC time the event was stamped.
	TS time.Time
	Stage Stage
	// Source is the catalog name of the source being crawled.
	Source string
	// Message is the human-readable text shown to observers.
	Message string
	// Identifier is set on identifier and fetch events.
	Identifier string
	// Page is the 1-based listing page on PAGE events.
	Page int
	// StatusClass groups the HTTP status of FETCH_* events.
	StatusClass StatusClass
	// Dur is the fetch latency, or the run wall time on RUN_DONE/RUN_ERROR.
	Dur time.Duration
	// Count carries a stage-specific total: rows exported on RUN_DONE,
	// bytes written on ARTIFACT_WRITTEN, pages crawled on INFO summaries.
	Count int64
	// URI is the artifact location on ARTIFACT_WRITTEN events.
	URI string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Message == "" {
		return errors.New("message is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageRecordSkipped, StageInfo:
	case StagePage:
		if e.Page < 1 {
			return errors.New("page event requires a positive page")
		}
	case StageIdentifier:
		if e.Identifier == "" {
			return errors.New("identifier event requires an identifier")
		}
	case StageFetchDone, StageFetchFailed:
		if e.Identifier == "" {
			return fmt.Errorf("%s requires an identifier", e.Stage)
		}
		if e.StatusClass == "" {
			return fmt.Errorf("%s requires a status class", e.Stage)
		}
	case StageArtifactWritten:
		if e.URI == "" {
			return errors.New("artifact event requires a uri")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
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
