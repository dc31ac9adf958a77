package crawler

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors surfaced to callers; test with errors.Is.
var (
	// ErrUnknownSource reports a source name missing from the catalog.
	ErrUnknownSource = errors.New("unknown source")
	// ErrMalformedListing reports a listing page whose body is not JSON.
	ErrMalformedListing = errors.New("malformed listing response")
)

// FetchRequest captures everything needed to GET one URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is what came back for a FetchRequest, whatever the status.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports whether the response carries a 2xx status.
func (r FetchResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// RawDocument is the unparsed body of one successful detail fetch.
type RawDocument struct {
	ID   string
	Body []byte
}

// Artifact records one file written by a run.
type Artifact struct {
	Kind   string `json:"kind"`
	Path   string `json:"path"`
	URI    string `json:"uri"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256,omitempty"`
}

// Artifact kinds.
const (
	ArtifactIDs    = "ids"
	ArtifactRaw    = "raw"
	ArtifactExport = "export"
)

// Summary describes a finished pipeline run.
type Summary struct {
	RunID       uuid.UUID     `json:"run_id"`
	Source      string        `json:"source"`
	Display     string        `json:"display"`
	Pages       int           `json:"pages"`
	Identifiers int           `json:"identifiers"`
	Fetched     int           `json:"fetched"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Exported    int           `json:"exported"`
	Artifacts   []Artifact    `json:"artifacts"`
	Duration    time.Duration `json:"duration_ns"`
}
