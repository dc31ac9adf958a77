package progress

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reporter stamps events with the run they belong to before handing them to
// an Emitter. A nil Reporter, or one without an Emitter, discards everything,
// so crawl code can report unconditionally.
type Reporter struct {
	emitter Emitter
	runID   [16]byte
	source  string
	now     func() time.Time
}

// NewReporter binds emitter to one run of source. now defaults to time.Now.
func NewReporter(emitter Emitter, runID uuid.UUID, source string, now func() time.Time) *Reporter {
	if now == nil {
		now = time.Now
	}
	return &Reporter{
		emitter: emitter,
		runID:   UUIDToBytes(runID),
		source:  source,
		now:     now,
	}
}

// Emit fills in RunID, Source and TS when unset and forwards evt.
func (r *Reporter) Emit(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	if evt.RunID == [16]byte{} {
		evt.RunID = r.runID
	}
	if evt.Source == "" {
		evt.Source = r.source
	}
	if evt.TS.IsZero() {
		evt.TS = r.now().UTC()
	}
	r.emitter.Emit(evt)
}

// Infof emits a plain INFO message.
func (r *Reporter) Infof(format string, args ...any) {
	r.Emit(Event{Stage: StageInfo, Message: fmt.Sprintf(format, args...)})
}

// RunID returns the run the reporter stamps onto events.
func (r *Reporter) RunID() uuid.UUID {
	if r == nil {
		return uuid.Nil
	}
	return uuid.UUID(r.runID)
}

// Source returns the source name stamped onto events.
func (r *Reporter) Source() string {
	if r == nil {
		return ""
	}
	return r.source
}
