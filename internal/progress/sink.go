package progress

import "context"

// Sink consumes batches of progress events. Implementations must honor ctx
// deadlines and tolerate repeated Consume calls after a failed one.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub satisfies it, so crawl code stays
// agnostic about buffering and delivery.
type Emitter interface {
	Emit(evt Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit calls f(evt).
func (f EmitterFunc) Emit(evt Event) {
	f(evt)
}
