package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(Event{
		RunID:   UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001")),
		TS:      time.Unix(0, 0),
		Stage:   StageRunStart,
		Source:  "tiki",
		Message: "Starting Tiki data crawling process...",
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleReporter shows a reporter stamping run metadata onto messages.
func ExampleReporter() {
	var messages []string
	emit := EmitterFunc(func(evt Event) {
		messages = append(messages, fmt.Sprintf("[%s] %s", evt.Source, evt.Message))
	})
	rep := NewReporter(emit, uuid.MustParse("00000000-0000-0000-0000-000000000002"), "phongvu", nil)

	rep.Emit(Event{Stage: StageFetchFailed, Identifier: "240401677", StatusClass: Status4xx,
		Message: "Failed to retrieve details for SKU: 240401677"})
	rep.Infof("Product list saved to %s", "discovery-product.csv")

	for _, m := range messages {
		fmt.Println(m)
	}
	// Output:
	// [phongvu] Failed to retrieve details for SKU: 240401677
	// [phongvu] Product list saved to discovery-product.csv
}
