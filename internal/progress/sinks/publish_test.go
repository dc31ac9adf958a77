package sinks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/publisher/memory"
)

func TestPublishSinkSendsJSONMessages(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink, err := NewPublishSink(pub, "catalog-progress")
	require.NoError(t, err)

	id := uuid.New()
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	batch := []progress.Event{
		{RunID: progress.UUIDToBytes(id), TS: ts, Stage: progress.StagePage, Source: "tiki", Page: 3, Message: "Crawling page: 3"},
		{
			RunID:   progress.UUIDToBytes(id),
			TS:      ts,
			Stage:   progress.StageArtifactWritten,
			Source:  "tiki",
			URI:     "file:///tmp/product.csv",
			Count:   12,
			Message: "Product list saved to file:///tmp/product.csv",
		},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "catalog-progress", msgs[0].Topic)

	var first Message
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &first))
	assert.Equal(t, id.String(), first.RunID)
	assert.Equal(t, "PAGE", first.Stage)
	assert.Equal(t, 3, first.Page)
	assert.Equal(t, "Crawling page: 3", first.Message)
	assert.True(t, ts.Equal(first.TS))

	var second map[string]any
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &second))
	assert.Equal(t, "file:///tmp/product.csv", second["uri"])
	assert.NotContains(t, second, "page")

	require.NoError(t, sink.Close(context.Background()))
	assert.Error(t, sink.Consume(context.Background(), batch[:1]), "closed publisher errors surface")
}

func TestNewPublishSinkValidates(t *testing.T) {
	t.Parallel()

	_, err := NewPublishSink(nil, "t")
	require.Error(t, err)
	_, err = NewPublishSink(memory.New(), "")
	require.Error(t, err)
}
