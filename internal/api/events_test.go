package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/progress/sinks"
)

func TestStreamEventsRelaysMessages(t *testing.T) {
	t.Parallel()

	broadcast := sinks.NewBroadcastSink()
	cfg := config.Config{Progress: config.ProgressConfig{StreamBuffer: 8}}
	server := NewServer(newFakeRunner(t), broadcast, nil, cfg, zap.NewNop())
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)
	require.Eventually(t, func() bool { return broadcast.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	runID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, broadcast.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StagePage, Page: 1, Message: "Crawling page: 1"},
		{RunID: runID, TS: time.Now(), Stage: progress.StageIdentifier, Identifier: "42", Message: "Product ID: 42"},
	}))

	frames := readFrames(t, reader, 2)
	assert.Equal(t, "event: log\ndata: {\"message\":\"Crawling page: 1\"}\n", frames[0])
	assert.Equal(t, "event: log\ndata: {\"message\":\"Product ID: 42\"}\n", frames[1])

	// Closing the broadcaster ends the stream.
	require.NoError(t, broadcast.Close(context.Background()))
	_, err = reader.ReadString('\n')
	require.Error(t, err)
}

func TestStreamEventsDetachesOnDisconnect(t *testing.T) {
	t.Parallel()

	broadcast := sinks.NewBroadcastSink()
	server := NewServer(newFakeRunner(t), broadcast, nil, config.Config{}, zap.NewNop())
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return broadcast.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	_ = resp.Body.Close()
	require.Eventually(t, func() bool { return broadcast.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWriteSSE(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	require.NoError(t, writeSSE(&b, "log", []byte(`{"message":"x"}`)))
	assert.Equal(t, "event: log\ndata: {\"message\":\"x\"}\n\n", b.String())
}

// readFrames collects n SSE frames, skipping comment lines.
func readFrames(t *testing.T, r *bufio.Reader, n int) []string {
	t.Helper()
	var (
		frames  []string
		current strings.Builder
	)
	for len(frames) < n {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, ":"):
			continue
		case line == "\n":
			if current.Len() > 0 {
				frames = append(frames, current.String())
				current.Reset()
			}
		default:
			current.WriteString(line)
		}
	}
	return frames
}
