package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

const (
	defaultKeepAlive = 15 * time.Second
	logEvent         = "log"
)

type logPayload struct {
	Message string `json:"message"`
}

// streamEvents relays hub events to one SSE client until it disconnects or
// the broadcaster shuts down.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, cancel := s.events.Subscribe(s.streamBuffer)
	defer cancel()
	metrics.StreamOpened()
	defer metrics.StreamClosed()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(logPayload{Message: evt.Message})
			if err != nil {
				s.logger.Warn("encode stream event failed", zap.Error(err))
				continue
			}
			if err := writeSSE(w, logEvent, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSE writes one frame. data must not contain newlines; json.Marshal
// output never does.
func writeSSE(w io.Writer, event string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	return nil
}
