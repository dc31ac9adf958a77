package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// PrometheusSink exports crawl progress metrics via Prometheus. It owns the
// collectors for runs started/completed/running plus per-source page, fetch
// and record counters.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	pages           *prometheus.CounterVec
	identifiers     *prometheus.CounterVec
	fetchRequests   *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	recordsExported *prometheus.CounterVec
	recordsSkipped  *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_runs_started_total",
			Help: "Total crawl runs started per source.",
		}, []string{"source"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_runs_completed_total",
			Help: "Total crawl runs completed partitioned by source and result.",
		}, []string{"source", "result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_runs_running",
			Help: "Current number of running crawl runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalog_run_runtime_seconds",
			Help:    "Wall time per completed crawl run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"source", "result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_listing_pages_total",
			Help: "Listing pages requested per source.",
		}, []string{"source"}),
		identifiers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_identifiers_total",
			Help: "Product identifiers discovered per source.",
		}, []string{"source"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_detail_fetches_total",
			Help: "Detail fetch completions partitioned by source and status class.",
		}, []string{"source", "status_class"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalog_detail_fetch_duration_seconds",
			Help:    "Detail fetch duration partitioned by source and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"source", "status_class"}),
		recordsExported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_records_exported_total",
			Help: "Rows written to export artifacts per source.",
		}, []string{"source"}),
		recordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_records_skipped_total",
			Help: "Documents the normalizer rejected per source.",
		}, []string{"source"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.pages,
		s.identifiers,
		s.fetchRequests,
		s.fetchDuration,
		s.recordsExported,
		s.recordsSkipped,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	source := sourceLabel(evt.Source)
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt, source)
	case progress.StagePage:
		s.pages.WithLabelValues(source).Inc()
	case progress.StageIdentifier:
		s.identifiers.WithLabelValues(source).Inc()
	case progress.StageFetchDone, progress.StageFetchFailed:
		s.handleFetchEvent(evt, source)
	case progress.StageRecordSkipped:
		s.recordsSkipped.WithLabelValues(source).Inc()
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event, source string) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(source).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
		return
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues(source, "success").Inc()
		s.observeRuntime(evt, source, "success")
		if evt.Count > 0 {
			s.recordsExported.WithLabelValues(source).Add(float64(evt.Count))
		}
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues(source, "error").Inc()
		s.observeRuntime(evt, source, "error")
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, source, label string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(source, label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event, source string) {
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetchRequests.WithLabelValues(source, statusClass).Inc()
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(source, statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func sourceLabel(source string) string {
	if source == "" {
		return "unknown"
	}
	return source
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
