// Package progress carries crawl-run progress messages from the pipeline to
// whoever is watching. Emitters never block: a Hub buffers events, batches them
// on a background goroutine and fans each batch out to pluggable sinks such as
// live SSE observers, Redis, Pub/Sub, Prometheus or the run history store.
package progress
