// Package main hosts the catalog crawler entrypoint.
//
// Architecture overview:
//   - Catalog: internal/catalog holds one schema per source (endpoint templates, identifier discovery, export
//     columns and normalization rules). The built-in catalog covers tiki and phongvu; catalog.path swaps in a file.
//   - Pipeline: crawler.Pipeline runs discovery, detail fetches, normalization and CSV export for one source per
//     run. Fetches go through the Colly fetcher, which decodes gzip and brotli bodies. Artifacts land in the
//     configured BlobStore (local/memory/GCS/SFTP) and are overwritten on every run.
//   - Progress: every human-readable step becomes a progress.Event. The Hub batches events to sinks: zap logs,
//     Prometheus counters, run history (memory or Postgres), the live broadcast behind GET /events, and optional
//     Redis and Pub/Sub publishers.
//   - HTTP API: internal/api exposes POST /crawl/{source} (synchronous, optional API key), the SSE stream, run
//     history under /api/runs, the source list, probes, /metrics and a small trigger page at /.
//
// Operational notes:
//   - Concurrency model: runs are synchronous inside the request that triggered them. Two runs of the same source
//     race on the same artifact names; the last writer wins.
//   - Observability: zap logs carry run IDs and sources; progress sinks are fed asynchronously and never block a
//     run. Slow SSE clients lose events rather than stalling others.
//
// Quick checklist:
//   - Configure env vars: CATALOG_SERVER_PORT, CATALOG_STORAGE_BACKEND, CATALOG_STORAGE_BASE_DIR,
//     CATALOG_AUTH_ENABLED/CATALOG_AUTH_API_KEY, CATALOG_DB_DSN, CATALOG_REDIS_ADDR, CATALOG_PUBSUB_PROJECT_ID and
//     CATALOG_PUBSUB_TOPIC_NAME. A .env file in the working directory is loaded first.
//   - Serve: go run ./cmd/catalogcrawler -config config.yaml
//   - One-shot: go run ./cmd/catalogcrawler -run tiki
package main
