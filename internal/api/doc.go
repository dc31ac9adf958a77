// Package api hosts the HTTP server, middleware, and handlers for operator
// access. Notable routes:
//   - POST /crawl/{source} runs one catalog source synchronously.
//   - GET /events streams progress messages as Server-Sent Events.
//   - GET / serves the embedded control page.
//   - GET /api/sources and /api/runs[/{run_id}] expose the catalog and run
//     history via store.RunRepository.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus.
package api
