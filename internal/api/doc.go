// Package api hosts the operator HTTP server that runs beside a crawl.
// Routes:
//   - GET /healthz and /readyz for probes; readyz pings every registered
//     Checker (the character store, for instance).
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/summary for the live outcome counters of the current run.
//   - GET /v1/runs and /v1/runs/{runID} for persisted run history, when a
//     store.RunReader is configured.
package api
