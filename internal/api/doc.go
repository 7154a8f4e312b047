// Package api hosts the optional status server for a running crawl. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for the run identity, lifecycle state and counters.
//   - GET /v1/run/stats for the counters alone.
package api
