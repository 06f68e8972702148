// Package api hosts the HTTP front of the sentinel. Every request runs through the
// detection chain before it reaches its handler. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET and DELETE /v1/stats for operator statistics (API key protected when auth is on).
//   - Everything else is served by the content handler: a reverse proxy to the configured
//     upstream, or a placeholder page.
package api
