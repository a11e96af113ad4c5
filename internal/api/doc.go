// Package api hosts the HTTP server, middleware, and handlers. Routes:
//   - GET /parse?url= runs the parse pipeline for one checkout URL.
//   - GET /health reports uptime, browser state and cache statistics.
//   - POST /cache/clear flushes the result cache (API key when auth is on).
//   - GET /metrics for Prometheus scraping.
package api
