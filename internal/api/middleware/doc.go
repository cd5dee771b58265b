// Package middleware provides the gin middleware shared by the HTTP API:
// loopback-scoped CORS, per-client rate limiting, request ids, and
// structured request logging.
package middleware
