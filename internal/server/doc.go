// Package server hosts the recipe API behind a single HTTP server.
//
// Every route shares one middleware chain: request ids, request logging,
// panic recovery, metrics, security headers, CORS and rate limiting. Health
// and metrics endpoints are served next to the API on the same mux.
package server
