// Package httpserver exposes quote generation to the admission side of the
// deployment.
//
// The server runs inside the trust domain and bridges HTTP callers to the
// vsock-only quote generation channel: GET /quote?nonce=... returns the
// base64-encoded signed quote for that nonce. Liveness, readiness and drain
// endpoints follow the usual operational conventions, and a separate metrics
// listener serves Prometheus counters.
package httpserver
