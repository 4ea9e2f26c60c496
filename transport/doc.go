// Package transport obtains signed TDX quotes from inside a trust domain.
//
// Quote acquisition is a two-step exchange: a TDREPORT is requested from the
// TDX guest device, then sent raw over a vsock channel to the host-side Quote
// Generation Service, which responds with the signed quote. The vsock channel
// is point-to-point and trust-domain local; it is not reachable from guest
// networking.
//
// The transport performs exactly one attempt, bounded by an explicit timeout.
// Callers that need resilience wrap it in their own retry policy so that
// timeout semantics stay predictable for fail-closed callers.
package transport
