// Package sessionkit is a backend SDK for session management against a remote
// stateful auth core: Ed25519-signed access tokens verified locally against a
// cached signing-key set, rotating refresh tokens with core-side theft
// detection, session claims with max-age validation, and verification-gated
// account linking.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// sessionkit is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (SessionContainer, MetricsSnapshot, etc.). All internal
// coordination (flow orchestration, the core HTTP querier, audit dispatch)
// lives under internal/ and is never exported. The claims, jwks, token, and
// identity packages are public building blocks usable without an Engine.
//
// # What this package must NOT do
//
//   - Re-implement core semantics: rotation chains, session storage, and
//     revocation are authoritative on the core; the SDK interprets verdicts.
//   - Expose the core querier or wire formats in its public API.
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build; the first network call is lazy).
//
// # Performance contract
//
// GetSession is the hot path. With a warm key cache it completes without any
// network round-trip; the remote fallback runs only when a token's signing
// key is unknown even after a forced refetch. Refresh and session-data
// operations are allowed one core round-trip per call.
package sessionkit
