// Package token implements the access and refresh token codec used by sessionkit.
//
// Access tokens are EdDSA-signed JWTs whose payload carries the session
// handle, the rotation-chain hash of the current refresh token, the optional
// anti-CSRF token, and claim fragments. The codec separates parsing from
// verification: Parse never touches key material and never fails with an
// unhandled crash, so callers may inspect claims (for logging or routing)
// before deciding how to verify.
//
// Refresh tokens are opaque to this SDK. The only operation the SDK performs
// on one is Hash1, which produces the hex SHA-256 digest recorded in the
// matching access token.
package token
