// Package jwks caches the signing keys published by the auth core.
//
// One Cache instance is shared process-wide across every concurrent
// verification call. Within the cache window repeated reads cost zero
// network calls; on expiry or an unknown key id exactly one fetch is in
// flight at a time and concurrent callers wait on it. Fetches iterate the
// configured replica hosts in order, treating transport errors and
// malformed responses alike as "try the next replica".
package jwks
