// Package claims implements typed session claims embedded in access token
// payloads.
//
// A claim is a capability over two operations: Build produces the payload
// fragment for a user, GetValueFromPayload reads it back without fetching.
// The closed set of variants is PrimitiveClaim (scalar value plus last-fetch
// timestamp) and BooleanClaim (a PrimitiveClaim[bool] configured with
// boolean validators). Fragments always carry {"v": value, "t": seconds};
// validators judge staleness purely from "t" and a max age.
//
// Values that travel through an access token cross a JSON boundary, so
// numeric claims should be declared over float64 and structured claims over
// JSON-shaped types.
package claims
