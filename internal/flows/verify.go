package flows

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/sessionkit/sessionkit/claims"
	"github.com/sessionkit/sessionkit/internal/core"
	"github.com/sessionkit/sessionkit/jwks"
	"github.com/sessionkit/sessionkit/token"
)

// VerifyFailureKind classifies verification failures for root-level mapping.
type VerifyFailureKind int

const (
	VerifyFailureNone VerifyFailureKind = iota
	VerifyFailureMalformed
	VerifyFailureSignature
	VerifyFailureExpired
	VerifyFailureStaleKey
	VerifyFailureAntiCSRF
	VerifyFailureClaims
	VerifyFailureUnauthorized
	VerifyFailureTransport
)

// ClaimFailure records the first failing validator and its reason.
type ClaimFailure struct {
	ValidatorID string
	Reason      map[string]any
}

// VerifyOptions carries per-call verification intent. A non-nil
// AntiCSRFCheck always wins over the session default.
type VerifyOptions struct {
	AntiCSRFToken string
	AntiCSRFCheck *bool
	Validators    []claims.Validator
	UserContext   map[string]any
}

// VerifyDeps captures verification flow dependencies.
type VerifyDeps struct {
	Parse            func(string) (*token.ParsedToken, error)
	KeyByID          func(ctx context.Context, kid string) (jwks.Key, error)
	VerifySignature  func(*token.ParsedToken, jwks.Key) bool
	RemoteVerify     func(ctx context.Context, accessToken, antiCSRFToken string, doAntiCSRFCheck bool) (*core.VerifyResponse, error)
	Now              func() time.Time
	AntiCSRFViaToken bool
	Warn             func(string, ...any)
}

// VerifyResult carries either the verified payload or failure metadata.
// TryRefresh marks failures a client can recover from by refreshing, as
// opposed to the session handle being gone.
type VerifyResult struct {
	Failure        VerifyFailureKind
	Err            error
	TryRefresh     bool
	Payload        token.AccessPayload
	ClaimFailure   *ClaimFailure
	RefetchClaims  []string
	RemoteVerified bool
}

// RunVerify executes the verification state machine: parse, key lookup,
// signature, expiry, anti-CSRF, claim validation. The local path performs
// no network I/O; the remote fallback runs only when the token's signing
// key is unknown even after a cache refetch.
func RunVerify(ctx context.Context, accessToken string, opts VerifyOptions, deps VerifyDeps) VerifyResult {
	parsed, err := deps.Parse(accessToken)
	if err != nil {
		return VerifyResult{Failure: VerifyFailureMalformed, Err: err, TryRefresh: true}
	}

	result := VerifyResult{Payload: parsed.Payload}

	key, err := deps.KeyByID(ctx, parsed.Header.KID)
	switch {
	case err == nil:
		if !deps.VerifySignature(parsed, key) {
			result.Failure = VerifyFailureSignature
			result.TryRefresh = true
			return result
		}
	case errors.Is(err, jwks.ErrKeyNotFound):
		// key rotated past the cache's view; the core has the final word
		remote := runRemoteVerify(ctx, accessToken, opts, deps)
		if remote.Failure != VerifyFailureNone {
			remote.Payload = parsed.Payload
			return remote
		}
		result.RemoteVerified = true
	default:
		result.Failure = VerifyFailureTransport
		result.Err = err
		return result
	}

	if parsed.Payload.ExpiryTime <= deps.Now().Unix() {
		result.Failure = VerifyFailureExpired
		result.TryRefresh = true
		return result
	}

	if antiCSRFRequired(opts, deps) {
		if !antiCSRFMatches(parsed.Payload.AntiCSRFToken, opts.AntiCSRFToken) {
			result.Failure = VerifyFailureAntiCSRF
			result.TryRefresh = true
			return result
		}
	}

	for _, v := range opts.Validators {
		if v.ShouldRefetch != nil && v.ShouldRefetch(parsed.Payload.Claims, opts.UserContext) {
			result.RefetchClaims = append(result.RefetchClaims, v.ClaimKey)
		}
		if v.Validate == nil {
			continue
		}
		if outcome := v.Validate(parsed.Payload.Claims, opts.UserContext); !outcome.IsValid {
			result.Failure = VerifyFailureClaims
			result.ClaimFailure = &ClaimFailure{ValidatorID: v.ID, Reason: outcome.Reason}
			return result
		}
	}

	return result
}

func runRemoteVerify(ctx context.Context, accessToken string, opts VerifyOptions, deps VerifyDeps) VerifyResult {
	resp, err := deps.RemoteVerify(ctx, accessToken, opts.AntiCSRFToken, antiCSRFRequired(opts, deps))
	if err != nil {
		return VerifyResult{Failure: VerifyFailureTransport, Err: err}
	}
	switch resp.Status {
	case core.StatusOK:
		return VerifyResult{}
	case core.StatusTryRefreshToken:
		return VerifyResult{Failure: VerifyFailureStaleKey, TryRefresh: true}
	case core.StatusUnauthorised:
		return VerifyResult{Failure: VerifyFailureUnauthorized}
	default:
		if deps.Warn != nil {
			deps.Warn("sessionkit: unexpected core verify status %q", resp.Status)
		}
		return VerifyResult{Failure: VerifyFailureUnauthorized}
	}
}

// antiCSRFRequired: the check runs only when the session's anti-CSRF mode
// carries the token in the payload, and explicit caller intent always wins.
func antiCSRFRequired(opts VerifyOptions, deps VerifyDeps) bool {
	if opts.AntiCSRFCheck != nil {
		return *opts.AntiCSRFCheck && deps.AntiCSRFViaToken
	}
	return deps.AntiCSRFViaToken
}

func antiCSRFMatches(expected, provided string) bool {
	if expected == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}
