package flows

import (
	"context"

	"github.com/sessionkit/sessionkit/internal/core"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureUnauthorized
	RefreshFailureTheft
	RefreshFailureTransport
)

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	RemoteRefresh  func(ctx context.Context, refreshToken, antiCSRFToken string, enableAntiCSRF bool) (*core.SessionResponse, error)
	EnableAntiCSRF bool
	Warn           func(string, ...any)
}

// RefreshResult carries either the issued token pair or failure metadata.
// On theft the core has already revoked the whole session handle; TheftRef
// identifies it so the caller can clear client-side state.
type RefreshResult struct {
	Failure       RefreshFailureKind
	Err           error
	AccessToken   core.TokenInfo
	RefreshToken  core.TokenInfo
	AntiCSRFToken string
	Session       core.SessionRef
	TheftRef      core.SessionRef
}

// RunRefresh exchanges a refresh token against the core. The SDK does not
// serialize concurrent refreshes for one session itself; the core's
// rotation chain is authoritative and reuse of a rotated-past token is
// interpreted as theft.
func RunRefresh(ctx context.Context, refreshToken, antiCSRFToken string, deps RefreshDeps) RefreshResult {
	resp, err := deps.RemoteRefresh(ctx, refreshToken, antiCSRFToken, deps.EnableAntiCSRF)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureTransport, Err: err}
	}

	switch resp.Status {
	case core.StatusOK:
		return RefreshResult{
			AccessToken:   resp.AccessToken,
			RefreshToken:  resp.RefreshToken,
			AntiCSRFToken: resp.AntiCSRFToken,
			Session:       resp.Session,
		}
	case core.StatusTokenTheftDetected:
		return RefreshResult{Failure: RefreshFailureTheft, TheftRef: resp.Session}
	case core.StatusUnauthorised:
		return RefreshResult{Failure: RefreshFailureUnauthorized}
	default:
		if deps.Warn != nil {
			deps.Warn("sessionkit: unexpected core refresh status %q", resp.Status)
		}
		return RefreshResult{Failure: RefreshFailureUnauthorized}
	}
}
