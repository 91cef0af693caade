package sessionkit

import (
	"context"
	"time"
)

// AssertClaims runs validators against an already-verified session's
// payload, without any network round trip. The first failing validator
// rejects with KindInvalidClaims.
func (e *Engine) AssertClaims(ctx context.Context, session *SessionContainer, validators ...ClaimValidator) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if session == nil {
		return newSessionError(KindUnauthorised, "no session", nil)
	}

	userContext := userContextFromContext(ctx)
	for _, v := range validators {
		if v.Validate == nil {
			continue
		}
		if outcome := v.Validate(session.AccessTokenPayload, userContext); !outcome.IsValid {
			e.metricInc(MetricClaimValidationFailure)
			serr := newSessionError(KindInvalidClaims, "session claim validation failed", nil)
			serr.ClaimFailures = []ClaimValidationError{{ValidatorID: v.ID, Reason: outcome.Reason}}
			e.emitAudit(ctx, auditEventClaimRejected, false, session.UserID, session.Handle, serr, func() map[string]string {
				return map[string]string{"validator": v.ID}
			})
			return serr
		}
	}
	return nil
}

// FetchAndSetClaim re-runs a claim's fetcher against the session's user and
// merges the fresh fragment into the stored payload. A fetcher that reports
// no value leaves the payload untouched.
func (e *Engine) FetchAndSetClaim(ctx context.Context, sessionHandle string, claim SessionClaim) error {
	if e == nil || e.session == nil {
		return ErrEngineNotReady
	}
	info, err := e.session.GetSessionInformation(ctx, sessionHandle)
	if err != nil {
		return err
	}

	fragment, err := claim.Build(ctx, info.UserID, userContextFromContext(ctx))
	if err != nil {
		return err
	}
	if len(fragment) == 0 {
		return nil
	}
	return e.session.MergeIntoAccessTokenPayload(ctx, sessionHandle, fragment)
}

// SetClaimValue writes an explicit claim value with a fresh fetch time,
// bypassing the claim's fetcher.
func (e *Engine) SetClaimValue(ctx context.Context, sessionHandle string, claim SessionClaim, value any) error {
	if e == nil || e.session == nil {
		return ErrEngineNotReady
	}
	fragment := map[string]any{
		claim.Key(): map[string]any{
			"v": value,
			"t": time.Now().Unix(),
		},
	}
	return e.session.MergeIntoAccessTokenPayload(ctx, sessionHandle, fragment)
}

// GetClaimValue reads a claim's current value from the stored payload.
func (e *Engine) GetClaimValue(ctx context.Context, sessionHandle string, claim SessionClaim) (any, bool, error) {
	if e == nil || e.session == nil {
		return nil, false, ErrEngineNotReady
	}
	info, err := e.session.GetSessionInformation(ctx, sessionHandle)
	if err != nil {
		return nil, false, err
	}
	value, ok := claim.GetValueFromPayload(info.AccessTokenPayload)
	return value, ok, nil
}

// RemoveClaim deletes a claim's fragment from the stored payload. The
// core's merge treats a null value as a delete.
func (e *Engine) RemoveClaim(ctx context.Context, sessionHandle string, claim SessionClaim) error {
	if e == nil || e.session == nil {
		return ErrEngineNotReady
	}
	return e.session.MergeIntoAccessTokenPayload(ctx, sessionHandle, map[string]any{claim.Key(): nil})
}
