package sessionkit

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/sessionkit/sessionkit/identity"
	"github.com/sessionkit/sessionkit/internal/core"
	"github.com/sessionkit/sessionkit/internal/flows"
	"github.com/sessionkit/sessionkit/jwks"
	"github.com/sessionkit/sessionkit/token"
)

// Engine is the session SDK's entry point. Engines are built with
// [Builder.Build], are safe for concurrent use, and hold no connection
// state beyond the auth core HTTP client.
type Engine struct {
	config        Config
	querier       *core.Querier
	keyCache      *jwks.Cache
	identityStore identity.Store
	linkingPolicy identity.LinkingPolicy
	audit         *auditDispatcher
	metrics       *Metrics

	session SessionImplementation
	linking LinkingImplementation
}

// Close flushes and stops the audit dispatcher. It is idempotent and safe
// on a nil engine.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatch buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) warnf(format string, args ...any) {
	log.Printf(format, args...)
}

func (e *Engine) antiCSRFViaToken() bool {
	return e.config.Session.AntiCSRF == AntiCSRFViaToken
}

/*
====================================
PUBLIC SESSION SURFACE
====================================
*/

// CreateNewSession asks the core to create a session for the given user
// and returns a container carrying the freshly issued token pair.
func (e *Engine) CreateNewSession(ctx context.Context, req CreateSessionRequest) (*SessionContainer, error) {
	if e == nil || e.session == nil {
		return nil, ErrEngineNotReady
	}
	return e.session.CreateNewSession(ctx, req)
}

// GetSession verifies an access token, locally when the signing key is
// cached and via the core otherwise, and runs any claim validators from
// opts. On success the returned container carries the decoded payload but
// no new tokens.
func (e *Engine) GetSession(ctx context.Context, accessToken string, opts *VerifySessionOptions) (*SessionContainer, error) {
	if e == nil || e.session == nil {
		return nil, ErrEngineNotReady
	}
	return e.session.GetSession(ctx, accessToken, opts)
}

// RefreshSession exchanges a refresh token for a new token pair. Reuse of
// a rotated-out token is reported as token theft and revokes the whole
// session.
func (e *Engine) RefreshSession(ctx context.Context, refreshToken, antiCSRFToken string) (*SessionContainer, error) {
	if e == nil || e.session == nil {
		return nil, ErrEngineNotReady
	}
	return e.session.RefreshSession(ctx, refreshToken, antiCSRFToken)
}

// GetSessionInformation fetches the stored server-side state of a session
// by its handle.
func (e *Engine) GetSessionInformation(ctx context.Context, sessionHandle string) (*SessionInformation, error) {
	if e == nil || e.session == nil {
		return nil, ErrEngineNotReady
	}
	return e.session.GetSessionInformation(ctx, sessionHandle)
}

// RevokeSession revokes one session. It reports false when the handle did
// not name a live session.
func (e *Engine) RevokeSession(ctx context.Context, sessionHandle string) (bool, error) {
	if e == nil || e.session == nil {
		return false, ErrEngineNotReady
	}
	return e.session.RevokeSession(ctx, sessionHandle)
}

// RevokeAllSessionsForUser revokes every session belonging to the user
// and returns the revoked handles.
func (e *Engine) RevokeAllSessionsForUser(ctx context.Context, userID string) ([]string, error) {
	if e == nil || e.session == nil {
		return nil, ErrEngineNotReady
	}
	return e.session.RevokeAllSessionsForUser(ctx, userID)
}

// GetAllSessionHandlesForUser lists the live session handles of a user.
func (e *Engine) GetAllSessionHandlesForUser(ctx context.Context, userID string) ([]string, error) {
	if e == nil || e.session == nil {
		return nil, ErrEngineNotReady
	}
	return e.session.GetAllSessionHandlesForUser(ctx, userID)
}

// UpdateSessionDataInDatabase replaces a session's server-side data blob.
func (e *Engine) UpdateSessionDataInDatabase(ctx context.Context, sessionHandle string, data map[string]any) error {
	if e == nil || e.session == nil {
		return ErrEngineNotReady
	}
	return e.session.UpdateSessionDataInDatabase(ctx, sessionHandle, data)
}

// MergeIntoAccessTokenPayload shallow-merges fragments into the session's
// stored token payload; a nil fragment value deletes the key. Tokens
// already in flight keep their old payload until the next refresh.
func (e *Engine) MergeIntoAccessTokenPayload(ctx context.Context, sessionHandle string, fragments map[string]any) error {
	if e == nil || e.session == nil {
		return ErrEngineNotReady
	}
	return e.session.MergeIntoAccessTokenPayload(ctx, sessionHandle, fragments)
}

/*
====================================
BASE SESSION IMPLEMENTATION
====================================
*/

// baseSessionImpl is the innermost session implementation; overrides wrap
// around it.
type baseSessionImpl struct {
	e *Engine
}

func (s baseSessionImpl) CreateNewSession(ctx context.Context, req CreateSessionRequest) (*SessionContainer, error) {
	e := s.e
	if req.RecipeUserID == "" {
		return nil, newSessionError(KindGeneralError, "recipe user id is required", nil)
	}

	payload := map[string]any{}
	for k, v := range req.AccessTokenPayload {
		payload[k] = v
	}
	userContext := userContextFromContext(ctx)
	for _, claim := range req.Claims {
		if claim == nil {
			continue
		}
		fragment, err := claim.Build(ctx, req.RecipeUserID, userContext)
		if err != nil {
			return nil, fmt.Errorf("build claim %q: %w", claim.Key(), err)
		}
		for k, v := range fragment {
			payload[k] = v
		}
	}

	resp, err := e.querier.CreateSession(ctx, core.CreateSessionRequest{
		RecipeUserID:       req.RecipeUserID,
		UserDataInJWT:      payload,
		UserDataInDatabase: req.SessionDataInDatabase,
		EnableAntiCSRF:     e.antiCSRFViaToken(),
	})
	if err != nil {
		return nil, err
	}
	if resp.Status != core.StatusOK {
		e.warnf("sessionkit: unexpected core create status %q", resp.Status)
		return nil, newSessionError(KindGeneralError, "session creation failed", nil)
	}

	container, err := e.containerFromTokens(resp)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventSessionCreated, true, container.UserID, container.Handle, nil, nil)
	return container, nil
}

func (s baseSessionImpl) GetSession(ctx context.Context, accessToken string, opts *VerifySessionOptions) (*SessionContainer, error) {
	e := s.e
	start := time.Now()
	defer func() {
		if e.metrics.LatencyEnabled() {
			e.metrics.Observe(MetricVerifyLatency, time.Since(start))
		}
	}()

	verifyOpts := flows.VerifyOptions{UserContext: userContextFromContext(ctx)}
	if opts != nil {
		verifyOpts.AntiCSRFToken = opts.AntiCSRFToken
		verifyOpts.AntiCSRFCheck = opts.AntiCSRFCheck
		verifyOpts.Validators = opts.Validators
	}

	result := flows.RunVerify(ctx, accessToken, verifyOpts, e.verifyDeps())
	if result.Failure == flows.VerifyFailureNone {
		if result.RemoteVerified {
			e.metricInc(MetricVerifyRemote)
		} else {
			e.metricInc(MetricVerifyLocal)
		}
		e.metricInc(MetricVerifySuccess)

		container := &SessionContainer{
			Handle:             result.Payload.SessionHandle,
			UserID:             result.Payload.UserID,
			RecipeUserID:       result.Payload.RecipeUserID,
			AccessTokenPayload: result.Payload.Claims,
			FrontToken:         e.frontToken(result.Payload.UserID, result.Payload.ExpiryTime, result.Payload.Claims),
		}
		e.emitAudit(ctx, auditEventSessionVerified, true, container.UserID, container.Handle, nil, nil)
		return container, nil
	}

	err := e.verifyFailureError(result)
	e.metricInc(MetricVerifyFailure)
	switch result.Failure {
	case flows.VerifyFailureExpired:
		e.metricInc(MetricVerifyExpired)
	case flows.VerifyFailureAntiCSRF:
		e.metricInc(MetricAntiCSRFFailure)
	case flows.VerifyFailureClaims:
		e.metricInc(MetricClaimValidationFailure)
		e.emitAudit(ctx, auditEventClaimRejected, false, result.Payload.UserID, result.Payload.SessionHandle, err, func() map[string]string {
			if result.ClaimFailure == nil {
				return nil
			}
			return map[string]string{"validator": result.ClaimFailure.ValidatorID}
		})
		return nil, err
	}

	e.emitAudit(ctx, auditEventSessionRejected, false, result.Payload.UserID, result.Payload.SessionHandle, err, nil)
	return nil, err
}

func (s baseSessionImpl) RefreshSession(ctx context.Context, refreshToken, antiCSRFToken string) (*SessionContainer, error) {
	e := s.e
	start := time.Now()
	defer func() {
		if e.metrics.LatencyEnabled() {
			e.metrics.Observe(MetricRefreshLatency, time.Since(start))
		}
	}()

	deps := flows.RefreshDeps{
		RemoteRefresh: func(ctx context.Context, refreshToken, antiCSRFToken string, enableAntiCSRF bool) (*core.SessionResponse, error) {
			return e.querier.RefreshSession(ctx, core.RefreshRequest{
				RefreshToken:   refreshToken,
				AntiCSRFToken:  antiCSRFToken,
				EnableAntiCSRF: enableAntiCSRF,
			})
		},
		EnableAntiCSRF: e.antiCSRFViaToken(),
		Warn:           e.warnf,
	}

	result := flows.RunRefresh(ctx, refreshToken, antiCSRFToken, deps)
	switch result.Failure {
	case flows.RefreshFailureNone:
		container, err := e.containerFromTokens(&core.SessionResponse{
			Status:        core.StatusOK,
			AccessToken:   result.AccessToken,
			RefreshToken:  result.RefreshToken,
			AntiCSRFToken: result.AntiCSRFToken,
			Session:       result.Session,
		})
		if err != nil {
			return nil, err
		}
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventSessionRefreshed, true, container.UserID, container.Handle, nil, nil)
		return container, nil

	case flows.RefreshFailureTheft:
		e.metricInc(MetricTheftDetected)
		e.metricInc(MetricRefreshFailure)
		serr := &SessionError{
			Kind:               KindTokenTheftDetected,
			Message:            "refresh token reuse detected",
			TheftUserID:        result.TheftRef.UserID,
			TheftSessionHandle: result.TheftRef.Handle,
		}
		e.emitAudit(ctx, auditEventTokenTheftDetected, false, result.TheftRef.UserID, result.TheftRef.Handle, serr, nil)
		return nil, serr

	case flows.RefreshFailureUnauthorized:
		e.metricInc(MetricRefreshFailure)
		serr := newSessionError(KindUnauthorised, "refresh token is invalid or the session was revoked", nil)
		e.emitAudit(ctx, auditEventRefreshRejected, false, "", "", serr, nil)
		return nil, serr

	default:
		e.metricInc(MetricRefreshFailure)
		return nil, result.Err
	}
}

func (s baseSessionImpl) GetSessionInformation(ctx context.Context, sessionHandle string) (*SessionInformation, error) {
	e := s.e
	info, err := e.querier.GetSessionInformation(ctx, sessionHandle)
	if err != nil {
		return nil, err
	}
	if info.Status != core.StatusOK {
		return nil, newSessionError(KindUnauthorised, "session does not exist", ErrSessionNotFound)
	}
	return &SessionInformation{
		SessionHandle:      info.SessionHandle,
		UserID:             info.UserID,
		RecipeUserID:       info.RecipeUserID,
		AccessTokenPayload: info.UserDataInJWT,
		SessionData:        info.UserDataInDatabase,
		Expiry:             info.Expiry,
		TimeCreated:        info.TimeCreated,
	}, nil
}

func (s baseSessionImpl) RevokeSession(ctx context.Context, sessionHandle string) (bool, error) {
	e := s.e
	revoked, err := e.querier.RevokeSessions(ctx, []string{sessionHandle})
	if err != nil {
		return false, err
	}
	if len(revoked) == 0 {
		return false, nil
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, "", sessionHandle, nil, nil)
	return true, nil
}

func (s baseSessionImpl) RevokeAllSessionsForUser(ctx context.Context, userID string) ([]string, error) {
	e := s.e
	handles, err := e.querier.GetSessionHandlesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(handles) == 0 {
		return nil, nil
	}
	revoked, err := e.querier.RevokeSessions(ctx, handles)
	if err != nil {
		return nil, err
	}
	for range revoked {
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, auditEventAllSessionsRevoked, true, userID, "", nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(revoked))}
	})
	return revoked, nil
}

func (s baseSessionImpl) GetAllSessionHandlesForUser(ctx context.Context, userID string) ([]string, error) {
	return s.e.querier.GetSessionHandlesForUser(ctx, userID)
}

func (s baseSessionImpl) UpdateSessionDataInDatabase(ctx context.Context, sessionHandle string, data map[string]any) error {
	status, err := s.e.querier.UpdateSessionData(ctx, sessionHandle, data)
	if err != nil {
		return err
	}
	if status != core.StatusOK {
		return newSessionError(KindUnauthorised, "session does not exist", ErrSessionNotFound)
	}
	return nil
}

func (s baseSessionImpl) MergeIntoAccessTokenPayload(ctx context.Context, sessionHandle string, fragments map[string]any) error {
	status, err := s.e.querier.MergeIntoPayload(ctx, sessionHandle, fragments)
	if err != nil {
		return err
	}
	if status != core.StatusOK {
		return newSessionError(KindUnauthorised, "session does not exist", ErrSessionNotFound)
	}
	return nil
}

/*
====================================
SHARED HELPERS
====================================
*/

func (e *Engine) verifyDeps() flows.VerifyDeps {
	return flows.VerifyDeps{
		Parse: token.Parse,
		KeyByID: func(ctx context.Context, kid string) (jwks.Key, error) {
			return e.keyCache.GetKeyByID(ctx, kid)
		},
		VerifySignature: func(parsed *token.ParsedToken, key jwks.Key) bool {
			return token.VerifySignature(parsed, key.PublicKey)
		},
		RemoteVerify: func(ctx context.Context, accessToken, antiCSRFToken string, doAntiCSRFCheck bool) (*core.VerifyResponse, error) {
			return e.querier.VerifySession(ctx, core.VerifyRequest{
				AccessToken:     accessToken,
				AntiCSRFToken:   antiCSRFToken,
				DoAntiCSRFCheck: doAntiCSRFCheck,
				EnableAntiCSRF:  e.antiCSRFViaToken(),
			})
		},
		Now:              time.Now,
		AntiCSRFViaToken: e.antiCSRFViaToken(),
		Warn:             e.warnf,
	}
}

// verifyFailureError maps a verification failure onto the error taxonomy.
// Recoverable failures (bad signature, expiry, anti-CSRF, stale key) ask
// the client to refresh; a revoked handle does not.
func (e *Engine) verifyFailureError(result flows.VerifyResult) error {
	switch result.Failure {
	case flows.VerifyFailureMalformed:
		return newSessionError(KindTryRefreshToken, "access token is malformed", result.Err)
	case flows.VerifyFailureSignature:
		return newSessionError(KindTryRefreshToken, "access token signature is invalid", nil)
	case flows.VerifyFailureExpired:
		return newSessionError(KindTryRefreshToken, "access token expired", nil)
	case flows.VerifyFailureStaleKey:
		return newSessionError(KindTryRefreshToken, "access token was signed with a retired key", nil)
	case flows.VerifyFailureAntiCSRF:
		return newSessionError(KindTryRefreshToken, "anti-csrf check failed", nil)
	case flows.VerifyFailureClaims:
		serr := newSessionError(KindInvalidClaims, "session claim validation failed", nil)
		if result.ClaimFailure != nil {
			serr.ClaimFailures = []ClaimValidationError{{
				ValidatorID: result.ClaimFailure.ValidatorID,
				Reason:      result.ClaimFailure.Reason,
			}}
		}
		return serr
	case flows.VerifyFailureUnauthorized:
		return newSessionError(KindUnauthorised, "session does not exist or was revoked", nil)
	default:
		return result.Err
	}
}

// containerFromTokens assembles a SessionContainer from a token-issuing
// core response, decoding the new access token for its payload.
func (e *Engine) containerFromTokens(resp *core.SessionResponse) (*SessionContainer, error) {
	parsed, err := token.Parse(resp.AccessToken.Token)
	if err != nil {
		return nil, fmt.Errorf("core issued an undecodable access token: %w", err)
	}

	return &SessionContainer{
		Handle:             resp.Session.Handle,
		UserID:             resp.Session.UserID,
		RecipeUserID:       resp.Session.RecipeUserID,
		AccessTokenPayload: parsed.Payload.Claims,
		AccessToken: TokenInfo{
			Token:       resp.AccessToken.Token,
			Expiry:      resp.AccessToken.Expiry,
			CreatedTime: resp.AccessToken.CreatedTime,
		},
		RefreshToken: TokenInfo{
			Token:       resp.RefreshToken.Token,
			Expiry:      resp.RefreshToken.Expiry,
			CreatedTime: resp.RefreshToken.CreatedTime,
		},
		AntiCSRFToken: resp.AntiCSRFToken,
		FrontToken:    e.frontToken(resp.Session.UserID, parsed.Payload.ExpiryTime, parsed.Payload.Claims),
		TokensIssued:  true,
	}, nil
}

func (e *Engine) frontToken(userID string, expiry int64, payload map[string]any) string {
	if !e.config.Session.ExposeAccessTokenToFrontend {
		payload = map[string]any{}
	}
	return BuildFrontToken(userID, expiry, payload)
}
