package sessionkit

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventSessionCreated      = "session_created"
	auditEventSessionVerified     = "session_verified"
	auditEventSessionRejected     = "session_rejected"
	auditEventSessionRefreshed    = "session_refreshed"
	auditEventRefreshRejected     = "refresh_rejected"
	auditEventTokenTheftDetected  = "token_theft_detected"
	auditEventSessionRevoked      = "session_revoked"
	auditEventAllSessionsRevoked  = "all_sessions_revoked"
	auditEventClaimRejected       = "claim_rejected"
	auditEventAccountLinked       = "account_linked"
	auditEventAccountLinkDeferred = "account_link_deferred"
	auditEventAccountLinkRejected = "account_link_rejected"
	auditEventPrimaryUserCreated  = "primary_user_created"
	auditEventEmailUpdated        = "email_updated"
)

// AuditErrorCode is the stable failure code recorded on audit events.
type AuditErrorCode string

const (
	auditErrTryRefresh      AuditErrorCode = "try_refresh_token"
	auditErrUnauthorized    AuditErrorCode = "unauthorised"
	auditErrTokenTheft      AuditErrorCode = "token_theft"
	auditErrInvalidClaims   AuditErrorCode = "invalid_claims"
	auditErrSessionNotFound AuditErrorCode = "session_not_found"
	auditErrGeneral         AuditErrorCode = "general_error"
	auditErrInternal        AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionHandle string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:     time.Now().UTC(),
		EventType:     eventType,
		UserID:        userID,
		SessionHandle: sessionHandle,
		IP:            clientIPFromContext(ctx),
		Success:       success,
		Metadata:      metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrTokenTheftDetected):
		return auditErrTokenTheft
	case errors.Is(err, ErrTryRefreshToken):
		return auditErrTryRefresh
	case errors.Is(err, ErrInvalidClaims):
		return auditErrInvalidClaims
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrGeneralError):
		return auditErrGeneral
	default:
		return auditErrInternal
	}
}
