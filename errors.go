package sessionkit

import "errors"

// ErrorKind is the wire-level error taxonomy adapters branch on. Kinds are
// contractual; messages are not.
type ErrorKind string

const (
	// KindTryRefreshToken: the current access token is unusable but the
	// session may still be alive; the client should call refresh.
	KindTryRefreshToken ErrorKind = "TRY_REFRESH_TOKEN"
	// KindUnauthorised: the session handle is gone or revoked; the client
	// must re-authenticate.
	KindUnauthorised ErrorKind = "UNAUTHORISED"
	// KindTokenTheftDetected: refresh token reuse; the session was forcibly
	// revoked and the client must clear tokens and re-authenticate.
	KindTokenTheftDetected ErrorKind = "TOKEN_THEFT_DETECTED"
	// KindInvalidClaims: the session is valid but a claim validator failed.
	KindInvalidClaims ErrorKind = "INVALID_CLAIMS"
	// KindGeneralError: a user-supplied callback returned a message to
	// surface to the end user.
	KindGeneralError ErrorKind = "GENERAL_ERROR"
)

// Sentinels for errors.Is. Every SessionError matches the sentinel of its
// kind; the last two are returned directly.
var (
	ErrTryRefreshToken    = errors.New("try refresh token")
	ErrUnauthorized       = errors.New("unauthorised")
	ErrTokenTheftDetected = errors.New("token theft detected")
	ErrInvalidClaims      = errors.New("invalid session claims")
	ErrGeneralError       = errors.New("general error")
	ErrSessionNotFound    = errors.New("session not found")
	ErrEngineNotReady     = errors.New("engine not initialized")
)

func sentinelForKind(kind ErrorKind) error {
	switch kind {
	case KindTryRefreshToken:
		return ErrTryRefreshToken
	case KindUnauthorised:
		return ErrUnauthorized
	case KindTokenTheftDetected:
		return ErrTokenTheftDetected
	case KindInvalidClaims:
		return ErrInvalidClaims
	case KindGeneralError:
		return ErrGeneralError
	default:
		return nil
	}
}

// ClaimValidationError is one failed claim validator with its structured
// reason, as produced by the claims package.
type ClaimValidationError struct {
	ValidatorID string
	Reason      map[string]any
}

// SessionError wraps an ErrorKind with the structured detail adapters need;
// errors.Is matches the sentinel of the same kind, so callers may branch
// either way.
type SessionError struct {
	Kind    ErrorKind
	Message string

	// ClaimFailures is set for KindInvalidClaims.
	ClaimFailures []ClaimValidationError

	// TheftUserID and TheftSessionHandle are set for KindTokenTheftDetected.
	TheftUserID        string
	TheftSessionHandle string

	cause error
}

func (e *SessionError) Error() string {
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	return string(e.Kind)
}

func (e *SessionError) Unwrap() error { return e.cause }

// Is matches the sentinel error of the same kind.
func (e *SessionError) Is(target error) bool {
	return target == sentinelForKind(e.Kind)
}

func newSessionError(kind ErrorKind, message string, cause error) *SessionError {
	return &SessionError{Kind: kind, Message: message, cause: cause}
}

// GetErrorKind extracts the ErrorKind from any error produced by the
// engine, or "" when the error carries no kind (transport and config
// failures).
func GetErrorKind(err error) ErrorKind {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
