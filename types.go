package sessionkit

import (
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/sessionkit/sessionkit/claims"
	internalaudit "github.com/sessionkit/sessionkit/internal/audit"
)

// Cookie and header names shared with framework adapters. These are wire
// contract: changing one breaks every deployed frontend.
const (
	CookieAccessToken  = "sAccessToken"
	CookieRefreshToken = "sRefreshToken"
	CookieFrontToken   = "sFrontToken"

	HeaderAccessToken  = "st-access-token"
	HeaderRefreshToken = "st-refresh-token"
	HeaderAntiCSRF     = "anti-csrf"
	HeaderFrontToken   = "front-token"
	HeaderAuthMode     = "st-auth-mode"
)

// CookieExpiryEpoch is the Expires value adapters set when clearing a
// session cookie.
const CookieExpiryEpoch = "Thu, 01 Jan 1970 00:00:00 GMT"

// TokenTransferMethod is how an adapter moves tokens to the client.
type TokenTransferMethod string

const (
	TransferMethodCookie TokenTransferMethod = "cookie"
	TransferMethodHeader TokenTransferMethod = "header"
	TransferMethodAny    TokenTransferMethod = "any"
)

// TokenInfo is one issued token with its lifetime, in whole seconds since
// epoch.
type TokenInfo struct {
	Token       string
	Expiry      int64
	CreatedTime int64
}

// SessionContainer is the live handle returned by session creation,
// verification, and refresh. Token fields are only populated by operations
// that issued or rotated tokens; a locally verified session carries the
// payload but no new tokens.
type SessionContainer struct {
	Handle       string
	UserID       string
	RecipeUserID string

	AccessTokenPayload map[string]any

	AccessToken   TokenInfo
	RefreshToken  TokenInfo
	AntiCSRFToken string
	FrontToken    string

	// TokensIssued reports whether this container carries fresh tokens the
	// adapter must write back to the client.
	TokensIssued bool
}

// SessionClaim is a claim definition whose fragment is built into new
// session payloads and read back out of verified ones.
type SessionClaim = claims.SessionClaim

// ClaimValidator rejects or accepts a session based on its claim fragments.
type ClaimValidator = claims.Validator

// CreateSessionRequest is the input for [Engine.CreateNewSession].
type CreateSessionRequest struct {
	RecipeUserID          string
	AccessTokenPayload    map[string]any
	SessionDataInDatabase map[string]any

	// Claims are built against the recipe user id and merged into the
	// payload before the core mints tokens.
	Claims []SessionClaim
}

// VerifySessionOptions carries per-call verification intent for
// [Engine.GetSession]. A nil options value uses session defaults.
type VerifySessionOptions struct {
	// AntiCSRFToken is the value of the anti-csrf request header, if any.
	AntiCSRFToken string

	// AntiCSRFCheck overrides the mode-derived decision when non-nil.
	// Explicit caller intent always wins.
	AntiCSRFCheck *bool

	// Validators run in order after signature and expiry checks. The first
	// failure rejects the session.
	Validators []ClaimValidator
}

// SessionInformation is the core-side state of one session handle, exposed
// by [Engine.GetSessionInformation].
type SessionInformation struct {
	SessionHandle      string
	UserID             string
	RecipeUserID       string
	AccessTokenPayload map[string]any
	SessionData        map[string]any
	Expiry             int64
	TimeCreated        int64
}

type frontTokenBody struct {
	UserID string         `json:"uid"`
	Expiry int64          `json:"ate"`
	Up     map[string]any `json:"up"`
}

// BuildFrontToken encodes the non-sensitive token mirror handed to browser
// frontends. It carries the user id, access token expiry, and payload, and
// is readable without any key.
func BuildFrontToken(userID string, accessTokenExpiry int64, payload map[string]any) string {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(frontTokenBody{
		UserID: userID,
		Expiry: accessTokenExpiry,
		Up:     payload,
	})
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// ParseFrontToken decodes a front token built by [BuildFrontToken].
func ParseFrontToken(frontToken string) (userID string, expiry int64, payload map[string]any, err error) {
	raw, err := base64.StdEncoding.DecodeString(frontToken)
	if err != nil {
		return "", 0, nil, err
	}
	var body frontTokenBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", 0, nil, err
	}
	return body.UserID, body.Expiry, body.Up, nil
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
