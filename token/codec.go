package token

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// CurrentVersion is the access token payload version this SDK issues and
// fully understands. Older versions are rejected at parse time.
const CurrentVersion = 3

// Reserved payload keys. Claim fragments and custom payload entries may use
// any other key.
const (
	keyVersion       = "ver"
	keySessionHandle = "sessionHandle"
	keySub           = "sub"
	keyRecipeSub     = "rsub"
	keyRefreshHash   = "rt1"
	keyParentHash    = "prt1"
	keyAntiCSRF      = "antiCsrfToken"
	keyExpiry        = "exp"
	keyIssuedAt      = "iat"
)

//
// AccessPayload instances are immutable once issued: claim updates and
// refreshes always produce a new payload, never mutate one in place.
type AccessPayload struct {
	Version                 int
	SessionHandle           string
	UserID                  string
	RecipeUserID            string
	RefreshTokenHash1       string
	ParentRefreshTokenHash1 string
	AntiCSRFToken           string
	ExpiryTime              int64 // whole seconds since epoch
	TimeCreated             int64 // whole seconds since epoch
	Claims                  map[string]any
}

// Header carries the decoded JOSE header of a parsed token.
type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	KID string `json:"kid"`
}

// ParsedToken is the result of Parse: decoded header and payload plus the
// raw segments needed for later signature verification.
type ParsedToken struct {
	Header    Header
	Payload   AccessPayload
	signature []byte
	signInput string
}

//
// ParseError is returned for any structurally invalid token so callers can
// distinguish malformed input from signature or expiry failures.
type ParseError struct {
	Reason string
	cause  error
}

func (e *ParseError) Error() string {
	if e.cause != nil {
		return "token parse failed: " + e.Reason + ": " + e.cause.Error()
	}
	return "token parse failed: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.cause }

func parseErr(reason string, cause error) error {
	return &ParseError{Reason: reason, cause: cause}
}

// Parse splits and decodes a token string without verifying its signature.
// Garbage input yields a *ParseError, never a panic.
func Parse(tokenString string) (*ParsedToken, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, parseErr("expected 3 dot-separated segments", nil)
	}

	headerRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, parseErr("header segment is not base64url", err)
	}

	var header Header
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return nil, parseErr("header is not a JSON object", err)
	}

	payloadRaw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, parseErr("payload segment is not base64url", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(payloadRaw, &fields); err != nil {
		return nil, parseErr("payload is not a JSON object", err)
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, parseErr("signature segment is not base64url", err)
	}

	payload, err := payloadFromFields(fields)
	if err != nil {
		return nil, err
	}

	return &ParsedToken{
		Header:    header,
		Payload:   payload,
		signature: signature,
		signInput: parts[0] + "." + parts[1],
	}, nil
}

func payloadFromFields(fields map[string]any) (AccessPayload, error) {
	var p AccessPayload

	version, ok := numberField(fields, keyVersion)
	if !ok {
		return p, parseErr("missing payload version", nil)
	}
	p.Version = int(version)
	if p.Version < CurrentVersion {
		return p, parseErr(fmt.Sprintf("unsupported payload version %d", p.Version), nil)
	}

	p.SessionHandle, _ = fields[keySessionHandle].(string)
	if p.SessionHandle == "" {
		return p, parseErr("missing session handle", nil)
	}
	p.UserID, _ = fields[keySub].(string)
	if p.UserID == "" {
		return p, parseErr("missing subject", nil)
	}
	p.RecipeUserID, _ = fields[keyRecipeSub].(string)
	if p.RecipeUserID == "" {
		p.RecipeUserID = p.UserID
	}
	p.RefreshTokenHash1, _ = fields[keyRefreshHash].(string)
	if p.RefreshTokenHash1 == "" {
		return p, parseErr("missing refresh token hash", nil)
	}
	p.ParentRefreshTokenHash1, _ = fields[keyParentHash].(string)
	p.AntiCSRFToken, _ = fields[keyAntiCSRF].(string)

	exp, ok := numberField(fields, keyExpiry)
	if !ok {
		return p, parseErr("missing expiry", nil)
	}
	p.ExpiryTime = int64(exp)

	iat, ok := numberField(fields, keyIssuedAt)
	if !ok {
		return p, parseErr("missing issued-at", nil)
	}
	p.TimeCreated = int64(iat)

	p.Claims = map[string]any{}
	for k, v := range fields {
		switch k {
		case keyVersion, keySessionHandle, keySub, keyRecipeSub,
			keyRefreshHash, keyParentHash, keyAntiCSRF, keyExpiry, keyIssuedAt:
		default:
			p.Claims[k] = v
		}
	}

	return p, nil
}

func numberField(fields map[string]any, key string) (float64, bool) {
	switch v := fields[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// VerifySignature reports whether the parsed token was signed by the private
// counterpart of pub. It performs no expiry or claim checks.
func VerifySignature(parsed *ParsedToken, pub ed25519.PublicKey) bool {
	if parsed == nil || len(parsed.signature) == 0 || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return jwt.SigningMethodEdDSA.Verify(parsed.signInput, parsed.signature, pub) == nil
}

// Encode signs payload with priv and returns the compact token string.
// Output is deterministic for identical payload, key, and kid: Ed25519 is a
// deterministic scheme and claim maps serialize with sorted keys.
func Encode(payload AccessPayload, priv ed25519.PrivateKey, kid string) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("invalid ed25519 private key size %d", len(priv))
	}
	if payload.SessionHandle == "" || payload.UserID == "" {
		return "", fmt.Errorf("payload missing session handle or subject")
	}

	claims := jwt.MapClaims{
		keyVersion:       CurrentVersion,
		keySessionHandle: payload.SessionHandle,
		keySub:           payload.UserID,
		keyRecipeSub:     payload.RecipeUserID,
		keyRefreshHash:   payload.RefreshTokenHash1,
		keyExpiry:        payload.ExpiryTime,
		keyIssuedAt:      payload.TimeCreated,
	}
	if payload.ParentRefreshTokenHash1 != "" {
		claims[keyParentHash] = payload.ParentRefreshTokenHash1
	}
	if payload.AntiCSRFToken != "" {
		claims[keyAntiCSRF] = payload.AntiCSRFToken
	}
	for k, v := range payload.Claims {
		if _, reserved := claims[k]; reserved {
			return "", fmt.Errorf("claim key %q collides with a reserved payload field", k)
		}
		claims[k] = v
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	return tok.SignedString(priv)
}

// Hash1 returns the hex SHA-256 digest of an opaque refresh token string.
// The digest is what access tokens record as rt1/prt1.
func Hash1(refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return hex.EncodeToString(sum[:])
}
