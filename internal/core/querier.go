// Package core is the HTTP client for the remote auth core. The SDK never
// implements core semantics itself; it interprets the core's typed
// responses. Transport failures fall over across replica hosts in order and
// surface as ErrCoreUnavailable only after every host has been tried.
package core

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sessionkit/sessionkit/jwks"
)

// Core response status strings. These are the wire-level contract; the root
// package maps them onto error kinds.
const (
	StatusOK                 = "OK"
	StatusUnauthorised       = "UNAUTHORISED"
	StatusTryRefreshToken    = "TRY_REFRESH_TOKEN"
	StatusTokenTheftDetected = "TOKEN_THEFT_DETECTED"
)

var (
	// ErrCoreUnavailable is returned once every replica host has failed.
	ErrCoreUnavailable = errors.New("core: all hosts unavailable")
	// ErrMalformedResponse marks a response body the SDK cannot interpret.
	ErrMalformedResponse = errors.New("core: malformed response")
)

// Querier defines the HTTP surface of the auth core consumed by sessionkit.
type Querier struct {
	hosts  []string
	apiKey string
	client *http.Client
}

// connectionURI lists one or more replica base URIs separated by semicolons.
func NewQuerier(connectionURI, apiKey string, client *http.Client) (*Querier, error) {
	var hosts []string
	for _, raw := range strings.Split(connectionURI, ";") {
		host := strings.TrimRight(strings.TrimSpace(raw), "/")
		if host == "" {
			continue
		}
		if _, err := url.Parse(host); err != nil {
			return nil, fmt.Errorf("core: invalid connection uri %q: %w", host, err)
		}
		hosts = append(hosts, host)
	}
	if len(hosts) == 0 {
		return nil, errors.New("core: empty connection uri")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Querier{hosts: hosts, apiKey: apiKey, client: client}, nil
}

// Hosts returns the configured replica list in order.
func (q *Querier) Hosts() []string {
	return append([]string(nil), q.hosts...)
}

// do sends one request against a specific host and decodes the JSON body
// into out. Non-2xx statuses and undecodable bodies are errors.
func (q *Querier) do(ctx context.Context, method, host, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, host+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("core: host %s returned status %d", host, resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// roundTrip tries each host in order, falling over on transport errors and
// malformed bodies alike, and keeps the last error when all hosts fail.
func (q *Querier) roundTrip(ctx context.Context, method, path string, body any, out any) error {
	var lastErr error
	for _, host := range q.hosts {
		err := q.do(ctx, method, host, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: %v", ErrCoreUnavailable, lastErr)
}

type jwksResponse struct {
	Status string `json:"status"`
	Keys   []struct {
		KeyID     string `json:"keyId"`
		PublicKey string `json:"publicKey"`
		CreatedAt int64  `json:"createdAt"`
		Expiry    int64  `json:"expiry"`
	} `json:"keys"`
}

// FetchKeysFrom retrieves the signing key set from one specific host. It is
// the jwks.Fetch implementation: the cache owns the replica fallover loop,
// so this method never retries on its own.
func (q *Querier) FetchKeysFrom(ctx context.Context, host string) ([]jwks.Key, error) {
	var resp jwksResponse
	if err := q.do(ctx, http.MethodGet, host, "/recipe/jwt/jwks", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Status != StatusOK || len(resp.Keys) == 0 {
		return nil, fmt.Errorf("%w: jwks status %q with %d keys", ErrMalformedResponse, resp.Status, len(resp.Keys))
	}

	keys := make([]jwks.Key, 0, len(resp.Keys))
	for _, k := range resp.Keys {
		raw, err := base64.StdEncoding.DecodeString(k.PublicKey)
		if err != nil || len(raw) != ed25519.PublicKeySize || k.KeyID == "" {
			return nil, fmt.Errorf("%w: jwks key %q is not a valid ed25519 key", ErrMalformedResponse, k.KeyID)
		}
		keys = append(keys, jwks.Key{
			ID:        k.KeyID,
			PublicKey: ed25519.PublicKey(raw),
			CreatedAt: k.CreatedAt,
			Expiry:    k.Expiry,
		})
	}
	return keys, nil
}

// TokenInfo is the core's representation of an issued token.
type TokenInfo struct {
	Token       string `json:"token"`
	Expiry      int64  `json:"expiry"`
	CreatedTime int64  `json:"createdTime"`
}

// SessionRef identifies a core-side session.
type SessionRef struct {
	Handle       string `json:"handle"`
	UserID       string `json:"userId"`
	RecipeUserID string `json:"recipeUserId"`
}

// CreateSessionRequest mirrors the core's session-creation contract.
type CreateSessionRequest struct {
	RecipeUserID         string         `json:"recipeUserId"`
	UserDataInJWT        map[string]any `json:"userDataInJWT"`
	UserDataInDatabase   map[string]any `json:"userDataInDatabase"`
	EnableAntiCSRF       bool           `json:"enableAntiCsrf"`
	UseDynamicSigningKey bool           `json:"useDynamicSigningKey"`
}

// SessionResponse is the shared shape of create and refresh responses.
type SessionResponse struct {
	Status        string     `json:"status"`
	AccessToken   TokenInfo  `json:"accessToken"`
	RefreshToken  TokenInfo  `json:"refreshToken"`
	AntiCSRFToken string     `json:"antiCsrfToken"`
	Session       SessionRef `json:"session"`
}

// CreateSession asks the core to mint a new session and token pair.
func (q *Querier) CreateSession(ctx context.Context, req CreateSessionRequest) (*SessionResponse, error) {
	var resp SessionResponse
	if err := q.roundTrip(ctx, http.MethodPost, "/recipe/session", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyRequest mirrors the core's remote-verification contract.
type VerifyRequest struct {
	AccessToken     string `json:"accessToken"`
	AntiCSRFToken   string `json:"antiCsrfToken,omitempty"`
	DoAntiCSRFCheck bool   `json:"doAntiCsrfCheck"`
	EnableAntiCSRF  bool   `json:"enableAntiCsrf"`
}

// VerifyResponse carries the core's authoritative verification verdict.
type VerifyResponse struct {
	Status  string     `json:"status"`
	Session SessionRef `json:"session"`
}

// VerifySession is the remote fallback for tokens the local path cannot
// settle (unknown signing key after a refetch).
func (q *Querier) VerifySession(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	var resp VerifyResponse
	if err := q.roundTrip(ctx, http.MethodPost, "/recipe/session/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefreshRequest mirrors the core's refresh contract.
type RefreshRequest struct {
	RefreshToken   string `json:"refreshToken"`
	AntiCSRFToken  string `json:"antiCsrfToken,omitempty"`
	EnableAntiCSRF bool   `json:"enableAntiCsrf"`
}

// RefreshSession exchanges a refresh token for a new pair. The core is the
// source of truth for the rotation chain; a TOKEN_THEFT_DETECTED status
// means the whole session handle has already been revoked core-side.
func (q *Querier) RefreshSession(ctx context.Context, req RefreshRequest) (*SessionResponse, error) {
	var resp SessionResponse
	if err := q.roundTrip(ctx, http.MethodPost, "/recipe/session/refresh", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type revokeRequest struct {
	SessionHandles []string `json:"sessionHandles"`
}

type revokeResponse struct {
	Status                string   `json:"status"`
	SessionHandlesRevoked []string `json:"sessionHandlesRevoked"`
}

// RevokeSessions revokes the listed handles, returning those that existed.
func (q *Querier) RevokeSessions(ctx context.Context, handles []string) ([]string, error) {
	var resp revokeResponse
	if err := q.roundTrip(ctx, http.MethodPost, "/recipe/session/remove", revokeRequest{SessionHandles: handles}, &resp); err != nil {
		return nil, err
	}
	return resp.SessionHandlesRevoked, nil
}

type handlesResponse struct {
	Status         string   `json:"status"`
	SessionHandles []string `json:"sessionHandles"`
}

// GetSessionHandlesForUser lists live handles for a user id.
func (q *Querier) GetSessionHandlesForUser(ctx context.Context, userID string) ([]string, error) {
	var resp handlesResponse
	path := "/recipe/session/user?userId=" + url.QueryEscape(userID)
	if err := q.roundTrip(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.SessionHandles, nil
}

// SessionInformation is the core-side state of one session handle.
type SessionInformation struct {
	Status             string         `json:"status"`
	SessionHandle      string         `json:"sessionHandle"`
	UserID             string         `json:"userId"`
	RecipeUserID       string         `json:"recipeUserId"`
	UserDataInJWT      map[string]any `json:"userDataInJWT"`
	UserDataInDatabase map[string]any `json:"userDataInDatabase"`
	Expiry             int64          `json:"expiry"`
	TimeCreated        int64          `json:"timeCreated"`
}

// GetSessionInformation fetches a handle's stored data and payload.
func (q *Querier) GetSessionInformation(ctx context.Context, handle string) (*SessionInformation, error) {
	var resp SessionInformation
	path := "/recipe/session?sessionHandle=" + url.QueryEscape(handle)
	if err := q.roundTrip(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type updateSessionDataRequest struct {
	SessionHandle      string         `json:"sessionHandle"`
	UserDataInDatabase map[string]any `json:"userDataInDatabase"`
}

type statusOnlyResponse struct {
	Status string `json:"status"`
}

// UpdateSessionData replaces a handle's database-side session data.
func (q *Querier) UpdateSessionData(ctx context.Context, handle string, data map[string]any) (string, error) {
	var resp statusOnlyResponse
	err := q.roundTrip(ctx, http.MethodPut, "/recipe/session/data", updateSessionDataRequest{
		SessionHandle:      handle,
		UserDataInDatabase: data,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}

type mergePayloadRequest struct {
	SessionHandle string         `json:"sessionHandle"`
	UserDataInJWT map[string]any `json:"userDataInJWT"`
}

// MergeIntoPayload merges fragments into a handle's access token payload.
// Core-side merge semantics: a null value deletes the key.
func (q *Querier) MergeIntoPayload(ctx context.Context, handle string, fragments map[string]any) (string, error) {
	var resp statusOnlyResponse
	err := q.roundTrip(ctx, http.MethodPut, "/recipe/session/payload", mergePayloadRequest{
		SessionHandle: handle,
		UserDataInJWT: fragments,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}
