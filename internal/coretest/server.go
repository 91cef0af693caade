// Package coretest runs an in-process fake auth core for the engine test
// suite. It mints real Ed25519-signed access tokens and models the core's
// refresh rotation chain, including theft detection, so SDK behavior can be
// exercised end to end without a real core deployment.
package coretest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sessionkit/sessionkit/internal"
	"github.com/sessionkit/sessionkit/token"
)

type keypair struct {
	kid       string
	pub       ed25519.PublicKey
	priv      ed25519.PrivateKey
	createdAt int64
}

type sessionState struct {
	handle        string
	userID        string
	recipeUserID  string
	currentHash   string
	parentHash    string
	pastHashes    map[string]bool
	antiCSRF      string
	payload       map[string]any
	data          map[string]any
	expiry        int64
	timeCreated   int64
	revoked       bool
	theftDetected bool
}

// Server is one fake core replica. All state lives in memory; use
// [Server.Close] when done.
type Server struct {
	httpServer *httptest.Server

	mu       sync.Mutex
	keys     []keypair
	sessions map[string]*sessionState
	requests map[string]int
	failing  bool

	AccessTTL time.Duration
	now       func() time.Time
}

// New starts a fake core with one active signing key.
func New() *Server {
	s := &Server{
		sessions:  map[string]*sessionState{},
		requests:  map[string]int{},
		AccessTTL: time.Hour,
		now:       time.Now,
	}
	s.RotateKey()

	mux := http.NewServeMux()
	mux.HandleFunc("/recipe/jwt/jwks", s.handleJWKS)
	mux.HandleFunc("/recipe/session", s.handleSession)
	mux.HandleFunc("/recipe/session/verify", s.handleVerify)
	mux.HandleFunc("/recipe/session/refresh", s.handleRefresh)
	mux.HandleFunc("/recipe/session/remove", s.handleRemove)
	mux.HandleFunc("/recipe/session/user", s.handleUserHandles)
	mux.HandleFunc("/recipe/session/data", s.handleSessionData)
	mux.HandleFunc("/recipe/session/payload", s.handlePayload)

	s.httpServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[r.URL.Path]++
		failing := s.failing
		s.mu.Unlock()
		if failing {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	return s
}

// URL returns the base URL of this replica.
func (s *Server) URL() string { return s.httpServer.URL }

// Close shuts the replica down.
func (s *Server) Close() { s.httpServer.Close() }

// WithClock replaces the server clock; for expiry tests.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// SetFailing makes every endpoint return 503 while on, to exercise replica
// fallover in the SDK.
func (s *Server) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

// RequestCount reports how many requests hit the given path.
func (s *Server) RequestCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

// RotateKey mints a fresh signing key and makes it active. Old keys stop
// being served by the JWKS endpoint, so tokens signed with them become
// stale from the SDK's point of view.
func (s *Server) RotateKey() string {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(fmt.Sprintf("coretest: keygen failed: %v", err))
	}
	kid := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, keypair{kid: kid, pub: pub, priv: priv, createdAt: s.clock().Unix()})
	return kid
}

func (s *Server) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Server) activeKey() keypair {
	return s.keys[len(s.keys)-1]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	active := s.activeKey()
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"status": "OK",
		"keys": []map[string]any{{
			"keyId":     active.kid,
			"publicKey": base64.StdEncoding.EncodeToString(active.pub),
			"createdAt": active.createdAt,
			"expiry":    int64(0),
		}},
	})
}

func (s *Server) mintTokens(sess *sessionState) (map[string]any, error) {
	refreshToken, err := internal.NewOpaqueToken(32)
	if err != nil {
		return nil, err
	}
	newHash := token.Hash1(refreshToken)
	sess.parentHash = sess.currentHash
	if sess.currentHash != "" {
		sess.pastHashes[sess.currentHash] = true
	}
	sess.currentHash = newHash

	now := s.clock().Unix()
	expiry := s.clock().Add(s.AccessTTL).Unix()
	active := s.activeKey()

	accessToken, err := token.Encode(token.AccessPayload{
		SessionHandle:           sess.handle,
		UserID:                  sess.userID,
		RecipeUserID:            sess.recipeUserID,
		RefreshTokenHash1:       newHash,
		ParentRefreshTokenHash1: sess.parentHash,
		AntiCSRFToken:           sess.antiCSRF,
		ExpiryTime:              expiry,
		TimeCreated:             now,
		Claims:                  sess.payload,
	}, active.priv, active.kid)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"status": "OK",
		"accessToken": map[string]any{
			"token":       accessToken,
			"expiry":      expiry,
			"createdTime": now,
		},
		"refreshToken": map[string]any{
			"token":       refreshToken,
			"expiry":      s.clock().Add(100 * 24 * time.Hour).Unix(),
			"createdTime": now,
		},
		"antiCsrfToken": sess.antiCSRF,
		"session": map[string]any{
			"handle":       sess.handle,
			"userId":       sess.userID,
			"recipeUserId": sess.recipeUserID,
		},
	}, nil
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreate(w, r)
	case http.MethodGet:
		s.handleGetInfo(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecipeUserID       string         `json:"recipeUserId"`
		UserDataInJWT      map[string]any `json:"userDataInJWT"`
		UserDataInDatabase map[string]any `json:"userDataInDatabase"`
		EnableAntiCSRF     bool           `json:"enableAntiCsrf"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	handle, err := internal.NewSessionHandle()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sess := &sessionState{
		handle:       handle.String(),
		userID:       req.RecipeUserID,
		recipeUserID: req.RecipeUserID,
		pastHashes:   map[string]bool{},
		payload:      req.UserDataInJWT,
		data:         req.UserDataInDatabase,
		timeCreated:  s.clock().Unix(),
	}
	if sess.payload == nil {
		sess.payload = map[string]any{}
	}
	if sess.data == nil {
		sess.data = map[string]any{}
	}
	if req.EnableAntiCSRF {
		antiCSRF, err := internal.NewOpaqueToken(24)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		sess.antiCSRF = antiCSRF
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess.expiry = s.clock().Add(100 * 24 * time.Hour).Unix()
	resp, err := s.mintTokens(sess)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.sessions[sess.handle] = sess
	writeJSON(w, resp)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccessToken     string `json:"accessToken"`
		AntiCSRFToken   string `json:"antiCsrfToken"`
		DoAntiCSRFCheck bool   `json:"doAntiCsrfCheck"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	parsed, err := token.Parse(req.AccessToken)
	if err != nil {
		writeJSON(w, map[string]any{"status": "UNAUTHORISED"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[parsed.Payload.SessionHandle]
	if !ok || sess.revoked {
		writeJSON(w, map[string]any{"status": "UNAUTHORISED"})
		return
	}
	if parsed.Payload.ExpiryTime <= s.clock().Unix() {
		writeJSON(w, map[string]any{"status": "TRY_REFRESH_TOKEN"})
		return
	}
	if req.DoAntiCSRFCheck && sess.antiCSRF != "" && req.AntiCSRFToken != sess.antiCSRF {
		writeJSON(w, map[string]any{"status": "TRY_REFRESH_TOKEN"})
		return
	}

	writeJSON(w, map[string]any{
		"status": "OK",
		"session": map[string]any{
			"handle":       sess.handle,
			"userId":       sess.userID,
			"recipeUserId": sess.recipeUserID,
		},
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken  string `json:"refreshToken"`
		AntiCSRFToken string `json:"antiCsrfToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	hash := token.Hash1(req.RefreshToken)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.revoked {
			continue
		}
		switch {
		case sess.currentHash == hash:
			resp, err := s.mintTokens(sess)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, resp)
			return
		case sess.pastHashes[hash]:
			// rotated-past token presented again: the whole session dies
			sess.revoked = true
			sess.theftDetected = true
			writeJSON(w, map[string]any{
				"status": "TOKEN_THEFT_DETECTED",
				"session": map[string]any{
					"handle":       sess.handle,
					"userId":       sess.userID,
					"recipeUserId": sess.recipeUserID,
				},
			})
			return
		}
	}

	writeJSON(w, map[string]any{"status": "UNAUTHORISED"})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionHandles []string `json:"sessionHandles"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var revoked []string
	for _, handle := range req.SessionHandles {
		if sess, ok := s.sessions[handle]; ok && !sess.revoked {
			sess.revoked = true
			revoked = append(revoked, handle)
		}
	}
	if revoked == nil {
		revoked = []string{}
	}
	writeJSON(w, map[string]any{"status": "OK", "sessionHandlesRevoked": revoked})
}

func (s *Server) handleUserHandles(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")

	s.mu.Lock()
	defer s.mu.Unlock()

	handles := []string{}
	for _, sess := range s.sessions {
		if sess.userID == userID && !sess.revoked {
			handles = append(handles, sess.handle)
		}
	}
	writeJSON(w, map[string]any{"status": "OK", "sessionHandles": handles})
}

func (s *Server) handleGetInfo(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("sessionHandle")

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[handle]
	if !ok || sess.revoked {
		writeJSON(w, map[string]any{"status": "UNAUTHORISED"})
		return
	}
	writeJSON(w, map[string]any{
		"status":             "OK",
		"sessionHandle":      sess.handle,
		"userId":             sess.userID,
		"recipeUserId":       sess.recipeUserID,
		"userDataInJWT":      sess.payload,
		"userDataInDatabase": sess.data,
		"expiry":             sess.expiry,
		"timeCreated":        sess.timeCreated,
	})
}

func (s *Server) handleSessionData(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionHandle      string         `json:"sessionHandle"`
		UserDataInDatabase map[string]any `json:"userDataInDatabase"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[req.SessionHandle]
	if !ok || sess.revoked {
		writeJSON(w, map[string]any{"status": "UNAUTHORISED"})
		return
	}
	sess.data = req.UserDataInDatabase
	if sess.data == nil {
		sess.data = map[string]any{}
	}
	writeJSON(w, map[string]any{"status": "OK"})
}

func (s *Server) handlePayload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionHandle string         `json:"sessionHandle"`
		UserDataInJWT map[string]any `json:"userDataInJWT"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[req.SessionHandle]
	if !ok || sess.revoked {
		writeJSON(w, map[string]any{"status": "UNAUTHORISED"})
		return
	}
	// core merge semantics: null deletes the key
	for k, v := range req.UserDataInJWT {
		if v == nil {
			delete(sess.payload, k)
			continue
		}
		sess.payload[k] = v
	}
	writeJSON(w, map[string]any{"status": "OK"})
}
