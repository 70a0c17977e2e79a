// Package identity implements a development identity server speaking the
// same HTTP contract the hosted auth provider consumes: email/password and
// refresh-token grants, OTP challenges, an OAuth authorize/callback pair,
// and user management. State lives in memory; this server exists so the
// hosted provider can run end-to-end without a real identity backend.
package identity

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/apexkit/backend/internal/auth"
	"github.com/apexkit/backend/internal/logging"
)

// DevOTPCode is the only code the development server accepts for phone
// challenges.
const DevOTPCode = "123456"

const minPasswordLen = 8

type account struct {
	ID           string
	Email        string
	Phone        string
	Metadata     map[string]string
	PasswordHash []byte
}

type refreshRecord struct {
	UserID  string
	Expires time.Time
}

type otpChallenge struct {
	Phone string
	Code  string
}

type oauthGrant struct {
	Provider   string
	RedirectTo string
	Approved   bool
}

// Config holds the knobs for the development server.
type Config struct {
	// ExternalURL is the base URL clients can reach this server on; it is
	// embedded in authorization URLs.
	ExternalURL string
	Secret      []byte
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
}

// Server is the in-memory identity service. It implements http.Handler.
type Server struct {
	cfg    Config
	log    logging.Logger
	router *mux.Router

	mu         sync.Mutex
	byEmail    map[string]*account
	byID       map[string]*account
	refresh    map[string]refreshRecord
	challenges map[string]otpChallenge
	grants     map[string]*oauthGrant
}

// NewServer constructs the development identity server.
func NewServer(cfg Config, log logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if len(cfg.Secret) == 0 {
		cfg.Secret = []byte("apexkit-identity-dev-secret")
	}

	s := &Server{
		cfg:        cfg,
		log:        log,
		byEmail:    make(map[string]*account),
		byID:       make(map[string]*account),
		refresh:    make(map[string]refreshRecord),
		challenges: make(map[string]otpChallenge),
		grants:     make(map[string]*oauthGrant),
	}

	r := mux.NewRouter()
	r.HandleFunc("/signup", s.handleSignup).Methods(http.MethodPost)
	r.HandleFunc("/token", s.handleToken).Methods(http.MethodPost)
	r.HandleFunc("/otp", s.handleOTP).Methods(http.MethodPost)
	r.HandleFunc("/verify", s.handleVerify).Methods(http.MethodPost)
	r.HandleFunc("/authorize", s.handleAuthorize).Methods(http.MethodGet)
	r.HandleFunc("/authorize/consent", s.handleConsent).Methods(http.MethodGet)
	r.HandleFunc("/authorize/exchange", s.handleExchange).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/recover", s.handleRecover).Methods(http.MethodPost)
	r.HandleFunc("/user", s.handleGetUser).Methods(http.MethodGet)
	r.HandleFunc("/user", s.handleUpdateUser).Methods(http.MethodPut)
	r.HandleFunc("/user", s.handleDeleteUser).Methods(http.MethodDelete)
	s.router = r

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ---- JSON helpers ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error_code": code, "msg": msg})
}

func decode(r *http.Request, v any) bool {
	return json.NewDecoder(r.Body).Decode(v) == nil
}

func userJSON(a *account) map[string]any {
	meta := a.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	return map[string]any{
		"id":            a.ID,
		"email":         a.Email,
		"phone":         a.Phone,
		"user_metadata": meta,
	}
}

// mintSession issues an access/refresh pair and records the refresh token.
// Callers must hold s.mu.
func (s *Server) mintSession(w http.ResponseWriter, a *account) {
	access, err := generateToken(a.ID, s.cfg.Secret, s.cfg.AccessTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	refresh := uuid.NewString()
	s.refresh[refresh] = refreshRecord{UserID: a.ID, Expires: time.Now().Add(s.cfg.RefreshTTL)}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"user":          userJSON(a),
	})
}

func (s *Server) authedAccount(r *http.Request) *account {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil
	}
	userID, err := userIDFromToken(token, s.cfg.Secret)
	if err != nil {
		return nil
	}
	return s.byID[userID]
}

// ---- handlers ----

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string            `json:"email"`
		Password string            `json:"password"`
		Data     map[string]string `json:"data"`
	}
	if !decode(r, &req) || req.Email == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed signup request")
		return
	}
	if len(req.Password) < minPasswordLen {
		writeError(w, http.StatusBadRequest, "invalid_credentials", "password does not meet policy")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[req.Email]; exists {
		writeError(w, http.StatusConflict, "user_already_exists", "email already registered")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	meta := req.Data
	if meta == nil {
		meta = map[string]string{}
	}
	if meta["name"] == "" {
		meta["name"] = auth.DeriveName(req.Email)
	}

	a := &account{
		ID:           uuid.NewString(),
		Email:        req.Email,
		Metadata:     meta,
		PasswordHash: hash,
	}
	s.byEmail[a.Email] = a
	s.byID[a.ID] = a

	s.log.Info(r.Context(), "account created", "email", a.Email)
	s.mintSession(w, a)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("grant_type") {
	case "password":
		s.handlePasswordGrant(w, r)
	case "refresh_token":
		s.handleRefreshGrant(w, r)
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "unsupported grant_type")
	}
}

func (s *Server) handlePasswordGrant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(r, &req) {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed token request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.byEmail[req.Email]
	if a == nil || bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "wrong email or password")
		return
	}
	s.mintSession(w, a)
}

func (s *Server) handleRefreshGrant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decode(r, &req) {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed token request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.refresh[req.RefreshToken]
	if !ok || rec.Expires.Before(time.Now()) {
		writeError(w, http.StatusUnauthorized, "session_not_found", "unknown or expired refresh token")
		return
	}

	// Rotate: the old token is spent the moment it is exchanged.
	delete(s.refresh, req.RefreshToken)

	a := s.byID[rec.UserID]
	if a == nil {
		writeError(w, http.StatusUnauthorized, "session_not_found", "user no longer exists")
		return
	}
	s.mintSession(w, a)
}

func (s *Server) handleOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	if !decode(r, &req) || req.Phone == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing phone")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.challenges[id] = otpChallenge{Phone: req.Phone, Code: DevOTPCode}

	s.log.Info(r.Context(), "otp challenge created", "phone", req.Phone)
	writeJSON(w, http.StatusOK, map[string]string{"challenge_id": id})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone       string `json:"phone"`
		Token       string `json:"token"`
		ChallengeID string `json:"challenge_id"`
	}
	if !decode(r, &req) {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed verify request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[req.ChallengeID]
	if !ok || ch.Phone != req.Phone || ch.Code != req.Token {
		writeError(w, http.StatusUnauthorized, "invalid_otp", "wrong or expired code")
		return
	}
	delete(s.challenges, req.ChallengeID)

	// Phone-derived identity: reuse the account if the phone verified before.
	email := req.Phone + "@phone.auth"
	a := s.byEmail[email]
	if a == nil {
		a = &account{
			ID:       uuid.NewString(),
			Email:    email,
			Phone:    req.Phone,
			Metadata: map[string]string{"name": "Phone User"},
		}
		s.byEmail[email] = a
		s.byID[a.ID] = a
	}
	s.mintSession(w, a)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")
	redirectTo := r.URL.Query().Get("redirect_to")
	if provider == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing provider")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := uuid.NewString()
	s.grants[state] = &oauthGrant{Provider: provider, RedirectTo: redirectTo}

	authURL := s.cfg.ExternalURL + "/authorize/consent?state=" + url.QueryEscape(state)
	writeJSON(w, http.StatusOK, map[string]string{"url": authURL, "state": state})
}

// handleConsent plays the external authorization server: it approves the
// grant, mints the provider-branded account, and redirects back. A real
// deployment would show a consent page here.
func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")

	s.mu.Lock()
	grant, ok := s.grants[state]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "bad_request", "unknown state")
		return
	}
	grant.Approved = true

	email := "user@" + grant.Provider + ".oauth"
	if s.byEmail[email] == nil {
		a := &account{
			ID:       uuid.NewString(),
			Email:    email,
			Metadata: map[string]string{"name": providerDisplayName(grant.Provider)},
		}
		s.byEmail[email] = a
		s.byID[a.ID] = a
	}
	redirectTo := grant.RedirectTo
	s.mu.Unlock()

	if redirectTo != "" {
		http.Redirect(w, r, redirectTo+"?status=success", http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func providerDisplayName(provider string) string {
	if provider == "" {
		return "OAuth User"
	}
	return strings.ToUpper(provider[:1]) + provider[1:] + " User"
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State string `json:"state"`
	}
	if !decode(r, &req) {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed exchange request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.grants[req.State]
	if !ok || !grant.Approved {
		writeError(w, http.StatusUnauthorized, "oauth_pending", "grant not approved")
		return
	}
	delete(s.grants, req.State)

	a := s.byEmail["user@"+grant.Provider+".oauth"]
	if a == nil {
		writeError(w, http.StatusInternalServerError, "internal", "grant account missing")
		return
	}
	s.mintSession(w, a)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.authedAccount(r)
	if a == nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "missing or invalid token")
		return
	}

	for token, rec := range s.refresh {
		if rec.UserID == a.ID {
			delete(s.refresh, token)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decode(r, &req) || req.Email == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing email")
		return
	}
	// No mail transport in the dev server; acknowledge unconditionally so
	// callers cannot probe which emails exist.
	s.log.Info(r.Context(), "password recovery requested", "email", req.Email)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.authedAccount(r)
	if a == nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "missing or invalid token")
		return
	}
	writeJSON(w, http.StatusOK, userJSON(a))
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string            `json:"password"`
		Phone    *string           `json:"phone"`
		Data     map[string]string `json:"data"`
	}
	if !decode(r, &req) {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed user update")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.authedAccount(r)
	if a == nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "missing or invalid token")
		return
	}

	if req.Password != "" {
		if len(req.Password) < minPasswordLen {
			writeError(w, http.StatusBadRequest, "invalid_credentials", "password does not meet policy")
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		a.PasswordHash = hash
	}
	if req.Phone != nil {
		a.Phone = *req.Phone
	}
	if a.Metadata == nil {
		a.Metadata = map[string]string{}
	}
	for k, v := range req.Data {
		a.Metadata[k] = v
	}

	writeJSON(w, http.StatusOK, userJSON(a))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusForbidden, "not_admin", "user deletion requires the service role")
}
