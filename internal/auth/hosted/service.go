// Package hosted implements auth.Service against a remote HTTP identity
// service. Sessions returned by the service are normalized into the shared
// model and persisted locally so GetCurrentSession observes them across
// restarts.
package hosted

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/apexkit/backend/internal/auth"
	"github.com/apexkit/backend/internal/kvstore"
	"github.com/apexkit/backend/internal/logging"
)

const (
	sessionKey          = "hosted-auth-session"
	biometricSessionKey = "biometric-session"
	biometricEnabledKey = "biometric-enabled"
)

// Browser drives the external OAuth redirect flow. Implementations open the
// authorization URL and block until the flow lands on redirectURI or is
// aborted. The browser never carries the session payload back; it reports
// auth.ErrOAuthCancelled when the user aborts.
type Browser interface {
	OpenAuthSession(ctx context.Context, authURL, redirectURI string) error
}

// Service is the hosted auth provider.
type Service struct {
	mu          sync.Mutex
	baseURL     string
	redirectURI string
	http        *http.Client
	kv          kvstore.Store
	browser     Browser
	log         logging.Logger
}

var _ auth.Service = (*Service)(nil)

// New constructs a hosted provider talking to the identity service at
// baseURL. browser may be nil if the OAuth operations are never used.
func New(baseURL, redirectURI string, kv kvstore.Store, browser Browser, log logging.Logger) *Service {
	if log == nil {
		log = logging.Nop()
	}
	return &Service{
		baseURL:     baseURL,
		redirectURI: redirectURI,
		http:        &http.Client{Timeout: 15 * time.Second},
		kv:          kv,
		browser:     browser,
		log:         log,
	}
}

// do performs one JSON round trip. A non-2xx status is decoded into the
// error taxonomy; out may be nil for calls without a response body.
func (s *Service) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %w", auth.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", auth.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var werr wireError
		if json.NewDecoder(resp.Body).Decode(&werr) != nil || werr.ErrorCode == "" {
			return mapError(resp.StatusCode, nil)
		}
		return mapError(resp.StatusCode, &werr)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %w", auth.ErrTransport, err)
		}
	}
	return nil
}

func (s *Service) saveSession(ctx context.Context, session *auth.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.kv.Set(ctx, sessionKey, data); err != nil {
		return fmt.Errorf("%w: %w", auth.ErrTransport, err)
	}
	return nil
}

func (s *Service) loadSession(ctx context.Context, key string) (*auth.Session, error) {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", auth.ErrTransport, err)
	}
	if data == nil {
		return nil, nil
	}
	var session auth.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("%w: corrupt session blob: %w", auth.ErrTransport, err)
	}
	return &session, nil
}

// exchange posts to /token and persists the mapped session.
func (s *Service) exchange(ctx context.Context, grantType string, body any) (*auth.Session, error) {
	var ws wireSession
	if err := s.do(ctx, http.MethodPost, "/token?grant_type="+grantType, "", body, &ws); err != nil {
		return nil, err
	}
	session, err := mapSession(&ws)
	if err != nil {
		return nil, err
	}
	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) SignUp(ctx context.Context, email, password string, metadata map[string]string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ws wireSession
	err := s.do(ctx, http.MethodPost, "/signup", "", map[string]any{
		"email":    email,
		"password": password,
		"data":     metadata,
	}, &ws)
	if err != nil {
		return nil, err
	}

	session, err := mapSession(&ws)
	if err != nil {
		return nil, err
	}
	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.exchange(ctx, "password", map[string]string{
		"email":    email,
		"password": password,
	})
}

// SignOut revokes the session remotely, then clears local state. Remote
// failure is logged and does not block the local clear.
func (s *Service) SignOut(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.loadSession(ctx, sessionKey)
	if err == nil && session != nil {
		if err := s.do(ctx, http.MethodPost, "/logout", session.AccessToken, nil, nil); err != nil {
			s.log.Warn(ctx, "remote sign-out failed, clearing local session anyway", "error", err)
		}
	}

	if err := s.kv.Delete(ctx, sessionKey); err != nil {
		return fmt.Errorf("%w: %w", auth.ErrTransport, err)
	}
	return nil
}

func (s *Service) SignInWithPhone(ctx context.Context, phone string) (*auth.PhoneChallenge, error) {
	var wc wireChallenge
	err := s.do(ctx, http.MethodPost, "/otp", "", map[string]string{"phone": phone}, &wc)
	if err != nil {
		return nil, err
	}
	if wc.ChallengeID == "" {
		return nil, fmt.Errorf("%w: identity response missing challenge id", auth.ErrTransport)
	}
	return &auth.PhoneChallenge{SessionID: wc.ChallengeID}, nil
}

func (s *Service) VerifyPhone(ctx context.Context, phone, code, sessionID string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ws wireSession
	err := s.do(ctx, http.MethodPost, "/verify", "", map[string]string{
		"phone":        phone,
		"token":        code,
		"challenge_id": sessionID,
	}, &ws)
	if err != nil {
		return nil, err
	}

	session, err := mapSession(&ws)
	if err != nil {
		return nil, err
	}
	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// signInWithOAuth runs the full redirect flow for one provider: obtain the
// authorization URL, drive the external browser, then re-fetch the session
// from the service. The browser never returns the session payload itself.
func (s *Service) signInWithOAuth(ctx context.Context, provider string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser == nil {
		return nil, fmt.Errorf("%w: no browser configured for oauth", auth.ErrNotImplemented)
	}

	var wa wireAuthorize
	path := "/authorize?provider=" + url.QueryEscape(provider) +
		"&redirect_to=" + url.QueryEscape(s.redirectURI)
	if err := s.do(ctx, http.MethodGet, path, "", nil, &wa); err != nil {
		return nil, err
	}
	if wa.URL == "" || wa.State == "" {
		return nil, fmt.Errorf("%w: identity response missing authorization url", auth.ErrTransport)
	}

	if err := s.browser.OpenAuthSession(ctx, wa.URL, s.redirectURI); err != nil {
		return nil, err
	}

	// The redirect only signalled success; fetch the actual session minted
	// during the callback.
	var ws wireSession
	err := s.do(ctx, http.MethodPost, "/authorize/exchange", "", map[string]string{"state": wa.State}, &ws)
	if err != nil {
		return nil, err
	}

	session, err := mapSession(&ws)
	if err != nil {
		return nil, err
	}
	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) SignInWithGoogle(ctx context.Context) (*auth.Session, error) {
	return s.signInWithOAuth(ctx, "google")
}

func (s *Service) SignInWithApple(ctx context.Context) (*auth.Session, error) {
	return s.signInWithOAuth(ctx, "apple")
}

func (s *Service) EnableBiometric(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.loadSession(ctx, sessionKey)
	if err != nil {
		return err
	}
	if session == nil {
		return auth.ErrNoActiveSession
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.kv.Set(ctx, biometricSessionKey, data); err != nil {
		return fmt.Errorf("%w: %w", auth.ErrTransport, err)
	}
	if err := s.kv.Set(ctx, biometricEnabledKey, []byte("true")); err != nil {
		return fmt.Errorf("%w: %w", auth.ErrTransport, err)
	}
	return nil
}

// SignInWithBiometric re-establishes the snapshotted session with the
// remote service by exchanging its refresh token; the snapshot is never
// trusted client-side. A remote rejection means the snapshot is stale, so
// it is cleared and reported as a missing biometric session.
func (s *Service) SignInWithBiometric(ctx context.Context) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.loadSession(ctx, biometricSessionKey)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, auth.ErrNoBiometricSession
	}
	if snapshot.RefreshToken == "" {
		return nil, auth.ErrNoBiometricSession
	}

	session, err := s.exchange(ctx, "refresh_token", map[string]string{
		"refresh_token": snapshot.RefreshToken,
	})
	if err != nil {
		if errors.Is(err, auth.ErrTransport) {
			return nil, err
		}
		_ = s.kv.Delete(ctx, biometricSessionKey)
		return nil, fmt.Errorf("%w: stale snapshot rejected: %w", auth.ErrNoBiometricSession, err)
	}
	return session, nil
}

func (s *Service) IsBiometricEnabled(ctx context.Context) (bool, error) {
	data, err := s.kv.Get(ctx, biometricEnabledKey)
	if err != nil {
		return false, fmt.Errorf("%w: %w", auth.ErrTransport, err)
	}
	return string(data) == "true", nil
}

func (s *Service) GetCurrentSession(ctx context.Context) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadSession(ctx, sessionKey)
}

func (s *Service) RefreshSession(ctx context.Context) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.loadSession(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if session == nil || session.RefreshToken == "" {
		return nil, auth.ErrNoSessionToRefresh
	}

	return s.exchange(ctx, "refresh_token", map[string]string{
		"refresh_token": session.RefreshToken,
	})
}

func (s *Service) ResetPassword(ctx context.Context, email string) error {
	return s.do(ctx, http.MethodPost, "/recover", "", map[string]string{"email": email}, nil)
}

func (s *Service) UpdatePassword(ctx context.Context, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.loadSession(ctx, sessionKey)
	if err != nil {
		return err
	}
	if session == nil {
		return auth.ErrNoActiveSession
	}

	return s.do(ctx, http.MethodPut, "/user", session.AccessToken,
		map[string]string{"password": newPassword}, nil)
}

func (s *Service) UpdateUser(ctx context.Context, updates auth.UserUpdate) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.loadSession(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, auth.ErrNoActiveSession
	}

	body := map[string]any{}
	data := map[string]string{}
	if updates.Name != nil {
		data["name"] = *updates.Name
	}
	if updates.Avatar != nil {
		data["avatar_url"] = *updates.Avatar
	}
	if len(data) > 0 {
		body["data"] = data
	}
	if updates.Phone != nil {
		body["phone"] = *updates.Phone
	}

	var wu wireUser
	if err := s.do(ctx, http.MethodPut, "/user", session.AccessToken, body, &wu); err != nil {
		return nil, err
	}

	user, err := mapUser(&wu)
	if err != nil {
		return nil, err
	}

	session.User = *user
	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteUser requires an elevated service role the client never holds.
func (s *Service) DeleteUser(ctx context.Context) error {
	return auth.ErrRequiresElevatedPrivilege
}
