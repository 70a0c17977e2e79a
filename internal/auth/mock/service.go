// Package mock implements auth.Service without network access, for offline
// development and tests. Accounts and sessions live in the durable key-value
// store, so a signed-in user stays signed in across process restarts.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/apexkit/backend/internal/auth"
	"github.com/apexkit/backend/internal/kvstore"
	"github.com/apexkit/backend/internal/logging"
)

// Fixed development credential accepted by SignIn regardless of signup
// history, and the OTP code accepted for any phone challenge.
const (
	DevEmail    = "test@example.com"
	DevPassword = "Niquegek$11"
	DevOTPCode  = "123456"
)

const (
	sessionKey          = "mock-auth-session"
	biometricSessionKey = "biometric-session"
	biometricEnabledKey = "biometric-enabled"
	accountKeyPrefix    = "mock-account-"

	minPasswordLen = 8

	accessTokenValidity = time.Hour
)

// account is the persisted signup record.
type account struct {
	User         auth.User `json:"user"`
	PasswordHash []byte    `json:"passwordHash"`
}

// Service is the offline auth provider.
type Service struct {
	mu     sync.Mutex
	kv     kvstore.Store
	log    logging.Logger
	secret []byte
}

var _ auth.Service = (*Service)(nil)

// New constructs the mock provider on top of the given key-value store.
func New(kv kvstore.Store, log logging.Logger) *Service {
	if log == nil {
		log = logging.Nop()
	}
	return &Service{kv: kv, log: log, secret: []byte("apexkit-dev-secret")}
}

// mintToken issues an opaque HS256 token for the user. The jti claim keeps
// consecutive tokens distinct even within the same second.
func (s *Service) mintToken(userID string, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ID:        uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
	})
	return token.SignedString(s.secret)
}

func (s *Service) newSession(user auth.User, withRefresh bool) (*auth.Session, error) {
	access, err := s.mintToken(user.ID, accessTokenValidity)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}
	session := &auth.Session{User: user, AccessToken: access}
	if withRefresh {
		refresh, err := s.mintToken(user.ID, 30*24*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("mint refresh token: %w", err)
		}
		session.RefreshToken = refresh
	}
	return session, nil
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

func (s *Service) loadAccount(ctx context.Context, email string) (*account, error) {
	data, err := s.kv.Get(ctx, accountKeyPrefix+email)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", auth.ErrTransport, err)
	}
	if data == nil {
		return nil, nil
	}
	var acc account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("%w: corrupt account record: %w", auth.ErrTransport, err)
	}
	return &acc, nil
}

func (s *Service) saveAccount(ctx context.Context, acc *account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	if err := s.kv.Set(ctx, accountKeyPrefix+acc.User.Email, data); err != nil {
		return fmt.Errorf("%w: %w", auth.ErrTransport, err)
	}
	return nil
}

func (s *Service) SignUp(ctx context.Context, email, password string, metadata map[string]string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password too short", auth.ErrInvalidCredentials)
	}
	if email == DevEmail {
		return nil, auth.ErrDuplicateAccount
	}

	existing, err := s.loadAccount(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, auth.ErrDuplicateAccount
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	name := metadata["name"]
	if name == "" {
		name = auth.DeriveName(email)
	}

	user := auth.User{
		ID:    uuid.NewString(),
		Email: email,
		Name:  name,
	}

	if err := s.saveAccount(ctx, &account{User: user, PasswordHash: hash}); err != nil {
		return nil, err
	}

	session, err := s.newSession(user, true)
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

	var user auth.User
	switch {
	case email == DevEmail && password == DevPassword:
		user = auth.User{ID: "test-user-id", Email: email, Name: "Test User"}
	default:
		acc, err := s.loadAccount(ctx, email)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			return nil, auth.ErrInvalidCredentials
		}
		if bcrypt.CompareHashAndPassword(acc.PasswordHash, []byte(password)) != nil {
			return nil, auth.ErrInvalidCredentials
		}
		user = acc.User
	}

	session, err := s.newSession(user, true)
	if err != nil {
		return nil, err
	}
	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// SignOut clears the persisted session. It is idempotent.
func (s *Service) SignOut(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(ctx, sessionKey); err != nil {
		return fmt.Errorf("%w: %w", auth.ErrTransport, err)
	}
	return nil
}

// SignInWithPhone starts an OTP challenge. The mock never sends anything;
// any challenge accepts DevOTPCode.
func (s *Service) SignInWithPhone(ctx context.Context, phone string) (*auth.PhoneChallenge, error) {
	return &auth.PhoneChallenge{SessionID: "mock-challenge-" + uuid.NewString()}, nil
}

func (s *Service) VerifyPhone(ctx context.Context, phone, code, sessionID string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code != DevOTPCode {
		return nil, auth.ErrInvalidCode
	}

	user := auth.User{
		ID:    uuid.NewString(),
		Email: phone + "@phone.auth",
		Name:  "Phone User",
		Phone: phone,
	}

	session, err := s.newSession(user, false)
	if err != nil {
		return nil, err
	}
	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) signInWithOAuth(ctx context.Context, user auth.User) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.newSession(user, false)
	if err != nil {
		return nil, err
	}
	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// SignInWithGoogle succeeds unconditionally with a provider-branded user.
func (s *Service) SignInWithGoogle(ctx context.Context) (*auth.Session, error) {
	return s.signInWithOAuth(ctx, auth.User{
		ID:    "google-user-id",
		Email: "user@gmail.com",
		Name:  "Google User",
	})
}

// SignInWithApple succeeds unconditionally with a provider-branded user.
func (s *Service) SignInWithApple(ctx context.Context) (*auth.Session, error) {
	return s.signInWithOAuth(ctx, auth.User{
		ID:    "apple-user-id",
		Email: "user@icloud.com",
		Name:  "Apple User",
	})
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

func (s *Service) SignInWithBiometric(ctx context.Context) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.loadSession(ctx, biometricSessionKey)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, auth.ErrNoBiometricSession
	}

	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
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
	if session == nil {
		return nil, auth.ErrNoSessionToRefresh
	}

	access, err := s.mintToken(session.User.ID, accessTokenValidity)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}
	session.AccessToken = access

	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// ResetPassword pretends to send a reset email.
func (s *Service) ResetPassword(ctx context.Context, email string) error {
	s.log.Info(ctx, "mock password reset email sent", "email", email)
	return nil
}

// UpdatePassword rehashes the stored account password when the current user
// has a signup record; the fixed dev account has no stored hash to update.
func (s *Service) UpdatePassword(ctx context.Context, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(newPassword) < minPasswordLen {
		return fmt.Errorf("%w: password too short", auth.ErrInvalidCredentials)
	}

	session, err := s.loadSession(ctx, sessionKey)
	if err != nil {
		return err
	}
	if session == nil {
		return auth.ErrNoActiveSession
	}

	acc, err := s.loadAccount(ctx, session.User.Email)
	if err != nil {
		return err
	}
	if acc == nil {
		s.log.Info(ctx, "mock password updated", "user_id", session.User.ID)
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	acc.PasswordHash = hash
	return s.saveAccount(ctx, acc)
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

	user := session.User
	if updates.Name != nil {
		user.Name = *updates.Name
	}
	if updates.Avatar != nil {
		user.Avatar = *updates.Avatar
	}
	if updates.Phone != nil {
		user.Phone = *updates.Phone
	}
	session.User = user

	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}

	// Keep the signup record in sync so the next sign-in sees the change.
	if acc, err := s.loadAccount(ctx, user.Email); err == nil && acc != nil {
		acc.User = user
		if err := s.saveAccount(ctx, acc); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	return &user, nil
}

// DeleteUser delegates to SignOut; the mock keeps no remote account state
// worth destroying.
func (s *Service) DeleteUser(ctx context.Context) error {
	return s.SignOut(ctx)
}
