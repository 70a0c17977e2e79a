// Package session holds the client-side authentication state that gates
// navigation: who is signed in, whether an auth operation is in flight, and
// the persisted blob that survives restarts. All mutations go through the
// active auth provider; the store never talks to the network itself.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/apexkit/backend/internal/auth"
	"github.com/apexkit/backend/internal/kvstore"
	"github.com/apexkit/backend/internal/logging"
)

// blobKey is the durable key of the persisted session state.
const blobKey = "auth-storage"

// State is a snapshot of the store.
//
// Invariants: IsAuthenticated == (Session != nil); User == &Session.User
// content-wise whenever Session is set; IsLoading is true only while a
// provider call is in flight.
type State struct {
	IsAuthenticated  bool          `json:"isAuthenticated"`
	IsLoading        bool          `json:"-"`
	User             *auth.User    `json:"user"`
	Session          *auth.Session `json:"session"`
	BiometricEnabled bool          `json:"biometricEnabled"`
}

// Store owns the session state. The provider is injected at construction;
// swapping mock for hosted is a wiring decision, not a runtime one. A mutex
// serializes operations so two in-flight auth calls cannot interleave their
// state writes.
type Store struct {
	mu  sync.Mutex
	svc auth.Service
	kv  kvstore.Store
	log logging.Logger

	state State
}

// NewStore constructs a session store over the given provider and durable
// key-value store.
func NewStore(svc auth.Service, kv kvstore.Store, log logging.Logger) *Store {
	if log == nil {
		log = logging.Nop()
	}
	return &Store{svc: svc, kv: kv, log: log}
}

// State returns a copy of the current state. The returned pointers are
// private copies; mutating them does not affect the store.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (st State) clone() State {
	out := st
	if st.User != nil {
		u := *st.User
		out.User = &u
	}
	if st.Session != nil {
		sess := *st.Session
		out.Session = &sess
		out.User = &sess.User
	}
	return out
}

// save writes the persisted portion of the state (IsLoading is transient
// and never stored). The blob is overwritten whole on every change.
func (s *Store) save(ctx context.Context) error {
	data, err := json.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	if err := s.kv.Set(ctx, blobKey, data); err != nil {
		return fmt.Errorf("persist session state: %w", err)
	}
	return nil
}

// Load rehydrates the store from the persisted blob. A missing blob leaves
// the zero state; a corrupt blob is discarded with a warning rather than
// wedging startup.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.kv.Get(ctx, blobKey)
	if err != nil {
		return fmt.Errorf("read session state: %w", err)
	}
	if data == nil {
		return nil
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.Warn(ctx, "discarding corrupt session blob", "error", err)
		return nil
	}

	// Re-derive the coupled fields rather than trusting the blob blindly.
	st.IsAuthenticated = st.Session != nil
	if st.Session != nil {
		u := st.Session.User
		st.User = &u
	}
	st.IsLoading = false

	s.state = st
	return nil
}

// setSession installs a freshly authenticated session and persists the blob.
// Callers must hold s.mu.
func (s *Store) setSession(ctx context.Context, session *auth.Session) error {
	u := session.User
	s.state.IsAuthenticated = true
	s.state.User = &u
	s.state.Session = session
	return s.save(ctx)
}

// clearSession drops the authenticated state (biometric enrollment is kept,
// matching enrollment surviving sign-out). Callers must hold s.mu.
func (s *Store) clearSession(ctx context.Context) error {
	s.state.IsAuthenticated = false
	s.state.User = nil
	s.state.Session = nil
	return s.save(ctx)
}

// runAuth executes one session-producing provider call with the loading
// flag management every operation shares: the flag is set for the duration
// of the call and reset on both paths before control returns.
func (s *Store) runAuth(ctx context.Context, op string, call func(ctx context.Context) (*auth.Session, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.IsLoading = true
	session, err := call(ctx)
	s.state.IsLoading = false

	if err != nil {
		s.log.Debug(ctx, "auth operation failed", "op", op, "error", err)
		return err
	}
	return s.setSession(ctx, session)
}

// Login authenticates with email and password.
func (s *Store) Login(ctx context.Context, email, password string) error {
	return s.runAuth(ctx, "login", func(ctx context.Context) (*auth.Session, error) {
		return s.svc.SignIn(ctx, email, password)
	})
}

// Signup registers a new account and signs it in.
func (s *Store) Signup(ctx context.Context, email, password, name string) error {
	return s.runAuth(ctx, "signup", func(ctx context.Context) (*auth.Session, error) {
		var metadata map[string]string
		if name != "" {
			metadata = map[string]string{"name": name}
		}
		return s.svc.SignUp(ctx, email, password, metadata)
	})
}

// LoginWithPhone starts an OTP challenge. No session is produced yet, so
// only the loading flag is managed here.
func (s *Store) LoginWithPhone(ctx context.Context, phone string) (*auth.PhoneChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.IsLoading = true
	challenge, err := s.svc.SignInWithPhone(ctx, phone)
	s.state.IsLoading = false
	return challenge, err
}

// VerifyPhone completes an OTP challenge and signs the user in.
func (s *Store) VerifyPhone(ctx context.Context, phone, code, sessionID string) error {
	return s.runAuth(ctx, "verify_phone", func(ctx context.Context) (*auth.Session, error) {
		return s.svc.VerifyPhone(ctx, phone, code, sessionID)
	})
}

func (s *Store) LoginWithGoogle(ctx context.Context) error {
	return s.runAuth(ctx, "login_google", func(ctx context.Context) (*auth.Session, error) {
		return s.svc.SignInWithGoogle(ctx)
	})
}

func (s *Store) LoginWithApple(ctx context.Context) error {
	return s.runAuth(ctx, "login_apple", func(ctx context.Context) (*auth.Session, error) {
		return s.svc.SignInWithApple(ctx)
	})
}

func (s *Store) LoginWithBiometric(ctx context.Context) error {
	return s.runAuth(ctx, "login_biometric", func(ctx context.Context) (*auth.Session, error) {
		return s.svc.SignInWithBiometric(ctx)
	})
}

// RefreshSession exchanges the refresh token for fresh credentials.
func (s *Store) RefreshSession(ctx context.Context) error {
	return s.runAuth(ctx, "refresh", func(ctx context.Context) (*auth.Session, error) {
		return s.svc.RefreshSession(ctx)
	})
}

// Logout signs out. Provider failure is logged but never blocks clearing
// local state: from the user's perspective, sign-out always works.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.svc.SignOut(ctx); err != nil {
		s.log.Error(ctx, "sign-out failed remotely, clearing local state", "error", err)
	}
	return s.clearSession(ctx)
}

// UpdateUser applies profile changes and keeps the session copy in sync.
func (s *Store) UpdateUser(ctx context.Context, updates auth.UserUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.svc.UpdateUser(ctx, updates)
	if err != nil {
		return err
	}

	s.state.User = user
	if s.state.Session != nil {
		s.state.Session.User = *user
	}
	return s.save(ctx)
}

// CheckAuth asks the provider for the current session, typically at app
// start. Provider errors leave the store signed out rather than failing
// startup.
func (s *Store) CheckAuth(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.IsLoading = true
	session, err := s.svc.GetCurrentSession(ctx)
	s.state.IsLoading = false

	if err != nil {
		s.log.Warn(ctx, "session check failed, treating as signed out", "error", err)
		return s.clearSession(ctx)
	}
	if session == nil {
		return s.clearSession(ctx)
	}

	enabled, err := s.svc.IsBiometricEnabled(ctx)
	if err != nil {
		s.log.Warn(ctx, "biometric flag check failed", "error", err)
		enabled = false
	}
	s.state.BiometricEnabled = enabled

	return s.setSession(ctx, session)
}

// EnableBiometric snapshots the current session for biometric sign-in.
func (s *Store) EnableBiometric(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.svc.EnableBiometric(ctx); err != nil {
		return err
	}
	s.state.BiometricEnabled = true
	return s.save(ctx)
}

// ResetPassword requests a password-reset email.
func (s *Store) ResetPassword(ctx context.Context, email string) error {
	return s.svc.ResetPassword(ctx, email)
}
