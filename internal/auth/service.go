package auth

import "context"

// Service is the capability contract every auth provider implements.
//
// Contract:
//   - Every method that returns a *Session has already durably persisted
//     that session before returning; a subsequent GetCurrentSession must
//     observe it.
//   - SignOut is idempotent and always clears local state, even when remote
//     invalidation fails.
//   - GetCurrentSession returns (nil, nil) when no session exists; absence
//     is not an error.
//
// All methods honor context cancellation/timeouts.
type Service interface {
	// Email/password auth.
	SignUp(ctx context.Context, email, password string, metadata map[string]string) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error

	// Phone auth.
	SignInWithPhone(ctx context.Context, phone string) (*PhoneChallenge, error)
	VerifyPhone(ctx context.Context, phone, code, sessionID string) (*Session, error)

	// OAuth.
	SignInWithGoogle(ctx context.Context) (*Session, error)
	SignInWithApple(ctx context.Context) (*Session, error)

	// Biometric auth.
	EnableBiometric(ctx context.Context) error
	SignInWithBiometric(ctx context.Context) (*Session, error)
	IsBiometricEnabled(ctx context.Context) (bool, error)

	// Session management.
	GetCurrentSession(ctx context.Context) (*Session, error)
	RefreshSession(ctx context.Context) (*Session, error)

	// Password reset.
	ResetPassword(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, newPassword string) error

	// User management.
	UpdateUser(ctx context.Context, updates UserUpdate) (*User, error)
	DeleteUser(ctx context.Context) error
}
