package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/apexkit/backend/internal/auth"
)

// Signup registers a new account and signs it in.
func (a *App) Signup(ctx context.Context) error {
	email, err := GetSimpleText(a.reader, "Email", os.Stdout)
	if err != nil {
		return err
	}
	name, err := GetSimpleText(a.reader, "Name (empty to derive from email)", os.Stdout)
	if err != nil {
		return err
	}
	password, err := GetPassword(os.Stdout)
	if err != nil {
		return err
	}

	if err := a.store.Signup(ctx, email, string(password), name); err != nil {
		printlnFn("Signup failed:", err)
		return err
	}
	printlnFn("Signed up as", email)
	return nil
}

// Login authenticates with email and password.
func (a *App) Login(ctx context.Context) error {
	email, err := GetSimpleText(a.reader, "Email", os.Stdout)
	if err != nil {
		return err
	}
	password, err := GetPassword(os.Stdout)
	if err != nil {
		return err
	}

	if err := a.store.Login(ctx, email, string(password)); err != nil {
		printlnFn("Login failed:", err)
		return err
	}
	printlnFn("Signed in as", email)
	return nil
}

// LoginPhone runs the OTP challenge flow.
func (a *App) LoginPhone(ctx context.Context) error {
	phone, err := GetSimpleText(a.reader, "Phone number", os.Stdout)
	if err != nil {
		return err
	}

	challenge, err := a.store.LoginWithPhone(ctx, phone)
	if err != nil {
		printlnFn("Could not start phone sign-in:", err)
		return err
	}

	code, err := GetSimpleText(a.reader, "Verification code", os.Stdout)
	if err != nil {
		return err
	}
	if err := a.store.VerifyPhone(ctx, phone, code, challenge.SessionID); err != nil {
		printlnFn("Verification failed:", err)
		return err
	}
	printlnFn("Signed in via phone", phone)
	return nil
}

func (a *App) LoginGoogle(ctx context.Context) error {
	if err := a.store.LoginWithGoogle(ctx); err != nil {
		printlnFn("Google sign-in failed:", err)
		return err
	}
	printlnFn("Signed in with Google")
	return nil
}

func (a *App) LoginApple(ctx context.Context) error {
	if err := a.store.LoginWithApple(ctx); err != nil {
		printlnFn("Apple sign-in failed:", err)
		return err
	}
	printlnFn("Signed in with Apple")
	return nil
}

func (a *App) LoginBiometric(ctx context.Context) error {
	if err := a.store.LoginWithBiometric(ctx); err != nil {
		printlnFn("Biometric sign-in failed:", err)
		return err
	}
	printlnFn("Signed in with biometrics")
	return nil
}

// EnableBiometric snapshots the current session for biometric sign-in.
func (a *App) EnableBiometric(ctx context.Context) error {
	if err := a.store.EnableBiometric(ctx); err != nil {
		printlnFn("Could not enable biometrics:", err)
		return err
	}
	printlnFn("Biometric sign-in enabled")
	return nil
}

// WhoAmI prints the current user.
func (a *App) WhoAmI(ctx context.Context) error {
	state := a.store.State()
	if state.User == nil {
		printlnFn("Not signed in")
		return nil
	}
	printlnFn(fmt.Sprintf("%s <%s>", state.User.Name, state.User.Email))
	if state.BiometricEnabled {
		printlnFn("Biometric sign-in: enabled")
	}
	return nil
}

func (a *App) Refresh(ctx context.Context) error {
	if err := a.store.RefreshSession(ctx); err != nil {
		printlnFn("Refresh failed:", err)
		return err
	}
	printlnFn("Session refreshed")
	return nil
}

// UpdateName changes the profile display name.
func (a *App) UpdateName(ctx context.Context) error {
	name, err := GetSimpleText(a.reader, "New display name", os.Stdout)
	if err != nil {
		return err
	}

	if err := a.store.UpdateUser(ctx, auth.UserUpdate{Name: &name}); err != nil {
		printlnFn("Update failed:", err)
		return err
	}
	printlnFn("Name updated to", name)
	return nil
}

func (a *App) ResetPassword(ctx context.Context) error {
	email, err := GetSimpleText(a.reader, "Account email", os.Stdout)
	if err != nil {
		return err
	}

	if err := a.store.ResetPassword(ctx, email); err != nil {
		printlnFn("Reset request failed:", err)
		return err
	}
	printlnFn("If the account exists, a reset email is on its way")
	return nil
}

func (a *App) Logout(ctx context.Context) error {
	if err := a.store.Logout(ctx); err != nil {
		printlnFn("Logout failed:", err)
		return err
	}
	printlnFn("Signed out")
	return nil
}
