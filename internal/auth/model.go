// Package auth defines the authentication contract shared by all backend
// providers: the User and Session models, the Service interface, and the
// sentinel errors callers match with errors.Is.
package auth

import "strings"

// User is the identity record a provider returns once a session exists.
// At least one of Email/Phone is set for any user attached to a session.
type User struct {
	ID     string `json:"id"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

// Session bundles a user with its credential tokens. AccessToken is always
// present; RefreshToken may be empty for OAuth-derived sessions.
type Session struct {
	User         User   `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// PhoneChallenge identifies an in-flight OTP challenge started by
// SignInWithPhone. It is not a session.
type PhoneChallenge struct {
	SessionID string `json:"sessionId"`
}

// UserUpdate carries partial user changes for UpdateUser. Nil fields are
// left untouched.
type UserUpdate struct {
	Name   *string `json:"name,omitempty"`
	Avatar *string `json:"avatar,omitempty"`
	Phone  *string `json:"phone,omitempty"`
}

// DeriveName returns the display name for an account created without
// explicit metadata: the local part of the email address.
func DeriveName(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}
