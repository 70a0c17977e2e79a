package hosted

import (
	"fmt"

	"github.com/apexkit/backend/internal/auth"
)

// Wire shapes of the identity service's JSON responses. Mapping into the
// auth model is explicit and fails fast on missing required fields instead
// of propagating zero values.

type wireUser struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	Phone        string            `json:"phone"`
	UserMetadata map[string]string `json:"user_metadata"`
}

type wireSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	User         *wireUser `json:"user"`
}

type wireError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"msg"`
}

type wireChallenge struct {
	ChallengeID string `json:"challenge_id"`
}

type wireAuthorize struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

func mapUser(w *wireUser) (*auth.User, error) {
	if w == nil || w.ID == "" {
		return nil, fmt.Errorf("%w: identity response missing user id", auth.ErrTransport)
	}

	name := w.UserMetadata["name"]
	if name == "" && w.Email != "" {
		name = auth.DeriveName(w.Email)
	}

	return &auth.User{
		ID:     w.ID,
		Email:  w.Email,
		Name:   name,
		Avatar: w.UserMetadata["avatar_url"],
		Phone:  w.Phone,
	}, nil
}

func mapSession(w *wireSession) (*auth.Session, error) {
	if w == nil || w.AccessToken == "" {
		return nil, fmt.Errorf("%w: identity response missing access token", auth.ErrTransport)
	}
	user, err := mapUser(w.User)
	if err != nil {
		return nil, err
	}
	return &auth.Session{
		User:         *user,
		AccessToken:  w.AccessToken,
		RefreshToken: w.RefreshToken,
	}, nil
}

// mapError translates an identity error payload into the shared taxonomy.
// Unknown codes are surfaced as transport errors with the cause preserved.
func mapError(status int, w *wireError) error {
	if w != nil {
		switch w.ErrorCode {
		case "invalid_credentials":
			return auth.ErrInvalidCredentials
		case "user_already_exists":
			return auth.ErrDuplicateAccount
		case "invalid_otp":
			return auth.ErrInvalidCode
		case "session_not_found":
			return auth.ErrNoSessionToRefresh
		case "not_admin":
			return auth.ErrRequiresElevatedPrivilege
		case "not_implemented":
			return auth.ErrNotImplemented
		}
		return fmt.Errorf("%w: identity service error %q (http %d): %s",
			auth.ErrTransport, w.ErrorCode, status, w.Message)
	}
	return fmt.Errorf("%w: identity service returned http %d", auth.ErrTransport, status)
}
