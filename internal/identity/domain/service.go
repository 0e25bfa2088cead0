package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SignOutReason is carried to the post-logout destination so the UI can
// explain why the user was signed out.
type SignOutReason string

const (
	ReasonIdle       SignOutReason = "idle"
	ReasonMaxSession SignOutReason = "max-session"
	ReasonManual     SignOutReason = "manual"
)

//go:generate mockgen -source=service.go -destination=../mocks/mock_service.go -package=mocks
type Service interface {
	// StartSignIn begins a passwordless sign-in for an email. The sign-in
	// link is handed to the outbound mail boundary fire-and-forget; a mail
	// failure does not fail the call. Unknown emails are not an error (no
	// account probing).
	StartSignIn(ctx context.Context, req StartSignInRequest) error
	// CompleteSignIn consumes a one-time token, creates a session and
	// ensures a profile exists for the user (first-completion creation).
	CompleteSignIn(ctx context.Context, req CompleteSignInRequest) (*LoginResult, error)
	// LoginWithPassword authenticates a local credential.
	LoginWithPassword(ctx context.Context, req LoginRequest) (*LoginResult, error)
	CreateUser(ctx context.Context, req CreateUserRequest) (*User, error)
	// Authenticate resolves an opaque session token, enforcing revocation,
	// idle timeout and the absolute session lifetime.
	Authenticate(ctx context.Context, rawToken string) (*Session, error)
	// SignOut revokes the session carrying the given token. Local state is
	// considered signed out even when the revoke write fails.
	SignOut(ctx context.Context, rawToken string, reason SignOutReason) error
	// RevokeSession revokes by session id; used by the policy sweep and the
	// timeout state machine.
	RevokeSession(ctx context.Context, sessionID snowflake.ID, reason SignOutReason) error
	GetUser(ctx context.Context, userID snowflake.ID) (*User, error)
	GetProfile(ctx context.Context, userID snowflake.ID) (*Profile, error)
	SetDensityPreference(ctx context.Context, userID snowflake.ID, density string) error
	// SetProfileStatus suspends/revokes/reactivates a profile. Profiles are
	// never deleted.
	SetProfileStatus(ctx context.Context, userID snowflake.ID, status string) error
}

type StartSignInRequest struct {
	Email string
}

type CompleteSignInRequest struct {
	Token     string
	UserAgent string
	IPAddress string
}

type LoginRequest struct {
	Email     string
	Password  string
	UserAgent string
	IPAddress string
}

type CreateUserRequest struct {
	Email       string
	Password    string
	DisplayName string
}

type LoginResult struct {
	Session   *SessionView
	RawToken  string
	ExpiresAt time.Time
	SessionID snowflake.ID
	UserID    snowflake.ID
}
