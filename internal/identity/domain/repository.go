package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

//go:generate mockgen -source=repository.go -destination=../mocks/mock_repository.go -package=mocks

type Repository interface {
	Create(ctx context.Context, user *User) error
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id snowflake.ID) (*User, error)
	UpdateFields(ctx context.Context, id snowflake.ID, fields map[string]any) error
}

type ProfileRepository interface {
	Create(ctx context.Context, profile *Profile) error
	FindByUserID(ctx context.Context, userID snowflake.ID) (*Profile, error)
	UpdateFields(ctx context.Context, userID snowflake.ID, fields map[string]any) error
}

type SessionRepository interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	GetSessionByID(ctx context.Context, sessionID snowflake.ID) (*Session, error)
	UpdateLastActivity(ctx context.Context, sessionID snowflake.ID, at time.Time) error
	RevokeSession(ctx context.Context, sessionID snowflake.ID, revokedAt time.Time, reason SignOutReason) error
	// ListLive returns unrevoked sessions for the server-side policy sweep.
	ListLive(ctx context.Context, limit int) ([]*Session, error)
}

type TokenRepository interface {
	CreateToken(ctx context.Context, token *SignInToken) error
	GetTokenByHash(ctx context.Context, tokenHash string) (*SignInToken, error)
	ConsumeToken(ctx context.Context, tokenID snowflake.ID, consumedAt time.Time) error
}
