package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/tribes-rights-management/tribesportal/internal/clock"
	"github.com/tribes-rights-management/tribesportal/internal/config"
	"github.com/tribes-rights-management/tribesportal/internal/identity/domain"
	"github.com/tribes-rights-management/tribesportal/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16

	sessionTokenBytes = 32
	signInTokenTTL    = 15 * time.Minute

	minPasswordLength = 8

	defaultPlatformRole = "platform_user"
	defaultDensity      = "comfortable"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	Cfg         config.Config
	Policy      *config.PolicyHolder
	Clock       clock.Clock
	Repo        domain.Repository
	ProfileRepo domain.ProfileRepository
	SessionRepo domain.SessionRepository
	TokenRepo   domain.TokenRepository
	Mailer      email.Provider
	GenID       *snowflake.Node
}

type Service struct {
	log         *zap.Logger
	cfg         config.Config
	policy      *config.PolicyHolder
	clock       clock.Clock
	repo        domain.Repository
	profileRepo domain.ProfileRepository
	sessionRepo domain.SessionRepository
	tokenRepo   domain.TokenRepository
	mailer      email.Provider
	genID       *snowflake.Node
}

func New(p Params) domain.Service {
	return &Service{
		log:         p.Log.Named("identity.service"),
		cfg:         p.Cfg,
		policy:      p.Policy,
		clock:       p.Clock,
		repo:        p.Repo,
		profileRepo: p.ProfileRepo,
		sessionRepo: p.SessionRepo,
		tokenRepo:   p.TokenRepo,
		mailer:      p.Mailer,
		genID:       p.GenID,
	}
}

func (s *Service) StartSignIn(ctx context.Context, req domain.StartSignInRequest) error {
	address, err := normalizeEmail(req.Email)
	if err != nil {
		return domain.ErrInvalidCredentials
	}

	rawToken, err := newOpaqueToken()
	if err != nil {
		return err
	}

	now := s.clock.Now()
	token := &domain.SignInToken{
		ID:        s.genID.Generate(),
		Email:     address,
		TokenHash: hashToken(rawToken),
		ExpiresAt: now.Add(signInTokenTTL),
		CreatedAt: now,
	}
	if err := s.tokenRepo.CreateToken(ctx, token); err != nil {
		return err
	}

	// Mail delivery is fire-and-forget: the sign-in flow must not surface
	// transport failures, and unknown addresses look identical to known
	// ones from the caller's side.
	link := fmt.Sprintf("%s/auth/complete?token=%s", strings.TrimRight(s.cfg.SignInBaseURL, "/"), rawToken)
	if err := s.mailer.Send(ctx, []string{address}, "Sign in to Tribes Portal",
		fmt.Sprintf(`<p>Follow <a href=%q>this link</a> to sign in. The link expires in 15 minutes.</p>`, link)); err != nil {
		s.log.Warn("sign-in mail delivery failed", zap.Error(err))
	}

	return nil
}

func (s *Service) CompleteSignIn(ctx context.Context, req domain.CompleteSignInRequest) (*domain.LoginResult, error) {
	raw := strings.TrimSpace(req.Token)
	if raw == "" {
		return nil, domain.ErrInvalidToken
	}

	token, err := s.tokenRepo.GetTokenByHash(ctx, hashToken(raw))
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if token.ConsumedAt != nil || now.After(token.ExpiresAt) {
		return nil, domain.ErrInvalidToken
	}
	if err := s.tokenRepo.ConsumeToken(ctx, token.ID, now); err != nil {
		return nil, err
	}

	user, err := s.repo.FindByEmail(ctx, token.Email)
	if errors.Is(err, domain.ErrUserNotFound) {
		user, err = s.createUser(ctx, token.Email, "", nil)
	}
	if err != nil {
		return nil, err
	}

	profile, err := s.ensureProfile(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if profile.Status == "revoked" {
		return nil, domain.ErrProfileInactive
	}

	return s.openSession(ctx, user, profile, req.UserAgent, req.IPAddress)
}

func (s *Service) LoginWithPassword(ctx context.Context, req domain.LoginRequest) (*domain.LoginResult, error) {
	address, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if strings.TrimSpace(req.Password) == "" {
		return nil, domain.ErrInvalidCredentials
	}

	user, err := s.repo.FindByEmail(ctx, address)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if user.PasswordHash == nil || !verifyPassword(req.Password, *user.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}

	profile, err := s.ensureProfile(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if profile.Status == "revoked" {
		return nil, domain.ErrProfileInactive
	}

	return s.openSession(ctx, user, profile, req.UserAgent, req.IPAddress)
}

func (s *Service) CreateUser(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error) {
	address, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if strings.TrimSpace(req.Password) == "" || len(strings.TrimSpace(req.Password)) < minPasswordLength {
		return nil, domain.ErrInvalidCredentials
	}

	if _, err := s.repo.FindByEmail(ctx, address); err == nil {
		return nil, domain.ErrUserExists
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	return s.createUser(ctx, address, req.DisplayName, &hashed)
}

func (s *Service) Authenticate(ctx context.Context, rawToken string) (*domain.Session, error) {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return nil, domain.ErrInvalidSession
	}

	session, err := s.sessionRepo.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrInvalidSession
		}
		return nil, err
	}

	if session.RevokedAt != nil {
		return nil, domain.ErrSessionRevoked
	}

	policy := s.policy.Current().Session
	now := s.clock.Now()
	age := now.Sub(session.StartedAt)

	// The absolute lifetime clock runs from session start unconditionally.
	if age >= policy.AbsoluteLifetime {
		s.revoke(ctx, session.ID, domain.ReasonMaxSession)
		return nil, domain.ErrSessionExpired
	}

	// The grace window after sign-in suppresses idle evaluation so the
	// auth-callback redirect chain cannot expire a fresh session.
	if age >= policy.SignInGrace {
		idleDeadline := session.LastActivityAt.Add(policy.IdleTimeout + policy.WarningCountdown)
		if !now.Before(idleDeadline) {
			s.revoke(ctx, session.ID, domain.ReasonIdle)
			return nil, domain.ErrSessionExpired
		}
	}

	// Token resolution is not qualifying activity: the idle clock moves
	// only through the timeout state machine, so passive polls never keep
	// a session alive.
	return session, nil
}

func (s *Service) SignOut(ctx context.Context, rawToken string, reason domain.SignOutReason) error {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return domain.ErrInvalidSession
	}

	session, err := s.sessionRepo.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.ErrInvalidSession
		}
		return err
	}

	return s.RevokeSession(ctx, session.ID, reason)
}

func (s *Service) RevokeSession(ctx context.Context, sessionID snowflake.ID, reason domain.SignOutReason) error {
	return s.sessionRepo.RevokeSession(ctx, sessionID, s.clock.Now(), reason)
}

func (s *Service) GetUser(ctx context.Context, userID snowflake.ID) (*domain.User, error) {
	return s.repo.FindByID(ctx, userID)
}

func (s *Service) GetProfile(ctx context.Context, userID snowflake.ID) (*domain.Profile, error) {
	return s.profileRepo.FindByUserID(ctx, userID)
}

func (s *Service) SetDensityPreference(ctx context.Context, userID snowflake.ID, density string) error {
	density = strings.TrimSpace(density)
	if density == "" {
		density = defaultDensity
	}
	return s.profileRepo.UpdateFields(ctx, userID, map[string]any{
		"density_preference": density,
		"updated_at":         s.clock.Now(),
	})
}

func (s *Service) SetProfileStatus(ctx context.Context, userID snowflake.ID, status string) error {
	switch status {
	case "active", "suspended", "revoked":
	default:
		return domain.ErrInvalidStatus
	}
	return s.profileRepo.UpdateFields(ctx, userID, map[string]any{
		"status":     status,
		"updated_at": s.clock.Now(),
	})
}

func (s *Service) createUser(ctx context.Context, address, displayName string, passwordHash *string) (*domain.User, error) {
	now := s.clock.Now()
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = defaultDisplayName(address)
	}
	user := &domain.User{
		ID:           s.genID.Generate(),
		ExternalID:   uuid.NewString(),
		Email:        address,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ensureProfile creates the application profile on first sign-in
// completion. Subsequent sign-ins read the existing record.
func (s *Service) ensureProfile(ctx context.Context, userID snowflake.ID) (*domain.Profile, error) {
	profile, err := s.profileRepo.FindByUserID(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, domain.ErrProfileNotFound) {
		return nil, err
	}

	now := s.clock.Now()
	profile = &domain.Profile{
		UserID:            userID,
		PlatformRole:      defaultPlatformRole,
		Status:            "active",
		DensityPreference: defaultDensity,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.profileRepo.Create(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *Service) openSession(ctx context.Context, user *domain.User, profile *domain.Profile, userAgent, ipAddress string) (*domain.LoginResult, error) {
	rawToken, err := newOpaqueToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	session := &domain.Session{
		ID:               s.genID.Generate(),
		UserID:           user.ID,
		SessionTokenHash: hashToken(rawToken),
		UserAgent:        strings.TrimSpace(userAgent),
		IPAddress:        strings.TrimSpace(ipAddress),
		StartedAt:        now,
		LastActivityAt:   now,
		CreatedAt:        now,
	}
	if err := s.sessionRepo.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	expiresAt := now.Add(s.policy.Current().Session.AbsoluteLifetime)
	return &domain.LoginResult{
		Session: &domain.SessionView{
			Metadata: map[string]any{
				"user_id":            user.ID.String(),
				"external_id":        user.ExternalID,
				"display_name":       user.DisplayName,
				"email":              user.Email,
				"platform_role":      profile.PlatformRole,
				"profile_status":     profile.Status,
				"density_preference": profile.DensityPreference,
			},
		},
		RawToken:  rawToken,
		ExpiresAt: expiresAt,
		SessionID: session.ID,
		UserID:    user.ID,
	}, nil
}

func (s *Service) revoke(ctx context.Context, sessionID snowflake.ID, reason domain.SignOutReason) {
	if err := s.sessionRepo.RevokeSession(ctx, sessionID, s.clock.Now(), reason); err != nil {
		// Fail open to logged-out: the caller still treats the session as
		// gone; the next authenticated action hits the same expiry check.
		s.log.Warn("session revoke failed", zap.String("session_id", sessionID.String()), zap.Error(err))
	}
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(addr.Address)), nil
}

func defaultDisplayName(address string) string {
	parts := strings.Split(address, "@")
	if len(parts) > 0 && strings.TrimSpace(parts[0]) != "" {
		return strings.TrimSpace(parts[0])
	}
	return address
}

func newOpaqueToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	saltB64 := base64.RawStdEncoding.EncodeToString(salt)
	hashB64 := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", argonMemory, argonTime, argonThreads, saltB64, hashB64), nil
}

func verifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return false
	}

	var memory uint32
	var timeCost uint32
	var threads uint8
	{
		params := strings.Split(parts[3], ",")
		if len(params) != 3 {
			return false
		}

		m, ok := strings.CutPrefix(params[0], "m=")
		if !ok {
			return false
		}
		t, ok := strings.CutPrefix(params[1], "t=")
		if !ok {
			return false
		}
		p, ok := strings.CutPrefix(params[2], "p=")
		if !ok {
			return false
		}

		m64, err := strconv.ParseUint(m, 10, 32)
		if err != nil {
			return false
		}
		t64, err := strconv.ParseUint(t, 10, 32)
		if err != nil {
			return false
		}
		p64, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return false
		}

		memory = uint32(m64)
		timeCost = uint32(t64)
		threads = uint8(p64)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	check := argon2.IDKey([]byte(password), salt, timeCost, memory, threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, check) == 1
}
