package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"UserManagementServer/internal/auth"
	"UserManagementServer/internal/domain"
	"UserManagementServer/internal/nickname"
)

const (
	DefaultLockThreshold = 5
	nicknameRetries      = 10
)

type UsersStore interface {
	CreateUser(ctx context.Context, nu domain.NewUser) (domain.User, error)
	NicknameExists(ctx context.Context, nickname string) (bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByLogin(ctx context.Context, login string) (domain.UserWithPassword, error)
	GetUserByEmail(ctx context.Context, email string) (domain.UserWithPassword, error)
	GetVerificationTokenHash(ctx context.Context, userID string) (string, error)
	MarkEmailVerified(ctx context.Context, userID string) (domain.User, error)
	RecordLoginSuccess(ctx context.Context, userID string, when time.Time) error
	RecordLoginFailure(ctx context.Context, userID string, threshold int) (int, bool, error)
	GetUserByExternalAccount(ctx context.Context, provider, providerID string) (domain.User, domain.ExternalAccount, error)
	CreateUserWithExternalAccount(ctx context.Context, nu domain.NewUser, provider, providerID string) (domain.User, domain.ExternalAccount, error)
	LinkExternalAccount(ctx context.Context, userID, provider, providerID, email string) (domain.ExternalAccount, error)
}

type SessionsStore interface {
	CreateSession(ctx context.Context, userID string, expiresAt time.Time, ip, userAgent string) (string, error)
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	RevokeSession(ctx context.Context, sessionID string, when time.Time) error
}

// AttemptLimiter is the sliding-window limiter the login flow consults.
type AttemptLimiter interface {
	IsRateLimited(key string) (bool, time.Time)
	RecordAttempt(key string) bool
	Reset(key string)
}

type ExternalTokenVerifier interface {
	Verify(ctx context.Context, provider, token string) (*auth.ExternalTokenClaims, error)
}

// LoginObserver receives the outcome of every password login.
type LoginObserver func(result string)

const (
	LoginSuccess     = "success"
	LoginInvalid     = "invalid_credentials"
	LoginLocked      = "locked"
	LoginRateLimited = "rate_limited"
)

type AuthService struct {
	Users    UsersStore
	Sessions SessionsStore
	Limiter  AttemptLimiter
	Notifier Notifier
	IDTokens ExternalTokenVerifier

	// Nicknames generates candidate nicknames; nil uses the default word lists.
	Nicknames func() (string, error)

	SessionTTL    time.Duration
	LockThreshold int
	OnLogin       LoginObserver
	Logger        *slog.Logger
	Now           func() time.Time
}

type RegisterInput struct {
	Email    string
	Password string
	Profile  domain.ProfileUpdate
}

// Register creates an account. The very first account becomes a verified
// ADMIN; everyone else starts ANONYMOUS and receives a verification email.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (domain.User, error) {
	in.Email = normalizeEmail(in.Email)
	fields := map[string]string{}
	if msg := validateEmail(in.Email); msg != "" {
		fields["email"] = msg
	}
	if msg := validatePassword(in.Password); msg != "" {
		fields["password"] = msg
	}
	mergeValidation(fields, ValidateProfile(&in.Profile))
	if len(fields) > 0 {
		return domain.User{}, domain.NewValidationError(fields)
	}

	if _, err := s.Users.GetUserByEmail(ctx, in.Email); err == nil {
		return domain.User{}, domain.ErrEmailTaken
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, err
	}

	passwordHash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, err
	}
	nick, err := s.uniqueNickname(ctx)
	if err != nil {
		return domain.User{}, err
	}
	rawToken, tokenHash, err := auth.NewToken()
	if err != nil {
		return domain.User{}, err
	}

	u, err := s.Users.CreateUser(ctx, domain.NewUser{
		Email:                 in.Email,
		Nickname:              nick,
		PasswordHash:          passwordHash,
		Role:                  domain.RoleAnonymous,
		VerificationTokenHash: tokenHash,
		Profile:               in.Profile,
		PromoteIfFirst:        true,
	})
	if err != nil {
		return domain.User{}, err
	}

	if !u.EmailVerified && s.Notifier != nil {
		if err := s.Notifier.SendEmailVerification(ctx, u, rawToken); err != nil {
			s.logger().WarnContext(ctx, "verification email failed", "user_id", u.ID, "err", err)
		}
	}
	s.logger().InfoContext(ctx, "user registered", "user_id", u.ID, "role", string(u.Role))
	return u, nil
}

func (s *AuthService) VerifyEmail(ctx context.Context, userID, rawToken string) (domain.User, error) {
	stored, err := s.Users.GetVerificationTokenHash(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrVerificationInvalid
		}
		return domain.User{}, err
	}
	if !auth.TokenMatches(rawToken, stored) {
		return domain.User{}, domain.ErrVerificationInvalid
	}
	return s.Users.MarkEmailVerified(ctx, userID)
}

// LoginKey composes the limiter key for a login identifier and client IP.
func LoginKey(login, ip string) string {
	login = strings.ToLower(strings.TrimSpace(login))
	if ip == "" {
		return "user_" + login
	}
	return "ip_" + ip + ":user_" + login
}

// loginKeys returns the per-client key and the per-account key. The account
// key alone caps guesses against one login however many addresses they come
// from; without a client IP the two coincide.
func loginKeys(login, ip string) []string {
	account := LoginKey(login, "")
	if ip == "" {
		return []string{account}
	}
	return []string{LoginKey(login, ip), account}
}

// Login checks the limiter before touching the database, records the attempt
// up front, and clears the keys only after a successful password check.
func (s *AuthService) Login(ctx context.Context, login, password, ip, userAgent string) (domain.User, string, error) {
	now := s.now()
	login = strings.TrimSpace(login)
	keys := loginKeys(login, ip)

	if s.Limiter != nil {
		for _, key := range keys {
			if limited, until := s.Limiter.IsRateLimited(key); limited {
				s.observe(LoginRateLimited)
				return domain.User{}, "", &domain.RateLimitedError{Until: until}
			}
		}
		tripped := ""
		for _, key := range keys {
			if s.Limiter.RecordAttempt(key) && tripped == "" {
				tripped = key
			}
		}
		if tripped != "" {
			_, until := s.Limiter.IsRateLimited(tripped)
			s.logger().WarnContext(ctx, "login rate limit tripped", "key", tripped)
			s.observe(LoginRateLimited)
			return domain.User{}, "", &domain.RateLimitedError{Until: until}
		}
	}

	u, err := s.Users.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.observe(LoginInvalid)
			return domain.User{}, "", domain.ErrInvalidCredentials
		}
		return domain.User{}, "", err
	}

	ok, err := auth.VerifyPassword(u.PasswordHash, password)
	if err != nil {
		return domain.User{}, "", err
	}
	if !ok {
		s.recordFailure(ctx, u.User)
		s.observe(LoginInvalid)
		return domain.User{}, "", domain.ErrInvalidCredentials
	}
	if u.IsLocked {
		s.observe(LoginLocked)
		return domain.User{}, "", domain.ErrAccountLocked
	}

	if err := s.Users.RecordLoginSuccess(ctx, u.ID, now); err != nil {
		return domain.User{}, "", err
	}
	if s.Limiter != nil {
		for _, key := range keys {
			s.Limiter.Reset(key)
		}
	}

	sessID, err := s.Sessions.CreateSession(ctx, u.ID, now.Add(s.sessionTTL()), ip, userAgent)
	if err != nil {
		return domain.User{}, "", err
	}

	u.FailedLoginAttempts = 0
	u.LastLoginAt = &now
	s.observe(LoginSuccess)
	return u.User, sessID, nil
}

func (s *AuthService) recordFailure(ctx context.Context, u domain.User) {
	threshold := s.LockThreshold
	if threshold <= 0 {
		threshold = DefaultLockThreshold
	}
	attempts, lockedNow, err := s.Users.RecordLoginFailure(ctx, u.ID, threshold)
	if err != nil {
		s.logger().ErrorContext(ctx, "record login failure", "user_id", u.ID, "err", err)
		return
	}
	if !lockedNow {
		return
	}
	s.logger().WarnContext(ctx, "account locked", "user_id", u.ID, "failed_attempts", attempts)
	if s.Notifier != nil {
		if err := s.Notifier.SendAccountLocked(ctx, u); err != nil {
			s.logger().WarnContext(ctx, "account locked email failed", "user_id", u.ID, "err", err)
		}
	}
}

func (s *AuthService) LoginWithGoogle(ctx context.Context, idToken, ip, userAgent string) (domain.User, string, error) {
	return s.LoginWithExternal(ctx, auth.ProviderGoogle, idToken, ip, userAgent)
}

func (s *AuthService) LoginWithApple(ctx context.Context, idToken, ip, userAgent string) (domain.User, string, error) {
	return s.LoginWithExternal(ctx, auth.ProviderApple, idToken, ip, userAgent)
}

// LoginWithExternal signs in with a third-party ID token, linking or creating
// the local account by verified email.
func (s *AuthService) LoginWithExternal(ctx context.Context, provider, idToken, ip, userAgent string) (domain.User, string, error) {
	if s.IDTokens == nil {
		return domain.User{}, "", auth.ErrProviderDisabled
	}
	claims, err := s.IDTokens.Verify(ctx, provider, idToken)
	if err != nil {
		if errors.Is(err, auth.ErrProviderDisabled) {
			return domain.User{}, "", err
		}
		s.logger().InfoContext(ctx, "external token rejected", "provider", provider, "err", err)
		return domain.User{}, "", domain.ErrInvalidCredentials
	}
	if claims.Subject == "" {
		return domain.User{}, "", domain.ErrInvalidCredentials
	}

	u, _, err := s.Users.GetUserByExternalAccount(ctx, provider, claims.Subject)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		u, err = s.linkOrCreateExternal(ctx, provider, claims)
		if err != nil {
			return domain.User{}, "", err
		}
	default:
		return domain.User{}, "", err
	}

	if u.IsLocked {
		return domain.User{}, "", domain.ErrAccountLocked
	}

	now := s.now()
	if err := s.Users.RecordLoginSuccess(ctx, u.ID, now); err != nil {
		return domain.User{}, "", err
	}
	sessID, err := s.Sessions.CreateSession(ctx, u.ID, now.Add(s.sessionTTL()), ip, userAgent)
	if err != nil {
		return domain.User{}, "", err
	}
	u.LastLoginAt = &now
	return u, sessID, nil
}

func (s *AuthService) linkOrCreateExternal(ctx context.Context, provider string, claims *auth.ExternalTokenClaims) (domain.User, error) {
	emailAddr := normalizeEmail(claims.Email)
	if emailAddr == "" || !claims.EmailVerified {
		return domain.User{}, domain.NewValidationError(map[string]string{"email": "provider did not supply a verified email"})
	}

	existing, err := s.Users.GetUserByEmail(ctx, emailAddr)
	if err == nil {
		if _, err := s.Users.LinkExternalAccount(ctx, existing.ID, provider, claims.Subject, emailAddr); err != nil {
			return domain.User{}, err
		}
		return existing.User, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, err
	}

	// External accounts never log in with a password; store an unguessable one.
	raw, _, err := auth.NewToken()
	if err != nil {
		return domain.User{}, err
	}
	passwordHash, err := auth.HashPassword(raw)
	if err != nil {
		return domain.User{}, err
	}
	nick, err := s.uniqueNickname(ctx)
	if err != nil {
		return domain.User{}, err
	}
	u, _, err := s.Users.CreateUserWithExternalAccount(ctx, domain.NewUser{
		Email:         emailAddr,
		Nickname:      nick,
		PasswordHash:  passwordHash,
		Role:          domain.RoleAuthenticated,
		EmailVerified: true,
	}, provider, claims.Subject)
	if err != nil {
		return domain.User{}, err
	}
	s.logger().InfoContext(ctx, "user registered", "user_id", u.ID, "provider", provider)
	return u, nil
}

func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	return s.Sessions.RevokeSession(ctx, sessionID, s.now())
}

func (s *AuthService) GetUserForSession(ctx context.Context, sessionID string) (domain.User, error) {
	sess, err := s.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrUnauthorized
		}
		return domain.User{}, err
	}

	u, err := s.Users.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrUnauthorized
		}
		return domain.User{}, err
	}
	if u.IsLocked {
		return domain.User{}, domain.ErrAccountLocked
	}
	return u, nil
}

func (s *AuthService) uniqueNickname(ctx context.Context) (string, error) {
	return generateNickname(ctx, s.Nicknames, s.Users.NicknameExists)
}

// generateNickname retries gen until exists reports a free nickname.
func generateNickname(ctx context.Context, gen func() (string, error), exists func(context.Context, string) (bool, error)) (string, error) {
	if gen == nil {
		gen = nickname.New().Generate
	}
	for i := 0; i < nicknameRetries; i++ {
		nick, err := gen()
		if err != nil {
			return "", err
		}
		taken, err := exists(ctx, nick)
		if err != nil {
			return "", err
		}
		if !taken {
			return nick, nil
		}
	}
	return "", fmt.Errorf("no free nickname after %d tries: %w", nicknameRetries, domain.ErrNicknameTaken)
}

func (s *AuthService) observe(result string) {
	if s.OnLogin != nil {
		s.OnLogin(result)
	}
}

func (s *AuthService) sessionTTL() time.Duration {
	if s.SessionTTL <= 0 {
		return 24 * time.Hour
	}
	return s.SessionTTL
}

func (s *AuthService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *AuthService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
