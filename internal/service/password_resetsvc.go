package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"UserManagementServer/internal/auth"
	"UserManagementServer/internal/domain"
)

type PasswordResetStore interface {
	CreateResetToken(ctx context.Context, token domain.PasswordResetToken) error
	GetResetTokenByHash(ctx context.Context, tokenHash string) (domain.PasswordResetToken, error)
	// ConsumeResetToken spends the token and sets the owner's password
	// atomically, returning the owner. A spent token reports ErrNotFound.
	ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, when time.Time) (string, error)
}

type ResetUsersStore interface {
	GetUserByEmail(ctx context.Context, email string) (domain.UserWithPassword, error)
}

type SessionRevoker interface {
	RevokeUserSessions(ctx context.Context, userID string, when time.Time) error
}

type PasswordResetService struct {
	Store    PasswordResetStore
	Users    ResetUsersStore
	Sessions SessionRevoker
	Limiter  AttemptLimiter
	Notifier Notifier
	TokenTTL time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// RequestReset emails a reset link when the address belongs to an account.
// Unknown addresses and per-email throttling are silent so the response never
// reveals whether an account exists; per-IP throttling is reported.
func (s *PasswordResetService) RequestReset(ctx context.Context, emailAddr, ip string) error {
	emailAddr = normalizeEmail(emailAddr)
	if msg := validateEmail(emailAddr); msg != "" {
		return domain.NewValidationError(map[string]string{"email": msg})
	}

	if s.Limiter != nil {
		if ip != "" {
			ipKey := "forgot_ip_" + ip
			if limited, until := s.Limiter.IsRateLimited(ipKey); limited {
				return &domain.RateLimitedError{Until: until}
			}
			s.Limiter.RecordAttempt(ipKey)
		}
		emailKey := "forgot_email_" + emailAddr
		if limited, _ := s.Limiter.IsRateLimited(emailKey); limited {
			s.logger().InfoContext(ctx, "password reset throttled", "key", emailKey)
			return nil
		}
		s.Limiter.RecordAttempt(emailKey)
	}

	u, err := s.Users.GetUserByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	raw, expires, err := s.CreateResetToken(ctx, u.ID, u.Email)
	if err != nil {
		return err
	}
	if s.Notifier != nil {
		if err := s.Notifier.SendPasswordReset(ctx, u.User, raw, expires); err != nil {
			s.logger().WarnContext(ctx, "password reset email failed", "user_id", u.ID, "err", err)
		}
	}
	return nil
}

func (s *PasswordResetService) CreateResetToken(ctx context.Context, userID, sentToEmail string) (string, time.Time, error) {
	if s.Store == nil {
		return "", time.Time{}, fmt.Errorf("reset store unavailable")
	}
	if userID == "" || sentToEmail == "" {
		return "", time.Time{}, fmt.Errorf("user id and email are required")
	}
	ttl := s.TokenTTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}

	raw, tokenHash, err := auth.NewToken()
	if err != nil {
		return "", time.Time{}, err
	}

	now := s.now()
	token := domain.PasswordResetToken{
		UserID:      userID,
		TokenHash:   tokenHash,
		SentToEmail: sentToEmail,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := s.Store.CreateResetToken(ctx, token); err != nil {
		return "", time.Time{}, err
	}
	return raw, token.ExpiresAt, nil
}

// ResetPassword consumes a token, sets the new password, clears any lockout
// and signs the user out of existing sessions.
func (s *PasswordResetService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if s.Store == nil {
		return fmt.Errorf("reset service unavailable")
	}
	if msg := validatePassword(newPassword); msg != "" {
		return domain.NewValidationError(map[string]string{"password": msg})
	}

	tokenHash := auth.HashToken(rawToken)
	token, err := s.Store.GetResetTokenByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrResetTokenInvalid
		}
		return err
	}
	if token.UsedAt != nil {
		return domain.ErrResetTokenInvalid
	}
	now := s.now()
	if !token.ExpiresAt.After(now) {
		return domain.ErrResetTokenExpired
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	userID, err := s.Store.ConsumeResetToken(ctx, tokenHash, hash, now)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrResetTokenInvalid
		}
		return err
	}
	if s.Sessions != nil {
		if err := s.Sessions.RevokeUserSessions(ctx, userID, now); err != nil {
			s.logger().WarnContext(ctx, "revoke sessions after reset", "user_id", userID, "err", err)
		}
	}
	return nil
}

func (s *PasswordResetService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *PasswordResetService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
