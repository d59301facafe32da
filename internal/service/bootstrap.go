package service

import (
	"context"
	"errors"
	"fmt"

	"UserManagementServer/internal/auth"
	"UserManagementServer/internal/domain"
)

type BootstrapStore interface {
	CreateUser(ctx context.Context, nu domain.NewUser) (domain.User, error)
	NicknameExists(ctx context.Context, nickname string) (bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.UserWithPassword, error)
}

// BootstrapAdmin creates a verified ADMIN with the given credentials unless an
// account with that email already exists. It reports whether it created one.
func BootstrapAdmin(ctx context.Context, users BootstrapStore, emailAddr, password string, nicknames func() (string, error)) (bool, error) {
	emailAddr = normalizeEmail(emailAddr)
	fields := map[string]string{}
	if msg := validateEmail(emailAddr); msg != "" {
		fields["email"] = msg
	}
	if msg := validatePassword(password); msg != "" {
		fields["password"] = msg
	}
	if len(fields) > 0 {
		return false, domain.NewValidationError(fields)
	}

	if _, err := users.GetUserByEmail(ctx, emailAddr); err == nil {
		return false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return false, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	nick, err := generateNickname(ctx, nicknames, users.NicknameExists)
	if err != nil {
		return false, err
	}

	_, err = users.CreateUser(ctx, domain.NewUser{
		Email:         emailAddr,
		Nickname:      nick,
		PasswordHash:  hash,
		Role:          domain.RoleAdmin,
		EmailVerified: true,
	})
	if err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			return false, nil
		}
		return false, fmt.Errorf("create user: %w", err)
	}
	return true, nil
}
