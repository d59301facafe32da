package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"UserManagementServer/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PasswordResetStore struct {
	pool *pgxpool.Pool
}

func NewPasswordResetStore(pool *pgxpool.Pool) *PasswordResetStore {
	return &PasswordResetStore{pool: pool}
}

func (s *PasswordResetStore) CreateResetToken(ctx context.Context, token domain.PasswordResetToken) error {
	const q = `
		INSERT INTO password_reset_tokens (user_id, token_hash, sent_to_email, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.pool.Exec(ctx, q, token.UserID, token.TokenHash, token.SentToEmail, token.CreatedAt, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create reset token: %w", err)
	}
	return nil
}

func (s *PasswordResetStore) GetResetTokenByHash(ctx context.Context, tokenHash string) (domain.PasswordResetToken, error) {
	const q = `
		SELECT id, user_id, token_hash, sent_to_email, created_at, expires_at, used_at
		FROM password_reset_tokens
		WHERE token_hash = $1
	`

	var (
		token  domain.PasswordResetToken
		id     pgtype.UUID
		userID pgtype.UUID
		usedAt pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx, q, tokenHash).Scan(
		&id,
		&userID,
		&token.TokenHash,
		&token.SentToEmail,
		&token.CreatedAt,
		&token.ExpiresAt,
		&usedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PasswordResetToken{}, domain.ErrNotFound
		}
		return domain.PasswordResetToken{}, fmt.Errorf("get reset token: %w", err)
	}
	token.ID = uuidOrEmpty(id)
	token.UserID = uuidOrEmpty(userID)
	token.UsedAt = timestamptzPtr(usedAt)
	return token, nil
}

// ConsumeResetToken spends the token and installs passwordHash for its owner
// in one transaction. A token that is already spent reports ErrNotFound and
// leaves the password untouched; a failed password update leaves the token
// unspent.
func (s *PasswordResetStore) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, when time.Time) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `
		UPDATE password_reset_tokens
		SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL
		RETURNING user_id
	`
	var userID pgtype.UUID
	if err := tx.QueryRow(ctx, q, tokenHash, when).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("mark reset token used: %w", err)
	}
	id := uuidOrEmpty(userID)
	if err := setPasswordHash(ctx, tx, id, passwordHash); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}
