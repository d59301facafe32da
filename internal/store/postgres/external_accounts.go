package postgres

import (
	"context"
	"errors"
	"fmt"

	"UserManagementServer/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

const externalAccountColumns = `id, user_id, provider, provider_id, email, created_at`

func scanExternalAccount(row pgx.Row) (domain.ExternalAccount, error) {
	var (
		acct   domain.ExternalAccount
		id     pgtype.UUID
		userID pgtype.UUID
		email  pgtype.Text
	)
	if err := row.Scan(&id, &userID, &acct.Provider, &acct.ProviderID, &email, &acct.CreatedAt); err != nil {
		return domain.ExternalAccount{}, err
	}
	acct.ID = uuidOrEmpty(id)
	acct.UserID = uuidOrEmpty(userID)
	acct.Email = textOrEmpty(email)
	return acct, nil
}

func (s *UsersStore) GetUserByExternalAccount(ctx context.Context, provider, providerID string) (domain.User, domain.ExternalAccount, error) {
	q := `SELECT ` + externalAccountColumns + ` FROM external_accounts WHERE provider = $1 AND provider_id = $2`
	acct, err := scanExternalAccount(s.pool.QueryRow(ctx, q, provider, providerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ExternalAccount{}, domain.ErrNotFound
		}
		return domain.User{}, domain.ExternalAccount{}, fmt.Errorf("get external account: %w", err)
	}
	u, err := s.GetUserByID(ctx, acct.UserID)
	if err != nil {
		return domain.User{}, domain.ExternalAccount{}, err
	}
	return u, acct, nil
}

// CreateUserWithExternalAccount inserts the user and the link atomically.
func (s *UsersStore) CreateUserWithExternalAccount(ctx context.Context, nu domain.NewUser, provider, providerID string) (domain.User, domain.ExternalAccount, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.User{}, domain.ExternalAccount{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	u, err := createUser(ctx, tx, nu)
	if err != nil {
		return domain.User{}, domain.ExternalAccount{}, err
	}
	acct, err := linkExternalAccount(ctx, tx, u.ID, provider, providerID, u.Email)
	if err != nil {
		return domain.User{}, domain.ExternalAccount{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.User{}, domain.ExternalAccount{}, fmt.Errorf("commit: %w", err)
	}
	return u, acct, nil
}

func (s *UsersStore) LinkExternalAccount(ctx context.Context, userID, provider, providerID, email string) (domain.ExternalAccount, error) {
	return linkExternalAccount(ctx, s.pool, userID, provider, providerID, email)
}

func linkExternalAccount(ctx context.Context, db queryRower, userID, provider, providerID, email string) (domain.ExternalAccount, error) {
	q := `
		INSERT INTO external_accounts (user_id, provider, provider_id, email)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + externalAccountColumns
	acct, err := scanExternalAccount(db.QueryRow(ctx, q, userID, provider, providerID, nullIfEmpty(email)))
	if err != nil {
		var pgerr *pgconn.PgError
		if errors.As(err, &pgerr) && pgerr.Code == "23505" {
			return domain.ExternalAccount{}, domain.ErrExternalAccountExists
		}
		return domain.ExternalAccount{}, fmt.Errorf("link external account: %w", err)
	}
	return acct, nil
}
