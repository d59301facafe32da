package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"UserManagementServer/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsersStore struct {
	pool *pgxpool.Pool
}

func NewUsersStore(pool *pgxpool.Pool) *UsersStore {
	return &UsersStore{pool: pool}
}

// firstUserLockID serialises registrations that may become the first account.
const firstUserLockID = 7_311_204_552

// CreateUser inserts nu. With PromoteIfFirst set, the emptiness check and the
// insert run in one transaction under an advisory lock, so at most one
// concurrent registration is promoted.
func (s *UsersStore) CreateUser(ctx context.Context, nu domain.NewUser) (domain.User, error) {
	if !nu.PromoteIfFirst {
		return createUser(ctx, s.pool, nu)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.User{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(firstUserLockID)); err != nil {
		return domain.User{}, fmt.Errorf("acquire first user lock: %w", err)
	}
	var empty bool
	if err := tx.QueryRow(ctx, `SELECT NOT EXISTS (SELECT 1 FROM users)`).Scan(&empty); err != nil {
		return domain.User{}, fmt.Errorf("check first user: %w", err)
	}
	if empty {
		nu = nu.AsFirstUser()
	}
	u, err := createUser(ctx, tx, nu)
	if err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.User{}, fmt.Errorf("commit: %w", err)
	}
	return u, nil
}

// queryRower is satisfied by both the pool and a transaction.
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func createUser(ctx context.Context, db queryRower, nu domain.NewUser) (domain.User, error) {
	q := `
		INSERT INTO users (
			email, nickname, password_hash, role, email_verified, verification_token_hash,
			first_name, last_name, bio, profile_picture_url, linkedin_profile_url, github_profile_url
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + userColumns

	p := nu.Profile
	u, err := scanUser(db.QueryRow(ctx, q,
		nu.Email,
		nu.Nickname,
		nu.PasswordHash,
		string(nu.Role),
		nu.EmailVerified,
		nullIfEmpty(nu.VerificationTokenHash),
		p.FirstName, p.LastName, p.Bio, p.ProfilePictureURL, p.LinkedInProfileURL, p.GitHubProfileURL,
	))
	if err != nil {
		return domain.User{}, mapUserWriteError("create user", err)
	}
	return u, nil
}

func (s *UsersStore) NicknameExists(ctx context.Context, nickname string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE nickname = $1)`, nickname).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("nickname exists: %w", err)
	}
	return exists, nil
}

func (s *UsersStore) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// GetUserByLogin accepts either an email address or a nickname.
func (s *UsersStore) GetUserByLogin(ctx context.Context, login string) (domain.UserWithPassword, error) {
	q := `
		SELECT ` + userColumns + `, password_hash
		FROM users
		WHERE nickname = $1 OR email = lower($1)
		ORDER BY (nickname = $1) DESC
		LIMIT 1
	`
	return s.getUserWithPassword(ctx, "get user by login", q, login)
}

func (s *UsersStore) GetUserByEmail(ctx context.Context, email string) (domain.UserWithPassword, error) {
	q := `SELECT ` + userColumns + `, password_hash FROM users WHERE email = $1`
	return s.getUserWithPassword(ctx, "get user by email", q, email)
}

func (s *UsersStore) getUserWithPassword(ctx context.Context, op, q string, arg string) (domain.UserWithPassword, error) {
	var hash string
	u, err := scanUser(s.pool.QueryRow(ctx, q, arg), &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserWithPassword{}, domain.ErrNotFound
		}
		return domain.UserWithPassword{}, fmt.Errorf("%s: %w", op, err)
	}
	return domain.UserWithPassword{User: u, PasswordHash: hash}, nil
}

func (s *UsersStore) GetVerificationTokenHash(ctx context.Context, userID string) (string, error) {
	var hash *string
	err := s.pool.QueryRow(ctx, `SELECT verification_token_hash FROM users WHERE id = $1`, userID).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("get verification token: %w", err)
	}
	if hash == nil {
		return "", nil
	}
	return *hash, nil
}

// MarkEmailVerified clears the verification token and promotes anonymous
// users to authenticated.
func (s *UsersStore) MarkEmailVerified(ctx context.Context, userID string) (domain.User, error) {
	q := `
		UPDATE users
		SET email_verified = true,
		    verification_token_hash = NULL,
		    role = CASE WHEN role = 'ANONYMOUS' THEN 'AUTHENTICATED' ELSE role END,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns
	return s.updateReturning(ctx, "mark email verified", q, userID)
}

func (s *UsersStore) RecordLoginSuccess(ctx context.Context, userID string, when time.Time) error {
	const q = `
		UPDATE users
		SET failed_login_attempts = 0, last_login_at = $2, updated_at = now()
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, q, userID, when); err != nil {
		return fmt.Errorf("record login success: %w", err)
	}
	return nil
}

// RecordLoginFailure bumps the failure counter and locks the account once it
// reaches threshold. lockedNow is true only for the call that locked it.
func (s *UsersStore) RecordLoginFailure(ctx context.Context, userID string, threshold int) (attempts int, lockedNow bool, err error) {
	const q = `
		UPDATE users u
		SET failed_login_attempts = u.failed_login_attempts + 1,
		    is_locked = u.is_locked OR u.failed_login_attempts + 1 >= $2,
		    updated_at = now()
		FROM (SELECT id, is_locked FROM users WHERE id = $1 FOR UPDATE) prev
		WHERE u.id = prev.id
		RETURNING u.failed_login_attempts, u.is_locked AND NOT prev.is_locked
	`
	err = s.pool.QueryRow(ctx, q, userID, threshold).Scan(&attempts, &lockedNow)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, domain.ErrNotFound
		}
		return 0, false, fmt.Errorf("record login failure: %w", err)
	}
	return attempts, lockedNow, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// setPasswordHash replaces the password and clears any lockout.
func setPasswordHash(ctx context.Context, db execer, userID, passwordHash string) error {
	const q = `
		UPDATE users
		SET password_hash = $2, is_locked = false, failed_login_attempts = 0, updated_at = now()
		WHERE id = $1
	`
	tag, err := db.Exec(ctx, q, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("set password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *UsersStore) UnlockUser(ctx context.Context, userID string) (domain.User, error) {
	q := `
		UPDATE users
		SET is_locked = false, failed_login_attempts = 0, updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns
	return s.updateReturning(ctx, "unlock user", q, userID)
}

func (s *UsersStore) ListUsers(ctx context.Context, limit, offset int) ([]domain.User, int, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	q := `
		SELECT ` + userColumns + `
		FROM users
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`
	rows, err := s.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	users, err := scanUsers(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}

// UpdateUser applies the non-nil fields of upd.
func (s *UsersStore) UpdateUser(ctx context.Context, userID string, upd domain.UserUpdate) (domain.User, error) {
	q := `
		UPDATE users
		SET email = COALESCE($2, email),
		    nickname = COALESCE($3, nickname),
		    role = COALESCE($4, role),
		    first_name = COALESCE($5, first_name),
		    last_name = COALESCE($6, last_name),
		    bio = COALESCE($7, bio),
		    profile_picture_url = COALESCE($8, profile_picture_url),
		    linkedin_profile_url = COALESCE($9, linkedin_profile_url),
		    github_profile_url = COALESCE($10, github_profile_url),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns

	p := upd.Profile
	u, err := scanUser(s.pool.QueryRow(ctx, q,
		userID,
		upd.Email,
		upd.Nickname,
		roleOrNil(upd.Role),
		p.FirstName, p.LastName, p.Bio, p.ProfilePictureURL, p.LinkedInProfileURL, p.GitHubProfileURL,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, mapUserWriteError("update user", err)
	}
	return u, nil
}

func (s *UsersStore) SetProfessionalStatus(ctx context.Context, userID string, professional bool, when time.Time) (domain.User, error) {
	q := `
		UPDATE users
		SET is_professional = $2, professional_status_updated_at = $3, updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns
	return s.updateReturning(ctx, "set professional status", q, userID, professional, when)
}

func (s *UsersStore) DeleteUser(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *UsersStore) updateReturning(ctx context.Context, op, q string, args ...any) (domain.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func mapUserWriteError(op string, err error) error {
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		switch pgerr.ConstraintName {
		case "users_nickname_uq":
			return domain.ErrNicknameTaken
		case "users_email_uq":
			return domain.ErrEmailTaken
		default:
			return fmt.Errorf("unique violation (%s): %w", pgerr.ConstraintName, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
