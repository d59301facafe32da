package postgres

import (
	"fmt"
	"time"

	"UserManagementServer/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// userColumns must stay in sync with scanUser.
const userColumns = `
	id, email, nickname, role,
	first_name, last_name, bio, profile_picture_url, linkedin_profile_url, github_profile_url,
	is_professional, professional_status_updated_at,
	email_verified, is_locked, failed_login_attempts,
	created_at, updated_at, last_login_at`

// scanUser reads userColumns followed by any extra destinations.
func scanUser(row pgx.Row, extra ...any) (domain.User, error) {
	var (
		u            domain.User
		idUUID       pgtype.UUID
		role         string
		firstName    pgtype.Text
		lastName     pgtype.Text
		bio          pgtype.Text
		pictureURL   pgtype.Text
		linkedInURL  pgtype.Text
		gitHubURL    pgtype.Text
		proUpdatedAt pgtype.Timestamptz
		lastLoginTS  pgtype.Timestamptz
	)
	dest := []any{
		&idUUID, &u.Email, &u.Nickname, &role,
		&firstName, &lastName, &bio, &pictureURL, &linkedInURL, &gitHubURL,
		&u.IsProfessional, &proUpdatedAt,
		&u.EmailVerified, &u.IsLocked, &u.FailedLoginAttempts,
		&u.CreatedAt, &u.UpdatedAt, &lastLoginTS,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.User{}, err
	}

	u.ID = uuidOrEmpty(idUUID)
	u.Role = domain.Role(role)
	u.FirstName = textOrEmpty(firstName)
	u.LastName = textOrEmpty(lastName)
	u.Bio = textOrEmpty(bio)
	u.ProfilePictureURL = textOrEmpty(pictureURL)
	u.LinkedInProfileURL = textOrEmpty(linkedInURL)
	u.GitHubProfileURL = textOrEmpty(gitHubURL)
	u.ProfessionalStatusUpdatedAt = timestamptzPtr(proUpdatedAt)
	u.LastLoginAt = timestamptzPtr(lastLoginTS)
	return u, nil
}

func scanUsers(rows pgx.Rows) ([]domain.User, error) {
	defer rows.Close()
	out := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func roleOrNil(r *domain.Role) any {
	if r == nil {
		return nil
	}
	return string(*r)
}

func textOrEmpty(t pgtype.Text) string {
	if t.Valid {
		return t.String
	}
	return ""
}

func timestamptzPtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	tt := t.Time
	return &tt
}

func uuidOrEmpty(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuid.UUID(u.Bytes).String()
}
