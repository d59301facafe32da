package domain

import (
	"strings"
	"time"
)

type Role string

const (
	RoleAnonymous     Role = "ANONYMOUS"
	RoleAuthenticated Role = "AUTHENTICATED"
	RoleManager       Role = "MANAGER"
	RoleAdmin         Role = "ADMIN"
)

func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleAnonymous, RoleAuthenticated, RoleManager, RoleAdmin:
		return r, true
	default:
		return "", false
	}
}

// IsStaff reports whether the role may administer other users.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleManager
}

type User struct {
	ID       string
	Email    string
	Nickname string
	Role     Role

	FirstName          string
	LastName           string
	Bio                string
	ProfilePictureURL  string
	LinkedInProfileURL string
	GitHubProfileURL   string

	IsProfessional              bool
	ProfessionalStatusUpdatedAt *time.Time

	EmailVerified       bool
	IsLocked            bool
	FailedLoginAttempts int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLoginAt *time.Time
}

// DisplayName is what emails greet the user with.
func (u User) DisplayName() string {
	if n := strings.TrimSpace(u.FirstName); n != "" {
		return n
	}
	return u.Nickname
}

type UserWithPassword struct {
	User
	PasswordHash string
}

// NewUser carries everything needed to insert a users row.
type NewUser struct {
	Email                 string
	Nickname              string
	PasswordHash          string
	Role                  Role
	EmailVerified         bool
	VerificationTokenHash string
	Profile               ProfileUpdate

	// PromoteIfFirst asks the store to insert the row AsFirstUser when the
	// users table is empty. The check and the insert are atomic.
	PromoteIfFirst bool
}

// AsFirstUser turns nu into the initial account: a verified ADMIN with no
// pending verification token.
func (nu NewUser) AsFirstUser() NewUser {
	nu.Role = RoleAdmin
	nu.EmailVerified = true
	nu.VerificationTokenHash = ""
	nu.PromoteIfFirst = false
	return nu
}

// ProfileUpdate holds optional profile fields; nil means "leave unchanged".
type ProfileUpdate struct {
	FirstName          *string
	LastName           *string
	Bio                *string
	ProfilePictureURL  *string
	LinkedInProfileURL *string
	GitHubProfileURL   *string
}

func (p ProfileUpdate) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Bio == nil &&
		p.ProfilePictureURL == nil && p.LinkedInProfileURL == nil && p.GitHubProfileURL == nil
}

// UserUpdate is the administrative edit of a user.
type UserUpdate struct {
	Email    *string
	Nickname *string
	Role     *Role
	Profile  ProfileUpdate
}

type ExternalAccount struct {
	ID         string
	UserID     string
	Provider   string
	ProviderID string
	Email      string
	CreatedAt  time.Time
}

type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

type PasswordResetToken struct {
	ID          string
	UserID      string
	TokenHash   string
	SentToEmail string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	UsedAt      *time.Time
}
