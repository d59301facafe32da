package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"UserManagementServer/internal/auth"
	"UserManagementServer/internal/domain"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

type AdminUsersStore interface {
	CreateUser(ctx context.Context, nu domain.NewUser) (domain.User, error)
	NicknameExists(ctx context.Context, nickname string) (bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.UserWithPassword, error)
	ListUsers(ctx context.Context, limit, offset int) ([]domain.User, int, error)
	UpdateUser(ctx context.Context, userID string, upd domain.UserUpdate) (domain.User, error)
	DeleteUser(ctx context.Context, userID string) error
	UnlockUser(ctx context.Context, userID string) (domain.User, error)
	SetProfessionalStatus(ctx context.Context, userID string, professional bool, when time.Time) (domain.User, error)
}

// UsersService is the staff-facing user administration surface. Every
// method expects the caller to be ADMIN or MANAGER already.
type UsersService struct {
	Users    AdminUsersStore
	Notifier Notifier

	Nicknames func() (string, error)
	Logger    *slog.Logger
	Now       func() time.Time
}

type Page struct {
	Users []domain.User
	Total int
	Skip  int
	Limit int
}

func (s *UsersService) List(ctx context.Context, skip, limit int) (Page, error) {
	if skip < 0 {
		return Page{}, domain.NewValidationError(map[string]string{"skip": "must not be negative"})
	}
	switch {
	case limit == 0:
		limit = DefaultPageSize
	case limit < 0 || limit > MaxPageSize:
		return Page{}, domain.NewValidationError(map[string]string{"limit": "must be between 1 and 100"})
	}
	users, total, err := s.Users.ListUsers(ctx, limit, skip)
	if err != nil {
		return Page{}, err
	}
	return Page{Users: users, Total: total, Skip: skip, Limit: limit}, nil
}

func (s *UsersService) Get(ctx context.Context, id string) (domain.User, error) {
	return s.Users.GetUserByID(ctx, id)
}

type CreateUserInput struct {
	Email    string
	Password string
	Nickname string
	Role     domain.Role
	Profile  domain.ProfileUpdate
}

// Create adds an account on behalf of staff. The new user still has to
// verify their email address.
func (s *UsersService) Create(ctx context.Context, actor domain.User, in CreateUserInput) (domain.User, error) {
	in.Email = normalizeEmail(in.Email)
	in.Nickname = strings.TrimSpace(in.Nickname)
	if in.Role == "" {
		in.Role = domain.RoleAnonymous
	}

	fields := map[string]string{}
	if msg := validateEmail(in.Email); msg != "" {
		fields["email"] = msg
	}
	if msg := validatePassword(in.Password); msg != "" {
		fields["password"] = msg
	}
	if in.Nickname != "" {
		if msg := validateNickname(in.Nickname); msg != "" {
			fields["nickname"] = msg
		}
	}
	if _, ok := domain.ParseRole(string(in.Role)); !ok {
		fields["role"] = "is not a known role"
	}
	mergeValidation(fields, ValidateProfile(&in.Profile))
	if len(fields) > 0 {
		return domain.User{}, domain.NewValidationError(fields)
	}
	if err := checkRoleGrant(actor, in.Role); err != nil {
		return domain.User{}, err
	}

	if _, err := s.Users.GetUserByEmail(ctx, in.Email); err == nil {
		return domain.User{}, domain.ErrEmailTaken
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, err
	}

	if in.Nickname == "" {
		nick, err := generateNickname(ctx, s.Nicknames, s.Users.NicknameExists)
		if err != nil {
			return domain.User{}, err
		}
		in.Nickname = nick
	} else if taken, err := s.Users.NicknameExists(ctx, in.Nickname); err != nil {
		return domain.User{}, err
	} else if taken {
		return domain.User{}, domain.ErrNicknameTaken
	}

	passwordHash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, err
	}
	rawToken, tokenHash, err := auth.NewToken()
	if err != nil {
		return domain.User{}, err
	}

	u, err := s.Users.CreateUser(ctx, domain.NewUser{
		Email:                 in.Email,
		Nickname:              in.Nickname,
		PasswordHash:          passwordHash,
		Role:                  in.Role,
		VerificationTokenHash: tokenHash,
		Profile:               in.Profile,
	})
	if err != nil {
		return domain.User{}, err
	}
	if s.Notifier != nil {
		if err := s.Notifier.SendEmailVerification(ctx, u, rawToken); err != nil {
			s.logger().WarnContext(ctx, "verification email failed", "user_id", u.ID, "err", err)
		}
	}
	s.logger().InfoContext(ctx, "user created", "user_id", u.ID, "actor_id", actor.ID, "role", string(u.Role))
	return u, nil
}

func (s *UsersService) Update(ctx context.Context, actor domain.User, id string, upd domain.UserUpdate) (domain.User, error) {
	target, err := s.Users.GetUserByID(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if err := checkTarget(actor, target); err != nil {
		return domain.User{}, err
	}

	fields := map[string]string{}
	if upd.Email != nil {
		e := normalizeEmail(*upd.Email)
		upd.Email = &e
		if msg := validateEmail(e); msg != "" {
			fields["email"] = msg
		}
	}
	if upd.Nickname != nil {
		n := strings.TrimSpace(*upd.Nickname)
		upd.Nickname = &n
		if msg := validateNickname(n); msg != "" {
			fields["nickname"] = msg
		}
	}
	if upd.Role != nil {
		if _, ok := domain.ParseRole(string(*upd.Role)); !ok {
			fields["role"] = "is not a known role"
		}
	}
	mergeValidation(fields, ValidateProfile(&upd.Profile))
	if len(fields) > 0 {
		return domain.User{}, domain.NewValidationError(fields)
	}
	if upd.Role != nil {
		if err := checkRoleGrant(actor, *upd.Role); err != nil {
			return domain.User{}, err
		}
	}

	u, err := s.Users.UpdateUser(ctx, id, upd)
	if err != nil {
		return domain.User{}, err
	}
	s.logger().InfoContext(ctx, "user updated", "user_id", id, "actor_id", actor.ID)
	return u, nil
}

func (s *UsersService) Delete(ctx context.Context, actor domain.User, id string) error {
	if actor.ID == id {
		return domain.NewValidationError(map[string]string{"id": "cannot delete your own account"})
	}
	target, err := s.Users.GetUserByID(ctx, id)
	if err != nil {
		return err
	}
	if err := checkTarget(actor, target); err != nil {
		return err
	}
	if err := s.Users.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.logger().InfoContext(ctx, "user deleted", "user_id", id, "actor_id", actor.ID)
	return nil
}

func (s *UsersService) Unlock(ctx context.Context, actor domain.User, id string) (domain.User, error) {
	u, err := s.Users.UnlockUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	s.logger().InfoContext(ctx, "user unlocked", "user_id", id, "actor_id", actor.ID)
	return u, nil
}

// SetProfessionalStatus flips the flag and notifies the user. A failed email
// is logged and does not fail the update.
func (s *UsersService) SetProfessionalStatus(ctx context.Context, actor domain.User, id string, professional bool) (domain.User, bool, error) {
	u, err := s.Users.SetProfessionalStatus(ctx, id, professional, s.now())
	if err != nil {
		return domain.User{}, false, err
	}
	s.logger().InfoContext(ctx, "professional status updated", "user_id", id, "actor_id", actor.ID, "professional", professional)

	notified := false
	if s.Notifier != nil {
		if err := s.Notifier.SendProfessionalStatus(ctx, u); err != nil {
			s.logger().WarnContext(ctx, "professional status email failed", "user_id", id, "err", err)
		} else {
			notified = true
		}
	}
	return u, notified, nil
}

// checkRoleGrant allows only admins to hand out ADMIN.
func checkRoleGrant(actor domain.User, role domain.Role) error {
	if role == domain.RoleAdmin && actor.Role != domain.RoleAdmin {
		return domain.ErrForbidden
	}
	return nil
}

// checkTarget stops managers from editing administrators.
func checkTarget(actor, target domain.User) error {
	if target.Role == domain.RoleAdmin && actor.Role != domain.RoleAdmin {
		return domain.ErrForbidden
	}
	return nil
}

func mergeValidation(fields map[string]string, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		for k, v := range verr.Fields {
			fields[k] = v
		}
	}
}

func (s *UsersService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *UsersService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
