package service

import (
	"context"

	"UserManagementServer/internal/domain"
)

type ProfileStore interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	UpdateUser(ctx context.Context, userID string, upd domain.UserUpdate) (domain.User, error)
}

// ProfileService lets users edit their own public profile.
type ProfileService struct {
	Store ProfileStore
}

func (s *ProfileService) Get(ctx context.Context, userID string) (domain.User, error) {
	return s.Store.GetUserByID(ctx, userID)
}

// UpdateProfile changes only the fields present in p.
func (s *ProfileService) UpdateProfile(ctx context.Context, userID string, p domain.ProfileUpdate) (domain.User, error) {
	if err := ValidateProfile(&p); err != nil {
		return domain.User{}, err
	}
	if p.Empty() {
		return s.Store.GetUserByID(ctx, userID)
	}
	return s.Store.UpdateUser(ctx, userID, domain.UserUpdate{Profile: p})
}
