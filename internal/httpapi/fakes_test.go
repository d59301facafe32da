package httpapi

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"UserManagementServer/internal/domain"
)

// memStore is an in-memory stand-in for the postgres stores.
type memStore struct {
	mu sync.Mutex

	users     map[string]*domain.UserWithPassword
	verify    map[string]string
	external  map[string]string
	sessions  map[string]*domain.Session
	resets    map[string]*domain.PasswordResetToken
	createdAt time.Time
}

func newMemStore() *memStore {
	return &memStore{
		users:     map[string]*domain.UserWithPassword{},
		verify:    map[string]string{},
		external:  map[string]string{},
		sessions:  map[string]*domain.Session{},
		resets:    map[string]*domain.PasswordResetToken{},
		createdAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) CreateUser(_ context.Context, nu domain.NewUser) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(nu)
}

func (s *memStore) createLocked(nu domain.NewUser) (domain.User, error) {
	if nu.PromoteIfFirst && len(s.users) == 0 {
		nu = nu.AsFirstUser()
	}
	for _, u := range s.users {
		if u.Email == nu.Email {
			return domain.User{}, domain.ErrEmailTaken
		}
		if u.Nickname == nu.Nickname {
			return domain.User{}, domain.ErrNicknameTaken
		}
	}
	u := &domain.UserWithPassword{
		User: domain.User{
			ID:            uuid.NewString(),
			Email:         nu.Email,
			Nickname:      nu.Nickname,
			Role:          nu.Role,
			EmailVerified: nu.EmailVerified,
			CreatedAt:     s.createdAt,
			UpdatedAt:     s.createdAt,
		},
		PasswordHash: nu.PasswordHash,
	}
	applyProfile(&u.User, nu.Profile)
	s.users[u.ID] = u
	if nu.VerificationTokenHash != "" {
		s.verify[u.ID] = nu.VerificationTokenHash
	}
	return u.User, nil
}

func applyProfile(u *domain.User, p domain.ProfileUpdate) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&u.FirstName, p.FirstName)
	set(&u.LastName, p.LastName)
	set(&u.Bio, p.Bio)
	set(&u.ProfilePictureURL, p.ProfilePictureURL)
	set(&u.LinkedInProfileURL, p.LinkedInProfileURL)
	set(&u.GitHubProfileURL, p.GitHubProfileURL)
}

func (s *memStore) NicknameExists(_ context.Context, nick string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Nickname == nick {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) GetUserByID(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u.User, nil
}

func (s *memStore) GetUserByLogin(_ context.Context, login string) (domain.UserWithPassword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Nickname == login || u.Email == strings.ToLower(login) {
			return *u, nil
		}
	}
	return domain.UserWithPassword{}, domain.ErrNotFound
}

func (s *memStore) GetUserByEmail(_ context.Context, email string) (domain.UserWithPassword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return *u, nil
		}
	}
	return domain.UserWithPassword{}, domain.ErrNotFound
}

func (s *memStore) GetVerificationTokenHash(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return "", domain.ErrNotFound
	}
	return s.verify[id], nil
}

func (s *memStore) MarkEmailVerified(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	u.EmailVerified = true
	if u.Role == domain.RoleAnonymous {
		u.Role = domain.RoleAuthenticated
	}
	delete(s.verify, id)
	return u.User, nil
}

func (s *memStore) RecordLoginSuccess(_ context.Context, id string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.FailedLoginAttempts = 0
	u.LastLoginAt = &when
	return nil
}

func (s *memStore) RecordLoginFailure(_ context.Context, id string, threshold int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return 0, false, domain.ErrNotFound
	}
	u.FailedLoginAttempts++
	lockedNow := !u.IsLocked && u.FailedLoginAttempts >= threshold
	if lockedNow {
		u.IsLocked = true
	}
	return u.FailedLoginAttempts, lockedNow, nil
}

func (s *memStore) GetUserByExternalAccount(_ context.Context, provider, providerID string) (domain.User, domain.ExternalAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.external[provider+"|"+providerID]
	if !ok {
		return domain.User{}, domain.ExternalAccount{}, domain.ErrNotFound
	}
	return s.users[id].User, domain.ExternalAccount{UserID: id, Provider: provider, ProviderID: providerID}, nil
}

func (s *memStore) CreateUserWithExternalAccount(_ context.Context, nu domain.NewUser, provider, providerID string) (domain.User, domain.ExternalAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.createLocked(nu)
	if err != nil {
		return domain.User{}, domain.ExternalAccount{}, err
	}
	s.external[provider+"|"+providerID] = u.ID
	return u, domain.ExternalAccount{UserID: u.ID, Provider: provider, ProviderID: providerID}, nil
}

func (s *memStore) LinkExternalAccount(_ context.Context, userID, provider, providerID, email string) (domain.ExternalAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := provider + "|" + providerID
	if _, ok := s.external[key]; ok {
		return domain.ExternalAccount{}, domain.ErrExternalAccountExists
	}
	s.external[key] = userID
	return domain.ExternalAccount{UserID: userID, Provider: provider, ProviderID: providerID, Email: email}, nil
}

func (s *memStore) ListUsers(_ context.Context, limit, offset int) ([]domain.User, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, u.User)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Email < all[j].Email })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *memStore) UpdateUser(_ context.Context, id string, upd domain.UserUpdate) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.Nickname != nil {
		u.Nickname = *upd.Nickname
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	applyProfile(&u.User, upd.Profile)
	return u.User, nil
}

func (s *memStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *memStore) UnlockUser(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	u.IsLocked = false
	u.FailedLoginAttempts = 0
	return u.User, nil
}

func (s *memStore) SetProfessionalStatus(_ context.Context, id string, professional bool, when time.Time) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	u.IsProfessional = professional
	u.ProfessionalStatusUpdatedAt = &when
	return u.User, nil
}

func (s *memStore) CreateSession(_ context.Context, userID string, expiresAt time.Time, _, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.sessions[id] = &domain.Session{ID: id, UserID: userID, ExpiresAt: expiresAt}
	return id, nil
}

func (s *memStore) GetSession(_ context.Context, id string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.RevokedAt != nil {
		return domain.Session{}, domain.ErrNotFound
	}
	return *sess, nil
}

func (s *memStore) RevokeSession(_ context.Context, id string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.RevokedAt = &when
	}
	return nil
}

func (s *memStore) RevokeUserSessions(_ context.Context, userID string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.RevokedAt == nil {
			sess.RevokedAt = &when
		}
	}
	return nil
}

func (s *memStore) CreateResetToken(_ context.Context, token domain.PasswordResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets[token.TokenHash] = &token
	return nil
}

func (s *memStore) GetResetTokenByHash(_ context.Context, hash string) (domain.PasswordResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.resets[hash]
	if !ok {
		return domain.PasswordResetToken{}, domain.ErrNotFound
	}
	return *t, nil
}

func (s *memStore) ConsumeResetToken(_ context.Context, hash, passwordHash string, when time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.resets[hash]
	if !ok || t.UsedAt != nil {
		return "", domain.ErrNotFound
	}
	u, ok := s.users[t.UserID]
	if !ok {
		return "", domain.ErrNotFound
	}
	t.UsedAt = &when
	u.PasswordHash = passwordHash
	u.IsLocked = false
	u.FailedLoginAttempts = 0
	return t.UserID, nil
}

// lock marks a user as locked directly, bypassing the login path.
func (s *memStore) lock(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id].IsLocked = true
}

type recordingNotifier struct {
	mu     sync.Mutex
	tokens map[string]string
	locked []string
}

func (n *recordingNotifier) SendEmailVerification(_ context.Context, u domain.User, rawToken string) error {
	n.record("verify:"+u.Email, rawToken)
	return nil
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, u domain.User, rawToken string, _ time.Time) error {
	n.record("reset:"+u.Email, rawToken)
	return nil
}

func (n *recordingNotifier) SendAccountLocked(_ context.Context, u domain.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.locked = append(n.locked, u.Email)
	return nil
}

func (n *recordingNotifier) SendProfessionalStatus(context.Context, domain.User) error { return nil }

func (n *recordingNotifier) record(key, token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.tokens == nil {
		n.tokens = map[string]string{}
	}
	n.tokens[key] = token
}

func (n *recordingNotifier) token(key string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens[key]
}
