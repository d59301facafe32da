package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"UserManagementServer/internal/auth"
	"UserManagementServer/internal/domain"
)

type stubUsersStore struct {
	t *testing.T

	createUserFunc             func(context.Context, domain.NewUser) (domain.User, error)
	nicknameExistsFunc         func(context.Context, string) (bool, error)
	getUserByIDFunc            func(context.Context, string) (domain.User, error)
	getUserByLoginFunc         func(context.Context, string) (domain.UserWithPassword, error)
	getUserByEmailFunc         func(context.Context, string) (domain.UserWithPassword, error)
	getVerificationTokenFunc   func(context.Context, string) (string, error)
	markEmailVerifiedFunc      func(context.Context, string) (domain.User, error)
	recordLoginSuccessFunc     func(context.Context, string, time.Time) error
	recordLoginFailureFunc     func(context.Context, string, int) (int, bool, error)
	getUserByExternalFunc      func(context.Context, string, string) (domain.User, domain.ExternalAccount, error)
	createUserWithExternalFunc func(context.Context, domain.NewUser, string, string) (domain.User, domain.ExternalAccount, error)
	linkExternalAccountFunc    func(context.Context, string, string, string, string) (domain.ExternalAccount, error)
	listUsersFunc              func(context.Context, int, int) ([]domain.User, int, error)
	updateUserFunc             func(context.Context, string, domain.UserUpdate) (domain.User, error)
	deleteUserFunc             func(context.Context, string) error
	unlockUserFunc             func(context.Context, string) (domain.User, error)
	setProfessionalStatusFunc  func(context.Context, string, bool, time.Time) (domain.User, error)
}

func (s *stubUsersStore) unexpected(name string) error {
	s.t.Helper()
	s.t.Fatalf("%s called unexpectedly", name)
	return errors.New("unexpected call")
}

func (s *stubUsersStore) CreateUser(ctx context.Context, nu domain.NewUser) (domain.User, error) {
	if s.createUserFunc != nil {
		return s.createUserFunc(ctx, nu)
	}
	return domain.User{}, s.unexpected("CreateUser")
}

func (s *stubUsersStore) NicknameExists(ctx context.Context, nick string) (bool, error) {
	if s.nicknameExistsFunc != nil {
		return s.nicknameExistsFunc(ctx, nick)
	}
	return false, s.unexpected("NicknameExists")
}

func (s *stubUsersStore) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	if s.getUserByIDFunc != nil {
		return s.getUserByIDFunc(ctx, id)
	}
	return domain.User{}, s.unexpected("GetUserByID")
}

func (s *stubUsersStore) GetUserByLogin(ctx context.Context, login string) (domain.UserWithPassword, error) {
	if s.getUserByLoginFunc != nil {
		return s.getUserByLoginFunc(ctx, login)
	}
	return domain.UserWithPassword{}, s.unexpected("GetUserByLogin")
}

func (s *stubUsersStore) GetUserByEmail(ctx context.Context, email string) (domain.UserWithPassword, error) {
	if s.getUserByEmailFunc != nil {
		return s.getUserByEmailFunc(ctx, email)
	}
	return domain.UserWithPassword{}, s.unexpected("GetUserByEmail")
}

func (s *stubUsersStore) GetVerificationTokenHash(ctx context.Context, userID string) (string, error) {
	if s.getVerificationTokenFunc != nil {
		return s.getVerificationTokenFunc(ctx, userID)
	}
	return "", s.unexpected("GetVerificationTokenHash")
}

func (s *stubUsersStore) MarkEmailVerified(ctx context.Context, userID string) (domain.User, error) {
	if s.markEmailVerifiedFunc != nil {
		return s.markEmailVerifiedFunc(ctx, userID)
	}
	return domain.User{}, s.unexpected("MarkEmailVerified")
}

func (s *stubUsersStore) RecordLoginSuccess(ctx context.Context, userID string, when time.Time) error {
	if s.recordLoginSuccessFunc != nil {
		return s.recordLoginSuccessFunc(ctx, userID, when)
	}
	return s.unexpected("RecordLoginSuccess")
}

func (s *stubUsersStore) RecordLoginFailure(ctx context.Context, userID string, threshold int) (int, bool, error) {
	if s.recordLoginFailureFunc != nil {
		return s.recordLoginFailureFunc(ctx, userID, threshold)
	}
	return 0, false, s.unexpected("RecordLoginFailure")
}

func (s *stubUsersStore) GetUserByExternalAccount(ctx context.Context, provider, providerID string) (domain.User, domain.ExternalAccount, error) {
	if s.getUserByExternalFunc != nil {
		return s.getUserByExternalFunc(ctx, provider, providerID)
	}
	return domain.User{}, domain.ExternalAccount{}, s.unexpected("GetUserByExternalAccount")
}

func (s *stubUsersStore) CreateUserWithExternalAccount(ctx context.Context, nu domain.NewUser, provider, providerID string) (domain.User, domain.ExternalAccount, error) {
	if s.createUserWithExternalFunc != nil {
		return s.createUserWithExternalFunc(ctx, nu, provider, providerID)
	}
	return domain.User{}, domain.ExternalAccount{}, s.unexpected("CreateUserWithExternalAccount")
}

func (s *stubUsersStore) LinkExternalAccount(ctx context.Context, userID, provider, providerID, email string) (domain.ExternalAccount, error) {
	if s.linkExternalAccountFunc != nil {
		return s.linkExternalAccountFunc(ctx, userID, provider, providerID, email)
	}
	return domain.ExternalAccount{}, s.unexpected("LinkExternalAccount")
}

func (s *stubUsersStore) ListUsers(ctx context.Context, limit, offset int) ([]domain.User, int, error) {
	if s.listUsersFunc != nil {
		return s.listUsersFunc(ctx, limit, offset)
	}
	return nil, 0, s.unexpected("ListUsers")
}

func (s *stubUsersStore) UpdateUser(ctx context.Context, userID string, upd domain.UserUpdate) (domain.User, error) {
	if s.updateUserFunc != nil {
		return s.updateUserFunc(ctx, userID, upd)
	}
	return domain.User{}, s.unexpected("UpdateUser")
}

func (s *stubUsersStore) DeleteUser(ctx context.Context, userID string) error {
	if s.deleteUserFunc != nil {
		return s.deleteUserFunc(ctx, userID)
	}
	return s.unexpected("DeleteUser")
}

func (s *stubUsersStore) UnlockUser(ctx context.Context, userID string) (domain.User, error) {
	if s.unlockUserFunc != nil {
		return s.unlockUserFunc(ctx, userID)
	}
	return domain.User{}, s.unexpected("UnlockUser")
}

func (s *stubUsersStore) SetProfessionalStatus(ctx context.Context, userID string, professional bool, when time.Time) (domain.User, error) {
	if s.setProfessionalStatusFunc != nil {
		return s.setProfessionalStatusFunc(ctx, userID, professional, when)
	}
	return domain.User{}, s.unexpected("SetProfessionalStatus")
}

type stubSessionsStore struct {
	t *testing.T

	createSessionFunc      func(context.Context, string, time.Time, string, string) (string, error)
	getSessionFunc         func(context.Context, string) (domain.Session, error)
	revokeSessionFunc      func(context.Context, string, time.Time) error
	revokeUserSessionsFunc func(context.Context, string, time.Time) error
}

func (s *stubSessionsStore) CreateSession(ctx context.Context, userID string, expiresAt time.Time, ip, userAgent string) (string, error) {
	if s.createSessionFunc != nil {
		return s.createSessionFunc(ctx, userID, expiresAt, ip, userAgent)
	}
	s.t.Fatalf("CreateSession called unexpectedly")
	return "", errors.New("unexpected call")
}

func (s *stubSessionsStore) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	if s.getSessionFunc != nil {
		return s.getSessionFunc(ctx, sessionID)
	}
	s.t.Fatalf("GetSession called unexpectedly")
	return domain.Session{}, errors.New("unexpected call")
}

func (s *stubSessionsStore) RevokeSession(ctx context.Context, sessionID string, when time.Time) error {
	if s.revokeSessionFunc != nil {
		return s.revokeSessionFunc(ctx, sessionID, when)
	}
	s.t.Fatalf("RevokeSession called unexpectedly")
	return errors.New("unexpected call")
}

func (s *stubSessionsStore) RevokeUserSessions(ctx context.Context, userID string, when time.Time) error {
	if s.revokeUserSessionsFunc != nil {
		return s.revokeUserSessionsFunc(ctx, userID, when)
	}
	s.t.Fatalf("RevokeUserSessions called unexpectedly")
	return errors.New("unexpected call")
}

type stubNotifier struct {
	mu           sync.Mutex
	verification []string
	resets       []string
	locked       []string
	professional []string
	err          error
}

func (n *stubNotifier) SendEmailVerification(_ context.Context, u domain.User, rawToken string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verification = append(n.verification, u.Email+"|"+rawToken)
	return n.err
}

func (n *stubNotifier) SendPasswordReset(_ context.Context, u domain.User, rawToken string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets = append(n.resets, u.Email+"|"+rawToken)
	return n.err
}

func (n *stubNotifier) SendAccountLocked(_ context.Context, u domain.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.locked = append(n.locked, u.Email)
	return n.err
}

func (n *stubNotifier) SendProfessionalStatus(_ context.Context, u domain.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.professional = append(n.professional, u.Email)
	return n.err
}

type stubVerifier struct {
	verifyFunc func(context.Context, string, string) (*auth.ExternalTokenClaims, error)
}

func (v stubVerifier) Verify(ctx context.Context, provider, token string) (*auth.ExternalTokenClaims, error) {
	return v.verifyFunc(ctx, provider, token)
}

var (
	testHashOnce sync.Once
	testHash     string
)

// passwordHash returns a cached hash of "correct horse battery" so tests do
// not pay bcrypt's cost repeatedly.
func passwordHash(t *testing.T) string {
	t.Helper()
	testHashOnce.Do(func() {
		h, err := auth.HashPassword("correct horse battery")
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		testHash = h
	})
	return testHash
}

func fixedNicknames(names ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		n := names[i%len(names)]
		i++
		return n, nil
	}
}
