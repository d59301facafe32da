package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"UserManagementServer/internal/auth"
	"UserManagementServer/internal/domain"
	"UserManagementServer/internal/ratelimit"
	"UserManagementServer/internal/service"
)

type testServer struct {
	t        *testing.T
	handler  http.Handler
	store    *memStore
	notifier *recordingNotifier
	metrics  *Metrics
}

func newTestServer(t *testing.T, mutate ...func(*RouterOpts)) *testServer {
	t.Helper()

	store := newMemStore()
	notifier := &recordingNotifier{}
	metrics := NewMetrics()
	loginLimiter := ratelimit.New(ratelimit.Config{MaxAttempts: 3, Window: 5 * time.Minute, Block: time.Hour})
	metrics.WatchLimiter("login", loginLimiter)

	opts := RouterOpts{
		Auth: &service.AuthService{
			Users:    store,
			Sessions: store,
			Limiter:  loginLimiter,
			Notifier: notifier,
			OnLogin:  metrics.ObserveLogin,
		},
		Users:   &service.UsersService{Users: store, Notifier: notifier},
		Profile: &service.ProfileService{Store: store},
		Reset: &service.PasswordResetService{
			Store:    store,
			Users:    store,
			Sessions: store,
			Limiter:  loginLimiter,
			Notifier: notifier,
		},
		CookieCodec: auth.NewCookieCodec([]byte("0123456789abcdef0123456789abcdef")),
		SessionTTL:  time.Hour,
		Metrics:     metrics,
	}
	for _, m := range mutate {
		m(&opts)
	}

	return &testServer{t: t, handler: NewRouter(opts), store: store, notifier: notifier, metrics: metrics}
}

func (s *testServer) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	s.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) register(email, password string) userResponse {
	s.t.Helper()
	rr := s.do(http.MethodPost, "/v1/auth/register", map[string]string{"email": email, "password": password}, "")
	if rr.Code != http.StatusCreated {
		s.t.Fatalf("register %s: status %d body %s", email, rr.Code, rr.Body.String())
	}
	var u userResponse
	decodeBody(s.t, rr, &u)
	return u
}

func (s *testServer) login(login, password string) string {
	s.t.Helper()
	rr := s.do(http.MethodPost, "/v1/auth/login", map[string]string{"login": login, "password": password}, "")
	if rr.Code != http.StatusOK {
		s.t.Fatalf("login %s: status %d body %s", login, rr.Code, rr.Body.String())
	}
	var resp loginResponse
	decodeBody(s.t, rr, &resp)
	if resp.AccessToken == "" {
		s.t.Fatalf("login returned no access token")
	}
	return resp.AccessToken
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env errorEnvelope
	decodeBody(t, rr, &env)
	return env.Error.Code
}

func TestRegisterLoginMeLogout(t *testing.T) {
	s := newTestServer(t)

	admin := s.register("ada@example.com", "correct horse")
	if admin.Role != string(domain.RoleAdmin) || !admin.EmailVerified {
		t.Fatalf("first user should be a verified admin: %+v", admin)
	}

	rr := s.do(http.MethodPost, "/v1/auth/login", map[string]string{"login": "ada@example.com", "password": "correct horse"}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rr.Code, rr.Body.String())
	}
	var resp loginResponse
	decodeBody(t, rr, &resp)
	if resp.TokenType != "bearer" || resp.ExpiresIn != 3600 || resp.User.ID != admin.ID {
		t.Fatalf("unexpected login response: %+v", resp)
	}
	cookie := rr.Result().Cookies()
	if len(cookie) != 1 || cookie[0].Name != auth.SessionCookieName || cookie[0].Value != resp.AccessToken {
		t.Fatalf("expected session cookie matching access token, got %+v", cookie)
	}

	me := s.do(http.MethodGet, "/v1/users/me", nil, resp.AccessToken)
	if me.Code != http.StatusOK {
		t.Fatalf("me: status %d", me.Code)
	}
	var u userResponse
	decodeBody(t, me, &u)
	if u.Email != "ada@example.com" || u.LastLoginAt == nil {
		t.Fatalf("unexpected me: %+v", u)
	}

	// The cookie alone authenticates too.
	req := httptest.NewRequest(http.MethodGet, "/v1/users/me", nil)
	req.AddCookie(cookie[0])
	viaCookie := httptest.NewRecorder()
	s.handler.ServeHTTP(viaCookie, req)
	if viaCookie.Code != http.StatusOK {
		t.Fatalf("me via cookie: status %d", viaCookie.Code)
	}

	if out := s.do(http.MethodPost, "/v1/auth/logout", nil, resp.AccessToken); out.Code != http.StatusNoContent {
		t.Fatalf("logout: status %d", out.Code)
	}
	if after := s.do(http.MethodGet, "/v1/users/me", nil, resp.AccessToken); after.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout: status %d", after.Code)
	}
}

func TestRequireAuthRejectsTamperedToken(t *testing.T) {
	s := newTestServer(t)
	s.register("ada@example.com", "correct horse")
	token := s.login("ada@example.com", "correct horse")

	if rr := s.do(http.MethodGet, "/v1/users/me", nil, token+"x"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered token, got %d", rr.Code)
	}
	if rr := s.do(http.MethodGet, "/v1/users/me", nil, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	s := newTestServer(t)
	s.register("ada@example.com", "correct horse")

	for i := 0; i < 2; i++ {
		rr := s.do(http.MethodPost, "/v1/auth/login", map[string]string{"login": "ada@example.com", "password": "wrong password"}, "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rr.Code)
		}
	}

	rr := s.do(http.MethodPost, "/v1/auth/login", map[string]string{"login": "ada@example.com", "password": "correct horse"}, "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d body %s", rr.Code, rr.Body.String())
	}
	if code := errorCode(t, rr); code != "rate_limited" {
		t.Fatalf("unexpected error code %q", code)
	}
	retry, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	if err != nil || retry < 3590 || retry > 3600 {
		t.Fatalf("unexpected Retry-After %q", rr.Header().Get("Retry-After"))
	}

	// Still blocked even with the right password.
	if again := s.do(http.MethodPost, "/v1/auth/login", map[string]string{"login": "ada@example.com", "password": "correct horse"}, ""); again.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 while blocked, got %d", again.Code)
	}
}

func (s *testServer) loginVia(forwardedFor, login, password string) int {
	s.t.Helper()
	b, _ := json.Marshal(map[string]string{"login": login, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewReader(b))
	req.Header.Set("X-Forwarded-For", forwardedFor)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr.Code
}

func TestLoginRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	s := newTestServer(t)
	s.register("ada@example.com", "correct horse")

	var codes []int
	for i := 1; i <= 20; i++ {
		codes = append(codes, s.loginVia(fmt.Sprintf("10.0.0.%d", i), "ada@example.com", "wrong password"))
	}
	for i, code := range codes {
		want := http.StatusTooManyRequests
		if i < 2 {
			want = http.StatusUnauthorized
		}
		if code != want {
			t.Fatalf("attempt %d: expected %d, got %d (all: %v)", i+1, want, code, codes)
		}
	}
}

func TestLoginRateLimitBehindTrustedProxy(t *testing.T) {
	s := newTestServer(t, func(o *RouterOpts) {
		o.TrustedProxies = []netip.Prefix{netip.MustParsePrefix("192.0.2.0/24")}
	})
	s.register("ada@example.com", "correct horse")

	// Each attempt has a distinct client address; the account key still trips.
	for i := 1; i <= 2; i++ {
		if code := s.loginVia(fmt.Sprintf("203.0.113.%d", i), "ada@example.com", "wrong password"); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, code)
		}
	}
	if code := s.loginVia("203.0.113.3", "ada@example.com", "correct horse"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}

func TestLoginLockedAccount(t *testing.T) {
	s := newTestServer(t)
	u := s.register("ada@example.com", "correct horse")
	s.store.lock(u.ID)

	rr := s.do(http.MethodPost, "/v1/auth/login", map[string]string{"login": "ada@example.com", "password": "correct horse"}, "")
	if rr.Code != http.StatusForbidden || errorCode(t, rr) != "account_locked" {
		t.Fatalf("expected 403 account_locked, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestConcurrentRegistrationsPromoteOneAdmin(t *testing.T) {
	s := newTestServer(t)

	const n = 8
	var wg sync.WaitGroup
	results := make([]*httptest.ResponseRecorder, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, _ := json.Marshal(map[string]string{"email": fmt.Sprintf("user%d@example.com", i), "password": "correct horse"})
			rr := httptest.NewRecorder()
			s.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/auth/register", bytes.NewReader(b)))
			results[i] = rr
		}(i)
	}
	wg.Wait()

	admins := 0
	for i, rr := range results {
		if rr.Code != http.StatusCreated {
			t.Fatalf("register %d: status %d body %s", i, rr.Code, rr.Body.String())
		}
		var u userResponse
		decodeBody(t, rr, &u)
		if u.Role == string(domain.RoleAdmin) {
			admins++
		}
	}
	if admins != 1 {
		t.Fatalf("expected exactly one admin, got %d", admins)
	}
}

func TestRegisterValidationReportsFields(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(http.MethodPost, "/v1/auth/register", map[string]string{
		"email":              "nope",
		"password":           "short",
		"github_profile_url": "https://example.com/x",
	}, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var env errorEnvelope
	decodeBody(t, rr, &env)
	for _, f := range []string{"email", "password", "github_profile_url"} {
		if env.Error.Fields[f] == "" {
			t.Fatalf("missing field error for %s: %+v", f, env.Error.Fields)
		}
	}

	if bad := s.do(http.MethodPost, "/v1/auth/register", map[string]string{"email": "a@example.com", "unknown": "x"}, ""); bad.Code != http.StatusBadRequest || errorCode(t, bad) != "bad_json" {
		t.Fatalf("expected bad_json for unknown field, got %d", bad.Code)
	}
}

func TestVerifyEmailPromotesUser(t *testing.T) {
	s := newTestServer(t)
	s.register("ada@example.com", "correct horse")
	bob := s.register("bob@example.com", "correct horse")
	if bob.Role != string(domain.RoleAnonymous) || bob.EmailVerified {
		t.Fatalf("second user should start anonymous: %+v", bob)
	}

	token := s.notifier.token("verify:bob@example.com")
	if token == "" {
		t.Fatalf("no verification token sent")
	}

	if rr := s.do(http.MethodGet, "/v1/auth/verify-email/"+bob.ID+"/wrong", nil, ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong token, got %d", rr.Code)
	}

	rr := s.do(http.MethodGet, "/v1/auth/verify-email/"+bob.ID+"/"+token, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("verify: status %d body %s", rr.Code, rr.Body.String())
	}
	var u userResponse
	decodeBody(t, rr, &u)
	if u.Role != string(domain.RoleAuthenticated) || !u.EmailVerified {
		t.Fatalf("unexpected verified user: %+v", u)
	}
}

func TestUpdateOwnProfile(t *testing.T) {
	s := newTestServer(t)
	s.register("ada@example.com", "correct horse")
	token := s.login("ada@example.com", "correct horse")

	rr := s.do(http.MethodPatch, "/v1/users/me/profile", map[string]string{
		"first_name":         " Ada ",
		"github_profile_url": "https://github.com/ada-l",
	}, token)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch profile: status %d body %s", rr.Code, rr.Body.String())
	}
	var u userResponse
	decodeBody(t, rr, &u)
	if u.FirstName != "Ada" || u.GitHubProfileURL != "https://github.com/ada-l" {
		t.Fatalf("unexpected profile: %+v", u)
	}
}

func TestStaffRoutes(t *testing.T) {
	s := newTestServer(t)
	s.register("ada@example.com", "correct horse")
	bob := s.register("bob@example.com", "correct horse")

	bobToken := s.login("bob@example.com", "correct horse")
	if rr := s.do(http.MethodGet, "/v1/users", nil, bobToken); rr.Code != http.StatusForbidden {
		t.Fatalf("non-staff list: expected 403, got %d", rr.Code)
	}

	adminToken := s.login("ada@example.com", "correct horse")

	rr := s.do(http.MethodGet, "/v1/users?limit=1&skip=1", nil, adminToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: status %d", rr.Code)
	}
	var page userListResponse
	decodeBody(t, rr, &page)
	if page.Total != 2 || page.Limit != 1 || page.Skip != 1 || len(page.Users) != 1 || page.Users[0].Email != "bob@example.com" {
		t.Fatalf("unexpected page: %+v", page)
	}

	if bad := s.do(http.MethodGet, "/v1/users?limit=101", nil, adminToken); bad.Code != http.StatusBadRequest {
		t.Fatalf("limit over max: expected 400, got %d", bad.Code)
	}
	if bad := s.do(http.MethodGet, "/v1/users/not-a-uuid", nil, adminToken); bad.Code != http.StatusNotFound {
		t.Fatalf("malformed id: expected 404, got %d", bad.Code)
	}

	rr = s.do(http.MethodPut, "/v1/users/"+bob.ID+"/professional-status", map[string]bool{"is_professional": true}, adminToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("professional status: status %d body %s", rr.Code, rr.Body.String())
	}
	var pro professionalStatusResponse
	decodeBody(t, rr, &pro)
	if !pro.User.IsProfessional || pro.User.ProfessionalStatusUpdatedAt == nil || !pro.EmailNotified {
		t.Fatalf("unexpected professional response: %+v", pro)
	}

	rr = s.do(http.MethodPut, "/v1/users/"+bob.ID, map[string]string{"role": "manager"}, adminToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("update: status %d body %s", rr.Code, rr.Body.String())
	}
	var updated userResponse
	decodeBody(t, rr, &updated)
	if updated.Role != string(domain.RoleManager) {
		t.Fatalf("expected MANAGER, got %s", updated.Role)
	}

	s.store.lock(bob.ID)
	if rr := s.do(http.MethodPost, "/v1/users/"+bob.ID+"/unlock", nil, adminToken); rr.Code != http.StatusOK {
		t.Fatalf("unlock: status %d", rr.Code)
	}

	rr = s.do(http.MethodPost, "/v1/users", map[string]string{
		"email":    "carol@example.com",
		"password": "long enough pw",
		"role":     "authenticated",
	}, adminToken)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rr.Code, rr.Body.String())
	}
	var carol userResponse
	decodeBody(t, rr, &carol)

	if rr := s.do(http.MethodDelete, "/v1/users/"+carol.ID, nil, adminToken); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rr.Code)
	}
	if rr := s.do(http.MethodGet, "/v1/users/"+carol.ID, nil, adminToken); rr.Code != http.StatusNotFound {
		t.Fatalf("get deleted: expected 404, got %d", rr.Code)
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	s := newTestServer(t)
	s.register("ada@example.com", "correct horse")
	oldToken := s.login("ada@example.com", "correct horse")

	if rr := s.do(http.MethodPost, "/v1/auth/forgot", map[string]string{"email": "ghost@example.com"}, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("forgot unknown: expected 204, got %d", rr.Code)
	}
	if rr := s.do(http.MethodPost, "/v1/auth/forgot", map[string]string{"email": "ada@example.com"}, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("forgot: expected 204, got %d", rr.Code)
	}
	raw := s.notifier.token("reset:ada@example.com")
	if raw == "" {
		t.Fatalf("no reset token sent")
	}

	rr := s.do(http.MethodPost, "/v1/auth/reset", map[string]string{"token": raw, "password": "a brand new one"}, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("reset: status %d body %s", rr.Code, rr.Body.String())
	}
	if again := s.do(http.MethodPost, "/v1/auth/reset", map[string]string{"token": raw, "password": "another new one"}, ""); again.Code != http.StatusBadRequest || errorCode(t, again) != "reset_token_invalid" {
		t.Fatalf("reused token: expected reset_token_invalid, got %d", again.Code)
	}

	if rr := s.do(http.MethodGet, "/v1/users/me", nil, oldToken); rr.Code != http.StatusUnauthorized {
		t.Fatalf("old session should be revoked, got %d", rr.Code)
	}
	s.login("ada@example.com", "a brand new one")
}

func TestResetPasswordPages(t *testing.T) {
	s := newTestServer(t)
	s.register("ada@example.com", "correct horse")

	if rr := s.do(http.MethodGet, "/reset-password", nil, ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing token: expected 400, got %d", rr.Code)
	}
	page := s.do(http.MethodGet, "/reset-password?token=abc", nil, "")
	if page.Code != http.StatusOK || !strings.Contains(page.Body.String(), `value="abc"`) {
		t.Fatalf("reset page: status %d", page.Code)
	}

	form := strings.NewReader("email=ada%40example.com")
	req := httptest.NewRequest(http.MethodPost, "/forgot-password", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("forgot form: status %d", rr.Code)
	}
	raw := s.notifier.token("reset:ada@example.com")

	form = strings.NewReader("token=" + raw + "&password=changed+secret&confirm=changed+secret")
	req = httptest.NewRequest(http.MethodPost, "/reset-password", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "password has been changed") {
		t.Fatalf("reset form: status %d body %s", rr.Code, rr.Body.String())
	}
	s.login("ada@example.com", "changed secret")
}

func TestAPIThrottle(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := func() time.Time { return now }
	limiter := ratelimit.New(ratelimit.Config{MaxAttempts: 2, Window: time.Minute, Block: 5 * time.Minute}, ratelimit.WithClock(clock))
	s := newTestServer(t, func(o *RouterOpts) {
		o.APILimiter = limiter
		o.Now = clock
	})

	if rr := s.do(http.MethodGet, "/v1/nope", nil, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("first request: expected 404, got %d", rr.Code)
	}
	rr := s.do(http.MethodGet, "/v1/nope", nil, "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "300" {
		t.Fatalf("unexpected Retry-After %q", got)
	}

	// Public pages are not throttled.
	if rr := s.do(http.MethodGet, "/healthz", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rr.Code)
	}
}

func TestHealthzReportsDatabase(t *testing.T) {
	s := newTestServer(t, func(o *RouterOpts) {
		o.DBPing = func(context.Context) error { return errors.New("down") }
	})
	rr := s.do(http.MethodGet, "/healthz", nil, "")
	if rr.Code != http.StatusServiceUnavailable || rr.Body.String() != "db down" {
		t.Fatalf("unexpected healthz: %d %q", rr.Code, rr.Body.String())
	}
}

func TestHealthzReportsEmailDegraded(t *testing.T) {
	s := newTestServer(t, func(o *RouterOpts) {
		o.DBPing = func(context.Context) error { return nil }
		o.EmailHealth = func(context.Context) error { return errors.New("circuit open") }
	})
	rr := s.do(http.MethodGet, "/healthz", nil, "")
	if rr.Code != http.StatusOK || rr.Body.String() != "degraded: email unavailable" {
		t.Fatalf("unexpected healthz: %d %q", rr.Code, rr.Body.String())
	}

	s = newTestServer(t, func(o *RouterOpts) {
		o.EmailHealth = func(context.Context) error { return nil }
	})
	if rr := s.do(http.MethodGet, "/healthz", nil, ""); rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("unexpected healthz: %d %q", rr.Code, rr.Body.String())
	}
}

func TestAPIThrottleKeysOnForwardedClient(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := func() time.Time { return now }
	newServer := func(trusted ...netip.Prefix) *testServer {
		limiter := ratelimit.New(ratelimit.Config{MaxAttempts: 2, Window: time.Minute, Block: 5 * time.Minute}, ratelimit.WithClock(clock))
		return newTestServer(t, func(o *RouterOpts) {
			o.APILimiter = limiter
			o.Now = clock
			o.TrustedProxies = trusted
		})
	}
	get := func(s *testServer, forwardedFor string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/nope", nil)
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rr := httptest.NewRecorder()
		s.handler.ServeHTTP(rr, req)
		return rr.Code
	}

	// Without a trusted proxy the header is ignored and rotating it does not help.
	s := newServer()
	if code := get(s, "198.51.100.1"); code != http.StatusNotFound {
		t.Fatalf("first request: expected 404, got %d", code)
	}
	if code := get(s, "198.51.100.2"); code != http.StatusTooManyRequests {
		t.Fatalf("rotated header: expected 429, got %d", code)
	}

	// Behind a trusted proxy each forwarded client has its own budget.
	s = newServer(netip.MustParsePrefix("192.0.2.1/32"))
	if code := get(s, "198.51.100.1"); code != http.StatusNotFound {
		t.Fatalf("first client: expected 404, got %d", code)
	}
	if code := get(s, "198.51.100.1"); code != http.StatusTooManyRequests {
		t.Fatalf("first client again: expected 429, got %d", code)
	}
	if code := get(s, "198.51.100.2"); code != http.StatusNotFound {
		t.Fatalf("second client: expected 404, got %d", code)
	}
}

func TestMetricsExposeLoginOutcomes(t *testing.T) {
	s := newTestServer(t)
	s.register("ada@example.com", "correct horse")
	s.login("ada@example.com", "correct horse")
	s.do(http.MethodPost, "/v1/auth/login", map[string]string{"login": "ada@example.com", "password": "wrong password"}, "")

	rr := s.do(http.MethodGet, "/metrics", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics: status %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`usermgmt_login_attempts_total{result="success"} 1`,
		`usermgmt_login_attempts_total{result="invalid_credentials"} 1`,
		`usermgmt_ratelimit_tracked_keys{limiter="login"} 1`,
		`usermgmt_http_requests_total{code="201",method="POST",route="POST /v1/auth/register"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestUnknownV1RouteIsJSON404(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(http.MethodGet, "/v1/does-not-exist", nil, "")
	if rr.Code != http.StatusNotFound || errorCode(t, rr) != "not_found" {
		t.Fatalf("unexpected response: %d %s", rr.Code, rr.Body.String())
	}
}
