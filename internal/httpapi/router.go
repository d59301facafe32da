package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"UserManagementServer/internal/auth"
	"UserManagementServer/internal/service"
)

type RouterOpts struct {
	Logger *slog.Logger
	IsProd bool

	DBPing func(context.Context) error

	// EmailHealth reports outbound mail trouble; a failure marks /healthz
	// degraded without failing it.
	EmailHealth func(context.Context) error

	Auth    *service.AuthService
	Users   *service.UsersService
	Profile *service.ProfileService
	Reset   *service.PasswordResetService

	CookieCodec  auth.CookieCodec
	CookieSecure bool
	SessionTTL   time.Duration

	// TrustedProxies are the peers whose X-Forwarded-For is honoured.
	TrustedProxies []netip.Prefix

	// APILimiter throttles every /v1/ request per client IP; nil disables it.
	APILimiter RateLimiter

	// Metrics instruments routes and serves /metrics; nil disables both.
	Metrics *Metrics
	Now     func() time.Time
}

func NewRouter(opts RouterOpts) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	api := &api{
		logger:       logger,
		isProd:       opts.IsProd,
		dbPing:       opts.DBPing,
		emailHealth:  opts.EmailHealth,
		authSvc:      opts.Auth,
		usersSvc:     opts.Users,
		profileSvc:   opts.Profile,
		resetSvc:     opts.Reset,
		cookieCodec:  opts.CookieCodec,
		cookieSecure: opts.CookieSecure,
		sessionTTL:   opts.SessionTTL,
	}

	publicMux := http.NewServeMux()
	apiMux := http.NewServeMux()
	m := opts.Metrics

	handle := func(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, m.instrument(pattern, h))
	}

	handle(publicMux, "GET /", api.handleHome)
	handle(publicMux, "GET /healthz", api.handleHealthz)
	if m != nil {
		publicMux.Handle("GET /metrics", m.Handler())
	}
	if api.resetSvc != nil {
		handle(publicMux, "GET /forgot-password", api.handleForgotPasswordPage)
		handle(publicMux, "POST /forgot-password", api.handleForgotPasswordSubmit)
		handle(publicMux, "GET /reset-password", api.handleResetPasswordPage)
		handle(publicMux, "POST /reset-password", api.handleResetPasswordSubmit)
	}

	if api.authSvc == nil {
		handle(apiMux, "POST /v1/auth/register", handleNotImplemented)
		handle(apiMux, "POST /v1/auth/login", handleNotImplemented)
		handle(apiMux, "GET /v1/users/me", handleNotImplemented)
	} else {
		handle(apiMux, "POST /v1/auth/register", api.handleAuthRegister)
		handle(apiMux, "POST /v1/auth/login", api.handleAuthLogin)
		handle(apiMux, "POST /v1/auth/google", api.handleAuthLoginGoogle)
		handle(apiMux, "POST /v1/auth/apple", api.handleAuthLoginApple)
		handle(apiMux, "POST /v1/auth/logout", api.requireAuth(api.handleAuthLogout))
		handle(apiMux, "GET /v1/auth/verify-email/{id}/{token}", api.handleAuthVerifyEmail)
		handle(apiMux, "GET /v1/users/me", api.requireAuth(api.handleUsersMe))

		if api.resetSvc != nil {
			handle(apiMux, "POST /v1/auth/forgot", api.handleAuthForgot)
			handle(apiMux, "POST /v1/auth/reset", api.handleAuthReset)
		}
		if api.profileSvc != nil {
			handle(apiMux, "PATCH /v1/users/me/profile", api.requireAuth(api.handleUsersMeProfile))
		}
		if api.usersSvc != nil {
			handle(apiMux, "GET /v1/users", api.requireStaff(api.handleUsersList))
			handle(apiMux, "POST /v1/users", api.requireStaff(api.handleUsersCreate))
			handle(apiMux, "GET /v1/users/{id}", api.requireStaff(api.handleUsersGet))
			handle(apiMux, "PUT /v1/users/{id}", api.requireStaff(api.handleUsersUpdate))
			handle(apiMux, "DELETE /v1/users/{id}", api.requireStaff(api.handleUsersDelete))
			handle(apiMux, "POST /v1/users/{id}/unlock", api.requireStaff(api.handleUsersUnlock))
			handle(apiMux, "PUT /v1/users/{id}/professional-status", api.requireStaff(api.handleUsersProfessionalStatus))
		}
	}

	apiHandler := Throttle(opts.APILimiter, opts.Now)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, pattern := apiMux.Handler(r)
		if pattern == "" {
			handleV1NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	}))

	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/") || r.URL.Path == "/v1" {
			apiHandler.ServeHTTP(w, r)
			return
		}
		publicMux.ServeHTTP(w, r)
	})

	var h http.Handler = root
	h = RequestLogger(logger)(h)
	h = RealIP(opts.TrustedProxies)(h)
	h = RequestID()(h)
	h = Recoverer(logger, opts.IsProd)(h)
	return h
}

func handleNotImplemented(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusNotImplemented, "not_implemented", "not implemented")
}

func handleV1NotFound(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusNotFound, "not_found", "not found")
}

type api struct {
	logger *slog.Logger
	isProd bool

	dbPing      func(context.Context) error
	emailHealth func(context.Context) error

	authSvc    *service.AuthService
	usersSvc   *service.UsersService
	profileSvc *service.ProfileService
	resetSvc   *service.PasswordResetService

	cookieCodec  auth.CookieCodec
	cookieSecure bool
	sessionTTL   time.Duration
}

func (a *api) sessionTTLOrDefault() time.Duration {
	if a.sessionTTL <= 0 {
		return 24 * time.Hour
	}
	return a.sessionTTL
}

func (a *api) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if a.dbPing != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()
		if err := a.dbPing(ctx); err != nil {
			a.logger.WarnContext(r.Context(), "healthz db ping failed", "err", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db down"))
			return
		}
	}

	if a.emailHealth != nil {
		if err := a.emailHealth(r.Context()); err != nil {
			a.logger.WarnContext(r.Context(), "healthz email degraded", "err", err)
			_, _ = w.Write([]byte("degraded: email unavailable"))
			return
		}
	}

	_, _ = w.Write([]byte("ok"))
}
