package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"UserManagementServer/internal/auth"
	"UserManagementServer/internal/config"
	"UserManagementServer/internal/email"
	"UserManagementServer/internal/httpapi"
	"UserManagementServer/internal/ratelimit"
	"UserManagementServer/internal/service"
	"UserManagementServer/internal/store/postgres"
)

const sessionCleanupInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loginLimiter := ratelimit.New(ratelimit.Config(cfg.LoginLimit))
	apiLimiter := ratelimit.New(ratelimit.Config(cfg.APILimit))
	go loginLimiter.Run(ctx, cfg.RateLimitSweep)
	go apiLimiter.Run(ctx, cfg.RateLimitSweep)
	logLimiter(logger, "login", loginLimiter)
	logLimiter(logger, "api", apiLimiter)
	if len(cfg.TrustedProxies) > 0 {
		logger.Info("trusting forwarded client addresses", "proxies", cfg.TrustedProxies)
	}

	var metrics *httpapi.Metrics
	if cfg.MetricsEnabled {
		metrics = httpapi.NewMetrics()
		metrics.WatchLimiter("login", loginLimiter)
		metrics.WatchLimiter("api", apiLimiter)
	}

	sender := newEmailSender(cfg, logger)
	var emailHealth func(context.Context) error
	if smtp, ok := sender.(*email.SMTPSender); ok {
		emailHealth = smtp.Health
	}
	notifier := &service.EmailService{
		Sender:    sender,
		PublicURL: cfg.PublicBaseURL(),
		AppName:   cfg.SMTP.FromName,
	}

	var (
		authSvc    *service.AuthService
		usersSvc   *service.UsersService
		profileSvc *service.ProfileService
		resetSvc   *service.PasswordResetService
		dbPing     func(context.Context) error
	)

	if cfg.DBDSN != "" {
		pgPool, err := postgres.Open(ctx, cfg.DBDSN)
		if err != nil {
			logger.Error("db open failed", "err", err)
			os.Exit(1)
		}
		defer pgPool.Close()

		applied, err := postgres.Migrate(ctx, pgPool)
		if err != nil {
			logger.Error("db migrate failed", "err", err)
			os.Exit(1)
		}
		if len(applied) > 0 {
			logger.Info("db migrations applied", "versions", applied)
		}

		users := postgres.NewUsersStore(pgPool)
		sessions := postgres.NewSessionsStore(pgPool)
		resets := postgres.NewPasswordResetStore(pgPool)

		if cfg.AdminBootstrapPassword != "" {
			created, err := service.BootstrapAdmin(ctx, users, cfg.AdminBootstrapEmail, cfg.AdminBootstrapPassword, nil)
			if err != nil {
				logger.Error("bootstrap admin failed", "err", err)
				os.Exit(1)
			}
			logger.Info("admin bootstrap", "email", cfg.AdminBootstrapEmail, "created", created)
		}

		var idTokens service.ExternalTokenVerifier
		if cfg.GoogleClientID != "" || cfg.AppleServiceID != "" {
			idTokens = auth.IDTokenVerifier{GoogleClientID: cfg.GoogleClientID, AppleServiceID: cfg.AppleServiceID}
		}

		authSvc = &service.AuthService{
			Users:         users,
			Sessions:      sessions,
			Limiter:       loginLimiter,
			Notifier:      notifier,
			IDTokens:      idTokens,
			SessionTTL:    cfg.SessionTTL,
			LockThreshold: cfg.AccountLockThreshold,
			Logger:        logger,
		}
		if metrics != nil {
			authSvc.OnLogin = metrics.ObserveLogin
		}
		usersSvc = &service.UsersService{Users: users, Notifier: notifier, Logger: logger}
		profileSvc = &service.ProfileService{Store: users}
		resetSvc = &service.PasswordResetService{
			Store:    resets,
			Users:    users,
			Sessions: sessions,
			Limiter:  loginLimiter,
			Notifier: notifier,
			Logger:   logger,
		}
		dbPing = pgPool.Ping

		go cleanupSessions(ctx, logger, sessions)
	} else {
		logger.Warn("APP_DB_DSN not set; account endpoints disabled")
	}

	router := httpapi.NewRouter(httpapi.RouterOpts{
		Logger:         logger,
		IsProd:         cfg.IsProd(),
		DBPing:         dbPing,
		EmailHealth:    emailHealth,
		Auth:           authSvc,
		Users:          usersSvc,
		Profile:        profileSvc,
		Reset:          resetSvc,
		CookieCodec:    auth.NewCookieCodec([]byte(cfg.CookieSecret), []byte(cfg.CookieSecretPrevious)),
		CookieSecure:   cfg.CookieSecure(),
		SessionTTL:     cfg.SessionTTL,
		TrustedProxies: cfg.TrustedProxies,
		APILimiter:     apiLimiter,
		Metrics:        metrics,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "env", cfg.Env, "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "err", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}
}

func newEmailSender(cfg config.Config, logger *slog.Logger) email.Sender {
	settings := email.SMTPSettings{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		TLSMode:  cfg.SMTP.TLSMode,
	}
	if !settings.Enabled() {
		logger.Info("smtp disabled; emails will be logged")
		return email.LogSender{Logger: logger}
	}
	return email.NewSMTPSender(email.SenderConfig{
		SMTP:          settings,
		FromEmail:     cfg.SMTP.FromEmail,
		FromName:      cfg.SMTP.FromName,
		RatePerSecond: cfg.SMTP.Rate,
	}, email.WithLogger(logger))
}

// logLimiter records the effective limits, after defaults fill any zero field.
func logLimiter(logger *slog.Logger, name string, l *ratelimit.Limiter) {
	c := l.Config()
	logger.Info("rate limiter configured", "limiter", name, "max_attempts", c.MaxAttempts, "window", c.Window, "block", c.Block)
}

func cleanupSessions(ctx context.Context, logger *slog.Logger, sessions *postgres.SessionsStore) {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.DeleteExpiredSessions(ctx, time.Now())
			if err != nil {
				logger.Warn("session cleanup failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Info("expired sessions removed", "count", n)
			}
		}
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProd() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
