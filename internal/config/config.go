package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Limit configures one attempt limiter instance.
type Limit struct {
	MaxAttempts int
	Window      time.Duration
	Block       time.Duration
}

type SMTP struct {
	Host      string
	Port      int
	Username  string
	Password  string
	TLSMode   string
	FromEmail string
	FromName  string
	Rate      float64
}

type Config struct {
	Env          string
	Addr         string
	PublicURL    *url.URL
	DBDSN        string
	CookieSecret string
	SessionTTL   time.Duration
	LogLevel     string

	// CookieSecretPrevious still verifies sessions signed before a rotation.
	CookieSecretPrevious string

	AdminBootstrapEmail    string
	AdminBootstrapPassword string

	LoginLimit           Limit
	APILimit             Limit
	RateLimitSweep       time.Duration
	AccountLockThreshold int

	// TrustedProxies lists the peers whose X-Forwarded-For header is
	// believed. Empty means the header is ignored.
	TrustedProxies []netip.Prefix

	SMTP SMTP

	GoogleClientID string
	AppleServiceID string

	MetricsEnabled bool
}

// Load reads the optional dotenv file named by APP_ENV_FILE (default .env)
// into the process environment, then parses the environment.
func Load() (Config, error) {
	path := os.Getenv("APP_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := loadDotEnvFile(path, os.Setenv, os.Getenv); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}
	return LoadFromEnv(os.Getenv)
}

func LoadFromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Env:          getenv("APP_ENV"),
		Addr:         getenv("APP_ADDR"),
		DBDSN:        getenv("APP_DB_DSN"),
		LogLevel:     getenv("APP_LOG_LEVEL"),
		CookieSecret: getenv("APP_COOKIE_SECRET"),

		CookieSecretPrevious: getenv("APP_COOKIE_SECRET_PREVIOUS"),
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}

	switch cfg.Env {
	case "dev", "prod", "test":
	default:
		return Config{}, errors.New("APP_ENV: must be one of dev, test, prod")
	}

	publicURLRaw := getenv("APP_PUBLIC_URL")
	if publicURLRaw != "" {
		parsed, err := url.Parse(publicURLRaw)
		if err != nil {
			return Config{}, fmt.Errorf("APP_PUBLIC_URL: %w", err)
		}
		if !parsed.IsAbs() || parsed.Host == "" {
			return Config{}, errors.New("APP_PUBLIC_URL: must be an absolute URL")
		}
		switch parsed.Scheme {
		case "http", "https":
		default:
			return Config{}, errors.New("APP_PUBLIC_URL: scheme must be http or https")
		}
		cfg.PublicURL = parsed
	}

	p := envParser{getenv: getenv}
	cfg.SessionTTL = p.duration("APP_SESSION_TTL", 24*time.Hour)

	cfg.LoginLimit = Limit{
		MaxAttempts: p.positiveInt("APP_LOGIN_MAX_ATTEMPTS", 5),
		Window:      p.duration("APP_LOGIN_WINDOW", 5*time.Minute),
		Block:       p.duration("APP_LOGIN_BLOCK", time.Hour),
	}
	cfg.APILimit = Limit{
		MaxAttempts: p.positiveInt("APP_API_MAX_REQUESTS", 100),
		Window:      p.duration("APP_API_WINDOW", time.Minute),
		Block:       p.duration("APP_API_BLOCK", 5*time.Minute),
	}
	cfg.RateLimitSweep = p.duration("APP_RATE_LIMIT_SWEEP", time.Minute)
	cfg.AccountLockThreshold = p.positiveInt("APP_ACCOUNT_LOCK_THRESHOLD", 5)
	cfg.TrustedProxies = p.prefixes("APP_TRUSTED_PROXIES")

	cfg.SMTP = SMTP{
		Host:      strings.TrimSpace(getenv("APP_SMTP_HOST")),
		Port:      p.positiveInt("APP_SMTP_PORT", 587),
		Username:  getenv("APP_SMTP_USERNAME"),
		Password:  getenv("APP_SMTP_PASSWORD"),
		TLSMode:   strings.ToLower(strings.TrimSpace(getenv("APP_SMTP_TLS_MODE"))),
		FromEmail: strings.TrimSpace(getenv("APP_SMTP_FROM_EMAIL")),
		FromName:  strings.TrimSpace(getenv("APP_SMTP_FROM_NAME")),
		Rate:      p.positiveFloat("APP_SMTP_RATE", 2),
	}
	if cfg.SMTP.TLSMode == "" {
		cfg.SMTP.TLSMode = "starttls"
	}
	switch cfg.SMTP.TLSMode {
	case "tls", "starttls", "none":
	default:
		p.fail("APP_SMTP_TLS_MODE", errors.New("must be one of tls, starttls, none"))
	}
	if cfg.SMTP.FromName == "" {
		cfg.SMTP.FromName = "User Management"
	}
	if cfg.SMTP.Host != "" && cfg.SMTP.FromEmail == "" {
		p.fail("APP_SMTP_FROM_EMAIL", errors.New("required when APP_SMTP_HOST is set"))
	}

	cfg.GoogleClientID = strings.TrimSpace(getenv("APP_GOOGLE_CLIENT_ID"))
	cfg.AppleServiceID = strings.TrimSpace(getenv("APP_APPLE_SERVICE_ID"))
	cfg.MetricsEnabled = p.boolean("APP_METRICS_ENABLED", true)

	if p.err != nil {
		return Config{}, p.err
	}

	cfg.AdminBootstrapEmail = strings.TrimSpace(strings.ToLower(getenv("APP_ADMIN_BOOTSTRAP_EMAIL")))
	cfg.AdminBootstrapPassword = getenv("APP_ADMIN_BOOTSTRAP_PASSWORD")
	if cfg.AdminBootstrapPassword != "" && cfg.AdminBootstrapEmail == "" {
		return Config{}, errors.New("APP_ADMIN_BOOTSTRAP_EMAIL: required when APP_ADMIN_BOOTSTRAP_PASSWORD is set")
	}

	if cfg.IsProd() {
		if cfg.PublicURL == nil {
			return Config{}, errors.New("APP_PUBLIC_URL: required in prod")
		}
		if cfg.DBDSN == "" {
			return Config{}, errors.New("APP_DB_DSN: required in prod")
		}
		if len(cfg.CookieSecret) < 32 {
			return Config{}, errors.New("APP_COOKIE_SECRET: must be at least 32 bytes in prod")
		}
	}

	return cfg, nil
}

func (c Config) IsProd() bool { return c.Env == "prod" }

func (c Config) CookieSecure() bool {
	if c.PublicURL != nil {
		return c.PublicURL.Scheme == "https"
	}
	return c.IsProd()
}

// PublicBaseURL is the origin used in emailed links.
func (c Config) PublicBaseURL() string {
	if c.PublicURL != nil {
		return strings.TrimRight(c.PublicURL.String(), "/")
	}
	return "http://" + c.Addr
}

// envParser keeps the first parse error so callers can read many keys and
// check once.
type envParser struct {
	getenv func(string) string
	err    error
}

func (p *envParser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
}

func (p *envParser) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	if d <= 0 {
		p.fail(key, errors.New("must be > 0"))
		return def
	}
	return d
}

func (p *envParser) positiveInt(key string, def int) int {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	if n <= 0 {
		p.fail(key, errors.New("must be > 0"))
		return def
	}
	return n
}

func (p *envParser) positiveFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	if f <= 0 {
		p.fail(key, errors.New("must be > 0"))
		return def
	}
	return f
}

func (p *envParser) boolean(key string, def bool) bool {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return b
}

// prefixes parses a comma-separated list of CIDRs or bare addresses. A bare
// address becomes a single-host prefix.
func (p *envParser) prefixes(key string) []netip.Prefix {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return nil
	}
	var out []netip.Prefix
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			pfx, err := netip.ParsePrefix(part)
			if err != nil {
				p.fail(key, err)
				return nil
			}
			out = append(out, pfx.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			p.fail(key, err)
			return nil
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}
