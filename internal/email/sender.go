package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrUnavailable is returned while the SMTP circuit is open.
var ErrUnavailable = errors.New("email delivery temporarily unavailable")

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// TransportFunc performs the actual delivery. SendSMTP is the production value.
type TransportFunc func(ctx context.Context, settings SMTPSettings, msg Message) error

type SenderConfig struct {
	SMTP      SMTPSettings
	FromEmail string
	FromName  string

	// RatePerSecond paces outbound messages; zero means 2/s.
	RatePerSecond float64
	Burst         int

	// FailureThreshold is the number of consecutive failures that opens the
	// circuit; CoolDown is how long it stays open.
	FailureThreshold uint32
	CoolDown         time.Duration

	SendTimeout time.Duration
}

type SMTPSender struct {
	cfg       SenderConfig
	transport TransportFunc
	breaker   *gobreaker.CircuitBreaker
	pace      *rate.Limiter
	logger    *slog.Logger
}

type SenderOption func(*SMTPSender)

func WithTransport(fn TransportFunc) SenderOption {
	return func(s *SMTPSender) { s.transport = fn }
}

func WithLogger(l *slog.Logger) SenderOption {
	return func(s *SMTPSender) { s.logger = l }
}

func NewSMTPSender(cfg SenderConfig, opts ...SenderOption) *SMTPSender {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}

	s := &SMTPSender{
		cfg:       cfg,
		transport: SendSMTP,
		pace:      rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	threshold := cfg.FailureThreshold
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: 1,
		Timeout:     cfg.CoolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("email circuit state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return s
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if msg.FromEmail == "" {
		msg.FromEmail = s.cfg.FromEmail
	}
	if msg.FromName == "" {
		msg.FromName = s.cfg.FromName
	}
	if msg.ToEmail == "" {
		return errors.New("email recipient required")
	}

	if err := s.pace.Wait(ctx); err != nil {
		return fmt.Errorf("email pacing: %w", err)
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		defer cancel()
		return nil, s.transport(sendCtx, s.cfg.SMTP, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrUnavailable
	}
	return err
}

func (s *SMTPSender) State() gobreaker.State { return s.breaker.State() }

// Health reports ErrUnavailable while the circuit is open. A half-open
// circuit is probing the server and counts as healthy.
func (s *SMTPSender) Health(context.Context) error {
	if s.breaker.State() == gobreaker.StateOpen {
		return ErrUnavailable
	}
	return nil
}

// LogSender writes messages to the log instead of delivering them. It backs
// development setups with no SMTP host configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, msg Message) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "email not sent, smtp disabled", "to", msg.ToEmail, "subject", msg.Subject, "body", msg.TextBody)
	return nil
}
