package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"UserManagementServer/internal/domain"
	"UserManagementServer/internal/email"
)

// Notifier sends the account emails the services trigger.
type Notifier interface {
	SendEmailVerification(ctx context.Context, u domain.User, rawToken string) error
	SendPasswordReset(ctx context.Context, u domain.User, rawToken string, expires time.Time) error
	SendAccountLocked(ctx context.Context, u domain.User) error
	SendProfessionalStatus(ctx context.Context, u domain.User) error
}

type EmailService struct {
	Sender    email.Sender
	PublicURL string
	AppName   string
}

func (s *EmailService) SendEmailVerification(ctx context.Context, u domain.User, rawToken string) error {
	link := s.link("/v1/auth/verify-email/" + url.PathEscape(u.ID) + "/" + url.PathEscape(rawToken))
	return s.send(ctx, email.KindEmailVerification, u, email.TemplateData{Link: link})
}

func (s *EmailService) SendPasswordReset(ctx context.Context, u domain.User, rawToken string, expires time.Time) error {
	link := s.link("/reset-password?token=" + url.QueryEscape(rawToken))
	return s.send(ctx, email.KindPasswordReset, u, email.TemplateData{Link: link, Expires: expires})
}

func (s *EmailService) SendAccountLocked(ctx context.Context, u domain.User) error {
	return s.send(ctx, email.KindAccountLocked, u, email.TemplateData{Link: s.link("/forgot-password")})
}

func (s *EmailService) SendProfessionalStatus(ctx context.Context, u domain.User) error {
	return s.send(ctx, email.KindProfessionalStatus, u, email.TemplateData{
		Link:         s.link("/v1/users/me"),
		Professional: u.IsProfessional,
	})
}

func (s *EmailService) send(ctx context.Context, kind email.Kind, u domain.User, data email.TemplateData) error {
	if s.Sender == nil {
		return fmt.Errorf("email sender unavailable")
	}
	data.AppName = s.AppName
	data.Name = u.DisplayName()

	subject, body, err := email.Render(kind, data)
	if err != nil {
		return err
	}
	return s.Sender.Send(ctx, email.Message{
		ToEmail:  u.Email,
		Subject:  subject,
		TextBody: body,
	})
}

func (s *EmailService) link(path string) string {
	return strings.TrimRight(s.PublicURL, "/") + path
}
