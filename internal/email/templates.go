package email

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"
)

type Kind string

const (
	KindEmailVerification  Kind = "email_verification"
	KindPasswordReset      Kind = "password_reset"
	KindAccountLocked      Kind = "account_locked"
	KindProfessionalStatus Kind = "professional_status"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = mustParseTemplates(
	KindEmailVerification,
	KindPasswordReset,
	KindAccountLocked,
	KindProfessionalStatus,
)

type TemplateData struct {
	AppName      string
	Name         string
	Link         string
	Expires      time.Time
	Professional bool
}

// Render produces the subject and plain-text body for a message kind.
func Render(kind Kind, data TemplateData) (subject, body string, err error) {
	t, ok := templates[kind]
	if !ok {
		return "", "", fmt.Errorf("unknown email template %q", kind)
	}
	if data.AppName == "" {
		data.AppName = "User Management"
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "subject", data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", kind, err)
	}
	subject = strings.TrimSpace(buf.String())

	buf.Reset()
	if err := t.ExecuteTemplate(&buf, "body", data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", kind, err)
	}
	return subject, strings.TrimSpace(buf.String()) + "\n", nil
}

func mustParseTemplates(kinds ...Kind) map[Kind]*template.Template {
	out := make(map[Kind]*template.Template, len(kinds))
	for _, k := range kinds {
		out[k] = template.Must(template.New(string(k)).ParseFS(templateFS, "templates/"+string(k)+".tmpl"))
	}
	return out
}
