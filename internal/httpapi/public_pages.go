package httpapi

import (
	"errors"
	"html/template"
	"net/http"

	"UserManagementServer/internal/domain"
)

var publicPageT = template.Must(template.New("public").Parse(publicLayout))

type publicPageData struct {
	Title   string
	Form    string
	Token   string
	Message string
	Error   string
}

func (a *api) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	renderPublicPage(w, http.StatusOK, publicPageData{Title: "User Management"})
}

func (a *api) handleForgotPasswordPage(w http.ResponseWriter, r *http.Request) {
	renderPublicPage(w, http.StatusOK, publicPageData{Title: "Forgot password", Form: "forgot"})
}

func (a *api) handleForgotPasswordSubmit(w http.ResponseWriter, r *http.Request) {
	data := publicPageData{Title: "Forgot password", Form: "forgot"}
	err := a.resetSvc.RequestReset(r.Context(), r.PostFormValue("email"), clientIP(r))
	var rl *domain.RateLimitedError
	switch {
	case err == nil:
		data.Form = ""
		data.Message = "If that address has an account, a reset link is on its way."
	case errors.As(err, &rl):
		data.Error = "Too many requests. Please try again later."
		renderPublicPage(w, http.StatusTooManyRequests, data)
		return
	case errors.Is(err, domain.ErrValidation):
		data.Error = "Please enter a valid email address."
		renderPublicPage(w, http.StatusBadRequest, data)
		return
	default:
		a.logger.ErrorContext(r.Context(), "forgot password failed", "err", err)
		data.Error = "Something went wrong. Please try again."
		renderPublicPage(w, http.StatusInternalServerError, data)
		return
	}
	renderPublicPage(w, http.StatusOK, data)
}

func (a *api) handleResetPasswordPage(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		renderPublicPage(w, http.StatusBadRequest, publicPageData{Title: "Reset password", Error: "This reset link is incomplete."})
		return
	}
	renderPublicPage(w, http.StatusOK, publicPageData{Title: "Reset password", Form: "reset", Token: token})
}

func (a *api) handleResetPasswordSubmit(w http.ResponseWriter, r *http.Request) {
	token := r.PostFormValue("token")
	data := publicPageData{Title: "Reset password", Form: "reset", Token: token}
	if r.PostFormValue("password") != r.PostFormValue("confirm") {
		data.Error = "Passwords do not match."
		renderPublicPage(w, http.StatusBadRequest, data)
		return
	}

	err := a.resetSvc.ResetPassword(r.Context(), token, r.PostFormValue("password"))
	switch {
	case err == nil:
		renderPublicPage(w, http.StatusOK, publicPageData{Title: "Reset password", Message: "Your password has been changed. You can sign in now."})
	case errors.Is(err, domain.ErrValidation):
		data.Error = "Password must be between 8 and 72 characters."
		renderPublicPage(w, http.StatusBadRequest, data)
	case errors.Is(err, domain.ErrResetTokenInvalid), errors.Is(err, domain.ErrResetTokenExpired):
		renderPublicPage(w, http.StatusBadRequest, publicPageData{Title: "Reset password", Error: "This reset link is invalid or has expired."})
	default:
		a.logger.ErrorContext(r.Context(), "reset password failed", "err", err)
		data.Error = "Something went wrong. Please try again."
		renderPublicPage(w, http.StatusInternalServerError, data)
	}
}

func renderPublicPage(w http.ResponseWriter, status int, data publicPageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = publicPageT.Execute(w, data)
}

const publicLayout = `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width,initial-scale=1" />
    <title>{{.Title}}</title>
    <style>
      body{margin:0;font-family:"Helvetica Neue",Arial,sans-serif;background:#f5f6f8;color:#111827}
      main{max-width:420px;margin:72px auto;padding:32px;background:#fff;border-radius:12px;box-shadow:0 8px 24px rgba(15,23,42,.08)}
      h1{font-size:22px;margin:0 0 16px}
      label{display:block;font-size:14px;margin:12px 0 4px}
      input{width:100%;box-sizing:border-box;padding:10px;border:1px solid #d1d5db;border-radius:8px;font-size:15px}
      button{margin-top:18px;width:100%;padding:11px;border:0;border-radius:8px;background:#2563eb;color:#fff;font-size:15px;cursor:pointer}
      .msg{padding:10px 12px;border-radius:8px;background:#ecfdf5;color:#065f46}
      .err{padding:10px 12px;border-radius:8px;background:#fef2f2;color:#991b1b}
    </style>
  </head>
  <body>
    <main>
      <h1>{{.Title}}</h1>
      {{if .Message}}<p class="msg">{{.Message}}</p>{{end}}
      {{if .Error}}<p class="err">{{.Error}}</p>{{end}}
      {{if eq .Form "forgot"}}
      <form method="post" action="/forgot-password">
        <label for="email">Email</label>
        <input id="email" name="email" type="email" autocomplete="email" required />
        <button type="submit">Send reset link</button>
      </form>
      {{else if eq .Form "reset"}}
      <form method="post" action="/reset-password">
        <input type="hidden" name="token" value="{{.Token}}" />
        <label for="password">New password</label>
        <input id="password" name="password" type="password" autocomplete="new-password" minlength="8" maxlength="72" required />
        <label for="confirm">Confirm password</label>
        <input id="confirm" name="confirm" type="password" autocomplete="new-password" required />
        <button type="submit">Change password</button>
      </form>
      {{else if not .Message}}{{if not .Error}}
      <p>Account service. Use the API under <code>/v1/</code> or <a href="/forgot-password">reset your password</a>.</p>
      {{end}}{{end}}
    </main>
  </body>
</html>
`
