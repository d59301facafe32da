package httpapi

import (
	"net/http"
	"strings"

	"UserManagementServer/internal/auth"
	"UserManagementServer/internal/domain"
	"UserManagementServer/internal/service"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	profileRequest
}

func (a *api) handleAuthRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	u, err := a.authSvc.Register(r.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Profile:  req.profileRequest.update(),
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeUser(w, http.StatusCreated, u)
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type loginResponse struct {
	User        userResponse `json:"user"`
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int          `json:"expires_in"`
}

func (a *api) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	req.Login = strings.TrimSpace(req.Login)
	fields := map[string]string{}
	if req.Login == "" {
		fields["login"] = "is required"
	}
	if req.Password == "" {
		fields["password"] = "is required"
	}
	if len(fields) > 0 {
		WriteDomainError(w, domain.NewValidationError(fields))
		return
	}

	u, sessID, err := a.authSvc.Login(r.Context(), req.Login, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	a.startSession(w, http.StatusOK, u, sessID)
}

type idTokenRequest struct {
	IDToken string `json:"id_token"`
}

func (a *api) handleAuthLoginGoogle(w http.ResponseWriter, r *http.Request) {
	a.handleExternalLogin(w, r, auth.ProviderGoogle)
}

func (a *api) handleAuthLoginApple(w http.ResponseWriter, r *http.Request) {
	a.handleExternalLogin(w, r, auth.ProviderApple)
}

func (a *api) handleExternalLogin(w http.ResponseWriter, r *http.Request, provider string) {
	var req idTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}
	req.IDToken = strings.TrimSpace(req.IDToken)
	if req.IDToken == "" {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"id_token": "is required"}))
		return
	}

	u, sessID, err := a.authSvc.LoginWithExternal(r.Context(), provider, req.IDToken, clientIP(r), r.UserAgent())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	a.startSession(w, http.StatusOK, u, sessID)
}

// startSession sets the session cookie and returns the same signed value as a
// bearer token for non-browser clients.
func (a *api) startSession(w http.ResponseWriter, status int, u domain.User, sessID string) {
	token := a.cookieCodec.EncodeSessionID(sessID)
	auth.SetSessionCookie(w, token, a.sessionTTL, a.cookieSecure)
	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, status, loginResponse{
		User:        toUserResponse(u),
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(a.sessionTTLOrDefault().Seconds()),
	})
}

func (a *api) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	sessID, ok := CurrentSessionID(r.Context())
	if !ok || sessID == "" {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}

	if err := a.authSvc.Logout(r.Context(), sessID); err != nil {
		a.logger.WarnContext(r.Context(), "logout failed", "err", err)
	}
	auth.ClearSessionCookie(w, a.cookieSecure)
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	id, err := pathUserID(r)
	if err != nil {
		WriteDomainError(w, domain.ErrVerificationInvalid)
		return
	}
	u, err := a.authSvc.VerifyEmail(r.Context(), id, r.PathValue("token"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeUser(w, http.StatusOK, u)
}
