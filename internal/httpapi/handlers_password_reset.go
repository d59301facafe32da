package httpapi

import (
	"net/http"

	"UserManagementServer/internal/domain"
)

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// handleAuthForgot answers 204 whether or not the address has an account.
func (a *api) handleAuthForgot(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	if err := a.resetSvc.RequestReset(r.Context(), req.Email, clientIP(r)); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleAuthReset(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}
	if req.Token == "" {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"token": "is required"}))
		return
	}

	if err := a.resetSvc.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
