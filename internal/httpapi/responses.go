package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"UserManagementServer/internal/auth"
	"UserManagementServer/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: message}})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteRateLimited answers 429 with a Retry-After in whole seconds.
func WriteRateLimited(w http.ResponseWriter, until, now time.Time) {
	retry := (&domain.RateLimitedError{Until: until}).RetryAfter(now)
	w.Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
	WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts, try again later")
}

func WriteDomainError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	var rl *domain.RateLimitedError
	switch {
	case errors.As(err, &rl):
		WriteRateLimited(w, rl.Until, time.Now())
	case errors.As(err, &verr):
		WriteJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{
			Code:    "validation_error",
			Message: "invalid request",
			Fields:  verr.Fields,
		}})
	case errors.Is(err, domain.ErrValidation):
		WriteError(w, http.StatusBadRequest, "validation_error", "invalid request")
	case errors.Is(err, domain.ErrRateLimited):
		WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts, try again later")
	case errors.Is(err, domain.ErrNicknameTaken):
		WriteError(w, http.StatusConflict, "nickname_taken", "nickname already taken")
	case errors.Is(err, domain.ErrEmailTaken):
		WriteError(w, http.StatusConflict, "email_taken", "email already taken")
	case errors.Is(err, domain.ErrExternalAccountExists):
		WriteError(w, http.StatusConflict, "external_account_exists", "external account already linked")
	case errors.Is(err, domain.ErrInvalidCredentials):
		WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid login or password")
	case errors.Is(err, domain.ErrUnauthorized):
		WriteError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
	case errors.Is(err, domain.ErrAccountLocked):
		WriteError(w, http.StatusForbidden, "account_locked", "account is locked, reset your password to unlock it")
	case errors.Is(err, domain.ErrForbidden):
		WriteError(w, http.StatusForbidden, "forbidden", "forbidden")
	case errors.Is(err, domain.ErrVerificationInvalid):
		WriteError(w, http.StatusBadRequest, "verification_invalid", "invalid verification link")
	case errors.Is(err, domain.ErrResetTokenInvalid):
		WriteError(w, http.StatusBadRequest, "reset_token_invalid", "invalid reset token")
	case errors.Is(err, domain.ErrResetTokenExpired):
		WriteError(w, http.StatusBadRequest, "reset_token_expired", "reset token has expired")
	case errors.Is(err, auth.ErrProviderDisabled):
		WriteError(w, http.StatusServiceUnavailable, "provider_disabled", "sign-in provider is not configured")
	case errors.Is(err, domain.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "not found")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
