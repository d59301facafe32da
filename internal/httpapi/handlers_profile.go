package httpapi

import (
	"net/http"
	"time"

	"UserManagementServer/internal/domain"
)

type userResponse struct {
	ID                          string     `json:"id"`
	Email                       string     `json:"email"`
	Nickname                    string     `json:"nickname"`
	Role                        string     `json:"role"`
	FirstName                   string     `json:"first_name,omitempty"`
	LastName                    string     `json:"last_name,omitempty"`
	Bio                         string     `json:"bio,omitempty"`
	ProfilePictureURL           string     `json:"profile_picture_url,omitempty"`
	LinkedInProfileURL          string     `json:"linkedin_profile_url,omitempty"`
	GitHubProfileURL            string     `json:"github_profile_url,omitempty"`
	IsProfessional              bool       `json:"is_professional"`
	ProfessionalStatusUpdatedAt *time.Time `json:"professional_status_updated_at,omitempty"`
	EmailVerified               bool       `json:"email_verified"`
	IsLocked                    bool       `json:"is_locked"`
	LastLoginAt                 *time.Time `json:"last_login_at,omitempty"`
	CreatedAt                   time.Time  `json:"created_at"`
	UpdatedAt                   time.Time  `json:"updated_at"`
}

func toUserResponse(u domain.User) userResponse {
	return userResponse{
		ID:                          u.ID,
		Email:                       u.Email,
		Nickname:                    u.Nickname,
		Role:                        string(u.Role),
		FirstName:                   u.FirstName,
		LastName:                    u.LastName,
		Bio:                         u.Bio,
		ProfilePictureURL:           u.ProfilePictureURL,
		LinkedInProfileURL:          u.LinkedInProfileURL,
		GitHubProfileURL:            u.GitHubProfileURL,
		IsProfessional:              u.IsProfessional,
		ProfessionalStatusUpdatedAt: u.ProfessionalStatusUpdatedAt,
		EmailVerified:               u.EmailVerified,
		IsLocked:                    u.IsLocked,
		LastLoginAt:                 u.LastLoginAt,
		CreatedAt:                   u.CreatedAt,
		UpdatedAt:                   u.UpdatedAt,
	}
}

func writeUser(w http.ResponseWriter, status int, u domain.User) {
	WriteJSON(w, status, toUserResponse(u))
}

// profileRequest uses pointers so absent fields stay untouched.
type profileRequest struct {
	FirstName          *string `json:"first_name"`
	LastName           *string `json:"last_name"`
	Bio                *string `json:"bio"`
	ProfilePictureURL  *string `json:"profile_picture_url"`
	LinkedInProfileURL *string `json:"linkedin_profile_url"`
	GitHubProfileURL   *string `json:"github_profile_url"`
}

func (p profileRequest) update() domain.ProfileUpdate {
	return domain.ProfileUpdate{
		FirstName:          p.FirstName,
		LastName:           p.LastName,
		Bio:                p.Bio,
		ProfilePictureURL:  p.ProfilePictureURL,
		LinkedInProfileURL: p.LinkedInProfileURL,
		GitHubProfileURL:   p.GitHubProfileURL,
	}
}

func (a *api) handleUsersMe(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=0")
	writeUser(w, http.StatusOK, u)
}

func (a *api) handleUsersMeProfile(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}

	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	updated, err := a.profileSvc.UpdateProfile(r.Context(), u.ID, req.update())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeUser(w, http.StatusOK, updated)
}
