package httpapi

import (
	"net/http"
	"strings"

	"UserManagementServer/internal/domain"
	"UserManagementServer/internal/service"
)

type userListResponse struct {
	Users []userResponse `json:"users"`
	Total int            `json:"total"`
	Skip  int            `json:"skip"`
	Limit int            `json:"limit"`
}

func (a *api) handleUsersList(w http.ResponseWriter, r *http.Request) {
	skip, ok := queryInt(r, "skip", 0)
	if !ok {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"skip": "must be an integer"}))
		return
	}
	limit, ok := queryInt(r, "limit", service.DefaultPageSize)
	if !ok {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"limit": "must be an integer"}))
		return
	}

	page, err := a.usersSvc.List(r.Context(), skip, limit)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	resp := userListResponse{
		Users: make([]userResponse, 0, len(page.Users)),
		Total: page.Total,
		Skip:  page.Skip,
		Limit: page.Limit,
	}
	for _, u := range page.Users {
		resp.Users = append(resp.Users, toUserResponse(u))
	}
	WriteJSON(w, http.StatusOK, resp)
}

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
	Role     string `json:"role"`
	profileRequest
}

func (a *api) handleUsersCreate(w http.ResponseWriter, r *http.Request) {
	actor, _ := CurrentUser(r.Context())

	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	u, err := a.usersSvc.Create(r.Context(), actor, service.CreateUserInput{
		Email:    req.Email,
		Password: req.Password,
		Nickname: req.Nickname,
		Role:     domain.Role(strings.ToUpper(strings.TrimSpace(req.Role))),
		Profile:  req.profileRequest.update(),
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeUser(w, http.StatusCreated, u)
}

func (a *api) handleUsersGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathUserID(r)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	u, err := a.usersSvc.Get(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeUser(w, http.StatusOK, u)
}

type updateUserRequest struct {
	Email    *string `json:"email"`
	Nickname *string `json:"nickname"`
	Role     *string `json:"role"`
	profileRequest
}

func (a *api) handleUsersUpdate(w http.ResponseWriter, r *http.Request) {
	actor, _ := CurrentUser(r.Context())
	id, err := pathUserID(r)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	upd := domain.UserUpdate{
		Email:    req.Email,
		Nickname: req.Nickname,
		Profile:  req.profileRequest.update(),
	}
	if req.Role != nil {
		role := domain.Role(strings.ToUpper(strings.TrimSpace(*req.Role)))
		upd.Role = &role
	}

	u, err := a.usersSvc.Update(r.Context(), actor, id, upd)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeUser(w, http.StatusOK, u)
}

func (a *api) handleUsersDelete(w http.ResponseWriter, r *http.Request) {
	actor, _ := CurrentUser(r.Context())
	id, err := pathUserID(r)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if err := a.usersSvc.Delete(r.Context(), actor, id); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleUsersUnlock(w http.ResponseWriter, r *http.Request) {
	actor, _ := CurrentUser(r.Context())
	id, err := pathUserID(r)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	u, err := a.usersSvc.Unlock(r.Context(), actor, id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeUser(w, http.StatusOK, u)
}

type professionalStatusRequest struct {
	IsProfessional *bool `json:"is_professional"`
}

type professionalStatusResponse struct {
	User          userResponse `json:"user"`
	EmailNotified bool         `json:"email_notified"`
}

func (a *api) handleUsersProfessionalStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := CurrentUser(r.Context())
	id, err := pathUserID(r)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	var req professionalStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}
	if req.IsProfessional == nil {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"is_professional": "is required"}))
		return
	}

	u, notified, err := a.usersSvc.SetProfessionalStatus(r.Context(), actor, id, *req.IsProfessional)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, professionalStatusResponse{User: toUserResponse(u), EmailNotified: notified})
}
