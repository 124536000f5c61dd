package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dealdesk.org/internal/audit"
	"dealdesk.org/internal/auth"
	"dealdesk.org/internal/crm"
)

// userView is the client-facing shape of an account. The password hash
// never appears here.
type userView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      auth.Role `json:"role"`
	AuthType  string    `json:"auth_type"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func viewUser(u crm.User) userView {
	return userView{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		AuthType:  u.AuthType,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

type createUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type updateUserRequest struct {
	Email    *string `json:"email"`
	Name     *string `json:"name"`
	Role     *string `json:"role"`
	Password *string `json:"password"`
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.svc.ListUsers(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, viewUser(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.CreateUser(r.Context(), req.Email, req.Name, req.Password, role)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.create", map[string]any{
		"target_id": user.ID,
		"role":      string(user.Role),
	})
	writeJSON(w, http.StatusCreated, viewUser(user))
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.svc.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewUser(user))
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	upd := crm.UserUpdate{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	}
	if req.Role != nil {
		role, err := auth.ParseRole(*req.Role)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		upd.Role = &role
	}
	user, err := a.svc.UpdateUser(r.Context(), chi.URLParam(r, "userID"), upd)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.update", map[string]any{"target_id": user.ID})
	writeJSON(w, http.StatusOK, viewUser(user))
}

// handleDeleteUser drives the deletion workflow. The mode and, for
// reassignment, the target user come from query parameters. Deleting your
// own account is rejected before the workflow starts.
func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Not authenticated")
		return
	}
	userID := chi.URLParam(r, "userID")
	if userID == ident.SubjectID {
		writeError(w, r, http.StatusBadRequest, "cannot delete your own account")
		return
	}
	mode, err := crm.ParseDeleteMode(r.URL.Query().Get("mode"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	res, err := a.svc.DeleteUser(r.Context(), userID, mode, r.URL.Query().Get("reassign_to"))
	if err != nil {
		_ = audit.LogEvent(r.Context(), "user.delete.failed", map[string]any{
			"target_id": userID,
			"mode":      string(mode),
			"error":     err.Error(),
		})
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.delete", map[string]any{
		"target_id":     userID,
		"mode":          string(res.Mode),
		"reassigned_to": res.ReassignedTo,
	})
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleReactivateUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.svc.ReactivateUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.reactivate", map[string]any{"target_id": user.ID})
	writeJSON(w, http.StatusOK, viewUser(user))
}
