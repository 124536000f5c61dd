package httpapi

import (
	"net/http"
	"strings"
	"time"

	"dealdesk.org/internal/audit"
	"dealdesk.org/internal/auth"
	"dealdesk.org/internal/perimeter"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      userView  `json:"user"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := a.svc.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{
			"email":  strings.ToLower(strings.TrimSpace(req.Email)),
			"remote": perimeter.ClientIP(r),
		})
		writeError(w, r, http.StatusUnauthorized, "Not authenticated")
		return
	}

	ident := auth.Identity{SubjectID: user.ID, Email: user.Email, Role: user.Role}
	token, expiresAt, err := a.codec.Issue(ident)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	a.setAuthCookie(w, token, expiresAt)
	if a.csrfEnabled {
		if csrf, err := perimeter.NewCSRFToken(); err == nil {
			perimeter.SetCSRFCookie(w, csrf, a.secureCookies)
		}
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": user.ID,
		"role":    string(user.Role),
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      viewUser(user),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.clearAuthCookie(w)
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Not authenticated")
		return
	}
	user, err := a.svc.GetUser(r.Context(), ident.SubjectID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewUser(user))
}

func (a *API) setAuthCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.AuthCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(a.tokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.AuthCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
