package httpapi

import (
	"net/http"

	"dealdesk.org/internal/auth"
)

// withAuth verifies the session token and stores the identity in the request
// context. Tokens are read from the Authorization header first, then the
// session cookie. Any verification failure is a plain 401; the reason stays
// in the server logs.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.ExtractToken(r)
		if token == "" {
			writeError(w, r, http.StatusUnauthorized, "Not authenticated")
			return
		}
		claims, err := a.codec.Verify(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "Not authenticated")
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), claims.Identity())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identity pulls the verified identity set by withAuth. Handlers behind the
// middleware can rely on it being present; the false branch guards direct
// handler invocation in tests.
func identity(r *http.Request) (auth.Identity, bool) {
	return auth.IdentityFromContext(r.Context())
}

// requireAdmin gates management surfaces.
func (a *API) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, ok := identity(r)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "Not authenticated")
			return
		}
		if !auth.CanManageUsers(ident.Role) {
			writeError(w, r, http.StatusForbidden, "Access denied")
			return
		}
		next(w, r)
	}
}
