package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"dealdesk.org/internal/audit"
	"dealdesk.org/internal/ids"
	"dealdesk.org/internal/obs"
	"dealdesk.org/internal/perimeter"
)

type requestIDKey struct{}

const requestIDHeader = "X-Request-Id"

// RequestID assigns each request an identifier, honoring one supplied by an
// upstream proxy, and echoes it in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(requestIDHeader)
		if rid == "" {
			rid = ids.New()
		}
		w.Header().Set(requestIDHeader, rid)
		ctx := context.WithValue(r.Context(), requestIDKey{}, rid)
		ctx = audit.WithRequestID(ctx, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the request identifier, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingJSON emits one structured entry per completed request.
func LoggingJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)

		obs.Logger().Info().
			Str("request_id", RequestIDFromContext(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.code).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Str("remote", perimeter.ClientIP(r)).
			Msg("request_complete")
	})
}

// perimeterMiddleware runs the full request screen before anything else
// touches the request. Rejections are counted, audited for the security
// sensitive kinds, and answered with the guard's client-facing message.
func (a *API) perimeterMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.guard != nil {
			if v := a.guard.Check(r); v != nil {
				a.rejectPerimeter(w, r, v)
				return
			}
		}
		a.rotateCSRF(w, r)
		next.ServeHTTP(w, r)
	})
}

// perimeterAuthSurface protects the login surface: origin and agent checks
// plus a tighter per-address throttle, but no CSRF pair requirement since
// the client has no token before its first login.
func (a *API) perimeterAuthSurface(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.guard != nil {
			if v := a.guard.CheckAuthSurface(r); v != nil {
				a.rejectPerimeter(w, r, v)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) rejectPerimeter(w http.ResponseWriter, r *http.Request, v *perimeter.Violation) {
	obs.CountPerimeterRejection(string(v.Kind))
	switch v.Kind {
	case perimeter.KindCSRFMismatch, perimeter.KindSuspiciousPattern:
		_ = audit.LogEvent(r.Context(), "perimeter.reject", map[string]any{
			"kind":   string(v.Kind),
			"path":   r.URL.Path,
			"remote": perimeter.ClientIP(r),
		})
	}
	if v.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(v.RetryAfter.Seconds())))
	}
	writeError(w, r, v.Status(), v.Message())
}

// rotateCSRF issues a fresh double-submit token on safe requests. Cookies
// must be set before the handler writes the body, so the rotation happens
// up front; the handler's response then carries the new pair.
func (a *API) rotateCSRF(w http.ResponseWriter, r *http.Request) {
	if !a.csrfEnabled || r.Method != http.MethodGet {
		return
	}
	token, err := perimeter.NewCSRFToken()
	if err != nil {
		obs.Logger().Error().Err(err).Msg("csrf token generation failed")
		return
	}
	perimeter.SetCSRFCookie(w, token, a.secureCookies)
}
