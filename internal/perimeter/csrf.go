package perimeter

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
)

const (
	// CSRFCookieName must stay readable by client script, so the cookie is
	// deliberately not httpOnly.
	CSRFCookieName = "csrf-token"

	// CSRFHeaderName carries the second half of the double-submit pair on
	// requests, and the freshly rotated token on responses.
	CSRFHeaderName = "x-csrf-token"

	csrfTokenBytes = 32
)

// NewCSRFToken returns a fresh random token.
func NewCSRFToken() (string, error) {
	buf := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ValidateCSRF applies the double-submit check: cookie and header must both
// be present and equal. Absence or mismatch of either half is hostile; there
// is no fallback.
func ValidateCSRF(r *http.Request) *Violation {
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return &Violation{Kind: KindCSRFMismatch, Detail: "cookie token missing"}
	}
	header := r.Header.Get(CSRFHeaderName)
	if header == "" {
		return &Violation{Kind: KindCSRFMismatch, Detail: "header token missing"}
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
		return &Violation{Kind: KindCSRFMismatch, Detail: "token mismatch"}
	}
	return nil
}

// SetCSRFCookie attaches a token to the response cookie and header so the
// client always holds a current pair for its next unsafe request.
func SetCSRFCookie(w http.ResponseWriter, token string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   24 * 60 * 60,
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set(CSRFHeaderName, token)
}
