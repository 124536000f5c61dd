package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer = "dealdesk"

	// AuthCookieName is the session cookie consulted when no bearer header
	// is present.
	AuthCookieName = "auth-token"

	bearerPrefix = "Bearer "
)

// Identity is the verified subject of a request.
type Identity struct {
	SubjectID string
	Email     string
	Role      Role
}

// Claims is the signed content of a session token.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Identity converts verified claims back into an identity. Only call on
// claims returned by Codec.Verify; the role has been validated there.
func (c *Claims) Identity() Identity {
	return Identity{
		SubjectID: c.Subject,
		Email:     c.Email,
		Role:      Role(c.Role),
	}
}

// Codec issues and verifies signed session tokens. It owns its secret and
// clock; construct one per process instead of reaching for globals.
type Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) {
		if strings.TrimSpace(issuer) != "" {
			c.issuer = strings.TrimSpace(issuer)
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec signing HS256 tokens valid for ttl.
func NewCodec(secret string, ttl time.Duration, opts ...CodecOption) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: token ttl must be positive")
	}
	c := &Codec{
		secret: []byte(secret),
		issuer: defaultIssuer,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token carrying the identity. The expiry is fixed at the
// codec's ttl from issuance; a changed claim requires a new token.
func (c *Codec) Issue(ident Identity) (string, time.Time, error) {
	ident.SubjectID = strings.TrimSpace(ident.SubjectID)
	if ident.SubjectID == "" {
		return "", time.Time{}, errors.New("auth: subject id is required")
	}
	if !ident.Role.Valid() {
		return "", time.Time{}, ErrUnknownRole
	}

	now := c.now().UTC()
	expiresAt := now.Add(c.ttl)
	claims := Claims{
		Email: strings.TrimSpace(strings.ToLower(ident.Email)),
		Role:  string(ident.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   ident.SubjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify checks signature and expiry and returns the decoded claims.
// Every failure collapses to ErrInvalidToken so callers cannot distinguish
// an expired token from a forged one.
func (c *Codec) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return c.now().UTC() }),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
	)
	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims.Role = string(role)
	return claims, nil
}

// TokenExtractor pulls a raw token out of a request, or returns "".
type TokenExtractor func(*http.Request) string

// FromBearerHeader reads "Authorization: Bearer <token>".
func FromBearerHeader(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerPrefix)) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

// FromAuthCookie reads the session cookie.
func FromAuthCookie(r *http.Request) string {
	cookie, err := r.Cookie(AuthCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

// DefaultExtractors is the ordered extraction chain: header wins over cookie.
var DefaultExtractors = []TokenExtractor{FromBearerHeader, FromAuthCookie}

// ExtractToken returns the first token found by the chain, or "".
func ExtractToken(r *http.Request) string {
	for _, extract := range DefaultExtractors {
		if token := extract(r); token != "" {
			return token
		}
	}
	return ""
}
