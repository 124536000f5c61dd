// Package perimeter screens inbound requests before any business logic
// runs: origin/agent/referer allowlisting, per-IP rate limiting, CSRF
// double-submit validation, content-type and URL pattern checks.
package perimeter

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Kind identifies a perimeter violation.
type Kind string

const (
	KindForbiddenOrigin   Kind = "forbidden_origin"
	KindForbiddenAgent    Kind = "forbidden_agent"
	KindForbiddenReferer  Kind = "forbidden_referer"
	KindRateLimited       Kind = "rate_limited"
	KindCSRFMismatch      Kind = "csrf_mismatch"
	KindBadContentType    Kind = "bad_content_type"
	KindSuspiciousPattern Kind = "suspicious_pattern"
)

// Violation is a perimeter rejection. Detail carries the offending value for
// server-side logs and must never be echoed to the client; Message is the
// client-safe text.
type Violation struct {
	Kind       Kind
	Detail     string
	RetryAfter time.Duration
}

// Status maps the violation onto an HTTP status code.
func (v *Violation) Status() int {
	switch v.Kind {
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindBadContentType:
		return http.StatusBadRequest
	default:
		return http.StatusForbidden
	}
}

// Message is the generic client-facing error text.
func (v *Violation) Message() string {
	switch v.Kind {
	case KindRateLimited:
		return "Rate limit exceeded, please try again later"
	case KindCSRFMismatch:
		return "Access denied: Invalid CSRF token"
	case KindBadContentType:
		return "Content-Type must be application/json"
	default:
		return "Access denied"
	}
}

// Config holds the allowlists consulted by the guard.
type Config struct {
	// Origins is the exact-match Origin allowlist, also used as the
	// prefix allowlist for Referer.
	Origins []string
	// Agents are lower-cased substrings at least one of which must appear
	// in a present User-Agent header.
	Agents []string
	// CSRFEnabled toggles double-submit validation for unsafe methods.
	CSRFEnabled bool
}

// Guard evaluates perimeter checks in a fixed, short-circuiting order.
// The order is part of the contract: cheap header checks run before the
// rate limiter, and the URL scan runs last.
type Guard struct {
	cfg     Config
	limiter *Limiter
	login   *LoginThrottle
}

// NewGuard wires the guard to its injected stores.
func NewGuard(cfg Config, limiter *Limiter, login *LoginThrottle) *Guard {
	return &Guard{cfg: cfg, limiter: limiter, login: login}
}

// Check screens a request bound for the application surface. A nil result
// means the request may proceed.
func (g *Guard) Check(r *http.Request) *Violation {
	if v := g.checkOrigin(r); v != nil {
		return v
	}
	if v := g.checkAgent(r); v != nil {
		return v
	}
	if v := g.checkReferer(r); v != nil {
		return v
	}
	if v := g.checkRate(r); v != nil {
		return v
	}
	if g.cfg.CSRFEnabled && r.Method != http.MethodGet && r.Method != http.MethodHead && r.Method != http.MethodOptions {
		if v := ValidateCSRF(r); v != nil {
			return v
		}
	}
	if v := g.checkContentType(r); v != nil {
		return v
	}
	return g.checkPattern(r)
}

// CheckAuthSurface is the reduced screen for login/logout/me: no CSRF (there
// is no prior session to pair a token with) but origin, agent and a stricter
// login throttle still apply.
func (g *Guard) CheckAuthSurface(r *http.Request) *Violation {
	if v := g.checkOrigin(r); v != nil {
		return v
	}
	if v := g.checkAgent(r); v != nil {
		return v
	}
	if g.login != nil && !g.login.Allow(ClientIP(r)) {
		return &Violation{Kind: KindRateLimited, Detail: ClientIP(r), RetryAfter: time.Minute}
	}
	return nil
}

// Origin, when present, must exactly match an allowlisted entry.
func (g *Guard) checkOrigin(r *http.Request) *Violation {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return nil
	}
	for _, allowed := range g.cfg.Origins {
		if origin == allowed {
			return nil
		}
	}
	return &Violation{Kind: KindForbiddenOrigin, Detail: origin}
}

// User-Agent, when present, must carry at least one allowed signature.
func (g *Guard) checkAgent(r *http.Request) *Violation {
	agent := strings.TrimSpace(r.Header.Get("User-Agent"))
	if agent == "" || len(g.cfg.Agents) == 0 {
		return nil
	}
	lowered := strings.ToLower(agent)
	for _, sig := range g.cfg.Agents {
		if strings.Contains(lowered, sig) {
			return nil
		}
	}
	return &Violation{Kind: KindForbiddenAgent, Detail: agent}
}

// Referer, when present, must start with an allowlisted origin.
func (g *Guard) checkReferer(r *http.Request) *Violation {
	referer := strings.TrimSpace(r.Header.Get("Referer"))
	if referer == "" {
		return nil
	}
	for _, allowed := range g.cfg.Origins {
		if strings.HasPrefix(referer, allowed) {
			return nil
		}
	}
	return &Violation{Kind: KindForbiddenReferer, Detail: referer}
}

func (g *Guard) checkRate(r *http.Request) *Violation {
	if g.limiter == nil {
		return nil
	}
	ip := ClientIP(r)
	ok, retryAfter := g.limiter.Allow(ip)
	if ok {
		return nil
	}
	return &Violation{Kind: KindRateLimited, Detail: ip, RetryAfter: retryAfter}
}

// State-carrying methods must declare a JSON body.
func (g *Guard) checkContentType(r *http.Request) *Violation {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil
	}
	ct := r.Header.Get("Content-Type")
	if strings.Contains(strings.ToLower(ct), "application/json") {
		return nil
	}
	return &Violation{Kind: KindBadContentType, Detail: ct}
}

// suspiciousPatterns are substrings associated with injection and XSS
// attempts, matched against the lower-cased request URL.
var suspiciousPatterns = []string{
	"<script",
	"</script",
	"javascript:",
	"onerror=",
	"onload=",
	"onclick=",
	"eval(",
	"alert(",
	"union select",
	"select * from",
	"insert into",
	"delete from",
	"drop table",
	"' or '1'='1",
}

func (g *Guard) checkPattern(r *http.Request) *Violation {
	raw := r.URL.RequestURI()
	// Match against the decoded form so percent-encoding cannot hide a
	// payload; a string that fails to decode is scanned as-is.
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		decoded = raw
	}
	lowered := strings.ToLower(decoded)
	for _, p := range suspiciousPatterns {
		if strings.Contains(lowered, p) {
			return &Violation{Kind: KindSuspiciousPattern, Detail: p}
		}
	}
	return nil
}

// ClientIP derives the client address from proxy headers in priority order,
// falling back to the connection peer.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
