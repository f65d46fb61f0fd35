// Package auth validates the session tokens minted by the external auth service
// and derives the account identity a request acts for.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSessionSigningKey = errors.New("auth: signing key required")
	ErrMissingSessionIssuer     = errors.New("auth: issuer required")
	ErrMissingSessionCookieName = errors.New("auth: cookie name required")
	ErrMissingSessionToken      = errors.New("auth: session token required")
	ErrInvalidSessionToken      = errors.New("auth: invalid session token")
	ErrExpiredSessionToken      = errors.New("auth: session token expired")
	ErrMissingSessionSubject    = errors.New("auth: session has no account identity")
)

// CredentialSource records where a request carried its session token.
type CredentialSource string

const (
	CredentialNone   CredentialSource = ""
	CredentialBearer CredentialSource = "bearer"
	CredentialCookie CredentialSource = "cookie"
)

const bearerScheme = "bearer"

// SessionClaims is the JWT payload minted by the external auth service.
type SessionClaims struct {
	UserID          string   `json:"user_id"`
	UserEmail       string   `json:"user_email"`
	UserDisplayName string   `json:"user_display_name"`
	UserAvatarURL   string   `json:"user_avatar_url"`
	UserRoles       []string `json:"user_roles"`
	jwt.RegisteredClaims
}

// SessionValidatorConfig describes how to validate session JWTs.
type SessionValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	Clock         func() time.Time
}

// SessionValidator checks HS256 session tokens from the Authorization header
// or the session cookie.
type SessionValidator struct {
	parser     *jwt.Parser
	secret     []byte
	cookieName string
}

// NewSessionValidator constructs a validator with the provided configuration.
func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingSessionIssuer
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingSessionCookieName
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionValidator{
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithTimeFunc(clock),
		),
		secret:     append([]byte(nil), cfg.SigningSecret...),
		cookieName: cookieName,
	}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (v *SessionValidator) CookieName() string {
	return v.cookieName
}

// ValidateToken verifies a session token and returns its claims. The claims
// always resolve to a valid Identity.
func (v *SessionValidator) ValidateToken(tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	var claims SessionClaims
	if _, err := v.parser.ParseWithClaims(token, &claims, v.signingKey); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredSessionToken
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.UserID) == "" || !claims.Identity().Valid() {
		return SessionClaims{}, ErrMissingSessionSubject
	}
	return claims, nil
}

// ValidateRequest validates the session carried by r. A bearer header takes
// precedence over the cookie.
func (v *SessionValidator) ValidateRequest(r *http.Request) (SessionClaims, error) {
	token, source := v.credential(r)
	if source == CredentialNone {
		return SessionClaims{}, ErrMissingSessionToken
	}
	return v.ValidateToken(token)
}

func (v *SessionValidator) signingKey(token *jwt.Token) (any, error) {
	if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidSessionToken, token.Method.Alg())
	}
	return v.secret, nil
}

func (v *SessionValidator) credential(r *http.Request) (string, CredentialSource) {
	if r == nil {
		return "", CredentialNone
	}
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, CredentialBearer
	}
	if cookie, err := r.Cookie(v.cookieName); err == nil && cookie != nil {
		return cookie.Value, CredentialCookie
	}
	return "", CredentialNone
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
