// ABOUTME: Operator tokens for the HTTP API: HS256 JWTs carrying a subject and PNM scopes
// ABOUTME: Scopes separate read-only dashboards from callers that dispatch agent commands

package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrUnknownScope = errors.New("unknown scope")
)

// Issuer is written to the iss claim of generated tokens and required on verify.
const Issuer = "pnm-gateway"

// Scope is one permission granted to an operator token.
type Scope string

const (
	// ScopeRead allows listing agents, captures and the audit trail.
	ScopeRead Scope = "pnm:read"
	// ScopeTasks allows dispatching commands to agents and stopping captures.
	ScopeTasks Scope = "pnm:tasks"
)

var knownScopes = []Scope{ScopeRead, ScopeTasks}

// ParseScopes converts names such as "read" or "pnm:tasks" into scopes.
func ParseScopes(names []string) ([]Scope, error) {
	scopes := make([]Scope, 0, len(names))
	for _, name := range names {
		s := Scope(strings.TrimSpace(name))
		if !strings.HasPrefix(string(s), "pnm:") {
			s = "pnm:" + s
		}
		if !slices.Contains(knownScopes, s) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownScope, name)
		}
		if !slices.Contains(scopes, s) {
			scopes = append(scopes, s)
		}
	}
	return scopes, nil
}

// Claims is the payload of an operator token. Scope is a space separated list.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Scopes returns the granted scopes in token order.
func (c *Claims) Scopes() []Scope {
	fields := strings.Fields(c.Scope)
	out := make([]Scope, len(fields))
	for i, f := range fields {
		out[i] = Scope(f)
	}
	return out
}

// Allows reports whether the token grants s. The tasks scope implies read.
func (c *Claims) Allows(s Scope) bool {
	granted := c.Scopes()
	if slices.Contains(granted, s) {
		return true
	}
	return s == ScopeRead && slices.Contains(granted, ScopeTasks)
}

// TokenVerifier checks an operator token and returns its claims.
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

// JWTVerifier signs and verifies operator tokens with a shared HS256 secret.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret, now: time.Now}
}

// Verify validates signature, issuer and expiry. Tokens need a subject and at least one scope.
func (v *JWTVerifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithTimeFunc(v.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if len(claims.Scopes()) == 0 {
		return nil, fmt.Errorf("%w: scope", ErrMissingClaim)
	}
	return claims, nil
}

// Generate creates a token for subject granting scopes that expires after expiresIn.
func (v *JWTVerifier) Generate(subject string, scopes []Scope, expiresIn time.Duration) (string, error) {
	if len(scopes) == 0 {
		return "", fmt.Errorf("%w: scope", ErrMissingClaim)
	}
	names := make([]string, len(scopes))
	for i, s := range scopes {
		names[i] = string(s)
	}

	now := v.now()
	claims := &Claims{
		Scope: strings.Join(names, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
