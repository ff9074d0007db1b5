// ABOUTME: Unit tests for operator token generation, verification and scopes
// ABOUTME: Covers tampering, expiry, algorithm pinning, issuer checks and scope parsing

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-for-jwt-signing")

func TestJWTVerifier_RoundTripCarriesScopes(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	token, err := verifier.Generate("noc-dashboard", []Scope{ScopeRead}, time.Hour)
	require.NoError(t, err)

	claims, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "noc-dashboard", claims.Subject)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.Equal(t, []Scope{ScopeRead}, claims.Scopes())
	assert.True(t, claims.Allows(ScopeRead))
	assert.False(t, claims.Allows(ScopeTasks))
}

func TestClaimsTasksImpliesRead(t *testing.T) {
	c := &Claims{Scope: "pnm:tasks"}
	assert.True(t, c.Allows(ScopeTasks))
	assert.True(t, c.Allows(ScopeRead))

	c = &Claims{Scope: ""}
	assert.False(t, c.Allows(ScopeRead))
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	otherSecret, err := NewJWTVerifier([]byte("different-secret")).Generate("lab-ci", []Scope{ScopeTasks}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not-a-jwt-token"},
		{"malformed JWT", "header.payload.signature"},
		{"wrong secret", otherSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	token, err := verifier.Generate("operator-1", []Scope{ScopeRead}, -time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTVerifier_ClockSkew(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	token, err := verifier.Generate("operator-1", []Scope{ScopeRead}, time.Minute)
	require.NoError(t, err)

	verifier.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTVerifier_RejectsForeignTokens(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name    string
		method  jwt.SigningMethod
		claims  *Claims
		wantErr error
	}{
		{
			name:    "HS512",
			method:  jwt.SigningMethodHS512,
			claims:  &Claims{Scope: "pnm:read", RegisteredClaims: jwt.RegisteredClaims{Subject: "op", Issuer: Issuer, ExpiresAt: exp}},
			wantErr: ErrInvalidToken,
		},
		{
			name:    "other issuer",
			method:  jwt.SigningMethodHS256,
			claims:  &Claims{Scope: "pnm:read", RegisteredClaims: jwt.RegisteredClaims{Subject: "op", Issuer: "someone-else", ExpiresAt: exp}},
			wantErr: ErrInvalidToken,
		},
		{
			name:    "no expiry",
			method:  jwt.SigningMethodHS256,
			claims:  &Claims{Scope: "pnm:read", RegisteredClaims: jwt.RegisteredClaims{Subject: "op", Issuer: Issuer}},
			wantErr: ErrInvalidToken,
		},
		{
			name:    "no subject",
			method:  jwt.SigningMethodHS256,
			claims:  &Claims{Scope: "pnm:read", RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer, ExpiresAt: exp}},
			wantErr: ErrMissingClaim,
		},
		{
			name:    "no scope",
			method:  jwt.SigningMethodHS256,
			claims:  &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "op", Issuer: Issuer, ExpiresAt: exp}},
			wantErr: ErrMissingClaim,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := jwt.NewWithClaims(tt.method, tt.claims).SignedString(testSecret)
			require.NoError(t, err)

			_, err = verifier.Verify(token)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
		})
	}
}

func TestJWTVerifier_GenerateNeedsScope(t *testing.T) {
	_, err := NewJWTVerifier(testSecret).Generate("operator-1", nil, time.Hour)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestParseScopes(t *testing.T) {
	got, err := ParseScopes([]string{"read", " pnm:tasks", "tasks"})
	require.NoError(t, err)
	assert.Equal(t, []Scope{ScopeRead, ScopeTasks}, got)

	_, err = ParseScopes([]string{"admin"})
	assert.ErrorIs(t, err, ErrUnknownScope)
}
