// Package auth verifies bearer credentials for both the websocket gateway and
// the REST API. Token issuance lives elsewhere; this package only checks.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the identity extracted from a verified token.
type Claims struct {
	Subject     string
	TenantID    string
	Role        string
	Permissions []string
}

// HasPermission reports whether the claims grant perm, or the admin role.
func (c *Claims) HasPermission(perm string) bool {
	if c.Role == "admin" {
		return true
	}
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Verifier validates a raw token.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// TenantChecker answers whether a tenant is live.
type TenantChecker interface {
	IsValidTenant(ctx context.Context, tenantID string) (bool, error)
}

// AllowAllTenants accepts every non-empty tenant. Used when no IAM backend is configured.
type AllowAllTenants struct{}

func (AllowAllTenants) IsValidTenant(_ context.Context, tenantID string) (bool, error) {
	return tenantID != "", nil
}

type tokenClaims struct {
	TenantID    string   `json:"tenant_id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HMAC-signed access tokens.
type JWTVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewJWTVerifier creates a verifier. An empty issuer disables the issuer check.
func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer, leeway: 30 * time.Second}
}

// Verify parses and validates the token signature, expiry and issuer.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, errors.New("jwt secret not configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name, jwt.SigningMethodHS384.Name, jwt.SigningMethodHS512.Name}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var tc tokenClaims
	_, err := jwt.ParseWithClaims(token, &tc, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if tc.Subject == "" || tc.TenantID == "" {
		return nil, errors.New("token is missing subject or tenant")
	}

	return &Claims{
		Subject:     tc.Subject,
		TenantID:    tc.TenantID,
		Role:        tc.Role,
		Permissions: tc.Permissions,
	}, nil
}

// Sign issues a token for the given claims. Used by tests and local tooling.
func (v *JWTVerifier) Sign(c Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	tc := tokenClaims{
		TenantID:    c.TenantID,
		Role:        c.Role,
		Permissions: c.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.Subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(v.secret)
}

// Credentials are the places a streaming client may present its token.
type Credentials struct {
	AuthPayload string // handshake auth payload
	Query       string // ?token=
	Header      string // Authorization header
}

// Token returns the first non-empty credential in priority order, with any
// "Bearer " prefix stripped.
func (c Credentials) Token() string {
	for _, raw := range []string{c.AuthPayload, c.Query, c.Header} {
		if t := BearerToken(raw); t != "" {
			return t
		}
	}
	return ""
}

// BearerToken trims whitespace and an optional case-insensitive "Bearer " prefix.
func BearerToken(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	return raw
}
