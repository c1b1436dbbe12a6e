package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/realtime/internal/auth"
)

func TestCredentials_TokenPriority(t *testing.T) {
	tests := []struct {
		name  string
		creds auth.Credentials
		want  string
	}{
		{"auth payload wins", auth.Credentials{AuthPayload: "a", Query: "q", Header: "Bearer h"}, "a"},
		{"query before header", auth.Credentials{Query: "q", Header: "Bearer h"}, "q"},
		{"header only", auth.Credentials{Header: "Bearer h"}, "h"},
		{"bearer prefix is case-insensitive", auth.Credentials{Header: "bearer   tok"}, "tok"},
		{"blank payload falls through", auth.Credentials{AuthPayload: "  ", Query: "q"}, "q"},
		{"nothing", auth.Credentials{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.creds.Token())
		})
	}
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := auth.NewJWTVerifier("s3cret", "arda")
	tok, err := v.Sign(auth.Claims{Subject: "u1", TenantID: "T1", Role: "staff", Permissions: []string{"notifications:send"}}, time.Minute)
	require.NoError(t, err)

	claims, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "T1", claims.TenantID)
	assert.True(t, claims.HasPermission("notifications:send"))
	assert.False(t, claims.HasPermission("webhooks:manage"))
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v := auth.NewJWTVerifier("s3cret", "arda")

	other := auth.NewJWTVerifier("other", "arda")
	forged, err := other.Sign(auth.Claims{Subject: "u1", TenantID: "T1"}, time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), forged)
	assert.Error(t, err, "wrong signature")

	expired, err := v.Sign(auth.Claims{Subject: "u1", TenantID: "T1"}, -time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), expired)
	assert.Error(t, err, "expired")

	noTenant, err := v.Sign(auth.Claims{Subject: "u1"}, time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), noTenant)
	assert.Error(t, err, "missing tenant")

	_, err = v.Verify(context.Background(), "garbage")
	assert.Error(t, err)
}
