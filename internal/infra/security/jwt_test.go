package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	v, err := NewTokenVerifier("topsecret")
	require.NoError(t, err)
	token, err := v.Issue("65f1c0ffee", time.Hour)
	require.NoError(t, err)

	userID, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "65f1c0ffee", userID)
}

func TestVerifyAcceptsSubjectClaim(t *testing.T) {
	v, err := NewTokenVerifier("topsecret")
	require.NoError(t, err)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("topsecret"))
	require.NoError(t, err)

	userID, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
}

func TestVerifyRejects(t *testing.T) {
	v, err := NewTokenVerifier("topsecret")
	require.NoError(t, err)
	other, err := NewTokenVerifier("othersecret")
	require.NoError(t, err)

	foreign, err := other.Issue("alice", time.Hour)
	require.NoError(t, err)
	expired, err := v.Issue("alice", -time.Hour)
	require.NoError(t, err)
	noUser, err := v.Issue("", time.Hour)
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "alice"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "  ", ErrTokenRequired},
		{"garbage", "not.a.jwt", ErrTokenInvalid},
		{"wrong secret", foreign, ErrTokenInvalid},
		{"expired", expired, ErrTokenInvalid},
		{"missing user", noUser, ErrTokenInvalid},
		{"alg none", unsigned, ErrTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewTokenVerifierRequiresSecret(t *testing.T) {
	_, err := NewTokenVerifier(" ")
	assert.Error(t, err)
}
