package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerify(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Generate("user-1", "ann", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "user-1", Username: "ann"}, id)
}

func TestVerify_Rejects(t *testing.T) {
	v := NewVerifier("secret")
	other, err := NewVerifier("other").Generate("user-1", "ann", time.Hour)
	require.NoError(t, err)
	expired, err := v.Generate("user-1", "ann", -time.Minute)
	require.NoError(t, err)
	anonymous, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{}).SignedString([]byte("secret"))
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", other},
		{"expired", expired},
		{"no identity", anonymous},
		{"alg none", unsigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerify_UsernameOnly(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Generate("", "ann", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, Identity{Username: "ann"}, id)
}

func TestFromRequest(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Generate("user-1", "ann", time.Hour)
	require.NoError(t, err)

	t.Run("cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.AddCookie(&http.Cookie{Name: TokenName, Value: token})
		id, err := v.FromRequest(r)
		require.NoError(t, err)
		assert.Equal(t, "user-1", id.UserID)
	})

	t.Run("query", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
		id, err := v.FromRequest(r)
		require.NoError(t, err)
		assert.Equal(t, "ann", id.Username)
	})

	t.Run("missing", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		_, err := v.FromRequest(r)
		assert.ErrorIs(t, err, ErrNoToken)
	})
}
