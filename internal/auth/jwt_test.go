package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "validation-secret"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestValidateAccessToken(t *testing.T) {
	m := NewJWTManager(testSecret, "trade-mentor")

	token := signToken(t, testSecret, Claims{
		UserClaims: UserClaims{UserID: "user-1", Email: "u@example.com", IsAdmin: true},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "trade-mentor",
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, "u@example.com", claims.Email)
	require.True(t, claims.IsAdmin)
}

func TestValidateAccessTokenSubjectFallback(t *testing.T) {
	m := NewJWTManager(testSecret, "")

	// Identity services that only set RegisteredClaims carry the user in sub
	token := signToken(t, testSecret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-2",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-2", claims.UserID)
}

func TestValidateAccessTokenExpired(t *testing.T) {
	m := NewJWTManager(testSecret, "")

	token := signToken(t, testSecret, Claims{
		UserClaims: UserClaims{UserID: "user-1"},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})

	_, err := m.ValidateAccessToken(token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateAccessTokenWrongSecret(t *testing.T) {
	m := NewJWTManager(testSecret, "")

	token := signToken(t, "other-secret", Claims{
		UserClaims: UserClaims{UserID: "user-1"},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := m.ValidateAccessToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAccessTokenIssuerMismatch(t *testing.T) {
	m := NewJWTManager(testSecret, "trade-mentor")

	token := signToken(t, testSecret, Claims{
		UserClaims: UserClaims{UserID: "user-1"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := m.ValidateAccessToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAccessTokenRejectsNone(t *testing.T) {
	m := NewJWTManager(testSecret, "")

	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		UserClaims: UserClaims{UserID: "user-1"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = m.ValidateAccessToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}
