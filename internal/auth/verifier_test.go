package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims, method jwt.SigningMethod) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestVerify(t *testing.T) {
	v := NewVerifier(testSecret)

	tests := []struct {
		name    string
		token   string
		wantUID string
		wantErr bool
	}{
		{
			name: "valid token",
			token: signToken(t, testSecret, jwt.RegisteredClaims{
				Subject:   "user-42",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			}, jwt.SigningMethodHS256),
			wantUID: "user-42",
		},
		{
			name: "expired token",
			token: signToken(t, testSecret, jwt.RegisteredClaims{
				Subject:   "user-42",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			}, jwt.SigningMethodHS256),
			wantErr: true,
		},
		{
			name: "wrong secret",
			token: signToken(t, "other-secret", jwt.RegisteredClaims{
				Subject:   "user-42",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			}, jwt.SigningMethodHS256),
			wantErr: true,
		},
		{
			name: "missing subject",
			token: signToken(t, testSecret, jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			}, jwt.SigningMethodHS256),
			wantErr: true,
		},
		{
			name:    "garbage",
			token:   "not-a-jwt",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uid, err := v.Verify(tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUID, uid)
		})
	}
}

func TestVerify_RejectsUnexpectedAlgorithm(t *testing.T) {
	v := NewVerifier(testSecret)
	token := signToken(t, testSecret, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, jwt.SigningMethodHS512)

	_, err := v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestFromAuthorizationHeader(t *testing.T) {
	v := NewVerifier(testSecret)
	token := signToken(t, testSecret, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, jwt.SigningMethodHS256)

	uid, err := v.FromAuthorizationHeader("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", uid)

	_, err = v.FromAuthorizationHeader(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "missing Bearer prefix")

	_, err = v.FromAuthorizationHeader("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
