package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T, now time.Time) *JWTIssuer {
	t.Helper()
	issuer, err := NewJWTIssuer("test-secret", 0)
	require.NoError(t, err)
	issuer.now = func() time.Time { return now }
	return issuer
}

func TestJWTIssuerIssue(t *testing.T) {
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, now)

	token, err := issuer.Issue("alice@example.com", "user-1")
	require.NoError(t, err)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "user-1", claims.UserID)
	assert.True(t, claims.ExpiresAt.Time.Equal(now.Add(12*time.Hour)))
	assert.True(t, claims.IssuedAt.Time.Equal(now))
}

func TestJWTIssuerClaimNames(t *testing.T) {
	issuer := newTestIssuer(t, time.Now())
	token, err := issuer.Issue("alice@example.com", "user-1")
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "alice@example.com", claims["email"])
	assert.Equal(t, "user-1", claims["_id"])
	assert.Equal(t, "HS256", parsed.Header["alg"])
}

func TestJWTIssuerExpired(t *testing.T) {
	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, issued)
	token, err := issuer.Issue("alice@example.com", "user-1")
	require.NoError(t, err)

	issuer.now = func() time.Time { return issued.Add(12*time.Hour - time.Minute) }
	_, err = issuer.Parse(token)
	require.NoError(t, err)

	issuer.now = func() time.Time { return issued.Add(12*time.Hour + time.Minute) }
	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestJWTIssuerRejectsForeignSignature(t *testing.T) {
	now := time.Now()
	issuer := newTestIssuer(t, now)

	other, err := NewJWTIssuer("another-secret", time.Hour)
	require.NoError(t, err)
	token, err := other.Issue("alice@example.com", "user-1")
	require.NoError(t, err)

	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	valid, err := issuer.Issue("alice@example.com", "user-1")
	require.NoError(t, err)
	_, err = issuer.Parse(valid + "x")
	assert.Error(t, err)
}

func TestJWTIssuerRejectsNoneAlgorithm(t *testing.T) {
	issuer := newTestIssuer(t, time.Now())

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Email:  "alice@example.com",
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = issuer.Parse(token)
	assert.Error(t, err)
}

func TestNewJWTIssuerRequiresSecret(t *testing.T) {
	_, err := NewJWTIssuer("", time.Hour)
	assert.Error(t, err)
}
