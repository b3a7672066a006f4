package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL はトークンの標準の有効期間です。
const DefaultTokenTTL = 12 * time.Hour

// TokenIssuer はログイン成功時に署名付きトークンを発行します。
type TokenIssuer interface {
	Issue(email, userID string) (string, error)
}

// Claims はトークンに埋め込むクレームです。
type Claims struct {
	Email  string `json:"email"`
	UserID string `json:"_id"`
	jwt.RegisteredClaims
}

var _ TokenIssuer = (*JWTIssuer)(nil)

// JWTIssuer は HMAC-SHA256 で署名する JWT の発行・検証を行います。
// 秘密鍵は起動時に一度だけ渡され、ログやレスポンスには含めません。
type JWTIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTIssuer は JWTIssuer を作成します。
func NewJWTIssuer(secret string, ttl time.Duration) (*JWTIssuer, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue は email と userID を含むトークンを発行します。有効期限は発行時刻から ttl 後です。
func (i *JWTIssuer) Issue(email, userID string) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email:  email,
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse は署名と有効期限を検証し、クレームを返します。
func (i *JWTIssuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}
	return claims, nil
}
