package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iho/churchledger/internal/domain"
)

const issuer = "churchledger"

// Claims represents the JWT claims
type Claims struct {
	UserID         string      `json:"user_id"`
	Email          string      `json:"email,omitempty"`
	CongregationID string      `json:"congregation_id,omitempty"`
	Role           domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// User converts the claims into the caller identity used by the use cases.
func (c *Claims) User() *domain.User {
	return &domain.User{
		ID:             c.UserID,
		Email:          c.Email,
		CongregationID: c.CongregationID,
		Role:           c.Role,
	}
}

// JWTManager manages JWT token creation and validation
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
	now           func() time.Time
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
		now:           time.Now,
	}
}

// Generate generates a new JWT token for a user
func (m *JWTManager) Generate(user *domain.User) (string, error) {
	if user.ID == "" {
		return "", errors.New("user id is required")
	}
	if !user.Role.IsValid() {
		return "", fmt.Errorf("unknown role %q", user.Role)
	}
	if !user.Role.CanViewAllCongregations() && user.CongregationID == "" {
		return "", fmt.Errorf("role %q requires a congregation", user.Role)
	}

	now := m.now()
	claims := Claims{
		UserID:         user.ID,
		Email:          user.Email,
		CongregationID: user.CongregationID,
		Role:           user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Verify verifies a JWT token and returns the claims
func (m *JWTManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secretKey, nil
		},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrExpiredToken
		}
		return nil, domain.ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || !claims.Role.IsValid() {
		return nil, domain.ErrInvalidToken
	}

	return claims, nil
}
