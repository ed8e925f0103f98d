package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer   = "trainer"
	tokenAudience = "trainer-api"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
)

// TokenValidator checks a bearer token and returns its subject
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// JWTManager issues and validates HS256 API tokens
type JWTManager struct {
	secret []byte
	clock  func() time.Time
}

// NewJWTManager creates a manager for the given signing secret
func NewJWTManager(secret []byte) *JWTManager {
	return &JWTManager{secret: secret, clock: time.Now}
}

// IssueToken signs a token for subject that expires after ttl
func (m *JWTManager) IssueToken(subject string, ttl time.Duration) (string, error) {
	if len(m.secret) == 0 {
		return "", errMissingSigningSecret
	}
	if subject == "" {
		return "", errMissingSubjectClaim
	}

	now := m.clock().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    tokenIssuer,
		Audience:  []string{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ValidateToken ensures the token is well formed and returns the subject.
func (m *JWTManager) ValidateToken(tokenString string) (string, error) {
	if len(m.secret) == 0 {
		return "", errMissingSigningSecret
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return m.secret, nil
		},
		jwt.WithAudience(tokenAudience),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(m.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubjectClaim
	}
	return claims.Subject, nil
}
