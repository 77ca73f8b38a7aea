// Package auth mints access tokens the API accepts, for local development
// and operator tooling. Production tokens come from the identity provider.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/aimerfeng/docagent/internal/config"
	"github.com/aimerfeng/docagent/internal/middleware"
	"github.com/golang-jwt/jwt/v5"
)

// Token is a signed access token
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Issuer signs HS256 tokens with the same secret, issuer and audience the
// API validates against
type Issuer struct {
	config *config.AuthConfig
	now    func() time.Time
}

// NewIssuer creates an issuer
func NewIssuer(cfg *config.AuthConfig) *Issuer {
	return &Issuer{config: cfg, now: time.Now}
}

// Issue creates an access token for userID valid for ttl
func (i *Issuer) Issue(userID, email string, ttl time.Duration) (*Token, error) {
	if i.config.JWTSecret == "" {
		return nil, ErrSecretRequired
	}
	if userID == "" {
		return nil, ErrSubjectRequired
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}

	now := i.now()
	expiry := now.Add(ttl)

	claims := &middleware.Claims{
		Email: email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
			ID:        generateJTI(),
		},
	}
	if i.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{i.config.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.config.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	return &Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresAt:   expiry,
	}, nil
}

// generateJTI generates a unique JWT ID
func generateJTI() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
