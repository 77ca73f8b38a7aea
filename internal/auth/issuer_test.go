package auth

import (
	"testing"
	"time"

	"github.com/aimerfeng/docagent/internal/config"
	"github.com/aimerfeng/docagent/internal/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testAuthConfig() *config.AuthConfig {
	return &config.AuthConfig{
		JWTSecret: "test-secret",
		Issuer:    "https://auth.example.test",
		Audience:  "authenticated",
	}
}

func TestIssue_AcceptedByAuthenticator(t *testing.T) {
	cfg := testAuthConfig()

	tok, err := NewIssuer(cfg).Issue("user-1", "a@example.test", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)

	claims, err := middleware.NewJWTAuthenticator(cfg).ValidateAccessToken(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "a@example.test", claims.Email)
	assert.NotEmpty(t, claims.ID)
}

func TestIssue_Expired(t *testing.T) {
	cfg := testAuthConfig()
	issuer := NewIssuer(cfg)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	tok, err := issuer.Issue("user-1", "", time.Hour)
	require.NoError(t, err)

	_, err = middleware.NewJWTAuthenticator(cfg).ValidateAccessToken(tok.AccessToken)
	assert.ErrorIs(t, err, middleware.ErrTokenExpired)
}

func TestIssue_WrongSecretRejected(t *testing.T) {
	tok, err := NewIssuer(testAuthConfig()).Issue("user-1", "", time.Hour)
	require.NoError(t, err)

	other := testAuthConfig()
	other.JWTSecret = "other-secret"
	_, err = middleware.NewJWTAuthenticator(other).ValidateAccessToken(tok.AccessToken)
	assert.ErrorIs(t, err, middleware.ErrInvalidToken)
}

func TestIssue_Errors(t *testing.T) {
	noSecret := testAuthConfig()
	noSecret.JWTSecret = ""

	_, err := NewIssuer(noSecret).Issue("user-1", "", time.Hour)
	assert.ErrorIs(t, err, ErrSecretRequired)

	_, err = NewIssuer(testAuthConfig()).Issue("", "", time.Hour)
	assert.ErrorIs(t, err, ErrSubjectRequired)

	_, err = NewIssuer(testAuthConfig()).Issue("user-1", "", 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

// TestProperty_IssuedTokenIdentifiesUser verifies the round trip through validation.
// *For any* non-empty user ID and positive lifetime, the issued token SHALL validate
// to claims whose subject is that user ID and whose expiry matches the lifetime.
func TestProperty_IssuedTokenIdentifiesUser(t *testing.T) {
	cfg := testAuthConfig()
	authenticator := middleware.NewJWTAuthenticator(cfg)

	rapid.Check(t, func(rt *rapid.T) {
		userID := rapid.StringMatching(`[a-zA-Z0-9-]{1,40}`).Draw(rt, "userID")
		minutes := rapid.IntRange(1, 24*60).Draw(rt, "minutes")

		tok, err := NewIssuer(cfg).Issue(userID, "", time.Duration(minutes)*time.Minute)
		if err != nil {
			rt.Fatalf("PROPERTY VIOLATION: issue failed: %v", err)
		}

		claims, err := authenticator.ValidateAccessToken(tok.AccessToken)
		if err != nil {
			rt.Fatalf("PROPERTY VIOLATION: issued token rejected: %v", err)
		}
		if claims.Subject != userID {
			rt.Fatalf("PROPERTY VIOLATION: subject %q, expected %q", claims.Subject, userID)
		}
		if !claims.ExpiresAt.Time.Equal(tok.ExpiresAt.Truncate(time.Second)) {
			rt.Fatalf("PROPERTY VIOLATION: expiry %v, expected %v", claims.ExpiresAt.Time, tok.ExpiresAt)
		}
	})
}
