package jwt

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// signClaims mints a token with arbitrary registered claims using the
// given secret, bypassing GenerateToken's defaults.
func signClaims(t *testing.T, secret string, claims *Claims) string {
	t.Helper()
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	assert.NoError(t, err)
	return signed
}

func TestNewJWTManager(t *testing.T) {
	secret := "test-secret-key-for-testing-purposes"
	expiry := 15 * time.Minute

	manager := NewJWTManager(secret, expiry)

	assert.NotNil(t, manager)
	assert.Equal(t, secret, manager.secretKey)
	assert.Equal(t, expiry, manager.tokenDuration)
}

func TestGenerateToken(t *testing.T) {
	manager := NewJWTManager("test-secret", 15*time.Minute)
	userID := uuid.NewString()

	token, err := manager.GenerateToken(userID, "test@example.com", "patient")

	assert.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestValidateToken_ValidToken(t *testing.T) {
	manager := NewJWTManager("test-secret", 15*time.Minute)
	userID := uuid.NewString()

	token, err := manager.GenerateToken(userID, "test@example.com", "doctor")
	assert.NoError(t, err)

	claims, err := manager.ValidateToken(token)

	assert.NoError(t, err)
	assert.NotNil(t, claims)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "test@example.com", claims.Email)
	assert.Equal(t, "doctor", claims.Role)
}

func TestValidateToken_ExpiredToken(t *testing.T) {
	// Create manager with very short expiry
	manager := NewJWTManager("test-secret", 1*time.Nanosecond)
	userID := uuid.NewString()

	token, err := manager.GenerateToken(userID, "test@example.com", "patient")
	assert.NoError(t, err)

	// Wait for token to expire
	time.Sleep(10 * time.Millisecond)

	claims, err := manager.ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateToken_InvalidToken(t *testing.T) {
	manager := NewJWTManager("test-secret", 15*time.Minute)

	claims, err := manager.ValidateToken("invalid.token.here")

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	// Generate with one secret
	manager1 := NewJWTManager("secret-1", 15*time.Minute)
	token, err := manager1.GenerateToken(uuid.NewString(), "test@example.com", "patient")
	assert.NoError(t, err)

	// Validate with different secret
	manager2 := NewJWTManager("secret-2", 15*time.Minute)
	claims, err := manager2.ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestValidateToken_ForeignAudience(t *testing.T) {
	// A token signed with the shared secret but minted for another
	// service must be rejected even though the signature verifies.
	manager := NewJWTManager("test-secret", 15*time.Minute)
	token := signClaims(t, "test-secret", &Claims{
		UserID: uuid.NewString(),
		Role:   "patient",
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwtlib.NewNumericDate(time.Now()),
			Issuer:    Issuer,
			Audience:  jwtlib.ClaimStrings{"some-other-service"},
		},
	})

	claims, err := manager.ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	manager := NewJWTManager("test-secret", 15*time.Minute)
	token := signClaims(t, "test-secret", &Claims{
		UserID: uuid.NewString(),
		Role:   "patient",
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwtlib.NewNumericDate(time.Now()),
			Issuer:    "someone-else",
			Audience:  jwtlib.ClaimStrings{Audience},
		},
	})

	claims, err := manager.ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestTokenClaims(t *testing.T) {
	manager := NewJWTManager("test-secret", 15*time.Minute)
	userID := uuid.NewString()

	token, err := manager.GenerateToken(userID, "admin@example.com", "admin")
	assert.NoError(t, err)

	claims, err := manager.ValidateToken(token)
	assert.NoError(t, err)

	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "admin", claims.Role)
	assert.NotZero(t, claims.IssuedAt)
	assert.NotZero(t, claims.ExpiresAt)
	assert.True(t, claims.ExpiresAt.After(claims.IssuedAt.Time))
	assert.Equal(t, "clinichub-auth", claims.Issuer)
	assert.Equal(t, userID, claims.Subject)
	assert.Contains(t, claims.Audience, Audience)
}

func TestExtractUserID(t *testing.T) {
	manager := NewJWTManager("test-secret", 15*time.Minute)
	userID := uuid.NewString()

	token, err := manager.GenerateToken(userID, "test@example.com", "patient")
	assert.NoError(t, err)

	extractedID, err := manager.ExtractUserID(token)
	assert.NoError(t, err)
	assert.Equal(t, userID, extractedID)
}

func TestIsTokenExpired(t *testing.T) {
	manager := NewJWTManager("test-secret", 1*time.Nanosecond)

	token, err := manager.GenerateToken(uuid.NewString(), "test@example.com", "patient")
	assert.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	assert.True(t, IsTokenExpired(token))
}
