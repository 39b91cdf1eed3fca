// Package auth validates session tokens. Sessions are issued by the account service as
// HS256 JWTs carrying the user's ID and email; this backend only needs to read them to
// decide who owns a report and whether an intake submission can be attached to a user.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTSecretEnv names the environment variable holding the session signing secret.
const JWTSecretEnv = "VV_JWT_SECRET"

// Issuer is the iss claim on session tokens.
const Issuer = "vehicle-valuation"

// minSecretLength is the recommended minimum secret length.
const minSecretLength = 32

// ErrMissingSecret is returned by LoadJWTSecret outside dev mode when no secret is configured.
var ErrMissingSecret = errors.New("SECURITY ERROR: " + JWTSecretEnv + " environment variable is required in production. " +
	"Generate a secure secret with: openssl rand -hex 32")

// Claims represents the JWT claims structure
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// isDevMode reports whether the process runs in development mode.
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	return devMode == "true" || devMode == "1" || os.Getenv("GIN_MODE") == "debug"
}

func generateRandomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// LoadJWTSecret reads the signing secret from the environment. In dev mode a random
// secret is generated when none is set, so sessions do not survive a restart.
func LoadJWTSecret() (string, error) {
	secret := strings.TrimSpace(os.Getenv(JWTSecretEnv))
	if secret == "" {
		if !isDevMode() {
			return "", ErrMissingSecret
		}
		slog.Warn(JWTSecretEnv + " not set, using an auto-generated secret for development")
		return generateRandomSecret(), nil
	}
	if len(secret) < minSecretLength {
		slog.Warn(JWTSecretEnv+" is shorter than the recommended length", "min_length", minSecretLength)
	}
	return secret, nil
}

// Sessions signs and verifies session tokens with one shared secret.
type Sessions struct {
	secret []byte
}

// NewSessions creates a Sessions for secret.
func NewSessions(secret string) (*Sessions, error) {
	if secret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &Sessions{secret: []byte(secret)}, nil
}

// Issue creates a session token for a user. A zero expiresIn means one hour.
func (s *Sessions) Issue(userID, email string, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   userID,
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate parses and verifies a session token.
func (s *Sessions) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no user_id claim")
	}

	return claims, nil
}
