package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"rocket-cms/internal/config"
)

// Issuer is written to and required on every access token.
const Issuer = "rocket-cms"

// TokenPair is the response returned after successful login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Claims carries only the subject. Roles are looked up on every request
// so that role changes take effect before the token expires.
type Claims struct {
	jwt.RegisteredClaims
}

var errNoSubject = errors.New("token has no subject")

// Tokens signs and verifies HS256 access tokens.
type Tokens struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokens builds a Tokens from the configured secret and lifetimes.
// Zero lifetimes fall back to 15 minutes and 7 days.
func NewTokens(secret string, cfg config.AuthConfig) *Tokens {
	t := &Tokens{secret: []byte(secret), accessTTL: cfg.AccessTokenTTL, refreshTTL: cfg.RefreshTokenTTL}
	if t.accessTTL <= 0 {
		t.accessTTL = 15 * time.Minute
	}
	if t.refreshTTL <= 0 {
		t.refreshTTL = 7 * 24 * time.Hour
	}
	return t
}

// RefreshTTL is how long a refresh token stays valid.
func (t *Tokens) RefreshTTL() time.Duration { return t.refreshTTL }

// Issue creates a signed access token for the user.
func (t *Tokens) Issue(userID string) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
	}}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, algorithm, issuer and expiry.
func (t *Tokens) Parse(raw string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errNoSubject
	}
	return &claims, nil
}

// NewRefreshToken creates an opaque refresh token.
func NewRefreshToken() string {
	return uuid.New().String()
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
