// Package auth issues and checks the credentials of the orchestrator API:
// bcrypt-hashed API keys are exchanged for short-lived HS256 JWTs.
// It has no dependencies on the rest of the module.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ===== CONSTANTS =====

// BCryptCost is the work factor for API key hashes.
const BCryptCost = 12

// DefaultTokenTTL is used when no TTL is configured.
const DefaultTokenTTL = time.Hour

var (
	ErrEmptySecret = errors.New("auth: signing secret is empty")
	ErrEmptyToken  = errors.New("auth: token is empty")
)

// ===== API KEYS =====

// HashAPIKey returns the bcrypt hash stored server-side for key.
func HashAPIKey(key string) (string, error) {
	return hashAPIKeyCost(key, BCryptCost)
}

func hashAPIKeyCost(key string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("auth: hash api key: %w", err)
	}
	return string(hash), nil
}

// VerifyAPIKey reports whether key matches hash. Malformed hashes simply
// do not match.
func VerifyAPIKey(hash, key string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

// ===== TOKENS =====

// Claims are the JWT claims of an API session. Subject names the caller.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer. ttl <= 0 falls back to DefaultTokenTTL.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for subject.
func (i *Issuer) Issue(subject, scope string) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)

	claims := &Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies the signature and expiry of token.
func (i *Issuer) Parse(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		// HMAC only: refuse algorithm substitution.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("auth: invalid token claims")
	}
	return claims, nil
}

// ExpiresAt reads the exp claim without verifying the signature. Clients
// use it to decide when to refresh a token they cannot verify themselves.
func ExpiresAt(token string) (time.Time, error) {
	if token == "" {
		return time.Time{}, ErrEmptyToken
	}
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("auth: read token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("auth: token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}

// ParseTTL reads a TTL setting: a Go duration ("90m") or whole hours ("24").
// Empty or invalid input yields DefaultTokenTTL.
func ParseTTL(s string) time.Duration {
	if s == "" {
		return DefaultTokenTTL
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if hours, err := strconv.Atoi(s); err == nil && hours > 0 {
		return time.Duration(hours) * time.Hour
	}
	return DefaultTokenTTL
}
