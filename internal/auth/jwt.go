package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultTokenTTL = time.Hour

// Claims identifies the device pushing or pulling registrations
type Claims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// Issue signs a device token with HS256
func Issue(deviceID, issuer, key string, ttl time.Duration) (string, time.Time, error) {
	if key == "" {
		return "", time.Time{}, errors.New("signing key is empty")
	}
	now := time.Now()
	exp := now.Add(ttl)

	claims := Claims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   deviceID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign device token: %w", err)
	}
	return token, exp, nil
}

// Parse validates a token and returns its claims
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}

// TokenSource caches a device token and re-issues it shortly before expiry
type TokenSource struct {
	deviceID string
	issuer   string
	key      string
	ttl      time.Duration

	mu    sync.Mutex
	token string
	exp   time.Time
}

func NewTokenSource(deviceID, issuer, key string, ttl time.Duration) *TokenSource {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenSource{deviceID: deviceID, issuer: issuer, key: key, ttl: ttl}
}

func (s *TokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Until(s.exp) > time.Minute {
		return s.token, nil
	}

	token, exp, err := Issue(s.deviceID, s.issuer, s.key, s.ttl)
	if err != nil {
		return "", err
	}
	s.token, s.exp = token, exp
	return token, nil
}
