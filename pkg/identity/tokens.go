package identity

import (
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"chatrelay/pkg/errs"
)

// TokenManager issues and validates HS256 session tokens. Revocation is
// tracked in memory by token id: a session never silently expires
// mid-call, but an explicit sign-out kills it immediately.
type TokenManager struct {
	secret []byte
	ttl    time.Duration

	mu      sync.Mutex
	revoked map[string]time.Time // jti -> expiry, pruned opportunistically
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{
		secret:  []byte(secret),
		ttl:     ttl,
		revoked: make(map[string]time.Time),
	}
}

// Generate returns a signed session token for userID.
func (m *TokenManager) Generate(userID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify parses the token and returns its claims, rejecting revoked or
// expired sessions.
func (m *TokenManager) Verify(tokenStr string) (*jwt.RegisteredClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errs.New(errs.Unauthenticated, "unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.Unauthenticated, "invalid session token", err)
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return nil, errs.New(errs.Unauthenticated, "invalid session token")
	}
	m.mu.Lock()
	_, dead := m.revoked[claims.ID]
	m.mu.Unlock()
	if dead {
		return nil, errs.New(errs.Unauthenticated, "session signed out")
	}
	return claims, nil
}

// Revoke invalidates one token. Unknown or already-revoked tokens are a
// no-op so sign-out is idempotent.
func (m *TokenManager) Revoke(tokenStr string) {
	claims, err := m.Verify(tokenStr)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	exp := time.Now().Add(m.ttl)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	m.revoked[claims.ID] = exp
	// prune entries whose token would no longer verify anyway
	now := time.Now()
	for jti, e := range m.revoked {
		if e.Before(now) {
			delete(m.revoked, jti)
		}
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errs.New(errs.Unauthenticated, "missing bearer token")
	}
	return parts[1], nil
}
