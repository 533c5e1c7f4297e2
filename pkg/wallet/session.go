package wallet

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// CookieName carries the session token.
	CookieName     = "mi_session"
	DefaultSession = 8 * time.Hour
)

// ErrNoSession means no wallet is connected for the request.
var ErrNoSession = errors.New("please connect wallet first")

// Sessions issues and verifies HS256 tokens whose subject is the account.
// Switching accounts means issuing a new token; nothing else is cached.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessions returns a Sessions signing with secret.
func NewSessions(secret []byte, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSession
	}
	return &Sessions{secret: secret, ttl: ttl, now: time.Now}
}

// TTL is the lifetime of issued tokens.
func (s *Sessions) TTL() time.Duration { return s.ttl }

// Issue validates account and signs a token for it. The returned account
// is the checksummed address.
func (s *Sessions) Issue(account string) (token, normalized string, err error) {
	normalized, err = NormalizeAddress(account)
	if err != nil {
		return "", "", err
	}
	now := s.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": normalized,
		"iat": now.Unix(),
		"exp": now.Add(s.ttl).Unix(),
	})
	token, err = tok.SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign session: %w", err)
	}
	return token, normalized, nil
}

// Account verifies token and returns its subject.
func (s *Sessions) Account(token string) (string, error) {
	if token == "" {
		return "", ErrNoSession
	}
	tok, err := jwt.Parse(token,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !tok.Valid {
		return "", fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrNoSession
	}
	return sub, nil
}
