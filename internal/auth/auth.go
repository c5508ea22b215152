// Package auth implements the credential verifier: an HMAC-signed bearer
// token mapping to a user id. Verification failure is a normal outcome, not
// a fault.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

// ErrInvalidToken is returned for any token that does not verify: bad
// signature, expired, malformed, or missing subject.
var ErrInvalidToken = errors.New("invalid token")

// Verifier validates an opaque bearer token and resolves it to a user id.
type Verifier interface {
	Verify(token string) (userID string, err error)
}

// Issuer mints tokens for the login endpoint.
type Issuer interface {
	Issue(userID string) (token string, err error)
}

// Service signs and verifies HS256 tokens with a shared secret.
type Service struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

func NewService(secret string, ttl time.Duration, clock clockwork.Clock) *Service {
	return &Service{secret: []byte(secret), ttl: ttl, clock: clock}
}

// Issue returns a signed token with sub/iat/nbf/exp claims.
func (s *Service) Issue(userID string) (string, error) {
	now := s.clock.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(s.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and time claims and extracts the subject.
// All failures collapse into ErrInvalidToken so callers cannot leak the
// failure mode to the peer.
func (s *Service) Verify(token string) (string, error) {
	parsed, err := jwt.Parse(token,
		func(t *jwt.Token) (any, error) {
			// Only the HMAC family is acceptable; anything else is an
			// algorithm-confusion attempt.
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}
