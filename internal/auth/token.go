// Package auth issues and verifies the bearer tokens the gateway presents to nodes.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Viktorio135/vpn/internal/models"
)

// Issuer signs HS256 tokens whose subject is the node's external id.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock replaces the time source.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

func (i *Issuer) Issue(subject string) (string, error) {
	now := i.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, expiry and subject. An expired but otherwise valid
// token yields models.ErrTokenExpired.
func (i *Issuer) Verify(token, subject string) error {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, i.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.ErrTokenExpired
		}
		return fmt.Errorf("%w: invalid token", models.ErrUnauthorized)
	}
	return checkSubject(claims, subject)
}

// VerifySignature checks signature and subject but ignores expiry. Used when a
// node re-registers with the token it was issued before a restart.
func (i *Issuer) VerifySignature(token, subject string) error {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, i.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return fmt.Errorf("%w: invalid token", models.ErrUnauthorized)
	}
	return checkSubject(claims, subject)
}

func (i *Issuer) keyFunc(t *jwt.Token) (interface{}, error) {
	return i.secret, nil
}

func checkSubject(claims *jwt.RegisteredClaims, subject string) error {
	if claims.Subject == "" || claims.Subject != subject {
		return fmt.Errorf("%w: token subject mismatch", models.ErrUnauthorized)
	}
	return nil
}

// SecretEqual compares two shared secrets in constant time.
func SecretEqual(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
