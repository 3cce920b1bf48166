package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/DAMMAK/vault-x/internal/apperr"
)

// Signer issues and verifies signed download URLs. A token is a pure
// capability: it binds a file, its owner and an absolute expiry under an
// HMAC-SHA256 signature. There is no revocation list, so the expiry is the
// only defense against a leaked token.
type Signer struct {
	secret        []byte
	defaultExpiry time.Duration
}

// NewSigner creates a signer with the server secret and default expiry.
func NewSigner(secret string, defaultExpiry time.Duration) *Signer {
	return &Signer{
		secret:        []byte(secret),
		defaultExpiry: defaultExpiry,
	}
}

type downloadClaims struct {
	OwnerID string `json:"uid"`
	jwt.RegisteredClaims
}

// Generate issues a token granting download access to fileID until the
// expiry elapses. A non-positive expiry uses the configured default.
func (s *Signer) Generate(fileID, ownerID string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = s.defaultExpiry
	}

	now := time.Now()
	claims := downloadClaims{
		OwnerID: ownerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fileID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Verify checks the token's signature and expiry and returns the bound
// file and owner. Both failure modes collapse into one ErrInvalidToken so
// callers cannot tell a forged token from an expired one.
func (s *Signer) Verify(token string) (fileID, ownerID string, err error) {
	var claims downloadClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", "", apperr.ErrInvalidToken
	}
	return claims.Subject, claims.OwnerID, nil
}
