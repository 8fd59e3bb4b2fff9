// Package auth verifies bearer tokens issued by the Authentication Service.
// The relay never issues tokens; it only checks RS256 signatures against a
// cached copy of the service's public key.
package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated covers every verification failure: bad signature,
// malformed token, expired token, and an unreachable Authentication Service
// with no usable cached key. Callers never receive partial claims.
var ErrUnauthenticated = errors.New("unauthenticated")

// Claims are the token fields the relay trusts as-is. Revocation is not
// cross-checked per connection; a revoked token stays accepted until its
// natural expiry.
type Claims struct {
	Subject   string
	Device    string
	Username  string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type wireClaims struct {
	Device   string `json:"device"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens against the cached verification key.
type Verifier struct {
	keys *KeyCache
	now  func() time.Time
}

func NewVerifier(keys *KeyCache) *Verifier {
	return &Verifier{
		keys: keys,
		now:  time.Now,
	}
}

// Verify checks the token's signature and expiry.
//
// A verification failure other than expiry may mean the Authentication
// Service rotated its key, so the key is force-refreshed and verification
// retried exactly once against the new key. Expiry is a hard failure with no
// retry: a fresher key cannot make an expired token valid.
func (v *Verifier) Verify(ctx context.Context, token string) (Claims, error) {
	key, err := v.keys.Get(ctx)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: no verification key: %v", ErrUnauthenticated, err)
	}

	claims, err := v.parse(token, key)
	if err == nil {
		return claims, nil
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Claims{}, fmt.Errorf("%w: token expired", ErrUnauthenticated)
	}

	newKey, changed, rerr := v.keys.ForceRefresh(ctx)
	if rerr != nil || !changed {
		return Claims{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	claims, err = v.parse(token, newKey)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, fmt.Errorf("%w: token expired", ErrUnauthenticated)
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return claims, nil
}

func (v *Verifier) parse(token string, key *rsa.PublicKey) (Claims, error) {
	var wc wireClaims
	_, err := jwt.ParseWithClaims(token, &wc,
		func(t *jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Claims{}, err
	}

	claims := Claims{
		Subject:  wc.Subject,
		Device:   wc.Device,
		Username: wc.Username,
		TokenID:  wc.ID,
	}
	if wc.IssuedAt != nil {
		claims.IssuedAt = wc.IssuedAt.Time
	}
	if wc.ExpiresAt != nil {
		claims.ExpiresAt = wc.ExpiresAt.Time
	}
	return claims, nil
}
