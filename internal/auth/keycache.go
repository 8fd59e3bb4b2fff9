package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const maxKeyResponseBytes = 64 * 1024

// KeyCache holds the relay's copy of the Authentication Service's public
// verification key.
//
// The key is refreshed lazily once it is older than ttl. A failed refresh
// leaves the previous key in place rather than clearing it, so tokens signed
// with a still-valid key keep verifying while the Authentication Service is
// unreachable; only a successful fetch can replace the key.
type KeyCache struct {
	keyURL string
	ttl    time.Duration
	client *http.Client
	now    func() time.Time

	mu        sync.Mutex
	key       *rsa.PublicKey
	pem       string
	fetchedAt time.Time
}

// NewKeyCache builds a cache fetching from authServerURL's /public_key
// endpoint. fetchTimeout bounds each fetch; it is the only network timeout in
// the connection handshake path.
func NewKeyCache(authServerURL string, ttl, fetchTimeout time.Duration) *KeyCache {
	return &KeyCache{
		keyURL: authServerURL + "/public_key",
		ttl:    ttl,
		client: &http.Client{Timeout: fetchTimeout},
		now:    time.Now,
	}
}

// Get returns the cached key, refreshing it first when stale. On refresh
// failure a stale key is still returned if one exists; the error is reserved
// for having no key at all.
func (c *KeyCache) Get(ctx context.Context) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.key != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.key, nil
	}
	if err := c.refreshLocked(ctx); err != nil {
		if c.key != nil {
			return c.key, nil
		}
		return nil, err
	}
	return c.key, nil
}

// ForceRefresh fetches the key unconditionally. changed reports whether the
// fetched key differs from the previously cached one, which is what decides
// whether a failed verification is worth retrying.
func (c *KeyCache) ForceRefresh(ctx context.Context) (key *rsa.PublicKey, changed bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.pem
	if err := c.refreshLocked(ctx); err != nil {
		return nil, false, err
	}
	return c.key, c.pem != prev, nil
}

func (c *KeyCache) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.keyURL, nil)
	if err != nil {
		return fmt.Errorf("build key request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch verification key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch verification key: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeyResponseBytes))
	if err != nil {
		return fmt.Errorf("read key response: %w", err)
	}

	var payload struct {
		PublicKey string `json:"public_key"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("decode key response: %w", err)
	}
	if payload.PublicKey == "" {
		return fmt.Errorf("key response missing public_key")
	}

	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(payload.PublicKey))
	if err != nil {
		return fmt.Errorf("parse verification key: %w", err)
	}

	c.key = key
	c.pem = payload.PublicKey
	c.fetchedAt = c.now()
	return nil
}
