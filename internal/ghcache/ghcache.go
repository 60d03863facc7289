// Package ghcache caches installation access tokens for the VCS provider's
// App authentication flow: an in-memory LRU guarded by a single mutex,
// acquired only around map access and never held across an HTTP round trip
// (spec.md §5).
package ghcache

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// TokenFetcher exchanges an installation id for a fresh access token. Its
// concrete implementation talks to the VCS provider's App API; it is
// injected so Cache stays independent of transport details.
type TokenFetcher func(ctx context.Context, installationID int64) (token string, expiresAt time.Time, err error)

// Cache is an LRU of installation id -> access token, sized at startup.
type Cache struct {
	mu     sync.Mutex
	lru    *lru.Cache[int64, cachedToken]
	fetch  TokenFetcher
	client *http.Client
}

func New(size int, fetch TokenFetcher) (*Cache, error) {
	backing, err := lru.New[int64, cachedToken](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create installation token cache: %w", err)
	}
	return &Cache{lru: backing, fetch: fetch, client: &http.Client{Timeout: 10 * time.Second}}, nil
}

// Get returns a valid access token for installationID, refreshing it through
// the configured TokenFetcher on a miss or expiry. The refresh call itself
// runs outside the lock.
func (c *Cache) Get(ctx context.Context, installationID int64) (string, error) {
	c.mu.Lock()
	entry, ok := c.lru.Get(installationID)
	c.mu.Unlock()

	if ok && time.Now().Before(entry.expiresAt) {
		return entry.token, nil
	}

	token, expiresAt, err := c.fetch(ctx, installationID)
	if err != nil {
		return "", fmt.Errorf("failed to refresh installation token for %d: %w", installationID, err)
	}

	c.mu.Lock()
	c.lru.Add(installationID, cachedToken{token: token, expiresAt: expiresAt})
	c.mu.Unlock()

	return token, nil
}
