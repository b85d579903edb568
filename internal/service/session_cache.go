package service

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/admin-console-auth/internal/models"
	"github.com/noah-isme/admin-console-auth/internal/repository"
)

const sessionCachePrefix = "console:session:"

// SessionCache holds recently resolved sessions so repeated user lookups do
// not hit the session store.
type SessionCache interface {
	Get(ctx context.Context, token string) (*models.Session, bool)
	Put(ctx context.Context, token string, session *models.Session)
	// Invalidate drops the entry for token. An empty token drops whatever the
	// cache holds for the current identity.
	Invalidate(ctx context.Context, token string)
	// Evict drops any entry holding session, whoever's token it was cached under.
	Evict(ctx context.Context, session models.Session)
}

// TokenCache is the single-identity cache: one entry, trusted while
// now - lastCheck < freshness.
type TokenCache struct {
	mu        sync.Mutex
	token     string
	session   *models.Session
	lastCheck time.Time
	freshness time.Duration
	now       func() time.Time
	metrics   *MetricsService
}

// NewTokenCache builds a TokenCache. A nil clock uses time.Now.
func NewTokenCache(freshness time.Duration, now func() time.Time, metrics *MetricsService) *TokenCache {
	if freshness <= 0 {
		freshness = 5 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &TokenCache{freshness: freshness, now: now, metrics: metrics}
}

// Get returns the cached session when it belongs to token, is still fresh and
// has not expired.
func (c *TokenCache) Get(_ context.Context, token string) (*models.Session, bool) {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	hit := c.session != nil && c.token == token && now.Sub(c.lastCheck) < c.freshness && c.session.Valid(now)
	c.metrics.RecordCacheOperation(hit, time.Since(start))
	if !hit {
		return nil, false
	}
	return c.session, true
}

// Put replaces the entry and restarts the freshness window.
func (c *TokenCache) Put(_ context.Context, token string, session *models.Session) {
	c.mu.Lock()
	c.token = token
	c.session = session
	c.lastCheck = c.now()
	c.mu.Unlock()
}

// Invalidate empties the cache.
func (c *TokenCache) Invalidate(context.Context, string) {
	c.mu.Lock()
	c.token = ""
	c.session = nil
	c.lastCheck = time.Time{}
	c.mu.Unlock()
}

// Evict empties the cache when it holds session.
func (c *TokenCache) Evict(_ context.Context, session models.Session) {
	c.mu.Lock()
	if c.session != nil && c.session.ID == session.ID {
		c.token = ""
		c.session = nil
		c.lastCheck = time.Time{}
	}
	c.mu.Unlock()
}

// SharedSessionCache keeps one Redis entry per token digest so a process
// serving many identities never hands one caller's session to another.
// Entry TTL is the freshness window.
type SharedSessionCache struct {
	cache     *CacheService
	freshness time.Duration
	now       func() time.Time
}

// NewSharedSessionCache builds a SharedSessionCache over cache.
func NewSharedSessionCache(cache *CacheService, freshness time.Duration) *SharedSessionCache {
	if freshness <= 0 {
		freshness = 5 * time.Minute
	}
	return &SharedSessionCache{cache: cache, freshness: freshness, now: time.Now}
}

func sessionCacheKey(token string) string {
	return sessionCachePrefix + repository.HashToken(token)
}

// Evict removes the entry of session using its stored token digest.
func (c *SharedSessionCache) Evict(ctx context.Context, session models.Session) {
	if session.SessionTokenHash == "" {
		return
	}
	_ = c.cache.Invalidate(ctx, sessionCachePrefix+session.SessionTokenHash)
}

// Get looks up the entry for token. Cache failures count as misses. An entry
// whose session expired inside the freshness window is dropped.
func (c *SharedSessionCache) Get(ctx context.Context, token string) (*models.Session, bool) {
	if token == "" {
		return nil, false
	}
	var session models.Session
	hit, err := c.cache.Get(ctx, sessionCacheKey(token), &session)
	if err != nil || !hit {
		return nil, false
	}
	if !session.Valid(c.now()) {
		_ = c.cache.Invalidate(ctx, sessionCacheKey(token))
		return nil, false
	}
	return &session, true
}

// Put stores session under the token digest.
func (c *SharedSessionCache) Put(ctx context.Context, token string, session *models.Session) {
	if token == "" || session == nil {
		return
	}
	_ = c.cache.Set(ctx, sessionCacheKey(token), session, c.freshness)
}

// Invalidate removes the entry for token.
func (c *SharedSessionCache) Invalidate(ctx context.Context, token string) {
	if token == "" {
		return
	}
	_ = c.cache.Invalidate(ctx, sessionCacheKey(token))
}
