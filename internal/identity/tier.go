package identity

import (
	"context"
	"sync"
	"time"
)

// TierProvider reports a user's subscription tier. Billing owns the truth;
// this is a read-only view of it.
type TierProvider interface {
	GetUserTier(ctx context.Context, userID string) (string, error)
}

// StaticTierProvider returns the same tier for every user. Used in
// development and as the fallback when no billing endpoint is configured.
type StaticTierProvider struct {
	Tier string
}

// GetUserTier returns the configured tier.
func (p StaticTierProvider) GetUserTier(_ context.Context, _ string) (string, error) {
	return p.Tier, nil
}

type cachedTier struct {
	tier      string
	fetchedAt time.Time
}

// CachedTierProvider memoizes tier lookups with a bounded staleness
// window, so a just-upgraded user sees new limits within the TTL.
type CachedTierProvider struct {
	next TierProvider
	ttl  time.Duration

	mu    sync.Mutex
	cache map[string]cachedTier
}

// NewCachedTierProvider wraps a provider with a TTL cache.
func NewCachedTierProvider(next TierProvider, ttl time.Duration) *CachedTierProvider {
	return &CachedTierProvider{
		next:  next,
		ttl:   ttl,
		cache: make(map[string]cachedTier),
	}
}

// GetUserTier returns the cached tier when fresh, otherwise consults the
// underlying provider. A lookup failure with a stale cache entry returns
// the stale value rather than failing the request.
func (p *CachedTierProvider) GetUserTier(ctx context.Context, userID string) (string, error) {
	p.mu.Lock()
	entry, ok := p.cache[userID]
	p.mu.Unlock()

	if ok && time.Since(entry.fetchedAt) < p.ttl {
		return entry.tier, nil
	}

	tier, err := p.next.GetUserTier(ctx, userID)
	if err != nil {
		if ok {
			return entry.tier, nil
		}
		return "", err
	}

	p.mu.Lock()
	p.cache[userID] = cachedTier{tier: tier, fetchedAt: time.Now()}
	p.mu.Unlock()
	return tier, nil
}

// Invalidate drops a user's cached tier, for logout teardown.
func (p *CachedTierProvider) Invalidate(userID string) {
	p.mu.Lock()
	delete(p.cache, userID)
	p.mu.Unlock()
}
