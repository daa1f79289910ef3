package oracle

import (
	"sync"
	"time"

	"github.com/astraly-labs/vesu-liquidator/internal/domain"
)

// Cache is the in-memory map from asset symbol to its latest quote. It is the
// only mutable shared state of the oracle side: the refresher writes, the
// health evaluator reads. Quotes are never removed; a failed refresh simply
// leaves the previous quote (and its original timestamp) in place, so
// staleness decides whether it may still be used.
type Cache struct {
	mu        sync.RWMutex
	quotes    map[string]domain.PriceQuote
	threshold time.Duration
}

// NewCache creates a Cache with the given staleness threshold.
func NewCache(stalenessThreshold time.Duration) *Cache {
	return &Cache{
		quotes:    make(map[string]domain.PriceQuote),
		threshold: stalenessThreshold,
	}
}

// Put stores a quote unless an existing quote for the symbol is newer;
// per-symbol observation timestamps are non-decreasing.
func (c *Cache) Put(q domain.PriceQuote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.quotes[q.Symbol]; ok && q.ObservedAt.Before(prev.ObservedAt) {
		return
	}
	c.quotes[q.Symbol] = q
}

// Get returns the latest quote for a symbol and whether one exists.
func (c *Cache) Get(symbol string) (domain.PriceQuote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok
}

// Fresh returns the quote for a symbol only when it exists and is not stale
// at the given time. The evaluator treats the absent case as "unknown", never
// as liquidable.
func (c *Cache) Fresh(symbol string, now time.Time) (domain.PriceQuote, bool) {
	q, ok := c.Get(symbol)
	if !ok || q.StaleAt(now, c.threshold) {
		return domain.PriceQuote{}, false
	}
	return q, true
}

// Stale reports whether the given quote is past the cache's threshold.
func (c *Cache) Stale(q domain.PriceQuote, now time.Time) bool {
	return q.StaleAt(now, c.threshold)
}

// Len returns the number of cached symbols.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}
