package pricing

import (
	"github.com/pricing-proxy/pricing-proxy/cache"
)

// enumEntry remembers the outcome of validating one (period, hotel,
// room) combination: whether it is a legal enum triple, and its
// precomputed Rate Key (spec §3), returned by Lookup. The HTTP edge
// uses only the verdict; the coordinator builds its own key with Key.
type enumEntry struct {
	key   string
	valid bool
}

// EnumGuard is a small in-process cache in front of the HTTP edge's
// enum validation. Parameter combinations repeat heavily under normal
// traffic (a handful of hotels/periods/rooms driving most requests),
// so memoizing the validate-and-format step is a cheap win on the hot
// path. Capacity is bounded well above the enumeration's legal
// combinations (at most a few dozen) so a client hammering invalid
// triples can't grow it unboundedly; eviction falls back to plain LRU.
type EnumGuard struct {
	c *cache.Cache[string, enumEntry]
}

// NewEnumGuard constructs an EnumGuard. metrics may be nil, in which
// case the cache's own NoopMetrics default applies.
func NewEnumGuard(metrics cache.Metrics) *EnumGuard {
	return &EnumGuard{
		c: cache.New(cache.Options[string, enumEntry]{
			Capacity: 256,
			Metrics:  metrics,
		}),
	}
}

// Lookup reports whether (period, hotel, room) was previously
// validated. On a cache hit, key and valid reflect the remembered
// outcome and ok is true; callers skip re-validation entirely. On a
// miss, the caller must validate normally and call Remember.
func (g *EnumGuard) Lookup(period, hotel, room string) (key string, valid bool, ok bool) {
	e, found := g.c.Get(rawTriple(period, hotel, room))
	if !found {
		return "", false, false
	}
	return e.key, e.valid, true
}

// Remember records the outcome of validating (period, hotel, room),
// including both legal and illegal triples, and returns the Rate Key
// for a legal triple (empty for an illegal one). The HTTP edge
// short-circuits only on a remembered legal verdict.
func (g *EnumGuard) Remember(period, hotel, room string, valid bool) string {
	key := ""
	if valid {
		key = Key(period, hotel, room)
	}
	g.c.Set(rawTriple(period, hotel, room), enumEntry{key: key, valid: valid})
	return key
}

func rawTriple(period, hotel, room string) string {
	return period + "\x00" + hotel + "\x00" + room
}
