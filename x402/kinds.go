package x402

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Kind is one payment kind a gateway supports, with scheme-specific extra
// fields (EIP-712 domain name and version for the exact scheme).
type Kind struct {
	Scheme  string         `json:"scheme"`
	Network string         `json:"network"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// SupportedKinds is a gateway's advertised kind list.
type SupportedKinds struct {
	Kinds []Kind `json:"kinds"`
}

// KindsSource fetches the supported kinds from a gateway.
type KindsSource interface {
	SupportedKinds(ctx context.Context) (*SupportedKinds, error)
}

// DefaultKindsTTL is how long a fetched kind list stays fresh.
const DefaultKindsTTL = 300 * time.Second

const kindsCacheKey = "supported"

// KindsCache caches a gateway's supported payment kinds with a TTL so
// that challenge building does not hit the gateway on every denial.
// Source failures are swallowed: challenges are still served with the
// caller's default extra fields.
type KindsCache struct {
	source KindsSource
	cache  *expirable.LRU[string, *SupportedKinds]
}

// NewKindsCache creates a cache over the given source. A zero ttl uses
// DefaultKindsTTL.
func NewKindsCache(source KindsSource, ttl time.Duration) *KindsCache {
	if ttl <= 0 {
		ttl = DefaultKindsTTL
	}
	return &KindsCache{
		source: source,
		cache:  expirable.NewLRU[string, *SupportedKinds](1, nil, ttl),
	}
}

// Get returns the supported kinds, fetching from the source on a cache
// miss. Returns nil when the source is unset or unreachable.
func (c *KindsCache) Get(ctx context.Context) *SupportedKinds {
	if c == nil || c.source == nil {
		return nil
	}

	if cached, ok := c.cache.Get(kindsCacheKey); ok {
		return cached
	}

	kinds, err := c.source.SupportedKinds(ctx)
	if err != nil || kinds == nil {
		return nil
	}

	c.cache.Add(kindsCacheKey, kinds)
	return kinds
}

// ExtraFor returns the extra fields of the first supported kind matching
// scheme and network, or nil when the gateway is unavailable or has no
// matching kind.
func (c *KindsCache) ExtraFor(ctx context.Context, scheme, network string) map[string]any {
	kinds := c.Get(ctx)
	if kinds == nil {
		return nil
	}

	for _, k := range kinds.Kinds {
		if k.Scheme != scheme || k.Network != network {
			continue
		}
		if k.Extra != nil {
			return k.Extra
		}
	}

	return nil
}

// Invalidate drops the cached kind list.
func (c *KindsCache) Invalidate() {
	if c != nil {
		c.cache.Remove(kindsCacheKey)
	}
}
