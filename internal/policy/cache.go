package policy

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultCacheTTL is the default bound on how long a cached Decision is
// reused before re-evaluation, per spec.md's 5-minute default.
const DefaultCacheTTL = 5 * time.Minute

// DecisionCache caches Decisions keyed by H(intentDigest, policySetHash),
// invalidated wholesale whenever any PolicyVersion reaches ACTIVE.
type DecisionCache interface {
	Get(ctx context.Context, key string) (Decision, bool)
	Set(ctx context.Context, key string, d Decision, ttl time.Duration)
	// Invalidate clears every cached Decision.
	Invalidate(ctx context.Context)
}

type cacheEntry struct {
	decision Decision
	expires  time.Time
}

// localCache is an in-process LRU+TTL DecisionCache, the default backend.
type localCache struct {
	entries *lru.Cache[string, cacheEntry]
	now     func() time.Time
}

// NewLocalCache builds an in-process DecisionCache holding up to size
// entries.
func NewLocalCache(size int) (DecisionCache, error) {
	if size <= 0 {
		size = 10_000
	}
	c, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("policy: build decision cache: %w", err)
	}
	return &localCache{entries: c, now: time.Now}, nil
}

func (c *localCache) Get(_ context.Context, key string) (Decision, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return Decision{}, false
	}
	if c.now().After(entry.expires) {
		c.entries.Remove(key)
		return Decision{}, false
	}
	return entry.decision, true
}

func (c *localCache) Set(_ context.Context, key string, d Decision, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c.entries.Add(key, cacheEntry{decision: d, expires: c.now().Add(ttl)})
}

func (c *localCache) Invalidate(_ context.Context) {
	c.entries.Purge()
}

// redisCache is a distributed DecisionCache for multi-instance deployments,
// built directly with NewRedisCache. Invalidate relies on a versioned key
// prefix rather than
// scanning, since Redis has no efficient "clear by pattern" primitive at
// scale.
type redisCache struct {
	client  *goredis.Client
	prefix  string
	version *int64
}

// NewRedisCache builds a DecisionCache backed by client.
func NewRedisCache(client *goredis.Client, prefix string) DecisionCache {
	var v int64
	return &redisCache{client: client, prefix: prefix, version: &v}
}

func (c *redisCache) fullKey(key string) string {
	return fmt.Sprintf("%s:v%d:%s", c.prefix, *c.version, key)
}

func (c *redisCache) Get(ctx context.Context, key string) (Decision, bool) {
	raw, err := c.client.Get(ctx, c.fullKey(key)).Bytes()
	if err != nil {
		return Decision{}, false
	}
	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return Decision{}, false
	}
	return d, true
}

func (c *redisCache) Set(ctx context.Context, key string, d Decision, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.fullKey(key), raw, ttl).Err()
}

func (c *redisCache) Invalidate(_ context.Context) {
	*c.version++
}

// cacheKey derives H(intentDigest, policySetHash): a digest of the Intent's
// decision-relevant fields plus the hashes of every policy version in the
// evaluated set.
func cacheKey(intent Intent, policies []policyForCacheKey) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%v|%v|%.2f|%s|%v",
		intent.Operation, intent.User.Roles, intent.User.ConsentLevels,
		intent.Financial.Amount, intent.Financial.Currency, intent.Compliance)
	for _, p := range policies {
		fmt.Fprintf(h, "|%s:%s:%s", p.policyID, p.version, p.hash)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

type policyForCacheKey struct {
	policyID string
	version  string
	hash     string
}
