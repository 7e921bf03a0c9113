package selector

import (
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loolooyyyy/pac-vole/internal/shared/logger"
	"github.com/loolooyyyy/pac-vole/internal/shared/types"
)

// Scope selects which part of a URI keys the cache.
type Scope int

const (
	ScopeHost Scope = iota
	ScopeHostPort
	ScopeURL
)

// ParseScope accepts "host", "host_port" and "url". Every scope keys on
// the scheme as well.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "host":
		return ScopeHost, nil
	case "", "host_port", "hostport":
		return ScopeHostPort, nil
	case "url", "uri":
		return ScopeURL, nil
	}
	return 0, configError("cache: unknown scope %q", s)
}

// schemePorts fills in the port for host_port keys when the URI has none.
var schemePorts = map[string]string{
	"http":   "80",
	"ws":     "80",
	"https":  "443",
	"wss":    "443",
	"ftp":    "21",
	"socks":  "1080",
	"socks5": "1080",
}

// key always includes the scheme: layers below the cache may answer
// differently per scheme.
func (s Scope) key(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	switch s {
	case ScopeHost:
		return scheme + "://" + host
	case ScopeURL:
		return u.String()
	default:
		port := u.Port()
		if port == "" {
			port = schemePorts[scheme]
		}
		return scheme + "://" + net.JoinHostPort(host, port)
	}
}

type cacheEntry struct {
	key      string
	decision types.Decision
	expireAt time.Time
}

// Cache remembers the delegate's decisions for a fixed time. The lock is
// held for map operations only, so concurrent misses on one key may call
// the delegate more than once.
type Cache struct {
	Base
	delegate Selector
	scope    Scope
	ttl      time.Duration
	maxSize  int
	batch    int
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheClock replaces time.Now.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache wraps delegate with a cache of at most maxSize entries that live
// for ttl.
func NewCache(delegate Selector, maxSize int, ttl time.Duration, scope Scope, opts ...CacheOption) (*Cache, error) {
	if err := requireDelegate("cache", delegate); err != nil {
		return nil, err
	}
	if maxSize < 1 {
		return nil, configError("cache: max size must be >= 1, got %d", maxSize)
	}
	if ttl <= 0 {
		return nil, configError("cache: ttl must be positive, got %s", ttl)
	}
	batch := maxSize / 10
	if batch < 1 {
		batch = 1
	}
	c := &Cache{
		delegate: delegate,
		scope:    scope,
		ttl:      ttl,
		maxSize:  maxSize,
		batch:    batch,
		now:      time.Now,
		entries:  make(map[string]*cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Cache) Select(u *url.URL) (types.Decision, error) {
	if u == nil {
		return nil, ErrNilURI
	}
	if !c.Enabled() {
		return types.DirectDecision(), nil
	}
	key := c.scope.key(u)

	c.mu.Lock()
	entry := c.entries[key]
	c.mu.Unlock()

	if entry != nil && c.now().Before(entry.expireAt) {
		logger.Debug().Str("key", key).Msg("Cache hit.")
		return entry.decision.Clone(), nil
	}

	d, err := c.delegate.Select(u)
	if err != nil {
		return nil, err
	}
	entry = &cacheEntry{key: key, decision: d.Clone(), expireAt: c.now().Add(c.ttl)}

	c.mu.Lock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.makeRoom()
	}
	c.entries[key] = entry
	c.mu.Unlock()

	logger.Debug().Str("key", key).Msg("Cache miss, stored.")
	return d, nil
}

// makeRoom drops expired entries, then the soonest-expiring batch if the
// cache is still full. Callers hold c.mu.
func (c *Cache) makeRoom() {
	now := c.now()
	expired := 0
	for k, e := range c.entries {
		if !now.Before(e.expireAt) {
			delete(c.entries, k)
			expired++
		}
	}
	if len(c.entries) < c.maxSize {
		logger.Debug().Int("expired", expired).Msg("Cache purged expired entries.")
		return
	}

	live := make([]*cacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		live = append(live, e)
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].expireAt.Before(live[j].expireAt)
	})
	n := c.batch
	if n > len(live) {
		n = len(live)
	}
	for _, e := range live[:n] {
		delete(c.entries, e.key)
	}
	logger.Debug().Int("expired", expired).Int("evicted", n).Msg("Cache evicted soonest-expiring entries.")
}

func (c *Cache) ConnectFailed(u *url.URL, address string, cause error) {
	c.delegate.ConnectFailed(u, address, cause)
}

// Flush removes every entry.
func (c *Cache) Flush() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
