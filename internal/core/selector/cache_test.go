package selector

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loolooyyyy/pac-vole/internal/shared/types"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestNewCache_Validation(t *testing.T) {
	inner := &mockSelector{decision: types.DirectDecision()}
	_, err := NewCache(inner, 0, time.Second, ScopeHost)
	assert.ErrorIs(t, err, types.ErrConfiguration)
	_, err = NewCache(inner, 10, 0, ScopeHost)
	assert.ErrorIs(t, err, types.ErrConfiguration)
	_, err = NewCache(nil, 10, time.Second, ScopeHost)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestParseScope(t *testing.T) {
	for in, want := range map[string]Scope{"host": ScopeHost, "HOST_PORT": ScopeHostPort, "": ScopeHostPort, "url": ScopeURL} {
		got, err := ParseScope(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseScope("path")
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestCache_HitAndExpiry(t *testing.T) {
	clock := newFakeClock()
	inner := &mockSelector{decision: types.Decision{proxy("p", 1)}}
	c, err := NewCache(inner, 10, time.Minute, ScopeHost, WithCacheClock(clock.Now))
	require.NoError(t, err)

	u := mustURL(t, "http://example.com/a")
	for i := 0; i < 3; i++ {
		d, err := c.Select(u)
		require.NoError(t, err)
		assert.Equal(t, types.Decision{proxy("p", 1)}, d)
	}
	assert.EqualValues(t, 1, inner.calls.Load())

	// Same host, other path and port: still a hit in host scope.
	_, _ = c.Select(mustURL(t, "http://EXAMPLE.com:8443/b"))
	assert.EqualValues(t, 1, inner.calls.Load())

	clock.Advance(time.Minute)
	_, _ = c.Select(u)
	assert.EqualValues(t, 2, inner.calls.Load())
}

func TestCache_Scopes(t *testing.T) {
	tests := []struct {
		scope Scope
		want  int32
	}{
		{ScopeHost, 1},
		{ScopeHostPort, 2},
		{ScopeURL, 3},
	}
	for _, tt := range tests {
		inner := &mockSelector{decision: types.DirectDecision()}
		c, err := NewCache(inner, 10, time.Hour, tt.scope)
		require.NoError(t, err)
		for _, raw := range []string{"http://h/a", "http://h/b", "http://h:8080/a"} {
			_, err := c.Select(mustURL(t, raw))
			require.NoError(t, err)
		}
		assert.Equal(t, tt.want, inner.calls.Load(), "scope %d", tt.scope)
	}
}

func TestCache_KeysIncludeScheme(t *testing.T) {
	for _, scope := range []Scope{ScopeHost, ScopeHostPort, ScopeURL} {
		inner := &mockSelector{decision: types.DirectDecision()}
		c, err := NewCache(inner, 10, time.Hour, scope)
		require.NoError(t, err)
		for _, raw := range []string{"http://h/", "https://h/"} {
			_, err := c.Select(mustURL(t, raw))
			require.NoError(t, err)
		}
		assert.EqualValues(t, 2, inner.calls.Load(), "scope %d", scope)
	}
}

func TestCache_HostPortUsesSchemeDefault(t *testing.T) {
	inner := &mockSelector{decision: types.DirectDecision()}
	c, err := NewCache(inner, 10, time.Hour, ScopeHostPort)
	require.NoError(t, err)

	for _, raw := range []string{"http://h/", "http://h:80/x", "https://h:443/", "https://h/y"} {
		_, err := c.Select(mustURL(t, raw))
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, inner.calls.Load())
	assert.Equal(t, 2, c.Len())
}

func TestCache_Flush(t *testing.T) {
	inner := &mockSelector{decision: types.DirectDecision()}
	c, err := NewCache(inner, 10, time.Hour, ScopeURL)
	require.NoError(t, err)
	u := mustURL(t, "http://h/")

	_, _ = c.Select(u)
	_, _ = c.Select(u)
	assert.EqualValues(t, 1, inner.calls.Load())
	assert.Equal(t, 1, c.Len())

	c.Flush()
	assert.Equal(t, 0, c.Len())
	_, _ = c.Select(u)
	assert.EqualValues(t, 2, inner.calls.Load())
}

func TestCache_EvictsExpiredFirst(t *testing.T) {
	clock := newFakeClock()
	inner := &mockSelector{decision: types.DirectDecision()}
	c, err := NewCache(inner, 10, time.Minute, ScopeHost, WithCacheClock(clock.Now))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, _ = c.Select(mustURL(t, fmt.Sprintf("http://old%d/", i)))
	}
	clock.Advance(30 * time.Second)
	for i := 0; i < 5; i++ {
		_, _ = c.Select(mustURL(t, fmt.Sprintf("http://new%d/", i)))
	}
	require.Equal(t, 10, c.Len())

	// The old entries have expired; inserting purges all five of them.
	clock.Advance(31 * time.Second)
	_, _ = c.Select(mustURL(t, "http://extra/"))
	assert.Equal(t, 6, c.Len())

	calls := inner.calls.Load()
	_, _ = c.Select(mustURL(t, "http://new0/"))
	assert.Equal(t, calls, inner.calls.Load())
}

func TestCache_EvictsSoonestExpiringBatch(t *testing.T) {
	clock := newFakeClock()
	inner := &mockSelector{decision: types.DirectDecision()}
	c, err := NewCache(inner, 20, time.Hour, ScopeHost, WithCacheClock(clock.Now))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, _ = c.Select(mustURL(t, fmt.Sprintf("http://h%d/", i)))
		clock.Advance(time.Second)
	}
	require.Equal(t, 20, c.Len())

	// Full with nothing expired: the two soonest-expiring entries go.
	_, _ = c.Select(mustURL(t, "http://extra/"))
	assert.Equal(t, 19, c.Len())

	calls := inner.calls.Load()
	_, _ = c.Select(mustURL(t, "http://h2/"))
	assert.Equal(t, calls, inner.calls.Load(), "h2 should still be cached")
	_, _ = c.Select(mustURL(t, "http://h0/"))
	assert.Equal(t, calls+1, inner.calls.Load(), "h0 should have been evicted")
}

func TestCache_SmallCacheEvictsOne(t *testing.T) {
	inner := &mockSelector{decision: types.DirectDecision()}
	c, err := NewCache(inner, 3, time.Hour, ScopeHost)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, _ = c.Select(mustURL(t, fmt.Sprintf("http://h%d/", i)))
		assert.LessOrEqual(t, c.Len(), 3)
	}
}

func TestCache_DelegateErrorNotCached(t *testing.T) {
	inner := &mockSelector{err: assert.AnError}
	c, err := NewCache(inner, 3, time.Hour, ScopeHost)
	require.NoError(t, err)
	_, err = c.Select(mustURL(t, "http://h/"))
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestCache_Disabled(t *testing.T) {
	inner := &mockSelector{decision: types.Decision{proxy("p", 1)}}
	c, err := NewCache(inner, 3, time.Hour, ScopeHost)
	require.NoError(t, err)
	c.SetEnabled(false)
	d, err := c.Select(mustURL(t, "http://h/"))
	require.NoError(t, err)
	assert.Equal(t, types.DirectDecision(), d)
	assert.EqualValues(t, 0, inner.calls.Load())
}

func TestCache_Concurrent(t *testing.T) {
	inner := &mockSelector{decision: types.Decision{proxy("p", 1)}}
	c, err := NewCache(inner, 50, time.Hour, ScopeHost)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := c.Select(mustURL(t, fmt.Sprintf("http://h%d/", i%80)))
			assert.NoError(t, err)
			assert.Len(t, d, 1)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}
