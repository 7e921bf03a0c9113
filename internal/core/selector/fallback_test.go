package selector

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loolooyyyy/pac-vole/internal/shared/types"
)

func TestFallback_ExcludesFailedUntilRetry(t *testing.T) {
	clock := newFakeClock()
	inner := &mockSelector{decision: types.Decision{proxy("p1", 8080), proxy("p2", 8080), types.Direct}}
	f, err := NewFallback(inner, WithRetryAfter(time.Minute), WithFallbackClock(clock.Now))
	require.NoError(t, err)
	u := mustURL(t, "http://example.com/")

	f.ConnectFailed(u, "P1:8080", errors.New("refused"))
	assert.Equal(t, 1, f.Failures())
	assert.Equal(t, []string{"P1:8080"}, inner.reported())

	d, err := f.Select(u)
	require.NoError(t, err)
	assert.Equal(t, types.Decision{proxy("p2", 8080), types.Direct}, d)

	clock.Advance(time.Minute)
	d, _ = f.Select(u)
	assert.Equal(t, types.Decision{proxy("p2", 8080), types.Direct}, d, "window is inclusive")

	clock.Advance(time.Millisecond)
	d, _ = f.Select(u)
	assert.Equal(t, types.Decision{proxy("p1", 8080), proxy("p2", 8080), types.Direct}, d)
	assert.Equal(t, 0, f.Failures())
}

func TestFallback_AllExcludedIsEmpty(t *testing.T) {
	inner := &mockSelector{decision: types.Decision{proxy("p1", 1)}}
	f, err := NewFallback(inner)
	require.NoError(t, err)
	u := mustURL(t, "http://example.com/")

	f.ConnectFailed(u, "p1:1", nil)
	d, err := f.Select(u)
	require.NoError(t, err)
	assert.Empty(t, d)

	c, err := NewChain(f)
	require.NoError(t, err)
	d, err = c.Select(u)
	require.NoError(t, err)
	assert.Equal(t, types.DirectDecision(), d)
}

func TestFallback_DirectNeverExcluded(t *testing.T) {
	inner := &mockSelector{decision: types.DirectDecision()}
	f, err := NewFallback(inner)
	require.NoError(t, err)
	u := mustURL(t, "http://example.com/")

	f.ConnectFailed(u, "", errors.New("whatever"))
	assert.Equal(t, 0, f.Failures())
	d, _ := f.Select(u)
	assert.Equal(t, types.DirectDecision(), d)
}

func TestFallback_IPv6Addresses(t *testing.T) {
	inner := &mockSelector{decision: types.Decision{proxy("::1", 3128), proxy("[::2]", 3128)}}
	f, err := NewFallback(inner)
	require.NoError(t, err)
	u := mustURL(t, "http://example.com/")

	f.ConnectFailed(u, "[::1]:3128", nil)
	d, _ := f.Select(u)
	assert.Equal(t, types.Decision{proxy("[::2]", 3128)}, d)
}

func TestFallback_LastFailureWins(t *testing.T) {
	clock := newFakeClock()
	inner := &mockSelector{decision: types.Decision{proxy("p", 1)}}
	f, err := NewFallback(inner, WithRetryAfter(time.Minute), WithFallbackClock(clock.Now))
	require.NoError(t, err)
	u := mustURL(t, "http://example.com/")

	f.ConnectFailed(u, "p:1", nil)
	clock.Advance(50 * time.Second)
	f.ConnectFailed(u, "p:1", nil)
	clock.Advance(50 * time.Second)

	d, _ := f.Select(u)
	assert.Empty(t, d)
}

func TestNewFallback_Validation(t *testing.T) {
	_, err := NewFallback(nil)
	assert.ErrorIs(t, err, types.ErrConfiguration)
	_, err = NewFallback(NewNoProxy(), WithRetryAfter(-time.Second))
	assert.ErrorIs(t, err, types.ErrConfiguration)
}
