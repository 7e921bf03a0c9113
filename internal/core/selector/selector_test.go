package selector

import (
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loolooyyyy/pac-vole/internal/core/resolver"
	"github.com/loolooyyyy/pac-vole/internal/shared/settings"
	"github.com/loolooyyyy/pac-vole/internal/shared/types"
)

// mockSelector counts calls and answers a fixed decision.
type mockSelector struct {
	decision types.Decision
	err      error
	calls    atomic.Int32

	mu       sync.Mutex
	failures []string
}

func (m *mockSelector) Select(u *url.URL) (types.Decision, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.decision.Clone(), nil
}

func (m *mockSelector) ConnectFailed(u *url.URL, address string, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, address)
}

func (m *mockSelector) reported() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.failures...)
}

// mockEvaluator answers a canned PAC result.
type mockEvaluator struct {
	result string
	err    error
}

func (m *mockEvaluator) Evaluate(url, host string) (string, error) {
	return m.result, m.err
}

func proxy(host string, port int) types.Proxy {
	return types.NewProxy(types.ProxyHTTP, host, port)
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func testResolver(t *testing.T) resolver.Resolver {
	t.Helper()
	r, err := resolver.NewStatic(map[string][]string{"intranet.corp": {"10.1.2.3"}})
	require.NoError(t, err)
	return r
}

func TestNilURI(t *testing.T) {
	fixed, err := NewFixedHTTP("p", 3128)
	require.NoError(t, err)
	cache, err := NewCache(fixed, 10, 1000, ScopeHost)
	require.NoError(t, err)
	fb, err := NewFallback(fixed)
	require.NoError(t, err)
	chain, err := NewChain(fixed)
	require.NoError(t, err)

	for _, s := range []Selector{fixed, NewNoProxy(), NewProtocolDispatch(nil), cache, fb, chain} {
		_, err := s.Select(nil)
		assert.ErrorIs(t, err, ErrNilURI)
	}
}

func TestFixed(t *testing.T) {
	f, err := NewFixedHTTP("proxy.example", 3128)
	require.NoError(t, err)
	d, err := f.Select(mustURL(t, "http://anything/"))
	require.NoError(t, err)
	assert.Equal(t, types.Decision{proxy("proxy.example", 3128)}, d)

	// Callers may modify what they get back.
	d[0].Host = "changed"
	d, _ = f.Select(mustURL(t, "http://anything/"))
	assert.Equal(t, "proxy.example", d[0].Host)

	s, err := NewFixedSOCKS("socks.example", 1080)
	require.NoError(t, err)
	d, _ = s.Select(mustURL(t, "ftp://x/"))
	assert.Equal(t, types.ProxySOCKS, d[0].Type)

	_, err = NewFixedHTTP("", 80)
	assert.ErrorIs(t, err, types.ErrConfiguration)
	_, err = NewFixedHTTP("p", 70000)
	assert.ErrorIs(t, err, types.ErrConfiguration)
	_, err = NewFixed(nil)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestFixedFromResult(t *testing.T) {
	f, err := FixedFromResult("PROXY a:1; DIRECT")
	require.NoError(t, err)
	assert.Equal(t, types.Decision{proxy("a", 1), types.Direct}, f.Decision())
}

func TestNoProxy(t *testing.T) {
	d, err := NewNoProxy().Select(mustURL(t, "http://x/"))
	require.NoError(t, err)
	assert.Equal(t, types.DirectDecision(), d)
}

func TestDisabledSelectorAnswersDirect(t *testing.T) {
	f, err := NewFixedHTTP("p", 8080)
	require.NoError(t, err)
	u := mustURL(t, "http://x/")

	f.SetEnabled(false)
	assert.False(t, f.Enabled())
	d, err := f.Select(u)
	require.NoError(t, err)
	assert.Equal(t, types.DirectDecision(), d)

	f.SetEnabled(true)
	d, err = f.Select(u)
	require.NoError(t, err)
	assert.Equal(t, types.Decision{proxy("p", 8080)}, d)
}

func TestDisabledWrapperSkipsDelegate(t *testing.T) {
	inner := &mockSelector{decision: types.Decision{proxy("p", 1)}}
	b, err := ParseBypassList(inner, "*.local", nil)
	require.NoError(t, err)
	b.SetEnabled(false)

	d, err := b.Select(mustURL(t, "http://x.example/"))
	require.NoError(t, err)
	assert.Equal(t, types.DirectDecision(), d)
	assert.EqualValues(t, 0, inner.calls.Load())
}

func TestBypassList(t *testing.T) {
	inner := &mockSelector{decision: types.Decision{proxy("p", 1)}}
	b, err := ParseBypassList(inner, "*.local, 10.0.0.0/8", testResolver(t))
	require.NoError(t, err)

	d, err := b.Select(mustURL(t, "http://printer.local/"))
	require.NoError(t, err)
	assert.Equal(t, types.DirectDecision(), d)

	d, err = b.Select(mustURL(t, "http://intranet.corp/"))
	require.NoError(t, err)
	assert.Equal(t, types.DirectDecision(), d)

	d, err = b.Select(mustURL(t, "http://www.example.com/"))
	require.NoError(t, err)
	assert.Equal(t, types.Decision{proxy("p", 1)}, d)
	assert.EqualValues(t, 1, inner.calls.Load())

	_, err = ParseBypassList(nil, "*.local", nil)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestBypassList_HotReload(t *testing.T) {
	inner := &mockSelector{decision: types.Decision{proxy("p", 1)}}
	b, err := NewBypassList(inner, nil, testResolver(t))
	require.NoError(t, err)
	u := mustURL(t, "http://build.example.org/")

	d, _ := b.Select(u)
	assert.Equal(t, types.Decision{proxy("p", 1)}, d)

	require.NoError(t, b.OnSettingsUpdate(settings.ModuleBypass, &settings.RuleListSettings{Rules: []string{"*.example.org"}}))
	d, _ = b.Select(u)
	assert.Equal(t, types.DirectDecision(), d)
	assert.Len(t, b.Filters(), 1)

	// Other modules and malformed payloads leave the rules alone.
	require.NoError(t, b.OnSettingsUpdate(settings.ModuleWhitelist, &settings.RuleListSettings{}))
	assert.Error(t, b.OnSettingsUpdate(settings.ModuleBypass, "nope"))
	assert.Len(t, b.Filters(), 1)
}

func TestBypassList_ThroughSettingsManager(t *testing.T) {
	inner := &mockSelector{decision: types.Decision{proxy("p", 1)}}
	b, err := NewBypassList(inner, nil, testResolver(t))
	require.NoError(t, err)

	sm, err := settings.NewSettingsManager("")
	require.NoError(t, err)
	sm.Register(settings.ModuleBypass, b)
	require.NoError(t, sm.UpdateSync(settings.ModuleBypass, []byte(`{"rules":["intranet*"]}`)))

	d, _ := b.Select(mustURL(t, "http://intranet.corp/"))
	assert.Equal(t, types.DirectDecision(), d)
}

func TestWhitelist(t *testing.T) {
	inner := &mockSelector{decision: types.Decision{proxy("p", 1)}}
	w, err := NewWhitelist(inner, "*.corp, https://secure*", testResolver(t))
	require.NoError(t, err)

	d, _ := w.Select(mustURL(t, "http://intranet.corp/"))
	assert.Equal(t, types.Decision{proxy("p", 1)}, d)

	d, _ = w.Select(mustURL(t, "https://secure.example/"))
	assert.Equal(t, types.Decision{proxy("p", 1)}, d)

	d, _ = w.Select(mustURL(t, "http://secure.example/"))
	assert.Equal(t, types.DirectDecision(), d)

	d, _ = w.Select(mustURL(t, "http://www.example.com/"))
	assert.Equal(t, types.DirectDecision(), d)
	assert.EqualValues(t, 2, inner.calls.Load())

	require.NoError(t, w.OnSettingsUpdate(settings.ModuleWhitelist, &settings.RuleListSettings{Rules: []string{"www.*"}}))
	d, _ = w.Select(mustURL(t, "http://www.example.com/"))
	assert.Equal(t, types.Decision{proxy("p", 1)}, d)

	_, err = NewWhitelist(nil, "", nil)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestWhitelist_EmptyDefers(t *testing.T) {
	inner := &mockSelector{decision: types.Decision{proxy("p", 1)}}
	w, err := NewWhitelist(inner, "", testResolver(t))
	require.NoError(t, err)

	d, _ := w.Select(mustURL(t, "http://anything.example/"))
	assert.Equal(t, types.Decision{proxy("p", 1)}, d)

	require.NoError(t, w.OnSettingsUpdate(settings.ModuleWhitelist, &settings.RuleListSettings{Rules: []string{"*.corp"}}))
	d, _ = w.Select(mustURL(t, "http://anything.example/"))
	assert.Equal(t, types.DirectDecision(), d)
}

func TestRuleList_EmptyUpdateRestoresConfigured(t *testing.T) {
	inner := &mockSelector{decision: types.Decision{proxy("p", 1)}}
	b, err := ParseBypassList(inner, "*.local", testResolver(t))
	require.NoError(t, err)
	printer := mustURL(t, "http://printer.local/")

	require.NoError(t, b.OnSettingsUpdate(settings.ModuleBypass, &settings.RuleListSettings{Rules: []string{"*.example.org"}}))
	d, _ := b.Select(printer)
	assert.Equal(t, types.Decision{proxy("p", 1)}, d)

	require.NoError(t, b.OnSettingsUpdate(settings.ModuleBypass, &settings.RuleListSettings{}))
	assert.Len(t, b.Filters(), 1)
	d, _ = b.Select(printer)
	assert.Equal(t, types.DirectDecision(), d)
}

func TestPAC(t *testing.T) {
	p, err := NewPAC(&mockEvaluator{result: "PROXY my-proxy.com:80 ; PROXY my-proxy2.com: 8080; "})
	require.NoError(t, err)
	d, err := p.Select(mustURL(t, "http://x/"))
	require.NoError(t, err)
	assert.Equal(t, types.Decision{proxy("my-proxy.com", 80), proxy("my-proxy2.com", 8080)}, d)

	p, err = NewPAC(&mockEvaluator{err: errors.New("script exploded")})
	require.NoError(t, err)
	d, err = p.Select(mustURL(t, "http://x/"))
	require.NoError(t, err)
	assert.Equal(t, types.DirectDecision(), d)

	p, err = NewPAC(&mockEvaluator{result: " ; "})
	require.NoError(t, err)
	d, _ = p.Select(mustURL(t, "http://x/"))
	assert.Equal(t, types.DirectDecision(), d)

	_, err = NewPAC(nil)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestChain(t *testing.T) {
	inner := &mockSelector{decision: types.Decision{}}
	c, err := NewChain(inner)
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID())

	d, err := c.Select(mustURL(t, "http://x/"))
	require.NoError(t, err)
	assert.Equal(t, types.DirectDecision(), d)

	inner.err = errors.New("boom")
	d, err = c.Select(mustURL(t, "http://x/"))
	require.NoError(t, err)
	assert.Equal(t, types.DirectDecision(), d)

	c.ConnectFailed(mustURL(t, "http://x/"), "p:1", errors.New("refused"))
	assert.Equal(t, []string{"p:1"}, inner.reported())

	_, err = NewChain(nil)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}
