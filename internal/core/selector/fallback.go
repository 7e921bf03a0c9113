package selector

import (
	"net/url"
	"sync"
	"time"

	"github.com/loolooyyyy/pac-vole/internal/shared/logger"
	"github.com/loolooyyyy/pac-vole/internal/shared/types"
)

// DefaultRetryAfter is how long a failed proxy stays excluded.
const DefaultRetryAfter = 10 * time.Minute

// Fallback removes recently failed proxies from its delegate's decisions
// until their retry window has passed. DIRECT is never removed, so the
// result may be empty only when the delegate offered no DIRECT entry.
type Fallback struct {
	Base
	delegate   Selector
	retryAfter time.Duration
	now        func() time.Time
	failures   sync.Map // canonical address -> time.Time of the last failure
}

// FallbackOption configures a Fallback.
type FallbackOption func(*Fallback)

func WithRetryAfter(d time.Duration) FallbackOption {
	return func(f *Fallback) { f.retryAfter = d }
}

// WithFallbackClock replaces time.Now.
func WithFallbackClock(now func() time.Time) FallbackOption {
	return func(f *Fallback) { f.now = now }
}

func NewFallback(delegate Selector, opts ...FallbackOption) (*Fallback, error) {
	if err := requireDelegate("fallback", delegate); err != nil {
		return nil, err
	}
	f := &Fallback{
		delegate:   delegate,
		retryAfter: DefaultRetryAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.retryAfter < 0 {
		return nil, configError("fallback: negative retry window %s", f.retryAfter)
	}
	return f, nil
}

// ConnectFailed records the failure time of address and passes the
// notification on.
func (f *Fallback) ConnectFailed(u *url.URL, address string, cause error) {
	if key := types.CanonicalAddress(address); key != "" {
		f.failures.Store(key, f.now())
		logger.Debug().Str("address", key).Err(cause).Msg("Proxy marked as failed.")
	}
	f.delegate.ConnectFailed(u, address, cause)
}

func (f *Fallback) Select(u *url.URL) (types.Decision, error) {
	if u == nil {
		return nil, ErrNilURI
	}
	if !f.Enabled() {
		return types.DirectDecision(), nil
	}
	now := f.now()
	f.purge(now)

	d, err := f.delegate.Select(u)
	if err != nil {
		return nil, err
	}
	out := make(types.Decision, 0, len(d))
	for _, p := range d {
		if p.IsDirect() || !f.failing(p.Address(), now) {
			out = append(out, p)
			continue
		}
		logger.Debug().Str("proxy", p.String()).Msg("Skipping recently failed proxy.")
	}
	return out, nil
}

func (f *Fallback) purge(now time.Time) {
	f.failures.Range(func(k, v any) bool {
		if f.expired(v.(time.Time), now) {
			f.failures.Delete(k)
		}
		return true
	})
}

func (f *Fallback) failing(address string, now time.Time) bool {
	v, ok := f.failures.Load(address)
	return ok && !f.expired(v.(time.Time), now)
}

func (f *Fallback) expired(failedAt, now time.Time) bool {
	return failedAt.Add(f.retryAfter).Before(now)
}

// Failures returns the number of proxies currently recorded as failed.
func (f *Fallback) Failures() int {
	n := 0
	f.failures.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
