package app

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loolooyyyy/pac-vole/internal/core/pac"
	"github.com/loolooyyyy/pac-vole/internal/core/resolver"
	"github.com/loolooyyyy/pac-vole/internal/core/selector"
	"github.com/loolooyyyy/pac-vole/internal/shared/logger"
	"github.com/loolooyyyy/pac-vole/internal/shared/settings"
	"github.com/loolooyyyy/pac-vole/internal/shared/types"
)

// App is an assembled selector chain together with the pieces callers may
// need to reach directly (cache flush, runtime settings).
type App struct {
	cfg             *types.Config
	resolver        resolver.Resolver
	settingsManager *settings.SettingsManager

	chain     *selector.Chain
	cache     *selector.Cache    // nil when caching is disabled
	fallback  *selector.Fallback // nil when retry tracking is disabled
	dispatch  *selector.ProtocolDispatch
	bypass    *selector.BypassList
	whitelist *selector.Whitelist
	pac       *pac.Engine // nil without a PAC script
}

// Option adjusts how Build assembles the chain.
type Option func(*buildOptions)

type buildOptions struct {
	resolver     resolver.Resolver
	settings     *settings.SettingsManager
	script       string
	baseDir      string
	methodsClock func() time.Time
}

// WithResolver replaces the resolver chosen from [resolver].
func WithResolver(r resolver.Resolver) Option {
	return func(o *buildOptions) { o.resolver = r }
}

// WithSettingsManager uses sm instead of the one named by [selector] settings.
func WithSettingsManager(sm *settings.SettingsManager) Option {
	return func(o *buildOptions) { o.settings = sm }
}

// WithScript supplies the PAC script text directly; [pac] script is ignored.
func WithScript(script string) Option {
	return func(o *buildOptions) { o.script = script }
}

// WithBaseDir resolves relative file names in the config against dir.
func WithBaseDir(dir string) Option {
	return func(o *buildOptions) { o.baseDir = dir }
}

// WithClock pins the clock seen by PAC date and time functions.
func WithClock(now func() time.Time) Option {
	return func(o *buildOptions) { o.methodsClock = now }
}

// Build assembles the chain described by cfg. From the inside out:
// PAC script, fixed proxy or DIRECT; whitelist; bypass list; per-scheme
// dispatch; cache; failure tracking. Failures are filtered above the cache
// so a report takes effect on the next request. The outermost Chain never
// answers an empty decision.
func Build(cfg *types.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = types.DefaultConfig()
	}
	o := buildOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg}
	var err error

	a.resolver = o.resolver
	if a.resolver == nil {
		if a.resolver, err = newResolver(cfg.ResolverConf); err != nil {
			return nil, err
		}
	}

	a.settingsManager = o.settings
	if a.settingsManager == nil {
		path := cfg.SelectorConf.Settings
		if path != "" {
			path = resolvePath(o.baseDir, path)
		}
		if a.settingsManager, err = settings.NewSettingsManager(path); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
		}
	}
	runtime := a.settingsManager.Get()

	inner, err := a.buildInner(cfg, o)
	if err != nil {
		return nil, err
	}

	var current selector.Selector = inner
	if a.whitelist, err = selector.NewWhitelist(current, cfg.SelectorConf.Whitelist, a.resolver); err != nil {
		return nil, err
	}
	current = a.whitelist

	if a.bypass, err = selector.ParseBypassList(current, cfg.SelectorConf.BypassList, a.resolver); err != nil {
		return nil, err
	}
	current = a.bypass

	a.dispatch = selector.NewProtocolDispatch(current)
	if len(cfg.Protocols) > 0 {
		if err := a.dispatch.OnSettingsUpdate(settings.ModuleProtocols, &settings.ProtocolSettings{Proxies: cfg.Protocols}); err != nil {
			return nil, err
		}
	}
	current = a.dispatch

	if cfg.CacheConf.MaxSize > 0 {
		scope, err := selector.ParseScope(cfg.CacheConf.Scope)
		if err != nil {
			return nil, err
		}
		ttl := time.Duration(cfg.CacheConf.TTLMs) * time.Millisecond
		if a.cache, err = selector.NewCache(current, cfg.CacheConf.MaxSize, ttl, scope); err != nil {
			return nil, err
		}
		current = a.cache
	}

	if cfg.FallbackConf.RetryAfterMs >= 0 {
		retry := time.Duration(cfg.FallbackConf.RetryAfterMs) * time.Millisecond
		if a.fallback, err = selector.NewFallback(current, selector.WithRetryAfter(retry)); err != nil {
			return nil, err
		}
		current = a.fallback
	}

	if a.chain, err = selector.NewChain(current); err != nil {
		return nil, err
	}
	a.chain.SetEnabled(cfg.SelectorConf.Enabled)

	if err := a.subscribe(runtime); err != nil {
		return nil, err
	}

	logger.Info().
		Str("chain_id", a.chain.ID()).
		Bool("pac", a.pac != nil).
		Int("whitelist", len(a.whitelist.Filters())).
		Bool("cache", a.cache != nil).
		Bool("fallback", a.fallback != nil).
		Int("protocols", a.dispatch.Len()).
		Msg("Selector chain assembled.")
	return a, nil
}

// buildInner picks the innermost selector: a PAC script wins over a fixed
// proxy, and without either every request goes DIRECT.
func (a *App) buildInner(cfg *types.Config, o buildOptions) (selector.Selector, error) {
	script := o.script
	if script == "" && cfg.PacConf.Script != "" {
		data, err := os.ReadFile(resolvePath(o.baseDir, cfg.PacConf.Script))
		if err != nil {
			return nil, fmt.Errorf("%w: reading PAC script: %v", types.ErrConfiguration, err)
		}
		script = string(data)
	}

	if script != "" {
		if !pac.IsScriptValid(script) {
			return nil, fmt.Errorf("%w: PAC script does not define FindProxyForURL", types.ErrConfiguration)
		}
		methods := pac.NewMethods(a.resolver)
		if cfg.PacConf.Timezone != "" {
			loc, err := time.LoadLocation(cfg.PacConf.Timezone)
			if err != nil {
				return nil, fmt.Errorf("%w: timezone %q: %v", types.ErrConfiguration, cfg.PacConf.Timezone, err)
			}
			methods.Location = loc
		}
		if o.methodsClock != nil {
			methods.Now = o.methodsClock
		}
		engineOpts := []pac.EngineOption{pac.WithMethods(methods), pac.WithPrewarm(cfg.PacConf.PoolSize)}
		if cfg.PacConf.FreshRuntime {
			engineOpts = append(engineOpts, pac.WithFreshRuntime())
		}
		engine, err := pac.NewEngine(script, engineOpts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
		}
		a.pac = engine
		return selector.NewPAC(engine)
	}

	if strings.TrimSpace(cfg.SelectorConf.Proxy) != "" {
		return selector.FixedFromResult(cfg.SelectorConf.Proxy)
	}
	return selector.NewNoProxy(), nil
}

func newResolver(cfg types.ResolverConf) (resolver.Resolver, error) {
	local := resolver.WithLocalOverride(cfg.LocalIP, cfg.LocalIPv6)
	if cfg.Nameserver == "" {
		return resolver.NewSystem(local), nil
	}
	d, err := resolver.NewDNS(cfg.Nameserver, cfg.CacheSizeKB, local)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	return d, nil
}

// subscribe registers the hot-reloadable selectors and applies modules
// that already carry values. Empty modules leave the ini lists in place.
func (a *App) subscribe(runtime *settings.RuntimeSettings) error {
	a.settingsManager.Register(settings.ModuleBypass, a.bypass)
	a.settingsManager.Register(settings.ModuleProtocols, a.dispatch)
	a.settingsManager.Register(settings.ModuleWhitelist, a.whitelist)

	if len(runtime.Bypass.Rules) > 0 {
		if err := a.bypass.OnSettingsUpdate(settings.ModuleBypass, runtime.Bypass); err != nil {
			return err
		}
	}
	if len(runtime.Whitelist.Rules) > 0 {
		if err := a.whitelist.OnSettingsUpdate(settings.ModuleWhitelist, runtime.Whitelist); err != nil {
			return err
		}
	}
	if len(runtime.Protocols.Proxies) > 0 {
		if err := a.dispatch.OnSettingsUpdate(settings.ModuleProtocols, runtime.Protocols); err != nil {
			return err
		}
	}
	return nil
}

func resolvePath(baseDir, name string) string {
	if baseDir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(baseDir, name)
}

// Select runs the chain for u.
func (a *App) Select(u *url.URL) (types.Decision, error) {
	return a.chain.Select(u)
}

// ConnectFailed reports a failed connection attempt to the chain.
func (a *App) ConnectFailed(u *url.URL, address string, cause error) {
	if u == nil {
		return
	}
	a.chain.ConnectFailed(u, address, cause)
}

// Flush empties the decision cache, if there is one.
func (a *App) Flush() {
	if a.cache != nil {
		a.cache.Flush()
	}
}

// SetEnabled switches the whole chain between normal operation and DIRECT.
func (a *App) SetEnabled(enabled bool) { a.chain.SetEnabled(enabled) }

// UpdateSettings replaces one runtime settings module (e.g. "bypass") and
// applies it before returning. Applying flushes the cache so that stale
// decisions are not served.
func (a *App) UpdateSettings(moduleKey string, data json.RawMessage) error {
	if err := a.settingsManager.UpdateSync(moduleKey, data); err != nil {
		return err
	}
	a.Flush()
	return nil
}

func (a *App) Chain() *selector.Chain { return a.chain }
func (a *App) Cache() *selector.Cache { return a.cache }
func (a *App) Fallback() *selector.Fallback { return a.fallback }
func (a *App) Dispatch() *selector.ProtocolDispatch { return a.dispatch }
func (a *App) Settings() *settings.SettingsManager { return a.settingsManager }
func (a *App) Resolver() resolver.Resolver { return a.resolver }
func (a *App) Config() *types.Config { return a.cfg }
