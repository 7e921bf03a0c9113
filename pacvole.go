// Package pacvole decides, per request URI, which proxies a client should
// try. Decisions come from a chain of selectors: a PAC script or fixed
// proxy, bypass and whitelist rules, per-scheme overrides, failure-aware
// retry and a result cache. Nothing here opens a connection.
package pacvole

import (
	"fmt"
	"net/url"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/loolooyyyy/pac-vole/internal/app"
	"github.com/loolooyyyy/pac-vole/internal/core/pac"
	"github.com/loolooyyyy/pac-vole/internal/core/selector"
	"github.com/loolooyyyy/pac-vole/internal/shared/config"
	"github.com/loolooyyyy/pac-vole/internal/shared/types"
)

type (
	Proxy     = types.Proxy
	ProxyType = types.ProxyType
	Decision  = types.Decision
)

const (
	ProxyDirect = types.ProxyDirect
	ProxyHTTP   = types.ProxyHTTP
	ProxySOCKS  = types.ProxySOCKS
)

var (
	// ErrConfiguration wraps every error caused by invalid options.
	ErrConfiguration = types.ErrConfiguration
	// ErrNilURI is returned for a missing URI.
	ErrNilURI = selector.ErrNilURI
)

// Options configures New. A config file (or ini content) is applied first;
// non-zero fields below override it.
type Options struct {
	// ConfigFile is a pacvole.ini. Relative file names inside it resolve
	// against its directory.
	ConfigFile string
	// Ini is ini content used when ConfigFile is empty.
	Ini []byte

	// PACScript is the script text. It takes precedence over Proxy.
	PACScript string
	// Proxy is a fixed answer in PAC result syntax, e.g. "PROXY host:3128".
	Proxy      string
	BypassList string
	Whitelist  string
	// Protocols maps URI schemes to fixed answers in PAC result syntax.
	Protocols map[string]string

	// CacheSize bounds the decision cache; negative disables it.
	CacheSize int
	CacheTTL  time.Duration
	// RetryAfter is how long a failed proxy is skipped; negative disables
	// failure tracking.
	RetryAfter time.Duration

	Nameserver string
	LocalIP    string
	Timezone   string
}

// Selector is a ready-to-use decision chain. It is safe for concurrent use.
type Selector struct {
	app *app.App
}

// New builds a Selector from opts.
func New(opts Options) (*Selector, error) {
	cfg, baseDir, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	applyOptions(cfg, opts)

	var buildOpts []app.Option
	if baseDir != "" {
		buildOpts = append(buildOpts, app.WithBaseDir(baseDir))
	}
	if opts.PACScript != "" {
		buildOpts = append(buildOpts, app.WithScript(opts.PACScript))
	}
	a, err := app.Build(cfg, buildOpts...)
	if err != nil {
		return nil, err
	}
	return &Selector{app: a}, nil
}

func loadConfig(opts Options) (*types.Config, string, error) {
	cfg := types.DefaultConfig()
	switch {
	case opts.ConfigFile != "":
		if err := config.LoadIni(cfg, opts.ConfigFile); err != nil {
			return nil, "", err
		}
		return cfg, filepath.Dir(opts.ConfigFile), nil
	case len(opts.Ini) > 0:
		if err := config.LoadIniData(cfg, opts.Ini); err != nil {
			return nil, "", err
		}
	}
	return cfg, "", nil
}

func applyOptions(cfg *types.Config, opts Options) {
	setString(&cfg.SelectorConf.Proxy, opts.Proxy)
	setString(&cfg.SelectorConf.BypassList, opts.BypassList)
	setString(&cfg.SelectorConf.Whitelist, opts.Whitelist)
	setString(&cfg.ResolverConf.Nameserver, opts.Nameserver)
	setString(&cfg.ResolverConf.LocalIP, opts.LocalIP)
	setString(&cfg.PacConf.Timezone, opts.Timezone)
	for scheme, spec := range opts.Protocols {
		cfg.Protocols[scheme] = spec
	}

	switch {
	case opts.CacheSize < 0:
		cfg.CacheConf.MaxSize = 0
	case opts.CacheSize > 0:
		cfg.CacheConf.MaxSize = opts.CacheSize
	}
	if opts.CacheTTL > 0 {
		cfg.CacheConf.TTLMs = opts.CacheTTL.Milliseconds()
	}
	switch {
	case opts.RetryAfter < 0:
		cfg.FallbackConf.RetryAfterMs = -1
	case opts.RetryAfter > 0:
		cfg.FallbackConf.RetryAfterMs = opts.RetryAfter.Milliseconds()
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

// Select returns the proxies to try for rawURL, in order. The result is
// never empty.
func (s *Selector) Select(rawURL string) (d Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pacvole: panic selecting %q: %v\n\n%s", rawURL, r, debug.Stack())
			d = nil
		}
	}()
	u, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return s.app.Select(u)
}

// SelectString is Select rendered in PAC result syntax. Errors render as
// "DIRECT".
func (s *Selector) SelectString(rawURL string) string {
	d, err := s.Select(rawURL)
	if err != nil {
		return types.DirectDecision().String()
	}
	return d.String()
}

// ConnectFailed reports that connecting through address (host:port) for
// rawURL failed. The proxy is skipped until its retry window has passed.
func (s *Selector) ConnectFailed(rawURL, address string, cause error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return
	}
	s.app.ConnectFailed(u, address, cause)
}

// Flush drops all cached decisions.
func (s *Selector) Flush() { s.app.Flush() }

// SetEnabled turns the selector off (everything DIRECT) or back on.
func (s *Selector) SetEnabled(enabled bool) { s.app.SetEnabled(enabled) }

// UpdateSettings replaces a runtime settings module ("bypass", "whitelist"
// or "protocols") with the given JSON.
func (s *Selector) UpdateSettings(module string, data []byte) error {
	return s.app.UpdateSettings(module, data)
}

// ID identifies this selector in log output.
func (s *Selector) ID() string { return s.app.Chain().ID() }

// Evaluate runs FindProxyForURL of script once for rawURL and returns the
// raw result, e.g. "PROXY a:3128; DIRECT".
func Evaluate(script, rawURL string) (string, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return "", err
	}
	return pac.Evaluate(script, rawURL, u.Hostname())
}

func parseURL(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, ErrNilURI
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("pacvole: invalid URL %q: %w", rawURL, err)
	}
	return u, nil
}
