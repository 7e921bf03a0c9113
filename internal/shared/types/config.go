package types

// LogConf contains logging specific configuration
type LogConf struct {
	Level      string `ini:"level"`
	File       string `ini:"file"`        // rotate into this file instead of stderr
	MaxSizeMB  int    `ini:"max_size_mb"` // lumberjack rotation threshold
	MaxBackups int    `ini:"max_backups"`
}

// SelectorConf picks the innermost selector and the static rule lists
// wrapped around it.
type SelectorConf struct {
	Enabled    bool   `ini:"enabled"`
	Proxy      string `ini:"proxy"`       // fixed proxy in PAC syntax, e.g. "PROXY host:3128"
	BypassList string `ini:"bypass_list"` // comma/space separated rule list answered DIRECT
	Whitelist  string `ini:"whitelist"`   // only matching URIs reach the inner selector
	Settings   string `ini:"settings"`    // runtime settings JSON for hot-reloaded rule lists
}

// PacConf configures PAC evaluation.
type PacConf struct {
	Script       string `ini:"script"` // path to the PAC file
	Timezone     string `ini:"timezone"`
	PoolSize     int    `ini:"pool_size"`
	FreshRuntime bool   `ini:"fresh_runtime"` // new VM per call; globals do not persist
}

// CacheConf configures the decision cache. MaxSize 0 disables caching.
type CacheConf struct {
	MaxSize int    `ini:"max_size"`
	TTLMs   int64  `ini:"ttl_ms"`
	Scope   string `ini:"scope"` // host, host_port or url
}

// FallbackConf configures failure-aware retry. Disabled when RetryAfterMs < 0.
type FallbackConf struct {
	RetryAfterMs int64 `ini:"retry_after_ms"`
}

// ResolverConf selects the Address Resolver implementation.
type ResolverConf struct {
	Nameserver  string `ini:"nameserver"` // host:port; empty uses the system resolver
	CacheSizeKB int    `ini:"cache_size_kb"`
	LocalIP     string `ini:"local_ip"` // overrides myIpAddress()
	LocalIPv6   string `ini:"local_ipv6"`
}

// Config is the unified behaviour configuration loaded from pacvole.ini.
type Config struct {
	LogConf      `ini:"log"`
	SelectorConf `ini:"selector"`
	PacConf      `ini:"pac"`
	CacheConf    `ini:"cache"`
	FallbackConf `ini:"fallback"`
	ResolverConf `ini:"resolver"`

	// Protocols maps a URI scheme to a fixed proxy in PAC syntax. It is
	// read from the [protocols] section by config.LoadIni.
	Protocols map[string]string `ini:"-"`
}

// DefaultConfig returns the values used for keys absent from the ini file.
func DefaultConfig() *Config {
	return &Config{
		LogConf:      LogConf{Level: "info", MaxSizeMB: 10, MaxBackups: 3},
		SelectorConf: SelectorConf{Enabled: true},
		PacConf:      PacConf{PoolSize: 4},
		CacheConf:    CacheConf{MaxSize: 1000, TTLMs: 15 * 60 * 1000, Scope: "host_port"},
		FallbackConf: FallbackConf{RetryAfterMs: 10 * 60 * 1000},
		ResolverConf: ResolverConf{CacheSizeKB: 512},
		Protocols:    map[string]string{},
	}
}
