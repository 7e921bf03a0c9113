package settings

// Module keys of settings.json.
const (
	ModuleBypass    = "bypass"
	ModuleWhitelist = "whitelist"
	ModuleProtocols = "protocols"
)

// ConfigurableModule is implemented by components whose configuration can
// change at runtime. SettingsManager calls OnSettingsUpdate after a module
// of settings.json was replaced.
type ConfigurableModule interface {
	// moduleKey names the changed module (e.g. "bypass"); newSettings is its
	// parsed struct pointer (e.g. *RuleListSettings).
	OnSettingsUpdate(moduleKey string, newSettings interface{}) error
}

// RuntimeSettings is the top-level structure of settings.json. Modules are
// pointers so that a module missing from the file stays nil until
// ensureDefaultModules fills it.
type RuntimeSettings struct {
	Bypass    *RuleListSettings `json:"bypass"`
	Whitelist *RuleListSettings `json:"whitelist"`
	Protocols *ProtocolSettings `json:"protocols"`
}

// RuleListSettings holds a rule list in filter syntax, one rule per entry,
// e.g. ["*.corp.example", "10.0.0.0/8", "https://intranet*"].
type RuleListSettings struct {
	Rules []string `json:"rules"`
}

// ProtocolSettings maps a URI scheme to a proxy in PAC result syntax, e.g.
// {"ftp": "SOCKS ftp-gw:1080"}. An empty value removes the scheme.
type ProtocolSettings struct {
	Proxies map[string]string `json:"proxies"`
}

func createDefaultSettings() *RuntimeSettings {
	return &RuntimeSettings{
		Bypass:    &RuleListSettings{Rules: []string{}},
		Whitelist: &RuleListSettings{Rules: []string{}},
		Protocols: &ProtocolSettings{Proxies: map[string]string{}},
	}
}

func ensureDefaultModules(s *RuntimeSettings) {
	if s.Bypass == nil {
		s.Bypass = &RuleListSettings{Rules: []string{}}
	}
	if s.Whitelist == nil {
		s.Whitelist = &RuleListSettings{Rules: []string{}}
	}
	if s.Protocols == nil {
		s.Protocols = &ProtocolSettings{Proxies: map[string]string{}}
	}
}
