package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// SettingsManager owns the runtime settings (settings.json). Reads are
// lock-free through an atomic pointer; updates are persisted and then
// published to the modules registered for the changed key.
type SettingsManager struct {
	filePath    string
	settings    atomic.Value // *RuntimeSettings
	subscribers map[string][]ConfigurableModule
	mu          sync.RWMutex // guards subscribers and file writes
}

// NewSettingsManager loads filePath, creating it with defaults when it does
// not exist. An empty filePath keeps the settings in memory only.
func NewSettingsManager(filePath string) (*SettingsManager, error) {
	sm := &SettingsManager{
		filePath:    filePath,
		subscribers: make(map[string][]ConfigurableModule),
	}

	if filePath == "" {
		sm.settings.Store(createDefaultSettings())
		return sm, nil
	}

	if err := sm.load(); err != nil {
		return nil, fmt.Errorf("failed to load initial settings: %w", err)
	}

	return sm, nil
}

func (sm *SettingsManager) load() error {
	data, err := os.ReadFile(sm.filePath)
	settings := &RuntimeSettings{}

	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read settings file: %w", err)
		}
		log.Warn().Str("path", sm.filePath).Msg("settings.json not found, creating with default values.")
		settings = createDefaultSettings()
		if err := sm.persist(settings); err != nil {
			return fmt.Errorf("failed to write default settings file: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, settings); err != nil {
			return fmt.Errorf("failed to parse settings.json: %w", err)
		}
		ensureDefaultModules(settings)
	}

	sm.settings.Store(settings)
	return nil
}

// Register subscribes module to changes of moduleKey.
func (sm *SettingsManager) Register(moduleKey string, module ConfigurableModule) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.subscribers[moduleKey] = append(sm.subscribers[moduleKey], module)
}

// Get returns the current settings snapshot. Callers must not modify it.
func (sm *SettingsManager) Get() *RuntimeSettings {
	return sm.settings.Load().(*RuntimeSettings)
}

// Update decodes newSettingsData into a copy of one module, persists the
// result, swaps it in and notifies the module's subscribers asynchronously.
func (sm *SettingsManager) Update(moduleKey string, newSettingsData json.RawMessage) error {
	targetModule, err := sm.apply(moduleKey, newSettingsData)
	if err != nil {
		return err
	}
	go sm.notify(moduleKey, targetModule)
	return nil
}

// UpdateSync is Update with subscribers notified before it returns. The
// first subscriber error is returned; the new settings stay in place.
func (sm *SettingsManager) UpdateSync(moduleKey string, newSettingsData json.RawMessage) error {
	targetModule, err := sm.apply(moduleKey, newSettingsData)
	if err != nil {
		return err
	}
	return sm.notify(moduleKey, targetModule)
}

func (sm *SettingsManager) apply(moduleKey string, data json.RawMessage) (interface{}, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	newSettings := deepCopy(sm.Get())
	targetModule := getModuleByKey(newSettings, moduleKey)
	if targetModule == nil {
		return nil, fmt.Errorf("unknown settings module: %s", moduleKey)
	}
	if err := json.Unmarshal(data, targetModule); err != nil {
		return nil, fmt.Errorf("failed to parse JSON for module %s: %w", moduleKey, err)
	}

	if sm.filePath != "" {
		if err := sm.persist(newSettings); err != nil {
			return nil, fmt.Errorf("failed to save updated settings to disk: %w", err)
		}
	}

	sm.settings.Store(newSettings)
	log.Info().Str("module", moduleKey).Msg("Runtime settings updated.")
	return targetModule, nil
}

func (sm *SettingsManager) persist(settings *RuntimeSettings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(sm.filePath, data, 0644)
}

func (sm *SettingsManager) notify(moduleKey string, newSettings interface{}) error {
	sm.mu.RLock()
	subscribers := append([]ConfigurableModule(nil), sm.subscribers[moduleKey]...)
	sm.mu.RUnlock()

	if len(subscribers) == 0 {
		return nil
	}
	log.Debug().Str("module", moduleKey).Int("subscribers", len(subscribers)).Msg("Notifying subscribers of settings update.")
	var first error
	for _, sub := range subscribers {
		if err := sub.OnSettingsUpdate(moduleKey, newSettings); err != nil {
			log.Error().Err(err).Str("module", moduleKey).Msg("Error notifying subscriber.")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func deepCopy(s *RuntimeSettings) *RuntimeSettings {
	newS := *s
	if s.Bypass != nil {
		c := RuleListSettings{Rules: append([]string(nil), s.Bypass.Rules...)}
		newS.Bypass = &c
	}
	if s.Whitelist != nil {
		c := RuleListSettings{Rules: append([]string(nil), s.Whitelist.Rules...)}
		newS.Whitelist = &c
	}
	if s.Protocols != nil {
		c := ProtocolSettings{Proxies: make(map[string]string, len(s.Protocols.Proxies))}
		for k, v := range s.Protocols.Proxies {
			c.Proxies[k] = v
		}
		newS.Protocols = &c
	}
	return &newS
}

func getModuleByKey(s *RuntimeSettings, key string) interface{} {
	switch key {
	case ModuleBypass:
		return s.Bypass
	case ModuleWhitelist:
		return s.Whitelist
	case ModuleProtocols:
		return s.Protocols
	default:
		return nil
	}
}

// Module returns the current settings of one module, or nil for an unknown
// key.
func (sm *SettingsManager) Module(key string) interface{} {
	return getModuleByKey(sm.Get(), key)
}
