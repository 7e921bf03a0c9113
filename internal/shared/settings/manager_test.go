package settings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockModule records every update it receives.
type mockModule struct {
	mu      sync.Mutex
	updates []interface{}
	err     error
}

func (m *mockModule) OnSettingsUpdate(moduleKey string, newSettings interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, newSettings)
	return m.err
}

func (m *mockModule) received() []interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]interface{}(nil), m.updates...)
}

func TestNewSettingsManager_InMemoryDefaults(t *testing.T) {
	sm, err := NewSettingsManager("")
	require.NoError(t, err)
	s := sm.Get()
	require.NotNil(t, s.Bypass)
	require.NotNil(t, s.Whitelist)
	require.NotNil(t, s.Protocols)
	assert.Empty(t, s.Bypass.Rules)
	assert.Nil(t, sm.Module("unknown"))
}

func TestNewSettingsManager_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	_, err := NewSettingsManager(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var s RuntimeSettings
	require.NoError(t, json.Unmarshal(data, &s))
	assert.NotNil(t, s.Bypass)
}

func TestNewSettingsManager_FillsMissingModules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"bypass":{"rules":["*.local"]}}`), 0644))

	sm, err := NewSettingsManager(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"*.local"}, sm.Get().Bypass.Rules)
	assert.NotNil(t, sm.Get().Whitelist)
	assert.NotNil(t, sm.Get().Protocols)
}

func TestNewSettingsManager_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0644))
	_, err := NewSettingsManager(path)
	assert.Error(t, err)
}

func TestUpdateSync_PersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	sm, err := NewSettingsManager(path)
	require.NoError(t, err)

	bypass := &mockModule{}
	other := &mockModule{}
	sm.Register(ModuleBypass, bypass)
	sm.Register(ModuleWhitelist, other)

	require.NoError(t, sm.UpdateSync(ModuleBypass, []byte(`{"rules":["*.corp","10.0.0.0/8"]}`)))

	got := bypass.received()
	require.Len(t, got, 1)
	assert.Equal(t, &RuleListSettings{Rules: []string{"*.corp", "10.0.0.0/8"}}, got[0])
	assert.Empty(t, other.received())

	reloaded, err := NewSettingsManager(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"*.corp", "10.0.0.0/8"}, reloaded.Get().Bypass.Rules)
}

func TestUpdateSync_SnapshotsAreIndependent(t *testing.T) {
	sm, err := NewSettingsManager("")
	require.NoError(t, err)
	before := sm.Get()

	require.NoError(t, sm.UpdateSync(ModuleProtocols, []byte(`{"proxies":{"ftp":"SOCKS gw:1080"}}`)))
	assert.Empty(t, before.Protocols.Proxies)
	assert.Equal(t, map[string]string{"ftp": "SOCKS gw:1080"}, sm.Get().Protocols.Proxies)
}

func TestUpdateSync_Errors(t *testing.T) {
	sm, err := NewSettingsManager("")
	require.NoError(t, err)

	assert.Error(t, sm.UpdateSync("nope", []byte(`{}`)))
	assert.Error(t, sm.UpdateSync(ModuleBypass, []byte(`{"rules":`)))

	failing := &mockModule{err: errors.New("rejected")}
	sm.Register(ModuleWhitelist, failing)
	err = sm.UpdateSync(ModuleWhitelist, []byte(`{"rules":["a*"]}`))
	assert.EqualError(t, err, "rejected")
	assert.Equal(t, []string{"a*"}, sm.Get().Whitelist.Rules)
}

func TestUpdate_NotifiesAsynchronously(t *testing.T) {
	sm, err := NewSettingsManager("")
	require.NoError(t, err)

	done := make(chan interface{}, 1)
	sm.Register(ModuleBypass, moduleFunc(func(_ string, s interface{}) error {
		done <- s
		return nil
	}))
	require.NoError(t, sm.Update(ModuleBypass, []byte(`{"rules":["x*"]}`)))
	assert.Equal(t, &RuleListSettings{Rules: []string{"x*"}}, <-done)
}

type moduleFunc func(string, interface{}) error

func (f moduleFunc) OnSettingsUpdate(moduleKey string, newSettings interface{}) error {
	return f(moduleKey, newSettings)
}
