package mobile

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	pacvole "github.com/loolooyyyy/pac-vole"
	"github.com/loolooyyyy/pac-vole/internal/shared/config"
	"github.com/loolooyyyy/pac-vole/internal/shared/logger"
	"github.com/loolooyyyy/pac-vole/internal/shared/types"
)

var (
	// The single selector serving the mobile client.
	activeSelector *pacvole.Selector
	instanceMutex  sync.Mutex
)

var errNotRunning = errors.New("selector is not running")

// Start builds the selector from in-memory configuration.
// iniContent: the content of a pacvole.ini file.
// pacScript: PAC script text; empty uses the [selector] proxy or DIRECT.
// It returns the selector id used in log output.
func Start(iniContent, pacScript string) (id string, err error) {
	// Panics must not cross the binding boundary.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("go core panic: %v\n\n%s", r, debug.Stack())
			id = ""
		}
	}()

	instanceMutex.Lock()
	defer instanceMutex.Unlock()

	if activeSelector != nil {
		return "", fmt.Errorf("selector is already running")
	}

	cfg := types.DefaultConfig()
	if err := config.LoadIniData(cfg, []byte(iniContent)); err != nil {
		return "", fmt.Errorf("failed to parse ini content: %w", err)
	}
	if err := logger.Init(cfg.LogConf); err != nil {
		return "", fmt.Errorf("failed to initialize logger: %w", err)
	}

	s, err := pacvole.New(pacvole.Options{Ini: []byte(iniContent), PACScript: pacScript})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build selector for mobile")
		return "", err
	}
	activeSelector = s
	logger.Debug().Str("id", s.ID()).Msg("Selector started (in-memory).")
	return s.ID(), nil
}

// Stop discards the running selector.
func Stop() {
	instanceMutex.Lock()
	defer instanceMutex.Unlock()

	if activeSelector != nil {
		logger.Debug().Str("id", activeSelector.ID()).Msg("Stopping selector...")
		activeSelector = nil
	}
}

func current() *pacvole.Selector {
	instanceMutex.Lock()
	defer instanceMutex.Unlock()
	return activeSelector
}

// SelectProxy returns the decision for rawURL in PAC result syntax, e.g.
// "PROXY a:3128; DIRECT". Without a running selector it answers DIRECT.
func SelectProxy(rawURL string) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("go core panic in SelectProxy: %v", r)
			result = "DIRECT"
		}
	}()

	s := current()
	if s == nil {
		return "DIRECT", errNotRunning
	}
	d, err := s.Select(rawURL)
	if err != nil {
		return "DIRECT", err
	}
	return d.String(), nil
}

// ReportFailure tells the selector that connecting through address
// (host:port) for rawURL failed.
func ReportFailure(rawURL, address, reason string) {
	s := current()
	if s == nil {
		return
	}
	var cause error
	if reason != "" {
		cause = errors.New(reason)
	}
	s.ConnectFailed(rawURL, address, cause)
}

// FlushCache drops all cached decisions.
func FlushCache() {
	if s := current(); s != nil {
		s.Flush()
	}
}

// UpdateSettings replaces one runtime settings module with settingsJson.
func UpdateSettings(module, settingsJson string) error {
	s := current()
	if s == nil {
		return errNotRunning
	}
	return s.UpdateSettings(module, []byte(settingsJson))
}
