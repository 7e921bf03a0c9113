package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/loolooyyyy/pac-vole/internal/shared/types"
)

// ProtocolsSection holds scheme = proxy pairs, e.g. "ftp = SOCKS gw:1080".
const ProtocolsSection = "protocols"

// LoadIni loads pacvole.ini into cfg. Keys missing from the file keep the
// values already in cfg.
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	return apply(cfg, iniFile)
}

// LoadIniData is LoadIni for an in-memory file.
func LoadIniData(cfg *types.Config, data []byte) error {
	iniFile, err := ini.Load(data)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	return apply(cfg, iniFile)
}

func apply(cfg *types.Config, iniFile *ini.File) error {
	if err := iniFile.MapTo(cfg); err != nil {
		return fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	if cfg.Protocols == nil {
		cfg.Protocols = make(map[string]string)
	}
	if sec, err := iniFile.GetSection(ProtocolsSection); err == nil {
		for _, key := range sec.Keys() {
			cfg.Protocols[strings.ToLower(key.Name())] = strings.TrimSpace(key.Value())
		}
	}
	overrideFromEnv(&cfg.ResolverConf.LocalIP, "PACVOLE_LOCAL_IP")
	overrideFromEnv(&cfg.ResolverConf.LocalIPv6, "PACVOLE_LOCAL_IPV6")
	overrideFromEnv(&cfg.ResolverConf.Nameserver, "PACVOLE_NAMESERVER")
	overrideFromEnvInt(&cfg.CacheConf.MaxSize, "PACVOLE_CACHE_SIZE")
	return nil
}

func overrideFromEnv(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}
