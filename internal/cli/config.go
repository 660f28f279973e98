package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/mesh-intelligence/concord/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"

	envPrefix = "CONCORD"
)

// Config keys.
const (
	cfgKeyBackend         = "backend"
	cfgKeySyncStrategy    = "sync_strategy"
	cfgKeyLogLevel        = "log_level"
	cfgKeyAllowIncomplete = "curation.allow_incomplete_merge"
	cfgKeyLinkMode        = "curation.link_mode"
	cfgKeyFinishedOnly    = "curation.finished_only"
	cfgKeyWorkers         = "curation.workers"
	cfgKeyLockBackend     = "lock.backend"
	cfgKeyRedisAddr       = "lock.redis_addr"
	cfgKeyLockTTL         = "lock.ttl"
)

// envKeys may be overridden from CONCORD_* variables. The data directory is
// left out: CONCORD_DATA_DIR ranks below config.yaml and is applied by
// paths.ResolveDataDir.
var envKeys = []string{
	cfgKeySyncStrategy,
	cfgKeyLogLevel,
	cfgKeyAllowIncomplete,
	cfgKeyLinkMode,
	cfgKeyFinishedOnly,
	cfgKeyWorkers,
	cfgKeyLockBackend,
	cfgKeyRedisAddr,
	cfgKeyLockTTL,
}

// loadConfig reads config.yaml from configDir using Viper. A missing
// config.yaml is not an error; the defaults apply.
func loadConfig(configDir string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetDefault(cfgKeySyncStrategy, types.SyncImmediate)
	v.SetDefault(cfgKeyLinkMode, string(types.LinkTargetIdentity))
	v.SetDefault(cfgKeyLockBackend, types.LockMemory)
	v.SetDefault(cfgKeyLockTTL, types.DefaultLockTTL)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// decodeConfig converts the loaded settings into a types.Config.
func decodeConfig(v *viper.Viper) (types.Config, error) {
	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
