// Package paths resolves where concord keeps its configuration and data.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// CWD-relative directory names. A project that carries a .concord directory
// keeps its configuration next to its data.
const (
	DefaultConfigDirName = ".concord"
	DefaultDataDirName   = ".concord-db"
)

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "CONCORD_CONFIG_DIR"
	EnvDataDir   = "CONCORD_DATA_DIR"
)

// File names inside the resolved directories.
const (
	ConfigFileName = "config.yaml"
	LayersFileName = "layers.yaml"
)

const appName = "concord"

// platform holds platform lookups that tests override.
var platform = struct {
	goos          string
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
	getwd         func() (string, error)
}{
	goos:          runtime.GOOS,
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
	getwd:         os.Getwd,
}

// Dirs is a resolved pair of configuration and data directories. Both are
// absolute.
type Dirs struct {
	Config string
	Data   string
}

// ConfigFile returns the path of config.yaml.
func (d Dirs) ConfigFile() string {
	return filepath.Join(d.Config, ConfigFileName)
}

// LayersFile returns the path of the layer schema file.
func (d Dirs) LayersFile() string {
	return filepath.Join(d.Data, LayersFileName)
}

// DefaultConfigDir returns the per-user configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/concord (fallback ~/.config/concord)
// macOS:   ~/Library/Application Support/concord
// Windows: %APPDATA%/concord
func DefaultConfigDir() (string, error) {
	if platform.goos == "linux" {
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := platform.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", appName), nil
	}
	dir, err := platform.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

// ResolveConfigDir returns the configuration directory, in order of
// precedence: flag, CONCORD_CONFIG_DIR, $(CWD)/.concord when it exists,
// then DefaultConfigDir.
func ResolveConfigDir(flag string) (string, error) {
	if dir := first(flag, os.Getenv(EnvConfigDir)); dir != "" {
		return filepath.Abs(dir)
	}
	cwd, err := platform.getwd()
	if err != nil {
		return "", err
	}
	local := filepath.Join(cwd, DefaultConfigDirName)
	if info, err := os.Stat(local); err == nil && info.IsDir() {
		return local, nil
	}
	return DefaultConfigDir()
}

// ResolveDataDir returns the data directory, in order of precedence: flag,
// the data_dir value of config.yaml, CONCORD_DATA_DIR, then
// $(CWD)/.concord-db. The data directory follows the working directory by
// default so each corpus keeps its own curation state.
func ResolveDataDir(flag, configValue string) (string, error) {
	if dir := first(flag, configValue, os.Getenv(EnvDataDir)); dir != "" {
		return filepath.Abs(dir)
	}
	cwd, err := platform.getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, DefaultDataDirName), nil
}

// Resolve resolves both directories. configValue is the data_dir setting
// read from the resolved configuration directory.
func Resolve(configFlag, dataFlag string, configValue func(configDir string) (string, error)) (Dirs, error) {
	cfgDir, err := ResolveConfigDir(configFlag)
	if err != nil {
		return Dirs{}, err
	}
	var value string
	if configValue != nil {
		if value, err = configValue(cfgDir); err != nil {
			return Dirs{}, err
		}
	}
	dataDir, err := ResolveDataDir(dataFlag, value)
	if err != nil {
		return Dirs{}, err
	}
	return Dirs{Config: cfgDir, Data: dataDir}, nil
}

// first returns the first non-empty value.
func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
