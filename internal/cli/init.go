package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/concord/pkg/sqlite"
	"github.com/mesh-intelligence/concord/pkg/types"
)

// configFile holds the structure written to config.yaml.
type configFile struct {
	Backend      string               `yaml:"backend"`
	DataDir      string               `yaml:"data_dir,omitempty"`
	SyncStrategy string               `yaml:"sync_strategy"`
	Curation     types.CurationConfig `yaml:"curation"`
	Lock         lockFile             `yaml:"lock"`
}

type lockFile struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr,omitempty"`
	TTL       string `yaml:"ttl"`
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize concord storage",
		Long:  "Create the configuration and data directories, write a default config.yaml\nif none exists, then initialize the storage backend.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInit(cmd)
		},
	}
}

func (a *app) runInit(cmd *cobra.Command) error {
	if err := os.MkdirAll(a.dirs.Config, 0o755); err != nil {
		return exitError(exitSysError, fmt.Errorf("create config directory: %w", err))
	}

	if err := writeConfigIfMissing(a.dirs.ConfigFile(), a.cfg); err != nil {
		return exitError(exitSysError, fmt.Errorf("write config: %w", err))
	}

	err := a.withBackend(func(*sqlite.Backend) error { return nil })
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Concord initialized successfully")
	return nil
}

// writeConfigIfMissing creates config.yaml from cfg if the file does not
// exist. If it already exists, the function returns nil (idempotent).
func writeConfigIfMissing(path string, cfg types.Config) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	out := configFile{
		Backend:      cfg.Backend,
		DataDir:      cfg.DataDir,
		SyncStrategy: cfg.SyncStrategy,
		Curation:     cfg.Curation,
		Lock: lockFile{
			Backend:   cfg.Lock.Backend,
			RedisAddr: cfg.Lock.RedisAddr,
			TTL:       cfg.Lock.EffectiveTTL().String(),
		},
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
