package types

import (
	"errors"
	"time"
)

// Config holds backend selection and curation parameters.
type Config struct {
	Backend      string         `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir      string         `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	SyncStrategy string         `json:"sync_strategy,omitempty" yaml:"sync_strategy,omitempty" mapstructure:"sync_strategy"`
	LogLevel     string         `json:"log_level,omitempty" yaml:"log_level,omitempty" mapstructure:"log_level"`
	Curation     CurationConfig `json:"curation" yaml:"curation" mapstructure:"curation"`
	Lock         LockConfig     `json:"lock" yaml:"lock" mapstructure:"lock"`
}

// CurationConfig tunes diff and merge behavior.
type CurationConfig struct {
	// AllowIncompleteMerge lets agreeing positions merge automatically even
	// when some roster owners did not annotate them.
	AllowIncompleteMerge bool `json:"allow_incomplete_merge" yaml:"allow_incomplete_merge" mapstructure:"allow_incomplete_merge"`
	// LinkMode is the default comparison mode for link features.
	LinkMode LinkMode `json:"link_mode,omitempty" yaml:"link_mode,omitempty" mapstructure:"link_mode"`
	// FinishedOnly restricts the roster to owners who finished the document.
	FinishedOnly bool `json:"finished_only" yaml:"finished_only" mapstructure:"finished_only"`
	// Workers bounds concurrent per-segment diffs. Zero means one per CPU.
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty" mapstructure:"workers"`
}

// LockConfig selects the merged-set lock implementation.
type LockConfig struct {
	Backend   string        `json:"backend,omitempty" yaml:"backend,omitempty" mapstructure:"backend"`
	RedisAddr string        `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty" mapstructure:"redis_addr"`
	TTL       time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty" mapstructure:"ttl"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
)

// Sync strategies for JSONL persistence.
const (
	SyncImmediate = "immediate"
	SyncOnClose   = "on_close"
)

// Lock backends.
const (
	LockMemory = "memory"
	LockRedis  = "redis"
)

// DefaultLockTTL bounds how long a merge may hold a document lock.
const DefaultLockTTL = 30 * time.Second

// Config validation errors.
var (
	ErrBackendEmpty        = errors.New("backend must not be empty")
	ErrBackendUnknown      = errors.New("unknown backend")
	ErrSyncStrategyUnknown = errors.New("unknown sync strategy")
	ErrLinkModeUnknown     = errors.New("unknown link mode")
	ErrLockBackendUnknown  = errors.New("unknown lock backend")
	ErrRedisAddrEmpty      = errors.New("redis lock requires redis_addr")
	ErrWorkersInvalid      = errors.New("workers must not be negative")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	switch c.SyncStrategy {
	case "", SyncImmediate, SyncOnClose:
	default:
		return ErrSyncStrategyUnknown
	}
	if !IsValidLinkMode(c.Curation.LinkMode) {
		return ErrLinkModeUnknown
	}
	if c.Curation.Workers < 0 {
		return ErrWorkersInvalid
	}
	switch c.Lock.Backend {
	case "", LockMemory:
	case LockRedis:
		if c.Lock.RedisAddr == "" {
			return ErrRedisAddrEmpty
		}
	default:
		return ErrLockBackendUnknown
	}
	return nil
}

// EffectiveLinkMode returns the configured link mode, defaulting to
// LinkTargetIdentity.
func (c CurationConfig) EffectiveLinkMode() LinkMode {
	if c.LinkMode == "" {
		return LinkTargetIdentity
	}
	return c.LinkMode
}

// EffectiveTTL returns the configured lock TTL, defaulting to DefaultLockTTL.
func (c LockConfig) EffectiveTTL() time.Duration {
	if c.TTL <= 0 {
		return DefaultLockTTL
	}
	return c.TTL
}
