// Package config layers ptrscan settings: built-in defaults, an optional
// YAML file, PTRSCAN_* environment variables and finally command-line
// flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var ErrConfig = errors.New("invalid configuration")

const envPrefix = "PTRSCAN"

// Config is the resolved view of every tunable.
type Config struct {
	Snapshot SnapshotConfig
	Index    IndexConfig
	Search   SearchConfig
}

type SnapshotConfig struct {
	MaxRegionSize uint64
	Workers       int
	PointerSize   int
}

type IndexConfig struct {
	Alignment  int
	MaxEntries int64
	Compress   bool
}

type SearchConfig struct {
	MaxDepth   int
	MaxOffset  int64
	Threads    int
	NodeBudget int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("snapshot.max_region_size", "100MB")
	v.SetDefault("snapshot.workers", 8)
	v.SetDefault("snapshot.pointer_size", 8)

	// zero alignment means "use the pointer width"
	v.SetDefault("index.alignment", 0)
	v.SetDefault("index.max_entries", 0)
	v.SetDefault("index.compress", true)

	v.SetDefault("search.max_depth", 5)
	v.SetDefault("search.max_offset", 0x1000)
	v.SetDefault("search.threads", runtime.NumCPU())
	v.SetDefault("search.node_budget", 1_000_000)
}

// New returns a viper instance holding the defaults with environment
// overrides enabled.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile merges a YAML config file into v. An empty path looks for
// $HOME/.ptrscan/config.yml and is not an error when that file is absent.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(home, ".ptrscan", "config.yml")
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfig, path, err)
	}
	return nil
}

// BindFlags binds config keys to the named flags of fs. Flags missing from
// fs are skipped so each command binds only what it declares.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet, bindings map[string]string) error {
	for key, name := range bindings {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("%w: bind %s: %w", ErrConfig, key, err)
		}
	}
	return nil
}

// Load resolves v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	maxRegion, err := humanize.ParseBytes(v.GetString("snapshot.max_region_size"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: snapshot.max_region_size: %w", ErrConfig, err)
	}

	cfg := Config{
		Snapshot: SnapshotConfig{
			MaxRegionSize: maxRegion,
			Workers:       v.GetInt("snapshot.workers"),
			PointerSize:   v.GetInt("snapshot.pointer_size"),
		},
		Index: IndexConfig{
			Alignment:  v.GetInt("index.alignment"),
			MaxEntries: v.GetInt64("index.max_entries"),
			Compress:   v.GetBool("index.compress"),
		},
		Search: SearchConfig{
			MaxDepth:   v.GetInt("search.max_depth"),
			MaxOffset:  v.GetInt64("search.max_offset"),
			Threads:    v.GetInt("search.threads"),
			NodeBudget: v.GetInt("search.node_budget"),
		},
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch {
	case c.Snapshot.PointerSize != 4 && c.Snapshot.PointerSize != 8:
		return fmt.Errorf("%w: snapshot.pointer_size must be 4 or 8, got %d", ErrConfig, c.Snapshot.PointerSize)
	case c.Snapshot.Workers <= 0:
		return fmt.Errorf("%w: snapshot.workers must be positive", ErrConfig)
	case c.Index.Alignment < 0:
		return fmt.Errorf("%w: index.alignment must not be negative", ErrConfig)
	case c.Index.MaxEntries < 0:
		return fmt.Errorf("%w: index.max_entries must not be negative", ErrConfig)
	}
	return nil
}
