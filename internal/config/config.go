// Package config loads the relay's YAML configuration and collects mapping
// entries from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MappingEnvPrefix is the prefix of numbered environment keys carrying
// mapping entries: THREAD_MAPPING_1, THREAD_MAPPING_2, ...
const MappingEnvPrefix = "THREAD_MAPPING_"

// Config is the root configuration for the relay.
type Config struct {
	General  GeneralConfig  `yaml:"general"`
	Discord  DiscordConfig  `yaml:"discord"`
	Mappings []string       `yaml:"mappings"` // sourceThreadId:destChannelId[:endpoint][:all]
	Backfill BackfillConfig `yaml:"backfill"`
	Journal  JournalConfig  `yaml:"journal"`
}

type GeneralConfig struct {
	LogLevel    string `yaml:"logLevel"`              // debug | info | warn | error
	MetricsAddr string `yaml:"metricsAddr,omitempty"` // e.g. ":9120"; empty disables metrics
}

type DiscordConfig struct {
	Token string `yaml:"token"`
}

type BackfillConfig struct {
	PostDelayMs int  `yaml:"postDelayMs"` // pause between backfill posts
	PageSize    int  `yaml:"pageSize"`    // history page size, max 100
	AutoStart   bool `yaml:"autoStart"`   // run backfill at startup for rules flagged "all"
}

// PostDelay returns the pacing delay as a duration.
func (b BackfillConfig) PostDelay() time.Duration {
	return time.Duration(b.PostDelayMs) * time.Millisecond
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"dbPath"`
}

// Defaults returns the configuration used when no file is supplied.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Backfill: BackfillConfig{
			PostDelayMs: 500,
			PageSize:    100,
		},
		Journal: JournalConfig{
			Enabled: true,
			DBPath:  "~/.threadrelay/journal.db",
		},
	}
}

// DefaultConfigPath returns the default config file location
// (~/.threadrelay/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".threadrelay/config.yaml"
	}
	return filepath.Join(home, ".threadrelay", "config.yaml")
}

// Load reads and validates the config file at path. Environment variables in
// the file are expanded before decoding, so credentials can be referenced as
// ${DISCORD_TOKEN} instead of written in place.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Journal.DBPath = ExpandPath(cfg.Journal.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that the config has usable values. The Discord token is
// deliberately not checked here: `threadrelay validate` must work without
// credentials, and main fails on a missing token at startup instead.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.Backfill.PageSize < 1 || cfg.Backfill.PageSize > 100 {
		errs = append(errs, "backfill.pageSize must be between 1 and 100")
	}
	if cfg.Backfill.PostDelayMs < 0 {
		errs = append(errs, "backfill.postDelayMs must be >= 0")
	}
	if cfg.Journal.Enabled && cfg.Journal.DBPath == "" {
		errs = append(errs, "journal.dbPath is required when the journal is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// EnvMappings collects mapping entries from numbered THREAD_MAPPING_<n>
// environment keys, ordered by n so last-write-wins behaves deterministically.
// environ takes the os.Environ() format ("KEY=value").
func EnvMappings(environ []string) []string {
	type numbered struct {
		n     int
		entry string
	}
	var found []numbered
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, MappingEnvPrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(key, MappingEnvPrefix))
		if err != nil {
			continue
		}
		found = append(found, numbered{n: n, entry: value})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	out := make([]string, 0, len(found))
	for _, f := range found {
		out = append(out, f.entry)
	}
	return out
}

// envVarPattern matches ${VAR} and ${VAR:-default} in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := groups[2]
		// The capture group is empty both for ${VAR} and ${VAR:-}; only the
		// ":-" marker tells an absent default from an explicitly empty one.
		hasDefault := strings.Contains(match, ":-")

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
