package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	fserrors "github.com/Aman-CERP/fstext/internal/errors"
)

// Backend names accepted by index.backend.
const (
	BackendBleve  = "bleve"
	BackendSQLite = "sqlite"
)

// Watch modes accepted by watch.mode.
const (
	WatchModeAuto     = "auto"
	WatchModeFSNotify = "fsnotify"
	WatchModePoll     = "poll"
)

// Overflow policies accepted by watch.overflow_policy.
const (
	OverflowBlock      = "block"
	OverflowDropOldest = "drop_oldest"
)

// Config represents the complete fstext configuration.
type Config struct {
	Version int          `yaml:"version" json:"version"`
	Watch   WatchConfig  `yaml:"watch" json:"watch"`
	Index   IndexConfig  `yaml:"index" json:"index"`
	Server  ServerConfig `yaml:"server" json:"server"`
}

// WatchConfig configures the watched tree, the filter, and the event stream.
type WatchConfig struct {
	// Dir is the watch root.
	Dir string `yaml:"dir" json:"dir"`

	// Extensions is the allow-list of file extensions, without dots.
	Extensions []string `yaml:"extensions" json:"extensions"`

	// Exclude holds doublestar globs matched against root-relative paths.
	Exclude []string `yaml:"exclude" json:"exclude"`

	Mode            string `yaml:"mode" json:"mode"`
	PollInterval    string `yaml:"poll_interval" json:"poll_interval"`
	EventBufferSize int    `yaml:"event_buffer_size" json:"event_buffer_size"`
	OverflowPolicy  string `yaml:"overflow_policy" json:"overflow_policy"`

	// DebounceIdle is the quiet period after which a path's window flushes.
	DebounceIdle string `yaml:"debounce_idle" json:"debounce_idle"`

	// DebounceMaxAge bounds how long a continuously written path can be held back.
	DebounceMaxAge string `yaml:"debounce_max_age" json:"debounce_max_age"`
}

// IndexConfig configures index storage and the apply pipeline.
type IndexConfig struct {
	// Dir is the on-disk index location. Empty means an in-memory index.
	Dir string `yaml:"dir" json:"dir"`

	Backend         string `yaml:"backend" json:"backend"`
	Workers         int    `yaml:"workers" json:"workers"`
	CommitBatchSize int    `yaml:"commit_batch_size" json:"commit_batch_size"`
	CommitInterval  string `yaml:"commit_interval" json:"commit_interval"`
	DrainTimeout    string `yaml:"drain_timeout" json:"drain_timeout"`
	MaxFileSize     int64  `yaml:"max_file_size" json:"max_file_size"`
	SearchLimit     int    `yaml:"search_limit" json:"search_limit"`
}

// ServerConfig configures the MCP server and logging.
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file" json:"log_file"`
}

// NewConfig returns a configuration populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Watch: WatchConfig{
			Dir:             ".",
			Extensions:      []string{"txt", "md"},
			Exclude:         []string{},
			Mode:            WatchModeAuto,
			PollInterval:    "2s",
			EventBufferSize: 1024,
			OverflowPolicy:  OverflowBlock,
			DebounceIdle:    "500ms",
			DebounceMaxAge:  "5s",
		},
		Index: IndexConfig{
			Backend:         BackendBleve,
			Workers:         4,
			CommitBatchSize: 10,
			CommitInterval:  "1s",
			DrainTimeout:    "10s",
			MaxFileSize:     10 * 1024 * 1024,
			SearchLimit:     10,
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/fstext/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/fstext/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fstext", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "fstext", "config.yaml")
	}
	return filepath.Join(home, ".config", "fstext", "config.yaml")
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	var parsed Config
	if err := parseYAML(configPath, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// Load loads configuration for the given watch root.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/fstext/config.yaml)
//  3. Project config (.fstext.yaml in the watch root)
//  4. Environment variables (FSTEXT_*)
//
// CLI flags are applied by the caller, followed by Validate.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()
	cfg.Watch.Dir = dir

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile merges a single explicit config file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	var parsed Config
	if err := parseYAML(path, &parsed); err != nil {
		return nil, err
	}
	cfg.mergeWith(&parsed)
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile attempts to load configuration from .fstext.yaml or .fstext.yml.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".fstext.yaml", ".fstext.yml"} {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		var parsed Config
		if err := parseYAML(path, &parsed); err != nil {
			return err
		}
		// The project file never moves the watch root.
		parsed.Watch.Dir = ""
		c.mergeWith(&parsed)
		return nil
	}
	return nil
}

func parseYAML(path string, into *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fserrors.ConfigError("failed to parse config file "+path, err)
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	w := other.Watch
	if w.Dir != "" {
		c.Watch.Dir = w.Dir
	}
	if len(w.Extensions) > 0 {
		c.Watch.Extensions = w.Extensions
	}
	if len(w.Exclude) > 0 {
		c.Watch.Exclude = append(c.Watch.Exclude, w.Exclude...)
	}
	if w.Mode != "" {
		c.Watch.Mode = w.Mode
	}
	if w.PollInterval != "" {
		c.Watch.PollInterval = w.PollInterval
	}
	if w.EventBufferSize != 0 {
		c.Watch.EventBufferSize = w.EventBufferSize
	}
	if w.OverflowPolicy != "" {
		c.Watch.OverflowPolicy = w.OverflowPolicy
	}
	if w.DebounceIdle != "" {
		c.Watch.DebounceIdle = w.DebounceIdle
	}
	if w.DebounceMaxAge != "" {
		c.Watch.DebounceMaxAge = w.DebounceMaxAge
	}

	ix := other.Index
	if ix.Dir != "" {
		c.Index.Dir = ix.Dir
	}
	if ix.Backend != "" {
		c.Index.Backend = ix.Backend
	}
	if ix.Workers != 0 {
		c.Index.Workers = ix.Workers
	}
	if ix.CommitBatchSize != 0 {
		c.Index.CommitBatchSize = ix.CommitBatchSize
	}
	if ix.CommitInterval != "" {
		c.Index.CommitInterval = ix.CommitInterval
	}
	if ix.DrainTimeout != "" {
		c.Index.DrainTimeout = ix.DrainTimeout
	}
	if ix.MaxFileSize != 0 {
		c.Index.MaxFileSize = ix.MaxFileSize
	}
	if ix.SearchLimit != 0 {
		c.Index.SearchLimit = ix.SearchLimit
	}

	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.LogFile != "" {
		c.Server.LogFile = other.Server.LogFile
	}
}

// applyEnvOverrides applies FSTEXT_* environment variables.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FSTEXT_WATCH_DIR"); v != "" {
		c.Watch.Dir = v
	}
	if v := os.Getenv("FSTEXT_INDEX_DIR"); v != "" {
		c.Index.Dir = v
	}
	if v := os.Getenv("FSTEXT_EXTENSIONS"); v != "" {
		c.Watch.Extensions = ParseExtensions(v)
	}
	if v := os.Getenv("FSTEXT_BACKEND"); v != "" {
		c.Index.Backend = v
	}
	if v := os.Getenv("FSTEXT_WATCH_MODE"); v != "" {
		c.Watch.Mode = v
	}
	if v := os.Getenv("FSTEXT_OVERFLOW_POLICY"); v != "" {
		c.Watch.OverflowPolicy = v
	}
	if v := os.Getenv("FSTEXT_DEBOUNCE"); v != "" {
		c.Watch.DebounceIdle = v
	}
	if v := os.Getenv("FSTEXT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Index.Workers = n
		}
	}
	if v := os.Getenv("FSTEXT_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// ParseExtensions splits a comma-separated extension list, trimming dots and blanks.
func ParseExtensions(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		ext := strings.TrimPrefix(strings.TrimSpace(part), ".")
		if ext != "" {
			out = append(out, strings.ToLower(ext))
		}
	}
	return out
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Watch.Dir == "" {
		return fserrors.ConfigError("watch.dir must not be empty", nil)
	}
	if len(c.Watch.Extensions) == 0 {
		return fserrors.ConfigError("watch.extensions must list at least one extension", nil)
	}

	switch strings.ToLower(c.Watch.Mode) {
	case WatchModeAuto, WatchModeFSNotify, WatchModePoll:
	default:
		return fserrors.ConfigError(fmt.Sprintf("watch.mode must be 'auto', 'fsnotify', or 'poll', got %s", c.Watch.Mode), nil)
	}

	switch strings.ToLower(c.Watch.OverflowPolicy) {
	case OverflowBlock, OverflowDropOldest:
	default:
		return fserrors.ConfigError(fmt.Sprintf("watch.overflow_policy must be 'block' or 'drop_oldest', got %s", c.Watch.OverflowPolicy), nil)
	}

	switch strings.ToLower(c.Index.Backend) {
	case BackendBleve, BackendSQLite:
	default:
		return fserrors.ConfigError(fmt.Sprintf("index.backend must be 'bleve' or 'sqlite', got %s", c.Index.Backend), nil)
	}

	if c.Watch.EventBufferSize <= 0 {
		return fserrors.ConfigError(fmt.Sprintf("watch.event_buffer_size must be positive, got %d", c.Watch.EventBufferSize), nil)
	}
	if c.Index.Workers <= 0 {
		return fserrors.ConfigError(fmt.Sprintf("index.workers must be positive, got %d", c.Index.Workers), nil)
	}
	if c.Index.CommitBatchSize <= 0 {
		return fserrors.ConfigError(fmt.Sprintf("index.commit_batch_size must be positive, got %d", c.Index.CommitBatchSize), nil)
	}
	if c.Index.MaxFileSize < 0 {
		return fserrors.ConfigError(fmt.Sprintf("index.max_file_size must be non-negative, got %d", c.Index.MaxFileSize), nil)
	}
	if c.Index.SearchLimit <= 0 {
		return fserrors.ConfigError(fmt.Sprintf("index.search_limit must be positive, got %d", c.Index.SearchLimit), nil)
	}

	durations := map[string]string{
		"watch.poll_interval":    c.Watch.PollInterval,
		"watch.debounce_idle":    c.Watch.DebounceIdle,
		"watch.debounce_max_age": c.Watch.DebounceMaxAge,
		"index.commit_interval":  c.Index.CommitInterval,
		"index.drain_timeout":    c.Index.DrainTimeout,
	}
	for key, val := range durations {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fserrors.ConfigError(fmt.Sprintf("%s must be a duration, got %q", key, val), err)
		}
		if d <= 0 {
			return fserrors.ConfigError(fmt.Sprintf("%s must be positive, got %s", key, val), nil)
		}
	}
	if c.DebounceMaxAge() < c.DebounceIdle() {
		return fserrors.ConfigError("watch.debounce_max_age must be >= watch.debounce_idle", nil)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fserrors.ConfigError(fmt.Sprintf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel), nil)
	}

	return nil
}

// PollInterval returns watch.poll_interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return parseDurationOr(c.Watch.PollInterval, 2*time.Second)
}

// DebounceIdle returns watch.debounce_idle as a duration.
func (c *Config) DebounceIdle() time.Duration {
	return parseDurationOr(c.Watch.DebounceIdle, 500*time.Millisecond)
}

// DebounceMaxAge returns watch.debounce_max_age as a duration.
func (c *Config) DebounceMaxAge() time.Duration {
	return parseDurationOr(c.Watch.DebounceMaxAge, 5*time.Second)
}

// CommitInterval returns index.commit_interval as a duration.
func (c *Config) CommitInterval() time.Duration {
	return parseDurationOr(c.Index.CommitInterval, time.Second)
}

// DrainTimeout returns index.drain_timeout as a duration.
func (c *Config) DrainTimeout() time.Duration {
	return parseDurationOr(c.Index.DrainTimeout, 10*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
