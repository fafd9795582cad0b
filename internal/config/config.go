// Package config provides configuration management for blockyard
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"blockyard/internal/domain"
	"blockyard/internal/jvm"
)

// Config is the main configuration object
type Config struct {
	Debug  bool `toml:"debug"`
	DryRun bool `toml:"dry_run"`

	Server        ServerConfig       `toml:"server"`
	Plugins       PluginsConfig      `toml:"plugins"`
	Paths         PathsConfig        `toml:"paths"`
	Notifications NotificationConfig `toml:"notifications"`
	Logging       LoggingConfig      `toml:"logging"`
	Metrics       MetricsConfig      `toml:"metrics"`
}

// ServerConfig describes the managed server and how it is launched
type ServerConfig struct {
	ServerType       string   `toml:"server_type"`
	GameVersion      string   `toml:"game_version"`
	RAMMB            int      `toml:"ram_mb"`
	RuntimeVersion   int      `toml:"runtime_version"`
	RuntimePath      string   `toml:"runtime_path"`
	FlagProfile      string   `toml:"flag_profile"`
	ExtraFlags       []string `toml:"extra_flags"`
	MaxPlayers       int      `toml:"max_players"`
	WorkingDir       string   `toml:"working_dir"`
	JarName          string   `toml:"jar_name"`
	StopCommand      string   `toml:"stop_command"`
	StopGrace        int      `toml:"stop_grace"`
	StartupTimeout   int      `toml:"startup_timeout"`
	ReadyPattern     string   `toml:"ready_pattern"`
	LogBufferLines   int      `toml:"log_buffer_lines"`
	SampleIntervalMS int      `toml:"sample_interval_ms"`
}

// PluginsConfig contains registry and installation settings
type PluginsConfig struct {
	Dir              string   `toml:"dir"`
	RegistryFile     string   `toml:"registry_file"`
	Sources          []string `toml:"sources"`
	Concurrency      int      `toml:"concurrency"`
	Timeout          int      `toml:"timeout"`
	MaxRetries       int      `toml:"max_retries"`
	RetryDelay       float64  `toml:"retry_delay"`
	IncludeOptional  bool     `toml:"include_optional"`
	CurseForgeAPIKey string   `toml:"curseforge_api_key"`
}

// PathsConfig defines auxiliary directory locations
type PathsConfig struct {
	Logs string `toml:"logs"`
}

// NotificationConfig contains webhook and alert settings
type NotificationConfig struct {
	DiscordWebhook       string `toml:"discord_webhook"`
	WarningIntervals     []int  `toml:"warning_intervals"`
	WarningMessage       string `toml:"warning_message"`
	SuccessNotifications bool   `toml:"success_notifications"`
	ErrorNotifications   bool   `toml:"error_notifications"`
	CrashNotifications   bool   `toml:"crash_notifications"`
}

// LoggingConfig defines log output levels and formats
type LoggingConfig struct {
	Level          string `toml:"level"`
	Format         string `toml:"format"`
	FileEnabled    bool   `toml:"file_enabled"`
	ConsoleEnabled bool   `toml:"console_enabled"`
	MaxSizeMB      int    `toml:"max_size_mb"`
	MaxBackups     int    `toml:"max_backups"`
	MaxAgeDays     int    `toml:"max_age_days"`
}

// MetricsConfig controls the prometheus endpoint served while supervising
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// DefaultReadyPattern matches the boot-complete line of vanilla-derived
// servers and of BungeeCord.
const DefaultReadyPattern = domain.DefaultReadyPattern

// KnownSources lists the registry identifiers blockyard can query.
var KnownSources = []string{"modrinth", "hangar", "spigotmc", "curseforge"}

// DefaultConfig returns a configuration with production-ready defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	serverPath := filepath.Join(homeDir, "minecraft", "server")

	return &Config{
		Debug:  false,
		DryRun: false,
		Server: ServerConfig{
			ServerType:       string(domain.ServerPaper),
			GameVersion:      "1.20.4",
			RAMMB:            4096,
			RuntimeVersion:   21,
			RuntimePath:      "java",
			FlagProfile:      jvm.ProfileDefault,
			ExtraFlags:       []string{},
			MaxPlayers:       20,
			WorkingDir:       serverPath,
			JarName:          "server.jar",
			StopCommand:      "stop",
			StopGrace:        30,
			StartupTimeout:   120,
			ReadyPattern:     DefaultReadyPattern,
			LogBufferLines:   5000,
			SampleIntervalMS: 250,
		},
		Plugins: PluginsConfig{
			Sources:         []string{},
			Concurrency:     4,
			Timeout:         15,
			MaxRetries:      2,
			RetryDelay:      1.0,
			IncludeOptional: true,
		},
		Paths: PathsConfig{
			Logs: filepath.Join(homeDir, ".local", "share", "blockyard", "logs"),
		},
		Notifications: NotificationConfig{
			DiscordWebhook:       "",
			WarningIntervals:     []int{15, 10, 5, 1},
			WarningMessage:       "Server will restart in {minutes} minute(s)",
			SuccessNotifications: true,
			ErrorNotifications:   true,
			CrashNotifications:   true,
		},
		Logging: LoggingConfig{
			Level:          "INFO",
			Format:         "json",
			FileEnabled:    true,
			ConsoleEnabled: true,
			MaxSizeMB:      10,
			MaxBackups:     3,
			MaxAgeDays:     7,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9225",
		},
	}
}

// LoadConfig loads configuration from a file or fallback paths
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath == "" {
		configPath = findDefaultConfig()
	}
	if configPath != "" {
		if _, err := toml.DecodeFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// SaveConfig writes the configuration to a TOML file
func (c *Config) SaveConfig(configPath string) error {
	file, err := os.Create(configPath) //nolint:gosec // config path is user-controlled
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer func() {
		_ = file.Close() // Close errors are non-critical after successful encoding
	}()

	return toml.NewEncoder(file).Encode(c)
}

// Validate ensures settings are within supported bounds
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validatePlugins,
		c.validateLogging,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

// ServerConfig returns the immutable session configuration for the supervisor.
// Validate must have succeeded first.
func (c *Config) ServerConfig() domain.ServerConfig {
	st, _ := domain.ParseServerType(c.Server.ServerType)
	return domain.ServerConfig{
		Type:           st,
		GameVersion:    c.Server.GameVersion,
		RAMMB:          c.Server.RAMMB,
		RuntimeVersion: c.Server.RuntimeVersion,
		RuntimePath:    c.Server.RuntimePath,
		FlagProfile:    c.Server.FlagProfile,
		ExtraFlags:     slices.Clone(c.Server.ExtraFlags),
		MaxPlayers:     c.Server.MaxPlayers,
		WorkingDir:     c.Server.WorkingDir,
		JarName:        c.Server.JarName,
	}
}

// PluginsDir returns the directory plugins are installed into. Modded servers
// use mods/, everything else plugins/.
func (c *Config) PluginsDir() string {
	if c.Plugins.Dir != "" {
		return c.Plugins.Dir
	}
	st, _ := domain.ParseServerType(c.Server.ServerType)
	if st.IsModded() {
		return filepath.Join(c.Server.WorkingDir, "mods")
	}
	return filepath.Join(c.Server.WorkingDir, "plugins")
}

// RegistryFile returns the path of the installed-plugin registry.
func (c *Config) RegistryFile() string {
	if c.Plugins.RegistryFile != "" {
		return c.Plugins.RegistryFile
	}
	return filepath.Join(c.Server.WorkingDir, "installed_plugins.toml")
}

// StopGrace returns the graceful stop window.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.Server.StopGrace) * time.Second
}

// StartupTimeout returns how long start waits for the readiness signal.
func (c *Config) StartupTimeout() time.Duration {
	return time.Duration(c.Server.StartupTimeout) * time.Second
}

// PluginTimeout returns the per-source registry timeout.
func (c *Config) PluginTimeout() time.Duration {
	return time.Duration(c.Plugins.Timeout) * time.Second
}

func findDefaultConfig() string {
	candidates := []string{"config.toml"}

	if cfgDir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(cfgDir, "blockyard", "config.toml"))
	}
	candidates = append(candidates, "/etc/blockyard/config.toml")

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (c *Config) validateServer() error {
	st, err := domain.ParseServerType(c.Server.ServerType)
	if err != nil {
		return err
	}
	c.Server.ServerType = string(st)

	if strings.TrimSpace(c.Server.GameVersion) == "" {
		return &domain.ConfigError{Field: "server.game_version", Message: "must not be empty"}
	}
	if c.Server.WorkingDir == "" {
		return &domain.ConfigError{Field: "server.working_dir", Message: "must not be empty"}
	}
	if c.Server.JarName == "" {
		return &domain.ConfigError{Field: "server.jar_name", Message: "must not be empty"}
	}
	if c.Server.RuntimePath == "" {
		c.Server.RuntimePath = "java"
	}
	c.Server.FlagProfile = strings.ToLower(c.Server.FlagProfile)
	if _, err := jvm.Synthesize(c.ServerConfig()); err != nil {
		var cfgErr *domain.ConfigError
		if errors.As(err, &cfgErr) {
			return err
		}
		return &domain.ConfigError{Field: "server", Message: err.Error(), Err: err}
	}
	if c.Server.MaxPlayers < 0 {
		return &domain.ConfigError{Field: "server.max_players", Message: "must not be negative"}
	}
	if c.Server.StopGrace <= 0 {
		return &domain.ConfigError{Field: "server.stop_grace", Message: "must be positive"}
	}
	if c.Server.StartupTimeout <= 0 {
		return &domain.ConfigError{Field: "server.startup_timeout", Message: "must be positive"}
	}
	if c.Server.LogBufferLines <= 0 {
		return &domain.ConfigError{Field: "server.log_buffer_lines", Message: "must be positive"}
	}
	if c.Server.ReadyPattern == "" {
		c.Server.ReadyPattern = DefaultReadyPattern
	}
	if _, err := regexp.Compile(c.Server.ReadyPattern); err != nil {
		return &domain.ConfigError{Field: "server.ready_pattern", Message: err.Error(), Err: err}
	}
	return nil
}

func (c *Config) validatePlugins() error {
	for i, s := range c.Plugins.Sources {
		s = strings.ToLower(s)
		if !slices.Contains(KnownSources, s) {
			return &domain.ConfigError{
				Field:   "plugins.sources",
				Message: fmt.Sprintf("unknown source %q. Must be one of %v", s, KnownSources),
			}
		}
		c.Plugins.Sources[i] = s
	}
	if c.Plugins.Concurrency <= 0 {
		return &domain.ConfigError{Field: "plugins.concurrency", Message: "must be positive"}
	}
	if c.Plugins.Timeout <= 0 {
		return &domain.ConfigError{Field: "plugins.timeout", Message: "must be positive"}
	}
	if c.Plugins.MaxRetries < 0 {
		return &domain.ConfigError{Field: "plugins.max_retries", Message: "must not be negative"}
	}
	return nil
}

func (c *Config) validateLogging() error {
	validLevels := []string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}
	level := strings.ToUpper(c.Logging.Level)
	if !slices.Contains(validLevels, level) {
		return &domain.ConfigError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s. Must be one of %v", c.Logging.Level, validLevels),
		}
	}
	c.Logging.Level = level

	validFormats := []string{"json", "text"}
	format := strings.ToLower(c.Logging.Format)
	if !slices.Contains(validFormats, format) {
		return &domain.ConfigError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s. Must be one of %v", c.Logging.Format, validFormats),
		}
	}
	c.Logging.Format = format
	return nil
}
