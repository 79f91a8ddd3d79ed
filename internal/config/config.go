package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/afero"
)

// FileLoggingConfig represents file-based logging configuration
type FileLoggingConfig struct {
	Enabled    bool   `json:"enabled" koanf:"enabled"`           // Whether file logging is enabled
	Filename   string `json:"filename" koanf:"filename"`         // Log file path (empty = XDG cache path)
	MaxSizeMB  int    `json:"max_size_mb" koanf:"max_size_mb"`   // Max file size in MB before rotation
	MaxBackups int    `json:"max_backups" koanf:"max_backups"`   // Max number of backup files to keep
	MaxAgeDays int    `json:"max_age_days" koanf:"max_age_days"` // Max age in days before deletion
	Compress   bool   `json:"compress" koanf:"compress"`         // Whether to compress rotated files
}

// HistoryConfig controls the playback history database
type HistoryConfig struct {
	Enabled      bool   `json:"enabled" koanf:"enabled"`
	DatabasePath string `json:"database_path" koanf:"database_path"` // empty = XDG data path
}

// Config represents spindle configuration
type Config struct {
	Volume        float64            `json:"volume" koanf:"volume"`                 // Audio volume (0.0 to 1.0)
	LogLevel      string             `json:"log_level" koanf:"log_level"`           // debug, info, warn, error
	AudioBackend  string             `json:"audio_backend" koanf:"audio_backend"`   // auto, malgo, oto, pipe, file, null
	OutputFile    string             `json:"output_file" koanf:"output_file"`       // WAV path for the file backend
	PlayerCommand string             `json:"player_command" koanf:"player_command"` // pipe backend command override
	SeekMode      string             `json:"seek_mode" koanf:"seek_mode"`           // sync or async
	MaxRetries    int                `json:"max_retries" koanf:"max_retries"`       // transient decode retries
	BufferMillis  int                `json:"buffer_ms" koanf:"buffer_ms"`           // device queue depth
	History       *HistoryConfig     `json:"history,omitempty" koanf:"history"`
	FileLogging   *FileLoggingConfig `json:"file_logging,omitempty" koanf:"file_logging"`
}

// Config file names searched in each config directory, in priority order
const (
	TOMLConfigName = "config.toml"
	JSONConfigName = "config.json"
)

// XDGInterface defines the interface for XDG directory operations
type XDGInterface interface {
	GetConfigPaths(filename string) []string
	GetCachePath(purpose string) string
	GetDataPath(filename string) string
	CreateCacheDir(purpose string) error
}

// ConfigManager handles loading, saving, and validating configuration
type ConfigManager struct {
	xdg XDGInterface
	fs  afero.Fs
}

// NewConfigManager creates a configuration manager on the OS filesystem
func NewConfigManager() *ConfigManager {
	return NewConfigManagerWithFilesystem(afero.NewOsFs())
}

// NewConfigManagerWithFilesystem creates a configuration manager on fs
func NewConfigManagerWithFilesystem(fs afero.Fs) *ConfigManager {
	slog.Debug("creating new config manager")
	return &ConfigManager{
		xdg: NewXDGDirs(),
		fs:  fs,
	}
}

// GetDefaultConfig returns the default configuration
func (cm *ConfigManager) GetDefaultConfig() *Config {
	defaultConfig := &Config{
		Volume:       1.0,
		LogLevel:     "warn",
		AudioBackend: "auto",
		SeekMode:     "sync",
		MaxRetries:   3,
		BufferMillis: 500,
		History: &HistoryConfig{
			Enabled:      true,
			DatabasePath: "", // Empty = XDG data path
		},
		FileLogging: &FileLoggingConfig{
			Enabled:    false,
			Filename:   "", // Empty = XDG cache path
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}

	slog.Debug("generated default config",
		"volume", defaultConfig.Volume,
		"log_level", defaultConfig.LogLevel,
		"audio_backend", defaultConfig.AudioBackend,
		"seek_mode", defaultConfig.SeekMode)

	return defaultConfig
}

// LoadFromFile loads configuration from a specific file. Files ending in
// .toml are parsed with koanf, anything else as JSON. Keys missing from the
// file keep their default values.
func (cm *ConfigManager) LoadFromFile(filePath string) (*Config, error) {
	slog.Debug("loading config from file", "file_path", filePath)

	config := cm.GetDefaultConfig()

	if strings.EqualFold(filepath.Ext(filePath), ".toml") {
		k := koanf.New(".")
		if err := k.Load(cm.provider(filePath), toml.Parser()); err != nil {
			slog.Error("failed to parse config TOML", "file_path", filePath, "error", err)
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
		if err := k.Unmarshal("", config); err != nil {
			return nil, fmt.Errorf("failed to decode config TOML: %w", err)
		}
	} else {
		data, err := afero.ReadFile(cm.fs, filePath)
		if err != nil {
			slog.Error("failed to read config file", "file_path", filePath, "error", err)
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, config); err != nil {
			slog.Error("failed to parse config JSON", "file_path", filePath, "error", err)
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	if err := cm.ValidateConfig(config); err != nil {
		slog.Error("config validation failed", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	slog.Debug("config loaded successfully",
		"file_path", filePath,
		"volume", config.Volume,
		"audio_backend", config.AudioBackend)

	return config, nil
}

// provider reads straight from disk in production and through afero otherwise.
func (cm *ConfigManager) provider(path string) koanf.Provider {
	if _, ok := cm.fs.(*afero.OsFs); ok {
		return file.Provider(path)
	}
	return &aferoProvider{fs: cm.fs, path: path}
}

// aferoProvider is a koanf.Provider over an afero filesystem.
type aferoProvider struct {
	fs   afero.Fs
	path string
}

func (p *aferoProvider) ReadBytes() ([]byte, error) {
	return afero.ReadFile(p.fs, p.path)
}

func (p *aferoProvider) Read() (map[string]interface{}, error) {
	return nil, fmt.Errorf("afero provider does not support Read()")
}

// SaveToFile saves configuration to a specific file as JSON
func (cm *ConfigManager) SaveToFile(config *Config, filePath string) error {
	slog.Debug("saving config to file", "file_path", filePath)

	if err := cm.ValidateConfig(config); err != nil {
		slog.Error("cannot save invalid config", "error", err)
		return fmt.Errorf("cannot save invalid config: %w", err)
	}

	dir := filepath.Dir(filePath)
	if err := cm.fs.MkdirAll(dir, 0755); err != nil {
		slog.Error("failed to create config directory", "directory", dir, "error", err)
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := afero.WriteFile(cm.fs, filePath, data, 0644); err != nil {
		slog.Error("failed to write config file", "file_path", filePath, "error", err)
		return fmt.Errorf("failed to write config file: %w", err)
	}

	slog.Info("config saved successfully", "file_path", filePath)
	return nil
}

// FindConfigFile returns the highest priority config file that exists, or "".
// Within one directory config.toml wins over config.json.
func (cm *ConfigManager) FindConfigFile() string {
	for _, dir := range cm.xdg.GetConfigPaths("") {
		for _, name := range []string{TOMLConfigName, JSONConfigName} {
			path := filepath.Join(dir, name)
			if exists, _ := afero.Exists(cm.fs, path); exists {
				slog.Debug("found config file", "path", path)
				return path
			}
		}
	}
	return ""
}

// LoadConfig loads configuration using XDG path discovery
func (cm *ConfigManager) LoadConfig() (*Config, error) {
	path := cm.FindConfigFile()
	if path == "" {
		slog.Debug("no config file found, using defaults")
		return cm.GetDefaultConfig(), nil
	}
	return cm.LoadFromFile(path)
}

// ValidateConfig validates configuration values, reporting every problem at once
func (cm *ConfigManager) ValidateConfig(config *Config) error {
	var errors []string

	if config.Volume < 0.0 || config.Volume > 1.0 {
		errors = append(errors, fmt.Sprintf("volume must be between 0.0 and 1.0, got %f", config.Volume))
	}

	if config.LogLevel != "" {
		if _, err := ParseLogLevel(config.LogLevel); err != nil {
			errors = append(errors, err.Error())
		}
	}

	if !cm.IsValidAudioBackend(config.AudioBackend) {
		errors = append(errors, fmt.Sprintf("invalid audio backend '%s', must be one of: %s",
			config.AudioBackend, strings.Join(cm.GetSupportedAudioBackends(), ", ")))
	}

	if config.AudioBackend == "file" && config.OutputFile == "" {
		errors = append(errors, "audio backend 'file' requires output_file")
	}

	switch config.SeekMode {
	case "", "sync", "async":
	default:
		errors = append(errors, fmt.Sprintf("invalid seek mode '%s', must be sync or async", config.SeekMode))
	}

	if config.MaxRetries < 0 {
		errors = append(errors, fmt.Sprintf("max_retries must be >= 0, got %d", config.MaxRetries))
	}

	if config.BufferMillis != 0 && (config.BufferMillis < 20 || config.BufferMillis > 10000) {
		errors = append(errors, fmt.Sprintf("buffer_ms must be between 20 and 10000, got %d", config.BufferMillis))
	}

	if config.FileLogging != nil {
		fileLogging := config.FileLogging

		if fileLogging.MaxSizeMB < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_size_mb must be >= 0, got %d", fileLogging.MaxSizeMB))
		}
		if fileLogging.MaxBackups < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_backups must be >= 0, got %d", fileLogging.MaxBackups))
		}
		if fileLogging.MaxAgeDays < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_age_days must be >= 0, got %d", fileLogging.MaxAgeDays))
		}
	}

	if len(errors) > 0 {
		errMsg := strings.Join(errors, "; ")
		slog.Error("config validation failed", "errors", errMsg)
		return fmt.Errorf("config validation failed: %s", errMsg)
	}

	slog.Debug("config validation passed")
	return nil
}

// MergeConfigs merges two configurations, with override taking precedence.
// Zero values in override are treated as unset.
func (cm *ConfigManager) MergeConfigs(base, override *Config) *Config {
	merged := *base

	if override.Volume != 0.0 {
		merged.Volume = override.Volume
	}
	if override.LogLevel != "" {
		merged.LogLevel = override.LogLevel
	}
	if override.AudioBackend != "" {
		merged.AudioBackend = override.AudioBackend
	}
	if override.OutputFile != "" {
		merged.OutputFile = override.OutputFile
	}
	if override.PlayerCommand != "" {
		merged.PlayerCommand = override.PlayerCommand
	}
	if override.SeekMode != "" {
		merged.SeekMode = override.SeekMode
	}
	if override.MaxRetries != 0 {
		merged.MaxRetries = override.MaxRetries
	}
	if override.BufferMillis != 0 {
		merged.BufferMillis = override.BufferMillis
	}
	if override.History != nil {
		merged.History = override.History
	}
	if override.FileLogging != nil {
		merged.FileLogging = override.FileLogging
	}

	slog.Debug("configurations merged")
	return &merged
}

// ApplyEnvironmentOverrides applies SPINDLE_* environment variables to a copy of config
func (cm *ConfigManager) ApplyEnvironmentOverrides(config *Config) *Config {
	slog.Debug("applying environment variable overrides")

	result := *config

	if volStr := os.Getenv("SPINDLE_VOLUME"); volStr != "" {
		if vol, err := strconv.ParseFloat(volStr, 64); err == nil {
			result.Volume = vol
			slog.Debug("applied volume override from environment", "value", vol)
		} else {
			slog.Warn("invalid SPINDLE_VOLUME environment variable", "value", volStr, "error", err)
		}
	}

	if logLevel := os.Getenv("SPINDLE_LOG_LEVEL"); logLevel != "" {
		result.LogLevel = logLevel
	}

	if audioBackend := os.Getenv("SPINDLE_AUDIO_BACKEND"); audioBackend != "" {
		if cm.IsValidAudioBackend(audioBackend) {
			result.AudioBackend = audioBackend
			slog.Debug("applied audio backend override from environment", "value", audioBackend)
		} else {
			slog.Warn("invalid SPINDLE_AUDIO_BACKEND environment variable", "value", audioBackend)
		}
	}

	if output := os.Getenv("SPINDLE_OUTPUT_FILE"); output != "" {
		result.OutputFile = output
	}

	if command := os.Getenv("SPINDLE_PLAYER_COMMAND"); command != "" {
		result.PlayerCommand = command
	}

	if mode := os.Getenv("SPINDLE_SEEK_MODE"); mode != "" {
		result.SeekMode = mode
	}

	if historyStr := os.Getenv("SPINDLE_HISTORY"); historyStr != "" {
		if enabled, err := strconv.ParseBool(historyStr); err == nil {
			history := HistoryConfig{}
			if result.History != nil {
				history = *result.History
			}
			history.Enabled = enabled
			result.History = &history
			slog.Debug("applied history override from environment", "value", enabled)
		} else {
			slog.Warn("invalid SPINDLE_HISTORY environment variable", "value", historyStr, "error", err)
		}
	}

	return &result
}

// ParseLogLevel maps a config log level to slog.Level
func ParseLogLevel(logLevel string) (slog.Level, error) {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", logLevel)
}

// ApplyLogLevel configures slog with the specified log level on stderr
func (cm *ConfigManager) ApplyLogLevel(logLevel string) error {
	return cm.ApplyLogLevelWithWriter(logLevel, os.Stderr)
}

// ApplyLogLevelWithWriter configures slog with the specified log level and writer
func (cm *ConfigManager) ApplyLogLevelWithWriter(logLevel string, writer io.Writer) error {
	if logLevel == "" {
		slog.Debug("no log level specified, keeping current slog configuration")
		return nil
	}

	level, err := ParseLogLevel(logLevel)
	if err != nil {
		return err
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))

	slog.Debug("slog configured", "log_level", logLevel)
	return nil
}

// ResolveLogFilePath resolves the log file path using XDG cache directory when filename is empty
func (cm *ConfigManager) ResolveLogFilePath(filename string) string {
	if filename != "" {
		return filename
	}
	return filepath.Join(cm.xdg.GetCachePath("logs"), "spindle.log")
}

// ResolveHistoryPath resolves the history database path, defaulting to XDG data
func (cm *ConfigManager) ResolveHistoryPath(path string) string {
	if path != "" {
		return path
	}
	return cm.xdg.GetDataPath("history.db")
}

// GetSupportedAudioBackends returns a list of all supported audio backend types
func (cm *ConfigManager) GetSupportedAudioBackends() []string {
	return []string{"auto", "malgo", "oto", "pipe", "file", "null"}
}

// IsValidAudioBackend checks if an audio backend type is supported
func (cm *ConfigManager) IsValidAudioBackend(backend string) bool {
	// Empty string is valid (defaults to auto)
	if backend == "" {
		return true
	}

	for _, supportedBackend := range cm.GetSupportedAudioBackends() {
		if backend == supportedBackend {
			return true
		}
	}
	return false
}
