package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "propscout.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/propscout"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Environment variables that override file settings.
const (
	EnvAPIKey    = "PROPERTYSCOUT_API_KEY"
	EnvNATSURL   = "PROPSCOUT_NATS_URL"
	EnvCachePath = "PROPSCOUT_CACHE_PATH"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
	getenv func(string) string
	home   func() (string, error)
	cwd    func() (string, error)
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		logger: logger,
		getenv: os.Getenv,
		home:   os.UserHomeDir,
		cwd:    os.Getwd,
	}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/propscout/config.yaml)
// 3. Project config (propscout.yaml in current or parent directories)
// 4. Environment variables
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	userConfigPath := l.userConfigPath()
	if userConfigPath != "" {
		if userConfig, err := LoadFromFile(userConfigPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
			config.Merge(userConfig)
		} else if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
		}
	}

	projectConfigPath := l.findProjectConfig()
	if projectConfigPath != "" {
		if projectConfig, err := LoadFromFile(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	l.applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadPath loads defaults, then the file at path, then the environment. Used
// when the file is named explicitly, e.g. by --config.
func (l *Loader) LoadPath(path string) (*Config, error) {
	config := DefaultConfig()
	fileConfig, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	config.Merge(fileConfig)
	l.applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

func (l *Loader) applyEnv(config *Config) {
	if v := strings.TrimSpace(l.getenv(EnvAPIKey)); v != "" {
		config.PropertyScout.APIKey = v
		l.logger.Debug("Using API key from environment", slog.String("var", EnvAPIKey))
	}
	if v := l.getenv(EnvNATSURL); v != "" {
		config.NATS.URL = v
	}
	if v := l.getenv(EnvCachePath); v != "" {
		config.Cache.Path = v
	}
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()
	if userConfigPath == "" {
		return fmt.Errorf("cannot determine home directory")
	}

	if _, err := os.Stat(userConfigPath); err == nil {
		return nil
	}

	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

// ConfigPath returns the file Load would read last: the project config when
// one exists, otherwise the user config when it exists, otherwise "".
func (l *Loader) ConfigPath() string {
	if p := l.findProjectConfig(); p != "" {
		return p
	}
	if p := l.userConfigPath(); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	home, err := l.home()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for propscout.yaml in current and parent directories
func (l *Loader) findProjectConfig() string {
	cwd, err := l.cwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
