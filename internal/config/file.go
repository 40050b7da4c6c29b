package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	appName     = "remoteupdate"
	configFile  = "config.yaml"
	firmwareDir = "firmware"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "REMOTEUPDATE_"
)

// Mutex for thread-safe file operations
var fileMutex sync.Mutex

// GetConfigDir returns the OS-appropriate configuration directory for the application.
// This follows platform conventions:
//   - Linux: $XDG_CONFIG_HOME/remoteupdate or $HOME/.config/remoteupdate
//   - macOS: $HOME/.config/remoteupdate (following XDG convention on macOS)
//   - Windows: %LOCALAPPDATA%\remoteupdate
func GetConfigDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
			}
			baseDir = filepath.Join(userProfile, "AppData", "Local", appName)
		} else {
			baseDir = filepath.Join(localAppData, appName)
		}

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".config", appName)

	default:
		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			baseDir = filepath.Join(xdgConfigHome, appName)
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("cannot determine home directory: %w", err)
			}
			baseDir = filepath.Join(homeDir, ".config", appName)
		}
	}

	return baseDir, nil
}

// GetConfigPath returns the full path to the default configuration file.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, configFile), nil
}

// Load reads the configuration at path (the default path when empty),
// applies defaults and environment overrides, and validates the result.
// A missing file yields the defaults.
func Load(path string) (*AgentConfig, error) {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
		path = p
	}

	cfg := NewAgentConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if cfg.Firmware.Dir == "" {
		cfg.Firmware.Dir = filepath.Join(filepath.Dir(path), firmwareDir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEnvFiles loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from REMOTEUPDATE_* environment variables.
func (c *AgentConfig) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvPrefix + "HOSTNAME"); ok {
		c.Hostname = &v
	}
	c.Debug = getEnvBool("DEBUG", c.Debug)

	c.Portal.Enabled = getEnvBool("PORTAL_ENABLED", c.Portal.Enabled)
	c.Portal.Username = getEnv("PORTAL_USERNAME", c.Portal.Username)
	c.Portal.Password = getEnv("PORTAL_PASSWORD", c.Portal.Password)
	c.Portal.BasePath = getEnv("PORTAL_BASE_PATH", c.Portal.BasePath)

	c.OTA.Enabled = getEnvBool("OTA_ENABLED", c.OTA.Enabled)
	if v, ok := os.LookupEnv(EnvPrefix + "OTA_PASSWORD"); ok {
		c.OTA.Password = &v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "OTA_PORT"); ok {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid %sOTA_PORT %q: %w", EnvPrefix, v, err)
		}
		c.OTA.Port = uint16(port)
	}

	c.Link.Interface = getEnv("INTERFACE", c.Link.Interface)
	if v, ok := os.LookupEnv(EnvPrefix + "POLL_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sPOLL_INTERVAL %q: %w", EnvPrefix, v, err)
		}
		c.Link.PollInterval = d
	}

	c.Firmware.Dir = getEnv("FIRMWARE_DIR", c.Firmware.Dir)
	c.Firmware.ApplyCommand = getEnv("APPLY_COMMAND", c.Firmware.ApplyCommand)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)
	return nil
}

// Save writes the configuration to path atomically.
func (c *AgentConfig) Save(path string) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Remote update agent configuration
#
# Passwords in this file are stored in plain text. Prefer the
# REMOTEUPDATE_PORTAL_PASSWORD and REMOTEUPDATE_OTA_PASSWORD variables.
#
# Location: ` + path + `

`)
	data = append(header, data...)

	// Write to temporary file first (atomic write)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(EnvPrefix + key); exists {
		return value
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(EnvPrefix + key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
