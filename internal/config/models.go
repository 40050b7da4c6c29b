package config

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/muurk/remoteupdate/internal/firmware"
	"github.com/muurk/remoteupdate/internal/updater"
)

const currentVersion = 1

// AgentConfig represents the entire agent configuration file.
type AgentConfig struct {
	Version int `yaml:"version"`

	// Hostname overrides the link-assigned host identity. A present but
	// empty value is kept as the identity.
	Hostname *string `yaml:"hostname,omitempty"`

	Debug    bool           `yaml:"debug"`
	Portal   PortalConfig   `yaml:"portal"`
	OTA      OTAConfig      `yaml:"ota"`
	Link     LinkConfig     `yaml:"link"`
	Firmware FirmwareConfig `yaml:"firmware"`
	Log      LogConfig      `yaml:"log"`
}

// PortalConfig configures the web upload page on port 80.
type PortalConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	BasePath string `yaml:"base_path,omitempty"`
}

// OTAConfig configures the background update listener.
type OTAConfig struct {
	Enabled bool `yaml:"enabled"`
	// Password is nil when the listener should keep its own default.
	Password *string `yaml:"password,omitempty"`
	// Port 0 keeps the listener default (3232).
	Port uint16 `yaml:"port,omitempty"`
}

// LinkConfig selects the monitored interface and the poll rate.
type LinkConfig struct {
	Interface    string        `yaml:"interface,omitempty"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
}

// FirmwareConfig configures where received images are staged.
type FirmwareConfig struct {
	Dir       string `yaml:"dir,omitempty"`
	MaxSizeMB int    `yaml:"max_size_mb,omitempty"`

	// ApplyCommand runs after an image was staged, with the image path as
	// its only argument. Empty leaves staged images for the host to pick up.
	ApplyCommand string `yaml:"apply_command,omitempty"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level string `yaml:"level,omitempty"`
	File  string `yaml:"file,omitempty"`
}

// NewAgentConfig creates a configuration with default values: web portal on
// "/" without credentials, listener disabled.
func NewAgentConfig() *AgentConfig {
	return &AgentConfig{
		Version: currentVersion,
		Portal: PortalConfig{
			Enabled:  true,
			BasePath: updater.DefaultBasePath,
		},
		Link: LinkConfig{
			PollInterval: updater.DefaultPollInterval,
		},
		Firmware: FirmwareConfig{
			MaxSizeMB: firmware.DefaultMaxImageSize >> 20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks the configuration and reports every problem found.
func (c *AgentConfig) Validate() error {
	var errs error
	if c.Version != currentVersion {
		errs = multierr.Append(errs, fmt.Errorf("unsupported config version: %d (expected %d)", c.Version, currentVersion))
	}
	if c.Portal.Enabled && c.Portal.BasePath != "" && !strings.HasPrefix(c.Portal.BasePath, "/") {
		errs = multierr.Append(errs, fmt.Errorf("portal.base_path must start with '/': %q", c.Portal.BasePath))
	}
	if c.Link.PollInterval < 0 {
		errs = multierr.Append(errs, fmt.Errorf("link.poll_interval must not be negative: %v", c.Link.PollInterval))
	}
	if c.Firmware.MaxSizeMB < 0 {
		errs = multierr.Append(errs, fmt.Errorf("firmware.max_size_mb must not be negative: %d", c.Firmware.MaxSizeMB))
	}
	return errs
}

// PollInterval returns the configured poll interval or the default.
func (c *AgentConfig) PollInterval() time.Duration {
	if c.Link.PollInterval <= 0 {
		return updater.DefaultPollInterval
	}
	return c.Link.PollInterval
}

// MaxImageSize returns the firmware size limit in bytes.
func (c *AgentConfig) MaxImageSize() int64 {
	if c.Firmware.MaxSizeMB <= 0 {
		return firmware.DefaultMaxImageSize
	}
	return int64(c.Firmware.MaxSizeMB) << 20
}

// ApplyTo runs the configuration phase of b from c.
func (c *AgentConfig) ApplyTo(b *updater.Builder) *updater.Builder {
	b.SetDebugging(c.Debug)
	if c.Hostname != nil {
		b.SetHostIdentity(*c.Hostname)
	}
	if c.Portal.Enabled {
		b.EnableWebPortal(c.Portal.Username, c.Portal.Password, c.Portal.BasePath)
	}
	if c.OTA.Enabled {
		b.EnableBackgroundListener(c.OTA.Password, c.OTA.Port)
	}
	return b
}
