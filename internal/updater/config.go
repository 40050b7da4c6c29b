package updater

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/muurk/remoteupdate/internal/logging"
)

const (
	// PortalPort is the fixed port the web update portal listens on.
	PortalPort = 80

	// DefaultBasePath is where the upload page is mounted when none is given.
	DefaultBasePath = "/"
)

// ErrMissingCollaborator is returned by Build when a collaborator required by
// the configuration was not supplied.
var ErrMissingCollaborator = errors.New("missing collaborator")

// WebPortalConfig holds the settings of the browser-based update portal.
type WebPortalConfig struct {
	Username string
	Password string
	BasePath string
	Port     int
}

// OTAConfig holds the settings of the background update listener.
// A nil Password and a zero Port leave the listener's own defaults in place.
type OTAConfig struct {
	Enabled  bool
	Password *string
	Port     uint16
}

// Config is the frozen result of the configuration phase.
type Config struct {
	HostIdentity *string
	Debug        bool
	Portal       *WebPortalConfig
	OTA          OTAConfig
}

// Builder collects controller configuration before the first poll.
// Once Build has been called, every setter is ignored.
type Builder struct {
	cfg    Config
	frozen bool
}

// NewBuilder returns an empty configuration builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// SetDebugging toggles the readiness and diagnostic log lines of the controller.
func (b *Builder) SetDebugging(enabled bool) *Builder {
	if b.rejectFrozen("SetDebugging") {
		return b
	}
	b.cfg.Debug = enabled
	return b
}

// SetHostIdentity sets the name used for advertisement and the update listener.
// An empty name is accepted as-is; downstream behaviour for it is up to the collaborators.
func (b *Builder) SetHostIdentity(name string) *Builder {
	if b.rejectFrozen("SetHostIdentity") {
		return b
	}
	b.cfg.HostIdentity = &name
	return b
}

// EnableWebPortal enables the upload portal. The first call wins; later calls
// are no-ops.
func (b *Builder) EnableWebPortal(username, password, basePath string) *Builder {
	if b.rejectFrozen("EnableWebPortal") {
		return b
	}
	if b.cfg.Portal != nil {
		if b.cfg.Debug {
			logging.Debug("Web updater already enabled",
				zap.String("base_path", b.cfg.Portal.BasePath),
			)
		}
		return b
	}
	if b.cfg.Debug {
		logging.Debug("Enabling web updater", zap.String("base_path", basePath))
	}
	b.cfg.Portal = &WebPortalConfig{
		Username: username,
		Password: password,
		BasePath: basePath,
		Port:     PortalPort,
	}
	return b
}

// EnableBackgroundListener enables the background update listener. A nil
// password or zero port keeps the listener's defaults.
func (b *Builder) EnableBackgroundListener(password *string, port uint16) *Builder {
	if b.rejectFrozen("EnableBackgroundListener") {
		return b
	}
	if b.cfg.Debug {
		logging.Debug("Enabling background update listener", zap.Uint16("port", port))
	}
	b.cfg.OTA = OTAConfig{
		Enabled:  true,
		Password: password,
		Port:     port,
	}
	return b
}

// Config returns a copy of the configuration collected so far.
func (b *Builder) Config() Config {
	return b.cfg.clone()
}

// Frozen reports whether Build has already been called.
func (b *Builder) Frozen() bool {
	return b.frozen
}

// Build freezes the configuration and returns a controller driving deps.
// It fails only when a collaborator the configuration depends on is missing.
func (b *Builder) Build(deps Deps) (*Controller, error) {
	if deps.Link == nil {
		return nil, fmt.Errorf("%w: link status provider", ErrMissingCollaborator)
	}
	if deps.Advertiser == nil {
		return nil, fmt.Errorf("%w: advertiser", ErrMissingCollaborator)
	}
	if b.cfg.Portal != nil && (deps.WebServer == nil || deps.Uploader == nil) {
		return nil, fmt.Errorf("%w: web portal requires a web server and an upload handler", ErrMissingCollaborator)
	}
	if b.cfg.OTA.Enabled && deps.Listener == nil {
		return nil, fmt.Errorf("%w: update listener", ErrMissingCollaborator)
	}

	b.frozen = true
	return newController(b.cfg.clone(), deps), nil
}

func (b *Builder) rejectFrozen(op string) bool {
	if !b.frozen {
		return false
	}
	logging.Warn("Ignoring configuration change after controller was built",
		zap.String("op", op),
	)
	return true
}

func (c Config) clone() Config {
	out := c
	if c.HostIdentity != nil {
		name := *c.HostIdentity
		out.HostIdentity = &name
	}
	if c.Portal != nil {
		portal := *c.Portal
		out.Portal = &portal
	}
	if c.OTA.Password != nil {
		password := *c.OTA.Password
		out.OTA.Password = &password
	}
	return out
}
