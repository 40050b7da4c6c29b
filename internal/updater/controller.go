package updater

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/muurk/remoteupdate/internal/logging"
)

// Transition names the edge detected by a single Handle call.
type Transition int

const (
	// TransitionIdle means the link was down and is still down.
	TransitionIdle Transition = iota
	// TransitionEstablished means the link came up since the previous poll.
	TransitionEstablished
	// TransitionLost means the link went down since the previous poll.
	TransitionLost
	// TransitionStable means the link was up and is still up.
	TransitionStable
)

// String returns a human-readable name for the transition
func (t Transition) String() string {
	switch t {
	case TransitionIdle:
		return "idle"
	case TransitionEstablished:
		return "link established"
	case TransitionLost:
		return "link lost"
	case TransitionStable:
		return "link stable"
	default:
		return fmt.Sprintf("Transition(%d)", int(t))
	}
}

// Deps are the collaborators a Controller drives.
// Link and Advertiser are always required. WebServer and Uploader are required
// when the web portal is enabled, Listener when the background listener is.
type Deps struct {
	Link       LinkStatus
	Advertiser Advertiser
	WebServer  WebServer
	Uploader   UploadHandler
	Listener   UpdateListener

	// Logger defaults to the global logger.
	Logger *zap.Logger
}

// Stats counts what the controller has done since it was built.
type Stats struct {
	Polls       uint64
	Established uint64
	Lost        uint64
}

// Snapshot is the observable state of the controller after a poll.
type Snapshot struct {
	Transition   Transition
	Connected    bool
	HostIdentity string
	Stats        Stats
}

// Controller starts, services and tears down the network update subsystems
// as the link comes and goes. It is not safe for concurrent use: Handle must
// be called from a single loop.
type Controller struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	hostIdentity string
	identitySet  bool
	connected    bool

	last   Transition
	stats  Stats
	closed bool
}

func newController(cfg Config, deps Deps) *Controller {
	log := deps.Logger
	if log == nil {
		log = logging.GetLogger()
	}

	c := &Controller{
		cfg:  cfg,
		deps: deps,
		log:  log.Named("updater"),
	}
	if cfg.HostIdentity != nil {
		c.hostIdentity = *cfg.HostIdentity
		c.identitySet = true
	}
	return c
}

// Config returns a copy of the configuration the controller was built with.
func (c *Controller) Config() Config {
	return c.cfg.clone()
}

// Handle runs one poll: it reads the link status, compares it with the
// previous poll and performs the matching transition.
func (c *Controller) Handle() {
	if c.closed {
		return
	}

	now := c.deps.Link.IsConnected()
	prev := c.connected
	c.stats.Polls++

	switch {
	case now && !prev:
		c.last = TransitionEstablished
		c.stats.Established++
		c.linkEstablished()
	case !now && prev:
		c.last = TransitionLost
		c.stats.Lost++
		c.linkLost()
	case now && prev:
		c.last = TransitionStable
		c.serviceConnected()
	default:
		c.last = TransitionIdle
	}

	c.connected = now
}

// Snapshot reports the state reached by the last Handle call.
func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		Transition:   c.last,
		Connected:    c.connected,
		HostIdentity: c.hostIdentity,
		Stats:        c.stats,
	}
}

// HostIdentity returns the resolved host identity and whether it is known yet.
func (c *Controller) HostIdentity() (string, bool) {
	return c.hostIdentity, c.identitySet
}

// Close releases the web server owned by the controller. Handle is a no-op
// afterwards. The advertiser and listener are not owned and are left alone.
func (c *Controller) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var err error
	if c.cfg.Portal != nil && c.deps.WebServer != nil {
		err = multierr.Append(err, c.deps.WebServer.Close())
	}
	return err
}

func (c *Controller) linkEstablished() {
	if !c.identitySet {
		c.hostIdentity = c.deps.Link.AssignedName()
		c.identitySet = true
	}

	if err := c.deps.Advertiser.Start(c.hostIdentity); err != nil {
		c.warn("Failed to start name advertisement", err)
	}

	if portal := c.cfg.Portal; portal != nil {
		if err := c.deps.Uploader.Attach(c.deps.WebServer, portal.BasePath, portal.Username, portal.Password); err != nil {
			c.warn("Failed to attach upload handler", err)
		}
		if err := c.deps.WebServer.Listen(portal.Port); err != nil {
			c.warn("Failed to start web server", err)
		}
		if err := c.deps.Advertiser.RegisterService("http", "tcp", portal.Port); err != nil {
			c.warn("Failed to advertise web updater", err)
		}

		if c.cfg.Debug {
			c.log.Info("Updater ready",
				zap.String("url", fmt.Sprintf("http://%s.local%s", c.hostIdentity, portal.BasePath)),
				zap.String("username", portal.Username),
				zap.String("password", portal.Password),
			)
		}
	}

	if c.cfg.OTA.Enabled {
		l := c.deps.Listener
		l.SetHostIdentity(c.hostIdentity)
		if c.cfg.OTA.Password != nil {
			l.SetPassword(*c.cfg.OTA.Password)
		}
		if c.cfg.OTA.Port != 0 {
			l.SetPort(c.cfg.OTA.Port)
		}
		if err := l.Start(); err != nil {
			c.warn("Failed to start update listener", err)
		} else if c.cfg.Debug {
			c.log.Info("Background update listener ready",
				zap.String("host", c.hostIdentity),
			)
		}
	}
}

func (c *Controller) linkLost() {
	if err := c.deps.Advertiser.Stop(); err != nil {
		c.warn("Failed to stop name advertisement", err)
	}
	if c.cfg.Debug {
		c.log.Info("Link lost, advertisement stopped")
	}
}

func (c *Controller) serviceConnected() {
	if c.cfg.Portal != nil {
		c.deps.WebServer.ServeOnePending()
		if r, ok := c.deps.Advertiser.(Refresher); ok {
			if err := r.Refresh(); err != nil {
				c.warn("Failed to refresh name advertisement", err)
			}
		}
	}

	if c.cfg.OTA.Enabled {
		c.deps.Listener.ServeOnePending()
	}
}

func (c *Controller) warn(msg string, err error) {
	c.log.Warn(msg,
		zap.String("transition", c.last.String()),
		zap.String("host", c.hostIdentity),
		zap.Error(err),
	)
}
