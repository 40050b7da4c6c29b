package link

import (
	"net"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/remoteupdate/internal/logging"
)

// ifaceState is a platform-neutral view of one interface.
type ifaceState struct {
	Name  string
	Up    bool
	Addrs []net.IP
}

// Monitor reports whether the host has a usable network link. It satisfies
// the link-status collaborator of the update controller.
type Monitor struct {
	// Interface restricts the check to one interface (empty = any
	// non-loopback interface).
	Interface string

	// Hostname overrides the name returned by AssignedName.
	Hostname string

	list     func(name string) ([]ifaceState, error)
	hostname func() (string, error)

	mu      sync.Mutex
	lastErr string
}

// NewMonitor creates a monitor for iface (empty = any interface).
func NewMonitor(iface string) *Monitor {
	return &Monitor{
		Interface: iface,
		list:      listInterfaces,
		hostname:  os.Hostname,
	}
}

// IsConnected reports whether an interface is up and holds a routable address.
func (m *Monitor) IsConnected() bool {
	states, err := m.list(m.Interface)
	if err != nil {
		m.logOnce(err)
		return false
	}
	m.logOnce(nil)

	for _, s := range states {
		if s.Up && hasRoutableAddr(s.Addrs) {
			return true
		}
	}
	return false
}

// AssignedName returns the host's short name, or "" if it has none.
func (m *Monitor) AssignedName() string {
	if m.Hostname != "" {
		return m.Hostname
	}
	name, err := m.hostname()
	if err != nil {
		logging.Debug("Failed to read hostname", zap.Error(err))
		return ""
	}
	name, _, _ = strings.Cut(name, ".")
	return name
}

// logOnce logs lookup errors without repeating the same message every poll.
func (m *Monitor) logOnce(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		m.lastErr = ""
		return
	}
	if msg := err.Error(); msg != m.lastErr {
		m.lastErr = msg
		logging.Warn("Failed to read link state",
			zap.String("interface", m.Interface),
			zap.Error(err),
		)
	}
}

func hasRoutableAddr(addrs []net.IP) bool {
	for _, ip := range addrs {
		if ip.IsGlobalUnicast() {
			return true
		}
	}
	return false
}
