package discovery

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/muurk/remoteupdate/internal/logging"
	"github.com/muurk/remoteupdate/internal/version"
)

const (
	// HostInfoService carries the host record while no other service is registered.
	HostInfoService = "_device-info._tcp"

	// hostInfoPort is a placeholder; zeroconf refuses records without a port.
	hostInfoPort = 9

	// TXTUpdaterKey marks services published by this agent.
	TXTUpdaterKey = "updater"
	// TXTUpdaterValue is the value of TXTUpdaterKey.
	TXTUpdaterValue = "remoteupdate"
)

// ErrNotStarted is returned when registering a service before Start.
var ErrNotStarted = errors.New("mdns advertiser not started")

// registration is the part of *zeroconf.Server the advertiser needs.
type registration interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, host string, ips []string, text []string, ifaces []net.Interface) (registration, error)

func zeroconfRegister(instance, service, domain string, port int, host string, ips []string, text []string, ifaces []net.Interface) (registration, error) {
	return zeroconf.RegisterProxy(instance, service, domain, port, host, ips, text, ifaces)
}

// Advertiser publishes "<name>.local" and the agent's services over mDNS.
type Advertiser struct {
	// Interface restricts advertisement to one interface (empty = all).
	Interface string

	register registerFunc
	addrs    func(iface string) ([]string, []net.Interface, error)

	mu      sync.Mutex
	name    string
	started bool
	servers map[string]registration
}

// NewAdvertiser creates an advertiser bound to iface (empty = all interfaces).
func NewAdvertiser(iface string) *Advertiser {
	return &Advertiser{
		Interface: iface,
		register:  zeroconfRegister,
		addrs:     interfaceAddrs,
		servers:   make(map[string]registration),
	}
}

// Start begins answering for name.local. Calling Start again re-announces
// under the new name.
func (a *Advertiser) Start(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.shutdownLocked()
	a.name = name
	a.started = true

	if err := a.registerLocked(HostInfoService, hostInfoPort); err != nil {
		return err
	}
	logging.Debug("mDNS responder started", zap.String("host", name+".local"))
	return nil
}

// RegisterService publishes _<protocol>._<transport> on port.
func (a *Advertiser) RegisterService(protocol, transport string, port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return ErrNotStarted
	}
	service := fmt.Sprintf("_%s._%s", protocol, transport)
	return a.registerLocked(service, port)
}

// Stop withdraws every record published since Start.
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.shutdownLocked()
	a.started = false
	logging.Debug("mDNS responder stopped", zap.String("host", a.name))
	return nil
}

// Services returns the service types currently published.
func (a *Advertiser) Services() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, 0, len(a.servers))
	for service := range a.servers {
		out = append(out, service)
	}
	return out
}

func (a *Advertiser) registerLocked(service string, port int) error {
	ips, ifaces, err := a.addrs(a.Interface)
	if err != nil {
		return fmt.Errorf("failed to list interface addresses: %w", err)
	}
	if len(ips) == 0 {
		return fmt.Errorf("no addresses to advertise for %s.local", a.name)
	}

	if old, ok := a.servers[service]; ok {
		old.Shutdown()
		delete(a.servers, service)
	}

	text := []string{
		TXTUpdaterKey + "=" + TXTUpdaterValue,
		"version=" + version.Version,
	}
	srv, err := a.register(a.name, service, ServiceDomain, port, a.name, ips, text, ifaces)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", service, err)
	}
	a.servers[service] = srv
	return nil
}

func (a *Advertiser) shutdownLocked() {
	for service, srv := range a.servers {
		srv.Shutdown()
		delete(a.servers, service)
	}
}

// interfaceAddrs returns the unicast addresses to publish and the interfaces
// to publish them on.
func interfaceAddrs(name string) ([]string, []net.Interface, error) {
	var ifaces []net.Interface
	if name != "" {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return nil, nil, err
		}
		ifaces = []net.Interface{*iface}
	} else {
		all, err := net.Interfaces()
		if err != nil {
			return nil, nil, err
		}
		for _, iface := range all {
			if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 && iface.Flags&net.FlagMulticast != 0 {
				ifaces = append(ifaces, iface)
			}
		}
	}

	var ips []string
	var errs error
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.IsLinkLocalUnicast() || ipnet.IP.IsLoopback() {
				continue
			}
			ips = append(ips, ipnet.IP.String())
		}
	}
	if len(ips) == 0 && errs != nil {
		return nil, nil, errs
	}
	return ips, ifaces, nil
}
