package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type the web update portal advertises
	ServiceType = "_http._tcp"

	// UpdateServiceType is the mDNS service type of the background update listener
	UpdateServiceType = "_remoteupdate._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for device discovery
	DefaultScanTimeout = 10 * time.Second

	// DefaultPort is the default HTTP port of the update portal
	DefaultPort = 80
)

// Scanner finds devices running the update agent on the local network.
type Scanner struct {
	// Timeout is the maximum time to wait for device discovery
	Timeout time.Duration

	// ServiceTypes are the browsed services (default ServiceType and
	// UpdateServiceType). Records of one host are merged into one Device.
	ServiceTypes []string
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout:      DefaultScanTimeout,
		ServiceTypes: []string{ServiceType, UpdateServiceType},
	}
}

// ScanForDevices discovers all update-capable devices on the local network
func (s *Scanner) ScanForDevices() ([]*Device, error) {
	return s.ScanForDevicesWithContext(context.Background())
}

// ScanForDevicesWithContext discovers devices with a custom context
func (s *Scanner) ScanForDevicesWithContext(ctx context.Context) ([]*Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		devices = make([]*Device, 0)
		byHost  = make(map[string]*Device)
	)
	wait, err := s.browse(ctx, func(device *Device) {
		mu.Lock()
		defer mu.Unlock()
		if known, ok := byHost[device.Hostname]; ok {
			known.merge(device)
			return
		}
		byHost[device.Hostname] = device
		devices = append(devices, device)
	})
	if err != nil {
		return nil, err
	}

	<-ctx.Done()
	wait()

	mu.Lock()
	defer mu.Unlock()
	return devices, nil
}

// WaitForDevice waits for a device advertising the given host name
func (s *Scanner) WaitForDevice(host string) (*Device, error) {
	return s.WaitForDeviceWithContext(context.Background(), host)
}

// WaitForDeviceWithContext waits for a specific device with a custom context.
// It returns the first matching record of any browsed service type.
func (s *Scanner) WaitForDeviceWithContext(ctx context.Context, host string) (*Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	deviceChan := make(chan *Device, 1)
	wait, err := s.browse(ctx, func(device *Device) {
		if !device.Matches(host) {
			return
		}
		select {
		case deviceChan <- device:
		default:
		}
		cancel()
	})
	if err != nil {
		return nil, err
	}
	defer wait()

	select {
	case device := <-deviceChan:
		return device, nil
	case <-ctx.Done():
		select {
		case device := <-deviceChan:
			return device, nil
		default:
		}
		return nil, fmt.Errorf("device %s not found within timeout", host)
	}
}

// browse starts one browse per service type and calls found for every agent
// record until ctx is done. The returned wait blocks until the collectors
// have drained, bounded to a second after ctx ends.
func (s *Scanner) browse(ctx context.Context, found func(*Device)) (wait func(), err error) {
	var wg sync.WaitGroup
	wait = func() {
		drained := make(chan struct{})
		go func() {
			wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(time.Second):
		}
	}

	for _, service := range s.serviceTypes() {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return wait, fmt.Errorf("failed to create mDNS resolver: %w", err)
		}

		entries := make(chan *zeroconf.ServiceEntry)
		wg.Add(1)
		go func(service string) {
			defer wg.Done()
			// zeroconf closes entries once browsing stops
			for entry := range entries {
				if entry.Service == "" {
					entry.Service = service
				}
				if device := parseServiceEntry(entry); device != nil {
					found(device)
				}
			}
		}(service)

		if err := resolver.Browse(ctx, service, ServiceDomain, entries); err != nil {
			return wait, fmt.Errorf("failed to browse for %s: %w", service, err)
		}
	}
	return wait, nil
}

func (s *Scanner) serviceTypes() []string {
	if len(s.ServiceTypes) == 0 {
		return []string{ServiceType, UpdateServiceType}
	}
	return s.ServiceTypes
}

// parseServiceEntry converts a zeroconf service entry to a Device.
// Returns nil if the entry was not published by the update agent.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Device {
	hostname := entry.HostName
	if hostname == "" {
		return nil
	}

	// Parse TXT records into metadata
	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}
	if metadata[TXTUpdaterKey] != TXTUpdaterValue {
		return nil
	}

	// Get IP address (prefer IPv4)
	var ip string
	for _, addr := range entry.AddrIPv4 {
		ip = addr.String()
		break
	}
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	device := &Device{
		Name:         entry.Instance,
		Hostname:     hostname,
		IP:           ip,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}

	switch strings.TrimSuffix(entry.Service, ".") {
	case UpdateServiceType:
		// A listener record without a port is unusable.
		if entry.Port == 0 {
			return nil
		}
		device.UpdatePort = entry.Port
	default:
		device.Port = entry.Port
		if device.Port == 0 {
			device.Port = DefaultPort
		}
	}
	return device
}

// ScanForDevices is a convenience function to scan for devices with a custom timeout
func ScanForDevices(timeout time.Duration) ([]*Device, error) {
	scanner := NewScanner()
	scanner.Timeout = timeout
	return scanner.ScanForDevices()
}

// FindUpdateListener searches for the background update listener of host.
// The returned device carries the advertised UpdatePort.
func FindUpdateListener(host string) (*Device, error) {
	scanner := NewScanner()
	scanner.ServiceTypes = []string{UpdateServiceType}
	return scanner.WaitForDevice(host)
}
