package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Device represents a device running the update agent, as seen over mDNS
type Device struct {
	// Name is the advertised instance name (the device's host identity)
	Name string

	// Hostname is the mDNS hostname (e.g., "device1.local.")
	Hostname string

	// IP is the preferred address (IPv4 when available)
	IP string

	// Port is the web update portal's port (0 when not advertised)
	Port int

	// UpdatePort is the background update listener's port (0 when not advertised)
	UpdatePort int

	// Metadata contains the mDNS TXT record data
	// Common fields: "updater=remoteupdate", "version=v1.2.0"
	Metadata map[string]string

	// DiscoveredAt is when the device was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the device
func (d *Device) String() string {
	addr := d.Address()
	if d.Port == 0 && d.UpdatePort != 0 {
		addr = d.UpdateAddress()
	}
	return fmt.Sprintf("%s (%s) at %s", d.Name, d.Hostname, addr)
}

// Address returns host:port, bracketing IPv6 addresses
func (d *Device) Address() string {
	return net.JoinHostPort(d.IP, strconv.Itoa(d.Port))
}

// UpdateAddress returns host:port of the update listener, or "" when the
// device does not advertise one.
func (d *Device) UpdateAddress() string {
	if d.UpdatePort == 0 {
		return ""
	}
	return net.JoinHostPort(d.IP, strconv.Itoa(d.UpdatePort))
}

// BaseURL returns the HTTP base URL for the device
func (d *Device) BaseURL() string {
	return "http://" + d.Address()
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (d *Device) GetMetadata(key string) string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata[key]
}

// Matches reports whether host names this device, by instance name or
// hostname, with or without the ".local." suffix.
func (d *Device) Matches(host string) bool {
	host = trimLocal(host)
	return host != "" && (strings.EqualFold(host, d.Name) || strings.EqualFold(host, trimLocal(d.Hostname)))
}

// merge copies the ports another record of the same host advertised.
func (d *Device) merge(other *Device) {
	if d.Port == 0 {
		d.Port = other.Port
	}
	if d.UpdatePort == 0 {
		d.UpdatePort = other.UpdatePort
	}
	if d.Name == "" {
		d.Name = other.Name
	}
	if d.Metadata == nil {
		d.Metadata = make(map[string]string)
	}
	for k, v := range other.Metadata {
		if _, ok := d.Metadata[k]; !ok {
			d.Metadata[k] = v
		}
	}
}

func trimLocal(host string) string {
	host = strings.TrimSuffix(host, ".")
	return strings.TrimSuffix(host, ".local")
}
