// Package discovery advertises the update agent over mDNS and finds agents
// on the local network.
//
// # Advertisement
//
// Advertiser implements the name-advertisement collaborator of the update
// controller on top of zeroconf. Start publishes "<name>.local" through a
// _device-info._tcp record; RegisterService adds further services such as
// the web updater's "_http._tcp" on port 80. Every record carries the TXT
// entry "updater=remoteupdate" so scanners can tell agents apart from other
// web servers. Stop withdraws all records; the controller calls it whenever
// the link drops and starts again on the next link-up.
//
// # Discovery Process
//
// The scanner side works as follows:
//  1. Broadcasts mDNS queries for "_http._tcp" on the local network
//  2. Keeps entries carrying the updater TXT marker
//  3. Collects host name, address, port and TXT metadata
//  4. Returns the discovered devices after the timeout period
//
// # Usage Example
//
//	devices, err := discovery.ScanForDevices(5 * time.Second)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, device := range devices {
//	    fmt.Printf("Found: %s at %s\n", device.Name, device.BaseURL())
//	}
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Devices must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
