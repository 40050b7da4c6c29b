package link

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

func listInterfaces(name string) ([]ifaceState, error) {
	var links []netlink.Link
	if name != "" {
		l, err := netlink.LinkByName(name)
		if err != nil {
			return nil, fmt.Errorf("failed to find interface %s: %w", name, err)
		}
		links = []netlink.Link{l}
	} else {
		all, err := netlink.LinkList()
		if err != nil {
			return nil, fmt.Errorf("failed to list links: %w", err)
		}
		links = all
	}

	states := make([]ifaceState, 0, len(links))
	for _, l := range links {
		attrs := l.Attrs()
		if attrs.Flags&net.FlagLoopback != 0 {
			continue
		}
		// Tunnels and some drivers never report an operational state.
		up := attrs.Flags&net.FlagUp != 0 &&
			(attrs.OperState == netlink.OperUp || attrs.OperState == netlink.OperUnknown)

		addrs, err := netlink.AddrList(l, netlink.FAMILY_ALL)
		if err != nil {
			return nil, fmt.Errorf("failed to list addresses of %s: %w", attrs.Name, err)
		}
		ips := make([]net.IP, 0, len(addrs))
		for _, a := range addrs {
			if a.IPNet != nil {
				ips = append(ips, a.IP)
			}
		}
		states = append(states, ifaceState{Name: attrs.Name, Up: up, Addrs: ips})
	}
	return states, nil
}
