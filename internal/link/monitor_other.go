//go:build !linux

package link

import (
	"fmt"
	"net"
)

func listInterfaces(name string) ([]ifaceState, error) {
	var ifaces []net.Interface
	if name != "" {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("failed to find interface %s: %w", name, err)
		}
		ifaces = []net.Interface{*iface}
	} else {
		all, err := net.Interfaces()
		if err != nil {
			return nil, fmt.Errorf("failed to list interfaces: %w", err)
		}
		ifaces = all
	}

	states := make([]ifaceState, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			return nil, fmt.Errorf("failed to list addresses of %s: %w", iface.Name, err)
		}
		var ips []net.IP
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok {
				ips = append(ips, ipnet.IP)
			}
		}
		states = append(states, ifaceState{
			Name:  iface.Name,
			Up:    iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagRunning != 0,
			Addrs: ips,
		})
	}
	return states, nil
}
