// Package link reports the host's network link state to the update
// controller.
//
// On Linux the state comes from netlink: an interface counts as connected
// when it is administratively up, operationally up (or unknown, as tunnels
// report) and holds a global unicast address. Other platforms use
// net.Interfaces with the same address rule.
package link
