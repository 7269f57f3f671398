package settings

import "net"

// NetworkChecker reports whether any network transport is up.
type NetworkChecker struct {
	// Interfaces defaults to net.Interfaces.
	Interfaces func() ([]net.Interface, error)
	// Addrs defaults to (*net.Interface).Addrs.
	Addrs func(net.Interface) ([]net.Addr, error)
}

// Reachable is true when a non-loopback interface is up and has a global
// unicast address.
func (c NetworkChecker) Reachable() bool {
	list := c.Interfaces
	if list == nil {
		list = net.Interfaces
	}
	addrs := c.Addrs
	if addrs == nil {
		addrs = func(i net.Interface) ([]net.Addr, error) { return i.Addrs() }
	}

	ifaces, err := list()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		as, err := addrs(iface)
		if err != nil {
			continue
		}
		for _, a := range as {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && ip.IsGlobalUnicast() {
				return true
			}
		}
	}
	return false
}
