// Copyright (c) Microsoft Corporation. All rights reserved.

package networking

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/net/nettest"
)

const (
	// Loopback address the add-in listens on and connects back to.
	LocalhostIPv4 = "127.0.0.1"

	InvalidPort = -1
)

// ErrSocketBind is returned when a local listening port cannot be allocated.
var ErrSocketBind = errors.New("unable to allocate a local listening port")

// NetInterface is a network interface together with the addresses bound to it.
type NetInterface struct {
	net.Interface
	Addrs []net.Addr
}

// InterfaceSource enumerates network interfaces. Tests substitute a fixed list.
type InterfaceSource func() ([]NetInterface, error)

// SystemInterfaces returns the interfaces of the local machine with their addresses.
// Interfaces whose addresses cannot be read are returned with an empty address list.
func SystemInterfaces() ([]NetInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("could not enumerate network interfaces: %w", err)
	}

	retval := make([]NetInterface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, addrsErr := iface.Addrs()
		if addrsErr != nil {
			addrs = nil
		}
		retval = append(retval, NetInterface{Interface: iface, Addrs: addrs})
	}
	return retval, nil
}

// HasIPv6Address reports whether at least one IPv6 (non IPv4-mapped) address is bound to the interface.
func (ni NetInterface) HasIPv6Address() bool {
	for _, addr := range ni.Addrs {
		var ip net.IP
		switch a := addr.(type) {
		case *net.IPNet:
			ip = a.IP
		case *net.IPAddr:
			ip = a.IP
		default:
			continue
		}
		if ip.To4() == nil && len(ip.To16()) == net.IPv6len {
			return true
		}
	}
	return false
}

// SupportsMulticast reports whether the interface is flagged as multicast-capable.
func (ni NetInterface) SupportsMulticast() bool {
	return ni.Flags&net.FlagMulticast != 0
}

// MulticastIPv6Interfaces selects the interfaces that support multicast and have an IPv6 address bound.
func MulticastIPv6Interfaces(ifaces []NetInterface) []NetInterface {
	var retval []NetInterface
	for _, iface := range ifaces {
		if iface.SupportsMulticast() && iface.HasIPv6Address() {
			retval = append(retval, iface)
		}
	}
	return retval
}

// ListenLocalTCP binds a TCP listener to an ephemeral port on the IPv4 loopback address.
func ListenLocalTCP() (*net.TCPListener, error) {
	listener, listenErr := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.ParseIP(LocalhostIPv4), Port: 0})
	if listenErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrSocketBind, listenErr)
	}
	return listener, nil
}

// ListenerPort returns the local port a listener is bound to, or InvalidPort.
func ListenerPort(listener net.Listener) int {
	if listener == nil {
		return InvalidPort
	}
	if tcpAddr, isTcp := listener.Addr().(*net.TCPAddr); isTcp {
		return tcpAddr.Port
	}
	return InvalidPort
}

func IpToString(ip net.IP) string {
	var address string
	// The order of checks is significant here
	if ip4 := ip.To4(); len(ip4) == net.IPv4len {
		address = ip4.String()
	} else if ip6 := ip.To16(); len(ip6) == net.IPv6len {
		address = fmt.Sprintf("[%s]", ip6.String())
	} else {
		// Not sure what kind address this is, but it is worth trying
		address = ip.String()
	}
	return address
}

func IsValidPort(port int) bool {
	return port >= 1 && port <= 65535
}

func IsValidIP(ip net.IP) bool {
	if ip.To4() != nil && nettest.SupportsIPv4() {
		return true
	} else if len(ip.To16()) == net.IPv6len && nettest.SupportsIPv6() {
		return true
	}

	return false
}

func AddressAndPort(address string, port int) string {
	return net.JoinHostPort(address, fmt.Sprintf("%d", port))
}
