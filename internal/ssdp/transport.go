/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package ssdp

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/go-logr/logr"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/microsoft/fusionidea/internal/networking"
)

var (
	IPv6MulticastGroup = &net.UDPAddr{IP: net.ParseIP("ff01:fb68:e6b7:45f9:4acc:2559:6c6e:c014"), Port: DefaultPort}
	IPv4MulticastGroup = &net.UDPAddr{IP: net.ParseIP("239.172.243.75"), Port: DefaultPort}
)

// Attempt is one way of delivering the search request.
// On success it returns the socket the responses will arrive on; the caller closes it.
type Attempt interface {
	Name() string
	Send(ctx context.Context, request []byte, log logr.Logger) (net.PacketConn, error)
}

// DefaultAttempts returns the IPv6 attempt followed by the IPv4 fallback.
func DefaultAttempts() []Attempt {
	return []Attempt{
		&IPv6Attempt{Group: IPv6MulticastGroup, Interfaces: networking.SystemInterfaces},
		&IPv4Attempt{Group: IPv4MulticastGroup},
	}
}

// sendFirst tries the attempts in order and returns the socket of the first one that succeeds.
func sendFirst(ctx context.Context, attempts []Attempt, request []byte, log logr.Logger) (net.PacketConn, error) {
	var attemptErrs []error

	for _, attempt := range attempts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		conn, sendErr := attempt.Send(ctx, request, log)
		if sendErr == nil {
			log.V(1).Info("SSDP request sent", "Attempt", attempt.Name())
			return conn, nil
		}

		log.V(1).Info("SSDP attempt failed", "Attempt", attempt.Name(), "Error", sendErr.Error())
		attemptErrs = append(attemptErrs, fmt.Errorf("%s: %w", attempt.Name(), sendErr))
	}

	return nil, fmt.Errorf("%w: %w", ErrDiscoveryUnavailable, errors.Join(attemptErrs...))
}

// IPv6Attempt sends the request on every multicast-capable interface that has an IPv6 address.
type IPv6Attempt struct {
	Group      *net.UDPAddr
	Interfaces networking.InterfaceSource
}

func (a *IPv6Attempt) Name() string {
	return "ipv6"
}

func (a *IPv6Attempt) Send(_ context.Context, request []byte, log logr.Logger) (net.PacketConn, error) {
	if !networking.IsValidIP(a.Group.IP) {
		return nil, fmt.Errorf("ipv6 is not supported on this host")
	}

	ifaces, ifacesErr := a.Interfaces()
	if ifacesErr != nil {
		return nil, ifacesErr
	}
	candidates := networking.MulticastIPv6Interfaces(ifaces)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no multicast-capable interface with an ipv6 address")
	}

	conn, listenErr := net.ListenPacket("udp6", "[::]:0")
	if listenErr != nil {
		return nil, fmt.Errorf("could not open ipv6 socket: %w", listenErr)
	}

	pc := ipv6.NewPacketConn(conn)
	if loopbackErr := pc.SetMulticastLoopback(true); loopbackErr != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not enable multicast loopback: %w", loopbackErr)
	}

	sent := false
	for i := range candidates {
		iface := candidates[i].Interface
		if ifaceErr := pc.SetMulticastInterface(&iface); ifaceErr != nil {
			log.V(1).Info("ipv6 multicast failed", "Interface", iface.Name, "Error", ifaceErr.Error())
			continue
		}
		if _, writeErr := pc.WriteTo(request, nil, a.Group); writeErr != nil {
			log.V(1).Info("ipv6 multicast failed", "Interface", iface.Name, "Error", writeErr.Error())
			continue
		}
		sent = true
	}

	if !sent {
		_ = conn.Close()
		return nil, fmt.Errorf("couldn't send ipv6 ssdp packet on any interface")
	}

	return conn, nil
}

// IPv4Attempt sends the request to the IPv4 group from a socket bound to the loopback address.
type IPv4Attempt struct {
	Group *net.UDPAddr
}

func (a *IPv4Attempt) Name() string {
	return "ipv4"
}

func (a *IPv4Attempt) Send(_ context.Context, request []byte, _ logr.Logger) (net.PacketConn, error) {
	conn, listenErr := net.ListenPacket("udp4", networking.AddressAndPort(networking.LocalhostIPv4, 0))
	if listenErr != nil {
		return nil, fmt.Errorf("could not open ipv4 socket: %w", listenErr)
	}

	pc := ipv4.NewPacketConn(conn)
	if loopbackErr := pc.SetMulticastLoopback(true); loopbackErr != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not enable multicast loopback: %w", loopbackErr)
	}

	if _, writeErr := pc.WriteTo(request, nil, a.Group); writeErr != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not send ipv4 ssdp packet: %w", writeErr)
	}

	return conn, nil
}
