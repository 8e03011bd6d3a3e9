/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

/*
Package ssdp locates the control endpoint advertised by the Fusion 360 add-in
running inside a specific process.

# Protocol

Discovery is a single M-SEARCH burst followed by a short listening window:

	M-SEARCH * HTTP/1.1
	MAN: "ssdp:discover"
	MX: 1
	ST: fusion_idea:debug
	HOST: 127.0.0.1:1900

The request goes to the IPv6 group ff01:fb68:e6b7:45f9:4acc:2559:6c6e:c014 port 1900
on every multicast-capable interface with an IPv6 address. If that is not possible
the IPv4 group 239.172.243.75 port 1900 is used from a socket bound to 127.0.0.1.

Every add-in on the host answers with a unicast datagram formatted as an HTTP response:

	HTTP/1.1 200 OK
	ST: fusion_idea:debug
	USN: pid:4242
	Location: 127.0.0.1:51000
	SERVER: fusion_idea/2.5

Responses from other processes and unrelated services are expected and ignored.
The first response whose USN names the target process ends discovery.

# Usage

	d := ssdp.NewDiscoverer(ssdp.Config{Logger: log})
	adv, err := d.Discover(ctx, ssdp.Query{TargetPID: pid})
	if errors.Is(err, ssdp.ErrDiscoveryTimeout) {
		// the add-in is probably not running
	}
*/
package ssdp
