/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package ssdp

import (
	"errors"
)

var (
	// ErrDiscoveryUnavailable is returned when the search request could not be sent over IPv6 or IPv4.
	ErrDiscoveryUnavailable = errors.New("discovery unavailable: could not send SSDP request via ipv6 or ipv4")

	// ErrDiscoveryTimeout is returned when no matching advertisement arrived before the deadline.
	ErrDiscoveryTimeout = errors.New("discovery timed out")

	// errResponseRejected marks a datagram that failed validation. It never leaves the receive loop.
	errResponseRejected = errors.New("response rejected")
)

// IsDiscoveryError returns true if the error means the add-in could not be located.
func IsDiscoveryError(err error) bool {
	return errors.Is(err, ErrDiscoveryUnavailable) ||
		errors.Is(err, ErrDiscoveryTimeout)
}
