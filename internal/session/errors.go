/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"errors"

	"github.com/microsoft/fusionidea/internal/handshake"
	"github.com/microsoft/fusionidea/internal/networking"
	"github.com/microsoft/fusionidea/internal/ssdp"
	"github.com/microsoft/fusionidea/pkg/resiliency"
	"github.com/microsoft/fusionidea/pkg/security"
)

var (
	ErrAlreadyStarted    = errors.New("session has already been started")
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// IsDiscoveryError returns true if the add-in of the target process could not be located.
func IsDiscoveryError(err error) bool {
	return ssdp.IsDiscoveryError(err)
}

func IsHandshakeError(err error) bool {
	return handshake.IsHandshakeError(err)
}

// IsFatalError returns true for errors that are not caused by the add-in or the network,
// and will most likely happen again on the next attempt.
func IsFatalError(err error) bool {
	return errors.Is(err, security.ErrCrypto) ||
		errors.Is(err, networking.ErrSocketBind) ||
		errors.Is(err, resiliency.ErrPanic)
}
