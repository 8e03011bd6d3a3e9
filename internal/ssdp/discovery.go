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
	"os"
	"time"

	"github.com/go-logr/logr"
)

const (
	DefaultTimeout        = 1 * time.Second
	DefaultReceiveTimeout = 1 * time.Second

	maxDatagramSize = 4096
)

// Config contains configuration for a Discoverer.
type Config struct {
	// Timeout bounds the whole receive phase, measured from the moment the request was sent.
	Timeout time.Duration

	// ReceiveTimeout bounds a single socket read.
	ReceiveTimeout time.Duration

	// Attempts are tried in order; the first one that manages to send the request wins.
	// Defaults to DefaultAttempts().
	Attempts []Attempt

	// Logger is the logger for the discoverer.
	Logger logr.Logger
}

// Discoverer locates the add-in control endpoint of a target process.
// It holds no per-discovery state and may be shared between sessions.
type Discoverer struct {
	config Config
	log    logr.Logger
}

func NewDiscoverer(config Config) *Discoverer {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.ReceiveTimeout <= 0 {
		config.ReceiveTimeout = DefaultReceiveTimeout
	}
	if len(config.Attempts) == 0 {
		config.Attempts = DefaultAttempts()
	}

	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	return &Discoverer{
		config: config,
		log:    log.WithName("ssdp"),
	}
}

// Discover sends the search request and waits for the advertisement of the target process.
// It fails with ErrDiscoveryUnavailable if the request could not be sent, and with
// ErrDiscoveryTimeout if no matching response arrived in time.
func (d *Discoverer) Discover(ctx context.Context, q Query) (Advertisement, error) {
	log := d.log.WithValues("TargetPID", q.TargetPID)

	conn, sendErr := sendFirst(ctx, d.config.Attempts, SearchRequest(), log)
	if sendErr != nil {
		return Advertisement{}, sendErr
	}
	defer conn.Close()

	deadline := time.Now().Add(d.config.Timeout)
	if ctxDeadline, hasDeadline := ctx.Deadline(); hasDeadline && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	// Unblock a pending read as soon as the context is done.
	stopUnblocking := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stopUnblocking()

	buf := make([]byte, maxDatagramSize)
	for time.Now().Before(deadline) {
		readDeadline := time.Now().Add(d.config.ReceiveTimeout)
		if readDeadline.After(deadline) {
			readDeadline = deadline
		}
		if deadlineErr := conn.SetReadDeadline(readDeadline); deadlineErr != nil {
			return Advertisement{}, fmt.Errorf("could not set receive timeout: %w", deadlineErr)
		}
		if ctx.Err() != nil {
			return Advertisement{}, ctx.Err()
		}

		n, from, readErr := conn.ReadFrom(buf)
		if readErr != nil {
			if ctx.Err() != nil {
				return Advertisement{}, ctx.Err()
			}
			if isTimeout(readErr) {
				continue
			}
			return Advertisement{}, fmt.Errorf("failed to receive SSDP response: %w", readErr)
		}

		adv, rejectErr := validateDatagram(buf[:n], q)
		if rejectErr != nil {
			log.V(1).Info("Ignoring SSDP response", "From", addrString(from), "Reason", rejectErr.Error())
			continue
		}

		log.V(1).Info("Found add-in", "ControlPort", adv.ControlPort, "From", addrString(from))
		return adv, nil
	}

	return Advertisement{}, fmt.Errorf("%w: did not receive a debug port for pid %d", ErrDiscoveryTimeout, q.TargetPID)
}

func validateDatagram(datagram []byte, q Query) (Advertisement, error) {
	resp, parseErr := ParseResponse(datagram)
	if parseErr != nil {
		return Advertisement{}, parseErr
	}
	return resp.Validate(q)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
