/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package debugbridge accepts the connection pydevd makes back from Fusion 360 and hands it
// to a debugger server running elsewhere.
package debugbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
)

const DefaultDialTimeout = 5 * time.Second

var ErrNoConnection = errors.New("debugger connection was not established")

// Config contains configuration for a Bridge.
type Config struct {
	// UpstreamAddress is the host:port of the debugger server. If empty, the accepted
	// connection is held open until the context is done.
	UpstreamAddress string

	DialTimeout time.Duration

	// AcceptTimeout bounds the wait for the debuggee connection. Zero means no limit.
	AcceptTimeout time.Duration

	Logger logr.Logger
}

// StreamResult describes a finished relay.
type StreamResult struct {
	// BytesFromDebuggee were read from the pydevd connection and written upstream.
	BytesFromDebuggee int64

	// BytesToDebuggee were read from upstream and written to the pydevd connection.
	BytesToDebuggee int64

	// Err is the first unexpected error of either direction.
	Err error
}

type Bridge struct {
	config Config
	log    logr.Logger
}

func NewBridge(config Config) *Bridge {
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}

	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	return &Bridge{
		config: config,
		log:    log.WithName("debugbridge"),
	}
}

// Serve accepts exactly one connection on listener and closes the listener afterwards.
// onAccepted is called as soon as the connection arrives; if it fails, the connection is dropped.
// Serve returns when either side of the relay closes or ctx is done.
func (b *Bridge) Serve(ctx context.Context, listener net.Listener, onAccepted func() error) (*StreamResult, error) {
	acceptCtx, acceptCancel := ctx, context.CancelFunc(func() {})
	if b.config.AcceptTimeout > 0 {
		acceptCtx, acceptCancel = context.WithTimeout(ctx, b.config.AcceptTimeout)
	}
	defer acceptCancel()

	stopClosing := context.AfterFunc(acceptCtx, func() {
		_ = listener.Close()
	})
	incoming, acceptErr := listener.Accept()
	stopClosing()
	_ = listener.Close()

	if acceptErr != nil {
		if acceptCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoConnection, acceptCtx.Err())
		}
		return nil, fmt.Errorf("%w: %w", ErrNoConnection, acceptErr)
	}
	defer incoming.Close()

	b.log.V(1).Info("Accepted debugger connection", "From", incoming.RemoteAddr().String())

	if onAccepted != nil {
		if acceptedErr := onAccepted(); acceptedErr != nil {
			return nil, acceptedErr
		}
	}

	if b.config.UpstreamAddress == "" {
		<-ctx.Done()
		return &StreamResult{}, nil
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, b.config.DialTimeout)
	defer dialCancel()
	var d net.Dialer
	outgoing, dialErr := d.DialContext(dialCtx, "tcp", b.config.UpstreamAddress)
	if dialErr != nil {
		return nil, fmt.Errorf("could not connect to the debugger at %s: %w", b.config.UpstreamAddress, dialErr)
	}
	defer outgoing.Close()

	b.log.V(1).Info("Relaying debugger connection", "Upstream", b.config.UpstreamAddress)
	result := relay(ctx, incoming, outgoing)
	b.log.V(1).Info("Debugger connection closed",
		"BytesFromDebuggee", result.BytesFromDebuggee,
		"BytesToDebuggee", result.BytesToDebuggee,
	)
	return result, nil
}

// relay copies data both ways until one side is done, then shuts down the other.
func relay(ctx context.Context, debuggee net.Conn, upstream net.Conn) *StreamResult {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = debuggee.Close()
			_ = upstream.Close()
		})
	}
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var wg sync.WaitGroup
	var fromErr, toErr error
	result := &StreamResult{}

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer closeBoth()
		result.BytesFromDebuggee, fromErr = io.Copy(upstream, debuggee)
	}()
	go func() {
		defer wg.Done()
		defer closeBoth()
		result.BytesToDebuggee, toErr = io.Copy(debuggee, upstream)
	}()
	wg.Wait()

	for _, err := range []error{fromErr, toErr} {
		if err != nil && !isExpectedConnCloseErr(err) {
			result.Err = err
			break
		}
	}
	return result
}

// Used to suppress reporting of errors that are expected when the connection is closed.
func isExpectedConnCloseErr(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET)
}
