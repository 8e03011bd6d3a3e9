/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package debugbridge_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/microsoft/fusionidea/internal/debugbridge"
	"github.com/microsoft/fusionidea/internal/networking"
	"github.com/microsoft/fusionidea/pkg/testutil"
)

type serveOutcome struct {
	result *debugbridge.StreamResult
	err    error
}

// startEchoServer answers every line with the same line.
func startEchoServer(t *testing.T) *net.TCPListener {
	listener, err := networking.ListenLocalTCP()
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, acceptErr := listener.Accept()
			if acceptErr != nil {
				return
			}
			go func() {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					if _, writeErr := conn.Write(append(scanner.Bytes(), '\n')); writeErr != nil {
						return
					}
				}
			}()
		}
	}()
	return listener
}

func dialListener(t *testing.T, listener *net.TCPListener) net.Conn {
	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	return conn
}

func TestBridgeRelaysToUpstream(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	upstream := startEchoServer(t)
	listener, listenErr := networking.ListenLocalTCP()
	require.NoError(t, listenErr)

	bridge := debugbridge.NewBridge(debugbridge.Config{
		UpstreamAddress: upstream.Addr().String(),
		Logger:          testutil.NewLogForTesting(t.Name()),
	})

	var accepted atomic.Int32
	outcome := make(chan serveOutcome, 1)
	go func() {
		result, err := bridge.Serve(ctx, listener, func() error {
			accepted.Add(1)
			return nil
		})
		outcome <- serveOutcome{result, err}
	}()

	debuggee := dialListener(t, listener)
	_, writeErr := debuggee.Write([]byte("CMD_VERSION\n"))
	require.NoError(t, writeErr)

	reply, readErr := bufio.NewReader(debuggee).ReadString('\n')
	require.NoError(t, readErr)
	require.Equal(t, "CMD_VERSION\n", reply)
	require.Equal(t, int32(1), accepted.Load())

	require.NoError(t, debuggee.Close())
	o := <-outcome
	require.NoError(t, o.err)
	require.NoError(t, o.result.Err)
	require.Equal(t, int64(len("CMD_VERSION\n")), o.result.BytesFromDebuggee)
	require.Equal(t, int64(len("CMD_VERSION\n")), o.result.BytesToDebuggee)
}

func TestBridgeStopsWaitingWhenContextEnds(t *testing.T) {
	t.Parallel()

	listener, listenErr := networking.ListenLocalTCP()
	require.NoError(t, listenErr)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	called := false
	_, err := debugbridge.NewBridge(debugbridge.Config{}).Serve(ctx, listener, func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, debugbridge.ErrNoConnection)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, called)
}

func TestBridgeDropsConnectionWhenAcceptCallbackFails(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	listener, listenErr := networking.ListenLocalTCP()
	require.NoError(t, listenErr)

	callbackErr := errors.New("session is no longer waiting")
	outcome := make(chan serveOutcome, 1)
	go func() {
		result, err := debugbridge.NewBridge(debugbridge.Config{}).Serve(ctx, listener, func() error {
			return callbackErr
		})
		outcome <- serveOutcome{result, err}
	}()

	debuggee := dialListener(t, listener)
	defer debuggee.Close()

	o := <-outcome
	require.ErrorIs(t, o.err, callbackErr)

	_ = debuggee.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, readErr := debuggee.Read(make([]byte, 1))
	require.Error(t, readErr)
}

func TestBridgeHoldsConnectionWithoutUpstream(t *testing.T) {
	t.Parallel()

	listener, listenErr := networking.ListenLocalTCP()
	require.NoError(t, listenErr)

	ctx, cancel := context.WithCancel(context.Background())
	outcome := make(chan serveOutcome, 1)
	acceptedCh := make(chan struct{})
	go func() {
		result, err := debugbridge.NewBridge(debugbridge.Config{}).Serve(ctx, listener, func() error {
			close(acceptedCh)
			return nil
		})
		outcome <- serveOutcome{result, err}
	}()

	debuggee := dialListener(t, listener)
	defer debuggee.Close()
	<-acceptedCh

	select {
	case <-outcome:
		require.Fail(t, "Serve returned before the context ended")
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	o := <-outcome
	require.NoError(t, o.err)
}

func TestBridgeAcceptTimeout(t *testing.T) {
	t.Parallel()

	listener, listenErr := networking.ListenLocalTCP()
	require.NoError(t, listenErr)

	start := time.Now()
	_, err := debugbridge.NewBridge(debugbridge.Config{AcceptTimeout: 100 * time.Millisecond}).Serve(context.Background(), listener, nil)
	require.ErrorIs(t, err, debugbridge.ErrNoConnection)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 5*time.Second)
}
