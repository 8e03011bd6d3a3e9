/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/davidwartell/go-onecontext/onecontext"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/microsoft/fusionidea/internal/advisory"
	"github.com/microsoft/fusionidea/internal/handshake"
	"github.com/microsoft/fusionidea/internal/networking"
	"github.com/microsoft/fusionidea/internal/ssdp"
	"github.com/microsoft/fusionidea/pkg/concurrency"
	"github.com/microsoft/fusionidea/pkg/resiliency"
)

const troubleshootingURL = "https://github.com/JesusFreke/fusion_idea_addin/wiki/Installing-the-add-in-in-Fusion-360"

// Config describes a single injection.
type Config struct {
	// TargetPID is the process ID of the Fusion 360 instance to inject into.
	TargetPID int

	// ScriptPath is the script to run. Empty means the add-in only starts the debugger.
	ScriptPath string

	Debug bool

	Console Console
	Handle  ProcessHandle
}

// Result is the outcome of the connection phase of a session.
type Result struct {
	// Advertisement is the add-in endpoint that accepted the request. Zero if Err is set.
	Advertisement ssdp.Advertisement

	// DebugPort is the local port the debugger connection will arrive on.
	DebugPort int

	Err error
}

type Session struct {
	env    *Environment
	config Config
	id     uuid.UUID
	log    logr.Logger

	lock     sync.Mutex
	state    State
	listener *net.TCPListener
	result   *concurrency.OneTimeJob[Result]
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Listener returns the local socket the debugger connection will arrive on, binding it on first use.
func (s *Session) Listener() (*net.TCPListener, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.listener != nil {
		return s.listener, nil
	}

	listener, listenErr := networking.ListenLocalTCP()
	if listenErr != nil {
		return nil, listenErr
	}
	s.listener = listener
	return listener, nil
}

// Execute starts the session in the background and returns immediately.
// The returned job completes once the add-in accepted the request or the session failed.
func (s *Session) Execute(ctx context.Context) (*concurrency.OneTimeJob[Result], error) {
	if !s.result.TryTake() {
		return nil, ErrAlreadyStarted
	}

	if transitionErr := s.transition(StateDiscovering); transitionErr != nil {
		return nil, transitionErr
	}

	fingerprint, fingerprintErr := s.env.identity.Fingerprint()
	if fingerprintErr != nil {
		s.fail(fingerprintErr)
		return s.result, nil
	}
	s.writeLine("Public key hash: "+fingerprint, ChannelSystem)

	enqueueErr := s.env.queue.Enqueue(func(workCtx context.Context) {
		runCtx, cancel := onecontext.Merge(ctx, workCtx)
		defer cancel()

		s.run(runCtx)
	})
	if enqueueErr != nil {
		s.fail(fmt.Errorf("could not schedule the session: %w", enqueueErr))
	}

	return s.result, nil
}

func (s *Session) run(ctx context.Context) {
	var adv ssdp.Advertisement
	var debugPort int

	connectErr := resiliency.CallWithPanicCapture(s.log, func() error {
		var err error
		adv, debugPort, err = s.connect(ctx)
		return err
	})
	if connectErr != nil {
		s.fail(connectErr)
		return
	}

	s.log.Info("Add-in accepted the request", "ControlPort", adv.ControlPort, "DebugPort", debugPort)
	s.result.Complete(Result{Advertisement: adv, DebugPort: debugPort})
}

func (s *Session) connect(ctx context.Context) (ssdp.Advertisement, int, error) {
	adv, discoverErr := s.env.discoverer.Discover(ctx, ssdp.Query{TargetPID: s.config.TargetPID})
	if discoverErr != nil {
		return ssdp.Advertisement{}, 0, discoverErr
	}
	if transitionErr := s.transition(StateHandshaking); transitionErr != nil {
		return ssdp.Advertisement{}, 0, transitionErr
	}

	if adv.AddinVersion != nil {
		if notice, hasNotice := advisory.UpgradeNotice(*adv.AddinVersion, s.env.versions.LatestKnownVersion()); hasNotice {
			s.writeLine(strings.TrimSuffix(notice, "\n"), ChannelSystem)
		}
	}

	listener, listenErr := s.Listener()
	if listenErr != nil {
		return ssdp.Advertisement{}, 0, listenErr
	}
	debugPort := networking.ListenerPort(listener)

	sendErr := s.env.client.Send(ctx, adv.ControlHost, adv.ControlPort, handshake.InjectionRequest{
		ScriptPath: s.config.ScriptPath,
		Debug:      s.config.Debug,
		PydevdPath: s.env.pydevdPath,
		Nonce:      s.env.nonces.Next(),
		DebugPort:  debugPort,
	})
	if sendErr != nil {
		return ssdp.Advertisement{}, 0, sendErr
	}

	if transitionErr := s.transition(StateAwaitingDebugConnection); transitionErr != nil {
		return ssdp.Advertisement{}, 0, transitionErr
	}
	return adv, debugPort, nil
}

// Complete records that the debugger connection was accepted.
func (s *Session) Complete() error {
	return s.transition(StateCompleted)
}

// Abort fails a session that is still waiting for the debugger connection.
func (s *Session) Abort(cause error) error {
	if transitionErr := s.transition(StateFailed); transitionErr != nil {
		return transitionErr
	}
	s.reportFailure(cause)
	return nil
}

func (s *Session) fail(cause error) {
	if transitionErr := s.transition(StateFailed); transitionErr != nil {
		s.log.Error(transitionErr, "Could not mark the session as failed")
	}
	s.reportFailure(cause)
	s.result.Complete(Result{Err: cause})
}

func (s *Session) reportFailure(cause error) {
	if IsDiscoveryError(cause) {
		s.writeLine(fmt.Sprintf("Could not contact Fusion 360 process %d. Is the add-in running?", s.config.TargetPID), ChannelSystem)
		s.writeLine(fmt.Sprintf("See %s for more details.", troubleshootingURL), ChannelSystem)
	}
	s.writeLine("Encountered error while attempting to connect to Fusion.", ChannelSystem)
	s.writeLine(cause.Error(), ChannelStderr)

	if errors.Is(cause, context.Canceled) {
		s.log.V(1).Info("Session cancelled")
	} else {
		s.log.Error(cause, "Encountered error while attempting to connect to Fusion")
	}

	s.closeListener()
	if s.config.Handle != nil {
		s.config.Handle.Terminate()
	}
}

func (s *Session) closeListener() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.listener != nil {
		if closeErr := s.listener.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			s.log.V(1).Info("Could not close the debug listener", "Error", closeErr.Error())
		}
	}
}

func (s *Session) transition(to State) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.state.canMoveTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}

	s.log.V(1).Info("Session state changed", "From", s.state.String(), "To", to.String())
	s.state = to
	return nil
}

func (s *Session) writeLine(text string, ch Channel) {
	if s.config.Console != nil {
		s.config.Console.WriteLine(text, ch)
	}
}
