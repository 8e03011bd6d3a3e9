/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/microsoft/fusionidea/internal/debugbridge"
	"github.com/microsoft/fusionidea/internal/session"
	"github.com/microsoft/fusionidea/pkg/process"
	"github.com/microsoft/fusionidea/pkg/security"
)

const defaultAttachTimeout = 30 * time.Second

type injectOptions struct {
	root          *rootOptions
	pid           int
	scriptPath    string
	fusionPath    string
	debug         bool
	debuggerAddr  string
	attachTimeout time.Duration
	processLister process.Lister
	identity      *security.IdentityProvider
}

func NewRunCommand(log logr.Logger, root *rootOptions, identity *security.IdentityProvider) *cobra.Command {
	opts := &injectOptions{root: root, identity: identity, processLister: process.ListProcesses}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs a script inside a running Fusion 360 process",
		Long: `Runs a script inside a running Fusion 360 process.

	The target process is found via --pid, or by looking for the only running process
	of the configured Fusion 360 executable.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return inject(cmd, opts, log.WithName("run"))
		},
		Args: cobra.NoArgs,
	}

	addTargetFlags(runCmd, opts)
	return runCmd
}

func NewDebugCommand(log logr.Logger, root *rootOptions, identity *security.IdentityProvider) *cobra.Command {
	opts := &injectOptions{root: root, identity: identity, processLister: process.ListProcesses, debug: true}

	debugCmd := &cobra.Command{
		Use:   "debug",
		Short: "Runs a script inside a running Fusion 360 process under the pydevd debugger",
		Long: `Runs a script inside a running Fusion 360 process under the pydevd debugger.

	pydevd connects back to a local port opened by this command. If --debugger-addr is given,
	that connection is relayed to the debugger server listening there. Without a script,
	the debugger is attached to Fusion 360 without running anything.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return inject(cmd, opts, log.WithName("debug"))
		},
		Args: cobra.NoArgs,
	}

	addTargetFlags(debugCmd, opts)
	debugCmd.Flags().StringVar(&opts.debuggerAddr, "debugger-addr", "", "Address (host:port) of the debugger server to relay the pydevd connection to")
	debugCmd.Flags().DurationVar(&opts.attachTimeout, "attach-timeout", defaultAttachTimeout, "How long to wait for pydevd to connect back")
	return debugCmd
}

func addTargetFlags(cmd *cobra.Command, opts *injectOptions) {
	cmd.Flags().IntVar(&opts.pid, "pid", 0, "Process ID of the target Fusion 360 instance")
	cmd.Flags().StringVar(&opts.scriptPath, "script", "", "Path of the Python script to run")
	cmd.Flags().StringVar(&opts.fusionPath, "fusion-path", "", "Path of the Fusion 360 executable, used to find the target process when --pid is not given")
}

func inject(cmd *cobra.Command, opts *injectOptions, log logr.Logger) error {
	ctx := cmd.Context()

	cfg, cfgErr := loadConfig(opts.root)
	if cfgErr != nil {
		return cfgErr
	}

	scriptPath := opts.scriptPath
	if scriptPath != "" {
		absPath, absErr := filepath.Abs(scriptPath)
		if absErr != nil {
			return fmt.Errorf("invalid script path '%s': %w", scriptPath, absErr)
		}
		scriptPath = absPath
	}

	pid, pidErr := resolveTargetPID(opts.pid, opts.fusionPath, cfg, opts.processLister, log)
	if pidErr != nil {
		return pidErr
	}

	envCtx, envCancel := context.WithCancel(ctx)
	defer envCancel()

	envConfig := cfg.EnvironmentConfig()
	envConfig.Identity = opts.identity
	envConfig.Logger = log
	env := session.NewEnvironment(envCtx, envConfig)

	console := session.NewStreamConsole(cmd.OutOrStdout(), cmd.ErrOrStderr())
	defer console.Close()
	handle := session.NewHandle(console)

	s := env.NewSession(session.Config{
		TargetPID:  pid,
		ScriptPath: scriptPath,
		Debug:      opts.debug,
		Console:    console,
		Handle:     handle,
	})

	job, execErr := s.Execute(ctx)
	if execErr != nil {
		return execErr
	}
	result, waitErr := job.WaitResultContext(ctx)
	if waitErr != nil {
		return waitErr
	}
	if result.Err != nil {
		return result.Err
	}

	if !opts.debug {
		console.WriteLine(fmt.Sprintf("Script sent to Fusion 360 process %d.", pid), session.ChannelSystem)
		return finishWithoutDebugger(s, handle)
	}

	return attachDebugger(ctx, s, handle, console, opts, log)
}

// A plain run never gets a debugger connection, so the session ends as soon as the add-in accepts it.
func finishWithoutDebugger(s *session.Session, handle *session.Handle) error {
	listener, listenerErr := s.Listener()
	if listenerErr == nil {
		_ = listener.Close()
	}
	completeErr := s.Complete()
	handle.Terminate()
	return completeErr
}

func attachDebugger(
	ctx context.Context,
	s *session.Session,
	handle *session.Handle,
	console session.Console,
	opts *injectOptions,
	log logr.Logger,
) error {
	listener, listenerErr := s.Listener()
	if listenerErr != nil {
		return listenerErr
	}

	console.WriteLine(fmt.Sprintf("Waiting for the debugger connection on %s.", listener.Addr().String()), session.ChannelSystem)

	bridge := debugbridge.NewBridge(debugbridge.Config{
		UpstreamAddress: opts.debuggerAddr,
		AcceptTimeout:   opts.attachTimeout,
		Logger:          log,
	})

	onAccepted := func() error {
		if completeErr := s.Complete(); completeErr != nil {
			return completeErr
		}
		if opts.debuggerAddr == "" {
			console.WriteLine("Debugger connected. Press Ctrl+C to stop.", session.ChannelSystem)
		} else {
			console.WriteLine("Debugger connected, relaying to "+opts.debuggerAddr+".", session.ChannelSystem)
		}
		return nil
	}

	result, serveErr := bridge.Serve(ctx, listener, onAccepted)
	if serveErr != nil {
		if s.State() == session.StateAwaitingDebugConnection {
			_ = s.Abort(serveErr)
		} else {
			handle.Terminate()
		}
		return serveErr
	}

	handle.Terminate()
	if result.Err != nil && ctx.Err() == nil {
		return result.Err
	}
	return nil
}
