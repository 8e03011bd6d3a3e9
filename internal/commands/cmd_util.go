/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/microsoft/fusionidea/internal/config"
	"github.com/microsoft/fusionidea/pkg/process"
)

var (
	errNoTargetProcess        = errors.New("no running Fusion 360 process was found")
	errAmbiguousTargetProcess = errors.New("more than one Fusion 360 process is running")
	errNoFusionPath           = errors.New("the Fusion 360 executable path is not configured and could not be detected")
)

func IsWindows() bool {
	return runtime.GOOS == "windows"
}

func WithNewline(b []byte) []byte {
	if IsWindows() {
		b = append(b, '\r')
	}
	b = append(b, '\n')
	return b
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	return config.Loader{
		ConfigFile: opts.configFile,
		EnvFile:    opts.envFile,
	}.Load()
}

// fusionPath returns the explicitly given path, then the configured one, then the auto-detected one.
func fusionPath(flagValue string, cfg *config.Config, log logr.Logger) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if cfg.FusionPath != "" {
		return cfg.FusionPath, nil
	}

	homeDir, homeErr := os.UserHomeDir()
	if homeErr != nil {
		log.V(1).Info("Could not determine the home directory", "Error", homeErr.Error())
		return "", errNoFusionPath
	}
	if detected := process.AutoDetectFusionPath(homeDir, runtime.GOOS); detected != "" {
		log.V(1).Info("Detected Fusion 360 executable", "Path", detected)
		return detected, nil
	}
	return "", errNoFusionPath
}

// selectTargetProcess picks the only process in targets, or explains why it cannot.
func selectTargetProcess(targets []process.ProcessInfo, fusionPath string) (int, error) {
	switch len(targets) {
	case 0:
		return 0, fmt.Errorf("%w (executable '%s')", errNoTargetProcess, fusionPath)
	case 1:
		return targets[0].PID, nil
	default:
		pids := make([]int, 0, len(targets))
		for _, t := range targets {
			pids = append(pids, t.PID)
		}
		slices.Sort(pids)
		pidStrings := make([]string, 0, len(pids))
		for _, p := range pids {
			pidStrings = append(pidStrings, strconv.Itoa(p))
		}
		return 0, fmt.Errorf("%w (PIDs %s), use --pid to choose one", errAmbiguousTargetProcess, strings.Join(pidStrings, ", "))
	}
}

func resolveTargetPID(pid int, fusionPathFlag string, cfg *config.Config, lister process.Lister, log logr.Logger) (int, error) {
	if pid > 0 {
		return pid, nil
	}
	if pid < 0 {
		return 0, fmt.Errorf("invalid process ID %d", pid)
	}

	path, pathErr := fusionPath(fusionPathFlag, cfg, log)
	if pathErr != nil {
		return 0, fmt.Errorf("%w; use --pid or --fusion-path", pathErr)
	}

	procs, listErr := lister()
	if listErr != nil {
		return 0, listErr
	}
	return selectTargetProcess(targetProcesses(procs, path), path)
}

// targetProcesses finds the Fusion 360 processes, leaving out this program and the shell that
// started it; both mention the Fusion 360 path on their command line.
func targetProcesses(procs []process.ProcessInfo, fusionPath string) []process.ProcessInfo {
	return process.FindTargetProcesses(process.CurrentProcessExclusions().Apply(procs), fusionPath)
}
