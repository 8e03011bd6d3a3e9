/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package process

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	psutil "github.com/shirou/gopsutil/v4/process"
	"github.com/tklauser/ps"
)

// Essentially the same as ps.ErrorProcessNotRunning, but we do not want to
// expose the ps packages outside of this package.
var ErrorProcessNotFound = errors.New("process does not exist")

// ProcessInfo describes a running process.
type ProcessInfo struct {
	PID int

	// CommandLine is the executable followed by its arguments, separated by spaces.
	CommandLine string

	// ExecutablePath is empty if it could not be determined.
	ExecutablePath string

	StartTime time.Time
}

// Lister enumerates running processes.
type Lister func() ([]ProcessInfo, error)

// ListProcesses returns the processes running on this machine.
// Processes that exit while the list is being built are skipped.
func ListProcesses() ([]ProcessInfo, error) {
	procs, listErr := ps.Processes()
	if listErr != nil {
		return nil, fmt.Errorf("could not list processes: %w", listErr)
	}

	retval := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		retval = append(retval, ProcessInfo{
			PID:            p.PID(),
			CommandLine:    commandLine(p),
			ExecutablePath: p.ExecutablePath(),
			StartTime:      p.CreationTime(),
		})
	}
	return retval, nil
}

// commandLine prefers the full command line; the short command name is used when it cannot be read.
func commandLine(p ps.Process) string {
	if p.PID() > 0 && p.PID() <= math.MaxInt32 {
		if proc, procErr := psutil.NewProcess(int32(p.PID())); procErr == nil {
			if cmdline, cmdlineErr := proc.Cmdline(); cmdlineErr == nil && cmdline != "" {
				return cmdline
			}
		}
	}

	if p.ExecutablePath() != "" {
		return p.ExecutablePath()
	}
	return p.Command()
}

// FindProcess returns information about the process with the given PID.
func FindProcess(pid int) (ProcessInfo, error) {
	p, findErr := ps.FindProcess(pid)
	if findErr != nil || p == nil {
		return ProcessInfo{}, fmt.Errorf("%w: %d", ErrorProcessNotFound, pid)
	}

	return ProcessInfo{
		PID:            p.PID(),
		CommandLine:    commandLine(p),
		ExecutablePath: p.ExecutablePath(),
		StartTime:      p.CreationTime(),
	}, nil
}

// CanonicalPath resolves symbolic links and makes the path absolute.
// The path is returned unchanged if it cannot be resolved.
func CanonicalPath(path string) string {
	if path == "" {
		return ""
	}

	abs, absErr := filepath.Abs(path)
	if absErr != nil {
		return path
	}
	resolved, resolveErr := filepath.EvalSymlinks(abs)
	if resolveErr != nil {
		return abs
	}
	return resolved
}

// FindTargetProcesses returns the processes that run the Fusion 360 executable at fusionPath.
// A process matches if its canonical executable path equals the canonical fusion path,
// or if its command line contains the fusion path (as given or canonical), ignoring case.
// Executable path matches win: command line matches are returned only when there are none.
func FindTargetProcesses(procs []ProcessInfo, fusionPath string) []ProcessInfo {
	if fusionPath == "" {
		return nil
	}

	canonicalFusionPath := CanonicalPath(fusionPath)
	configuredLower := strings.ToLower(fusionPath)
	canonicalLower := strings.ToLower(canonicalFusionPath)

	var exeMatches, cmdLineMatches []ProcessInfo
	for _, p := range procs {
		cmdLower := strings.ToLower(p.CommandLine)
		switch {
		case p.ExecutablePath != "" && CanonicalPath(p.ExecutablePath) == canonicalFusionPath:
			exeMatches = append(exeMatches, p)
		case strings.Contains(cmdLower, configuredLower):
			cmdLineMatches = append(cmdLineMatches, p)
		case strings.Contains(cmdLower, canonicalLower):
			cmdLineMatches = append(cmdLineMatches, p)
		}
	}

	if len(exeMatches) > 0 {
		return exeMatches
	}
	return cmdLineMatches
}

// Exclusions lists processes that can never be a Fusion 360 target,
// even though their command line may mention the Fusion 360 executable.
type Exclusions struct {
	PIDs []int

	// ExecutablePath excludes every process running this (canonical) executable.
	ExecutablePath string
}

// CurrentProcessExclusions excludes this program, its parent (usually the launching shell)
// and any other running instance of this program.
func CurrentProcessExclusions() Exclusions {
	ex := Exclusions{PIDs: []int{os.Getpid(), os.Getppid()}}
	if exePath, exeErr := os.Executable(); exeErr == nil {
		ex.ExecutablePath = CanonicalPath(exePath)
	}
	return ex
}

// Apply returns procs without the excluded processes.
func (ex Exclusions) Apply(procs []ProcessInfo) []ProcessInfo {
	retval := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		if slices.Contains(ex.PIDs, p.PID) {
			continue
		}
		if ex.ExecutablePath != "" && p.ExecutablePath != "" && CanonicalPath(p.ExecutablePath) == ex.ExecutablePath {
			continue
		}
		retval = append(retval, p)
	}
	return retval
}
