/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package process

import (
	"os"
	"path/filepath"
	"sort"
)

const (
	windowsDeployRoot    = "AppData/Local/Autodesk/webdeploy/production"
	windowsExecutable    = "Fusion360.exe"
	darwinExecutablePath = "Library/Application Support/Autodesk/webdeploy/production/Autodesk Fusion 360.app/Contents/MacOS/Autodesk Fusion 360"
)

// AutoDetectFusionPath looks for the Fusion 360 executable in its default install location
// under homeDir. Returns an empty string if nothing was found or the OS is not supported.
func AutoDetectFusionPath(homeDir string, goos string) string {
	if homeDir == "" {
		return ""
	}

	switch goos {
	case "windows":
		return autoDetectFusionPathWindows(homeDir)
	case "darwin":
		candidate := filepath.Join(homeDir, filepath.FromSlash(darwinExecutablePath))
		if isFile(candidate) {
			return candidate
		}
		return ""
	default:
		return ""
	}
}

// Fusion 360 deploys every version into its own hash-named folder.
func autoDetectFusionPathWindows(homeDir string) string {
	startPath := filepath.Join(homeDir, filepath.FromSlash(windowsDeployRoot))
	entries, readErr := os.ReadDir(startPath)
	if readErr != nil {
		return ""
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(startPath, entry.Name(), windowsExecutable)
		if isFile(candidate) {
			return CanonicalPath(candidate)
		}
	}
	return ""
}

func isFile(path string) bool {
	info, statErr := os.Stat(path)
	return statErr == nil && !info.IsDir()
}
