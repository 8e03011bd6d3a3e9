/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"fmt"
	"sort"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/microsoft/fusionidea/pkg/process"
)

type processesOptions struct {
	root          *rootOptions
	fusionPath    string
	processLister process.Lister
}

func NewProcessesCommand(log logr.Logger, root *rootOptions) *cobra.Command {
	opts := &processesOptions{root: root, processLister: process.ListProcesses}

	processesCmd := &cobra.Command{
		Use:   "processes",
		Short: "Lists running Fusion 360 processes",
		Long:  `Lists the running processes of the configured (or auto-detected) Fusion 360 executable.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listProcesses(cmd, opts, log.WithName("processes"))
		},
		Args: cobra.NoArgs,
	}

	processesCmd.Flags().StringVar(&opts.fusionPath, "fusion-path", "", "Path of the Fusion 360 executable")
	return processesCmd
}

func listProcesses(cmd *cobra.Command, opts *processesOptions, log logr.Logger) error {
	cfg, cfgErr := loadConfig(opts.root)
	if cfgErr != nil {
		return cfgErr
	}

	path, pathErr := fusionPath(opts.fusionPath, cfg, log)
	if pathErr != nil {
		return fmt.Errorf("%w; use --fusion-path", pathErr)
	}

	procs, listErr := opts.processLister()
	if listErr != nil {
		return listErr
	}

	targets := targetProcesses(procs, path)
	sort.Slice(targets, func(i, j int) bool { return targets[i].PID < targets[j].PID })

	out := cmd.OutOrStdout()
	if len(targets) == 0 {
		_, err := fmt.Fprintf(out, "No running processes of %s\n", path)
		return err
	}
	for _, t := range targets {
		if _, err := fmt.Fprintf(out, "%d\t%s\n", t.PID, t.CommandLine); err != nil {
			return err
		}
	}
	return nil
}
