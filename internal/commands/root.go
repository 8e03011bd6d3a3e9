/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/microsoft/fusionidea/pkg/logger"
	"github.com/microsoft/fusionidea/pkg/security"
)

type rootOptions struct {
	configFile string
	envFile    string
}

func NewRootCommand(log *logger.Logger) (*cobra.Command, error) {
	opts := &rootOptions{}

	// One signing identity per process, shared by every command.
	identity := security.NewIdentityProvider()

	rootCmd := &cobra.Command{
		Use:   "fusionidea",
		Short: "Runs and debugs Python scripts inside a running Fusion 360 instance",
		Long: `fusionidea locates the fusion_idea_addin of a running Fusion 360 process
	and asks it to run a script, optionally under the pydevd debugger.

	The add-in must be installed and running in the target Fusion 360 process.`,
		SilenceUsage:     true,
		PersistentPreRun: LogVersion(log.Logger, "Starting fusionidea"),
	}

	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path of the YAML configuration file (defaults to $"+"FUSION_IDEA_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "Path of a dotenv file with FUSION_IDEA_* settings (defaults to ./.env)")

	if cmd, err := NewVersionCommand(log.Logger); err != nil {
		return nil, fmt.Errorf("could not set up 'version' command: %w", err)
	} else {
		rootCmd.AddCommand(cmd)
	}

	rootCmd.AddCommand(NewRunCommand(log.Logger, opts, identity))
	rootCmd.AddCommand(NewDebugCommand(log.Logger, opts, identity))
	rootCmd.AddCommand(NewProcessesCommand(log.Logger, opts))
	rootCmd.AddCommand(NewFingerprintCommand(identity))

	log.AddLevelFlag(rootCmd.PersistentFlags())

	return rootCmd, nil
}
