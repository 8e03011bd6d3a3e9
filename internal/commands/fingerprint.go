/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/microsoft/fusionidea/pkg/security"
)

func NewFingerprintCommand(identity *security.IdentityProvider) *cobra.Command {
	var withPEM bool

	fingerprintCmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Prints the public key hash of this process",
		Long: `Prints the public key hash of this process.

	The key pair is generated when the process starts, so every invocation prints a different hash.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ki, identityErr := identity.Identity()
			if identityErr != nil {
				return identityErr
			}

			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintf(out, "Public key hash: %s\n", ki.Fingerprint()); err != nil {
				return err
			}

			if withPEM {
				pemBytes, pemErr := security.PEMEncodePublicKey(ki.PublicKey())
				if pemErr != nil {
					return pemErr
				}
				if _, err := out.Write(pemBytes); err != nil {
					return err
				}
			}
			return nil
		},
		Args: cobra.NoArgs,
	}

	fingerprintCmd.Flags().BoolVar(&withPEM, "pem", false, "Also print the PEM-encoded public key")
	return fingerprintCmd
}
