/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package security

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// PEM-encodes a public key (PKIX, "PUBLIC KEY" block)
func PEMEncodePublicKey(key *rsa.PublicKey) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("public key is nil")
	}

	der, marshalErr := x509.MarshalPKIXPublicKey(key)
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", marshalErr)
	}

	var buffer bytes.Buffer
	pemBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: der,
	}
	if err := pem.Encode(&buffer, pemBlock); err != nil {
		return nil, fmt.Errorf("failed to PEM encode public key: %w", err)
	}

	return buffer.Bytes(), nil
}
