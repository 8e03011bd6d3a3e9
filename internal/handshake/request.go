/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package handshake

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/tidwall/sjson"
)

// NonceCounter hands out strictly increasing nonces, starting at 1.
// One counter is shared by every session of the process.
type NonceCounter struct {
	last atomic.Uint64
}

func (nc *NonceCounter) Next() uint64 {
	return nc.last.Add(1)
}

// InjectionRequest asks the add-in to run (and optionally debug) a script.
type InjectionRequest struct {
	// ScriptPath is the absolute path of the script to run. Empty means "attach only".
	ScriptPath string

	// Debug asks the add-in to start pydevd before running the script.
	Debug bool

	// PydevdPath is the absolute path of the pydevd distribution the add-in should import.
	PydevdPath string

	Nonce uint64

	// DebugPort is the local port pydevd connects back to.
	DebugPort int
}

// Message returns the JSON text that gets signed.
// Keys appear in a fixed order and all values are strings.
func (r InjectionRequest) Message() (string, error) {
	debug := "0"
	if r.Debug {
		debug = "1"
	}

	type field struct {
		key   string
		value string
	}
	fields := []field{
		{"debug", debug},
		{"pydevd_path", r.PydevdPath},
		{"nonce", strconv.FormatUint(r.Nonce, 10)},
		{"debug_port", strconv.Itoa(r.DebugPort)},
	}
	if r.ScriptPath != "" {
		fields = append([]field{{"script", r.ScriptPath}}, fields...)
	}

	message := []byte("{}")
	for _, f := range fields {
		var setErr error
		message, setErr = sjson.SetBytes(message, f.key, f.value)
		if setErr != nil {
			return "", fmt.Errorf("failed to build injection request: %w", setErr)
		}
	}
	return string(message), nil
}

// Signer produces signatures the add-in can verify with the accompanying public key.
type Signer interface {
	Sign(message string) ([]byte, error)
	PublicKeyNumbers() (modulus string, exponent string, err error)
}

// SignedEnvelope is the body of the handshake POST.
type SignedEnvelope struct {
	// Message is the JSON-encoded InjectionRequest, exactly as signed.
	Message string `json:"message"`

	// Signature is the upper-case hex SHA1withRSA signature of Message.
	Signature string `json:"signature"`

	PubkeyModulus  string `json:"pubkey_modulus"`
	PubkeyExponent string `json:"pubkey_exponent"`
}

// NewSignedEnvelope serializes and signs the request.
func NewSignedEnvelope(req InjectionRequest, signer Signer) (*SignedEnvelope, error) {
	message, messageErr := req.Message()
	if messageErr != nil {
		return nil, messageErr
	}

	signature, signErr := signer.Sign(message)
	if signErr != nil {
		return nil, fmt.Errorf("failed to sign injection request: %w", signErr)
	}

	modulus, exponent, keyErr := signer.PublicKeyNumbers()
	if keyErr != nil {
		return nil, fmt.Errorf("failed to read public key: %w", keyErr)
	}

	return &SignedEnvelope{
		Message:        message,
		Signature:      strings.ToUpper(hex.EncodeToString(signature)),
		PubkeyModulus:  modulus,
		PubkeyExponent: exponent,
	}, nil
}
