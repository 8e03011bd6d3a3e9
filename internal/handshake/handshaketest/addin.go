/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package handshaketest provides a fake add-in control endpoint that verifies signed injection requests.
package handshaketest

import (
	"crypto/rsa"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/microsoft/fusionidea/pkg/security"
)

// ReceivedRequest is an injection request as decoded by the fake add-in.
type ReceivedRequest struct {
	ContentType string
	Body        string
	Message     string
	Script      string
	HasScript   bool
	Debug       string
	PydevdPath  string
	Nonce       string
	DebugPort   string

	// VerifyErr is nil when the signature matched the advertised public key.
	VerifyErr error
}

// Addin is an HTTP server that records injection requests and answers with a configurable status.
type Addin struct {
	server *httptest.Server

	lock     sync.Mutex
	status   int
	received []ReceivedRequest
	onRecv   func(ReceivedRequest)
}

// NewAddin starts a fake add-in on 127.0.0.1 answering with status.
func NewAddin(status int) *Addin {
	a := &Addin{status: status}
	a.server = httptest.NewServer(http.HandlerFunc(a.handle))
	return a
}

// OnRequest registers a callback invoked (on the server goroutine) for every decoded request.
func (a *Addin) OnRequest(f func(ReceivedRequest)) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.onRecv = f
}

func (a *Addin) handle(w http.ResponseWriter, r *http.Request) {
	body, readErr := io.ReadAll(r.Body)
	if readErr != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	rr := Decode(string(body))
	rr.ContentType = r.Header.Get("Content-Type")

	a.lock.Lock()
	a.received = append(a.received, rr)
	status := a.status
	onRecv := a.onRecv
	a.lock.Unlock()

	if onRecv != nil {
		onRecv(rr)
	}

	w.WriteHeader(status)
	_, _ = w.Write([]byte("ok"))
}

// Decode parses a signed envelope and verifies its signature.
func Decode(body string) ReceivedRequest {
	envelope := gjson.Parse(body)
	message := envelope.Get("message").String()
	inner := gjson.Parse(message)
	script := inner.Get("script")

	rr := ReceivedRequest{
		Body:       body,
		Message:    message,
		Script:     script.String(),
		HasScript:  script.Exists(),
		Debug:      inner.Get("debug").String(),
		PydevdPath: inner.Get("pydevd_path").String(),
		Nonce:      inner.Get("nonce").String(),
		DebugPort:  inner.Get("debug_port").String(),
	}

	rr.VerifyErr = verify(message,
		envelope.Get("signature").String(),
		envelope.Get("pubkey_modulus").String(),
		envelope.Get("pubkey_exponent").String(),
	)
	return rr
}

func verify(message, signatureHex, modulus, exponent string) error {
	n, nOk := new(big.Int).SetString(modulus, 10)
	if !nOk {
		return fmt.Errorf("invalid modulus %q", modulus)
	}
	e, eErr := strconv.Atoi(exponent)
	if eErr != nil {
		return fmt.Errorf("invalid exponent %q: %w", exponent, eErr)
	}
	signature, sigErr := hex.DecodeString(signatureHex)
	if sigErr != nil {
		return fmt.Errorf("invalid signature encoding: %w", sigErr)
	}
	return security.Verify(&rsa.PublicKey{N: n, E: e}, message, signature)
}

// Port returns the TCP port the fake add-in listens on.
func (a *Addin) Port() int {
	return a.server.Listener.Addr().(*net.TCPAddr).Port
}

// Received returns a copy of the requests seen so far.
func (a *Addin) Received() []ReceivedRequest {
	a.lock.Lock()
	defer a.lock.Unlock()
	return append([]ReceivedRequest(nil), a.received...)
}

func (a *Addin) Close() {
	a.server.Close()
}
