/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package handshake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/microsoft/fusionidea/internal/networking"
)

const (
	DefaultTimeout = 10 * time.Second

	contentType = "application/json; utf-8"
)

// ErrHandshakeFailed is returned when the add-in did not accept the injection request.
var ErrHandshakeFailed = errors.New("handshake failed")

// IsHandshakeError returns true if the error came from delivering the injection request.
func IsHandshakeError(err error) bool {
	return errors.Is(err, ErrHandshakeFailed)
}

// ClientConfig contains configuration for the handshake client.
type ClientConfig struct {
	// Signer signs every request; usually the process identity provider.
	Signer Signer

	// HTTPClient defaults to a client without a global timeout; Timeout is applied per request.
	HTTPClient *http.Client

	// Timeout bounds a single POST, including reading the response. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Logger is the logger for the client.
	Logger logr.Logger
}

// Client delivers signed injection requests to the add-in control port.
// Each Send is a single attempt; retrying is the caller's decision.
type Client struct {
	config ClientConfig
	log    logr.Logger
}

func NewClient(config ClientConfig) *Client {
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	return &Client{
		config: config,
		log:    log.WithName("handshake"),
	}
}

// Send posts the signed request to http://<host>:<port>/ and waits for a 200 response.
func (c *Client) Send(ctx context.Context, host string, port int, req InjectionRequest) error {
	envelope, envelopeErr := NewSignedEnvelope(req, c.config.Signer)
	if envelopeErr != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, envelopeErr)
	}

	body, marshalErr := json.Marshal(envelope)
	if marshalErr != nil {
		return fmt.Errorf("%w: failed to marshal signed envelope: %w", ErrHandshakeFailed, marshalErr)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/", networking.AddressAndPort(host, port))
	httpReq, reqErr := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, reqErr)
	}
	httpReq.Header.Set("Content-Type", contentType)

	c.log.V(1).Info("Sending injection request", "URL", url, "Nonce", req.Nonce, "Debug", req.Debug, "DebugPort", req.DebugPort)

	resp, postErr := c.config.HTTPClient.Do(httpReq)
	if postErr != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, postErr)
	}
	defer resp.Body.Close()

	if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
		return fmt.Errorf("%w: failed to read response: %w", ErrHandshakeFailed, drainErr)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: invalid response status %d", ErrHandshakeFailed, resp.StatusCode)
	}

	return nil
}
