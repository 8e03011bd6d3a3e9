/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package ssdp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/microsoft/fusionidea/internal/networking"
)

const (
	SearchTarget = "fusion_idea:debug"
	ServerPrefix = "fusion_idea/"

	// The only host the add-in is allowed to advertise.
	ControlHost = networking.LocalhostIPv4

	DefaultPort = 1900
)

var (
	// Must match the add-in byte for byte.
	searchRequest = []byte("M-SEARCH * HTTP/1.1\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 1\r\n" +
		"ST: fusion_idea:debug\r\n" +
		"HOST: 127.0.0.1:1900\r\n\r\n")

	usnPattern = regexp.MustCompile(`^pid:(\d+)$`)

	headerTerminator = []byte("\r\n\r\n")
)

// SearchRequest returns a copy of the M-SEARCH datagram payload.
func SearchRequest() []byte {
	return bytes.Clone(searchRequest)
}

// Query identifies the process whose add-in we are looking for.
type Query struct {
	TargetPID int
}

// Response is a single discovery datagram interpreted as an HTTP response.
// Header lookups are case-insensitive and return the first value when a header repeats.
type Response struct {
	StatusCode int
	Header     http.Header
	Raw        []byte
}

// ParseResponse parses a datagram as an HTTP status line followed by headers.
// Anything after the headers is ignored, and a missing terminating blank line is tolerated.
func ParseResponse(datagram []byte) (*Response, error) {
	raw := bytes.Clone(datagram)
	terminated := append(bytes.Clone(raw), headerTerminator...)
	resp, parseErr := http.ReadResponse(bufio.NewReader(bytes.NewReader(terminated)), nil)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: not an HTTP response: %w", errResponseRejected, parseErr)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Raw:        raw,
	}, nil
}

// Advertisement is the control endpoint advertised by the add-in of the target process.
type Advertisement struct {
	PID         int
	ControlHost string
	ControlPort int

	// Nil when the SERVER header is missing or malformed.
	AddinVersion *float64
}

func (a Advertisement) ControlAddress() string {
	return networking.AddressAndPort(a.ControlHost, a.ControlPort)
}

// Validate checks a response against the target process and extracts the advertisement.
// The returned error describes the first rule the response broke.
func (r *Response) Validate(q Query) (Advertisement, error) {
	if r.StatusCode != http.StatusOK {
		return Advertisement{}, rejectf("unexpected status: %d", r.StatusCode)
	}

	st, hasSt := firstHeader(r.Header, "ST")
	if !hasSt {
		return Advertisement{}, rejectf("response missing ST header")
	}
	if st != SearchTarget {
		return Advertisement{}, rejectf("unexpected ST header: %s", st)
	}

	usn, hasUsn := firstHeader(r.Header, "USN")
	if !hasUsn {
		return Advertisement{}, rejectf("response missing USN header")
	}
	usnMatch := usnPattern.FindStringSubmatch(usn)
	if usnMatch == nil {
		return Advertisement{}, rejectf("unexpected format for USN header: %s", usn)
	}
	pid, pidErr := strconv.Atoi(usnMatch[1])
	if pidErr != nil {
		return Advertisement{}, rejectf("unexpected format for USN header: %s", usn)
	}
	if pid != q.TargetPID {
		return Advertisement{}, rejectf("got valid pid %d, which isn't the pid we're looking for", pid)
	}

	location, hasLocation := firstHeader(r.Header, "Location")
	if !hasLocation {
		return Advertisement{}, rejectf("response missing Location header")
	}
	host, portStr, splitErr := net.SplitHostPort(location)
	if splitErr != nil {
		return Advertisement{}, rejectf("unexpected format for Location header: %s", location)
	}
	if host != ControlHost {
		return Advertisement{}, rejectf("got remote location (%s), but expecting localhost", location)
	}
	port, portErr := strconv.Atoi(portStr)
	if portErr != nil || !networking.IsValidPort(port) {
		return Advertisement{}, rejectf("unexpected format for Location header: %s", location)
	}

	return Advertisement{
		PID:          pid,
		ControlHost:  host,
		ControlPort:  port,
		AddinVersion: r.addinVersion(),
	}, nil
}

func (r *Response) addinVersion() *float64 {
	server, hasServer := firstHeader(r.Header, "SERVER")
	if !hasServer || !strings.HasPrefix(server, ServerPrefix) {
		return nil
	}

	version, parseErr := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(server, ServerPrefix)), 64)
	if parseErr != nil {
		return nil
	}
	return &version
}

func firstHeader(h http.Header, name string) (string, bool) {
	values := h.Values(name)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func rejectf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errResponseRejected, fmt.Sprintf(format, args...))
}
