/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package ssdptest provides fake add-in discovery responders, reachable over unicast loopback
// or through the real multicast groups.
package ssdptest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Responder answers every search request it receives with a fixed list of datagrams.
type Responder struct {
	conn     *net.UDPConn
	replies  [][]byte
	interval time.Duration
	requests atomic.Int32
	wg       sync.WaitGroup
	lastReq  atomic.Value
}

// NewResponder starts a responder on an ephemeral loopback port.
// Replies are sent in order, separated by interval.
func NewResponder(interval time.Duration, replies ...[]byte) (*Responder, error) {
	conn, listenErr := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if listenErr != nil {
		return nil, listenErr
	}

	r := &Responder{
		conn:     conn,
		replies:  replies,
		interval: interval,
	}
	r.wg.Add(1)
	go r.serve()
	return r, nil
}

func (r *Responder) serve() {
	defer r.wg.Done()

	buf := make([]byte, 2048)
	for {
		n, from, readErr := r.conn.ReadFromUDP(buf)
		if readErr != nil {
			return
		}
		r.requests.Add(1)
		r.lastReq.Store(string(buf[:n]))

		for i, reply := range r.replies {
			if i > 0 && r.interval > 0 {
				time.Sleep(r.interval)
			}
			if _, writeErr := r.conn.WriteToUDP(reply, from); writeErr != nil {
				return
			}
		}
	}
}

// ErrNoGroupMembership is returned when the multicast group could not be joined on any interface.
var ErrNoGroupMembership = errors.New("could not join the multicast group on any interface")

// NewMulticastResponder starts a responder bound to the group port that joins the group on every
// interface that is up, the way the add-in listens for search requests.
func NewMulticastResponder(group *net.UDPAddr, replies ...[]byte) (*Responder, error) {
	network := "udp6"
	if group.IP.To4() != nil {
		network = "udp4"
	}

	conn, listenErr := net.ListenUDP(network, &net.UDPAddr{Port: group.Port})
	if listenErr != nil {
		return nil, listenErr
	}

	ifaces, ifacesErr := net.Interfaces()
	if ifacesErr != nil {
		_ = conn.Close()
		return nil, ifacesErr
	}

	joined := 0
	groupAddr := &net.UDPAddr{IP: group.IP}
	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagUp == 0 {
			continue
		}

		var joinErr error
		if network == "udp4" {
			joinErr = ipv4.NewPacketConn(conn).JoinGroup(iface, groupAddr)
		} else {
			joinErr = ipv6.NewPacketConn(conn).JoinGroup(iface, groupAddr)
		}
		if joinErr == nil {
			joined++
		}
	}
	if joined == 0 {
		_ = conn.Close()
		return nil, ErrNoGroupMembership
	}

	r := &Responder{
		conn:    conn,
		replies: replies,
	}
	r.wg.Add(1)
	go r.serve()
	return r, nil
}

func (r *Responder) Addr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Requests returns the number of search requests received so far.
func (r *Responder) Requests() int {
	return int(r.requests.Load())
}

// LastRequest returns the payload of the most recent search request.
func (r *Responder) LastRequest() string {
	if v, ok := r.lastReq.Load().(string); ok {
		return v
	}
	return ""
}

func (r *Responder) Close() {
	_ = r.conn.Close()
	r.wg.Wait()
}

// UnicastAttempt delivers the search request straight to a Responder.
type UnicastAttempt struct {
	Target *net.UDPAddr
}

func (a *UnicastAttempt) Name() string {
	return "unicast-test"
}

func (a *UnicastAttempt) Send(_ context.Context, request []byte, _ logr.Logger) (net.PacketConn, error) {
	conn, listenErr := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if listenErr != nil {
		return nil, listenErr
	}
	if _, writeErr := conn.WriteToUDP(request, a.Target); writeErr != nil {
		_ = conn.Close()
		return nil, writeErr
	}
	return conn, nil
}

// FailingAttempt never manages to send the request.
type FailingAttempt struct {
	Label string
}

func (a *FailingAttempt) Name() string {
	return a.Label
}

func (a *FailingAttempt) Send(_ context.Context, _ []byte, _ logr.Logger) (net.PacketConn, error) {
	return nil, fmt.Errorf("%s: no usable interface", a.Label)
}

// Advertisement builds a well-formed add-in response. Extra headers are appended verbatim
// after the standard ones; an empty version omits the SERVER header.
func Advertisement(pid int, port int, version string, extraHeaders ...string) []byte {
	var sb strings.Builder
	sb.WriteString("HTTP/1.1 200 OK\r\n")
	sb.WriteString("ST: fusion_idea:debug\r\n")
	sb.WriteString(fmt.Sprintf("USN: pid:%d\r\n", pid))
	sb.WriteString(fmt.Sprintf("Location: 127.0.0.1:%d\r\n", port))
	if version != "" {
		sb.WriteString(fmt.Sprintf("SERVER: fusion_idea/%s\r\n", version))
	}
	for _, h := range extraHeaders {
		sb.WriteString(h)
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")
	return []byte(sb.String())
}

// RawResponse builds a response from a status line and header lines.
func RawResponse(statusLine string, headers ...string) []byte {
	return []byte(statusLine + "\r\n" + strings.Join(headers, "\r\n") + "\r\n\r\n")
}
