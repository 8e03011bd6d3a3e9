/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package ssdp_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"github.com/microsoft/fusionidea/internal/networking"
	"github.com/microsoft/fusionidea/internal/ssdp"
	"github.com/microsoft/fusionidea/internal/ssdp/ssdptest"
	"github.com/microsoft/fusionidea/pkg/testutil"
)

const targetPid = 4242

func newDiscoverer(t *testing.T, attempts ...ssdp.Attempt) *ssdp.Discoverer {
	return ssdp.NewDiscoverer(ssdp.Config{
		Attempts: attempts,
		Logger:   testutil.NewLogForTesting(t.Name()),
	})
}

func startResponder(t *testing.T, interval time.Duration, replies ...[]byte) *ssdptest.Responder {
	responder, err := ssdptest.NewResponder(interval, replies...)
	require.NoError(t, err)
	t.Cleanup(responder.Close)
	return responder
}

func TestDiscoverFindsTargetProcess(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	responder := startResponder(t, 0, ssdptest.Advertisement(targetPid, 51000, "2.5"))
	d := newDiscoverer(t, &ssdptest.UnicastAttempt{Target: responder.Addr()})

	start := time.Now()
	adv, err := d.Discover(ctx, ssdp.Query{TargetPID: targetPid})
	require.NoError(t, err)
	require.Equal(t, 51000, adv.ControlPort)
	require.NotNil(t, adv.AddinVersion)
	assert.InDelta(t, 2.5, *adv.AddinVersion, 1e-9)

	// The first valid response ends discovery without waiting out the deadline.
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.Equal(t, string(ssdp.SearchRequest()), responder.LastRequest())
}

func TestDiscoverSkipsInvalidResponses(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	responder := startResponder(t, 20*time.Millisecond,
		ssdptest.RawResponse("HTTP/1.1 200 OK", "ST: upnp:rootdevice", "USN: uuid:abc", "Location: http://192.168.1.1:80/desc.xml"),
		ssdptest.Advertisement(9999, 40000, "2.5"),
		[]byte("not even http"),
		ssdptest.RawResponse("HTTP/1.1 200 OK", "ST: fusion_idea:debug", "USN: pid:4242", "Location: 10.0.0.5:41000"),
		ssdptest.Advertisement(targetPid, 42000, ""),
		ssdptest.Advertisement(targetPid, 43000, "9.9"),
	)
	d := newDiscoverer(t, &ssdptest.UnicastAttempt{Target: responder.Addr()})

	adv, err := d.Discover(ctx, ssdp.Query{TargetPID: targetPid})
	require.NoError(t, err)
	require.Equal(t, 42000, adv.ControlPort, "the first valid response wins")
	require.Nil(t, adv.AddinVersion)
}

func TestDiscoverTimesOutWithoutResponder(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	// A bound socket that never answers.
	silent, listenErr := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, listenErr)
	defer silent.Close()

	d := newDiscoverer(t, &ssdptest.UnicastAttempt{Target: silent.LocalAddr().(*net.UDPAddr)})

	start := time.Now()
	_, err := d.Discover(ctx, ssdp.Query{TargetPID: targetPid})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ssdp.ErrDiscoveryTimeout)
	require.True(t, ssdp.IsDiscoveryError(err))
	require.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
	require.Less(t, elapsed, 2*time.Second)
}

func TestDiscoverIgnoresOtherPidAndTimesOut(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	responder := startResponder(t, 0, ssdptest.Advertisement(9999, 51000, "2.5"))
	d := newDiscoverer(t, &ssdptest.UnicastAttempt{Target: responder.Addr()})

	_, err := d.Discover(ctx, ssdp.Query{TargetPID: targetPid})
	require.ErrorIs(t, err, ssdp.ErrDiscoveryTimeout)
	require.Equal(t, 1, responder.Requests())
}

func TestDiscoverDeadlineIsNotExtendedByInvalidResponses(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	flood := make([][]byte, 400)
	for i := range flood {
		flood[i] = ssdptest.Advertisement(9999, 51000, "1.0")
	}
	responder := startResponder(t, 5*time.Millisecond, flood...)
	d := newDiscoverer(t, &ssdptest.UnicastAttempt{Target: responder.Addr()})

	start := time.Now()
	_, err := d.Discover(ctx, ssdp.Query{TargetPID: targetPid})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ssdp.ErrDiscoveryTimeout)
	require.Less(t, elapsed, 1500*time.Millisecond, "discovery must stop at the deadline regardless of incoming noise")
}

func TestDiscoverFallsBackToNextAttempt(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	responder := startResponder(t, 0, ssdptest.Advertisement(targetPid, 51000, "2.5"))
	d := newDiscoverer(t,
		&ssdptest.FailingAttempt{Label: "ipv6"},
		&ssdptest.UnicastAttempt{Target: responder.Addr()},
	)

	adv, err := d.Discover(ctx, ssdp.Query{TargetPID: targetPid})
	require.NoError(t, err)
	require.Equal(t, 51000, adv.ControlPort)
}

func TestDiscoverUnavailableWhenAllAttemptsFail(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	d := newDiscoverer(t, &ssdptest.FailingAttempt{Label: "ipv6"}, &ssdptest.FailingAttempt{Label: "ipv4"})

	_, err := d.Discover(ctx, ssdp.Query{TargetPID: targetPid})
	require.ErrorIs(t, err, ssdp.ErrDiscoveryUnavailable)
	require.False(t, errors.Is(err, ssdp.ErrDiscoveryTimeout))
	require.Contains(t, err.Error(), "ipv6")
	require.Contains(t, err.Error(), "ipv4")
}

func TestDiscoverHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	silent, listenErr := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, listenErr)
	defer silent.Close()

	d := ssdp.NewDiscoverer(ssdp.Config{
		Timeout:  10 * time.Second,
		Attempts: []ssdp.Attempt{&ssdptest.UnicastAttempt{Target: silent.LocalAddr().(*net.UDPAddr)}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := d.Discover(ctx, ssdp.Query{TargetPID: targetPid})
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestIPv6AttemptFailsWithoutUsableInterface(t *testing.T) {
	t.Parallel()

	attempt := &ssdp.IPv6Attempt{
		Group: ssdp.IPv6MulticastGroup,
		Interfaces: func() ([]networking.NetInterface, error) {
			return []networking.NetInterface{
				{Interface: net.Interface{Index: 1, Name: "eth0", Flags: net.FlagUp}},
			}, nil
		},
	}

	conn, err := attempt.Send(context.Background(), ssdp.SearchRequest(), logr.Discard())
	require.Error(t, err)
	require.Nil(t, conn)
}

// The multicast tests bind the well-known SSDP port, so they run one at a time.

func discoverViaMulticast(t *testing.T, group *net.UDPAddr, attempt ssdp.Attempt) {
	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	responder, responderErr := ssdptest.NewMulticastResponder(group, ssdptest.Advertisement(targetPid, 51000, "2.5"))
	if responderErr != nil {
		t.Skipf("cannot listen on multicast group %s: %v", group.String(), responderErr)
	}
	defer responder.Close()

	adv, err := newDiscoverer(t, attempt).Discover(ctx, ssdp.Query{TargetPID: targetPid})
	if errors.Is(err, ssdp.ErrDiscoveryUnavailable) {
		t.Skipf("cannot send to multicast group %s: %v", group.String(), err)
	}
	if errors.Is(err, ssdp.ErrDiscoveryTimeout) && responder.Requests() == 0 {
		t.Skipf("multicast traffic to %s is not looped back on this host", group.String())
	}
	require.NoError(t, err)
	require.Equal(t, targetPid, adv.PID)
	require.Equal(t, 51000, adv.ControlPort)
	require.Equal(t, string(ssdp.SearchRequest()), responder.LastRequest())
	require.GreaterOrEqual(t, responder.Requests(), 1)
}

func TestDiscoverOverIPv6Multicast(t *testing.T) {
	if !nettest.SupportsIPv6() {
		t.Skip("IPv6 is not supported on this host")
	}

	attempts := ssdp.DefaultAttempts()
	require.Equal(t, "ipv6", attempts[0].Name())
	discoverViaMulticast(t, ssdp.IPv6MulticastGroup, attempts[0])
}

func TestDiscoverOverIPv4Multicast(t *testing.T) {
	if !nettest.SupportsIPv4() {
		t.Skip("IPv4 is not supported on this host")
	}

	attempts := ssdp.DefaultAttempts()
	require.Equal(t, "ipv4", attempts[1].Name())
	discoverViaMulticast(t, ssdp.IPv4MulticastGroup, attempts[1])
}
