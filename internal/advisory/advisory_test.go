/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package advisory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/microsoft/fusionidea/pkg/resiliency"
	"github.com/microsoft/fusionidea/pkg/testutil"
)

// goExecutor runs every item on its own goroutine and lets tests wait for completion.
type goExecutor struct {
	wg sync.WaitGroup
}

func (e *goExecutor) Enqueue(work resiliency.WorkQueueItem) error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		work(context.Background())
	}()
	return nil
}

type versionServer struct {
	server *httptest.Server
	hits   atomic.Int32

	lock   sync.Mutex
	status int
	body   string
}

func newVersionServer(status int, body string) *versionServer {
	vs := &versionServer{status: status, body: body}
	vs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		vs.hits.Add(1)
		vs.lock.Lock()
		status, body := vs.status, vs.body
		vs.lock.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	return vs
}

func (vs *versionServer) set(status int, body string) {
	vs.lock.Lock()
	defer vs.lock.Unlock()
	vs.status = status
	vs.body = body
}

type fakeClock struct {
	lock sync.Mutex
	t    time.Time
}

func (c *fakeClock) now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.t = c.t.Add(d)
}

func newTestAdvisor(t *testing.T, url string) (*Advisor, *goExecutor, *fakeClock) {
	return newCachingTestAdvisor(t, url, "")
}

func newCachingTestAdvisor(t *testing.T, url string, cacheFile string) (*Advisor, *goExecutor, *fakeClock) {
	executor := &goExecutor{}
	a := NewAdvisor(Config{
		URL:       url,
		Executor:  executor,
		CacheFile: cacheFile,
		Logger:    testutil.NewLogForTesting(t.Name()),
	})
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	a.now = clock.now
	return a, executor, clock
}

func TestFirstReadReturnsNilAndSchedulesFetch(t *testing.T) {
	t.Parallel()

	vs := newVersionServer(http.StatusOK, "3.0\n")
	defer vs.server.Close()

	a, executor, _ := newTestAdvisor(t, vs.server.URL)
	require.Nil(t, a.LatestKnownVersion())
	executor.wg.Wait()

	latest := a.LatestKnownVersion()
	require.NotNil(t, latest)
	require.Equal(t, 3.0, *latest)
	require.Equal(t, int32(1), vs.hits.Load())
}

func TestFreshValueIsNotRefetched(t *testing.T) {
	t.Parallel()

	vs := newVersionServer(http.StatusOK, "2.5")
	defer vs.server.Close()

	a, executor, clock := newTestAdvisor(t, vs.server.URL)
	a.LatestKnownVersion()
	executor.wg.Wait()

	clock.advance(59 * time.Minute)
	for i := 0; i < 5; i++ {
		require.Equal(t, 2.5, *a.LatestKnownVersion())
	}
	executor.wg.Wait()
	require.Equal(t, int32(1), vs.hits.Load())

	vs.set(http.StatusOK, "2.6")
	clock.advance(2 * time.Minute)
	require.Equal(t, 2.5, *a.LatestKnownVersion(), "stale value is still served while refreshing")
	executor.wg.Wait()
	require.Equal(t, 2.6, *a.LatestKnownVersion())
	require.Equal(t, int32(2), vs.hits.Load())
}

func TestOnlyOneRefreshInFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte("4.0"))
	}))
	defer server.Close()

	a, executor, _ := newTestAdvisor(t, server.URL)
	for i := 0; i < 10; i++ {
		require.Nil(t, a.LatestKnownVersion())
	}
	close(release)
	executor.wg.Wait()

	require.Equal(t, int32(1), hits.Load())
	require.Equal(t, 4.0, *a.LatestKnownVersion())
}

func TestUnparseableVersionKeepsCachedValue(t *testing.T) {
	t.Parallel()

	vs := newVersionServer(http.StatusOK, "1.5")
	defer vs.server.Close()

	a, executor, clock := newTestAdvisor(t, vs.server.URL)
	a.LatestKnownVersion()
	executor.wg.Wait()
	require.Equal(t, 1.5, *a.LatestKnownVersion())

	vs.set(http.StatusOK, "not-a-version")
	clock.advance(2 * time.Hour)
	a.LatestKnownVersion()
	executor.wg.Wait()

	require.Equal(t, 1.5, *a.LatestKnownVersion())
	// Parse errors are not retried.
	require.Equal(t, int32(2), vs.hits.Load())
}

func TestUnparseableFirstVersionStaysUnknown(t *testing.T) {
	t.Parallel()

	vs := newVersionServer(http.StatusOK, "garbage")
	defer vs.server.Close()

	a, executor, _ := newTestAdvisor(t, vs.server.URL)
	require.Nil(t, a.LatestKnownVersion())
	executor.wg.Wait()
	require.Nil(t, a.LatestKnownVersion())
	executor.wg.Wait()
}

func TestTransientErrorsAreRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("5.1"))
	}))
	defer server.Close()

	a, executor, _ := newTestAdvisor(t, server.URL)
	a.LatestKnownVersion()
	executor.wg.Wait()

	require.Equal(t, int32(2), hits.Load())
	require.Equal(t, 5.1, *a.LatestKnownVersion())
}

func TestUpgradeNotice(t *testing.T) {
	t.Parallel()

	latest := 3.0
	notice, ok := UpgradeNotice(2.5, &latest)
	require.True(t, ok)
	require.Equal(t, "\nA new version of fusion_idea_addin is available: 3.0\n"+
		"See "+InstallationURL+" for installation instructions.\n\n", notice)

	_, ok = UpgradeNotice(3.0, &latest)
	require.False(t, ok)

	_, ok = UpgradeNotice(3.5, &latest)
	require.False(t, ok)

	_, ok = UpgradeNotice(1.0, nil)
	require.False(t, ok)
}

func TestFormatVersion(t *testing.T) {
	t.Parallel()

	require.Equal(t, "3.0", FormatVersion(3))
	require.Equal(t, "2.5", FormatVersion(2.5))
	require.Equal(t, "1.25", FormatVersion(1.25))
}

func TestCachedVersionIsSharedAcrossAdvisors(t *testing.T) {
	t.Parallel()

	cacheFile := filepath.Join(t.TempDir(), "cache", "latest-addin-version.json")

	vs := newVersionServer(http.StatusOK, "3.5")
	defer vs.server.Close()

	first, executor, _ := newCachingTestAdvisor(t, vs.server.URL, cacheFile)
	require.Nil(t, first.LatestKnownVersion())
	executor.wg.Wait()
	require.Equal(t, int32(1), vs.hits.Load())
	require.FileExists(t, cacheFile)

	// A later run knows the version right away and does not go to the network while it is fresh.
	second, secondExecutor, _ := newCachingTestAdvisor(t, vs.server.URL, cacheFile)
	latest := second.LatestKnownVersion()
	require.NotNil(t, latest)
	require.Equal(t, 3.5, *latest)
	secondExecutor.wg.Wait()
	require.Equal(t, int32(1), vs.hits.Load())
}

func TestStaleCachedVersionIsServedWhileRefreshing(t *testing.T) {
	t.Parallel()

	cacheFile := filepath.Join(t.TempDir(), "latest-addin-version.json")
	require.NoError(t, os.WriteFile(cacheFile, []byte(`{"version":2.0,"fetchedAt":"2024-03-01T09:00:00Z"}`), 0600))

	vs := newVersionServer(http.StatusOK, "2.1")
	defer vs.server.Close()

	a, executor, _ := newCachingTestAdvisor(t, vs.server.URL, cacheFile)
	require.Equal(t, 2.0, *a.LatestKnownVersion())
	executor.wg.Wait()
	require.Equal(t, 2.1, *a.LatestKnownVersion())
	require.Equal(t, int32(1), vs.hits.Load())

	reloaded, reloadedExecutor, _ := newCachingTestAdvisor(t, vs.server.URL, cacheFile)
	require.Equal(t, 2.1, *reloaded.LatestKnownVersion())
	reloadedExecutor.wg.Wait()
	require.Equal(t, int32(1), vs.hits.Load())
}

func TestInvalidCacheFileIsIgnored(t *testing.T) {
	t.Parallel()

	cacheFile := filepath.Join(t.TempDir(), "latest-addin-version.json")
	require.NoError(t, os.WriteFile(cacheFile, []byte("{not json"), 0600))

	vs := newVersionServer(http.StatusOK, "1.0")
	defer vs.server.Close()

	a, executor, _ := newCachingTestAdvisor(t, vs.server.URL, cacheFile)
	require.Nil(t, a.LatestKnownVersion())
	executor.wg.Wait()
	require.Equal(t, 1.0, *a.LatestKnownVersion())
}
