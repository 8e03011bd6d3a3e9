/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"

	"github.com/microsoft/fusionidea/pkg/resiliency"
)

const (
	DefaultURL      = "https://raw.githubusercontent.com/JesusFreke/fusion_idea_addin/master/VERSION"
	DefaultInterval = time.Hour

	InstallationURL = "https://github.com/JesusFreke/fusion_idea_addin/wiki/Installing-the-add-in-in-Fusion-360"

	maxVersionFileSize = 64
	fetchTimeout       = 30 * time.Second

	cacheFileName                                = "latest-addin-version.json"
	permissionOwnerReadWriteTraverse fs.FileMode = 0700
	permissionOwnerReadWrite         fs.FileMode = 0600
)

// DefaultCacheFile returns the file the latest version is persisted to between runs,
// or an empty string if the user cache directory is unknown.
func DefaultCacheFile() string {
	cacheDir, cacheDirErr := os.UserCacheDir()
	if cacheDirErr != nil || cacheDir == "" {
		return ""
	}
	return filepath.Join(cacheDir, "fusionidea", cacheFileName)
}

type cachedVersion struct {
	Version   float64   `json:"version"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// VersionSource reports the latest add-in version known to the process, or nil if unknown.
type VersionSource interface {
	LatestKnownVersion() *float64
}

// Executor runs background work. resiliency.WorkQueue satisfies it.
type Executor interface {
	Enqueue(work resiliency.WorkQueueItem) error
}

// Config contains configuration for an Advisor.
type Config struct {
	// URL of a plain-text file holding the latest add-in version. Defaults to DefaultURL.
	URL string

	// Interval between refreshes of a successfully fetched value. Defaults to DefaultInterval.
	Interval time.Duration

	// Executor runs the refreshes.
	Executor Executor

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// CacheFile keeps the last fetched version across processes. Empty disables persistence.
	CacheFile string

	// Logger is the logger for the advisor.
	Logger logr.Logger
}

// Advisor caches the latest released add-in version.
// Reads never block; a stale or missing value triggers one background refresh.
type Advisor struct {
	config Config
	log    logr.Logger
	now    func() time.Time

	lock       *sync.Mutex
	latest     *float64
	fetchedAt  time.Time
	refreshing bool
}

func NewAdvisor(config Config) *Advisor {
	if config.URL == "" {
		config.URL = DefaultURL
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	a := &Advisor{
		config: config,
		log:    log.WithName("advisory"),
		now:    time.Now,
		lock:   &sync.Mutex{},
	}
	a.loadCache()
	return a
}

// loadCache seeds the advisor with the value persisted by an earlier run.
// A missing or unreadable cache file just means nothing is known yet.
func (a *Advisor) loadCache() {
	if a.config.CacheFile == "" {
		return
	}

	contents, readErr := os.ReadFile(a.config.CacheFile)
	if readErr != nil {
		if !errors.Is(readErr, fs.ErrNotExist) {
			a.log.V(1).Info("Could not read add-in version cache", "File", a.config.CacheFile, "Error", readErr.Error())
		}
		return
	}

	var cached cachedVersion
	if unmarshalErr := json.Unmarshal(contents, &cached); unmarshalErr != nil || cached.FetchedAt.IsZero() {
		a.log.V(1).Info("Ignoring invalid add-in version cache", "File", a.config.CacheFile)
		return
	}

	version := cached.Version
	a.latest = &version
	a.fetchedAt = cached.FetchedAt
}

func (a *Advisor) saveCache(cached cachedVersion) {
	if a.config.CacheFile == "" {
		return
	}

	contents, marshalErr := json.Marshal(cached)
	if marshalErr != nil {
		return
	}

	dir := filepath.Dir(a.config.CacheFile)
	if mkdirErr := os.MkdirAll(dir, permissionOwnerReadWriteTraverse); mkdirErr != nil {
		a.log.V(1).Info("Could not create add-in version cache folder", "Folder", dir, "Error", mkdirErr.Error())
		return
	}

	// Write to a temporary file first so concurrent runs never read a partial cache.
	tmp, tmpErr := os.CreateTemp(dir, cacheFileName+".*")
	if tmpErr != nil {
		a.log.V(1).Info("Could not write add-in version cache", "Error", tmpErr.Error())
		return
	}
	_, writeErr := tmp.Write(contents)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(tmp.Name())
		a.log.V(1).Info("Could not write add-in version cache", "Error", err.Error())
		return
	}
	if chmodErr := os.Chmod(tmp.Name(), permissionOwnerReadWrite); chmodErr != nil {
		a.log.V(1).Info("Could not set add-in version cache permissions", "Error", chmodErr.Error())
	}
	if renameErr := os.Rename(tmp.Name(), a.config.CacheFile); renameErr != nil {
		_ = os.Remove(tmp.Name())
		a.log.V(1).Info("Could not write add-in version cache", "Error", renameErr.Error())
	}
}

// LatestKnownVersion returns the cached version (nil until the first successful fetch)
// and schedules a refresh if the value is missing or older than the refresh interval.
func (a *Advisor) LatestKnownVersion() *float64 {
	a.lock.Lock()
	defer a.lock.Unlock()

	stale := a.latest == nil || a.now().Sub(a.fetchedAt) > a.config.Interval
	if stale && !a.refreshing {
		a.refreshing = true
		if enqueueErr := a.config.Executor.Enqueue(a.refresh); enqueueErr != nil {
			a.refreshing = false
			a.log.V(1).Info("Could not schedule add-in version refresh", "Error", enqueueErr.Error())
		}
	}

	if a.latest == nil {
		return nil
	}
	latest := *a.latest
	return &latest
}

func (a *Advisor) refresh(ctx context.Context) {
	defer func() {
		a.lock.Lock()
		a.refreshing = false
		a.lock.Unlock()
	}()

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxInterval(2*time.Second),
		backoff.WithMaxElapsedTime(10*time.Second),
	)
	version, fetchErr := resiliency.RetryGet(ctx, b, func() (float64, error) {
		return a.fetch(ctx)
	})
	if fetchErr != nil {
		a.log.Info("Error getting latest version of add-in", "URL", a.config.URL, "Error", fetchErr.Error())
		return
	}

	a.lock.Lock()
	a.latest = &version
	a.fetchedAt = a.now()
	cached := cachedVersion{Version: version, FetchedAt: a.fetchedAt}
	a.lock.Unlock()

	a.saveCache(cached)

	a.log.V(1).Info("Latest add-in version refreshed", "Version", version)
}

func (a *Advisor) fetch(ctx context.Context) (float64, error) {
	reqCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, reqErr := http.NewRequestWithContext(reqCtx, http.MethodGet, a.config.URL, nil)
	if reqErr != nil {
		return 0, resiliency.Permanent(reqErr)
	}

	resp, getErr := a.config.HTTPClient.Do(req)
	if getErr != nil {
		return 0, getErr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status fetching add-in version: %d", resp.StatusCode)
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxVersionFileSize))
	if readErr != nil {
		return 0, readErr
	}

	versionStr := strings.TrimSpace(string(body))
	version, parseErr := strconv.ParseFloat(versionStr, 64)
	if parseErr != nil {
		return 0, resiliency.Permanent(fmt.Errorf("got add-in version with unexpected format: %q", versionStr))
	}
	return version, nil
}

// UpgradeNotice returns the message recommending an add-in upgrade, if latest is newer than advertised.
func UpgradeNotice(advertised float64, latest *float64) (string, bool) {
	if latest == nil || !(*latest > advertised) {
		return "", false
	}

	return fmt.Sprintf("\nA new version of fusion_idea_addin is available: %s\n"+
		"See %s for installation instructions.\n\n", FormatVersion(*latest), InstallationURL), true
}

// FormatVersion prints whole versions with one decimal place ("3.0") and others as short as possible.
func FormatVersion(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// StaticVersion is a VersionSource with a fixed value.
type StaticVersion struct {
	Version *float64
}

func (s StaticVersion) LatestKnownVersion() *float64 {
	return s.Version
}

var _ VersionSource = (*Advisor)(nil)
var _ VersionSource = StaticVersion{}
