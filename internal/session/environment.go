/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/microsoft/fusionidea/internal/advisory"
	"github.com/microsoft/fusionidea/internal/handshake"
	"github.com/microsoft/fusionidea/internal/ssdp"
	"github.com/microsoft/fusionidea/pkg/concurrency"
	"github.com/microsoft/fusionidea/pkg/resiliency"
	"github.com/microsoft/fusionidea/pkg/security"
)

const DefaultConcurrency uint8 = 4

// EnvironmentConfig contains configuration for an Environment.
type EnvironmentConfig struct {
	// PydevdPath is sent to the add-in with every request.
	PydevdPath string

	// Identity signs the requests. A new identity is generated if nil.
	Identity *security.IdentityProvider

	// Discovery configures the discoverer shared by all sessions.
	Discovery ssdp.Config

	// HandshakeTimeout bounds the injection request. Defaults to handshake.DefaultTimeout.
	HandshakeTimeout time.Duration

	// Versions reports the latest released add-in version.
	// If nil, an advisory.Advisor fetching from VersionURL every VersionCheckInterval is used.
	Versions             advisory.VersionSource
	VersionURL           string
	VersionCheckInterval time.Duration

	// VersionCacheFile persists the latest version between runs. Empty keeps it in memory only.
	VersionCacheFile string

	// Concurrency is the number of sessions that can be connecting at the same time.
	Concurrency uint8

	Logger logr.Logger
}

// Environment holds the state shared by all sessions of the process.
type Environment struct {
	lifetimeCtx context.Context
	log         logr.Logger
	pydevdPath  string

	identity   *security.IdentityProvider
	nonces     *handshake.NonceCounter
	versions   advisory.VersionSource
	discoverer *ssdp.Discoverer
	client     *handshake.Client
	queue      *resiliency.WorkQueue
}

// NewEnvironment creates the shared session state. Background work stops when lifetimeCtx is done.
func NewEnvironment(lifetimeCtx context.Context, config EnvironmentConfig) *Environment {
	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	if config.Identity == nil {
		config.Identity = security.NewIdentityProvider()
	}
	if config.Concurrency == 0 {
		config.Concurrency = DefaultConcurrency
	}

	if config.Discovery.Logger.GetSink() == nil {
		config.Discovery.Logger = log
	}

	queue := resiliency.NewWorkQueue(lifetimeCtx, config.Concurrency)

	versions := config.Versions
	if versions == nil {
		versions = advisory.NewAdvisor(advisory.Config{
			URL:       config.VersionURL,
			Interval:  config.VersionCheckInterval,
			Executor:  queue,
			CacheFile: config.VersionCacheFile,
			Logger:    log,
		})
	}

	env := &Environment{
		lifetimeCtx: lifetimeCtx,
		log:         log,
		pydevdPath:  config.PydevdPath,
		identity:    config.Identity,
		nonces:      &handshake.NonceCounter{},
		versions:    versions,
		discoverer:  ssdp.NewDiscoverer(config.Discovery),
		client: handshake.NewClient(handshake.ClientConfig{
			Signer:  config.Identity,
			Timeout: config.HandshakeTimeout,
			Logger:  log,
		}),
		queue: queue,
	}

	// Start fetching the latest add-in version so it is likely known by the time a session needs it.
	_ = env.versions.LatestKnownVersion()

	return env
}

func (env *Environment) Identity() *security.IdentityProvider {
	return env.identity
}

func (env *Environment) Versions() advisory.VersionSource {
	return env.versions
}

// NewSession creates a session in the Created state. Nothing happens until Execute is called.
func (env *Environment) NewSession(config Config) *Session {
	id := uuid.New()
	return &Session{
		env:    env,
		config: config,
		id:     id,
		log:    env.log.WithName("session").WithValues("SessionID", id.String(), "TargetPID", config.TargetPID),
		state:  StateCreated,
		result: concurrency.NewOneTimeJob[Result](),
	}
}
