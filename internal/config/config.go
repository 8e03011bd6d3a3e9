/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package config loads fusionidea settings from defaults, an optional YAML file,
// an optional .env file and FUSION_IDEA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/microsoft/fusionidea/internal/advisory"
	"github.com/microsoft/fusionidea/internal/handshake"
	"github.com/microsoft/fusionidea/internal/session"
	"github.com/microsoft/fusionidea/internal/ssdp"
)

const (
	FUSION_IDEA_CONFIG = "FUSION_IDEA_CONFIG" // Path of the YAML configuration file

	FUSION_IDEA_FUSION_PATH               = "FUSION_IDEA_FUSION_PATH"
	FUSION_IDEA_PYDEVD_PATH               = "FUSION_IDEA_PYDEVD_PATH"
	FUSION_IDEA_VERSION_URL               = "FUSION_IDEA_VERSION_URL"
	FUSION_IDEA_VERSION_CHECK_INTERVAL    = "FUSION_IDEA_VERSION_CHECK_INTERVAL"
	FUSION_IDEA_VERSION_CACHE_FILE        = "FUSION_IDEA_VERSION_CACHE_FILE"
	FUSION_IDEA_DISCOVERY_TIMEOUT         = "FUSION_IDEA_DISCOVERY_TIMEOUT"
	FUSION_IDEA_DISCOVERY_RECEIVE_TIMEOUT = "FUSION_IDEA_DISCOVERY_RECEIVE_TIMEOUT"
	FUSION_IDEA_HANDSHAKE_TIMEOUT         = "FUSION_IDEA_HANDSHAKE_TIMEOUT"
	FUSION_IDEA_WORKER_CONCURRENCY        = "FUSION_IDEA_WORKER_CONCURRENCY"

	DefaultEnvFile = ".env"
)

// DefaultPydevdPath returns the pydevd distribution shipped next to the fusionidea executable,
// or an empty string if the executable location is unknown.
func DefaultPydevdPath() string {
	exePath, exeErr := os.Executable()
	if exeErr != nil {
		return ""
	}
	if resolved, resolveErr := filepath.EvalSymlinks(exePath); resolveErr == nil {
		exePath = resolved
	}
	return filepath.Join(filepath.Dir(exePath), "lib", "pydevd")
}

// Duration is a time.Duration written as a Go duration string ("1s", "250ms") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if decodeErr := value.Decode(&s); decodeErr != nil {
		return decodeErr
	}
	parsed, parseErr := time.ParseDuration(s)
	if parseErr != nil {
		return fmt.Errorf("line %d: %w", value.Line, parseErr)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Discovery struct {
	Timeout        Duration `yaml:"timeout"`
	ReceiveTimeout Duration `yaml:"receive_timeout"`
}

type Config struct {
	// FusionPath is the Fusion 360 executable; used to find target processes.
	FusionPath string `yaml:"fusion_path"`

	// PydevdPath is the pydevd distribution the add-in imports. Defaults to DefaultPydevdPath().
	PydevdPath string `yaml:"pydevd_path"`

	VersionURL           string   `yaml:"version_url"`
	VersionCheckInterval Duration `yaml:"version_check_interval"`

	// VersionCacheFile keeps the latest add-in version between runs. Empty disables it.
	VersionCacheFile string `yaml:"version_cache_file"`

	Discovery        Discovery `yaml:"discovery"`
	HandshakeTimeout Duration  `yaml:"handshake_timeout"`

	WorkerConcurrency uint8 `yaml:"worker_concurrency"`
}

func Default() *Config {
	return &Config{
		PydevdPath:           DefaultPydevdPath(),
		VersionURL:           advisory.DefaultURL,
		VersionCacheFile:     advisory.DefaultCacheFile(),
		VersionCheckInterval: Duration(advisory.DefaultInterval),
		Discovery: Discovery{
			Timeout:        Duration(ssdp.DefaultTimeout),
			ReceiveTimeout: Duration(ssdp.DefaultReceiveTimeout),
		},
		HandshakeTimeout:  Duration(handshake.DefaultTimeout),
		WorkerConcurrency: session.DefaultConcurrency,
	}
}

// Loader reads the configuration. The zero value reads ./.env and the process environment.
type Loader struct {
	// ConfigFile is the YAML file to read. If empty, FUSION_IDEA_CONFIG is consulted.
	// An explicitly named file must exist.
	ConfigFile string

	// EnvFile is an optional dotenv file. Defaults to DefaultEnvFile.
	EnvFile string

	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load applies, in order: defaults, the YAML file, then environment variables.
// Variables from the .env file are used only when the process environment does not set them.
func (l Loader) Load() (*Config, error) {
	lookup, envErr := l.environment()
	if envErr != nil {
		return nil, envErr
	}

	cfg := Default()

	configFile := l.ConfigFile
	if configFile == "" {
		configFile, _ = lookup(FUSION_IDEA_CONFIG)
	}
	if configFile != "" {
		if fileErr := cfg.mergeFile(configFile); fileErr != nil {
			return nil, fileErr
		}
	}

	if overrideErr := cfg.applyEnvironment(lookup); overrideErr != nil {
		return nil, overrideErr
	}

	if validateErr := cfg.Validate(); validateErr != nil {
		return nil, validateErr
	}
	return cfg, nil
}

func (l Loader) environment() (func(string) (string, bool), error) {
	lookup := l.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	envFile := l.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}

	dotenv, readErr := godotenv.Read(envFile)
	if errors.Is(readErr, fs.ErrNotExist) {
		return lookup, nil
	} else if readErr != nil {
		return nil, fmt.Errorf("could not read environment file '%s': %w", envFile, readErr)
	}

	return func(key string) (string, bool) {
		if val, found := lookup(key); found {
			return val, true
		}
		val, found := dotenv[key]
		return val, found
	}, nil
}

func (c *Config) mergeFile(path string) error {
	contents, readErr := os.ReadFile(path)
	if readErr != nil {
		return fmt.Errorf("could not read configuration file '%s': %w", path, readErr)
	}
	if unmarshalErr := yaml.Unmarshal(contents, c); unmarshalErr != nil {
		return fmt.Errorf("configuration file '%s' is invalid: %w", path, unmarshalErr)
	}
	return nil
}

func (c *Config) applyEnvironment(lookup func(string) (string, bool)) error {
	texts := map[string]*string{
		FUSION_IDEA_FUSION_PATH:        &c.FusionPath,
		FUSION_IDEA_PYDEVD_PATH:        &c.PydevdPath,
		FUSION_IDEA_VERSION_URL:        &c.VersionURL,
		FUSION_IDEA_VERSION_CACHE_FILE: &c.VersionCacheFile,
	}
	for name, target := range texts {
		if val, found := lookup(name); found && val != "" {
			*target = val
		}
	}

	durations := map[string]*Duration{
		FUSION_IDEA_VERSION_CHECK_INTERVAL:    &c.VersionCheckInterval,
		FUSION_IDEA_DISCOVERY_TIMEOUT:         &c.Discovery.Timeout,
		FUSION_IDEA_DISCOVERY_RECEIVE_TIMEOUT: &c.Discovery.ReceiveTimeout,
		FUSION_IDEA_HANDSHAKE_TIMEOUT:         &c.HandshakeTimeout,
	}
	for name, target := range durations {
		val, found := lookup(name)
		if !found || val == "" {
			continue
		}
		parsed, parseErr := time.ParseDuration(val)
		if parseErr != nil {
			return fmt.Errorf("environment variable %s is invalid: %w", name, parseErr)
		}
		*target = Duration(parsed)
	}

	if val, found := lookup(FUSION_IDEA_WORKER_CONCURRENCY); found && val != "" {
		parsed, parseErr := strconv.ParseUint(val, 10, 8)
		if parseErr != nil {
			return fmt.Errorf("environment variable %s is invalid: %w", FUSION_IDEA_WORKER_CONCURRENCY, parseErr)
		}
		c.WorkerConcurrency = uint8(parsed)
	}

	return nil
}

func (c *Config) Validate() error {
	var errs []error

	checkPositive := func(name string, d Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d.Std()))
		}
	}
	checkPositive("version_check_interval", c.VersionCheckInterval)
	checkPositive("discovery.timeout", c.Discovery.Timeout)
	checkPositive("discovery.receive_timeout", c.Discovery.ReceiveTimeout)
	checkPositive("handshake_timeout", c.HandshakeTimeout)

	if c.WorkerConcurrency == 0 {
		errs = append(errs, errors.New("worker_concurrency must be at least 1"))
	}
	if c.PydevdPath == "" {
		errs = append(errs, errors.New("pydevd_path must not be empty"))
	}
	if c.VersionURL == "" {
		errs = append(errs, errors.New("version_url must not be empty"))
	}

	return errors.Join(errs...)
}

// EnvironmentConfig converts the settings into session environment configuration.
func (c *Config) EnvironmentConfig() session.EnvironmentConfig {
	return session.EnvironmentConfig{
		PydevdPath: c.PydevdPath,
		Discovery: ssdp.Config{
			Timeout:        c.Discovery.Timeout.Std(),
			ReceiveTimeout: c.Discovery.ReceiveTimeout.Std(),
		},
		HandshakeTimeout:     c.HandshakeTimeout.Std(),
		VersionURL:           c.VersionURL,
		VersionCheckInterval: c.VersionCheckInterval.Std(),
		VersionCacheFile:     c.VersionCacheFile,
		Concurrency:          c.WorkerConcurrency,
	}
}
