/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, "239.0.0.156", c.MulticastGroup)
	require.Equal(t, 8954, c.MulticastPort)
	require.Equal(t, c.MulticastPort, c.HTTPPort)
	require.Equal(t, 60*time.Second, c.PeerTTL())
	require.Equal(t, 500*time.Millisecond, c.LookupDeadline())
	require.Equal(t, 50*time.Second, c.PongInterval())
}

func TestReadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkgcached.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_port: 9100
cache_dirs:
  - /tmp/c
log_level: debug
`), 0644))

	c, err := ReadConfig(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	require.Equal(t, 9100, c.HTTPPort)
	require.Equal(t, []string{"/tmp/c"}, c.CacheDirs)
	require.Equal(t, "debug", c.LogLevel)
	// untouched keys keep their defaults
	require.Equal(t, 8954, c.MulticastPort)
	require.Equal(t, 60, c.PeerTTLSeconds)
}

func TestReadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkgcached.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0644))

	_, err := ReadConfig(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), path)
}

func TestReadConfigMissingFile(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	breakages := map[string]func(*Config){
		"unicast group":     func(c *Config) { c.MulticastGroup = "10.0.0.1" },
		"unparseable group": func(c *Config) { c.MulticastGroup = "not-an-ip" },
		"bad udp port":      func(c *Config) { c.MulticastPort = 0 },
		"bad http port":     func(c *Config) { c.HTTPPort = 70000 },
		"bad metrics port":  func(c *Config) { c.MetricsPort = -1 },
		"no cache dirs":     func(c *Config) { c.CacheDirs = nil },
		"zero ttl":          func(c *Config) { c.PeerTTLSeconds = 0 },
		"zero deadline":     func(c *Config) { c.LookupDeadlineMS = 0 },
		"zero beacon":       func(c *Config) { c.PongIntervalSeconds = 0 },
		"bad hop limit":     func(c *Config) { c.MulticastTTL = 256 },
		"bad log level":     func(c *Config) { c.LogLevel = "chatty" },
	}

	for name, breakage := range breakages {
		t.Run(name, func(t *testing.T) {
			c := Default()
			breakage(c)
			require.Error(t, c.Validate())
		})
	}
}
