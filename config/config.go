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

// Package config holds the daemon's static settings: multicast group,
// ports, cache directories and the protocol timings.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Config specifies pkgcached run options
type Config struct {
	MulticastGroup      string   `yaml:"multicast_group"`       // UDP multicast address for peer traffic
	MulticastPort       int      `yaml:"multicast_port"`        // UDP port the group uses
	HTTPPort            int      `yaml:"http_port"`             // HTTP listen port; also the port redirect URLs point at
	MetricsPort         int      `yaml:"metrics_port"`          // dedicated /metrics port; 0 serves metrics on http_port
	CacheDirs           []string `yaml:"cache_dirs"`            // ordered local cache roots
	PeerTTLSeconds      int      `yaml:"peer_ttl_seconds"`      // liveness TTL
	LookupDeadlineMS    int      `yaml:"lookup_deadline_ms"`    // per-search wait bound
	PongIntervalSeconds int      `yaml:"pong_interval_seconds"` // unsolicited beacon cadence
	MulticastTTL        int      `yaml:"multicast_ttl"`         // outbound multicast hop limit
	LogLevel            string   `yaml:"log_level"`             // debug, info, warning or error
}

// Default returns the documented defaults. The HTTP port deliberately
// equals the multicast port; they remain independently overridable.
func Default() *Config {
	return &Config{
		MulticastGroup:      "239.0.0.156",
		MulticastPort:       8954,
		HTTPPort:            8954,
		CacheDirs:           []string{"/var/cache/pacman/pkg", "/var/cache/makepkg/pkg"},
		PeerTTLSeconds:      60,
		LookupDeadlineMS:    500,
		PongIntervalSeconds: 50,
		MulticastTTL:        2,
		LogLevel:            "info",
	}
}

// ReadConfig reads config from the file, overlaying it on the defaults.
// A malformed document is an error, never a partial config.
func ReadConfig(path string) (*Config, error) {
	c := Default()
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(cData, c)
	if err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	return c, nil
}

// Validate Config is sane
func (c *Config) Validate() error {
	ip := net.ParseIP(c.MulticastGroup)
	if ip == nil || !ip.IsMulticast() {
		return fmt.Errorf("multicast_group %q is not a multicast address", c.MulticastGroup)
	}
	if c.MulticastPort <= 0 || c.MulticastPort > 65535 {
		return fmt.Errorf("multicast_port must be in 1..65535")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be in 1..65535")
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port must be in 0..65535")
	}
	if len(c.CacheDirs) == 0 {
		return fmt.Errorf("cache_dirs must name at least one directory")
	}
	if c.PeerTTLSeconds <= 0 {
		return fmt.Errorf("peer_ttl_seconds must be positive")
	}
	if c.LookupDeadlineMS <= 0 {
		return fmt.Errorf("lookup_deadline_ms must be positive")
	}
	if c.PongIntervalSeconds <= 0 {
		return fmt.Errorf("pong_interval_seconds must be positive")
	}
	if c.MulticastTTL <= 0 || c.MulticastTTL > 255 {
		return fmt.Errorf("multicast_ttl must be in 1..255")
	}
	switch c.LogLevel {
	case "debug", "info", "warning", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warning or error")
	}
	return nil
}

// GroupIP returns the parsed multicast group address. Call Validate first.
func (c *Config) GroupIP() net.IP {
	return net.ParseIP(c.MulticastGroup)
}

// PeerTTL returns the liveness TTL as a duration
func (c *Config) PeerTTL() time.Duration {
	return time.Duration(c.PeerTTLSeconds) * time.Second
}

// LookupDeadline returns the per-search wait bound as a duration
func (c *Config) LookupDeadline() time.Duration {
	return time.Duration(c.LookupDeadlineMS) * time.Millisecond
}

// PongInterval returns the beacon cadence as a duration
func (c *Config) PongInterval() time.Duration {
	return time.Duration(c.PongIntervalSeconds) * time.Second
}
