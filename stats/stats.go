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

// Package stats counts what the daemon does: datagrams in and out by type,
// live peers, outstanding waiters, and how each lookup ended. Counters are
// incremented as a side effect and never consulted for control flow.
package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pkgcached/pkgcached/protocol"
)

// Lookup outcomes, used as the label value of the lookups counter.
const (
	LookupLocalHit   = "local_hit"
	LookupRemoteHit  = "remote_hit"
	LookupRemoteMiss = "remote_miss"
	LookupTimeout    = "timeout"
	LookupDisallowed = "disallowed"
)

// Stats wraps a private prometheus registry with typed accessors so the
// rest of the daemon never touches prometheus types directly.
type Stats struct {
	registry *prometheus.Registry

	rx      *prometheus.CounterVec
	tx      *prometheus.CounterVec
	lookups *prometheus.CounterVec
	peers   prometheus.Gauge
	waiters prometheus.Gauge
}

// New returns a Stats with all collectors registered on a fresh registry.
func New() *Stats {
	s := &Stats{
		registry: prometheus.NewRegistry(),
		rx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pkgcached_rx_total",
			Help: "Datagrams received from the multicast group, by message type",
		}, []string{"type"}),
		tx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pkgcached_tx_total",
			Help: "Datagrams sent to the multicast group, by message type",
		}, []string{"type"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pkgcached_lookups_total",
			Help: "Completed lookups, by outcome",
		}, []string{"outcome"}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pkgcached_peers",
			Help: "Live peers in the membership table",
		}),
		waiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pkgcached_waiters",
			Help: "Outstanding lookup waiters",
		}),
	}

	s.registry.MustRegister(s.rx, s.tx, s.lookups, s.peers, s.waiters)
	return s
}

// IncRX atomically adds 1 to the received counter for t
func (s *Stats) IncRX(t protocol.Type) {
	s.rx.WithLabelValues(t.String()).Inc()
}

// IncTX atomically adds 1 to the sent counter for t
func (s *Stats) IncTX(t protocol.Type) {
	s.tx.WithLabelValues(t.String()).Inc()
}

// IncLookup atomically adds 1 to the lookup counter for the given outcome
func (s *Stats) IncLookup(outcome string) {
	s.lookups.WithLabelValues(outcome).Inc()
}

// SetPeers sets the live peer gauge
func (s *Stats) SetPeers(n int) {
	s.peers.Set(float64(n))
}

// SetWaiters sets the outstanding waiter gauge
func (s *Stats) SetWaiters(n int) {
	s.waiters.Set(float64(n))
}

// Handler returns the /metrics handler serving this registry in
// prometheus exposition format.
func (s *Stats) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		// Opt into OpenMetrics to support exemplars.
		EnableOpenMetrics: true,
	})
}
