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

// Package httpapi is the thin HTTP skin over the lookup orchestrator and
// the local cache: /search redirects or streams, /cache streams, /status
// and /metrics exist for operators.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pkgcached/pkgcached/cache"
	"github.com/pkgcached/pkgcached/lookup"
	"github.com/pkgcached/pkgcached/membership"
	"github.com/pkgcached/pkgcached/stats"
)

// PeerStatus is one row of the /status peer table.
type PeerStatus struct {
	Address      string  `json:"address"`
	LastSeenSecs float64 `json:"last_seen_secs"`
}

// Status is the document served on /status, consumed by `pkgcached peers`.
type Status struct {
	PeerTTLSecs float64      `json:"peer_ttl_secs"`
	Peers       []PeerStatus `json:"peers"`
}

// Server serves the daemon's HTTP surface.
type Server struct {
	Lookup  *lookup.Orchestrator
	Probe   *cache.Probe
	Members *membership.Table
	Stats   *stats.Stats

	// Port to listen on.
	Port int
	// PeerTTL is reported on /status so tooling can judge staleness.
	PeerTTL time.Duration
	// ServeMetrics mounts /metrics on this server; turned off when the
	// operator splits metrics onto a dedicated port.
	ServeMetrics bool
}

// Mux returns the route table. Split out from Run so tests can drive the
// handlers through httptest without a listener.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/search/", s.handleSearch)
	mux.HandleFunc("/cache/", s.handleCache)
	mux.HandleFunc("/status", s.handleStatus)
	if s.ServeMetrics {
		mux.Handle("/metrics", s.Stats.Handler())
	}
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully: no new
// requests are accepted and in-flight lookups get to run out their
// existing deadline.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Port),
		Handler: s.Mux(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warningf("HTTP shutdown: %v", err)
		}
	}()

	log.Infof("Starting http server on %s", srv.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// pkgName extracts the trailing file name of the request path. An empty
// remainder or one that still contains a slash is not a package name.
func pkgName(path, prefix string) (string, bool) {
	name := strings.TrimPrefix(path, prefix)
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	name, ok := pkgName(r.URL.Path, "/search/")
	if !ok {
		http.NotFound(w, r)
		return
	}

	res := s.Lookup.Lookup(r.Context(), name)
	switch res.Outcome {
	case lookup.Local:
		http.ServeFile(w, r, res.Path)
	case lookup.Remote:
		log.Debugf("Redirecting %s to %s", name, res.Location)
		http.Redirect(w, r, res.Location, http.StatusFound)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	name, ok := pkgName(r.URL.Path, "/cache/")
	if !ok {
		http.NotFound(w, r)
		return
	}

	path, ok := s.Probe.Find(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	// ServeFile turns a file that vanished between Find and here into 404
	http.ServeFile(w, r, path)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	entries := s.Members.Entries()
	st := Status{
		PeerTTLSecs: s.PeerTTL.Seconds(),
		Peers:       make([]PeerStatus, 0, len(entries)),
	}
	now := time.Now()
	for addr, last := range entries {
		st.Peers = append(st.Peers, PeerStatus{
			Address:      addr,
			LastSeenSecs: now.Sub(last).Seconds(),
		})
	}

	b, err := json.Marshal(st)
	if err != nil {
		log.Errorf("Failed to marshal status: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}
