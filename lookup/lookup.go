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

// Package lookup turns one HTTP search into an outcome: serve the file
// locally, redirect the client to a peer that has it, or report a miss.
package lookup

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pkgcached/pkgcached/cache"
	"github.com/pkgcached/pkgcached/membership"
	"github.com/pkgcached/pkgcached/protocol"
	"github.com/pkgcached/pkgcached/stats"
	"github.com/pkgcached/pkgcached/waiter"
)

// legacy package names carry no architecture component and therefore
// collide across architectures; they must never be shared.
var legacyPkg = regexp.MustCompile(`-[0-9.]+\.pkg\.tar\.gz$`)

// Allowed reports whether name may be looked up and shared at all.
// Database files are mutable per-host metadata and legacy package names
// are ambiguous, so both are refused outright.
func Allowed(name string) bool {
	if strings.HasSuffix(name, ".db") || strings.HasSuffix(name, ".db.tar.gz") {
		return false
	}
	return !legacyPkg.MatchString(name)
}

// Outcome says how a lookup ended.
type Outcome int

// The three ways a lookup can end.
const (
	// Local means the file is in our own cache; Result.Path holds it.
	Local Outcome = iota
	// Remote means a peer has the file; Result.Location holds the
	// redirect URL.
	Remote
	// Miss means nobody has it (or the name was refused).
	Miss
)

// Result is the outcome of one lookup.
type Result struct {
	Outcome  Outcome
	Path     string
	Location string
}

// Searcher is the one slice of the multicast endpoint the orchestrator
// needs: the ability to put a message on the group.
type Searcher interface {
	Send(protocol.Message) error
}

// Orchestrator glues the probe, membership, waiter registry and multicast
// sender together for the per-request lookup flow. All fields must be set.
type Orchestrator struct {
	Probe    *cache.Probe
	Members  *membership.Table
	Registry *waiter.Registry
	Search   Searcher
	Stats    *stats.Stats

	// Deadline bounds the wait for peer answers.
	Deadline time.Duration
	// RedirectPort is the HTTP port peers serve /cache on; redirect URLs
	// are always built from it, never from the multicast port.
	RedirectPort int
}

// Lookup resolves name per the cooperative flow: refuse disallowed names,
// prefer the local cache, otherwise ask the group and wait for the first
// found, an all-declined short circuit, or the deadline.
func (o *Orchestrator) Lookup(ctx context.Context, name string) Result {
	if !Allowed(name) {
		log.Debugf("Refusing to look up %s", name)
		o.Stats.IncLookup(stats.LookupDisallowed)
		return Result{Outcome: Miss}
	}

	if path, ok := o.Probe.Find(name); ok {
		o.Stats.IncLookup(stats.LookupLocalHit)
		return Result{Outcome: Local, Path: path}
	}

	// The snapshot may be empty: we still broadcast and wait, since a
	// peer we have not yet observed may answer.
	snap := o.Members.Snapshot()
	w := o.Registry.Create(name, snap)
	defer func() {
		o.Registry.Remove(w)
		o.Stats.SetWaiters(o.Registry.Len())
	}()
	o.Stats.SetWaiters(o.Registry.Len())

	if err := o.Search.Send(protocol.Message{Type: protocol.TypeSearch, Pkg: name}); err != nil {
		log.Warningf("Failed to send search for %s: %v", name, err)
	}

	timer := time.NewTimer(o.Deadline)
	defer timer.Stop()

	select {
	case <-w.Done():
		if addr := w.Resolved(); addr != "" {
			o.Stats.IncLookup(stats.LookupRemoteHit)
			return Result{
				Outcome:  Remote,
				Location: fmt.Sprintf("http://%s:%d/cache/%s", addr, o.RedirectPort, url.PathEscape(name)),
			}
		}
		o.Stats.IncLookup(stats.LookupRemoteMiss)
		return Result{Outcome: Miss}
	case <-timer.C:
		o.Stats.IncLookup(stats.LookupTimeout)
		return Result{Outcome: Miss}
	case <-ctx.Done():
		// client went away; the deferred Remove still runs
		o.Stats.IncLookup(stats.LookupTimeout)
		return Result{Outcome: Miss}
	}
}
