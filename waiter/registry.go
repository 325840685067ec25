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

// Package waiter implements the rendezvous between one blocked HTTP search
// and the asynchronous UDP found/notfound replies that might satisfy it.
package waiter

import (
	"sync"
)

// Waiter is one outstanding lookup. It is created by Registry.Create,
// mutated only through the registry (never directly), and removed via
// Registry.Remove once the caller is done waiting on it.
type Waiter struct {
	Pkgname string

	mu       sync.Mutex
	expected map[string]struct{}
	resolved string
	done     chan struct{}
	once     sync.Once
}

// Wait blocks until the waiter is completed (by a found reply, or by the
// expected-peer set emptying via notfound replies) and returns the resolved
// peer address, or "" if none was found. Wait has no deadline of its own;
// a caller that needs one selects on Done instead.
func (w *Waiter) Wait() string {
	<-w.done
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resolved
}

// Done returns the channel that closes exactly once, when the waiter is
// satisfied. Callers that need to race the wait against their own deadline
// timer (rather than call the blocking Wait) select on this directly.
func (w *Waiter) Done() <-chan struct{} {
	return w.done
}

// Resolved returns the currently resolved address, "" if none yet. Safe to
// call at any point in the waiter's lifecycle.
func (w *Waiter) Resolved() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resolved
}

// fire closes the done channel exactly once, regardless of how many callers
// race to call it.
func (w *Waiter) fire() {
	w.once.Do(func() { close(w.done) })
}

// Registry holds all outstanding waiters and serializes every mutation
// against a single lock: "found wins over notfound for the same peer",
// "notfound can empty the expected set", and "the completion signal fires
// once" all depend on there being exactly one lock in play.
type Registry struct {
	mu      sync.Mutex
	waiters []*Waiter
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Create allocates a new Waiter for pkgname, seeded with peers (the live
// membership snapshot at the moment of creation), and adds it to the
// registry. Multiple waiters for the same pkgname may coexist; each is
// satisfied independently.
func (r *Registry) Create(pkgname string, peers map[string]struct{}) *Waiter {
	expected := make(map[string]struct{}, len(peers))
	for addr := range peers {
		expected[addr] = struct{}{}
	}

	w := &Waiter{
		Pkgname:  pkgname,
		expected: expected,
		done:     make(chan struct{}),
	}

	r.mu.Lock()
	r.waiters = append(r.waiters, w)
	r.mu.Unlock()

	return w
}

// OnFound completes every waiter for pkgname whose resolved address is
// still empty, setting it to addr. A peer that wasn't in a waiter's
// expected-peer snapshot can still complete it: membership is an
// optimization here, not a correctness gate. If multiple found replies race
// for the same waiter, the first one processed under the registry lock
// wins; later ones are no-ops for that waiter.
func (r *Registry) OnFound(pkgname, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range r.waiters {
		if w.Pkgname != pkgname {
			continue
		}
		w.mu.Lock()
		if w.resolved == "" {
			w.resolved = addr
			w.fire()
		}
		w.mu.Unlock()
	}
}

// OnNotFound discards addr from every matching waiter's expected-peer set.
// A waiter whose expected set becomes empty as a result is completed
// immediately, with its resolved address left unset, short-circuiting the
// deadline wait.
func (r *Registry) OnNotFound(pkgname, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range r.waiters {
		if w.Pkgname != pkgname {
			continue
		}
		w.mu.Lock()
		delete(w.expected, addr)
		if len(w.expected) == 0 && w.resolved == "" {
			w.fire()
		}
		w.mu.Unlock()
	}
}

// Remove deletes w from the registry. Safe to call after w has already
// fired or after the caller's own deadline elapsed; it is idempotent.
func (r *Registry) Remove(w *Waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, cand := range r.waiters {
		if cand == w {
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			return
		}
	}
}

// Len reports the number of currently registered waiters. Used for metrics
// only; never consulted for control flow.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}
