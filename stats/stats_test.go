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

package stats

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/pkgcached/pkgcached/protocol"
)

func TestCounters(t *testing.T) {
	s := New()

	s.IncRX(protocol.TypeSearch)
	s.IncRX(protocol.TypeSearch)
	s.IncTX(protocol.TypeFound)
	s.IncLookup(LookupRemoteHit)
	s.SetPeers(3)
	s.SetWaiters(1)

	require.Equal(t, 2.0, testutil.ToFloat64(s.rx.WithLabelValues("search")))
	require.Equal(t, 1.0, testutil.ToFloat64(s.tx.WithLabelValues("found")))
	require.Equal(t, 1.0, testutil.ToFloat64(s.lookups.WithLabelValues(LookupRemoteHit)))
	require.Equal(t, 3.0, testutil.ToFloat64(s.peers))
	require.Equal(t, 1.0, testutil.ToFloat64(s.waiters))
}

func TestHandlerServesRegistry(t *testing.T) {
	s := New()
	s.IncRX(protocol.TypePing)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	require.Contains(t, w.Body.String(), "pkgcached_rx_total")
}
