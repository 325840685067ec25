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

package cmd

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"peer_ttl_secs":60,"peers":[{"address":"10.1.2.3","last_seen_secs":12.5}]}`))
	}))
	defer srv.Close()

	status, err := fetchStatus(srv.URL)
	require.NoError(t, err)
	require.Equal(t, 60.0, status.PeerTTLSecs)
	require.Len(t, status.Peers, 1)
	require.Equal(t, "10.1.2.3", status.Peers[0].Address)
}

func TestFetchStatusBadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := fetchStatus(srv.URL)
	require.Error(t, err)
}
