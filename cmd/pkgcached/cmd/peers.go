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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pkgcached/pkgcached/httpapi"
)

var peersServer string

func init() {
	RootCmd.AddCommand(peersCmd)
	peersCmd.Flags().StringVarP(&peersServer, "server", "S", "http://localhost:8954", "base URL of a running pkgcached instance")
}

func fetchStatus(server string) (*httpapi.Status, error) {
	resp, err := http.Get(fmt.Sprintf("%s/status", server))
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", server, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("querying %s: unexpected status %s", server, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	status := &httpapi.Status{}
	if err := json.Unmarshal(body, status); err != nil {
		return nil, fmt.Errorf("parsing status from %s: %w", server, err)
	}
	return status, nil
}

func printPeers(status *httpapi.Status) {
	sort.Slice(status.Peers, func(i, j int) bool {
		return status.Peers[i].Address < status.Peers[j].Address
	})

	table := tablewriter.NewWriter(os.Stdout)
	table.Header([]string{"address", "last seen", "state"})
	for _, p := range status.Peers {
		state := color.GreenString("live")
		// flag peers that have burned through half their TTL already
		if p.LastSeenSecs > status.PeerTTLSecs/2 {
			state = color.YellowString("expiring")
		}
		table.Append([]string{
			p.Address,
			fmt.Sprintf("%v ago", time.Duration(p.LastSeenSecs*float64(time.Second)).Round(time.Second)),
			state,
		})
	}
	table.Render()
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Print the live peer table of a running pkgcached instance",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()

		status, err := fetchStatus(peersServer)
		if err != nil {
			log.Fatal(err)
		}
		printPeers(status)
	},
}
