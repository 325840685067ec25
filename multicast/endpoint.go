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

// Package multicast owns the daemon's single UDP socket: it joins the
// well-known group, sends every outbound message, and dispatches every
// inbound datagram to the membership table, the waiter registry, or the
// local cache probe. One receive goroutine and one beacon goroutine run
// for the life of the process.
package multicast

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"

	"github.com/pkgcached/pkgcached/cache"
	"github.com/pkgcached/pkgcached/membership"
	"github.com/pkgcached/pkgcached/protocol"
	"github.com/pkgcached/pkgcached/stats"
	"github.com/pkgcached/pkgcached/waiter"
)

// Config carries the transport parameters of the endpoint.
type Config struct {
	// Group is the multicast group address peers agree on.
	Group net.IP
	// Port is the UDP port the socket binds and the group listens on.
	Port int
	// TTL is the hop limit on outbound multicast packets.
	TTL int
	// PongInterval is the cadence of the unsolicited liveness beacon.
	PongInterval time.Duration
}

// Endpoint is the multicast transport plus its inbound dispatch table.
type Endpoint struct {
	cfg      Config
	group    *net.UDPAddr
	conn     net.PacketConn
	pconn    *ipv4.PacketConn
	probe    *cache.Probe
	members  *membership.Table
	registry *waiter.Registry
	stats    *stats.Stats

	// IPs of local interfaces. A datagram sourced from any of these is
	// ours reflected back and must never reach the dispatch table, even
	// if the socket's loopback suppression ever fails us.
	local map[string]bool
}

// New binds the UDP socket, joins the group on the system default
// multicast interface, disables loopback delivery and applies the
// configured TTL. A bind or join failure here is fatal to startup.
func New(cfg Config, probe *cache.Probe, members *membership.Table, registry *waiter.Registry, st *stats.Stats) (*Endpoint, error) {
	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("binding multicast socket: %w", err)
	}

	pconn := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: cfg.Group, Port: cfg.Port}
	if err := pconn.JoinGroup(nil, &net.UDPAddr{IP: cfg.Group}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("joining group %s: %w", cfg.Group, err)
	}
	if err := pconn.SetMulticastLoopback(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("disabling multicast loopback: %w", err)
	}
	if err := pconn.SetMulticastTTL(cfg.TTL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting multicast TTL: %w", err)
	}

	local, err := localAddrs()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("enumerating local addresses: %w", err)
	}

	return &Endpoint{
		cfg:      cfg,
		group:    group,
		conn:     conn,
		pconn:    pconn,
		probe:    probe,
		members:  members,
		registry: registry,
		stats:    st,
		local:    local,
	}, nil
}

// localAddrs collects the IPs of every local interface.
func localAddrs() (map[string]bool, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	local := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok {
			local[ipnet.IP.String()] = true
		}
	}
	return local, nil
}

// Send encodes m and transmits it to the group. Per the error policy a
// send failure is logged and swallowed downstream; here it is returned so
// callers that care (tests, mostly) can see it.
func (e *Endpoint) Send(m protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if _, err := e.pconn.WriteTo(b, nil, e.group); err != nil {
		return err
	}
	e.stats.IncTX(m.Type)
	return nil
}

// receive reads datagrams until the socket is closed.
func (e *Endpoint) receive() error {
	buf := make([]byte, 65535)
	for {
		n, _, src, err := e.pconn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Errorf("Failed to read packet on %s: %v", e.conn.LocalAddr(), err)
			continue
		}
		e.dispatch(buf[:n], src)
	}
}

// dispatch handles one inbound datagram. It never blocks beyond the
// membership and registry locks: a search reply or a ping's pong is the
// only send it performs, and no lock is held across it.
func (e *Endpoint) dispatch(b []byte, src net.Addr) {
	udpSrc, ok := src.(*net.UDPAddr)
	if !ok {
		return
	}
	addr := udpSrc.IP.String()
	if e.local[addr] {
		log.Debugf("Ignoring our own datagram reflected from %s", addr)
		return
	}

	m, err := protocol.Decode(b)
	if err != nil {
		log.Debugf("Discarding malformed datagram from %s: %v", addr, err)
		return
	}
	e.stats.IncRX(m.Type)

	// Any well-formed message proves the sender is alive; gone proves
	// the opposite.
	switch m.Type {
	case protocol.TypeGone:
		e.members.Remove(addr)
	default:
		e.members.Touch(addr)
	}

	switch m.Type {
	case protocol.TypeSearch:
		e.answerSearch(m.Pkg, addr)
	case protocol.TypeFound:
		e.registry.OnFound(m.Pkg, addr)
	case protocol.TypeNotFound:
		e.registry.OnNotFound(m.Pkg, addr)
	case protocol.TypePing:
		if err := e.Send(protocol.Message{Type: protocol.TypePong}); err != nil {
			log.Warningf("Failed to answer ping from %s: %v", addr, err)
		}
	case protocol.TypePong, protocol.TypeGone:
		// liveness bookkeeping above is all there is to do
	}

	e.stats.SetPeers(e.members.Size())
}

// answerSearch probes the local cache for pkg and tells the group whether
// we have it. Dest carries the asking peer's address as a hint; receivers
// key off the datagram source regardless.
func (e *Endpoint) answerSearch(pkg, from string) {
	reply := protocol.Message{Type: protocol.TypeNotFound, Pkg: pkg, Dest: from}
	if _, ok := e.probe.Find(pkg); ok {
		reply.Type = protocol.TypeFound
	}
	if err := e.Send(reply); err != nil {
		log.Warningf("Failed to answer search for %s: %v", pkg, err)
	}
}

// beacon emits the unsolicited pong every PongInterval until ctx is
// cancelled.
func (e *Endpoint) beacon(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PongInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.Send(protocol.Message{Type: protocol.TypePong}); err != nil {
				log.Warningf("Failed to send liveness beacon: %v", err)
			}
		}
	}
}

// Run announces ourselves with a ping, then serves the receive loop and
// the beacon until ctx is cancelled. On the way out it emits a single
// gone so peers drop us immediately instead of waiting out the TTL, then
// closes the socket, which unblocks the receive loop.
func (e *Endpoint) Run(ctx context.Context) error {
	log.Infof("Joined multicast group %s", e.group)
	if err := e.Send(protocol.Message{Type: protocol.TypePing}); err != nil {
		log.Warningf("Failed to send startup ping: %v", err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(e.receive)
	eg.Go(func() error {
		return e.beacon(ctx)
	})
	eg.Go(func() error {
		<-ctx.Done()
		if err := e.Send(protocol.Message{Type: protocol.TypeGone}); err != nil {
			log.Warningf("Failed to send parting gone: %v", err)
		}
		return e.conn.Close()
	})
	return eg.Wait()
}
