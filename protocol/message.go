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

// Package protocol implements the wire codec for the multicast package-cache
// discovery protocol: a small set of UDP messages peers exchange to announce
// themselves and to ask "does anyone have this file".
package protocol

import (
	"encoding/binary"
	"errors"
)

// Version is the only wire version this build speaks. All peers in a
// deployment must agree on it; there is no negotiation.
const Version = 1

// Type identifies the kind of message carried by a datagram.
type Type uint8

// Message types understood by the protocol. Any other byte value on the
// wire is malformed.
const (
	TypeSearch Type = iota + 1
	TypeFound
	TypeNotFound
	TypePing
	TypePong
	TypeGone
)

// String renders the type the way it would appear in log lines.
func (t Type) String() string {
	switch t {
	case TypeSearch:
		return "search"
	case TypeFound:
		return "found"
	case TypeNotFound:
		return "notfound"
	case TypePing:
		return "ping"
	case TypePong:
		return "pong"
	case TypeGone:
		return "gone"
	default:
		return "unknown"
	}
}

// valid reports whether t is one of the known message types.
func (t Type) valid() bool {
	return t >= TypeSearch && t <= TypeGone
}

// ErrMalformed is returned by Decode for any datagram that cannot be
// interpreted as a well-formed Message: too short, unknown version, unknown
// type, or a length prefix that runs past the end of the buffer.
var ErrMalformed = errors.New("protocol: malformed datagram")

// maxFieldLen is the longest pkg or dest value Encode accepts. Decode does
// not consult it: a length prefix that runs past the end of the datagram is
// what makes an inbound field malformed.
const maxFieldLen = 65000

// Message is the decoded form of a datagram. Pkg is required for
// Search/Found/NotFound and ignored otherwise. Dest is an informational
// hint only; per the protocol's trust model the sender's source address,
// not Dest, is authoritative for identity.
type Message struct {
	Type Type
	Pkg  string
	Dest string
}

// Encode renders m as a self-contained UDP payload: a 2-byte header
// (version, type) followed by two length-prefixed UTF-8 strings (Pkg,
// Dest). A zero-length prefix means the field is absent.
func Encode(m Message) ([]byte, error) {
	if !m.Type.valid() {
		return nil, ErrMalformed
	}
	if len(m.Pkg) > maxFieldLen || len(m.Dest) > maxFieldLen {
		return nil, ErrMalformed
	}

	buf := make([]byte, 0, 2+2+len(m.Pkg)+2+len(m.Dest))
	buf = append(buf, Version, byte(m.Type))
	buf = appendField(buf, m.Pkg)
	buf = appendField(buf, m.Dest)
	return buf, nil
}

func appendField(buf []byte, s string) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

// Decode parses a UDP payload produced by Encode. It never panics on
// truncated or hostile input; any framing problem comes back as
// ErrMalformed so the receive loop can discard the datagram and continue.
func Decode(b []byte) (Message, error) {
	if len(b) < 2 {
		return Message{}, ErrMalformed
	}
	if b[0] != Version {
		return Message{}, ErrMalformed
	}
	t := Type(b[1])
	if !t.valid() {
		return Message{}, ErrMalformed
	}
	rest := b[2:]

	pkg, rest, err := readField(rest)
	if err != nil {
		return Message{}, err
	}
	dest, rest, err := readField(rest)
	if err != nil {
		return Message{}, err
	}
	if len(rest) != 0 {
		return Message{}, ErrMalformed
	}

	return Message{Type: t, Pkg: pkg, Dest: dest}, nil
}

func readField(b []byte) (value string, rest []byte, err error) {
	if len(b) < 2 {
		return "", nil, ErrMalformed
	}
	n := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]
	if n > len(b) {
		return "", nil, ErrMalformed
	}
	return string(b[:n]), b[n:], nil
}
