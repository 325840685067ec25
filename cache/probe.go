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

// Package cache resolves a package file name against the host's local
// package manager cache directories. It never writes, never populates, and
// never evicts: it is a read-only probe over state some other tool manages.
package cache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidName is returned for file names that look like a path rather
// than a bare file name.
var ErrInvalidName = errors.New("cache: invalid package file name")

// Probe resolves package file names against an ordered list of cache
// directories. The first directory holding a readable regular file of that
// name wins.
type Probe struct {
	dirs []string
}

// NewProbe returns a Probe scanning dirs in order.
func NewProbe(dirs []string) *Probe {
	cp := make([]string, len(dirs))
	copy(cp, dirs)
	return &Probe{dirs: cp}
}

// Find returns the absolute path of name in the first cache directory that
// has it, or "", false if no directory has it. A name containing a path
// separator or a parent-directory component is rejected outright, since it
// names something other than a single file directly inside a cache dir.
func (p *Probe) Find(name string) (string, bool) {
	if !validName(name) {
		return "", false
	}

	for _, dir := range p.dirs {
		path := filepath.Join(dir, name)
		// Join already collapses ".."; validName rejects traversal
		// attempts before we ever get here, so this is belt and braces.
		if !strings.HasPrefix(path, filepath.Clean(dir)+string(filepath.Separator)) {
			continue
		}
		fi, err := os.Lstat(path)
		if err != nil {
			// Covers ENOENT and permission errors alike: neither proves
			// the file exists elsewhere, so keep scanning.
			continue
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			// Never follow a symlink out of the configured directory.
			continue
		}
		if !fi.Mode().IsRegular() {
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		f.Close()
		return path, true
	}
	return "", false
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	if strings.ContainsRune(name, filepath.Separator) || strings.Contains(name, "/") {
		return false
	}
	return true
}
