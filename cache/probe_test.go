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

package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindHitsFirstMatchingDir(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(b, "foo-1.0-1-x86_64.pkg.tar.xz"), []byte("bytes"), 0o644))

	p := NewProbe([]string{a, b})
	path, ok := p.Find("foo-1.0-1-x86_64.pkg.tar.xz")
	require.True(t, ok)
	require.Equal(t, filepath.Join(b, "foo-1.0-1-x86_64.pkg.tar.xz"), path)
}

func TestFindMiss(t *testing.T) {
	p := NewProbe([]string{t.TempDir()})
	_, ok := p.Find("nope-1.0-1-x86_64.pkg.tar.xz")
	require.False(t, ok)
}

func TestFindSkipsUnreadableDirButKeepsScanning(t *testing.T) {
	missingDir := filepath.Join(t.TempDir(), "does-not-exist")
	present := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(present, "bar-2-1-x86_64.pkg.tar.xz"), []byte("b"), 0o644))

	p := NewProbe([]string{missingDir, present})
	path, ok := p.Find("bar-2-1-x86_64.pkg.tar.xz")
	require.True(t, ok)
	require.Equal(t, filepath.Join(present, "bar-2-1-x86_64.pkg.tar.xz"), path)
}

func TestFindRejectsPathTraversal(t *testing.T) {
	p := NewProbe([]string{t.TempDir()})

	for _, name := range []string{"../etc/passwd", "a/b", "..", "."} {
		_, ok := p.Find(name)
		require.False(t, ok, name)
	}
}

func TestFindDoesNotFollowSymlinkOutOfDir(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	target := filepath.Join(outside, "secret-1-1-x86_64.pkg.tar.xz")
	require.NoError(t, os.WriteFile(target, []byte("s"), 0o644))
	require.NoError(t, os.Symlink(target, filepath.Join(dir, "secret-1-1-x86_64.pkg.tar.xz")))

	p := NewProbe([]string{dir})
	_, ok := p.Find("secret-1-1-x86_64.pkg.tar.xz")
	require.False(t, ok)
}
