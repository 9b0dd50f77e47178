// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/blocksense-network/agentfs/internal/core/inode"
	"github.com/blocksense-network/agentfs/internal/fserrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryAlwaysNotFound(t *testing.T) {
	var b InMemory
	_, ferr := b.Stat("anything")
	require.NotNil(t, ferr)
	assert.Equal(t, fserrors.NotFound, ferr.Kind)
	assert.False(t, b.SupportsReflink())
}

func TestHostFsReadsRealFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	h := HostFs{Root: dir}

	attr, ferr := h.Stat("hello.txt")
	require.Nil(t, ferr)
	assert.Equal(t, uint64(11), attr.Len)
	assert.Equal(t, inode.File, attr.Kind)

	data, ferr := h.ReadAt("hello.txt", 6, 5)
	require.Nil(t, ferr)
	assert.Equal(t, []byte("world"), data)

	entries, ferr := h.Readdir("")
	require.Nil(t, ferr)
	assert.Len(t, entries, 2)
}

func TestHostFsRejectsEscapingPath(t *testing.T) {
	dir := t.TempDir()
	h := HostFs{Root: dir}

	_, ferr := h.Stat("../../../etc/passwd")
	require.NotNil(t, ferr)
	assert.Equal(t, fserrors.AccessDenied, ferr.Kind)
}

func TestHostFsMissingFileIsNotFound(t *testing.T) {
	dir := t.TempDir()
	h := HostFs{Root: dir}

	_, ferr := h.Stat("nope.txt")
	require.NotNil(t, ferr)
	assert.Equal(t, fserrors.NotFound, ferr.Kind)
}

func TestRamDiskSeedAndRead(t *testing.T) {
	r := NewRamDisk()
	r.Seed("/dir/file.txt", []byte("ram disk contents"))

	attr, ferr := r.Stat("dir/file.txt")
	require.Nil(t, ferr)
	assert.Equal(t, uint64(len("ram disk contents")), attr.Len)

	data, ferr := r.ReadAt("dir/file.txt", 4, 4)
	require.Nil(t, ferr)
	assert.Equal(t, []byte("disk"), data)

	entries, ferr := r.Readdir("dir")
	require.Nil(t, ferr)
	require.Len(t, entries, 1)
	assert.Equal(t, "file.txt", entries[0].Name)
}

func TestRamDiskReaddirRoot(t *testing.T) {
	r := NewRamDisk()
	r.SeedDir("/a")
	r.Seed("/b.txt", []byte("x"))

	entries, ferr := r.Readdir("")
	require.Nil(t, ferr)
	assert.Len(t, entries, 2)
}

func TestRamDiskMissingPathIsNotFound(t *testing.T) {
	r := NewRamDisk()
	_, ferr := r.Stat("nope")
	require.NotNil(t, ferr)
	assert.Equal(t, fserrors.NotFound, ferr.Kind)
}

func TestNativeCoWAdvertisesReflinkSupport(t *testing.T) {
	n := NativeCoW{HostFs: HostFs{Root: t.TempDir()}}
	assert.True(t, n.SupportsReflink())
	assert.True(t, n.SupportsNativeSnapshots())
}
