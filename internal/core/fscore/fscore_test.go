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

package fscore

import (
	"testing"

	"github.com/blocksense-network/agentfs/internal/core/branchgraph"
	"github.com/blocksense-network/agentfs/internal/core/handle"
	"github.com/blocksense-network/agentfs/internal/core/inode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(Options{FileMode: 0644, DirMode: 0755})
}

func TestCreateAndLookupRoundtrip(t *testing.T) {
	e := newTestEngine(t)
	id, attr, ferr := e.Create(branchgraph.DefaultBranchID, inode.RootID, "a.txt", CreateOptions{Kind: inode.File})
	require.Nil(t, ferr)
	assert.Equal(t, inode.File, attr.Kind)

	got, gotAttr, ferr := e.Lookup(branchgraph.DefaultBranchID, inode.RootID, "a.txt")
	require.Nil(t, ferr)
	assert.Equal(t, id, got)
	assert.Equal(t, inode.File, gotAttr.Kind)
}

func TestWriteThenReadRoundtrips(t *testing.T) {
	e := newTestEngine(t)
	id, _, ferr := e.Create(branchgraph.DefaultBranchID, inode.RootID, "a.txt", CreateOptions{Kind: inode.File})
	require.Nil(t, ferr)

	h, ferr := e.Open(branchgraph.DefaultBranchID, id, OpenOptions{Read: true, Write: true})
	require.Nil(t, ferr)

	n, ferr := e.Write(h, 0, []byte("hello"))
	require.Nil(t, ferr)
	assert.Equal(t, 5, n)

	data, ferr := e.Read(h, 0, 5)
	require.Nil(t, ferr)
	assert.Equal(t, "hello", string(data))

	require.Nil(t, e.Close(h))
}

func TestWritePastEndZeroFillsGap(t *testing.T) {
	e := newTestEngine(t)
	id, _, ferr := e.Create(branchgraph.DefaultBranchID, inode.RootID, "a.txt", CreateOptions{Kind: inode.File})
	require.Nil(t, ferr)
	h, ferr := e.Open(branchgraph.DefaultBranchID, id, OpenOptions{Write: true})
	require.Nil(t, ferr)

	_, ferr = e.Write(h, 10, []byte("x"))
	require.Nil(t, ferr)

	data, ferr := e.Read(h, 0, 11)
	require.Nil(t, ferr)
	require.Len(t, data, 11)
	for _, b := range data[:10] {
		assert.Equal(t, byte(0), b)
	}
	assert.Equal(t, byte('x'), data[10])
}

func TestAppendModeForcesWriteToEOF(t *testing.T) {
	e := newTestEngine(t)
	id, _, ferr := e.Create(branchgraph.DefaultBranchID, inode.RootID, "a.txt", CreateOptions{Kind: inode.File})
	require.Nil(t, ferr)
	h, ferr := e.Open(branchgraph.DefaultBranchID, id, OpenOptions{Write: true, Append: true})
	require.Nil(t, ferr)

	_, ferr = e.Write(h, 0, []byte("abc"))
	require.Nil(t, ferr)
	_, ferr = e.Write(h, 999, []byte("def"))
	require.Nil(t, ferr)

	data, ferr := e.Read(h, 0, 6)
	require.Nil(t, ferr)
	assert.Equal(t, "abcdef", string(data))
}

func TestSnapshotIsolatesFutureBranchMutations(t *testing.T) {
	e := newTestEngine(t)
	_, _, ferr := e.Create(branchgraph.DefaultBranchID, inode.RootID, "a.txt", CreateOptions{Kind: inode.File})
	require.Nil(t, ferr)

	snap, ferr := e.SnapshotCreate(branchgraph.DefaultBranchID, "s1")
	require.Nil(t, ferr)

	_, _, ferr = e.Create(branchgraph.DefaultBranchID, inode.RootID, "b.txt", CreateOptions{Kind: inode.File})
	require.Nil(t, ferr)

	br, ferr := e.BranchCreateFromSnapshot(snap.ID, "feature")
	require.Nil(t, ferr)

	entries, ferr := e.Readdir(br.ID, inode.RootID)
	require.Nil(t, ferr)
	names := map[string]bool{}
	for _, de := range entries {
		names[de.Name] = true
	}
	assert.True(t, names["a.txt"], "snapshot content should be visible")
	assert.False(t, names["b.txt"], "post-snapshot mutation on the source branch must not leak into the new branch")
}

func TestCrossBranchIndependence(t *testing.T) {
	e := newTestEngine(t)
	snap, ferr := e.SnapshotCreate(branchgraph.DefaultBranchID, "base")
	require.Nil(t, ferr)

	br1, ferr := e.BranchCreateFromSnapshot(snap.ID, "one")
	require.Nil(t, ferr)
	br2, ferr := e.BranchCreateFromSnapshot(snap.ID, "two")
	require.Nil(t, ferr)

	_, _, ferr = e.Create(br1.ID, inode.RootID, "only-on-one.txt", CreateOptions{Kind: inode.File})
	require.Nil(t, ferr)

	entries, ferr := e.Readdir(br2.ID, inode.RootID)
	require.Nil(t, ferr)
	for _, de := range entries {
		assert.NotEqual(t, "only-on-one.txt", de.Name)
	}
}

func TestProcessBindingInheritsFromAncestor(t *testing.T) {
	e := newTestEngine(t)
	snap, ferr := e.SnapshotCreate(branchgraph.DefaultBranchID, "base")
	require.Nil(t, ferr)
	br, ferr := e.BranchCreateFromSnapshot(snap.ID, "child")
	require.Nil(t, ferr)

	require.Nil(t, e.BindProcess(br.ID, 100))

	got := e.ResolveBranch(200, []uint32{100, 1})
	assert.Equal(t, br.ID, got)

	got = e.ResolveBranch(999, []uint32{1})
	assert.Equal(t, branchgraph.DefaultBranchID, got)
}

func TestRenameVisibleUnderNewName(t *testing.T) {
	e := newTestEngine(t)
	_, _, ferr := e.Create(branchgraph.DefaultBranchID, inode.RootID, "old.txt", CreateOptions{Kind: inode.File})
	require.Nil(t, ferr)

	ferr = e.Rename(branchgraph.DefaultBranchID, inode.RootID, "old.txt", inode.RootID, "new.txt")
	require.Nil(t, ferr)

	_, _, ferr = e.Lookup(branchgraph.DefaultBranchID, inode.RootID, "old.txt")
	assert.NotNil(t, ferr)
	_, _, ferr = e.Lookup(branchgraph.DefaultBranchID, inode.RootID, "new.txt")
	assert.Nil(t, ferr)
}

func TestRenameOntoNonEmptyDirFails(t *testing.T) {
	e := newTestEngine(t)
	_, _, ferr := e.Create(branchgraph.DefaultBranchID, inode.RootID, "src", CreateOptions{Kind: inode.Dir})
	require.Nil(t, ferr)
	dstID, _, ferr := e.Create(branchgraph.DefaultBranchID, inode.RootID, "dst", CreateOptions{Kind: inode.Dir})
	require.Nil(t, ferr)
	_, _, ferr = e.Create(branchgraph.DefaultBranchID, dstID, "inner.txt", CreateOptions{Kind: inode.File})
	require.Nil(t, ferr)

	ferr = e.Rename(branchgraph.DefaultBranchID, inode.RootID, "src", inode.RootID, "dst")
	require.NotNil(t, ferr)
	assert.Equal(t, 39, ferr.Errno)
}

func TestUnlinkThenLookupNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, _, ferr := e.Create(branchgraph.DefaultBranchID, inode.RootID, "a.txt", CreateOptions{Kind: inode.File})
	require.Nil(t, ferr)
	require.Nil(t, e.Unlink(branchgraph.DefaultBranchID, inode.RootID, "a.txt"))

	_, _, ferr = e.Lookup(branchgraph.DefaultBranchID, inode.RootID, "a.txt")
	require.NotNil(t, ferr)
}

func TestOpenRejectsIncompatibleShareMode(t *testing.T) {
	e := newTestEngine(t)
	id, _, ferr := e.Create(branchgraph.DefaultBranchID, inode.RootID, "a.txt", CreateOptions{Kind: inode.File})
	require.Nil(t, ferr)

	h1, ferr := e.Open(branchgraph.DefaultBranchID, id, OpenOptions{Write: true, Share: []handle.ShareMode{handle.ShareRead}})
	require.Nil(t, ferr)
	defer e.Close(h1)

	_, ferr = e.Open(branchgraph.DefaultBranchID, id, OpenOptions{Write: true})
	assert.NotNil(t, ferr)
}

func TestLockExcludesOverlappingExclusiveLock(t *testing.T) {
	e := newTestEngine(t)
	id, _, ferr := e.Create(branchgraph.DefaultBranchID, inode.RootID, "a.txt", CreateOptions{Kind: inode.File})
	require.Nil(t, ferr)
	share := []handle.ShareMode{handle.ShareRead, handle.ShareWrite}
	h1, ferr := e.Open(branchgraph.DefaultBranchID, id, OpenOptions{Write: true, Share: share})
	require.Nil(t, ferr)
	h2, ferr := e.Open(branchgraph.DefaultBranchID, id, OpenOptions{Write: true, Share: share})
	require.Nil(t, ferr)

	require.Nil(t, e.Lock(h1, handle.LockRange{Offset: 0, Len: 10, Kind: handle.LockExclusive}))
	ferr = e.Lock(h2, handle.LockRange{Offset: 5, Len: 10, Kind: handle.LockExclusive})
	assert.NotNil(t, ferr)
}

func TestBranchDestroyRefusesWhileBound(t *testing.T) {
	e := newTestEngine(t)
	snap, ferr := e.SnapshotCreate(branchgraph.DefaultBranchID, "base")
	require.Nil(t, ferr)
	br, ferr := e.BranchCreateFromSnapshot(snap.ID, "child")
	require.Nil(t, ferr)

	require.Nil(t, e.BindProcess(br.ID, 42))
	ferr = e.BranchDestroy(br.ID)
	assert.NotNil(t, ferr)

	e.binding.Unbind(42)
	ferr = e.BranchDestroy(br.ID)
	assert.Nil(t, ferr)
}

func TestTruncateGrowsWithZeroFill(t *testing.T) {
	e := newTestEngine(t)
	id, _, ferr := e.Create(branchgraph.DefaultBranchID, inode.RootID, "a.txt", CreateOptions{Kind: inode.File})
	require.Nil(t, ferr)
	require.Nil(t, e.Truncate(branchgraph.DefaultBranchID, id, 4))

	h, ferr := e.Open(branchgraph.DefaultBranchID, id, OpenOptions{Read: true})
	require.Nil(t, ferr)
	data, ferr := e.Read(h, 0, 4)
	require.Nil(t, ferr)
	assert.Equal(t, []byte{0, 0, 0, 0}, data)
}
