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

package inode

import (
	"testing"

	"github.com/blocksense-network/agentfs/internal/fserrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIDSource() IDSource {
	next := RootID
	return func() ID {
		next++
		return next
	}
}

func newTestTable() *Table {
	return NewTable(newIDSource(), Attributes{Kind: Dir})
}

func TestCreateLookupFile(t *testing.T) {
	tbl := newTestTable()
	id, ferr := tbl.CreateFile(tbl.RootID, "a.txt", Attributes{Len: 3}, 42)
	require.Nil(t, ferr)

	got, _, found := tbl.Lookup(tbl.RootID, "a.txt")
	assert.True(t, found)
	assert.Equal(t, id, got)

	attr, ferr := tbl.GetAttr(id)
	require.Nil(t, ferr)
	assert.Equal(t, File, attr.Kind)
	assert.EqualValues(t, 3, attr.Len)
}

func TestCreateDuplicateNameFails(t *testing.T) {
	tbl := newTestTable()
	_, ferr := tbl.CreateFile(tbl.RootID, "a.txt", Attributes{}, 1)
	require.Nil(t, ferr)

	_, ferr = tbl.CreateFile(tbl.RootID, "a.txt", Attributes{}, 2)
	require.NotNil(t, ferr)
	assert.Equal(t, fserrors.AlreadyExists, ferr.Kind)
}

func TestReaddirInsertionOrder(t *testing.T) {
	tbl := newTestTable()
	names := []string{"c", "a", "b"}
	for _, n := range names {
		_, ferr := tbl.CreateFile(tbl.RootID, n, Attributes{}, 0)
		require.Nil(t, ferr)
	}

	entries, _, ferr := tbl.Readdir(tbl.RootID)
	require.Nil(t, ferr)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, names[i], e.Name)
	}
}

func TestUnlinkRecordsWhiteoutAndRemovesEntry(t *testing.T) {
	tbl := newTestTable()
	_, ferr := tbl.CreateFile(tbl.RootID, "gone.txt", Attributes{}, 0)
	require.Nil(t, ferr)

	ferr = tbl.Unlink(tbl.RootID, "gone.txt")
	require.Nil(t, ferr)

	_, whiteout, found := tbl.Lookup(tbl.RootID, "gone.txt")
	assert.False(t, found)
	assert.True(t, whiteout)

	entries, whiteouts, ferr := tbl.Readdir(tbl.RootID)
	require.Nil(t, ferr)
	assert.Empty(t, entries)
	assert.True(t, whiteouts["gone.txt"])
}

func TestCloneAndAdoptPreservesContentReference(t *testing.T) {
	ids := newIDSource()
	lower := NewTable(ids, Attributes{Kind: Dir})
	id, ferr := lower.CreateFile(lower.RootID, "f", Attributes{Len: 7}, 99)
	require.Nil(t, ferr)
	n := lower.Get(id)
	require.NotNil(t, n)

	// Same shared IDSource as lower: a real copy-up shares one allocator
	// across every layer of a branch's lineage (see branchgraph.Graph).
	upper := NewTable(ids, Attributes{Kind: Dir})
	newID := upper.Adopt(n.Clone())
	attr, ferr := upper.GetAttr(newID)
	require.Nil(t, ferr)
	assert.EqualValues(t, 7, attr.Len)

	cloned := upper.Get(newID)
	assert.EqualValues(t, 99, cloned.ContentID)
	assert.Equal(t, id, newID, "copy-up preserves the node's id across layers")
}

func TestCreateAllocatesFreshIDsEvenAfterCopyUp(t *testing.T) {
	ids := newIDSource()
	lower := NewTable(ids, Attributes{Kind: Dir})
	lowerID, ferr := lower.CreateFile(lower.RootID, "f", Attributes{}, 0)
	require.Nil(t, ferr)

	upper := NewTable(ids, Attributes{Kind: Dir})
	upperID, ferr := upper.CreateFile(upper.RootID, "g", Attributes{}, 0)
	require.Nil(t, ferr)
	assert.NotEqual(t, lowerID, upperID, "ids from a shared allocator never collide across layers")
}

func TestSymlinkAndReadlink(t *testing.T) {
	tbl := newTestTable()
	id, ferr := tbl.CreateSymlink(tbl.RootID, "link", Attributes{}, "/etc/passwd")
	require.Nil(t, ferr)

	target, ferr := tbl.Readlink(id)
	require.Nil(t, ferr)
	assert.Equal(t, "/etc/passwd", target)
}

func TestXattrRoundTrip(t *testing.T) {
	tbl := newTestTable()
	id, ferr := tbl.CreateFile(tbl.RootID, "f", Attributes{}, 0)
	require.Nil(t, ferr)

	require.Nil(t, tbl.SetXattr(id, "user.foo", []byte("bar")))
	v, ferr := tbl.GetXattr(id, "user.foo")
	require.Nil(t, ferr)
	assert.Equal(t, "bar", string(v))

	names, ferr := tbl.ListXattr(id)
	require.Nil(t, ferr)
	assert.Contains(t, names, "user.foo")

	require.Nil(t, tbl.RemoveXattr(id, "user.foo"))
	_, ferr = tbl.GetXattr(id, "user.foo")
	require.NotNil(t, ferr)
	assert.Equal(t, fserrors.NotFound, ferr.Kind)
}

func TestIsEmptyDir(t *testing.T) {
	tbl := newTestTable()
	dirID, ferr := tbl.CreateDir(tbl.RootID, "d", Attributes{})
	require.Nil(t, ferr)
	assert.True(t, tbl.IsEmptyDir(dirID))

	_, ferr = tbl.CreateFile(dirID, "f", Attributes{}, 0)
	require.Nil(t, ferr)
	assert.False(t, tbl.IsEmptyDir(dirID))
}
