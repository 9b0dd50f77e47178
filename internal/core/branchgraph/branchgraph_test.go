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

package branchgraph

import (
	"testing"

	"github.com/blocksense-network/agentfs/internal/core/inode"
	"github.com/blocksense-network/agentfs/internal/idutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGraphHasDefaultBranch(t *testing.T) {
	g := New(inode.Attributes{Kind: inode.Dir}, nil)
	b := g.Branch(DefaultBranchID)
	require.NotNil(t, b)
	assert.False(t, b.HasParent)
}

func TestSnapshotCreateAdvancesBranchParentAndResetsUpper(t *testing.T) {
	g := New(inode.Attributes{Kind: inode.Dir}, nil)
	b := g.Branch(DefaultBranchID)
	_, ferr := b.Upper.CreateFile(b.Upper.RootID, "a.txt", inode.Attributes{}, 0)
	require.Nil(t, ferr)

	snap, ferr := g.SnapshotCreate(DefaultBranchID, "first")
	require.Nil(t, ferr)
	assert.Equal(t, "first", snap.Label)
	assert.False(t, snap.HasParent)

	b = g.Branch(DefaultBranchID)
	assert.True(t, b.HasParent)
	assert.Equal(t, snap.ID, b.Parent)
	// Upper layer reset to empty: the file created before snapshotting no
	// longer exists in the branch's own layer (it lives in the snapshot).
	_, _, found := b.Upper.Lookup(b.Upper.RootID, "a.txt")
	assert.False(t, found)
	_, _, found = snap.Upper.Lookup(snap.Upper.RootID, "a.txt")
	assert.True(t, found)
}

func TestSnapshotIdsAreUniqueAndListedInOrder(t *testing.T) {
	g := New(inode.Attributes{Kind: inode.Dir}, nil)
	s1, ferr := g.SnapshotCreate(DefaultBranchID, "one")
	require.Nil(t, ferr)
	s2, ferr := g.SnapshotCreate(DefaultBranchID, "two")
	require.Nil(t, ferr)

	assert.NotEqual(t, s1.ID, s2.ID)
	list := g.SnapshotList()
	require.Len(t, list, 2)
	assert.Equal(t, "one", list[0].Label)
	assert.Equal(t, "two", list[1].Label)
}

func TestBranchCreateFromSnapshotParentsCorrectly(t *testing.T) {
	g := New(inode.Attributes{Kind: inode.Dir}, nil)
	snap, ferr := g.SnapshotCreate(DefaultBranchID, "base")
	require.Nil(t, ferr)

	br, ferr := g.BranchCreateFromSnapshot(snap.ID, "feature")
	require.Nil(t, ferr)
	assert.Equal(t, snap.ID, br.Parent)
	assert.True(t, br.HasParent)

	chain := g.ParentChain(br)
	require.Len(t, chain, 1)
	assert.Equal(t, snap.ID, chain[0].ID)
}

func TestBranchCreateFromUnknownSnapshotFails(t *testing.T) {
	g := New(inode.Attributes{Kind: inode.Dir}, nil)
	_, ferr := g.BranchCreateFromSnapshot(idutil.New(), "x")
	require.NotNil(t, ferr)
}

func TestParentChainWalksMultipleSnapshots(t *testing.T) {
	g := New(inode.Attributes{Kind: inode.Dir}, nil)
	s1, ferr := g.SnapshotCreate(DefaultBranchID, "s1")
	require.Nil(t, ferr)
	s2, ferr := g.SnapshotCreate(DefaultBranchID, "s2")
	require.Nil(t, ferr)

	b := g.Branch(DefaultBranchID)
	chain := g.ParentChain(b)
	require.Len(t, chain, 2)
	// Nearest first.
	assert.Equal(t, s2.ID, chain[0].ID)
	assert.Equal(t, s1.ID, chain[1].ID)
}
