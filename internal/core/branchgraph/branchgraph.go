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

// Package branchgraph holds the mutable half of the snapshot/branch graph: a
// table of Branches, each with its own inode.Table upper layer parented at
// one immutable internal/core/snapshot.Snapshot. Promotion (snapshot
// creation from a branch) advances the branch's parent pointer without ever
// mutating a pre-existing snapshot. Every Table in a Graph — every branch's
// upper layer and every snapshot it ever froze — shares one inode id
// allocator, so an inode keeps the same id as it's copied up through the
// chain (see inode.ID).
package branchgraph

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/blocksense-network/agentfs/internal/core/inode"
	"github.com/blocksense-network/agentfs/internal/core/snapshot"
	"github.com/blocksense-network/agentfs/internal/fserrors"
	"github.com/blocksense-network/agentfs/internal/idutil"
)

// ID identifies a snapshot or a branch. Both share the same 128-bit,
// time-ordered id space (see internal/idutil).
type ID = idutil.ID

// DefaultBranchID is the reserved all-zero id of the branch FsCore creates
// on construction, mirroring agentfs-core's BranchId::DEFAULT.
var DefaultBranchID = idutil.Zero

// Snapshot re-exports internal/core/snapshot.Snapshot so callers that only
// import branchgraph don't also need to import the snapshot package
// directly.
type Snapshot = snapshot.Snapshot

// Branch is one mutable line of development: its own upper-layer Table,
// parented at a snapshot (or at nothing, for the very first branch).
type Branch struct {
	ID        ID
	Label     string
	Parent    ID
	HasParent bool
	CreatedAt time.Time

	Upper *inode.Table

	// Mu serializes namespace mutations against this branch's Upper table.
	// fscore.Engine holds it for the duration of any operation that
	// reads or writes this branch's namespace; distinct branches never
	// contend on the same Mu, so operations on independent branches run
	// fully in parallel.
	Mu sync.RWMutex
}

// Graph owns every snapshot and branch for one FsCore instance. Snapshot
// and branch *allocation* (creating/listing the graph structure itself) is
// serialized by mu; a Branch's own Upper table has its own, per-branch
// synchronization (Branch.Mu) so concurrent namespace operations on two
// different branches never contend here.
type Graph struct {
	mu sync.Mutex

	snapshots *snapshot.Store

	branches  map[ID]*Branch
	branchSeq []ID

	rootAttr  inode.Attributes
	inodeSeq  uint64 // shared across every Table this Graph creates
	now       func() time.Time
}

// New creates a Graph with a single default branch with an empty upper
// layer and no parent snapshot. now defaults to time.Now when nil.
func New(rootAttr inode.Attributes, now func() time.Time) *Graph {
	if now == nil {
		now = time.Now
	}
	g := &Graph{
		snapshots: snapshot.NewStore(),
		branches:  make(map[ID]*Branch),
		rootAttr:  rootAttr,
		now:       now,
	}
	g.branches[DefaultBranchID] = &Branch{
		ID:        DefaultBranchID,
		CreatedAt: now(),
		Upper:     inode.NewTable(g.nextInodeID, rootAttr),
	}
	g.branchSeq = append(g.branchSeq, DefaultBranchID)
	return g
}

// nextInodeID allocates the next lineage-wide inode id. Starts at 2: 1 is
// inode.RootID, reserved for every Table's root directory.
func (g *Graph) nextInodeID() inode.ID {
	return inode.ID(atomic.AddUint64(&g.inodeSeq, 1) + 1)
}

// Branch returns the live Branch for id, or nil.
func (g *Graph) Branch(id ID) *Branch {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.branches[id]
}

// Snapshot returns the immutable Snapshot for id, or nil.
func (g *Graph) Snapshot(id ID) *Snapshot {
	return g.snapshots.Get(id)
}

// ParentChain returns the chain of snapshots a branch's upper layer sits
// on top of, nearest first.
func (g *Graph) ParentChain(b *Branch) []*Snapshot {
	return g.snapshots.Chain(b.Parent, b.HasParent)
}

// SnapshotCreate freezes branch's current upper layer as a new Snapshot
// parented at the branch's previous parent snapshot, resets the branch's
// upper layer to empty, and advances the branch's parent to the new
// snapshot. Caller must hold branch.Mu for
// the duration (fscore.Engine does).
func (g *Graph) SnapshotCreate(branchID ID, label string) (*Snapshot, *fserrors.Error) {
	g.mu.Lock()
	b, ok := g.branches[branchID]
	g.mu.Unlock()
	if !ok {
		return nil, fserrors.New(fserrors.NotFound, "branchgraph: unknown branch %s", branchID)
	}

	snap := g.snapshots.Create(label, b.Parent, b.HasParent, g.now(), b.Upper)

	b.Upper = inode.NewTable(g.nextInodeID, g.rootAttr)
	b.Parent = snap.ID
	b.HasParent = true

	return snap, nil
}

// SnapshotList returns every snapshot in creation order.
func (g *Graph) SnapshotList() []*Snapshot {
	return g.snapshots.List()
}

// BranchCreateFromSnapshot allocates a fresh branch with an empty upper
// layer parented at snapshotID.
func (g *Graph) BranchCreateFromSnapshot(snapshotID ID, label string) (*Branch, *fserrors.Error) {
	if _, ferr := g.snapshots.MustGet(snapshotID); ferr != nil {
		return nil, ferr
	}

	b := &Branch{
		ID:        idutil.New(),
		Label:     label,
		Parent:    snapshotID,
		HasParent: true,
		CreatedAt: g.now(),
		Upper:     inode.NewTable(g.nextInodeID, g.rootAttr),
	}

	g.mu.Lock()
	g.branches[b.ID] = b
	g.branchSeq = append(g.branchSeq, b.ID)
	g.mu.Unlock()
	return b, nil
}

// BranchList returns every branch in creation order.
func (g *Graph) BranchList() []*Branch {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Branch, 0, len(g.branchSeq))
	for _, id := range g.branchSeq {
		out = append(out, g.branches[id])
	}
	return out
}

// BranchDestroy removes id from the graph. The caller (internal/core/fscore)
// is responsible for checking that no process is bound to id first — the
// graph itself has no notion of process bindings — branches are destroyed
// explicitly when no process is bound to them. The default
// branch can never be destroyed.
func (g *Graph) BranchDestroy(id ID) *fserrors.Error {
	if id == DefaultBranchID {
		return fserrors.New(fserrors.InvalidArgument, "branchgraph: cannot destroy the default branch")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.branches[id]; !ok {
		return fserrors.New(fserrors.NotFound, "branchgraph: unknown branch %s", id)
	}
	delete(g.branches, id)
	for i, seq := range g.branchSeq {
		if seq == id {
			g.branchSeq = append(g.branchSeq[:i], g.branchSeq[i+1:]...)
			break
		}
	}
	return nil
}
