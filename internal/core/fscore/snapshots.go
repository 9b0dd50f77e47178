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
	"github.com/blocksense-network/agentfs/internal/core/branchgraph"
	"github.com/blocksense-network/agentfs/internal/fserrors"
)

// SnapshotCreate freezes branchID's current upper layer as a new named
// snapshot, under the branch's own lock so no namespace
// mutation is in flight while the freeze happens.
func (e *Engine) SnapshotCreate(branchID BranchID, label string) (*branchgraph.Snapshot, *fserrors.Error) {
	b, ferr := e.branch(branchID)
	if ferr != nil {
		return nil, e.observe("snapshot_create", ferr)
	}
	b.Mu.Lock()
	defer b.Mu.Unlock()

	snap, ferr := e.graph.SnapshotCreate(branchID, label)
	if ferr != nil {
		return nil, e.observe("snapshot_create", ferr)
	}
	e.publish("SnapshotCreated", map[string]string{"id": snap.ID.String(), "label": label})
	return snap, e.observe("snapshot_create", nil)
}

// SnapshotList returns every snapshot in creation order.
func (e *Engine) SnapshotList() []*branchgraph.Snapshot {
	return e.graph.SnapshotList()
}

// BranchCreateFromSnapshot allocates a fresh branch parented at snapshotID.
func (e *Engine) BranchCreateFromSnapshot(snapshotID BranchID, label string) (*branchgraph.Branch, *fserrors.Error) {
	b, ferr := e.graph.BranchCreateFromSnapshot(snapshotID, label)
	if ferr != nil {
		return nil, e.observe("branch_create", ferr)
	}
	e.publish("BranchCreated", map[string]string{"id": b.ID.String(), "parent": snapshotID.String(), "label": label})
	return b, e.observe("branch_create", nil)
}

// BranchList returns every branch in creation order.
func (e *Engine) BranchList() []*branchgraph.Branch {
	return e.graph.BranchList()
}

// BranchDestroy removes a branch, refusing while any process is still bound
// to it. Before the branch itself is dropped, every file its upper layer
// still holds (its own writes, never promoted into a snapshot) has its
// content-store references released — otherwise those blobs would be
// refcounted forever with no live inode left to trace them back to.
func (e *Engine) BranchDestroy(id BranchID) *fserrors.Error {
	if e.binding.HasBinding(id) {
		return e.observe("branch_destroy", fserrors.New(fserrors.Busy, "fscore: branch %s still has a bound process", id))
	}
	if b := e.graph.Branch(id); b != nil {
		b.Mu.Lock()
		for _, n := range b.Upper.Files() {
			if n.ContentID != 0 {
				_ = e.content.Drop(n.ContentID)
			}
			for _, cid := range n.StreamContentIDs() {
				_ = e.content.Drop(cid)
			}
		}
		b.Mu.Unlock()
	}
	return e.observe("branch_destroy", e.graph.BranchDestroy(id))
}
