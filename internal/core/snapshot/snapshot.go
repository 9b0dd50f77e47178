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

// Package snapshot holds the immutable half of the snapshot/branch graph: once
// created, a Snapshot's Upper table is never mutated again, so reads of a
// published Snapshot need no lock at all. internal/core/branchgraph owns
// the mutable Branch side and the operations (promote, fork) that create
// and consume Snapshots.
package snapshot

import (
	"sync"
	"time"

	"github.com/blocksense-network/agentfs/internal/core/inode"
	"github.com/blocksense-network/agentfs/internal/fserrors"
	"github.com/blocksense-network/agentfs/internal/idutil"
)

// ID identifies a snapshot: the same 128-bit, time-ordered id space branches
// use (see internal/idutil), so control-plane listings can sort either by
// creation order or by id alone.
type ID = idutil.ID

// Snapshot is one immutable point in the graph: a frozen upper-layer Table
// plus a link to its own parent snapshot (HasParent false for a root
// snapshot with no parent).
type Snapshot struct {
	ID        ID
	Label     string
	Parent    ID
	HasParent bool
	CreatedAt time.Time

	// Upper is the Table this snapshot froze at creation time. It is never
	// mutated again by anything holding a *Snapshot.
	Upper *inode.Table
}

// Store owns every snapshot ever created for one Graph. Creation is
// append-only: a Snapshot, once stored, is never removed or mutated.
type Store struct {
	mu    sync.Mutex
	byID  map[ID]*Snapshot
	order []ID
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{byID: make(map[ID]*Snapshot)}
}

// Create mints a new Snapshot, stores it, and returns it.
func (s *Store) Create(label string, parent ID, hasParent bool, createdAt time.Time, upper *inode.Table) *Snapshot {
	snap := &Snapshot{
		ID:        idutil.New(),
		Label:     label,
		Parent:    parent,
		HasParent: hasParent,
		CreatedAt: createdAt,
		Upper:     upper,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[snap.ID] = snap
	s.order = append(s.order, snap.ID)
	return snap
}

// Get returns the Snapshot for id, or nil.
func (s *Store) Get(id ID) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id]
}

// MustGet returns the Snapshot for id, or a NotFound error.
func (s *Store) MustGet(id ID) (*Snapshot, *fserrors.Error) {
	snap := s.Get(id)
	if snap == nil {
		return nil, fserrors.New(fserrors.NotFound, "snapshot: unknown snapshot %s", id)
	}
	return snap, nil
}

// List returns every snapshot in creation order.
func (s *Store) List() []*Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Snapshot, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Chain returns the parent chain starting at startID, nearest first, by
// walking Snapshot.Parent links.
func (s *Store) Chain(startID ID, hasStart bool) []*Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var chain []*Snapshot
	if !hasStart {
		return chain
	}
	id := startID
	for {
		snap, ok := s.byID[id]
		if !ok {
			break
		}
		chain = append(chain, snap)
		if !snap.HasParent {
			break
		}
		id = snap.Parent
	}
	return chain
}
