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

// Package binding maps process ids to the branch a request on that pid's
// behalf should be served from, with an ancestor-chain fallback when the
// pid itself was never bound.
package binding

import (
	"sync"

	"github.com/blocksense-network/agentfs/internal/core/branchgraph"
)

// Table owns every pid→branch binding for one FsCore instance.
type Table struct {
	mu               sync.RWMutex
	byPid            map[uint32]branchgraph.ID
	defaultBranch    branchgraph.ID
	maxAncestorDepth int
}

// New creates a Table with no bindings; Resolve falls back to
// defaultBranch for any pid with no bound ancestor within maxAncestorDepth
// hops.
func New(defaultBranch branchgraph.ID, maxAncestorDepth int) *Table {
	return &Table{
		byPid:            make(map[uint32]branchgraph.ID),
		defaultBranch:    defaultBranch,
		maxAncestorDepth: maxAncestorDepth,
	}
}

// Bind records that pid's requests should be served from branch. Rebinding
// an already-bound pid is allowed and takes effect immediately for
// subsequent requests.
func (t *Table) Bind(pid uint32, branch branchgraph.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byPid[pid] = branch
}

// Unbind removes pid's binding, if any, so it falls back to ancestor
// lookup or the default branch.
func (t *Table) Unbind(pid uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byPid, pid)
}

// Resolve returns the branch that should serve a request originating from
// pid. parentChain is supplied by the caller (the FUSE host's kernel-
// provided pid metadata, the daemon's handshake ppid, or a /proc reader)
// ordered nearest ancestor first; Resolve walks it up to
// maxAncestorDepth hops looking for the first bound ancestor before
// falling back to the default branch.
func (t *Table) Resolve(pid uint32, parentChain []uint32) branchgraph.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if b, ok := t.byPid[pid]; ok {
		return b
	}

	depth := t.maxAncestorDepth
	for i, ancestor := range parentChain {
		if i >= depth {
			break
		}
		if b, ok := t.byPid[ancestor]; ok {
			return b
		}
	}
	return t.defaultBranch
}

// Lookup returns pid's own binding (not an ancestor's) and whether one
// exists.
func (t *Table) Lookup(pid uint32) (branchgraph.ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.byPid[pid]
	return b, ok
}

// HasBinding reports whether any pid is currently bound directly to branch,
// used to refuse destroying a branch still in use.
func (t *Table) HasBinding(branch branchgraph.ID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, b := range t.byPid {
		if b == branch {
			return true
		}
	}
	return false
}
