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

// Package handle is the open-handle and byte-range lock table: the handle
// table is sharded 256 ways by id%256 so independent handles never contend
// on the same mutex, while byte-range locks are a multiset keyed by
// (branch, inode) — not by handle — so two handles open on the same inode
// see and exclude each other's locks.
package handle

import (
	"sync"
	"sync/atomic"

	"github.com/blocksense-network/agentfs/internal/core/branchgraph"
	"github.com/blocksense-network/agentfs/internal/core/inode"
	"github.com/blocksense-network/agentfs/internal/fserrors"
)

// ID is a 64-bit open-handle identifier, allocated from a single atomic
// counter shared by every shard (so ids stay globally unique without a
// global lock on the hot path).
type ID uint64

const shardCount = 256

// ShareMode mirrors agentfs-core's ShareMode enum: what access an open
// handle permits other concurrent opens of the same inode to have.
type ShareMode int

const (
	ShareRead ShareMode = iota
	ShareWrite
	ShareDelete
)

// LockKind is the kind of a byte-range lock.
type LockKind int

const (
	LockShared LockKind = iota
	LockExclusive
)

// LockRange is one byte-range lock held against a Handle's inode.
type LockRange struct {
	Offset uint64
	Len    uint64 // 0 means "to end of file"
	Kind   LockKind
}

func (r LockRange) overlaps(o LockRange) bool {
	rEnd, oEnd := r.end(), o.end()
	return r.Offset < oEnd && o.Offset < rEnd
}

func (r LockRange) end() uint64 {
	if r.Len == 0 {
		return ^uint64(0)
	}
	return r.Offset + r.Len
}

// Handle is one open file/directory description: the tuple attached to
// every open handle.
type Handle struct {
	ID     ID
	Branch branchgraph.ID
	Inode  inode.ID
	Stream string // empty selects the inode's unnamed primary data stream
	Read   bool
	Write  bool
	Append bool
	Share  []ShareMode
	Offset uint64 // current seek position, for handles opened without an explicit offset per call
}

type shard struct {
	mu      sync.Mutex
	handles map[ID]*Handle
}

// lockKey identifies the inode a byte-range lock multiset belongs to: locks
// are attached to the inode, not to any one handle opened on it, so two
// handles on the same (branch, inode) pair share one set.
type lockKey struct {
	branch branchgraph.ID
	inode  inode.ID
}

// ownedRange is one entry in an inode's lock multiset: the range plus the
// handle that holds it, so Unlock/Close can release exactly the entries one
// handle contributed without disturbing another handle's coexisting shared
// locks on the same range.
type ownedRange struct {
	LockRange
	owner ID
}

type inodeLockSet struct {
	mu        sync.Mutex
	ranges    []ownedRange
	openCount int // handles currently open on this (branch, inode) pair
}

// Table is the sharded collection of every open Handle for one FsCore
// instance, plus the per-inode byte-range lock multisets shared by every
// handle opened on that inode.
type Table struct {
	shards [shardCount]shard
	nextID uint64

	locksMu sync.Mutex
	locks   map[lockKey]*inodeLockSet
}

// New creates an empty Table.
func New() *Table {
	t := &Table{locks: make(map[lockKey]*inodeLockSet)}
	for i := range t.shards {
		t.shards[i].handles = make(map[ID]*Handle)
	}
	return t
}

func (t *Table) shardFor(id ID) *shard {
	return &t.shards[uint64(id)%shardCount]
}

// shareCompatible reports whether a newly requested set of share modes is
// compatible with an existing handle's share modes on the same inode: a
// handle excludes a mode it does NOT list, so e.g. an existing handle
// opened without ShareWrite in its Share list rejects a new writer.
func shareCompatible(existing []ShareMode, wantWrite, wantRead, wantDelete bool) bool {
	has := func(modes []ShareMode, m ShareMode) bool {
		for _, x := range modes {
			if x == m {
				return true
			}
		}
		return false
	}
	if wantWrite && !has(existing, ShareWrite) {
		return false
	}
	if wantRead && !has(existing, ShareRead) {
		return false
	}
	if wantDelete && !has(existing, ShareDelete) {
		return false
	}
	return true
}

// Open allocates a new Handle on ino's stream (empty for the primary
// unnamed stream), first checking that no existing handle on the same
// inode (in any shard) holds an incompatible share mode. Share modes are
// enforced per-inode, not per-stream: agentfs-core's ShareMode governs
// concurrent opens of the file as a whole. Returns Busy on conflict.
func (t *Table) Open(branch branchgraph.ID, ino inode.ID, stream string, read, write, appendMode bool, share []ShareMode) (*Handle, *fserrors.Error) {
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for _, h := range s.handles {
			if h.Branch != branch || h.Inode != ino {
				continue
			}
			if !shareCompatible(h.Share, write, read, false) || !shareCompatible(share, h.Write, h.Read, false) {
				s.mu.Unlock()
				return nil, fserrors.New(fserrors.Busy, "handle: incompatible share mode on inode %d", ino)
			}
		}
		s.mu.Unlock()
	}

	id := ID(atomic.AddUint64(&t.nextID, 1))
	h := &Handle{ID: id, Branch: branch, Inode: ino, Stream: stream, Read: read, Write: write, Append: appendMode, Share: share}

	s := t.shardFor(id)
	s.mu.Lock()
	s.handles[id] = h
	s.mu.Unlock()

	ls := t.lockSetFor(lockKey{branch, ino})
	ls.mu.Lock()
	ls.openCount++
	ls.mu.Unlock()
	return h, nil
}

// OpenCount reports how many handles are currently open on (branch, ino),
// so a caller deciding whether to reclaim an unlinked inode's content on
// close knows whether any other handle is still keeping it alive.
func (t *Table) OpenCount(branch branchgraph.ID, ino inode.ID) int {
	ls := t.lockSetFor(lockKey{branch, ino})
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.openCount
}

// Get returns the Handle for id, or nil if it isn't open.
func (t *Table) Get(id ID) *Handle {
	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[id]
}

// Close releases id, dropping every lock it held against its inode's lock
// set (other handles' locks on that same inode are untouched). It returns
// the closed Handle (so the caller knows which inode to consider for
// reclamation) and how many handles remain open on that same (branch,
// inode) pair after this one closes.
func (t *Table) Close(id ID) (Handle, int, *fserrors.Error) {
	s := t.shardFor(id)
	s.mu.Lock()
	h, ok := s.handles[id]
	if !ok {
		s.mu.Unlock()
		return Handle{}, 0, fserrors.New(fserrors.NotFound, "handle: unknown id %d", id)
	}
	delete(s.handles, id)
	s.mu.Unlock()

	ls := t.lockSetFor(lockKey{h.Branch, h.Inode})
	ls.mu.Lock()
	remaining := ls.ranges[:0:0]
	for _, r := range ls.ranges {
		if r.owner != id {
			remaining = append(remaining, r)
		}
	}
	ls.ranges = remaining
	ls.openCount--
	openCount := ls.openCount
	ls.mu.Unlock()
	return *h, openCount, nil
}

func (t *Table) lockSetFor(key lockKey) *inodeLockSet {
	t.locksMu.Lock()
	defer t.locksMu.Unlock()
	ls := t.locks[key]
	if ls == nil {
		ls = &inodeLockSet{}
		t.locks[key] = ls
	}
	return ls
}

// Lock attempts to add r to the lock multiset attached to h's inode,
// shared by every handle open on that (branch, inode) pair. An exclusive
// range excludes any overlapping lock, regardless of which handle holds it;
// a shared range excludes only an overlapping exclusive lock.
func (t *Table) Lock(h *Handle, r LockRange) *fserrors.Error {
	ls := t.lockSetFor(lockKey{h.Branch, h.Inode})
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for _, existing := range ls.ranges {
		if !existing.overlaps(r) {
			continue
		}
		if existing.Kind == LockExclusive || r.Kind == LockExclusive {
			return fserrors.New(fserrors.Busy, "handle: overlapping lock on inode %d", h.Inode)
		}
	}
	ls.ranges = append(ls.ranges, ownedRange{LockRange: r, owner: h.ID})
	return nil
}

// Unlock removes the portion of r that h itself holds in its inode's lock
// set, splitting ranges as needed. Other handles' locks on
// the same inode, even ones overlapping r, are left alone.
func (t *Table) Unlock(h *Handle, r LockRange) *fserrors.Error {
	ls := t.lockSetFor(lockKey{h.Branch, h.Inode})
	ls.mu.Lock()
	defer ls.mu.Unlock()

	var remaining []ownedRange
	for _, existing := range ls.ranges {
		if existing.owner != h.ID || !existing.overlaps(r) {
			remaining = append(remaining, existing)
			continue
		}
		if existing.Offset < r.Offset {
			remaining = append(remaining, ownedRange{
				LockRange: LockRange{Offset: existing.Offset, Len: r.Offset - existing.Offset, Kind: existing.Kind},
				owner:     h.ID,
			})
		}
		if existing.end() > r.end() && r.Len != 0 {
			remaining = append(remaining, ownedRange{
				LockRange: LockRange{Offset: r.end(), Len: existing.end() - r.end(), Kind: existing.Kind},
				owner:     h.ID,
			})
		}
	}
	ls.ranges = remaining
	return nil
}

// Locks returns a snapshot of the lock ranges h itself currently holds
// (not other handles' locks on the same inode, even though they share one
// underlying multiset).
func (t *Table) Locks(h *Handle) []LockRange {
	ls := t.lockSetFor(lockKey{h.Branch, h.Inode})
	ls.mu.Lock()
	defer ls.mu.Unlock()

	var out []LockRange
	for _, r := range ls.ranges {
		if r.owner == h.ID {
			out = append(out, r.LockRange)
		}
	}
	return out
}
