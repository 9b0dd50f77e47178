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
	"github.com/blocksense-network/agentfs/internal/core/content"
	"github.com/blocksense-network/agentfs/internal/core/handle"
	"github.com/blocksense-network/agentfs/internal/core/inode"
	"github.com/blocksense-network/agentfs/internal/fserrors"
)

// OpenOptions carries the per-open share/access flags attached to a Handle.
// Stream names a named alternate data stream to open instead of the file's
// primary content; empty selects the primary stream.
type OpenOptions struct {
	Read, Write, Append bool
	Share               []handle.ShareMode
	Stream              string
}

// HandleTable exposes the engine's open-handle table so a host adapter
// (internal/fusehost, internal/daemon) can resolve a wire-level handle id
// back to the *handle.Handle a Read/Write/Lock call needs, without the
// adapter needing to keep its own id-to-handle map.
func (e *Engine) HandleTable() *handle.Table { return e.handles }

// Open allocates a Handle on id, rejecting the call if an already-open
// handle on the same (branch, inode) advertises an incompatible share mode.
func (e *Engine) Open(branchID BranchID, id inode.ID, opts OpenOptions) (*handle.Handle, *fserrors.Error) {
	b, ferr := e.branch(branchID)
	if ferr != nil {
		return nil, e.observe("open", ferr)
	}
	b.Mu.RLock()
	n := e.findNode(b, id)
	b.Mu.RUnlock()
	if n == nil {
		return nil, e.observe("open", fserrors.New(fserrors.NotFound, "fscore: unknown inode %d", id))
	}

	h, ferr := e.handles.Open(branchID, id, opts.Stream, opts.Read, opts.Write, opts.Append, opts.Share)
	return h, e.observe("open", ferr)
}

// Close releases a Handle and everything it holds in its inode's byte-range
// lock set. If this was the last open handle on an inode that has already
// been unlinked down to Nlink 0, its content (and any named streams') is
// reclaimed from the content store and the node itself is evicted.
func (e *Engine) Close(h *handle.Handle) *fserrors.Error {
	closed, remaining, ferr := e.handles.Close(h.ID)
	if ferr != nil {
		return e.observe("close", ferr)
	}
	if remaining == 0 {
		e.reclaimIfOrphaned(closed.Branch, closed.Inode)
	}
	return e.observe("close", nil)
}

// reclaimIfOrphaned drops the content-store references an unlinked,
// zero-Nlink, no-longer-open inode still holds and evicts it from whichever
// layer of branchID owns it. It is a no-op for any inode still linked,
// still open, or already evicted.
func (e *Engine) reclaimIfOrphaned(branchID BranchID, id inode.ID) {
	b, ferr := e.branch(branchID)
	if ferr != nil {
		return
	}
	b.Mu.Lock()
	defer b.Mu.Unlock()
	e.reclaimIfOrphanedLocked(b, branchID, id)
}

// reclaimIfOrphanedLocked is reclaimIfOrphaned's body, callable with b.Mu
// already held (by Unlink, right after it drops the last link to id).
func (e *Engine) reclaimIfOrphanedLocked(b *branchgraph.Branch, branchID BranchID, id inode.ID) {
	table := e.tableHolding(b, id)
	if table == nil {
		return
	}
	n := table.Get(id)
	if n == nil || n.Attr.Nlink > 0 || n.Attr.Kind != inode.File {
		return
	}
	if e.handles.OpenCount(branchID, id) > 0 {
		return
	}
	if n.ContentID != 0 {
		_ = e.content.Drop(n.ContentID)
	}
	for _, cid := range n.StreamContentIDs() {
		_ = e.content.Drop(cid)
	}
	table.Evict(id)
}

// Read reads up to length bytes at offset from h's inode (or from h's named
// stream). It never copies anything up and does not change the inode's
// access time.
func (e *Engine) Read(h *handle.Handle, offset int64, length int) ([]byte, *fserrors.Error) {
	b, ferr := e.branch(h.Branch)
	if ferr != nil {
		return nil, e.observe("read", ferr)
	}
	b.Mu.RLock()
	n := e.findNode(b, h.Inode)
	b.Mu.RUnlock()
	if n == nil {
		return nil, e.observe("read", fserrors.New(fserrors.NotFound, "fscore: unknown inode %d", h.Inode))
	}
	if n.Attr.Kind != inode.File {
		return nil, e.observe("read", fserrors.New(fserrors.InvalidArgument, "fscore: inode %d is not a file", h.Inode))
	}
	cid := n.ContentID
	if h.Stream != "" {
		var ok bool
		cid, ok = n.Stream(h.Stream)
		if !ok {
			return nil, e.observe("read", fserrors.New(fserrors.NotFound, "fscore: no stream %q on inode %d", h.Stream, h.Inode))
		}
	}
	if cid == 0 {
		return nil, e.observe("read", nil)
	}
	data, err := e.content.Get(cid, offset, length)
	if err != nil {
		return nil, e.observe("read", fserrors.Wrap(fserrors.Io, err, "fscore: reading inode %d", h.Inode))
	}
	return data, e.observe("read", nil)
}

// Write writes data to h's inode at offset (or at EOF, if h was opened with
// Append), copying the inode up into h's branch first. Writing past the
// current end of file zero-fills the gap.
func (e *Engine) Write(h *handle.Handle, offset int64, data []byte) (int, *fserrors.Error) {
	b, ferr := e.branch(h.Branch)
	if ferr != nil {
		return 0, e.observe("write", ferr)
	}
	b.Mu.Lock()
	defer b.Mu.Unlock()

	n, ferr := e.ensureInUpper(b, h.Inode)
	if ferr != nil {
		return 0, e.observe("write", ferr)
	}
	if n.Attr.Kind != inode.File {
		return 0, e.observe("write", fserrors.New(fserrors.InvalidArgument, "fscore: inode %d is not a file", h.Inode))
	}

	isStream := h.Stream != ""
	var oldID content.ID
	var curLen uint64
	if isStream {
		oldID, _ = n.Stream(h.Stream)
		if oldID != 0 {
			sz, err := e.content.Size(oldID)
			if err != nil {
				return 0, e.observe("write", fserrors.Wrap(fserrors.Io, err, "fscore: sizing stream %q on inode %d", h.Stream, h.Inode))
			}
			curLen = uint64(sz)
		}
	} else {
		oldID = n.ContentID
		curLen = n.Attr.Len
	}

	if h.Append {
		offset = int64(curLen)
	}

	cur, err := e.readContentLocked(oldID, curLen)
	if err != nil {
		return 0, e.observe("write", fserrors.Wrap(fserrors.Io, err, "fscore: reading inode %d for write", h.Inode))
	}

	end := offset + int64(len(data))
	if end > int64(len(cur)) {
		grown := make([]byte, end)
		copy(grown, cur)
		cur = grown
	}
	copy(cur[offset:end], data)

	newID, err := e.content.Put(cur)
	if err != nil {
		return 0, e.observe("write", fserrors.Wrap(fserrors.Io, err, "fscore: storing write to inode %d", h.Inode))
	}
	if isStream {
		n.SetStream(h.Stream, newID)
	} else {
		n.ContentID = newID
		n.Attr.Len = uint64(len(cur))
	}
	n.Attr.Times.Mtime = e.clk.Now()
	n.Attr.Times.Ctime = n.Attr.Times.Mtime
	if oldID != 0 {
		_ = e.content.Drop(oldID)
	}

	e.publish("Modified", map[string]string{"inode": itoa64(uint64(h.Inode))})
	return len(data), e.observe("write", nil)
}

func (e *Engine) readWholeLocked(n *inode.Node) ([]byte, error) {
	return e.readContentLocked(n.ContentID, n.Attr.Len)
}

func (e *Engine) readContentLocked(cid content.ID, length uint64) ([]byte, error) {
	if cid == 0 {
		return nil, nil
	}
	return e.content.Get(cid, 0, int(length))
}

// Truncate resizes inode id on branchID to size, copying it up first. Shrinking drops
// bytes past size; growing zero-fills the new tail.
func (e *Engine) Truncate(branchID BranchID, id inode.ID, size uint64) *fserrors.Error {
	b, ferr := e.branch(branchID)
	if ferr != nil {
		return e.observe("truncate", ferr)
	}
	b.Mu.Lock()
	defer b.Mu.Unlock()

	n, ferr := e.ensureInUpper(b, id)
	if ferr != nil {
		return e.observe("truncate", ferr)
	}
	if n.Attr.Kind != inode.File {
		return e.observe("truncate", fserrors.New(fserrors.InvalidArgument, "fscore: inode %d is not a file", id))
	}

	cur, err := e.readWholeLocked(n)
	if err != nil {
		return e.observe("truncate", fserrors.Wrap(fserrors.Io, err, "fscore: reading inode %d for truncate", id))
	}
	resized := make([]byte, size)
	copy(resized, cur)

	newID, err := e.content.Put(resized)
	if err != nil {
		return e.observe("truncate", fserrors.Wrap(fserrors.Io, err, "fscore: storing truncate of inode %d", id))
	}
	oldID := n.ContentID
	n.ContentID = newID
	n.Attr.Len = size
	n.Attr.Times.Mtime = e.clk.Now()
	n.Attr.Times.Ctime = n.Attr.Times.Mtime
	if oldID != 0 {
		_ = e.content.Drop(oldID)
	}
	return e.observe("truncate", nil)
}

// Fallocate reserves [offset, offset+length) for id, growing the file (with
// a zero-filled tail) when the range extends past the current end, matching
// POSIX fallocate's size-extension behavior. It never shrinks a file.
func (e *Engine) Fallocate(branchID BranchID, id inode.ID, offset, length int64) *fserrors.Error {
	b, ferr := e.branch(branchID)
	if ferr != nil {
		return e.observe("fallocate", ferr)
	}
	b.Mu.Lock()
	want := uint64(offset + length)
	n := e.findNode(b, id)
	b.Mu.Unlock()
	if n == nil {
		return e.observe("fallocate", fserrors.New(fserrors.NotFound, "fscore: unknown inode %d", id))
	}
	if want <= n.Attr.Len {
		return e.observe("fallocate", nil)
	}
	return e.observe("fallocate", e.Truncate(branchID, id, want))
}

// Lock adds r to h's inode's byte-range lock multiset.
func (e *Engine) Lock(h *handle.Handle, r handle.LockRange) *fserrors.Error {
	return e.observe("lock", e.handles.Lock(h, r))
}

// Unlock removes the portion of r that h itself holds.
func (e *Engine) Unlock(h *handle.Handle, r handle.LockRange) *fserrors.Error {
	return e.observe("unlock", e.handles.Unlock(h, r))
}

func itoa64(u uint64) string {
	if u == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for u > 0 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	return string(buf[i:])
}
