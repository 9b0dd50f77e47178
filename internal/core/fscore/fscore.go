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

// Package fscore is FsCore itself: the facade that composes
// internal/core/content, internal/core/inode, internal/core/branchgraph,
// internal/core/snapshot, internal/core/handle and internal/core/binding
// into the single synchronous engine every host adapter (internal/fusehost,
// internal/daemon, internal/wire) calls into. It owns name resolution across
// a branch's upper layer, its snapshot chain, and an optional backstore,
// plus the copy-up rule that makes a branch diverge from its parent only in
// its own upper layer.
//
// No global mutable state lives here or in any package it composes: every
// entry point takes an explicit *Engine.
package fscore

import (
	"path"
	"sync"
	"time"

	"github.com/blocksense-network/agentfs/cfg"
	"github.com/blocksense-network/agentfs/internal/backstore"
	"github.com/blocksense-network/agentfs/internal/clock"
	"github.com/blocksense-network/agentfs/internal/core/binding"
	"github.com/blocksense-network/agentfs/internal/core/branchgraph"
	"github.com/blocksense-network/agentfs/internal/core/content"
	"github.com/blocksense-network/agentfs/internal/core/faultpolicy"
	"github.com/blocksense-network/agentfs/internal/core/handle"
	"github.com/blocksense-network/agentfs/internal/core/inode"
	"github.com/blocksense-network/agentfs/internal/fserrors"
	"github.com/blocksense-network/agentfs/internal/monitor"
)

// BranchID and InodeID are re-exported so callers need not import the
// component packages directly just to name an id.
type BranchID = branchgraph.ID
type InodeID = inode.ID
type HandleID = handle.ID

// EventSink receives a notification after an operation that changes
// namespace or snapshot/branch state commits. internal/eventbus implements
// this; nil is a valid "no subscribers configured" engine.
type EventSink interface {
	Publish(kind string, fields map[string]string)
}

// Engine is FsCore: one instance per mounted filesystem.
type Engine struct {
	graph   *branchgraph.Graph
	content *content.Store
	handles *handle.Table
	binding *binding.Table
	back    backstore.Backstore
	clk     clock.Clock
	atime   cfg.AtimePolicy
	metrics *monitor.Registry
	events  EventSink
	faults  *faultpolicy.Store

	bsMu    sync.Mutex
	bsPaths map[inode.ID]string // best-effort id->path cache: seeds backstore
	// import lookups and gives the namespace ops below something to match
	// fault-policy path prefixes against, since the rest of the namespace is
	// addressed by (parent inode, name), not by string path.
}

// Options configures a new Engine. Zero-value optional fields (Backstore,
// Metrics, Events) disable that integration.
type Options struct {
	Dedup             bool
	MemoryBudgetBytes int64
	MaxAncestorDepth  int
	Atime             cfg.AtimePolicy
	Uid, Gid          uint32
	FileMode, DirMode uint32 // raw permission bits, user/group/other already split by the caller
	Clock             clock.Clock
	Backstore         backstore.Backstore
	Metrics           *monitor.Registry
	Events            EventSink
}

// New builds an Engine with a single default branch (branchgraph.DefaultBranchID)
// with an empty upper layer and no parent snapshot.
func New(opts Options) *Engine {
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	if opts.MaxAncestorDepth <= 0 {
		opts.MaxAncestorDepth = 32
	}

	rootAttr := inode.Attributes{
		Kind:  inode.Dir,
		Uid:   opts.Uid,
		Gid:   opts.Gid,
		User:  modeTriple(opts.DirMode, 6),
		Group: modeTriple(opts.DirMode, 3),
		Other: modeTriple(opts.DirMode, 0),
		Nlink: 1,
		Times: inode.Times{
			Atime: clk.Now(), Mtime: clk.Now(), Ctime: clk.Now(), Birthtime: clk.Now(),
		},
	}

	e := &Engine{
		graph:   branchgraph.New(rootAttr, clk.Now),
		content: content.New(opts.Dedup, opts.MemoryBudgetBytes),
		handles: handle.New(),
		binding: binding.New(branchgraph.DefaultBranchID, opts.MaxAncestorDepth),
		back:    opts.Backstore,
		clk:     clk,
		atime:   opts.Atime,
		metrics: opts.Metrics,
		events:  opts.Events,
		faults:  faultpolicy.NewStore(),
		bsPaths: make(map[inode.ID]string),
	}
	e.bsPaths[inode.RootID] = ""
	return e
}

func modeTriple(bits uint32, shift uint) inode.FileMode {
	return inode.FileMode{
		Read:  bits&(4<<shift) != 0,
		Write: bits&(2<<shift) != 0,
		Exec:  bits&(1<<shift) != 0,
	}
}

func (e *Engine) observe(op string, ferr *fserrors.Error) *fserrors.Error {
	if e.metrics != nil {
		kind := ""
		if ferr != nil {
			kind = ferr.Kind.String()
		}
		e.metrics.ObserveOp(op, kind)
	}
	return ferr
}

func (e *Engine) publish(kind string, fields map[string]string) {
	if e.events != nil {
		e.events.Publish(kind, fields)
	}
}

// Faults returns the engine's fault-injection policy store, consulted by
// Create, Symlink, Link, Unlink, SetAttr and Rename (no other operation
// checks it) and installed/cleared by the control
// plane's FaultPolicySet/FaultPolicyClear requests.
func (e *Engine) Faults() *faultpolicy.Store {
	return e.faults
}

// pathHint returns the best-effort path of name under parent, joining
// parent's own cached path (empty if unknown, which Join treats as the
// root) with name. It exists only for fault-policy rule matching and
// backstore address translation, not as an authoritative namespace index.
func (e *Engine) pathHint(parent inode.ID, name string) string {
	parentPath, _ := e.bsLookupPath(parent)
	return path.Join(parentPath, name)
}

// checkFault consults the installed fault policy for op against path,
// returning the forced error if a matching rule still has count remaining.
func (e *Engine) checkFault(op, path string) *fserrors.Error {
	return e.faults.Lookup(op, path)
}

// branch looks up a live branch or returns NotFound.
func (e *Engine) branch(id BranchID) (*branchgraph.Branch, *fserrors.Error) {
	b := e.graph.Branch(id)
	if b == nil {
		return nil, fserrors.New(fserrors.NotFound, "fscore: unknown branch %s", id)
	}
	return b, nil
}

// ---------------------------------------------------------------------
// Process <-> branch binding
// ---------------------------------------------------------------------

// ResolveBranch returns the branch a request from pid should be served
// from, consulting the ancestor chain the caller supplies (nearest first)
// when pid has no binding of its own.
func (e *Engine) ResolveBranch(pid uint32, parentChain []uint32) BranchID {
	return e.binding.Resolve(pid, parentChain)
}

// BindProcess records that pid's requests should be served from branch.
func (e *Engine) BindProcess(branchID BranchID, pid uint32) *fserrors.Error {
	if _, ferr := e.branch(branchID); ferr != nil {
		return e.observe("bind_process", ferr)
	}
	e.binding.Bind(pid, branchID)
	e.publish("BranchBound", map[string]string{"branch": branchID.String(), "pid": itoa(pid)})
	return e.observe("bind_process", nil)
}

func itoa(u uint32) string {
	if u == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for u > 0 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	return string(buf[i:])
}

// ---------------------------------------------------------------------
// Namespace resolution and copy-up
// ---------------------------------------------------------------------

// findNode locates id anywhere in branch's visible chain (its own upper
// layer first, then each ancestor snapshot nearest-first), returning nil if
// nowhere. It does not consult the backstore: the backstore is keyed by
// path, not by id, and is only consulted during name resolution (lookupOne).
func (e *Engine) findNode(b *branchgraph.Branch, id inode.ID) *inode.Node {
	if n := b.Upper.Get(id); n != nil {
		return n
	}
	for _, snap := range e.graph.ParentChain(b) {
		if n := snap.Upper.Get(id); n != nil {
			return n
		}
	}
	return nil
}

// ensureInUpper copy-ups id into b.Upper if it isn't already there, and
// returns the (now branch-local) node. Copy-up is shallow: the content
// reference is duplicated (refcounted), not the bytes.
func (e *Engine) ensureInUpper(b *branchgraph.Branch, id inode.ID) (*inode.Node, *fserrors.Error) {
	if n := b.Upper.Get(id); n != nil {
		return n, nil
	}
	var src *inode.Node
	for _, snap := range e.graph.ParentChain(b) {
		if n := snap.Upper.Get(id); n != nil {
			src = n
			break
		}
	}
	if src == nil {
		return nil, fserrors.New(fserrors.NotFound, "fscore: unknown inode %d", id)
	}

	clone := src.Clone()
	b.Upper.Adopt(clone)
	if clone.Attr.Kind == inode.File {
		if clone.ContentID != 0 {
			_ = e.content.Dup(clone.ContentID)
		}
		for _, cid := range clone.StreamContentIDs() {
			_ = e.content.Dup(cid)
		}
	}
	if p, ok := e.bsLookupPath(id); ok {
		e.bsSetPath(clone.ID, p)
	}
	return clone, nil
}

// lookupOne resolves name within dir in b's visible chain: b's own upper
// layer, then each snapshot nearest-first, then (on a clean miss) the
// configured backstore. A whiteout recorded at any layer stops the walk
// immediately: whiteouts mask lower entries.
func (e *Engine) lookupOne(b *branchgraph.Branch, dir inode.ID, name string) (inode.ID, *fserrors.Error) {
	if id, whiteout, found := b.Upper.Lookup(dir, name); whiteout {
		return 0, fserrors.New(fserrors.NotFound, "fscore: %q not found", name)
	} else if found {
		return id, nil
	}

	for _, snap := range e.graph.ParentChain(b) {
		id, whiteout, found := snap.Upper.Lookup(dir, name)
		if whiteout {
			return 0, fserrors.New(fserrors.NotFound, "fscore: %q not found", name)
		}
		if found {
			return id, nil
		}
	}

	if e.back == nil {
		return 0, fserrors.New(fserrors.NotFound, "fscore: %q not found", name)
	}
	return e.importFromBackstore(b, dir, name)
}

// Lookup resolves name within parent on branchID, returning the child's
// attributes.
func (e *Engine) Lookup(branchID BranchID, parent inode.ID, name string) (InodeID, inode.Attributes, *fserrors.Error) {
	b, ferr := e.branch(branchID)
	if ferr != nil {
		return 0, inode.Attributes{}, e.observe("lookup", ferr)
	}
	id, ferr := e.lookupOne(b, parent, name)
	if ferr != nil {
		return 0, inode.Attributes{}, e.observe("lookup", ferr)
	}
	n := e.findNode(b, id)
	if n == nil {
		return 0, inode.Attributes{}, e.observe("lookup", fserrors.New(fserrors.NotFound, "fscore: %q not found", name))
	}
	return id, n.Attr, e.observe("lookup", nil)
}

// ---------------------------------------------------------------------
// Backstore import (component F wired into the namespace walk)
// ---------------------------------------------------------------------

func (e *Engine) bsLookupPath(id inode.ID) (string, bool) {
	e.bsMu.Lock()
	defer e.bsMu.Unlock()
	p, ok := e.bsPaths[id]
	return p, ok
}

func (e *Engine) bsSetPath(id inode.ID, p string) {
	e.bsMu.Lock()
	e.bsPaths[id] = p
	e.bsMu.Unlock()
}

// importFromBackstore materializes dir/name from the backstore into b's
// upper layer the first time a lookup falls all the way through the
// snapshot chain. Subsequent lookups hit the now-ordinary upper-layer
// dentry; independent branches import into their own upper layer, so two
// branches reading the same backstore path never share mutable state
// so writes through one branch never leak into another.
func (e *Engine) importFromBackstore(b *branchgraph.Branch, dir inode.ID, name string) (inode.ID, *fserrors.Error) {
	parentPath, ok := e.bsLookupPath(dir)
	if !ok {
		return 0, fserrors.New(fserrors.NotFound, "fscore: %q not found", name)
	}
	childPath := path.Join(parentPath, name)

	attr, ferr := e.back.Stat(childPath)
	if ferr != nil {
		return 0, ferr
	}

	if _, ferr := e.ensureInUpper(b, dir); ferr != nil {
		return 0, ferr
	}

	var newID inode.ID
	switch attr.Kind {
	case inode.Dir:
		id, ferr := b.Upper.CreateDir(dir, name, attr)
		if ferr != nil {
			return 0, ferr
		}
		newID = id
		e.bsSetPath(newID, childPath)
	case inode.Symlink:
		target, ferr := e.back.Readlink(childPath)
		if ferr != nil {
			return 0, ferr
		}
		id, ferr := b.Upper.CreateSymlink(dir, name, attr, target)
		if ferr != nil {
			return 0, ferr
		}
		newID = id
	default:
		var contentID content.ID
		if attr.Len > 0 {
			data, ferr := e.back.ReadAt(childPath, 0, int(attr.Len))
			if ferr != nil {
				return 0, ferr
			}
			id, err := e.content.Put(data)
			if err != nil {
				return 0, fserrors.Wrap(fserrors.Io, err, "fscore: importing %q from backstore", childPath)
			}
			contentID = id
		}
		id, ferr := b.Upper.CreateFile(dir, name, attr, contentID)
		if ferr != nil {
			return 0, ferr
		}
		newID = id
		e.bsSetPath(newID, childPath)
	}

	if names, ferr := e.back.ListXattr(childPath); ferr == nil {
		for _, xname := range names {
			if v, ferr := e.back.GetXattr(childPath, xname); ferr == nil {
				_ = b.Upper.SetXattr(newID, xname, v)
			}
		}
	}
	return newID, nil
}

// mergeBackstoreDirents adds backstore-only entries (not already present as
// dentries anywhere in the chain) to a Readdir result, importing each one
// lazily so a later Lookup of the same name hits the cached dentry.
func (e *Engine) mergeBackstoreDirents(b *branchgraph.Branch, dir inode.ID, have map[string]bool) []inode.DirEntry {
	if e.back == nil {
		return nil
	}
	parentPath, ok := e.bsLookupPath(dir)
	if !ok {
		return nil
	}
	entries, ferr := e.back.Readdir(parentPath)
	if ferr != nil {
		return nil
	}
	var extra []inode.DirEntry
	for _, de := range entries {
		if have[de.Name] {
			continue
		}
		id, ferr := e.importFromBackstore(b, dir, de.Name)
		if ferr != nil {
			continue
		}
		extra = append(extra, inode.DirEntry{Name: de.Name, Kind: de.Kind, Len: de.Len, Inode: id})
	}
	return extra
}
