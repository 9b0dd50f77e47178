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
	"github.com/blocksense-network/agentfs/internal/core/inode"
	"github.com/blocksense-network/agentfs/internal/fserrors"
)

// CreateOptions carries the per-call inputs Create needs beyond (parent,
// name): the kind to create, permission bits, and ownership.
type CreateOptions struct {
	Kind inode.Kind
	Attr inode.Attributes
	Excl bool // O_EXCL: fail AlreadyExists even if name resolves through a lower layer
}

// Create makes a new regular file or directory under parent, copying
// parent up into the branch's upper layer first. Use Symlink for symlinks,
// which additionally take an explicit target.
func (e *Engine) Create(branchID BranchID, parent inode.ID, name string, opts CreateOptions) (InodeID, inode.Attributes, *fserrors.Error) {
	b, ferr := e.branch(branchID)
	if ferr != nil {
		return 0, inode.Attributes{}, e.observe("create", ferr)
	}
	b.Mu.Lock()
	defer b.Mu.Unlock()

	if ferr := e.checkFault("create", e.pathHint(parent, name)); ferr != nil {
		return 0, inode.Attributes{}, e.observe("create", ferr)
	}

	if opts.Excl {
		if _, ferr := e.lookupOne(b, parent, name); ferr == nil {
			return 0, inode.Attributes{}, e.observe("create", fserrors.New(fserrors.AlreadyExists, "fscore: %q already exists", name))
		}
	}

	if _, ferr := e.ensureInUpper(b, parent); ferr != nil {
		return 0, inode.Attributes{}, e.observe("create", ferr)
	}

	now := e.clk.Now()
	opts.Attr.Times = inode.Times{Atime: now, Mtime: now, Ctime: now, Birthtime: now}

	var id inode.ID
	var cerr *fserrors.Error
	switch opts.Kind {
	case inode.Dir:
		id, cerr = b.Upper.CreateDir(parent, name, opts.Attr)
	default:
		cid, err := e.content.Put(nil)
		if err != nil {
			return 0, inode.Attributes{}, e.observe("create", fserrors.Wrap(fserrors.Io, err, "fscore: allocating content for %q", name))
		}
		id, cerr = b.Upper.CreateFile(parent, name, opts.Attr, cid)
	}
	if cerr != nil {
		return 0, inode.Attributes{}, e.observe("create", cerr)
	}
	if opts.Kind == inode.Dir {
		e.bsSetPath(id, e.pathHint(parent, name))
	}
	attr, _ := b.Upper.GetAttr(id)
	e.publish("Created", map[string]string{"name": name})
	return id, attr, e.observe("create", nil)
}

// Symlink creates a symlink named name under parent pointing at target.
func (e *Engine) Symlink(branchID BranchID, parent inode.ID, name, target string, attr inode.Attributes) (InodeID, inode.Attributes, *fserrors.Error) {
	b, ferr := e.branch(branchID)
	if ferr != nil {
		return 0, inode.Attributes{}, e.observe("symlink", ferr)
	}
	b.Mu.Lock()
	defer b.Mu.Unlock()

	if ferr := e.checkFault("symlink", e.pathHint(parent, name)); ferr != nil {
		return 0, inode.Attributes{}, e.observe("symlink", ferr)
	}

	if _, ferr := e.ensureInUpper(b, parent); ferr != nil {
		return 0, inode.Attributes{}, e.observe("symlink", ferr)
	}
	now := e.clk.Now()
	attr.Times = inode.Times{Atime: now, Mtime: now, Ctime: now, Birthtime: now}
	id, cerr := b.Upper.CreateSymlink(parent, name, attr, target)
	if cerr != nil {
		return 0, inode.Attributes{}, e.observe("symlink", cerr)
	}
	got, _ := b.Upper.GetAttr(id)
	e.publish("Created", map[string]string{"name": name})
	return id, got, e.observe("symlink", nil)
}

// Link attaches an existing inode under a new (parent, name).
func (e *Engine) Link(branchID BranchID, parent inode.ID, name string, target inode.ID) *fserrors.Error {
	b, ferr := e.branch(branchID)
	if ferr != nil {
		return e.observe("link", ferr)
	}
	b.Mu.Lock()
	defer b.Mu.Unlock()

	if ferr := e.checkFault("link", e.pathHint(parent, name)); ferr != nil {
		return e.observe("link", ferr)
	}

	if _, ferr := e.ensureInUpper(b, parent); ferr != nil {
		return e.observe("link", ferr)
	}
	if _, ferr := e.ensureInUpper(b, target); ferr != nil {
		return e.observe("link", ferr)
	}
	return e.observe("link", b.Upper.Link(parent, name, target))
}

// Unlink removes name from parent, recording a whiteout so a same-named
// lower-layer entry stays hidden.
func (e *Engine) Unlink(branchID BranchID, parent inode.ID, name string) *fserrors.Error {
	b, ferr := e.branch(branchID)
	if ferr != nil {
		return e.observe("unlink", ferr)
	}
	b.Mu.Lock()
	defer b.Mu.Unlock()

	if ferr := e.checkFault("unlink", e.pathHint(parent, name)); ferr != nil {
		return e.observe("unlink", ferr)
	}

	id, ferr := e.lookupOne(b, parent, name)
	if ferr != nil {
		return e.observe("unlink", ferr)
	}
	if _, ferr := e.ensureInUpper(b, parent); ferr != nil {
		return e.observe("unlink", ferr)
	}
	if ferr := b.Upper.Unlink(parent, name); ferr != nil {
		return e.observe("unlink", ferr)
	}
	e.reclaimIfOrphanedLocked(b, branchID, id)
	e.publish("Removed", map[string]string{"name": name})
	return e.observe("unlink", nil)
}

// readdirLocked is Readdir's body, callable while b.Mu is already held (by
// Rename, checking whether a target directory is empty).
func (e *Engine) readdirLocked(b *branchgraph.Branch, dir inode.ID) ([]inode.DirEntry, *fserrors.Error) {
	have := make(map[string]bool)
	whited := make(map[string]bool)
	var out []inode.DirEntry

	upperEntries, upperWhiteouts, uerr := b.Upper.Readdir(dir)
	if uerr != nil && b.Upper.Get(dir) != nil {
		return nil, uerr
	}
	for _, de := range upperEntries {
		out = append(out, de)
		have[de.Name] = true
	}
	for name := range upperWhiteouts {
		whited[name] = true
	}

	for _, snap := range e.graph.ParentChain(b) {
		entries, whiteouts, serr := snap.Upper.Readdir(dir)
		if serr != nil {
			continue
		}
		for _, de := range entries {
			if have[de.Name] || whited[de.Name] {
				continue
			}
			out = append(out, de)
			have[de.Name] = true
		}
		for name := range whiteouts {
			whited[name] = true
		}
	}

	for _, de := range e.mergeBackstoreDirents(b, dir, have) {
		if whited[de.Name] {
			continue
		}
		out = append(out, de)
	}
	return out, nil
}

// Readdir lists dir's entries, merging the upper layer, every snapshot
// layer (nearest-first, respecting whiteouts), and the backstore.
func (e *Engine) Readdir(branchID BranchID, dir inode.ID) ([]inode.DirEntry, *fserrors.Error) {
	b, ferr := e.branch(branchID)
	if ferr != nil {
		return nil, e.observe("readdir", ferr)
	}
	b.Mu.RLock()
	entries, ferr := e.readdirLocked(b, dir)
	b.Mu.RUnlock()
	return entries, e.observe("readdir", ferr)
}

// GetAttr returns id's attributes as seen from branchID.
func (e *Engine) GetAttr(branchID BranchID, id inode.ID) (inode.Attributes, *fserrors.Error) {
	b, ferr := e.branch(branchID)
	if ferr != nil {
		return inode.Attributes{}, e.observe("getattr", ferr)
	}
	b.Mu.RLock()
	n := e.findNode(b, id)
	b.Mu.RUnlock()
	if n == nil {
		return inode.Attributes{}, e.observe("getattr", fserrors.New(fserrors.NotFound, "fscore: unknown inode %d", id))
	}
	return n.Attr, e.observe("getattr", nil)
}

// SetAttr applies mutate to id's current attributes, copying id up first,
// and stamps ctime.
func (e *Engine) SetAttr(branchID BranchID, id inode.ID, mutate func(*inode.Attributes)) (inode.Attributes, *fserrors.Error) {
	b, ferr := e.branch(branchID)
	if ferr != nil {
		return inode.Attributes{}, e.observe("setattr", ferr)
	}
	b.Mu.Lock()
	defer b.Mu.Unlock()

	if ferr := e.checkFault("setattr", e.pathHint(id, "")); ferr != nil {
		return inode.Attributes{}, e.observe("setattr", ferr)
	}

	n, ferr := e.ensureInUpper(b, id)
	if ferr != nil {
		return inode.Attributes{}, e.observe("setattr", ferr)
	}
	attr := n.Attr
	mutate(&attr)
	attr.Times.Ctime = e.clk.Now()
	if ferr := b.Upper.SetAttr(id, attr); ferr != nil {
		return inode.Attributes{}, e.observe("setattr", ferr)
	}
	return attr, e.observe("setattr", nil)
}

// Readlink returns id's symlink target.
func (e *Engine) Readlink(branchID BranchID, id inode.ID) (string, *fserrors.Error) {
	b, ferr := e.branch(branchID)
	if ferr != nil {
		return "", e.observe("readlink", ferr)
	}
	b.Mu.RLock()
	defer b.Mu.RUnlock()
	n := e.findNode(b, id)
	if n == nil {
		return "", e.observe("readlink", fserrors.New(fserrors.NotFound, "fscore: unknown inode %d", id))
	}
	if n.Attr.Kind != inode.Symlink {
		return "", e.observe("readlink", fserrors.New(fserrors.InvalidArgument, "fscore: %d is not a symlink", id))
	}
	return n.Target, e.observe("readlink", nil)
}

// ---------------------------------------------------------------------
// xattrs
// ---------------------------------------------------------------------

// tableHolding returns the layer Table actually holding id, without
// triggering a copy-up: xattr/attribute reads are metadata reads, not
// writes, and shouldn't make a branch diverge from its parent on their own.
func (e *Engine) tableHolding(b *branchgraph.Branch, id inode.ID) *inode.Table {
	if b.Upper.Get(id) != nil {
		return b.Upper
	}
	for _, snap := range e.graph.ParentChain(b) {
		if snap.Upper.Get(id) != nil {
			return snap.Upper
		}
	}
	return nil
}

func (e *Engine) ListXattr(branchID BranchID, id inode.ID) ([]string, *fserrors.Error) {
	b, ferr := e.branch(branchID)
	if ferr != nil {
		return nil, e.observe("listxattr", ferr)
	}
	b.Mu.RLock()
	defer b.Mu.RUnlock()
	table := e.tableHolding(b, id)
	if table == nil {
		return nil, e.observe("listxattr", fserrors.New(fserrors.NotFound, "fscore: unknown inode %d", id))
	}
	names, ferr := table.ListXattr(id)
	return names, e.observe("listxattr", ferr)
}

func (e *Engine) GetXattr(branchID BranchID, id inode.ID, name string) ([]byte, *fserrors.Error) {
	b, ferr := e.branch(branchID)
	if ferr != nil {
		return nil, e.observe("getxattr", ferr)
	}
	b.Mu.RLock()
	defer b.Mu.RUnlock()
	table := e.tableHolding(b, id)
	if table == nil {
		return nil, e.observe("getxattr", fserrors.New(fserrors.NotFound, "fscore: unknown inode %d", id))
	}
	v, ferr := table.GetXattr(id, name)
	return v, e.observe("getxattr", ferr)
}

func (e *Engine) SetXattr(branchID BranchID, id inode.ID, name string, value []byte) *fserrors.Error {
	b, ferr := e.branch(branchID)
	if ferr != nil {
		return e.observe("setxattr", ferr)
	}
	b.Mu.Lock()
	defer b.Mu.Unlock()
	if _, ferr := e.ensureInUpper(b, id); ferr != nil {
		return e.observe("setxattr", ferr)
	}
	return e.observe("setxattr", b.Upper.SetXattr(id, name, value))
}

func (e *Engine) RemoveXattr(branchID BranchID, id inode.ID, name string) *fserrors.Error {
	b, ferr := e.branch(branchID)
	if ferr != nil {
		return e.observe("removexattr", ferr)
	}
	b.Mu.Lock()
	defer b.Mu.Unlock()
	if _, ferr := e.ensureInUpper(b, id); ferr != nil {
		return e.observe("removexattr", ferr)
	}
	return e.observe("removexattr", b.Upper.RemoveXattr(id, name))
}

// ---------------------------------------------------------------------
// Rename
// ---------------------------------------------------------------------

// Rename moves oldName under oldParent to newName under newParent.
// Same-directory rename is atomic on the dentry map; cross-directory
// copies up both parents. Renaming onto an existing non-empty directory
// fails NotEmpty; renaming into a descendant of the source fails
// InvalidArgument.
func (e *Engine) Rename(branchID BranchID, oldParent inode.ID, oldName string, newParent inode.ID, newName string) *fserrors.Error {
	b, ferr := e.branch(branchID)
	if ferr != nil {
		return e.observe("rename", ferr)
	}
	b.Mu.Lock()
	defer b.Mu.Unlock()

	if ferr := e.checkFault("rename", e.pathHint(oldParent, oldName)); ferr != nil {
		return e.observe("rename", ferr)
	}

	srcID, ferr := e.lookupOne(b, oldParent, oldName)
	if ferr != nil {
		return e.observe("rename", ferr)
	}
	srcNode := e.findNode(b, srcID)
	if srcNode == nil {
		return e.observe("rename", fserrors.New(fserrors.NotFound, "fscore: %q not found", oldName))
	}

	if srcNode.Attr.Kind == inode.Dir {
		if isDesc, ferr := e.isDescendantLocked(b, newParent, srcID); ferr == nil && isDesc {
			return e.observe("rename", fserrors.New(fserrors.InvalidArgument, "fscore: cannot rename a directory into its own descendant"))
		}
	}

	if dstID, derr := e.lookupOne(b, newParent, newName); derr == nil {
		dstNode := e.findNode(b, dstID)
		if dstNode != nil && dstNode.Attr.Kind == inode.Dir {
			entries, _ := e.readdirLocked(b, dstID)
			if len(entries) > 0 {
				// ENOTEMPTY has no dedicated Kind; InvalidArgument plus the
				// POSIX errno is what the wire layer maps back to ENOTEMPTY.
				return e.observe("rename", fserrors.New(fserrors.InvalidArgument, "fscore: rename target %q is not empty", newName).WithErrno(39))
			}
		}
		if _, ferr := e.ensureInUpper(b, newParent); ferr != nil {
			return e.observe("rename", ferr)
		}
		_ = b.Upper.Unlink(newParent, newName)
		e.reclaimIfOrphanedLocked(b, branchID, dstID)
	}

	if _, ferr := e.ensureInUpper(b, oldParent); ferr != nil {
		return e.observe("rename", ferr)
	}
	if _, ferr := e.ensureInUpper(b, newParent); ferr != nil {
		return e.observe("rename", ferr)
	}
	if ferr := b.Upper.Unlink(oldParent, oldName); ferr != nil {
		return e.observe("rename", ferr)
	}
	if ferr := b.Upper.Link(newParent, newName, srcID); ferr != nil {
		return e.observe("rename", ferr)
	}
	e.bsSetPath(srcID, e.pathHint(newParent, newName))
	e.publish("Renamed", map[string]string{"from": oldName, "to": newName})
	return e.observe("rename", nil)
}

// isDescendantLocked reports whether candidate is ancestor itself or lies
// somewhere under it, walking the directory tree visible from b. Called
// with b.Mu already held.
func (e *Engine) isDescendantLocked(b *branchgraph.Branch, candidate, ancestor inode.ID) (bool, *fserrors.Error) {
	if candidate == ancestor {
		return true, nil
	}
	entries, ferr := e.readdirLocked(b, ancestor)
	if ferr != nil {
		return false, ferr
	}
	for _, de := range entries {
		if de.Kind != inode.Dir {
			continue
		}
		if ok, _ := e.isDescendantLocked(b, candidate, de.Inode); ok {
			return true, nil
		}
	}
	return false, nil
}
