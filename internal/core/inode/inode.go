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

// Package inode is the namespace layer: a single Table is an arena of Nodes
// keyed by integer id (map[inode.ID]*Node), never by Go pointer graph, so a
// directory's children and a child's parent backref never form a Go
// reference cycle — only integer ids cross that boundary. A Table is the
// mutable content of exactly one overlay layer (a branch's upper layer, or
// a frozen snapshot's delta); internal/core/branchgraph composes many
// Tables into the copy-on-write chain a branch actually presents.
package inode

import (
	"time"

	"github.com/blocksense-network/agentfs/internal/core/content"
	"github.com/blocksense-network/agentfs/internal/fserrors"
)

// ID is an inode identifier. Unlike a single Table's arena, ids are unique
// across an entire branch lineage: internal/core/branchgraph hands every
// Table it creates the same shared allocator, so a node keeps the same id
// as it's copied up from a snapshot's Table into a branch's upper Table.
// That's what lets a Handle opened against a lower layer keep referring to
// the right node after a later copy-up promotes it.
type ID uint64

// RootID is the reserved id of the root directory in every Table, so that
// id alone is stable across every layer of a lineage without needing the
// shared allocator to hand it out.
const RootID ID = 1

// IDSource allocates a fresh, lineage-unique, non-RootID value each call.
type IDSource func() ID

// Kind is the type of filesystem object a Node represents.
type Kind int

const (
	File Kind = iota
	Dir
	Symlink
)

// FileMode is the read/write/exec triple for one of user/group/other.
type FileMode struct {
	Read  bool
	Write bool
	Exec  bool
}

// Times holds the four timestamps attached to every inode.
type Times struct {
	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
	Birthtime time.Time
}

// Attributes is the metadata view returned by Getattr, mirroring
// agentfs-core's Attributes struct (len, times, uid, gid, kind, mode bits).
type Attributes struct {
	Len    uint64
	Times  Times
	Uid    uint32
	Gid    uint32
	Kind   Kind
	User   FileMode
	Group  FileMode
	Other  FileMode
	Nlink  uint32
}

// Directory entries have no type of their own: a directory Node maps each
// name to a child id and tracks insertion order separately, so Readdir is
// stable without being alphabetical.

// Node is one inode's record within a Table's arena.
type Node struct {
	ID   ID
	Attr Attributes

	// ContentID is valid for Kind==File only: the unnamed data stream every
	// regular file has.
	ContentID content.ID

	// streams holds a file's named alternate data streams, each with its
	// own independently refcounted content blob, keyed by stream name.
	// Valid for Kind==File only; nil until the first stream is written.
	streams map[string]content.ID

	// Target is valid for Kind==Symlink only.
	Target string

	// children/order/whiteouts are valid for Kind==Dir only. children maps
	// a name to a child id; order records insertion order for Readdir;
	// whiteouts marks names tombstoned in this layer so a same-named entry
	// in a lower (snapshot or backstore) layer is correctly hidden.
	children  map[string]ID
	order     []string
	whiteouts map[string]bool

	xattrs map[string][]byte
}

func newDirNode(id ID, attr Attributes) *Node {
	attr.Kind = Dir
	return &Node{
		ID:        id,
		Attr:      attr,
		children:  make(map[string]ID),
		whiteouts: make(map[string]bool),
		xattrs:    make(map[string][]byte),
	}
}

func newLeafNode(id ID, attr Attributes) *Node {
	return &Node{ID: id, Attr: attr, xattrs: make(map[string][]byte)}
}

// Clone returns a deep-enough copy of n suitable as the copy-up target in
// a different Table's arena: attributes and content/target references are
// duplicated (content blobs are refcounted, not copied — copy-up is
// shallow). The clone keeps n's id, since ids are
// shared across a whole branch lineage (see ID) — Adopt recognizes the
// non-zero id and reuses it rather than allocating a fresh one.
func (n *Node) Clone() *Node {
	clone := &Node{ID: n.ID, Attr: n.Attr, ContentID: n.ContentID, Target: n.Target}
	if len(n.streams) > 0 {
		clone.streams = make(map[string]content.ID, len(n.streams))
		for k, v := range n.streams {
			clone.streams[k] = v
		}
	}
	clone.xattrs = make(map[string][]byte, len(n.xattrs))
	for k, v := range n.xattrs {
		cp := make([]byte, len(v))
		copy(cp, v)
		clone.xattrs[k] = cp
	}
	if n.Attr.Kind == Dir {
		clone.children = make(map[string]ID, len(n.children))
		for k, v := range n.children {
			clone.children[k] = v
		}
		clone.order = append([]string(nil), n.order...)
		clone.whiteouts = make(map[string]bool, len(n.whiteouts))
		for k, v := range n.whiteouts {
			clone.whiteouts[k] = v
		}
	}
	return clone
}

// DirEntry is one Readdir result row.
type DirEntry struct {
	Name   string
	Kind   Kind
	Len    uint64
	Inode  ID
}

// Table is one overlay layer's mutable namespace: an arena of Nodes plus
// the root directory's id.
type Table struct {
	ids    IDSource
	nodes  map[ID]*Node
	RootID ID
}

// NewTable creates a Table containing only an empty root directory at
// RootID. ids allocates every non-root node's id; pass the same IDSource to
// every Table in one branch's lineage (see branchgraph.Graph) so ids never
// collide across layers.
func NewTable(ids IDSource, rootAttr Attributes) *Table {
	t := &Table{ids: ids, nodes: make(map[ID]*Node)}
	root := newDirNode(RootID, rootAttr)
	t.nodes[RootID] = root
	t.RootID = RootID
	return t
}

// Get returns the Node for id, or nil if this layer has no such id (the
// caller falls through to the next layer in the chain).
func (t *Table) Get(id ID) *Node {
	return t.nodes[id]
}

// Adopt inserts an externally-constructed Node into this Table's arena,
// returning its id. A zero n.ID (a brand new node) is assigned a fresh id
// from the Table's IDSource; a non-zero n.ID (a Clone() from a lower layer,
// being copied up) keeps that id so every layer agrees on it.
func (t *Table) Adopt(n *Node) ID {
	if n.ID == 0 {
		n.ID = t.ids()
	}
	t.nodes[n.ID] = n
	return n.ID
}

// Lookup resolves name within dir, consulting only this layer: returns the
// child id, whether name is whiteouted in this layer (meaning the caller
// must not fall through to lower layers), and whether dir itself has an
// entry for name in this layer at all.
func (t *Table) Lookup(dir ID, name string) (child ID, whiteout bool, found bool) {
	d := t.nodes[dir]
	if d == nil || d.Attr.Kind != Dir {
		return 0, false, false
	}
	if d.whiteouts[name] {
		return 0, true, false
	}
	id, ok := d.children[name]
	return id, false, ok
}

// Readdir lists this layer's own entries for dir, in insertion order,
// alongside the set of names whiteouted in this layer. The caller
// (fscore.Engine's readdirLocked) merges this with lower layers,
// respecting whiteouts.
func (t *Table) Readdir(dir ID) (entries []DirEntry, whiteouts map[string]bool, err *fserrors.Error) {
	d := t.nodes[dir]
	if d == nil {
		return nil, nil, fserrors.New(fserrors.NotFound, "inode: unknown dir %d", dir)
	}
	if d.Attr.Kind != Dir {
		return nil, nil, fserrors.New(fserrors.InvalidArgument, "inode: %d is not a directory", dir)
	}
	for _, name := range d.order {
		id, ok := d.children[name]
		if !ok {
			continue
		}
		child := t.nodes[id]
		if child == nil {
			continue
		}
		entries = append(entries, DirEntry{Name: name, Kind: child.Attr.Kind, Len: child.Attr.Len, Inode: id})
	}
	return entries, d.whiteouts, nil
}

// Link inserts an existing id as name within dir (this layer only). Used
// both for ordinary link() and by rename to attach the moved child under
// its new name.
func (t *Table) Link(dir ID, name string, child ID) *fserrors.Error {
	d := t.nodes[dir]
	if d == nil || d.Attr.Kind != Dir {
		return fserrors.New(fserrors.NotFound, "inode: unknown dir %d", dir)
	}
	if _, exists := d.children[name]; exists {
		return fserrors.New(fserrors.AlreadyExists, "inode: %q already exists in %d", name, dir)
	}
	if d.children == nil {
		d.children = make(map[string]ID)
	}
	d.children[name] = child
	d.order = append(d.order, name)
	delete(d.whiteouts, name)
	if c := t.nodes[child]; c != nil {
		c.Attr.Nlink++
	}
	return nil
}

// Unlink removes name from dir in this layer and records a whiteout so a
// same-named lower-layer entry stays hidden.
func (t *Table) Unlink(dir ID, name string) *fserrors.Error {
	d := t.nodes[dir]
	if d == nil || d.Attr.Kind != Dir {
		return fserrors.New(fserrors.NotFound, "inode: unknown dir %d", dir)
	}
	id, existsHere := d.children[name]
	if existsHere {
		delete(d.children, name)
		for i, n := range d.order {
			if n == name {
				d.order = append(d.order[:i], d.order[i+1:]...)
				break
			}
		}
		if c := t.nodes[id]; c != nil && c.Attr.Nlink > 0 {
			c.Attr.Nlink--
		}
	}
	if d.whiteouts == nil {
		d.whiteouts = make(map[string]bool)
	}
	d.whiteouts[name] = true
	return nil
}

// CreateFile allocates a new regular-file inode under dir, linked as name.
func (t *Table) CreateFile(dir ID, name string, attr Attributes, contentID content.ID) (ID, *fserrors.Error) {
	if _, _, found := t.Lookup(dir, name); found {
		return 0, fserrors.New(fserrors.AlreadyExists, "inode: %q already exists", name)
	}
	attr.Kind = File
	n := newLeafNode(0, attr)
	n.ContentID = contentID
	id := t.Adopt(n)
	if err := t.Link(dir, name, id); err != nil {
		return 0, err
	}
	return id, nil
}

// CreateDir allocates a new directory inode under dir, linked as name.
func (t *Table) CreateDir(dir ID, name string, attr Attributes) (ID, *fserrors.Error) {
	if _, _, found := t.Lookup(dir, name); found {
		return 0, fserrors.New(fserrors.AlreadyExists, "inode: %q already exists", name)
	}
	n := newDirNode(t.ids(), attr)
	t.nodes[n.ID] = n
	if err := t.Link(dir, name, n.ID); err != nil {
		return 0, err
	}
	return n.ID, nil
}

// CreateSymlink allocates a new symlink inode under dir, linked as name.
func (t *Table) CreateSymlink(dir ID, name string, attr Attributes, target string) (ID, *fserrors.Error) {
	if _, _, found := t.Lookup(dir, name); found {
		return 0, fserrors.New(fserrors.AlreadyExists, "inode: %q already exists", name)
	}
	attr.Kind = Symlink
	n := newLeafNode(0, attr)
	n.Target = target
	id := t.Adopt(n)
	if err := t.Link(dir, name, id); err != nil {
		return 0, err
	}
	return id, nil
}

// SetAttr replaces id's attributes with attr as a whole; the
// caller (internal/core) is responsible for copy-up before calling this so
// the mutation always lands in the branch's own upper-layer Table.
func (t *Table) SetAttr(id ID, attr Attributes) *fserrors.Error {
	n := t.nodes[id]
	if n == nil {
		return fserrors.New(fserrors.NotFound, "inode: unknown id %d", id)
	}
	n.Attr = attr
	return nil
}

func (t *Table) GetAttr(id ID) (Attributes, *fserrors.Error) {
	n := t.nodes[id]
	if n == nil {
		return Attributes{}, fserrors.New(fserrors.NotFound, "inode: unknown id %d", id)
	}
	return n.Attr, nil
}

func (t *Table) Readlink(id ID) (string, *fserrors.Error) {
	n := t.nodes[id]
	if n == nil {
		return "", fserrors.New(fserrors.NotFound, "inode: unknown id %d", id)
	}
	if n.Attr.Kind != Symlink {
		return "", fserrors.New(fserrors.InvalidArgument, "inode: %d is not a symlink", id)
	}
	return n.Target, nil
}

func (t *Table) ListXattr(id ID) ([]string, *fserrors.Error) {
	n := t.nodes[id]
	if n == nil {
		return nil, fserrors.New(fserrors.NotFound, "inode: unknown id %d", id)
	}
	names := make([]string, 0, len(n.xattrs))
	for k := range n.xattrs {
		names = append(names, k)
	}
	return names, nil
}

func (t *Table) GetXattr(id ID, name string) ([]byte, *fserrors.Error) {
	n := t.nodes[id]
	if n == nil {
		return nil, fserrors.New(fserrors.NotFound, "inode: unknown id %d", id)
	}
	v, ok := n.xattrs[name]
	if !ok {
		return nil, fserrors.New(fserrors.NotFound, "inode: no xattr %q on %d", name, id)
	}
	return v, nil
}

func (t *Table) SetXattr(id ID, name string, value []byte) *fserrors.Error {
	n := t.nodes[id]
	if n == nil {
		return fserrors.New(fserrors.NotFound, "inode: unknown id %d", id)
	}
	if n.xattrs == nil {
		n.xattrs = make(map[string][]byte)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	n.xattrs[name] = cp
	return nil
}

func (t *Table) RemoveXattr(id ID, name string) *fserrors.Error {
	n := t.nodes[id]
	if n == nil {
		return fserrors.New(fserrors.NotFound, "inode: unknown id %d", id)
	}
	if _, ok := n.xattrs[name]; !ok {
		return fserrors.New(fserrors.NotFound, "inode: no xattr %q on %d", name, id)
	}
	delete(n.xattrs, name)
	return nil
}

// Stream returns the content id of n's named alternate data stream, or
// ok=false if no such stream has been created yet.
func (n *Node) Stream(name string) (cid content.ID, ok bool) {
	cid, ok = n.streams[name]
	return cid, ok
}

// SetStream records cid as the content of n's named alternate data stream,
// creating the stream if it doesn't already exist. The caller owns
// refcounting: it must Dup/Put before calling and Drop whatever content id
// this overwrites.
func (n *Node) SetStream(name string, cid content.ID) {
	if n.streams == nil {
		n.streams = make(map[string]content.ID)
	}
	n.streams[name] = cid
}

// StreamNames returns the names of n's named alternate data streams.
func (n *Node) StreamNames() []string {
	names := make([]string, 0, len(n.streams))
	for name := range n.streams {
		names = append(names, name)
	}
	return names
}

// RemoveStream deletes n's named stream and returns the content id it held
// (0 if the stream didn't exist), so the caller can drop its refcount.
func (n *Node) RemoveStream(name string) content.ID {
	cid := n.streams[name]
	delete(n.streams, name)
	return cid
}

// StreamContentIDs returns every content id n's named streams currently
// reference, for a caller reclaiming all of an inode's content (final
// close of an unlinked file, or branch destruction) to drop each one.
func (n *Node) StreamContentIDs() []content.ID {
	if len(n.streams) == 0 {
		return nil
	}
	out := make([]content.ID, 0, len(n.streams))
	for _, cid := range n.streams {
		out = append(out, cid)
	}
	return out
}

// Evict removes id from this layer's arena entirely. Callers reclaiming an
// unlinked inode's content are responsible for dropping its content-store
// reference (and any named streams') themselves first; Evict only removes
// the bookkeeping node.
func (t *Table) Evict(id ID) {
	delete(t.nodes, id)
}

// IsEmptyDir reports whether id is a directory with no live entries in
// this layer. Lower-layer entries are not consulted; fscore's rename
// checks emptiness across the whole chain with readdirLocked instead.
func (t *Table) IsEmptyDir(id ID) bool {
	n := t.nodes[id]
	return n != nil && n.Attr.Kind == Dir && len(n.children) == 0
}

// Files returns every regular-file Node this layer's arena holds, for a
// caller dropping content-store references across the whole layer at once
// (branch destruction reclaiming its upper layer's blobs).
func (t *Table) Files() []*Node {
	var out []*Node
	for _, n := range t.nodes {
		if n.Attr.Kind == File {
			out = append(out, n)
		}
	}
	return out
}
