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

// Package fusehost is the FUSE low-level host: a
// fuseutil.FileSystem that turns kernel VFS callbacks into calls against a
// single internal/core/fscore.Engine, and exposes the control plane
// (internal/wire) through a virtual file at "<mount>/.agentfs/control".
package fusehost

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/blocksense-network/agentfs/internal/core/fscore"
	"github.com/blocksense-network/agentfs/internal/core/handle"
	"github.com/blocksense-network/agentfs/internal/core/inode"
	"github.com/blocksense-network/agentfs/internal/fserrors"
	"github.com/blocksense-network/agentfs/internal/logger"
	"github.com/blocksense-network/agentfs/internal/wire"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// syscallErrno turns one of the control protocol's POSIX errno codes into the
// syscall.Errno value jacobsa/fuse recognizes as a FUSE op's error return
// (it type-asserts a returned error against syscall.Errno to pick the
// kernel reply code).
func syscallErrno(code int32) error { return syscall.Errno(code) }

var syscallENOENT = syscallErrno(2)

// controlDirName and controlFileName are the entries fusehost synthesizes
// for the virtual "<mount>/.agentfs/control" control file: a directory
// under the root, and the file inside it.
const controlDirName = ".agentfs"
const controlFileName = "control"

// Control file inodes are carved out of a reserved range above anything
// FsCore itself ever allocates (inode.RootID is 1, and real ids grow from
// there), so they can never collide with a namespace id.
const (
	controlDirInode  fuseops.InodeID = 1 << 62
	controlFileInode fuseops.InodeID = (1 << 62) + 1
)

// FileSystem adapts one fscore.Engine (and the wire.Dispatcher sharing it)
// to fuseutil.FileSystem. Every method resolves the calling pid's bound
// branch through Engine.ResolveBranch before touching the namespace, so two
// processes bound to different branches see different trees through the
// same mount.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	Engine     *fscore.Engine
	Dispatcher *wire.Dispatcher
	Clock      func() time.Time

	mu         sync.Mutex
	dirHandles map[fuseops.HandleID]*dirHandle
	// controlBuf holds the pending response for a control-file handle,
	// keyed by the handle id, until the client reads it back.
	controlBuf map[fuseops.HandleID][]byte
	nextHandle uint64
}

// New creates a FileSystem bound to engine and dispatcher.
func New(engine *fscore.Engine, dispatcher *wire.Dispatcher) *FileSystem {
	return &FileSystem{
		Engine:     engine,
		Dispatcher: dispatcher,
		Clock:      time.Now,
		dirHandles: make(map[fuseops.HandleID]*dirHandle),
		controlBuf: make(map[fuseops.HandleID][]byte),
	}
}

func (fs *FileSystem) allocHandle() fuseops.HandleID {
	return fuseops.HandleID(atomic.AddUint64(&fs.nextHandle, 1))
}

// pidOf would extract the calling pid from a fuseops op's context so
// Engine.ResolveBranch can pick the right process-bound branch. The
// vendored jacobsa/fuse release this module builds against doesn't expose a
// per-op caller pid to FileSystem implementers, so
// this stays pid 0 (the default branch) until a verified API is available;
// internal/daemon's Unix-socket path uses the pid the client reports in its
// Handshake instead (see internal/daemon/daemon.go).
func pidOf(ctx context.Context) uint32 {
	return 0
}

func (fs *FileSystem) branchFor(ctx context.Context) fscore.BranchID {
	return fs.Engine.ResolveBranch(pidOf(ctx), nil)
}

func errnoFor(ferr *fserrors.Error) error {
	if ferr == nil {
		return nil
	}
	return syscallErrno(wire.Errno(ferr.Kind))
}

func isControlDir(id fuseops.InodeID) bool  { return id == controlDirInode }
func isControlFile(id fuseops.InodeID) bool { return id == controlFileInode }

func attrFromInode(a inode.Attributes) fuseops.InodeAttributes {
	var mode os.FileMode
	switch a.Kind {
	case inode.Dir:
		mode = os.ModeDir
	case inode.Symlink:
		mode = os.ModeSymlink
	}
	mode |= modeBitsFromTriple(a.User, 6) | modeBitsFromTriple(a.Group, 3) | modeBitsFromTriple(a.Other, 0)
	nlink := a.Nlink
	if nlink == 0 {
		nlink = 1
	}
	return fuseops.InodeAttributes{
		Size:   a.Len,
		Nlink:  nlink,
		Mode:   mode,
		Atime:  a.Times.Atime,
		Mtime:  a.Times.Mtime,
		Ctime:  a.Times.Ctime,
		Crtime: a.Times.Birthtime,
		Uid:    a.Uid,
		Gid:    a.Gid,
	}
}

func modeBitsFromTriple(t inode.FileMode, shift uint) os.FileMode {
	var m os.FileMode
	if t.Read {
		m |= 4 << shift
	}
	if t.Write {
		m |= 2 << shift
	}
	if t.Exec {
		m |= 1 << shift
	}
	return m
}

// Init is a no-op: Engine.New already seeded the default branch's root
// directory, so there's nothing left to negotiate with the kernel.
func (fs *FileSystem) Init(ctx context.Context, op *fuseops.InitOp) error {
	return nil
}

func (fs *FileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	if op.Parent == fuseops.RootInodeID && op.Name == controlDirName {
		op.Entry.Child = controlDirInode
		op.Entry.Attributes = controlDirAttr()
		return nil
	}
	if op.Parent == controlDirInode && op.Name == controlFileName {
		op.Entry.Child = controlFileInode
		op.Entry.Attributes = controlFileAttr()
		return nil
	}
	if isControlDir(op.Parent) || isControlFile(op.Parent) {
		return syscallENOENT
	}

	branch := fs.branchFor(ctx)
	id, attr, ferr := fs.Engine.Lookup(branch, inode.ID(op.Parent), op.Name)
	if ferr != nil {
		return errnoFor(ferr)
	}
	op.Entry.Child = fuseops.InodeID(id)
	op.Entry.Attributes = attrFromInode(attr)
	return nil
}

func controlDirAttr() fuseops.InodeAttributes {
	now := time.Now()
	return fuseops.InodeAttributes{Nlink: 1, Mode: os.ModeDir | 0755, Atime: now, Mtime: now, Ctime: now, Crtime: now}
}

func controlFileAttr() fuseops.InodeAttributes {
	now := time.Now()
	return fuseops.InodeAttributes{Nlink: 1, Mode: 0600, Size: wire.ControlBufferSize, Atime: now, Mtime: now, Ctime: now, Crtime: now}
}

func (fs *FileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	if isControlDir(op.Inode) {
		op.Attributes = controlDirAttr()
		return nil
	}
	if isControlFile(op.Inode) {
		op.Attributes = controlFileAttr()
		return nil
	}
	branch := fs.branchFor(ctx)
	attr, ferr := fs.Engine.GetAttr(branch, inode.ID(op.Inode))
	if ferr != nil {
		return errnoFor(ferr)
	}
	op.Attributes = attrFromInode(attr)
	return nil
}

func (fs *FileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	if isControlDir(op.Inode) || isControlFile(op.Inode) {
		op.Attributes = controlFileAttr()
		return nil
	}
	branch := fs.branchFor(ctx)
	attr, ferr := fs.Engine.SetAttr(branch, inode.ID(op.Inode), func(a *inode.Attributes) {
		if op.Size != nil {
			a.Len = *op.Size
		}
		if op.Mode != nil {
			m := *op.Mode
			a.User = tripleFromMode(m, 6)
			a.Group = tripleFromMode(m, 3)
			a.Other = tripleFromMode(m, 0)
		}
		if op.Atime != nil {
			a.Times.Atime = *op.Atime
		}
		if op.Mtime != nil {
			a.Times.Mtime = *op.Mtime
		}
	})
	if ferr != nil {
		return errnoFor(ferr)
	}
	if op.Size != nil {
		if ferr := fs.Engine.Truncate(branch, inode.ID(op.Inode), *op.Size); ferr != nil {
			return errnoFor(ferr)
		}
	}
	op.Attributes = attrFromInode(attr)
	return nil
}

func tripleFromMode(m os.FileMode, shift uint) inode.FileMode {
	return inode.FileMode{
		Read:  m&(4<<shift) != 0,
		Write: m&(2<<shift) != 0,
		Exec:  m&(1<<shift) != 0,
	}
}

func (fs *FileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	return nil
}

func (fs *FileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	branch := fs.branchFor(ctx)
	id, attr, ferr := fs.Engine.Create(branch, inode.ID(op.Parent), op.Name, fscore.CreateOptions{
		Kind: inode.Dir,
		Attr: inode.Attributes{User: tripleFromMode(op.Mode, 6), Group: tripleFromMode(op.Mode, 3), Other: tripleFromMode(op.Mode, 0)},
		Excl: true,
	})
	if ferr != nil {
		return errnoFor(ferr)
	}
	op.Entry.Child = fuseops.InodeID(id)
	op.Entry.Attributes = attrFromInode(attr)
	return nil
}

func (fs *FileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	branch := fs.branchFor(ctx)
	id, attr, ferr := fs.Engine.Create(branch, inode.ID(op.Parent), op.Name, fscore.CreateOptions{
		Kind: inode.File,
		Attr: inode.Attributes{User: tripleFromMode(op.Mode, 6), Group: tripleFromMode(op.Mode, 3), Other: tripleFromMode(op.Mode, 0)},
		Excl: true,
	})
	if ferr != nil {
		return errnoFor(ferr)
	}
	h, ferr := fs.Engine.Open(branch, id, fscore.OpenOptions{Read: true, Write: true, Share: []handle.ShareMode{handle.ShareRead, handle.ShareWrite, handle.ShareDelete}})
	if ferr != nil {
		return errnoFor(ferr)
	}
	op.Entry.Child = fuseops.InodeID(id)
	op.Entry.Attributes = attrFromInode(attr)
	op.Handle = fuseops.HandleID(h.ID)
	return nil
}

func (fs *FileSystem) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	branch := fs.branchFor(ctx)
	id, attr, ferr := fs.Engine.Symlink(branch, inode.ID(op.Parent), op.Name, op.Target, inode.Attributes{
		User: inode.FileMode{Read: true, Write: true, Exec: true}, Group: inode.FileMode{Read: true, Exec: true}, Other: inode.FileMode{Read: true, Exec: true},
	})
	if ferr != nil {
		return errnoFor(ferr)
	}
	op.Entry.Child = fuseops.InodeID(id)
	op.Entry.Attributes = attrFromInode(attr)
	return nil
}

func (fs *FileSystem) CreateLink(ctx context.Context, op *fuseops.CreateLinkOp) error {
	branch := fs.branchFor(ctx)
	if ferr := fs.Engine.Link(branch, inode.ID(op.Parent), op.Name, inode.ID(op.Target)); ferr != nil {
		return errnoFor(ferr)
	}
	attr, ferr := fs.Engine.GetAttr(branch, inode.ID(op.Target))
	if ferr != nil {
		return errnoFor(ferr)
	}
	op.Entry.Child = op.Target
	op.Entry.Attributes = attrFromInode(attr)
	return nil
}

func (fs *FileSystem) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	branch := fs.branchFor(ctx)
	return errnoFor(fs.Engine.Rename(branch, inode.ID(op.OldParent), op.OldName, inode.ID(op.NewParent), op.NewName))
}

func (fs *FileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	branch := fs.branchFor(ctx)
	childID, _, ferr := fs.Engine.Lookup(branch, inode.ID(op.Parent), op.Name)
	if ferr != nil {
		return errnoFor(ferr)
	}
	entries, ferr := fs.Engine.Readdir(branch, childID)
	if ferr != nil {
		return errnoFor(ferr)
	}
	if len(entries) > 0 {
		return syscallErrno(39) // ENOTEMPTY
	}
	return errnoFor(fs.Engine.Unlink(branch, inode.ID(op.Parent), op.Name))
}

func (fs *FileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	branch := fs.branchFor(ctx)
	return errnoFor(fs.Engine.Unlink(branch, inode.ID(op.Parent), op.Name))
}

// dirHandle snapshots a directory's entries at OpenDir time, serving every
// ReadDir call against that fixed snapshot rather than re-listing live.
type dirHandle struct {
	entries []inode.DirEntry
}

func (fs *FileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	h := fs.allocHandle()
	if isControlDir(op.Inode) {
		fs.mu.Lock()
		fs.dirHandles[h] = &dirHandle{}
		fs.mu.Unlock()
		op.Handle = h
		return nil
	}
	branch := fs.branchFor(ctx)
	entries, ferr := fs.Engine.Readdir(branch, inode.ID(op.Inode))
	if ferr != nil {
		return errnoFor(ferr)
	}
	if op.Inode == fuseops.RootInodeID {
		entries = append(entries, inode.DirEntry{Name: controlDirName, Kind: inode.Dir, Inode: inode.ID(controlDirInode)})
	}
	fs.mu.Lock()
	fs.dirHandles[h] = &dirHandle{entries: entries}
	fs.mu.Unlock()
	op.Handle = h
	return nil
}

func direntType(k inode.Kind) fuseutil.DirentType {
	switch k {
	case inode.Dir:
		return fuseutil.DT_Directory
	case inode.Symlink:
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_File
	}
}

func (fs *FileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	dh := fs.dirHandles[op.Handle]
	fs.mu.Unlock()
	if dh == nil {
		return syscallErrno(9) // EBADF
	}
	var n int
	for i := int(op.Offset); i < len(dh.entries); i++ {
		de := dh.entries[i]
		written := fuseutil.WriteDirent(op.Dst[n:], fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  fuseops.InodeID(de.Inode),
			Name:   de.Name,
			Type:   direntType(de.Kind),
		})
		if written == 0 {
			break
		}
		n += written
	}
	op.BytesRead = n
	return nil
}

func (fs *FileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	delete(fs.dirHandles, op.Handle)
	fs.mu.Unlock()
	return nil
}

func (fs *FileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	if isControlFile(op.Inode) {
		op.Handle = fs.allocHandle()
		return nil
	}
	branch := fs.branchFor(ctx)
	h, ferr := fs.Engine.Open(branch, inode.ID(op.Inode), fscore.OpenOptions{
		Read: true, Write: true,
		Share: []handle.ShareMode{handle.ShareRead, handle.ShareWrite, handle.ShareDelete},
	})
	if ferr != nil {
		return errnoFor(ferr)
	}
	op.Handle = fuseops.HandleID(h.ID)
	op.KeepPageCache = false
	return nil
}

func (fs *FileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	if isControlFile(op.Inode) {
		fs.mu.Lock()
		buf := fs.controlBuf[op.Handle]
		fs.mu.Unlock()
		if int64(len(buf)) <= op.Offset {
			op.Data = nil
			return nil
		}
		op.Data = buf[op.Offset:]
		return nil
	}
	h := fs.Engine.HandleTable().Get(handle.ID(op.Handle))
	if h == nil {
		return syscallErrno(9) // EBADF
	}
	data, ferr := fs.Engine.Read(h, op.Offset, op.Size)
	if ferr != nil {
		return errnoFor(ferr)
	}
	op.Data = data
	return nil
}

func (fs *FileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	if isControlFile(op.Inode) {
		// jacobsa/fuse's FileSystem interface has no FUSE_IOCTL hook, so the
		// ioctl(0xD0004146, ...) control transport is adapted here onto plain
		// write-then-read: a write
		// carries the request payload, and the matching response is staged
		// for the next read on the same handle.
		req, err := wire.DecodeRequest(op.Data)
		if err != nil {
			return syscallErrno(22) // EINVAL
		}
		resp := fs.Dispatcher.Dispatch(req, pidOf(ctx))
		fs.mu.Lock()
		fs.controlBuf[op.Handle] = wire.EncodeResponse(resp)
		fs.mu.Unlock()
		return nil
	}
	h := fs.Engine.HandleTable().Get(handle.ID(op.Handle))
	if h == nil {
		return syscallErrno(9) // EBADF
	}
	_, ferr := fs.Engine.Write(h, op.Offset, op.Data)
	return errnoFor(ferr)
}

func (fs *FileSystem) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return nil
}

func (fs *FileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

func (fs *FileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	delete(fs.controlBuf, op.Handle)
	fs.mu.Unlock()
	if h := fs.Engine.HandleTable().Get(handle.ID(op.Handle)); h != nil {
		_ = fs.Engine.Close(h)
	}
	return nil
}

func (fs *FileSystem) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	branch := fs.branchFor(ctx)
	target, ferr := fs.Engine.Readlink(branch, inode.ID(op.Inode))
	if ferr != nil {
		return errnoFor(ferr)
	}
	op.Target = target
	return nil
}

func (fs *FileSystem) Fallocate(ctx context.Context, op *fuseops.FallocateOp) error {
	branch := fs.branchFor(ctx)
	return errnoFor(fs.Engine.Fallocate(branch, inode.ID(op.Inode), int64(op.Offset), int64(op.Length)))
}

func (fs *FileSystem) GetXattr(ctx context.Context, op *fuseops.GetXattrOp) error {
	branch := fs.branchFor(ctx)
	v, ferr := fs.Engine.GetXattr(branch, inode.ID(op.Inode), op.Name)
	if ferr != nil {
		return errnoFor(ferr)
	}
	if len(op.Dst) < len(v) {
		op.BytesRead = len(v)
		return syscallErrno(34) // ERANGE
	}
	op.BytesRead = copy(op.Dst, v)
	return nil
}

func (fs *FileSystem) ListXattr(ctx context.Context, op *fuseops.ListXattrOp) error {
	branch := fs.branchFor(ctx)
	names, ferr := fs.Engine.ListXattr(branch, inode.ID(op.Inode))
	if ferr != nil {
		return errnoFor(ferr)
	}
	var joined []byte
	for _, n := range names {
		joined = append(joined, n...)
		joined = append(joined, 0)
	}
	if len(op.Dst) < len(joined) {
		op.BytesRead = len(joined)
		return syscallErrno(34) // ERANGE
	}
	op.BytesRead = copy(op.Dst, joined)
	return nil
}

func (fs *FileSystem) SetXattr(ctx context.Context, op *fuseops.SetXattrOp) error {
	branch := fs.branchFor(ctx)
	return errnoFor(fs.Engine.SetXattr(branch, inode.ID(op.Inode), op.Name, op.Value))
}

func (fs *FileSystem) RemoveXattr(ctx context.Context, op *fuseops.RemoveXattrOp) error {
	branch := fs.branchFor(ctx)
	return errnoFor(fs.Engine.RemoveXattr(branch, inode.ID(op.Inode), op.Name))
}

// Mount mounts fs at mountPoint with agentfs's FSName/Subtype conventions,
// returning the handle the caller joins to block until unmount.
func Mount(mountPoint string, fs *FileSystem, readOnly, allowOther bool) (*fuse.MountedFileSystem, error) {
	cfg := &fuse.MountConfig{
		FSName:     "agentfs",
		Subtype:    "agentfs",
		VolumeName: "agentfs",
		Options:    map[string]string{},
	}
	if readOnly {
		cfg.Options["ro"] = ""
	}
	if allowOther {
		cfg.Options["allow_other"] = ""
	}
	logger.Infof("fusehost: mounting agentfs at %q", mountPoint)
	return fuse.Mount(mountPoint, fs, cfg)
}
