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

package backstore

import (
	"path"
	"strings"
	"sync"
	"time"

	"github.com/blocksense-network/agentfs/internal/core/inode"
	"github.com/blocksense-network/agentfs/internal/fserrors"
)

// ramEntry is one path's worth of origin data held entirely in memory.
type ramEntry struct {
	kind    inode.Kind
	data    []byte
	target  string
	xattrs  map[string][]byte
	mtime   time.Time
}

// RamDisk is the BackstoreKind "ramdisk": origin data is seeded once at
// construction (e.g. from a tmpfs-style golden image) and held entirely in
// memory rather than read through to the host filesystem, so it survives
// independent of whatever the real disk underneath the process is doing.
// Grounded on content.Store's own resident-blob-in-a-map design, applied
// here to whole paths instead of content-addressed chunks.
type RamDisk struct {
	mu      sync.RWMutex
	entries map[string]*ramEntry
}

var _ Backstore = (*RamDisk)(nil)

// NewRamDisk creates an empty RamDisk with just a root directory.
func NewRamDisk() *RamDisk {
	return &RamDisk{
		entries: map[string]*ramEntry{
			"/": {kind: inode.Dir},
		},
	}
}

func normalize(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}

// Seed installs a file's content directly, creating any missing parent
// directories. Intended for use while assembling a branch's origin data
// before FsCore ever serves a read from it.
func (r *RamDisk) Seed(p string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clean := normalize(p)
	r.ensureParents(clean)
	cp := make([]byte, len(data))
	copy(cp, data)
	r.entries[clean] = &ramEntry{kind: inode.File, data: cp, mtime: time.Time{}}
}

// SeedDir installs an empty directory, creating any missing parents.
func (r *RamDisk) SeedDir(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clean := normalize(p)
	r.ensureParents(clean)
	if _, ok := r.entries[clean]; !ok {
		r.entries[clean] = &ramEntry{kind: inode.Dir}
	}
}

func (r *RamDisk) ensureParents(clean string) {
	dir := path.Dir(clean)
	for dir != "/" && dir != "." {
		if _, ok := r.entries[dir]; !ok {
			r.entries[dir] = &ramEntry{kind: inode.Dir}
		}
		dir = path.Dir(dir)
	}
	if _, ok := r.entries["/"]; !ok {
		r.entries["/"] = &ramEntry{kind: inode.Dir}
	}
}

func (r *RamDisk) Stat(p string) (inode.Attributes, *fserrors.Error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[normalize(p)]
	if !ok {
		return inode.Attributes{}, fserrors.New(fserrors.NotFound, "backstore: ramdisk has no entry %q", p)
	}
	return inode.Attributes{
		Len:   uint64(len(e.data)),
		Kind:  e.kind,
		Times: inode.Times{Mtime: e.mtime},
		Nlink: 1,
		User:  inode.FileMode{Read: true, Write: false, Exec: e.kind == inode.Dir},
		Group: inode.FileMode{Read: true},
		Other: inode.FileMode{Read: true},
	}, nil
}

func (r *RamDisk) ReadAt(p string, offset int64, length int) ([]byte, *fserrors.Error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[normalize(p)]
	if !ok || e.kind != inode.File {
		return nil, fserrors.New(fserrors.NotFound, "backstore: ramdisk has no file %q", p)
	}
	if offset >= int64(len(e.data)) {
		return nil, nil
	}
	end := offset + int64(length)
	if end > int64(len(e.data)) {
		end = int64(len(e.data))
	}
	out := make([]byte, end-offset)
	copy(out, e.data[offset:end])
	return out, nil
}

func (r *RamDisk) Readdir(p string) ([]inode.DirEntry, *fserrors.Error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clean := normalize(p)
	e, ok := r.entries[clean]
	if !ok || e.kind != inode.Dir {
		return nil, fserrors.New(fserrors.NotFound, "backstore: ramdisk has no directory %q", p)
	}
	prefix := clean
	if prefix != "/" {
		prefix += "/"
	} else {
		prefix = "/"
	}
	var out []inode.DirEntry
	for name, child := range r.entries {
		if name == clean || !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if strings.Contains(rest, "/") {
			continue // not a direct child
		}
		out = append(out, inode.DirEntry{Name: rest, Kind: child.kind, Len: uint64(len(child.data))})
	}
	return out, nil
}

func (r *RamDisk) Readlink(p string) (string, *fserrors.Error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[normalize(p)]
	if !ok || e.kind != inode.Symlink {
		return "", fserrors.New(fserrors.NotFound, "backstore: ramdisk has no symlink %q", p)
	}
	return e.target, nil
}

func (r *RamDisk) GetXattr(p, name string) ([]byte, *fserrors.Error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[normalize(p)]
	if !ok {
		return nil, fserrors.New(fserrors.NotFound, "backstore: ramdisk has no entry %q", p)
	}
	v, ok := e.xattrs[name]
	if !ok {
		return nil, fserrors.New(fserrors.NotFound, "backstore: no xattr %q on %q", name, p)
	}
	return v, nil
}

func (r *RamDisk) ListXattr(p string) ([]string, *fserrors.Error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[normalize(p)]
	if !ok {
		return nil, fserrors.New(fserrors.NotFound, "backstore: ramdisk has no entry %q", p)
	}
	names := make([]string, 0, len(e.xattrs))
	for k := range e.xattrs {
		names = append(names, k)
	}
	return names, nil
}

func (r *RamDisk) SupportsNativeSnapshots() bool { return false }
func (r *RamDisk) SupportsReflink() bool         { return false }

func (r *RamDisk) Reflink(src, dst string) *fserrors.Error {
	return fserrors.New(fserrors.Unsupported, "backstore: ramdisk does not support reflink")
}
