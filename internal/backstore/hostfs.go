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
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/blocksense-network/agentfs/internal/core/inode"
	"github.com/blocksense-network/agentfs/internal/fserrors"
	"golang.org/x/sys/unix"
)

// HostFs is the BackstoreKind "hostfs": origin data lives under Root on the
// real host filesystem, read through read-only. Grounded on the same
// resolved-absolute-path discipline internal/util.GetResolvedPath uses for
// every other configured path in cfg.Config.
type HostFs struct {
	Root string
}

var _ Backstore = HostFs{}

// resolve joins path onto Root, rejecting any result that would escape
// Root via ".." segments.
func (h HostFs) resolve(path string) (string, *fserrors.Error) {
	root := filepath.Clean(h.Root)
	clean := filepath.Join(root, path)
	if rel, err := filepath.Rel(root, clean); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fserrors.New(fserrors.AccessDenied, "backstore: path %q escapes root", path)
	}
	return clean, nil
}

func (h HostFs) Stat(path string) (inode.Attributes, *fserrors.Error) {
	full, ferr := h.resolve(path)
	if ferr != nil {
		return inode.Attributes{}, ferr
	}
	fi, err := os.Lstat(full)
	if err != nil {
		return inode.Attributes{}, wrapStatErr(err, full)
	}
	return attrFromFileInfo(fi), nil
}

func (h HostFs) ReadAt(path string, offset int64, length int) ([]byte, *fserrors.Error) {
	full, ferr := h.resolve(path)
	if ferr != nil {
		return nil, ferr
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, wrapStatErr(err, full)
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, fserrors.Wrap(fserrors.Io, err, "backstore: reading %q", path)
	}
	return buf[:n], nil
}

func (h HostFs) Readdir(path string) ([]inode.DirEntry, *fserrors.Error) {
	full, ferr := h.resolve(path)
	if ferr != nil {
		return nil, ferr
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, wrapStatErr(err, full)
	}
	out := make([]inode.DirEntry, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, inode.DirEntry{Name: e.Name(), Kind: kindFromFileInfo(fi), Len: uint64(fi.Size())})
	}
	return out, nil
}

func (h HostFs) Readlink(path string) (string, *fserrors.Error) {
	full, ferr := h.resolve(path)
	if ferr != nil {
		return "", ferr
	}
	target, err := os.Readlink(full)
	if err != nil {
		return "", wrapStatErr(err, full)
	}
	return target, nil
}

func (h HostFs) GetXattr(path, name string) ([]byte, *fserrors.Error) {
	full, ferr := h.resolve(path)
	if ferr != nil {
		return nil, ferr
	}
	size, err := unix.Getxattr(full, name, nil)
	if err != nil {
		return nil, wrapStatErr(err, full)
	}
	buf := make([]byte, size)
	if size > 0 {
		if _, err := unix.Getxattr(full, name, buf); err != nil {
			return nil, wrapStatErr(err, full)
		}
	}
	return buf, nil
}

func (h HostFs) ListXattr(path string) ([]string, *fserrors.Error) {
	full, ferr := h.resolve(path)
	if ferr != nil {
		return nil, ferr
	}
	size, err := unix.Listxattr(full, nil)
	if err != nil {
		return nil, wrapStatErr(err, full)
	}
	buf := make([]byte, size)
	if size > 0 {
		if _, err := unix.Listxattr(full, buf); err != nil {
			return nil, wrapStatErr(err, full)
		}
	}
	return splitNullTerminated(buf), nil
}

func (h HostFs) SupportsNativeSnapshots() bool { return false }
func (h HostFs) SupportsReflink() bool         { return false }

func (h HostFs) Reflink(src, dst string) *fserrors.Error {
	return fserrors.New(fserrors.Unsupported, "backstore: hostfs does not support reflink")
}

func splitNullTerminated(buf []byte) []string {
	var out []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				out = append(out, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

func wrapStatErr(err error, path string) *fserrors.Error {
	if errors.Is(err, os.ErrNotExist) {
		return fserrors.New(fserrors.NotFound, "backstore: %q not found", path)
	}
	if errors.Is(err, os.ErrPermission) {
		return fserrors.New(fserrors.AccessDenied, "backstore: %q permission denied", path)
	}
	return fserrors.Wrap(fserrors.Io, err, "backstore: %q", path)
}

func attrFromFileInfo(fi os.FileInfo) inode.Attributes {
	kind := kindFromFileInfo(fi)
	mode := fi.Mode()
	return inode.Attributes{
		Len:  uint64(fi.Size()),
		Kind: kind,
		Times: inode.Times{
			Mtime: fi.ModTime(),
		},
		User: inode.FileMode{
			Read:  mode&0o400 != 0,
			Write: mode&0o200 != 0,
			Exec:  mode&0o100 != 0,
		},
		Group: inode.FileMode{
			Read:  mode&0o040 != 0,
			Write: mode&0o020 != 0,
			Exec:  mode&0o010 != 0,
		},
		Other: inode.FileMode{
			Read:  mode&0o004 != 0,
			Write: mode&0o002 != 0,
			Exec:  mode&0o001 != 0,
		},
		Nlink: 1,
	}
}

func kindFromFileInfo(fi os.FileInfo) inode.Kind {
	switch {
	case fi.IsDir():
		return inode.Dir
	case fi.Mode()&os.ModeSymlink != 0:
		return inode.Symlink
	default:
		return inode.File
	}
}
