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

// Package backstore is the abstraction over what sits below the
// bottommost snapshot in a branch's chain: the origin data a fresh mount or
// a BackstoreHostFs/BackstoreNativeCoW configuration reads through to. A
// Backstore is always read-only from FsCore's point of view — anything that
// changes it goes through a copy-up into the branch's own upper layer
// first, exactly like a read against a lower snapshot.
package backstore

import (
	"github.com/blocksense-network/agentfs/internal/core/inode"
	"github.com/blocksense-network/agentfs/internal/fserrors"
)

// Backstore is the read-only view FsCore falls through to once a lookup or
// read walks off the end of a branch's snapshot chain.
type Backstore interface {
	// Stat returns the attributes of path ("" is the root), or NotFound.
	Stat(path string) (inode.Attributes, *fserrors.Error)

	// ReadAt reads length bytes of path's content at offset, short-reading
	// past EOF like content.Store.Get.
	ReadAt(path string, offset int64, length int) ([]byte, *fserrors.Error)

	// Readdir lists path's immediate children.
	Readdir(path string) ([]inode.DirEntry, *fserrors.Error)

	// Readlink returns path's symlink target.
	Readlink(path string) (string, *fserrors.Error)

	GetXattr(path, name string) ([]byte, *fserrors.Error)
	ListXattr(path string) ([]string, *fserrors.Error)

	// SupportsNativeSnapshots reports whether this backstore can freeze its
	// own state as a point-in-time copy faster than FsCore reading every
	// byte through ReadAt (e.g. a filesystem with native CoW support).
	SupportsNativeSnapshots() bool

	// SupportsReflink reports whether Reflink is implemented and likely to
	// succeed. No control-protocol response carries it.
	SupportsReflink() bool

	// Reflink clone-copies src to dst using the host filesystem's reflink
	// support, for backstores over a CoW-capable filesystem. Returns
	// Unsupported if SupportsReflink is false.
	Reflink(src, dst string) *fserrors.Error
}
