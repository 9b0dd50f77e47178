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
	"os"

	"github.com/blocksense-network/agentfs/internal/fserrors"
	"golang.org/x/sys/unix"
)

// NativeCoW is the BackstoreKind "nativecow": origin data lives on a host
// filesystem that itself supports block-sharing clones (btrfs, XFS reflink,
// APFS), so a SnapshotCreate can hand the provider matrix a real reflink
// instead of FsCore paying for a full read-through-and-copy. Embeds HostFs
// for every read-path method and only overrides the capability hooks.
type NativeCoW struct {
	HostFs
}

var _ Backstore = NativeCoW{}

func (NativeCoW) SupportsNativeSnapshots() bool { return true }
func (NativeCoW) SupportsReflink() bool         { return true }

// Reflink clones src onto dst via the Linux FICLONE ioctl (golang.org/x/sys/unix's
// IoctlFileClone), sharing the underlying extents copy-on-write instead of
// duplicating bytes. Falls back to reporting Unsupported if the host
// filesystem rejects the ioctl (e.g. src and dst live on different
// filesystems, or the filesystem lacks reflink support despite being listed
// as BackstoreNativeCoW in cfg.Config).
func (n NativeCoW) Reflink(src, dst string) *fserrors.Error {
	srcFull, ferr := n.resolve(src)
	if ferr != nil {
		return ferr
	}
	dstFull, ferr := n.resolve(dst)
	if ferr != nil {
		return ferr
	}

	srcFile, err := os.Open(srcFull)
	if err != nil {
		return wrapStatErr(err, srcFull)
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dstFull, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return wrapStatErr(err, dstFull)
	}
	defer dstFile.Close()

	if err := unix.IoctlFileClone(int(dstFile.Fd()), int(srcFile.Fd())); err != nil {
		return fserrors.Wrap(fserrors.Unsupported, err, "backstore: reflink %q -> %q", src, dst)
	}
	return nil
}
