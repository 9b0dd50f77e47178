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
	"github.com/blocksense-network/agentfs/internal/core/inode"
	"github.com/blocksense-network/agentfs/internal/fserrors"
)

// InMemory is the BackstoreKind "inmemory": a branch has no origin data at
// all below its snapshot chain, matching cfg.BackstoreInMemory. Every
// lookup that falls through to it is NotFound.
type InMemory struct{}

var _ Backstore = InMemory{}

func (InMemory) Stat(path string) (inode.Attributes, *fserrors.Error) {
	return inode.Attributes{}, fserrors.New(fserrors.NotFound, "backstore: inmemory has no origin data")
}

func (InMemory) ReadAt(path string, offset int64, length int) ([]byte, *fserrors.Error) {
	return nil, fserrors.New(fserrors.NotFound, "backstore: inmemory has no origin data")
}

func (InMemory) Readdir(path string) ([]inode.DirEntry, *fserrors.Error) {
	return nil, fserrors.New(fserrors.NotFound, "backstore: inmemory has no origin data")
}

func (InMemory) Readlink(path string) (string, *fserrors.Error) {
	return "", fserrors.New(fserrors.NotFound, "backstore: inmemory has no origin data")
}

func (InMemory) GetXattr(path, name string) ([]byte, *fserrors.Error) {
	return nil, fserrors.New(fserrors.NotFound, "backstore: inmemory has no origin data")
}

func (InMemory) ListXattr(path string) ([]string, *fserrors.Error) {
	return nil, nil
}

func (InMemory) SupportsNativeSnapshots() bool { return false }
func (InMemory) SupportsReflink() bool         { return false }

func (InMemory) Reflink(src, dst string) *fserrors.Error {
	return fserrors.New(fserrors.Unsupported, "backstore: inmemory does not support reflink")
}
