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

// Package content is the refcounted blob store that backs every inode's
// data: immutable once put, deduplicated only when configured, and spilled
// to an unlinked temp file when it outgrows its memory budget. Modeled on
// the eviction-to-temp-file shape of GCSFuse's lease.FileLeaser.
package content

import (
	"container/list"
	"hash/maphash"
	"io"
	"os"
	"sync"

	"github.com/blocksense-network/agentfs/internal/fserrors"
)

// ID identifies a blob within a single Store. It is never meaningful across
// process boundaries.
type ID uint64

// Stats mirrors agentfs-core's FsStats content-store fields.
type Stats struct {
	BytesInMemory int64
	BytesSpilled  int64
}

type blob struct {
	id       ID
	refs     int
	hash     uint64 // valid only when dedup is enabled
	data     []byte // nil once spilled
	file     *os.File
	size     int64
	lruElem  *list.Element
}

// Store holds every live blob for one FsCore instance.
type Store struct {
	mu sync.Mutex

	dedup             bool
	memoryBudgetBytes int64 // 0 means unbounded

	nextID    ID
	blobs     map[ID]*blob
	byHash    map[uint64]ID // only populated when dedup is enabled
	residents *list.List    // LRU of in-memory blobs, front = most recently used

	memBytes    int64
	spillBytes  int64
	seed        maphash.Seed
}

// New creates an empty Store. memoryBudgetBytes of 0 means no spilling ever
// occurs (everything stays resident).
func New(dedup bool, memoryBudgetBytes int64) *Store {
	return &Store{
		dedup:             dedup,
		memoryBudgetBytes: memoryBudgetBytes,
		blobs:             make(map[ID]*blob),
		byHash:            make(map[uint64]ID),
		residents:         list.New(),
		seed:              maphash.MakeSeed(),
	}
}

// Put stores data and returns its id, with one reference already held. When
// deduplication is enabled and identical content already exists, the
// existing id is returned with its refcount incremented instead of storing
// a second copy.
func (s *Store) Put(data []byte) (ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dedup {
		h := maphash.Bytes(s.seed, data)
		if id, ok := s.byHash[h]; ok {
			b := s.blobs[id]
			b.refs++
			s.touchLocked(b)
			return id, nil
		}
		own := make([]byte, len(data))
		copy(own, data)
		id := s.putNewLocked(own, h)
		s.byHash[h] = id
		return id, nil
	}

	own := make([]byte, len(data))
	copy(own, data)
	return s.putNewLocked(own, 0), nil
}

func (s *Store) putNewLocked(data []byte, hash uint64) ID {
	s.nextID++
	id := s.nextID
	b := &blob{id: id, refs: 1, hash: hash, data: data, size: int64(len(data))}
	s.blobs[id] = b
	b.lruElem = s.residents.PushFront(b)
	s.memBytes += b.size
	s.evictIfOverBudgetLocked()
	return id
}

// Get reads length bytes at offset from the blob identified by id. A read
// past the end of the blob returns fewer bytes than requested, with no
// error, matching io.Reader-at-EOF conventions.
func (s *Store) Get(id ID, offset int64, length int) ([]byte, error) {
	s.mu.Lock()
	b, ok := s.blobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, fserrors.New(fserrors.NotFound, "content: unknown id %d", id)
	}
	s.touchLocked(b)

	if b.data != nil {
		data := b.data
		s.mu.Unlock()
		if offset >= int64(len(data)) {
			return nil, nil
		}
		end := offset + int64(length)
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		out := make([]byte, end-offset)
		copy(out, data[offset:end])
		return out, nil
	}

	f := b.file
	s.mu.Unlock()

	out := make([]byte, length)
	n, err := f.ReadAt(out, offset)
	if err != nil && err != io.EOF {
		return nil, fserrors.Wrap(fserrors.Io, err, "content: reading spilled blob %d", id)
	}
	return out[:n], nil
}

// Size returns the total byte length of the blob identified by id, for a
// caller (like a named-stream read) that has no separately tracked length
// of its own to pass to Get.
func (s *Store) Size(id ID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[id]
	if !ok {
		return 0, fserrors.New(fserrors.NotFound, "content: unknown id %d", id)
	}
	return b.size, nil
}

// Dup increments id's refcount, for a new inode reference sharing the same
// content (e.g. a snapshot's copy-up of an unmodified inode).
func (s *Store) Dup(id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[id]
	if !ok {
		return fserrors.New(fserrors.NotFound, "content: unknown id %d", id)
	}
	b.refs++
	return nil
}

// Drop decrements id's refcount, freeing the blob (and its spill file, if
// any) once it reaches zero.
func (s *Store) Drop(id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[id]
	if !ok {
		return fserrors.New(fserrors.NotFound, "content: unknown id %d", id)
	}
	b.refs--
	if b.refs > 0 {
		return nil
	}

	delete(s.blobs, id)
	if s.dedup {
		delete(s.byHash, b.hash)
	}
	if b.data != nil {
		s.residents.Remove(b.lruElem)
		s.memBytes -= b.size
	} else {
		s.spillBytes -= b.size
		b.file.Close()
		os.Remove(b.file.Name())
	}
	return nil
}

// Stat reports current memory/spill usage. No control-protocol request
// returns it.
func (s *Store) Stat() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{BytesInMemory: s.memBytes, BytesSpilled: s.spillBytes}
}

func (s *Store) touchLocked(b *blob) {
	if b.lruElem != nil {
		s.residents.MoveToFront(b.lruElem)
	}
}

// evictIfOverBudgetLocked spills the coldest resident blob(s) to an unlinked
// temp file until the store is back under budget, or there's nothing left
// to spill.
func (s *Store) evictIfOverBudgetLocked() {
	if s.memoryBudgetBytes <= 0 {
		return
	}
	for s.memBytes > s.memoryBudgetBytes {
		elem := s.residents.Back()
		if elem == nil {
			return
		}
		b := elem.Value.(*blob)
		if err := s.spillLocked(b); err != nil {
			// Spilling failed (e.g. disk full); leave the blob resident
			// rather than losing data. The failure is not reported: Put
			// still succeeds and the store stays over budget.
			return
		}
	}
}

func (s *Store) spillLocked(b *blob) error {
	f, err := os.CreateTemp("", "agentfs-blob-*")
	if err != nil {
		return fserrors.Wrap(fserrors.NoSpace, err, "content: creating spill file")
	}
	if _, err := f.Write(b.data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fserrors.Wrap(fserrors.NoSpace, err, "content: spilling blob %d", b.id)
	}
	// Unlink immediately: the fd keeps the data reachable until Drop closes
	// it, and the space is reclaimed automatically even on a crash.
	os.Remove(f.Name())

	s.residents.Remove(b.lruElem)
	s.memBytes -= b.size
	b.lruElem = nil
	b.data = nil
	b.file = f
	s.spillBytes += b.size
	return nil
}
