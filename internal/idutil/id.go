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

// Package idutil generates the opaque 128-bit ids used for snapshots and
// branches: sortable by creation time, collision-free within a single
// engine, rendered on the wire as 32 lowercase hex characters.
package idutil

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// ID is a raw 16-byte identifier.
type ID [16]byte

// Zero is the reserved id for the initial default branch.
var Zero ID

// New generates a fresh time-ordered id. It is backed by UUIDv7 (RFC 9562):
// a 48-bit millisecond Unix timestamp followed by random bits, which is
// exactly the "wall-clock milliseconds plus a per-process counter" scheme
// called for, without hand-rolling ULID bit layout ourselves.
func New() ID {
	u := uuid.Must(uuid.NewV7())
	var id ID
	copy(id[:], u[:])
	return id
}

// String renders the id as 32 lowercase hex characters.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the reserved all-zero id.
func (id ID) IsZero() bool {
	return id == Zero
}

// Parse decodes a 32-character lowercase hex string back into an ID.
func Parse(s string) (ID, error) {
	if len(s) != 32 {
		return ID{}, fmt.Errorf("idutil: invalid id length %d, want 32", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("idutil: invalid hex: %w", err)
	}
	var id ID
	copy(id[:], b)
	return id, nil
}
