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

package snapshot

import (
	"testing"
	"time"

	"github.com/blocksense-network/agentfs/internal/idutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	s := NewStore()
	snap := s.Create("first", idutil.Zero, false, time.Now(), nil)

	got := s.Get(snap.ID)
	require.NotNil(t, got)
	assert.Equal(t, "first", got.Label)
	assert.False(t, got.HasParent)
}

func TestMustGetUnknownIsNotFound(t *testing.T) {
	s := NewStore()
	_, ferr := s.MustGet(idutil.New())
	require.NotNil(t, ferr)
}

func TestListIsInCreationOrder(t *testing.T) {
	s := NewStore()
	a := s.Create("a", idutil.Zero, false, time.Now(), nil)
	b := s.Create("b", a.ID, true, time.Now(), nil)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
}

func TestChainWalksNearestFirst(t *testing.T) {
	s := NewStore()
	a := s.Create("a", idutil.Zero, false, time.Now(), nil)
	b := s.Create("b", a.ID, true, time.Now(), nil)
	c := s.Create("c", b.ID, true, time.Now(), nil)

	chain := s.Chain(c.ID, true)
	require.Len(t, chain, 3)
	assert.Equal(t, c.ID, chain[0].ID)
	assert.Equal(t, b.ID, chain[1].ID)
	assert.Equal(t, a.ID, chain[2].ID)
}

func TestChainEmptyWhenNoParent(t *testing.T) {
	s := NewStore()
	chain := s.Chain(idutil.Zero, false)
	assert.Empty(t, chain)
}
