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

package binding

import (
	"testing"

	"github.com/blocksense-network/agentfs/internal/idutil"
	"github.com/stretchr/testify/assert"
)

func TestResolveUnboundPidReturnsDefault(t *testing.T) {
	def := idutil.New()
	tbl := New(def, 32)
	assert.Equal(t, def, tbl.Resolve(123, nil))
}

func TestResolveUsesDirectBinding(t *testing.T) {
	def := idutil.New()
	branch := idutil.New()
	tbl := New(def, 32)
	tbl.Bind(123, branch)
	assert.Equal(t, branch, tbl.Resolve(123, nil))
}

func TestResolveFallsBackToBoundAncestor(t *testing.T) {
	def := idutil.New()
	branch := idutil.New()
	tbl := New(def, 32)
	tbl.Bind(100, branch)
	assert.Equal(t, branch, tbl.Resolve(200, []uint32{101, 100}))
}

func TestResolveRespectsMaxAncestorDepth(t *testing.T) {
	def := idutil.New()
	branch := idutil.New()
	tbl := New(def, 1)
	tbl.Bind(100, branch)
	// 100 is the second ancestor, beyond depth 1.
	assert.Equal(t, def, tbl.Resolve(200, []uint32{101, 100}))
}

func TestRebindTakesEffectImmediately(t *testing.T) {
	def := idutil.New()
	b1 := idutil.New()
	b2 := idutil.New()
	tbl := New(def, 32)
	tbl.Bind(1, b1)
	assert.Equal(t, b1, tbl.Resolve(1, nil))

	tbl.Bind(1, b2)
	assert.Equal(t, b2, tbl.Resolve(1, nil))
}

func TestUnbindFallsBackToDefault(t *testing.T) {
	def := idutil.New()
	b1 := idutil.New()
	tbl := New(def, 32)
	tbl.Bind(1, b1)
	tbl.Unbind(1)
	assert.Equal(t, def, tbl.Resolve(1, nil))
}
