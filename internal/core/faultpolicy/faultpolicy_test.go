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

package faultpolicy

import (
	"testing"

	"github.com/blocksense-network/agentfs/internal/fserrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupNilWhenNoPolicyInstalled(t *testing.T) {
	s := NewStore()
	assert.Nil(t, s.Lookup("create", "/a.txt"))
}

func TestLookupNilWhenPolicyDisabled(t *testing.T) {
	s := NewStore()
	_, ferr := s.Set([]byte(`enabled: false
rules:
  - op: create
    path: /a.txt
    error: NoSpace
    count: 5
`))
	require.Nil(t, ferr)
	assert.Nil(t, s.Lookup("create", "/a.txt"))
}

func TestLookupMatchesOpAndPathPrefix(t *testing.T) {
	s := NewStore()
	status, ferr := s.Set([]byte(`enabled: true
rules:
  - op: create
    path: /a.txt
    error: NoSpace
    count: 2
`))
	require.Nil(t, ferr)
	assert.Equal(t, Status{Enabled: true, Active: true, RuleCount: 1}, status)

	ferr = s.Lookup("create", "/a.txt")
	require.NotNil(t, ferr)
	assert.Equal(t, fserrors.NoSpace, ferr.Kind)

	assert.Nil(t, s.Lookup("unlink", "/a.txt"), "different op should not match")
	assert.Nil(t, s.Lookup("create", "/b.txt"), "different path should not match")
}

func TestLookupDecrementsCountAndExpires(t *testing.T) {
	s := NewStore()
	_, ferr := s.Set([]byte(`enabled: true
rules:
  - op: unlink
    path: /
    error: Busy
    count: 1
`))
	require.Nil(t, ferr)

	require.NotNil(t, s.Lookup("unlink", "/dir/file"))
	assert.Nil(t, s.Lookup("unlink", "/dir/file"), "rule has no remaining count")
}

func TestClearRemovesInstalledPolicy(t *testing.T) {
	s := NewStore()
	_, ferr := s.Set([]byte(`enabled: true
rules:
  - op: create
    path: /
    error: Io
    count: 5
`))
	require.Nil(t, ferr)
	status := s.Clear()
	assert.Equal(t, Status{}, status)
	assert.Nil(t, s.Lookup("create", "/anything"))
}
