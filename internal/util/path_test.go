// Copyright 2023 Google LLC
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

package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetResolvedPathEmptyReturnsEmpty(t *testing.T) {
	got, err := GetResolvedPath("")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestGetResolvedPathAbsoluteIsCleaned(t *testing.T) {
	got, err := GetResolvedPath("/a/b/../c")
	require.NoError(t, err)
	assert.Equal(t, "/a/c", got)
}

func TestGetResolvedPathRelativeUsesParentProcessDirWhenSet(t *testing.T) {
	t.Setenv(AgentFSParentProcessDir, "/parent/dir")
	got, err := GetResolvedPath("mount")
	require.NoError(t, err)
	assert.Equal(t, "/parent/dir/mount", got)
}

func TestGetResolvedPathRelativeFallsBackToCwd(t *testing.T) {
	os.Unsetenv(AgentFSParentProcessDir)
	wd, err := os.Getwd()
	require.NoError(t, err)

	got, err := GetResolvedPath("sub/dir")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "sub/dir"), got)
}

func TestStringifyRendersIndentedJSON(t *testing.T) {
	type point struct {
		X, Y int
	}
	s, err := Stringify(point{X: 1, Y: 2})
	require.NoError(t, err)
	assert.Contains(t, s, "\"X\": 1")
	assert.Contains(t, s, "\"Y\": 2")
}

func TestStringifyErrorsOnUnsupportedType(t *testing.T) {
	_, err := Stringify(make(chan int))
	assert.Error(t, err)
}
