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
	"encoding/json"
	"os"
	"path/filepath"
)

// AgentFSParentProcessDir is the environment variable a daemonized mount
// process uses to recall the working directory of the process that invoked
// it, since daemonizing changes the working directory before re-executing.
const AgentFSParentProcessDir = "AGENTFS_PARENT_PROCESS_DIR"

// GetResolvedPath resolves path to an absolute path. Relative paths are
// resolved against AgentFSParentProcessDir when set (the original caller's
// working directory, for daemonized mounts), falling back to the current
// working directory otherwise.
func GetResolvedPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}

	base := os.Getenv(AgentFSParentProcessDir)
	if base == "" {
		var err error
		base, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}
	return filepath.Clean(filepath.Join(base, path)), nil
}

// Stringify renders v as indented JSON, for logging parsed CLI flags and
// config structs at startup.
func Stringify(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
