// Copyright 2024 Google Inc. All Rights Reserved.
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

package cfg

// GetDefaultLoggingConfig returns the default configuration that is to be used
// during application startup, before a config file or flags are parsed.
func GetDefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Severity: InfoLogSeverity,
		Format:   "text",
		LogRotate: LogRotateLoggingConfig{
			BackupFileCount: 10,
			Compress:        true,
			MaxFileSizeMb:   512,
		},
	}
}

// GetDefaultCoreConfig returns the defaults for the in-process engine:
// content dedup off by default, atime policy set to relatime (reads do not
// update atime under any policy).
func GetDefaultCoreConfig() CoreConfig {
	return CoreConfig{
		Dedup:             false,
		Atime:             AtimeRelatime,
		MemoryBudgetBytes: DefaultMemoryBudgetBytes,
		MaxAncestorDepth:  DefaultMaxAncestorDepth,
	}
}

// GetDefaultFileSystemConfig returns the default inode ownership/mode
// settings: -1 for uid/gid defers to the mounting process's own identity.
func GetDefaultFileSystemConfig() FileSystemConfig {
	return FileSystemConfig{
		FileMode: DefaultFileModeOctal,
		DirMode:  DefaultDirModeOctal,
		Uid:      -1,
		Gid:      -1,
	}
}

// GetDefaultBackstoreConfig returns the default backstore selection: an
// in-memory lower layer, which needs no root path and is always available.
func GetDefaultBackstoreConfig() BackstoreConfig {
	return BackstoreConfig{
		Kind: BackstoreInMemory,
	}
}

// GetDefaultConfig assembles the full default Config, before any config file
// or CLI flags are applied on top.
func GetDefaultConfig() Config {
	return Config{
		Debug:      DebugConfig{},
		Core:       GetDefaultCoreConfig(),
		Backstore:  GetDefaultBackstoreConfig(),
		FileSystem: GetDefaultFileSystemConfig(),
		Mount:      MountConfig{},
		Daemon:     DaemonConfig{},
		Logging:    GetDefaultLoggingConfig(),
	}
}
