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

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for a single agentfs mount: the
// merge of defaults, a YAML config file, and CLI flags, in that precedence
// order (flags win).
type Config struct {
	AppName string `yaml:"app-name"`

	Debug DebugConfig `yaml:"debug"`

	Core CoreConfig `yaml:"core"`

	Backstore BackstoreConfig `yaml:"backstore"`

	FileSystem FileSystemConfig `yaml:"file-system"`

	Mount MountConfig `yaml:"mount"`

	Daemon DaemonConfig `yaml:"daemon"`

	Logging LoggingConfig `yaml:"logging"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`
}

// CoreConfig tunes the in-process FsCore engine (internal/core).
type CoreConfig struct {
	// Dedup turns on content-hash addressing in the content store. Off by
	// default: most branches are short-lived and the hashing cost isn't
	// worth paying unless a workload is known to share a lot of content.
	Dedup bool `yaml:"dedup"`

	// Atime selects an atime policy. The value is validated and passed to
	// FsCore, but reads do not update inode access times under any policy.
	Atime AtimePolicy `yaml:"atime"`

	// MemoryBudgetBytes bounds resident content-store bytes before the
	// coldest blob is spilled to a temp file. Zero means unbounded.
	MemoryBudgetBytes int64 `yaml:"memory-budget-bytes"`

	// MaxAncestorDepth bounds how far the process binding table walks a
	// pid's parent chain looking for a bound ancestor before falling back
	// to the default branch.
	MaxAncestorDepth int `yaml:"max-ancestor-depth"`
}

// BackstoreConfig selects and configures the lower-layer backstore a
// branch's overlay reads through when a path isn't found in its own upper
// layer.
type BackstoreConfig struct {
	Kind BackstoreKind `yaml:"kind"`

	// Root is the host directory backing Kind=hostfs or the staging area
	// for Kind=nativecow. Unused for inmemory and ramdisk.
	Root ResolvedPath `yaml:"root"`
}

type FileSystemConfig struct {
	FileMode Octal `yaml:"file-mode"`

	DirMode Octal `yaml:"dir-mode"`

	Uid int `yaml:"uid"`

	Gid int `yaml:"gid"`
}

// MountConfig describes the FUSE mount itself.
type MountConfig struct {
	Point ResolvedPath `yaml:"point"`

	ReadOnly bool `yaml:"read-only"`

	AllowOther bool `yaml:"allow-other"`
}

// DaemonConfig addresses the interpose daemon's control socket (component I).
type DaemonConfig struct {
	SocketPath ResolvedPath `yaml:"socket-path"`

	Foreground bool `yaml:"foreground"`
}

func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("app-name", "", "", "The application name of this mount.")

	err = viper.BindPFlag("app-name", flagSet.Lookup("app-name"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Exit when internal invariants are violated.")

	err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_mutex", "", false, "Print debug messages when a mutex is held too long.")

	err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug_mutex"))
	if err != nil {
		return err
	}

	flagSet.BoolP("dedup", "", false, "Turn on content-hash deduplication in the content store.")

	err = viper.BindPFlag("core.dedup", flagSet.Lookup("dedup"))
	if err != nil {
		return err
	}

	flagSet.StringP("atime", "", string(AtimeRelatime), "Atime maintenance policy: relatime, strict, or never.")

	err = viper.BindPFlag("core.atime", flagSet.Lookup("atime"))
	if err != nil {
		return err
	}

	flagSet.Int64P("memory-budget-bytes", "", 0, "Resident content-store budget before spilling to disk. 0 means unbounded.")

	err = viper.BindPFlag("core.memory-budget-bytes", flagSet.Lookup("memory-budget-bytes"))
	if err != nil {
		return err
	}

	flagSet.IntP("max-ancestor-depth", "", 32, "Maximum pid ancestor-chain depth walked when resolving a process's bound branch.")

	err = viper.BindPFlag("core.max-ancestor-depth", flagSet.Lookup("max-ancestor-depth"))
	if err != nil {
		return err
	}

	flagSet.StringP("backstore", "", string(BackstoreInMemory), "Backstore kind: inmemory, hostfs, ramdisk, or nativecow.")

	err = viper.BindPFlag("backstore.kind", flagSet.Lookup("backstore"))
	if err != nil {
		return err
	}

	flagSet.StringP("backstore-root", "", "", "Host directory backing a hostfs or nativecow backstore.")

	err = viper.BindPFlag("backstore.root", flagSet.Lookup("backstore-root"))
	if err != nil {
		return err
	}

	flagSet.IntP("file-mode", "", 0644, "Permissions bits for files, in octal.")

	err = viper.BindPFlag("file-system.file-mode", flagSet.Lookup("file-mode"))
	if err != nil {
		return err
	}

	flagSet.IntP("dir-mode", "", 0755, "Permissions bits for directories, in octal.")

	err = viper.BindPFlag("file-system.dir-mode", flagSet.Lookup("dir-mode"))
	if err != nil {
		return err
	}

	flagSet.IntP("uid", "", -1, "UID owner of all inodes. -1 defers to the mounting process.")

	err = viper.BindPFlag("file-system.uid", flagSet.Lookup("uid"))
	if err != nil {
		return err
	}

	flagSet.IntP("gid", "", -1, "GID owner of all inodes. -1 defers to the mounting process.")

	err = viper.BindPFlag("file-system.gid", flagSet.Lookup("gid"))
	if err != nil {
		return err
	}

	flagSet.BoolP("read-only", "", false, "Mount the filesystem read-only.")

	err = viper.BindPFlag("mount.read-only", flagSet.Lookup("read-only"))
	if err != nil {
		return err
	}

	flagSet.BoolP("allow-other", "", false, "Allow users other than the mounting user to access the filesystem.")

	err = viper.BindPFlag("mount.allow-other", flagSet.Lookup("allow-other"))
	if err != nil {
		return err
	}

	flagSet.StringP("daemon-socket", "", "", "Unix socket path the interpose daemon listens on.")

	err = viper.BindPFlag("daemon.socket-path", flagSet.Lookup("daemon-socket"))
	if err != nil {
		return err
	}

	flagSet.BoolP("foreground", "", false, "Run in the foreground instead of daemonizing.")

	err = viper.BindPFlag("daemon.foreground", flagSet.Lookup("foreground"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", string(InfoLogSeverity), "Logging severity: TRACE, DEBUG, INFO, WARNING, ERROR, or OFF.")

	err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Log line format: text or json.")

	err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to a log file. Empty means stderr.")

	err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file"))
	if err != nil {
		return err
	}

	return nil
}
