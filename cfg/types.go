// Copyright 2024 Google LLC
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
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/blocksense-network/agentfs/internal/util"
)

// Octal is the datatype for params such as file-mode and dir-mode that
// accept a base-8 value.
type Octal int

func (o *Octal) UnmarshalText(text []byte) error {
	v, err := strconv.ParseInt(string(text), 8, 32)
	if err != nil {
		return err
	}
	*o = Octal(v)
	return nil
}

func (o Octal) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(o), 8)), nil
}

func (o Octal) String() string {
	return fmt.Sprintf("%o", int64(o))
}

// LogSeverity represents the logging severity: one of TRACE, DEBUG, INFO,
// WARNING, ERROR, OFF.
type LogSeverity string

const (
	TraceLogSeverity   LogSeverity = "TRACE"
	DebugLogSeverity   LogSeverity = "DEBUG"
	InfoLogSeverity    LogSeverity = "INFO"
	WarningLogSeverity LogSeverity = "WARNING"
	ErrorLogSeverity   LogSeverity = "ERROR"
	OffLogSeverity     LogSeverity = "OFF"
)

var severityRanking = map[LogSeverity]int{
	TraceLogSeverity:   0,
	DebugLogSeverity:   1,
	InfoLogSeverity:    2,
	WarningLogSeverity: 3,
	ErrorLogSeverity:   4,
	OffLogSeverity:     5,
}

func (l *LogSeverity) UnmarshalText(text []byte) error {
	level := LogSeverity(strings.ToUpper(string(text)))
	if _, ok := severityRanking[level]; !ok {
		return fmt.Errorf("invalid log severity level: %s. Must be one of [TRACE, DEBUG, INFO, WARNING, ERROR, OFF]", text)
	}
	*l = level
	return nil
}

// Rank returns the severity's position in the ordering (lower = more
// verbose). Returns -1 for an unknown severity.
func (l LogSeverity) Rank() int {
	if rank, ok := severityRanking[l]; ok {
		return rank
	}
	return -1
}

// ResolvedPath is an absolute, canonicalized filesystem path, resolved
// relative to the mounting process's working directory at parse time.
type ResolvedPath string

func (p *ResolvedPath) UnmarshalText(text []byte) error {
	path, err := util.GetResolvedPath(string(text))
	if err != nil {
		return err
	}
	*p = ResolvedPath(path)
	return nil
}

// BackstoreKind selects which Backstore variant a branch's overlay mode
// reads through. See internal/backstore.
type BackstoreKind string

const (
	BackstoreInMemory  BackstoreKind = "inmemory"
	BackstoreHostFs    BackstoreKind = "hostfs"
	BackstoreRamDisk   BackstoreKind = "ramdisk"
	BackstoreNativeCoW BackstoreKind = "nativecow"
)

func (k *BackstoreKind) UnmarshalText(text []byte) error {
	kind := BackstoreKind(strings.ToLower(string(text)))
	valid := []BackstoreKind{BackstoreInMemory, BackstoreHostFs, BackstoreRamDisk, BackstoreNativeCoW}
	if !slices.Contains(valid, kind) {
		return fmt.Errorf("invalid backstore kind: %s. Must be one of %v", text, valid)
	}
	*k = kind
	return nil
}

// AtimePolicy names an atime policy. FsCore accepts and stores it; reads do
// not update atime under any of the three values.
type AtimePolicy string

const (
	AtimeRelatime AtimePolicy = "relatime"
	AtimeStrict   AtimePolicy = "strict"
	AtimeNever    AtimePolicy = "never"
)

func (a *AtimePolicy) UnmarshalText(text []byte) error {
	policy := AtimePolicy(strings.ToLower(string(text)))
	valid := []AtimePolicy{AtimeRelatime, AtimeStrict, AtimeNever}
	if !slices.Contains(valid, policy) {
		return fmt.Errorf("invalid atime policy: %s. Must be one of %v", text, valid)
	}
	*a = policy
	return nil
}

// LoggingConfig configures internal/logger.
type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`

	// Format is "text" or "json".
	Format string `yaml:"format"`

	// FilePath is the log file path. Empty means stderr.
	FilePath ResolvedPath `yaml:"file-path"`

	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`
}

// LogRotateLoggingConfig mirrors gopkg.in/natefinch/lumberjack.v2's Logger
// fields, one level removed so the YAML schema doesn't leak the library's
// own tag names.
type LogRotateLoggingConfig struct {
	MaxFileSizeMb int64 `yaml:"max-file-size-mb"`

	BackupFileCount int `yaml:"backup-file-count"`

	Compress bool `yaml:"compress"`
}
