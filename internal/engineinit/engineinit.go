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

// Package engineinit builds an FsCore engine from a resolved cfg.Config,
// shared by cmd/agentfs (which also mounts FUSE) and cmd/agentfs-shimd
// (which only serves the interpose socket), so the two entry points can't
// drift on how a backstore or the optional metrics/events integrations get
// wired up.
package engineinit

import (
	"fmt"

	"github.com/blocksense-network/agentfs/cfg"
	"github.com/blocksense-network/agentfs/internal/backstore"
	"github.com/blocksense-network/agentfs/internal/core/fscore"
	"github.com/blocksense-network/agentfs/internal/eventbus"
	"github.com/blocksense-network/agentfs/internal/monitor"
	"github.com/blocksense-network/agentfs/internal/perms"
)

// Built bundles the engine with the optional integrations its Options
// referenced, so a caller that wants to expose /metrics or subscribe to
// eventbus.Subscriber doesn't need to reconstruct them.
type Built struct {
	Engine  *fscore.Engine
	Metrics *monitor.Registry
	Events  *eventbus.Bus
}

// NewBackstore builds the configured Backstore implementation, or nil for
// BackstoreInMemory (Engine treats a nil backstore as "no lower layer").
func NewBackstore(c *cfg.BackstoreConfig) (backstore.Backstore, error) {
	switch c.Kind {
	case cfg.BackstoreInMemory:
		return nil, nil
	case cfg.BackstoreHostFs:
		if c.Root == "" {
			return nil, fmt.Errorf("backstore kind %q requires --backstore-root", c.Kind)
		}
		return backstore.HostFs{Root: string(c.Root)}, nil
	case cfg.BackstoreRamDisk:
		return backstore.NewRamDisk(), nil
	case cfg.BackstoreNativeCoW:
		if c.Root == "" {
			return nil, fmt.Errorf("backstore kind %q requires --backstore-root", c.Kind)
		}
		return backstore.NativeCoW{HostFs: backstore.HostFs{Root: string(c.Root)}}, nil
	default:
		return nil, fmt.Errorf("unknown backstore kind %q", c.Kind)
	}
}

// Build assembles an FsCore engine from c, wiring a fresh prometheus
// registry and event bus in as the Engine's optional Metrics/Events
// integrations.
func Build(c *cfg.Config) (*Built, error) {
	back, err := NewBackstore(&c.Backstore)
	if err != nil {
		return nil, err
	}

	metrics := monitor.New()
	bus := eventbus.New()

	uid, gid, err := perms.MyUserAndGroup()
	if err != nil {
		return nil, fmt.Errorf("resolving process uid/gid: %w", err)
	}
	if c.FileSystem.Uid >= 0 {
		uid = uint32(c.FileSystem.Uid)
	}
	if c.FileSystem.Gid >= 0 {
		gid = uint32(c.FileSystem.Gid)
	}

	engine := fscore.New(fscore.Options{
		Dedup:             c.Core.Dedup,
		MemoryBudgetBytes: c.Core.MemoryBudgetBytes,
		MaxAncestorDepth:  c.Core.MaxAncestorDepth,
		Atime:             c.Core.Atime,
		Uid:               uid,
		Gid:               gid,
		FileMode:          uint32(c.FileSystem.FileMode),
		DirMode:           uint32(c.FileSystem.DirMode),
		Backstore:         back,
		Metrics:           metrics,
		Events:            bus,
	})
	return &Built{Engine: engine, Metrics: metrics, Events: bus}, nil
}
