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

// Package workerpool bounds how many requests internal/daemon processes at
// once (each connection still has its own goroutine, which the pool does not
// bound): a priority lane for control-plane
// requests (snapshot/branch/bind calls that must not queue behind a burst of
// data-plane traffic) and a normal lane for everything else. Grounded on
// golang.org/x/sync/semaphore's weighted semaphore, the same primitive
// agentfs-core's Rust worker pool uses via a bounded channel.
package workerpool

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// StaticWorkerPool admits work into one of two fixed-size lanes. Acquire
// blocks until a slot in the requested lane is free.
type StaticWorkerPool struct {
	priority *semaphore.Weighted
	normal   *semaphore.Weighted
}

// NewStaticWorkerPool creates a pool with priorityWorkers slots in the
// priority lane and normalWorkers slots in the normal lane. At least one
// slot total is required.
func NewStaticWorkerPool(priorityWorkers, normalWorkers uint32) (*StaticWorkerPool, error) {
	if priorityWorkers == 0 && normalWorkers == 0 {
		return nil, fmt.Errorf("workerpool: at least one of priorityWorkers or normalWorkers must be non-zero")
	}
	return &StaticWorkerPool{
		priority: semaphore.NewWeighted(int64(priorityWorkers)),
		normal:   semaphore.NewWeighted(int64(normalWorkers)),
	}, nil
}

// AcquirePriority blocks until a priority-lane slot is available or ctx is
// done.
func (p *StaticWorkerPool) AcquirePriority(ctx context.Context) error {
	return p.priority.Acquire(ctx, 1)
}

// ReleasePriority frees a priority-lane slot.
func (p *StaticWorkerPool) ReleasePriority() {
	p.priority.Release(1)
}

// AcquireNormal blocks until a normal-lane slot is available or ctx is done.
func (p *StaticWorkerPool) AcquireNormal(ctx context.Context) error {
	return p.normal.Acquire(ctx, 1)
}

// ReleaseNormal frees a normal-lane slot.
func (p *StaticWorkerPool) ReleaseNormal() {
	p.normal.Release(1)
}

// Stop is a no-op placeholder for future drain/shutdown bookkeeping; callers
// invoke it unconditionally when they're done with the pool.
func (p *StaticWorkerPool) Stop() {}
