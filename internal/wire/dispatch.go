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

package wire

import (
	"github.com/blocksense-network/agentfs/internal/core/faultpolicy"
	"github.com/blocksense-network/agentfs/internal/core/fscore"
	"github.com/blocksense-network/agentfs/internal/fserrors"
	"github.com/blocksense-network/agentfs/internal/idutil"
)

// Dispatcher binds one FsCore engine to req/resp processing, shared by the
// FUSE control file (component H) and the interpose daemon (component I).
// The fault-injection policy itself lives on the engine (engine.Faults()),
// so control-plane FaultPolicySet/Clear requests and the namespace
// operations that consult Lookup share the exact same installed policy.
type Dispatcher struct {
	Engine *fscore.Engine
}

// NewDispatcher creates a Dispatcher over engine.
func NewDispatcher(engine *fscore.Engine) *Dispatcher {
	return &Dispatcher{Engine: engine}
}

// Dispatch executes req against the engine and returns the matching
// Response variant, or an Error response on failure. pid identifies the
// calling process for requests that bind to "the caller's own pid" (the
// BranchBind default).
func (d *Dispatcher) Dispatch(req Request, pid uint32) Response {
	switch req.Kind {
	case ReqSnapshotCreate:
		return d.snapshotCreate(req, pid)
	case ReqSnapshotList:
		return d.snapshotList()
	case ReqBranchCreate:
		return d.branchCreate(req)
	case ReqBranchBind:
		return d.branchBind(req, pid)
	case ReqFaultPolicySet:
		return d.faultPolicySet(req)
	case ReqFaultPolicyClear:
		return d.faultPolicyClear()
	case ReqHandshake:
		return Response{Kind: RespHandshakeAck}
	case ReqFdOpen:
		// FdOpen's response carries a kernel file descriptor over SCM_RIGHTS,
		// which only the daemon's connection handler can attach (it owns the
		// socket); internal/daemon intercepts this request kind before it
		// reaches Dispatch. Reaching here means a transport fed it through
		// directly anyway, which is a caller bug, not a data-plane failure.
		return ErrorResponse(fserrors.New(fserrors.Unsupported, "wire: FdOpen must be handled by a transport that can attach a file descriptor"))
	default:
		return ErrorResponse(fserrors.New(fserrors.InvalidArgument, "wire: unknown request kind %d", req.Kind))
	}
}

func (d *Dispatcher) snapshotCreate(req Request, pid uint32) Response {
	branchID := d.Engine.ResolveBranch(pid, nil)
	snap, ferr := d.Engine.SnapshotCreate(branchID, labelOrEmpty(req))
	if ferr != nil {
		return ErrorResponse(ferr)
	}
	return Response{Kind: RespSnapshotCreate, Snapshot: SnapshotInfo{ID: snap.ID.String(), Label: snap.Label}}
}

func labelOrEmpty(req Request) string {
	if req.HasLabel {
		return req.Label
	}
	return ""
}

func (d *Dispatcher) snapshotList() Response {
	snaps := d.Engine.SnapshotList()
	out := make([]SnapshotInfo, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, SnapshotInfo{ID: s.ID.String(), Label: s.Label})
	}
	return Response{Kind: RespSnapshotList, Snapshots: out}
}

func (d *Dispatcher) branchCreate(req Request) Response {
	snapID, err := idutil.Parse(req.SnapshotID)
	if err != nil {
		return ErrorResponse(fserrors.Wrap(fserrors.InvalidArgument, err, "wire: invalid snapshot id %q", req.SnapshotID))
	}
	br, ferr := d.Engine.BranchCreateFromSnapshot(snapID, labelOrEmpty(req))
	if ferr != nil {
		return ErrorResponse(ferr)
	}
	return Response{Kind: RespBranchCreate, Branch: BranchInfo{ID: br.ID.String(), Parent: br.Parent.String(), Label: br.Label}}
}

func (d *Dispatcher) branchBind(req Request, callerPid uint32) Response {
	branchID, err := idutil.Parse(req.BranchID)
	if err != nil {
		return ErrorResponse(fserrors.Wrap(fserrors.InvalidArgument, err, "wire: invalid branch id %q", req.BranchID))
	}
	pid := callerPid
	if req.HasPid {
		pid = req.Pid
	}
	if ferr := d.Engine.BindProcess(branchID, pid); ferr != nil {
		return ErrorResponse(ferr)
	}
	return Response{Kind: RespBranchBind, BranchBindBranch: req.BranchID, BranchBindPid: pid}
}

func (d *Dispatcher) faultPolicySet(req Request) Response {
	status, ferr := d.Engine.Faults().Set(req.PolicyDocument)
	if ferr != nil {
		return ErrorResponse(ferr)
	}
	return Response{Kind: RespFaultPolicyStatus, FaultPolicy: faultStatusToWire(status)}
}

func (d *Dispatcher) faultPolicyClear() Response {
	return Response{Kind: RespFaultPolicyStatus, FaultPolicy: faultStatusToWire(d.Engine.Faults().Clear())}
}

func faultStatusToWire(s faultpolicy.Status) FaultPolicyStatus {
	return FaultPolicyStatus{Enabled: s.Enabled, Active: s.Active, RuleCount: s.RuleCount}
}
