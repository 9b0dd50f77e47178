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
	"testing"

	"github.com/blocksense-network/agentfs/internal/core/fscore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestEncodeDecodeIsIdentity(t *testing.T) {
	cases := []Request{
		{Kind: ReqSnapshotCreate, HasLabel: true, Label: "t1"},
		{Kind: ReqSnapshotCreate},
		{Kind: ReqSnapshotList},
		{Kind: ReqBranchCreate, SnapshotID: "00000000000000000000000000000000", HasLabel: true, Label: "feature"},
		{Kind: ReqBranchBind, BranchID: "abc", HasPid: true, Pid: 42},
		{Kind: ReqBranchBind, BranchID: "abc"},
		{Kind: ReqFaultPolicySet, PolicyDocument: []byte("enabled: true\n")},
		{Kind: ReqFaultPolicyClear},
		{Kind: ReqHandshake, Handshake: HandshakeInfo{
			ProtocolVersion: 1, ShimName: "agentfs-shim", ShimVersion: "0.1",
			Features: []string{"fdopen", "rename"}, Pid: 10, Ppid: 1, Uid: 1000, Gid: 1000, ExePath: "/bin/ls",
		}},
		{Kind: ReqFdOpen, FdOpenPath: "/hello.txt", FdOpenFlags: 0},
	}
	for _, want := range cases {
		encoded := EncodeRequest(want)
		got, err := DecodeRequest(encoded)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestResponseEncodeDecodeIsIdentity(t *testing.T) {
	cases := []Response{
		{Kind: RespSnapshotCreate, Snapshot: SnapshotInfo{ID: "abc", Label: "t1"}},
		{Kind: RespSnapshotList, Snapshots: []SnapshotInfo{{ID: "a", Label: "x"}, {ID: "b"}}},
		{Kind: RespBranchCreate, Branch: BranchInfo{ID: "b1", Parent: "s1", Label: "feature"}},
		{Kind: RespBranchBind, BranchBindBranch: "b1", BranchBindPid: 7},
		{Kind: RespFaultPolicyStatus, FaultPolicy: FaultPolicyStatus{Enabled: true, Active: true, RuleCount: 3}},
		{Kind: RespHandshakeAck},
		{Kind: RespFdOpen, FdOpen: FdOpenInfo{Size: 10, IsDir: false}},
		{Kind: RespError, Error: ErrorPayload{Message: "boom", Code: 2, HasCode: true}},
	}
	for _, want := range cases {
		encoded := EncodeResponse(want)
		got, err := DecodeResponse(encoded)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestFrameRoundtrip(t *testing.T) {
	payload := EncodeRequest(Request{Kind: ReqSnapshotCreate, HasLabel: true, Label: "t1"})
	frame, err := EncodeFrame(payload)
	require.NoError(t, err)
	require.Len(t, frame, ControlBufferSize)

	got, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFrameRejectsOversizedPayload(t *testing.T) {
	_, err := EncodeFrame(make([]byte, ControlBufferSize))
	assert.Error(t, err)
}

func TestDispatchSnapshotCreateThenList(t *testing.T) {
	engine := fscore.New(fscore.Options{FileMode: 0644, DirMode: 0755})
	d := NewDispatcher(engine)

	resp := d.Dispatch(Request{Kind: ReqSnapshotCreate, HasLabel: true, Label: "t1"}, 0)
	require.Equal(t, RespSnapshotCreate, resp.Kind)
	assert.Equal(t, "t1", resp.Snapshot.Label)
	assert.Len(t, resp.Snapshot.ID, 32)

	resp = d.Dispatch(Request{Kind: ReqSnapshotList}, 0)
	require.Equal(t, RespSnapshotList, resp.Kind)
	require.Len(t, resp.Snapshots, 1)
	assert.Equal(t, "t1", resp.Snapshots[0].Label)
}

func TestDispatchBranchCreateAndBind(t *testing.T) {
	engine := fscore.New(fscore.Options{FileMode: 0644, DirMode: 0755})
	d := NewDispatcher(engine)

	snapResp := d.Dispatch(Request{Kind: ReqSnapshotCreate}, 0)
	require.Equal(t, RespSnapshotCreate, snapResp.Kind)

	branchResp := d.Dispatch(Request{Kind: ReqBranchCreate, SnapshotID: snapResp.Snapshot.ID, HasLabel: true, Label: "feature"}, 0)
	require.Equal(t, RespBranchCreate, branchResp.Kind)
	assert.Equal(t, "feature", branchResp.Branch.Label)

	bindResp := d.Dispatch(Request{Kind: ReqBranchBind, BranchID: branchResp.Branch.ID, HasPid: true, Pid: 99}, 0)
	require.Equal(t, RespBranchBind, bindResp.Kind)
	assert.EqualValues(t, 99, bindResp.BranchBindPid)
}

func TestDispatchFaultPolicySetAndClear(t *testing.T) {
	engine := fscore.New(fscore.Options{FileMode: 0644, DirMode: 0755})
	d := NewDispatcher(engine)

	setResp := d.Dispatch(Request{Kind: ReqFaultPolicySet, PolicyDocument: []byte("enabled: true\nrules:\n  - op: open\n    path: /x\n    error: Io\n    count: 1\n")}, 0)
	require.Equal(t, RespFaultPolicyStatus, setResp.Kind)
	assert.True(t, setResp.FaultPolicy.Enabled)
	assert.EqualValues(t, 1, setResp.FaultPolicy.RuleCount)

	clearResp := d.Dispatch(Request{Kind: ReqFaultPolicyClear}, 0)
	require.Equal(t, RespFaultPolicyStatus, clearResp.Kind)
	assert.False(t, clearResp.FaultPolicy.Enabled)
}

func TestDispatchUnknownBranchIdReturnsError(t *testing.T) {
	engine := fscore.New(fscore.Options{FileMode: 0644, DirMode: 0755})
	d := NewDispatcher(engine)

	resp := d.Dispatch(Request{Kind: ReqBranchBind, BranchID: "not-32-hex-chars"}, 0)
	require.Equal(t, RespError, resp.Kind)
	assert.NotZero(t, resp.Error.Code)
}
