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

// Package wire is the control protocol: a compact, SSZ-style
// tagged-union binary schema (variable-length fields prefixed by a u32
// little-endian length, unions tagged by a one-byte discriminant), plus
// [u32 length][payload] framing. The interpose daemon's Unix socket
// (component I) uses EncodeSocketFrame/ReadSocketFrame; the FUSE control
// file (component H) exchanges unframed payloads, and EncodeFrame/DecodeFrame
// are not used by either transport.
package wire

// RequestKind is the discriminant byte of a Request union.
type RequestKind byte

const (
	ReqSnapshotCreate RequestKind = iota
	ReqSnapshotList
	ReqBranchCreate
	ReqBranchBind
	ReqFaultPolicySet
	ReqFaultPolicyClear
	ReqHandshake
	ReqFdOpen
)

// Request is every control-plane request variant, flattened into one
// struct with Kind selecting which fields are
// meaningful — the same shape SSZ's "union via discriminant" encodes to on
// the wire, just expressed as a Go struct instead of an interface so the
// codec doesn't need a type switch on encode.
type Request struct {
	Kind RequestKind

	// SnapshotCreate, BranchCreate: optional human-readable label.
	Label   string
	HasLabel bool

	// BranchCreate: snapshot id to fork from, 32 lowercase hex chars.
	SnapshotID string

	// BranchBind: branch id, and an optional pid (absent means "the
	// caller's own pid", the BindProcessToBranch default).
	BranchID string
	Pid      uint32
	HasPid   bool

	// FaultPolicySet: the raw policy document bytes (parsed as YAML).
	PolicyDocument []byte

	// Handshake: protocol version, shim identity, process identity
	Handshake HandshakeInfo

	// FdOpen: the interposed open()/openat()/fopen() data-plane op
	// path relative to the interposed root, and the
	// caller's raw open flags (O_RDONLY/O_WRONLY/O_CREAT/... bitmask, as the
	// shim observed them).
	FdOpenPath  string
	FdOpenFlags uint32
}

// HandshakeInfo is the interpose shim's first message to the daemon.
type HandshakeInfo struct {
	ProtocolVersion uint32
	ShimName        string
	ShimVersion     string
	Features        []string
	Pid, Ppid       uint32
	Uid, Gid        uint32
	ExePath         string
}

// ResponseKind is the discriminant byte of a Response union.
type ResponseKind byte

const (
	RespSnapshotCreate ResponseKind = iota
	RespSnapshotList
	RespBranchCreate
	RespBranchBind
	RespFaultPolicyStatus
	RespHandshakeAck
	RespError
	RespFdOpen
)

// SnapshotInfo mirrors agentfs-control-cli's SnapshotInfo{id, name}.
type SnapshotInfo struct {
	ID    string
	Label string
}

// BranchInfo mirrors agentfs-core's BranchInfo{id, parent, name}.
type BranchInfo struct {
	ID     string
	Parent string
	Label  string
}

// FaultPolicyStatus is FaultPolicySet/FaultPolicyClear's shared response
// shape.
type FaultPolicyStatus struct {
	Enabled   bool
	Active    bool
	RuleCount uint32
}

// ErrorPayload is the SSZ Error{message, code?} variant for every failed
// request.
type ErrorPayload struct {
	Message string
	Code    int32
	HasCode bool
}

// FdOpenInfo is FdOpen's SSZ payload: the actual kernel file descriptor
// travels out-of-band over SCM_RIGHTS ancillary data,
// so this just confirms what the shim is about to get a descriptor onto.
type FdOpenInfo struct {
	Size  uint64
	IsDir bool
}

// Response is every response variant, flattened like Request.
type Response struct {
	Kind ResponseKind

	Snapshot  SnapshotInfo
	Snapshots []SnapshotInfo

	Branch BranchInfo

	BranchBindBranch string
	BranchBindPid    uint32

	FaultPolicy FaultPolicyStatus

	FdOpen FdOpenInfo

	Error ErrorPayload
}
