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
	"encoding/binary"
	"fmt"
	"io"
)

// encoder accumulates an SSZ-style payload: fixed-width fields written
// in-place, variable-length fields (strings, byte vectors) prefixed by a
// u32 little-endian length, an SSZ-style variable-length-vector schema.
type encoder struct {
	buf []byte
}

func (e *encoder) byte(b byte)     { e.buf = append(e.buf, b) }
func (e *encoder) bool(b bool)     { if b { e.byte(1) } else { e.byte(0) } }
func (e *encoder) uint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}
func (e *encoder) bytes(b []byte) {
	e.uint32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}
func (e *encoder) str(s string) { e.bytes([]byte(s)) }

func (e *encoder) optStr(has bool, s string) {
	e.bool(has)
	if has {
		e.str(s)
	}
}

func (e *encoder) strSlice(ss []string) {
	e.uint32(uint32(len(ss)))
	for _, s := range ss {
		e.str(s)
	}
}

// decoder walks an encoded payload in order, the mirror image of encoder.
type decoder struct {
	buf []byte
	off int
}

func (d *decoder) byte() (byte, error) {
	if d.off+1 > len(d.buf) {
		return 0, fmt.Errorf("wire: truncated payload reading byte at offset %d", d.off)
	}
	b := d.buf[d.off]
	d.off++
	return b, nil
}

func (d *decoder) boolean() (bool, error) {
	b, err := d.byte()
	return b != 0, err
}

func (d *decoder) uint32() (uint32, error) {
	if d.off+4 > len(d.buf) {
		return 0, fmt.Errorf("wire: truncated payload reading uint32 at offset %d", d.off)
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off : d.off+4])
	d.off += 4
	return v, nil
}

func (d *decoder) bytes() ([]byte, error) {
	n, err := d.uint32()
	if err != nil {
		return nil, err
	}
	if d.off+int(n) > len(d.buf) {
		return nil, fmt.Errorf("wire: truncated payload reading %d bytes at offset %d", n, d.off)
	}
	out := d.buf[d.off : d.off+int(n)]
	d.off += int(n)
	return out, nil
}

func (d *decoder) str() (string, error) {
	b, err := d.bytes()
	return string(b), err
}

func (d *decoder) optStr() (bool, string, error) {
	has, err := d.boolean()
	if err != nil || !has {
		return has, "", err
	}
	s, err := d.str()
	return true, s, err
}

func (d *decoder) strSlice() ([]string, error) {
	n, err := d.uint32()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := d.str()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// EncodeRequest serializes req into its wire representation, discriminant
// byte first.
func EncodeRequest(req Request) []byte {
	e := &encoder{}
	e.byte(byte(req.Kind))
	switch req.Kind {
	case ReqSnapshotCreate:
		e.optStr(req.HasLabel, req.Label)
	case ReqSnapshotList:
		// no fields
	case ReqBranchCreate:
		e.str(req.SnapshotID)
		e.optStr(req.HasLabel, req.Label)
	case ReqBranchBind:
		e.str(req.BranchID)
		e.bool(req.HasPid)
		if req.HasPid {
			e.uint32(req.Pid)
		}
	case ReqFaultPolicySet:
		e.bytes(req.PolicyDocument)
	case ReqFaultPolicyClear:
		// no fields
	case ReqHandshake:
		h := req.Handshake
		e.uint32(h.ProtocolVersion)
		e.str(h.ShimName)
		e.str(h.ShimVersion)
		e.strSlice(h.Features)
		e.uint32(h.Pid)
		e.uint32(h.Ppid)
		e.uint32(h.Uid)
		e.uint32(h.Gid)
		e.str(h.ExePath)
	case ReqFdOpen:
		e.str(req.FdOpenPath)
		e.uint32(req.FdOpenFlags)
	}
	return e.buf
}

// DecodeRequest parses a wire-format request payload (no framing).
func DecodeRequest(payload []byte) (Request, error) {
	d := &decoder{buf: payload}
	kindByte, err := d.byte()
	if err != nil {
		return Request{}, err
	}
	req := Request{Kind: RequestKind(kindByte)}
	switch req.Kind {
	case ReqSnapshotCreate:
		req.HasLabel, req.Label, err = d.optStr()
	case ReqSnapshotList:
	case ReqBranchCreate:
		req.SnapshotID, err = d.str()
		if err == nil {
			req.HasLabel, req.Label, err = d.optStr()
		}
	case ReqBranchBind:
		req.BranchID, err = d.str()
		if err == nil {
			req.HasPid, err = d.boolean()
		}
		if err == nil && req.HasPid {
			req.Pid, err = d.uint32()
		}
	case ReqFaultPolicySet:
		req.PolicyDocument, err = d.bytes()
	case ReqFaultPolicyClear:
	case ReqHandshake:
		h := &req.Handshake
		if h.ProtocolVersion, err = d.uint32(); err != nil {
			break
		}
		if h.ShimName, err = d.str(); err != nil {
			break
		}
		if h.ShimVersion, err = d.str(); err != nil {
			break
		}
		if h.Features, err = d.strSlice(); err != nil {
			break
		}
		if h.Pid, err = d.uint32(); err != nil {
			break
		}
		if h.Ppid, err = d.uint32(); err != nil {
			break
		}
		if h.Uid, err = d.uint32(); err != nil {
			break
		}
		if h.Gid, err = d.uint32(); err != nil {
			break
		}
		h.ExePath, err = d.str()
	case ReqFdOpen:
		req.FdOpenPath, err = d.str()
		if err == nil {
			req.FdOpenFlags, err = d.uint32()
		}
	default:
		return Request{}, fmt.Errorf("wire: unknown request discriminant %d", kindByte)
	}
	return req, err
}

func (e *encoder) snapshotInfo(s SnapshotInfo) {
	e.str(s.ID)
	e.str(s.Label)
}

func (d *decoder) snapshotInfo() (SnapshotInfo, error) {
	id, err := d.str()
	if err != nil {
		return SnapshotInfo{}, err
	}
	label, err := d.str()
	return SnapshotInfo{ID: id, Label: label}, err
}

func (e *encoder) branchInfo(b BranchInfo) {
	e.str(b.ID)
	e.str(b.Parent)
	e.str(b.Label)
}

func (d *decoder) branchInfo() (BranchInfo, error) {
	id, err := d.str()
	if err != nil {
		return BranchInfo{}, err
	}
	parent, err := d.str()
	if err != nil {
		return BranchInfo{}, err
	}
	label, err := d.str()
	return BranchInfo{ID: id, Parent: parent, Label: label}, err
}

// EncodeResponse serializes resp into its wire representation,
// discriminant byte first.
func EncodeResponse(resp Response) []byte {
	e := &encoder{}
	e.byte(byte(resp.Kind))
	switch resp.Kind {
	case RespSnapshotCreate:
		e.snapshotInfo(resp.Snapshot)
	case RespSnapshotList:
		e.uint32(uint32(len(resp.Snapshots)))
		for _, s := range resp.Snapshots {
			e.snapshotInfo(s)
		}
	case RespBranchCreate:
		e.branchInfo(resp.Branch)
	case RespBranchBind:
		e.str(resp.BranchBindBranch)
		e.uint32(resp.BranchBindPid)
	case RespFaultPolicyStatus:
		e.bool(resp.FaultPolicy.Enabled)
		e.bool(resp.FaultPolicy.Active)
		e.uint32(resp.FaultPolicy.RuleCount)
	case RespHandshakeAck:
		// no fields: success is implied by the discriminant itself
	case RespFdOpen:
		e.uint32(uint32(resp.FdOpen.Size))
		e.uint32(uint32(resp.FdOpen.Size >> 32))
		e.bool(resp.FdOpen.IsDir)
	case RespError:
		e.str(resp.Error.Message)
		e.bool(resp.Error.HasCode)
		if resp.Error.HasCode {
			var tmp [4]byte
			binary.LittleEndian.PutUint32(tmp[:], uint32(resp.Error.Code))
			e.buf = append(e.buf, tmp[:]...)
		}
	}
	return e.buf
}

// DecodeResponse parses a wire-format response payload (no framing).
func DecodeResponse(payload []byte) (Response, error) {
	d := &decoder{buf: payload}
	kindByte, err := d.byte()
	if err != nil {
		return Response{}, err
	}
	resp := Response{Kind: ResponseKind(kindByte)}
	switch resp.Kind {
	case RespSnapshotCreate:
		resp.Snapshot, err = d.snapshotInfo()
	case RespSnapshotList:
		var n uint32
		if n, err = d.uint32(); err == nil {
			resp.Snapshots = make([]SnapshotInfo, 0, n)
			for i := uint32(0); i < n && err == nil; i++ {
				var s SnapshotInfo
				s, err = d.snapshotInfo()
				resp.Snapshots = append(resp.Snapshots, s)
			}
		}
	case RespBranchCreate:
		resp.Branch, err = d.branchInfo()
	case RespBranchBind:
		if resp.BranchBindBranch, err = d.str(); err == nil {
			resp.BranchBindPid, err = d.uint32()
		}
	case RespFaultPolicyStatus:
		if resp.FaultPolicy.Enabled, err = d.boolean(); err == nil {
			if resp.FaultPolicy.Active, err = d.boolean(); err == nil {
				resp.FaultPolicy.RuleCount, err = d.uint32()
			}
		}
	case RespHandshakeAck:
	case RespFdOpen:
		var lo, hi uint32
		if lo, err = d.uint32(); err == nil {
			if hi, err = d.uint32(); err == nil {
				resp.FdOpen.Size = uint64(lo) | uint64(hi)<<32
				resp.FdOpen.IsDir, err = d.boolean()
			}
		}
	case RespError:
		if resp.Error.Message, err = d.str(); err == nil {
			if resp.Error.HasCode, err = d.boolean(); err == nil && resp.Error.HasCode {
				var code uint32
				code, err = d.uint32()
				resp.Error.Code = int32(code)
			}
		}
	default:
		return Response{}, fmt.Errorf("wire: unknown response discriminant %d", kindByte)
	}
	return resp, err
}

// ControlBufferSize is the fixed ioctl buffer size for the FUSE control file.
const ControlBufferSize = 4096

// EncodeFrame prepends a u32 little-endian length to payload and pads the
// result to ControlBufferSize, matching the control-file ioctl's fixed
// buffer layout. It also doubles as the interpose socket's length-prefixed
// framing, minus the fixed-size padding (see EncodeSocketFrame).
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload)+4 > ControlBufferSize {
		return nil, fmt.Errorf("wire: payload of %d bytes does not fit the %d-byte control buffer", len(payload), ControlBufferSize)
	}
	buf := make([]byte, ControlBufferSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	copy(buf[4:], payload)
	return buf, nil
}

// DecodeFrame extracts the length-prefixed payload from a ControlBufferSize
// ioctl buffer.
func DecodeFrame(buf []byte) ([]byte, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("wire: frame shorter than the 4-byte length prefix")
	}
	n := binary.LittleEndian.Uint32(buf[0:4])
	if int(n)+4 > len(buf) {
		return nil, fmt.Errorf("wire: frame declares length %d, buffer only holds %d", n, len(buf)-4)
	}
	return buf[4 : 4+n], nil
}

// EncodeSocketFrame length-prefixes payload for the interpose daemon's Unix
// socket, which (unlike the ioctl buffer) is not fixed-size: just
// [u32 length][payload], no padding.
func EncodeSocketFrame(payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	copy(buf[4:], payload)
	return buf
}

// MaxSocketFrame bounds a single interpose-socket message so a misbehaving
// or malicious peer can't make ReadSocketFrame allocate without limit.
const MaxSocketFrame = 16 << 20

// ReadSocketFrame reads one [u32 length][payload] message from r, the
// mirror image of EncodeSocketFrame.
func ReadSocketFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > MaxSocketFrame {
		return nil, fmt.Errorf("wire: socket frame of %d bytes exceeds %d-byte limit", n, MaxSocketFrame)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
