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

package daemon

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blocksense-network/agentfs/internal/core/branchgraph"
	"github.com/blocksense-network/agentfs/internal/core/fscore"
	"github.com/blocksense-network/agentfs/internal/core/inode"
	"github.com/blocksense-network/agentfs/internal/wire"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestEngine(t *testing.T) *fscore.Engine {
	t.Helper()
	return fscore.New(fscore.Options{FileMode: 0644, DirMode: 0755})
}

func startTestServer(t *testing.T, engine *fscore.Engine) *Server {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "agentfs.sock")
	s := New(engine, sockPath)
	require.NoError(t, s.Listen())
	go s.Serve()
	t.Cleanup(func() { s.Close() })
	return s
}

func dialAndHandshake(t *testing.T, sockPath string, pid uint32) *net.UnixConn {
	t.Helper()
	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	uconn := conn.(*net.UnixConn)

	req := wire.Request{Kind: wire.ReqHandshake, Handshake: wire.HandshakeInfo{
		ProtocolVersion: 1, ShimName: "test-shim", ShimVersion: "0.0",
		Pid: pid, Ppid: 1, Uid: 1000, Gid: 1000, ExePath: "/bin/test",
	}}
	_, err = uconn.Write(wire.EncodeSocketFrame(wire.EncodeRequest(req)))
	require.NoError(t, err)

	payload, err := wire.ReadSocketFrame(uconn)
	require.NoError(t, err)
	resp, err := wire.DecodeResponse(payload)
	require.NoError(t, err)
	require.Equal(t, wire.RespHandshakeAck, resp.Kind)
	return uconn
}

// readWithFd drains one length-prefixed response plus an ancillary
// SCM_RIGHTS fd from conn, mirroring what a real interpose shim's open()
// hook does after sending FdOpen: parse the framed payload and recvmsg for
// the control message that carries the transferred descriptor.
func readWithFd(t *testing.T, conn *net.UnixConn) (wire.Response, int) {
	t.Helper()
	f, err := conn.File()
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 4096)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := unix.Recvmsg(int(f.Fd()), buf, oob, 0)
	require.NoError(t, err)

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	fds, err := unix.ParseUnixRights(&msgs[0])
	require.NoError(t, err)
	require.Len(t, fds, 1)

	payload, err := wire.DecodeFrame(padToFrame(buf[:n]))
	require.NoError(t, err)
	resp, err := wire.DecodeResponse(payload)
	require.NoError(t, err)
	return resp, fds[0]
}

// padToFrame turns a raw [u32 len][payload] read into something
// wire.DecodeFrame's bounds check accepts regardless of how many bytes the
// underlying recvmsg happened to return.
func padToFrame(b []byte) []byte {
	if len(b) < 4 {
		return append(b, make([]byte, 4-len(b))...)
	}
	return b
}

func TestFdOpenTransfersReadableDescriptor(t *testing.T) {
	engine := newTestEngine(t)
	want := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	id, _, ferr := engine.Create(branchgraph.DefaultBranchID, inode.RootID, "hello.txt", fscore.CreateOptions{Kind: inode.File})
	require.Nil(t, ferr)
	h, ferr := engine.Open(branchgraph.DefaultBranchID, id, fscore.OpenOptions{Write: true})
	require.Nil(t, ferr)
	_, ferr = engine.Write(h, 0, want)
	require.Nil(t, ferr)
	require.Nil(t, engine.Close(h))

	s := startTestServer(t, engine)
	conn := dialAndHandshake(t, s.SocketPath, 4242)
	defer conn.Close()

	req := wire.Request{Kind: wire.ReqFdOpen, FdOpenPath: "/hello.txt"}
	_, err := conn.Write(wire.EncodeSocketFrame(wire.EncodeRequest(req)))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, fd := readWithFd(t, conn)
	require.Equal(t, wire.RespFdOpen, resp.Kind)
	require.EqualValues(t, len(want), resp.FdOpen.Size)
	defer unix.Close(fd)

	got := make([]byte, len(want))
	f := os.NewFile(uintptr(fd), "hello.txt")
	defer f.Close()
	n, err := f.Read(got)
	require.NoError(t, err)
	require.Equal(t, len(want), n)
	require.Equal(t, want, got)
}

func TestFdOpenUnknownPathReturnsNotFound(t *testing.T) {
	engine := newTestEngine(t)
	s := startTestServer(t, engine)
	conn := dialAndHandshake(t, s.SocketPath, 1)
	defer conn.Close()

	req := wire.Request{Kind: wire.ReqFdOpen, FdOpenPath: "/missing.txt"}
	_, err := conn.Write(wire.EncodeSocketFrame(wire.EncodeRequest(req)))
	require.NoError(t, err)

	payload, err := wire.ReadSocketFrame(conn)
	require.NoError(t, err)
	resp, err := wire.DecodeResponse(payload)
	require.NoError(t, err)
	require.Equal(t, wire.RespError, resp.Kind)
	require.EqualValues(t, 2, resp.Error.Code) // ENOENT
}
