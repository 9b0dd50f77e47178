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

// Package daemon is the authoritative side of the interpose shim + daemon
// transport: it owns the single live fscore.Engine for a
// mount, accepts connections on a Unix socket, requires a Handshake as the
// first message on each connection, then serves length-prefixed
// internal/wire requests for the lifetime of the connection.
//
// This module does not build or load a libc interposition shim (that needs
// cgo/dylib tooling outside this package's scope). cmd/agentfs-shimd runs
// this server as a standalone process; the client side of the protocol
// appears only in daemon_test.go.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/blocksense-network/agentfs/internal/core/fscore"
	"github.com/blocksense-network/agentfs/internal/core/handle"
	"github.com/blocksense-network/agentfs/internal/core/inode"
	"github.com/blocksense-network/agentfs/internal/fserrors"
	"github.com/blocksense-network/agentfs/internal/logger"
	"github.com/blocksense-network/agentfs/internal/wire"
	"github.com/blocksense-network/agentfs/internal/workerpool"
	"golang.org/x/sys/unix"
)

// defaultPriorityWorkers and defaultNormalWorkers size the lanes a Server
// admits requests through: a small priority lane so a burst of data-plane
// FdOpen traffic can never starve a snapshot/branch/bind call queued behind
// it, a larger normal lane for everything else.
const (
	defaultPriorityWorkers = 8
	defaultNormalWorkers   = 64
)

// ProcessInfo is what a Handshake told the daemon about the process behind
// a connection.
type ProcessInfo struct {
	Pid, Ppid uint32
	Uid, Gid  uint32
	ExePath   string
	ShimName  string
}

// Server owns one fscore.Engine and the wire.Dispatcher sharing it, and
// serves the interpose protocol over a Unix socket.
type Server struct {
	Engine     *fscore.Engine
	Dispatcher *wire.Dispatcher
	SocketPath string

	pool *workerpool.StaticWorkerPool

	mu    sync.Mutex
	procs map[uint32]ProcessInfo

	listener net.Listener
}

// New builds a Server bound to socketPath (not yet listening), with the
// default priority/normal lane sizes.
func New(engine *fscore.Engine, socketPath string) *Server {
	pool, err := workerpool.NewStaticWorkerPool(defaultPriorityWorkers, defaultNormalWorkers)
	if err != nil {
		// Both constants above are non-zero, so NewStaticWorkerPool's only
		// failure mode cannot occur here.
		panic(err)
	}
	return &Server{
		Engine:     engine,
		Dispatcher: wire.NewDispatcher(engine),
		SocketPath: socketPath,
		pool:       pool,
		procs:      make(map[uint32]ProcessInfo),
	}
}

// isControlPlane reports whether kind belongs in the priority lane: the
// snapshot/branch/bind/fault-policy calls apart from data-plane traffic
// like FdOpen.
func isControlPlane(kind wire.RequestKind) bool {
	switch kind {
	case wire.ReqSnapshotCreate, wire.ReqSnapshotList, wire.ReqBranchCreate,
		wire.ReqBranchBind, wire.ReqFaultPolicySet, wire.ReqFaultPolicyClear:
		return true
	default:
		return false
	}
}

// Listen opens the Unix socket, removing a stale one left behind by a
// prior crashed daemon at the same path first.
func (s *Server) Listen() error {
	_ = os.Remove(s.SocketPath)
	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("daemon: listen on %s: %w", s.SocketPath, err)
	}
	s.listener = ln
	return nil
}

// Close stops accepting and releases the socket file.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	_ = os.Remove(s.SocketPath)
	s.pool.Stop()
	return err
}

// Serve accepts connections until the listener is closed, handling each on
// its own goroutine.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		uconn, ok := conn.(*net.UnixConn)
		if !ok {
			conn.Close()
			continue
		}
		go s.handleConn(uconn)
	}
}

func (s *Server) handleConn(conn *net.UnixConn) {
	defer conn.Close()

	proc, err := s.handshake(conn)
	if err != nil {
		logger.Warnf("daemon: handshake failed: %v", err)
		return
	}
	logger.Infof("daemon: registered pid=%d exe=%s shim=%s", proc.Pid, proc.ExePath, proc.ShimName)
	s.mu.Lock()
	s.procs[proc.Pid] = proc
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.procs, proc.Pid)
		s.mu.Unlock()
	}()

	for {
		payload, err := wire.ReadSocketFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warnf("daemon: connection for pid=%d: %v", proc.Pid, err)
			}
			return
		}
		req, err := wire.DecodeRequest(payload)
		if err != nil {
			logger.Warnf("daemon: malformed request from pid=%d: %v", proc.Pid, err)
			return
		}

		resp := s.dispatchAdmitted(conn, proc, req)
		if resp.Kind == fdOpenAlreadySent {
			continue
		}
		if err := s.writeResponse(conn, resp); err != nil {
			logger.Warnf("daemon: writing response to pid=%d: %v", proc.Pid, err)
			return
		}
	}
}

// dispatchAdmitted acquires the request's worker-pool lane, processes it,
// and releases the lane before returning. Admission never fails here: both
// Acquire calls use context.Background(), so the only way through is to
// wait for a slot, matching a fixed-size pool's back-pressure contract
// rather than shedding load.
func (s *Server) dispatchAdmitted(conn *net.UnixConn, proc ProcessInfo, req wire.Request) wire.Response {
	ctx := context.Background()
	if isControlPlane(req.Kind) {
		_ = s.pool.AcquirePriority(ctx)
		defer s.pool.ReleasePriority()
	} else {
		_ = s.pool.AcquireNormal(ctx)
		defer s.pool.ReleaseNormal()
	}

	if req.Kind == wire.ReqFdOpen {
		return s.fdOpen(conn, proc, req)
	}
	return s.Dispatcher.Dispatch(req, proc.Pid)
}

func (s *Server) writeResponse(conn net.Conn, resp wire.Response) error {
	frame := wire.EncodeSocketFrame(wire.EncodeResponse(resp))
	_, err := conn.Write(frame)
	return err
}

// handshake reads and validates the mandatory first message on a new
// connection.
func (s *Server) handshake(conn net.Conn) (ProcessInfo, error) {
	payload, err := wire.ReadSocketFrame(conn)
	if err != nil {
		return ProcessInfo{}, err
	}
	req, err := wire.DecodeRequest(payload)
	if err != nil {
		return ProcessInfo{}, err
	}
	if req.Kind != wire.ReqHandshake {
		resp := wire.ErrorResponse(fserrors.New(fserrors.InvalidArgument, "daemon: first message must be Handshake, got kind %d", req.Kind))
		_ = s.writeResponse(conn, resp)
		return ProcessInfo{}, fmt.Errorf("daemon: first message was kind %d, not Handshake", req.Kind)
	}
	h := req.Handshake
	if err := s.writeResponse(conn, wire.Response{Kind: wire.RespHandshakeAck}); err != nil {
		return ProcessInfo{}, err
	}
	return ProcessInfo{Pid: h.Pid, Ppid: h.Ppid, Uid: h.Uid, Gid: h.Gid, ExePath: h.ExePath, ShimName: h.ShimName}, nil
}

// resolvePath walks dotted path components from the namespace root through
// proc's bound branch, the same resolution internal/fusehost gets for free
// from the kernel's own path-walking.
func (s *Server) resolvePath(branch fscore.BranchID, p string) (inode.ID, inode.Attributes, *fserrors.Error) {
	id := inode.ID(inode.RootID)
	attr := inode.Attributes{Kind: inode.Dir}
	clean := strings.Trim(path.Clean("/"+p), "/")
	if clean == "" {
		got, ferr := s.Engine.GetAttr(branch, id)
		return id, got, ferr
	}
	for _, part := range strings.Split(clean, "/") {
		next, nattr, ferr := s.Engine.Lookup(branch, id, part)
		if ferr != nil {
			return 0, inode.Attributes{}, ferr
		}
		id, attr = next, nattr
	}
	return id, attr, nil
}

// fdOpen serves the interposed open()/openat()/fopen() data-plane op: it
// resolves the path against proc's bound branch,
// materializes the file's current content into an anonymous, already-unlinked
// temp file, and transfers that temp file's descriptor to the caller via
// SCM_RIGHTS so the caller gets back an indistinguishable-from-native fd it
// can read with the ordinary read(2) syscall.
//
// Writes through a transferred fd do not flow back into FsCore in this
// implementation: a full bidirectional page-cache bridge is what a real
// libc interposer achieves by intercepting every call individually, which
// this stand-in does not attempt (see the package doc comment). Read-only
// opens are fully faithful.
func (s *Server) fdOpen(conn *net.UnixConn, proc ProcessInfo, req wire.Request) wire.Response {
	branch := s.Engine.ResolveBranch(proc.Pid, []uint32{proc.Ppid})
	id, attr, ferr := s.resolvePath(branch, req.FdOpenPath)
	if ferr != nil {
		return wire.ErrorResponse(ferr)
	}
	if attr.Kind == inode.Dir {
		return wire.Response{Kind: wire.RespFdOpen, FdOpen: wire.FdOpenInfo{IsDir: true}}
	}

	h, ferr := s.Engine.Open(branch, id, fscore.OpenOptions{
		Read:  true,
		Share: []handle.ShareMode{handle.ShareRead, handle.ShareWrite, handle.ShareDelete},
	})
	if ferr != nil {
		return wire.ErrorResponse(ferr)
	}
	defer s.Engine.Close(h)

	data, ferr := s.Engine.Read(h, 0, int(attr.Len))
	if ferr != nil {
		return wire.ErrorResponse(ferr)
	}

	f, err := os.CreateTemp("", "agentfs-fdopen-*")
	if err != nil {
		return wire.ErrorResponse(fserrors.Wrap(fserrors.Io, err, "daemon: staging fd for %q", req.FdOpenPath))
	}
	defer f.Close()
	_ = os.Remove(f.Name()) // unlink immediately: the fd alone should outlive the name.
	if _, err := f.Write(data); err != nil {
		return wire.ErrorResponse(fserrors.Wrap(fserrors.Io, err, "daemon: writing staged fd for %q", req.FdOpenPath))
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return wire.ErrorResponse(fserrors.Wrap(fserrors.Io, err, "daemon: seeking staged fd for %q", req.FdOpenPath))
	}

	resp := wire.Response{Kind: wire.RespFdOpen, FdOpen: wire.FdOpenInfo{Size: attr.Len}}
	if err := sendFd(conn, wire.EncodeResponse(resp), int(f.Fd())); err != nil {
		return wire.ErrorResponse(fserrors.Wrap(fserrors.Io, err, "daemon: transferring fd for %q", req.FdOpenPath))
	}
	// The response for FdOpen is written by sendFd (it must ride in the same
	// sendmsg() as the SCM_RIGHTS control message), so the caller's normal
	// writeResponse path must be skipped: return a sentinel the caller
	// recognizes.
	return wire.Response{Kind: fdOpenAlreadySent}
}

// fdOpenAlreadySent is a private sentinel RespKind fdOpen uses to tell
// handleConn's caller "the response already went out, don't send it again"
// without adding a bool return to every other Dispatch path.
const fdOpenAlreadySent wire.ResponseKind = 255

func sendFd(conn *net.UnixConn, payload []byte, fd int) error {
	frame := wire.EncodeSocketFrame(payload)
	rights := unix.UnixRights(fd)
	f, err := conn.File()
	if err != nil {
		return err
	}
	defer f.Close()
	return unix.Sendmsg(int(f.Fd()), frame, rights, nil, 0)
}
