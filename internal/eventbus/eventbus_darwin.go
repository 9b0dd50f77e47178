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

//go:build darwin

// Bridges Bus publications to local kqueues on behalf of registered
// watchers: it tracks registrations (a kqueue fd and a stream id, keyed by
// token) and signals each target kqueue by triggering a user-filter event
// via kevent(EVFILT_USER, NOTE_TRIGGER) on the registration's stream id.
package eventbus

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// watchRegistration is one subscriber's kqueue doorbell: the fd to signal
// and the NOTE_TRIGGER identifier it watches for via EVFILT_USER.
type watchRegistration struct {
	kq       int
	streamID uintptr
}

// kqueueBridge tracks live registrations and records the id of the latest
// event it delivered in rangeStart. The kqueue trigger itself carries no
// event id, so a kqueue-side receiver cannot detect a gap from it.
type kqueueBridge struct {
	mu    sync.Mutex
	regs  map[int]watchRegistration // keyed by an opaque registration token
	next  int
	rangeStart uint64
}

// newPlatformBridge wires a kqueueBridge into bus: every Publish also
// triggers each registered kqueue.
func newPlatformBridge(bus *Bus) func(Event) {
	kb := &kqueueBridge{regs: make(map[int]watchRegistration)}
	return kb.deliver
}

// Register arranges for future events to trigger a user-filter wakeup on
// kq via NOTE_TRIGGER against streamID, returning a token for Unregister.
func (kb *kqueueBridge) Register(kq int, streamID uintptr) int {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	token := kb.next
	kb.next++
	kb.regs[token] = watchRegistration{kq: kq, streamID: streamID}
	return token
}

// Unregister drops a prior Register.
func (kb *kqueueBridge) Unregister(token int) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	delete(kb.regs, token)
}

// deliver signals every registered kqueue that a new event batch starting
// at ev.ID is ready; the receiver re-reads the property-list payload over
// its existing channel to the daemon (out of scope here — this only rings
// the doorbell).
func (kb *kqueueBridge) deliver(ev Event) {
	atomic.StoreUint64(&kb.rangeStart, ev.ID)

	kb.mu.Lock()
	regs := make([]watchRegistration, 0, len(kb.regs))
	for _, r := range kb.regs {
		regs = append(regs, r)
	}
	kb.mu.Unlock()

	for _, r := range regs {
		kev := unix.Kevent_t{
			Ident:  uint64(r.streamID),
			Filter: unix.EVFILT_USER,
			Fflags: unix.NOTE_TRIGGER,
		}
		_, _ = unix.Kevent(r.kq, []unix.Kevent_t{kev}, nil, nil)
	}
}
