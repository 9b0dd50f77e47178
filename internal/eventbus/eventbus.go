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

// Package eventbus is the optional typed event subscription layer: it
// implements fscore.EventSink and fans each published
// event out to every registered Subscriber, stamping a monotonically
// increasing event id so a receiver can detect a gap in what it's seen. On
// Darwin it additionally bridges batches to a local kqueue via EVFILT_USER
// (eventbus_darwin.go); elsewhere that bridge is a no-op.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is one namespace or branch/snapshot lifecycle notification.
// Kind is one of "Created", "Removed", "Modified", "Renamed",
// "BranchCreated", "SnapshotCreated", "BranchBound", matching the
// fscore.EventSink.Publish kind strings fscore's ops.go, io.go,
// snapshots.go and fscore.go emit.
type Event struct {
	ID     uint64
	Kind   string
	Fields map[string]string
	Time   time.Time
}

// Subscriber receives event batches in delivery order. Deliver must not
// block for long: the bus calls it synchronously from Publish's goroutine
// while holding no lock, but a slow subscriber still stalls every other
// subscriber's delivery for that one event.
type Subscriber interface {
	Deliver(Event)
}

// SubscriberFunc adapts a plain function to Subscriber.
type SubscriberFunc func(Event)

func (f SubscriberFunc) Deliver(e Event) { f(e) }

// Bus is the process-wide event fan-out: one per mounted filesystem,
// constructed once and passed as fscore.Options.Events.
type Bus struct {
	nextID uint64

	mu   sync.RWMutex
	subs map[int]Subscriber
	next int

	clock func() time.Time

	// bridge, when non-nil, additionally forwards each event to the
	// platform event-notification facility (kqueue/FSEvents on Darwin).
	bridge func(Event)
}

// New creates an empty Bus. On Darwin it wires in the kqueue/FSEvents
// bridge (see eventbus_darwin.go); on every other platform bridge is nil.
func New() *Bus {
	b := &Bus{subs: make(map[int]Subscriber), clock: time.Now}
	b.bridge = newPlatformBridge(b)
	return b
}

// Subscribe registers sub and returns a token for Unsubscribe.
func (b *Bus) Subscribe(sub Subscriber) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = sub
	return id
}

// Unsubscribe removes a subscriber previously returned by Subscribe.
func (b *Bus) Unsubscribe(token int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, token)
}

// Publish implements fscore.EventSink: it stamps kind/fields with a fresh
// monotonic id and timestamp and delivers the result to every subscriber
// and, if present, the platform bridge.
func (b *Bus) Publish(kind string, fields map[string]string) {
	ev := Event{
		ID:     atomic.AddUint64(&b.nextID, 1),
		Kind:   kind,
		Fields: fields,
		Time:   b.clock(),
	}

	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.Deliver(ev)
	}
	if b.bridge != nil {
		b.bridge(ev)
	}
}

// LastEventID returns the id most recently assigned, 0 if Publish has never
// been called. A subscriber that later sees an id more than one past this
// value knows it missed events.
func (b *Bus) LastEventID() uint64 {
	return atomic.LoadUint64(&b.nextID)
}
