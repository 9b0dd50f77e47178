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

// Package faultpolicy is the fault-injection policy fscore.Engine consults
// before each create, symlink, link, unlink, setattr and rename: an installed, enabled rule whose op and
// path-prefix match the call forces a configured error instead of letting
// the operation run, a testing hook for exercising the error taxonomy
// end-to-end without engineering real resource exhaustion. The control
// plane's FaultPolicySet/FaultPolicyClear requests install and remove the
// policy document through Store.Set/Store.Clear.
package faultpolicy

import (
	"strings"
	"sync"

	"github.com/blocksense-network/agentfs/internal/fserrors"
	"gopkg.in/yaml.v3"
)

// Rule is one entry in a fault-injection policy document: "the next Count
// calls to Op against a path with this prefix fail with ErrorKind".
type Rule struct {
	Op        string `yaml:"op"`
	Path      string `yaml:"path"`
	ErrorKind string `yaml:"error"`
	Count     int    `yaml:"count"`
}

// Document is the YAML shape FaultPolicySet's payload decodes to.
type Document struct {
	Enabled bool   `yaml:"enabled"`
	Rules   []Rule `yaml:"rules"`
}

// Status is the enabled/active/rule-count triple reported back to the
// control plane after Set/Clear/current-state queries.
type Status struct {
	Enabled   bool
	Active    bool
	RuleCount uint32
}

// Store holds the currently installed fault-injection policy. Its own mutex
// serializes Set, Clear, Status and Lookup; the control plane takes no
// engine-wide lock around Set or Clear. fscore.Engine calls Lookup
// before each create, symlink, link, unlink, setattr and rename.
type Store struct {
	mu     sync.Mutex
	active Document
	isSet  bool
}

// NewStore creates an empty store (no policy installed).
func NewStore() *Store {
	return &Store{}
}

// Set parses and installs a new policy document, replacing any previous
// one.
func (s *Store) Set(raw []byte) (Status, *fserrors.Error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Status{}, fserrors.Wrap(fserrors.InvalidArgument, err, "faultpolicy: parsing policy document")
	}
	s.mu.Lock()
	s.active = doc
	s.isSet = true
	s.mu.Unlock()
	return s.Status(), nil
}

// Clear removes any installed policy.
func (s *Store) Clear() Status {
	s.mu.Lock()
	s.active = Document{}
	s.isSet = false
	s.mu.Unlock()
	return s.Status()
}

// Status reports the current policy's enabled/active/rule-count triple.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Enabled:   s.active.Enabled,
		Active:    s.isSet && s.active.Enabled,
		RuleCount: uint32(len(s.active.Rules)),
	}
}

// Lookup returns the error a matching, still-live rule forces for op
// against path, decrementing the rule's remaining count, or nil if no rule
// applies (including when no policy is installed or it is disabled).
// Matching is by exact op name and path-prefix, checked in rule order.
func (s *Store) Lookup(op, path string) *fserrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isSet || !s.active.Enabled {
		return nil
	}
	for i := range s.active.Rules {
		r := &s.active.Rules[i]
		if r.Op != op || r.Count <= 0 || !strings.HasPrefix(path, r.Path) {
			continue
		}
		r.Count--
		return fserrors.New(kindFromName(r.ErrorKind), "faultpolicy: injected failure for %s %s", op, path)
	}
	return nil
}

func kindFromName(name string) fserrors.Kind {
	switch name {
	case "NotFound":
		return fserrors.NotFound
	case "AlreadyExists":
		return fserrors.AlreadyExists
	case "AccessDenied":
		return fserrors.AccessDenied
	case "InvalidArgument":
		return fserrors.InvalidArgument
	case "Busy":
		return fserrors.Busy
	case "NoSpace":
		return fserrors.NoSpace
	case "Unsupported":
		return fserrors.Unsupported
	default:
		return fserrors.Io
	}
}
