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

// Package monitor registers AgentFS's prometheus metrics, mirroring the way
// GCSFuse's internal/monitor wires github.com/prometheus/client_golang.
// There is no package-level registry: a Registry is built with New and
// passed explicitly (fscore.Options.Metrics).
package monitor

import "github.com/prometheus/client_golang/prometheus"

// Registry is the collector set AgentFS metrics are registered against. It
// is only built through New, never as a global, so tests don't collide with
// each other's metric names on the global registry.
type Registry struct {
	reg *prometheus.Registry

	OpsTotal      *prometheus.CounterVec
	OpErrorsTotal *prometheus.CounterVec
	HandlesOpen   prometheus.Gauge
	EventsTotal   *prometheus.CounterVec
	ContentBytes  *prometheus.GaugeVec
}

// New creates a Registry with every AgentFS collector registered against a
// fresh prometheus.Registry (not the global DefaultRegisterer, so multiple
// FsCore instances in the same process — as in tests — don't collide).
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.OpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentfs",
		Name:      "fscore_ops_total",
		Help:      "Total FsCore operations, by operation name.",
	}, []string{"op"})

	r.OpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentfs",
		Name:      "fscore_op_errors_total",
		Help:      "Total FsCore operation failures, by operation name and error kind.",
	}, []string{"op", "kind"})

	r.HandlesOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentfs",
		Name:      "handles_open",
		Help:      "Number of currently open handles.",
	})

	r.EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentfs",
		Name:      "events_published_total",
		Help:      "Total events published on the event bus, by kind.",
	}, []string{"kind"})

	r.ContentBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "agentfs",
		Name:      "content_store_bytes",
		Help:      "Bytes held by the content store, by residency.",
	}, []string{"residency"})

	r.reg.MustRegister(r.OpsTotal, r.OpErrorsTotal, r.HandlesOpen, r.EventsTotal, r.ContentBytes)
	return r
}

// Gatherer exposes the underlying registry for an HTTP /metrics handler.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// ObserveOp records one call to op, and its error kind (empty string for
// success).
func (r *Registry) ObserveOp(op, errKind string) {
	r.OpsTotal.WithLabelValues(op).Inc()
	if errKind != "" {
		r.OpErrorsTotal.WithLabelValues(op, errKind).Inc()
	}
}
