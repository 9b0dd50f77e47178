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

package monitor

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveOpCountsSuccessAndFailure(t *testing.T) {
	r := New()
	r.ObserveOp("read", "")
	r.ObserveOp("read", "")
	r.ObserveOp("read", "NotFound")

	assert.Equal(t, float64(3), testutil.ToFloat64(r.OpsTotal.WithLabelValues("read")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.OpErrorsTotal.WithLabelValues("read", "NotFound")))
}

func TestGathererReturnsRegisteredMetrics(t *testing.T) {
	r := New()
	r.HandlesOpen.Set(3)

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "agentfs_handles_open" {
			found = true
		}
	}
	assert.True(t, found, "expected agentfs_handles_open to be registered")
}
