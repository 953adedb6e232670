// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestPrometheusCollector_RecordRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.RecordRequest("QueueJob")
	c.RecordRequest("QueueJob")
	c.RecordRequest("DeleteJob")

	assert.Equal(t, float64(2), counterValue(t, c.requestsTotal.WithLabelValues("QueueJob")))
	assert.Equal(t, float64(1), counterValue(t, c.requestsTotal.WithLabelValues("DeleteJob")))
}

func TestPrometheusCollector_RecordResponse(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.RecordResponse("RunJob", 10*time.Millisecond)
	assert.Equal(t, float64(1), counterValue(t, c.responseTotal.WithLabelValues("RunJob")))
}

func TestPrometheusCollector_RecordError(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.RecordError("RunJob", errors.New("boom"))
	assert.Equal(t, float64(1), counterValue(t, c.errorsTotal.WithLabelValues("RunJob")))
}

func TestPrometheusCollector_CacheCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.RecordCacheHit("job:123")
	c.RecordCacheHit("job:124")
	c.RecordCacheMiss("job:125")

	assert.Equal(t, float64(2), counterValue(t, c.cacheHits))
	assert.Equal(t, float64(1), counterValue(t, c.cacheMisses))
}

func TestNewPrometheusCollector_RegistersWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusCollector(reg)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNoOpCollector(t *testing.T) {
	c := NoOpCollector{}
	assert.NotPanics(t, func() {
		c.RecordRequest("QueueJob")
		c.RecordResponse("QueueJob", time.Millisecond)
		c.RecordError("QueueJob", errors.New("boom"))
		c.RecordCacheHit("k")
		c.RecordCacheMiss("k")
	})
}

func TestDefaultCollector(t *testing.T) {
	assert.IsType(t, NoOpCollector{}, GetDefaultCollector())

	reg := prometheus.NewRegistry()
	real := NewPrometheusCollector(reg)
	SetDefaultCollector(real)
	assert.Same(t, real, GetDefaultCollector())

	SetDefaultCollector(nil)
	assert.IsType(t, NoOpCollector{}, GetDefaultCollector())
}
