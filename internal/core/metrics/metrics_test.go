package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-kvdht/pkg/types"
)

// TestMetrics_Counters 测试计数器
func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveOperation("put", "ok", time.Millisecond)
	m.ObserveOperation("put", "ok", time.Millisecond)
	m.ObserveOperation("get", "insufficient", time.Millisecond)
	m.ObserveRequest("STORE", nil)
	m.ObserveRequest("GET", types.ErrNotFound)
	m.ObserveRequest("GET", fmt.Errorf("wrapped: %w", types.ErrTimeout))
	m.ObserveDivergence("get")
	m.ObserveTransition("active", "suspect")
	m.ObserveServed("PING")
	m.SetRoutingSize(42)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("put", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.divergent.WithLabelValues("get")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.routingSize))
	assert.Equal(t, 2, testutil.CollectAndCount(m.opDuration))

	n, err := testutil.GatherAndCount(m.Registry())
	require.NoError(t, err)
	assert.Positive(t, n)

	t.Log("✅ 指标计数正确")
}

// TestMetrics_NilSafe 测试 nil 接收者
func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("put", "ok", time.Second)
		m.ObserveRequest("PING", errors.New("x"))
		m.ObserveServed("PING")
		m.ObserveDivergence("get")
		m.ObserveTransition("a", "b")
		m.SetRoutingSize(1)
	})
	assert.Nil(t, m.Registry())

	t.Log("✅ nil 指标安全")
}

// TestStatusLabel 测试错误标签
func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "ok", StatusLabel(nil))
	assert.Equal(t, "conflict", StatusLabel(types.ErrConflict))
	assert.Equal(t, "unreachable", StatusLabel(types.ErrUnreachable))
	assert.Equal(t, "error", StatusLabel(errors.New("boom")))
}

// TestModule_Provides 测试模块提供独立注册表
func TestModule_Provides(t *testing.T) {
	var m *Metrics
	app := fxtest.New(t, Module(), fx.Populate(&m))
	defer app.RequireStart().RequireStop()

	require.NotNil(t, m)
	assert.NotSame(t, New().Registry(), m.Registry())
}
