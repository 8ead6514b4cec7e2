package observer

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestIncRoutingResolution(t *testing.T) {
	InitMetrics(true)
	counter := RoutingResolutionsTotal.WithLabelValues("WHATSAPP", "none", "no_owner")
	before := testutil.ToFloat64(counter)

	IncRoutingResolution("WHATSAPP", "none", "no_owner")

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestMetricsDisabled(t *testing.T) {
	InitMetrics(false)
	t.Cleanup(func() { InitMetrics(true) })

	counter := BindingWritesTotal.WithLabelValues("bind", "error")
	before := testutil.ToFloat64(counter)

	IncBindingWrite("bind", errors.New("boom"))
	ObserveDbOperationDuration("bind", "conversation_binding", time.Millisecond, nil)

	assert.Equal(t, before, testutil.ToFloat64(counter))
}

func TestIncBindingWriteStatus(t *testing.T) {
	InitMetrics(true)
	ok := BindingWritesTotal.WithLabelValues("unbind", "success")
	before := testutil.ToFloat64(ok)

	IncBindingWrite("unbind", nil)

	assert.Equal(t, before+1, testutil.ToFloat64(ok))
}

func TestSanitizeErrorType(t *testing.T) {
	tests := map[string]string{
		"":                                   "none",
		"database error: connection refused": "database",
		"validation failed: field 'input'":   "validation",
		"resource not found":                 "not_found",
		"agent execution failed: 500":        "agent",
		"nats communication error":           "nats",
		"operation timeout":                  "timeout",
		"json: cannot unmarshal":             "unmarshal",
		"panic recovered: boom":              "panic",
		"something odd":                      "unknown",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeErrorType(in), in)
	}
}

func TestIncDlqTask(t *testing.T) {
	InitMetrics(true)
	counter := dlqTasksTotal.WithLabelValues("exhausted")
	before := testutil.ToFloat64(counter)

	IncDlqTask("exhausted")

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
