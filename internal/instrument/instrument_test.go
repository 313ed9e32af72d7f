package instrument

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityflow/internal/config"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	logger, err = NewLogger(config.LogConfig{})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))

	_, err = NewLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.ObserveOperation("posts", "create", "success", 12*time.Millisecond)
	m.ObserveOperation("posts", "create", "success", 3*time.Millisecond)
	m.ObserveOperation("posts", "update", "failure", time.Millisecond)
	m.ObserveTransition("orders", "process", "rejected")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("posts", "create", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("posts", "update", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("orders", "process", "rejected")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `entityflow_operations_total{action="create",outcome="success",table="posts"} 2`))
	assert.Contains(t, string(body), "entityflow_operation_duration_seconds_bucket")
}
