package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetVerdict(t *testing.T) {
	all := []string{"HEALTHY", "WARNING", "DEGRADED", "CRITICAL"}

	SetVerdict("DEGRADED", all)
	assert.Equal(t, 1.0, testutil.ToFloat64(Verdict.WithLabelValues("DEGRADED")))
	assert.Equal(t, 0.0, testutil.ToFloat64(Verdict.WithLabelValues("HEALTHY")))

	SetVerdict("HEALTHY", all)
	assert.Equal(t, 1.0, testutil.ToFloat64(Verdict.WithLabelValues("HEALTHY")))
	assert.Equal(t, 0.0, testutil.ToFloat64(Verdict.WithLabelValues("DEGRADED")))
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "error", Result(errors.New("boom")))
}
