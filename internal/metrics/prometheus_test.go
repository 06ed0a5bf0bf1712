package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	pr := NewPrometheusRecorder()
	pr.ObserveStep("push", 150*time.Millisecond, true)
	pr.ObserveStep("pull", 300*time.Millisecond, false)
	pr.IncDeploy(OutcomeFailed)
	pr.ObserveRewrite(12, 3, 40)

	assert.Equal(t, 1.0, testutil.ToFloat64(pr.stepResults.WithLabelValues("push", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.stepResults.WithLabelValues("pull", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.deployOutcome.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(pr.lastSuccess))
	assert.Equal(t, 12.0, testutil.ToFloat64(pr.pagesScanned))
	assert.Equal(t, 3.0, testutil.ToFloat64(pr.pagesRewritten))
	assert.Equal(t, 40.0, testutil.ToFloat64(pr.references))

	mfs, err := pr.reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestPrometheusRecorder_SuccessTimestamp(t *testing.T) {
	pr := NewPrometheusRecorder()
	before := float64(time.Now().Unix())
	pr.IncDeploy(OutcomeSuccess)
	assert.GreaterOrEqual(t, testutil.ToFloat64(pr.lastSuccess), before)
}

func TestPrometheusRecorder_WriteTextfile(t *testing.T) {
	pr := NewPrometheusRecorder()
	pr.ObserveStep("build", time.Second, true)
	pr.IncDeploy(OutcomeSuccess)

	path := filepath.Join(t.TempDir(), "sitepub.prom")
	require.NoError(t, pr.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `sitepub_deploy_outcomes_total{outcome="success"} 1`)
	assert.Contains(t, text, `sitepub_step_results_total{result="success",step="build"} 1`)
	assert.True(t, strings.Contains(text, "sitepub_step_duration_seconds_bucket"))
}

func TestPrometheusRecorder_WriteTextfileError(t *testing.T) {
	pr := NewPrometheusRecorder()
	err := pr.WriteTextfile(filepath.Join(t.TempDir(), "missing", "sitepub.prom"))
	assert.Error(t, err)
}

func TestNilPrometheusRecorder(t *testing.T) {
	var pr *PrometheusRecorder
	assert.NotPanics(t, func() {
		pr.ObserveStep("push", time.Second, true)
		pr.IncDeploy(OutcomeSuccess)
		pr.ObserveRewrite(1, 1, 1)
	})
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	assert.NotPanics(t, func() {
		r.ObserveStep("push", time.Second, true)
		r.IncDeploy(OutcomeSuccess)
		r.ObserveRewrite(1, 1, 1)
	})
}
