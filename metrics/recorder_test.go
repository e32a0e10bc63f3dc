package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/vischeck/harness"
	"github.com/liuxd6825/vischeck/probe"
)

func TestRecorderObservesChecks(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	boom := errors.New("boom")

	r.StageDone("cloud-fix", harness.StageNavigate, 300*time.Millisecond, nil)
	r.StageDone("cloud-fix", harness.StageReadiness, time.Second, nil)
	r.CheckDone("cloud-fix", 2*time.Second, nil)

	r.StageDone("slider-update", harness.StageNavigate, 200*time.Millisecond, nil)
	r.StageDone("slider-update", harness.StageReadiness, 45*time.Second, boom)
	r.CheckDone("slider-update", 46*time.Second, boom)

	bm := r.builtin
	assert.Equal(t, 1.0, testutil.ToFloat64(bm.Checks.WithLabelValues("cloud-fix", OutcomePassed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(bm.Checks.WithLabelValues("slider-update", OutcomeFailed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(bm.Checks.WithLabelValues("slider-update", OutcomePassed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(bm.StageFailures.WithLabelValues("slider-update", "readiness")))
	assert.Equal(t, 4, testutil.CollectAndCount(bm.StageDuration))
	assert.Equal(t, 2, testutil.CollectAndCount(bm.CheckDuration))
}

func TestRecorderProbeResults(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	r.ProbeDone([]probe.Result{
		{Endpoint: probe.Endpoint{Name: "Application"}, Status: probe.StatusAvailable},
		{Endpoint: probe.Endpoint{Name: "Data API"}, Status: probe.StatusNotConfigured},
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(r.builtin.ProbeResults.WithLabelValues("Application", "available")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.builtin.ProbeResults.WithLabelValues("Data API", "not-configured")))
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	r.now = func() time.Time { return time.Unix(1700000000, 0) }
	r.CheckDone("iot-page", time.Second, nil)

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/out", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/out/vischeck.prom", []byte("stale"), 0o644))
	require.NoError(t, r.WriteTextfile(fs, "/out/vischeck.prom"))

	data, err := afero.ReadFile(fs, "/out/vischeck.prom")
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `vischeck_checks_total{check="iot-page",outcome="passed"} 1`)
	assert.Contains(t, text, "vischeck_last_run_timestamp_seconds 1.7e+09")
	assert.Contains(t, text, "# TYPE vischeck_check_duration_seconds histogram")
	assert.NotContains(t, text, "stale")

	entries, err := afero.ReadDir(fs, "/out")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary file is left behind")
}

func TestWriteTextfileError(t *testing.T) {
	t.Parallel()

	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	err := NewRecorder().WriteTextfile(fs, "/vischeck.prom")
	assert.ErrorContains(t, err, "writing metrics to")
}
