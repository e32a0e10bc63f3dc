package metrics

import (
	"bufio"
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/afero"

	"github.com/liuxd6825/vischeck/harness"
	"github.com/liuxd6825/vischeck/probe"
)

// Recorder records runner and probe events. It implements harness.Observer.
type Recorder struct {
	registry *prometheus.Registry
	builtin  *BuiltinMetrics
	now      func() time.Time
}

var _ harness.Observer = &Recorder{}

// NewRecorder returns a Recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	return &Recorder{
		registry: reg,
		builtin:  RegisterBuiltinMetrics(reg),
		now:      time.Now,
	}
}

// Registry returns the registry the metrics live in.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// StageDone records a stage duration, and a failure when err is set.
func (r *Recorder) StageDone(check string, stage harness.Stage, d time.Duration, err error) {
	r.builtin.StageDuration.WithLabelValues(check, string(stage)).Observe(d.Seconds())
	if err != nil {
		r.builtin.StageFailures.WithLabelValues(check, string(stage)).Inc()
	}
}

// CheckDone records a check outcome.
func (r *Recorder) CheckDone(check string, d time.Duration, err error) {
	outcome := OutcomePassed
	if err != nil {
		outcome = OutcomeFailed
	}
	r.builtin.Checks.WithLabelValues(check, outcome).Inc()
	r.builtin.CheckDuration.WithLabelValues(check).Observe(d.Seconds())
}

// ProbeDone records preflight results.
func (r *Recorder) ProbeDone(results []probe.Result) {
	for _, res := range results {
		r.builtin.ProbeResults.WithLabelValues(res.Endpoint.Name, string(res.Status)).Inc()
	}
}

// WriteTextfile stamps the run end time and writes every metric to path on
// fs in the text exposition format. The file is replaced atomically.
func (r *Recorder) WriteTextfile(fs afero.Fs, path string) error {
	r.builtin.LastRun.Set(float64(r.now().Unix()))
	if err := writeTextfile(fs, path, r.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}

// writeTextfile mirrors prometheus.WriteToTextfile on an afero filesystem.
func writeTextfile(fs afero.Fs, path string, g prometheus.Gatherer) (err error) {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	tmp, err := afero.TempFile(fs, filepath.Dir(path), filepath.Base(path))
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = fs.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, mf := range families {
		if _, err = expfmt.MetricFamilyToText(w, mf); err != nil {
			_ = tmp.Close()
			return err
		}
	}
	if err = w.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = fs.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return fs.Rename(tmp.Name(), path)
}
