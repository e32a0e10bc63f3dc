/*
 *
 * xk6-browser - a browser automation extension for k6
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/liuxd6825/vischeck/log"
	"github.com/liuxd6825/vischeck/storage"
)

// Persister stores artifacts.
type Persister interface {
	Persist(ctx context.Context, path string, data io.Reader) error
}

// Observer is notified about stage and check outcomes. err is nil on
// success.
type Observer interface {
	StageDone(check string, stage Stage, d time.Duration, err error)
	CheckDone(check string, d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) StageDone(string, Stage, time.Duration, error) {}
func (nopObserver) CheckDone(string, time.Duration, error)        {}

// Runner runs checks. It is safe to run several checks concurrently; each
// gets its own browser session.
type Runner struct {
	launcher     Launcher
	persister    Persister
	logger       *log.Logger
	out          io.Writer
	tracer       trace.Tracer
	observer     Observer
	timeouts     *TimeoutSettings
	baseURL      *url.URL
	viewport     Viewport
	pollInterval time.Duration
	idleQuiet    time.Duration
}

// Option configures a Runner.
type Option func(*Runner) error

// NewRunner returns a Runner that gets its browsers from launcher.
func NewRunner(launcher Launcher, opts ...Option) (*Runner, error) {
	r := &Runner{
		launcher:     launcher,
		persister:    storage.NewFilePersister(afero.NewOsFs()),
		logger:       log.NewNullLogger(),
		out:          os.Stdout,
		tracer:       noop.NewTracerProvider().Tracer(""),
		observer:     nopObserver{},
		timeouts:     NewTimeoutSettings(nil),
		viewport:     DefaultViewport,
		pollInterval: DefaultPollInterval,
		idleQuiet:    DefaultNetworkIdleQuiet,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// WithPersister sets where artifacts are stored.
func WithPersister(p Persister) Option {
	return func(r *Runner) error {
		r.persister = p
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Runner) error {
		r.logger = l
		return nil
	}
}

// WithOutput sets where console transcripts are printed.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) error {
		r.out = w
		return nil
	}
}

// WithTracer sets the tracer used for check and stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) error {
		r.tracer = t
		return nil
	}
}

// WithObserver sets the observer notified about outcomes.
func WithObserver(o Observer) Option {
	return func(r *Runner) error {
		r.observer = o
		return nil
	}
}

// WithTimeouts sets the timeouts checks inherit from.
func WithTimeouts(ts *TimeoutSettings) Option {
	return func(r *Runner) error {
		r.timeouts = ts
		return nil
	}
}

// WithBaseURL sets the URL relative check URLs are resolved against.
func WithBaseURL(base string) Option {
	return func(r *Runner) error {
		if base == "" {
			return nil
		}
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("%w: parsing base url %q: %w", ErrInvalidCheck, base, err)
		}
		if !u.IsAbs() {
			return invalidf("base url %q is not absolute", base)
		}
		r.baseURL = u
		return nil
	}
}

// WithViewport sets the viewport of checks that do not set their own.
func WithViewport(vp Viewport) Option {
	return func(r *Runner) error {
		if vp.Width <= 0 || vp.Height <= 0 {
			return invalidf("viewport %s must have positive dimensions", vp)
		}
		r.viewport = vp
		return nil
	}
}

// WithPollInterval sets how often readiness conditions are re-evaluated.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) error {
		if d <= 0 {
			return invalidf("poll interval must be positive, got %s", d)
		}
		r.pollInterval = d
		return nil
	}
}

// WithNetworkIdleQuiet sets the default quiet window of network-idle.
func WithNetworkIdleQuiet(d time.Duration) Option {
	return func(r *Runner) error {
		if d <= 0 {
			return invalidf("network idle quiet window must be positive, got %s", d)
		}
		r.idleQuiet = d
		return nil
	}
}

// RunCheck navigates to targetURL, waits for readiness, performs the
// interactions in order and writes a viewport screenshot to artifactPath.
// timeout bounds navigation; zero uses DefaultNavigationTimeout.
func RunCheck(
	ctx context.Context,
	launcher Launcher,
	targetURL string,
	readiness Readiness,
	interactions []Interaction,
	artifactPath string,
	timeout time.Duration,
	opts ...Option,
) (*Result, error) {
	r, err := NewRunner(launcher, opts...)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(artifactPath), filepath.Ext(artifactPath))
	return r.Run(ctx, Check{
		Name:         name,
		URL:          targetURL,
		Readiness:    readiness,
		Interactions: interactions,
		Capture:      Capture{Path: artifactPath},
		Timeouts:     Timeouts{Navigation: timeout},
	})
}

// Run executes c. The browser session it opens is closed before Run
// returns, whatever the outcome.
func (r *Runner) Run(ctx context.Context, c Check) (res *Result, err error) {
	res = &Result{RunID: uuid.NewString(), Check: c.Name}
	start := time.Now()

	ctx, span := r.tracer.Start(ctx, "check "+c.Name, trace.WithAttributes(
		attribute.String("vischeck.check", c.Name),
		attribute.String("vischeck.run_id", res.RunID),
	))
	defer func() {
		res.Duration = time.Since(start)
		r.observer.CheckDone(c.Name, res.Duration, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := c.Validate(); err != nil {
		return res, err
	}
	target, err := r.resolve(c.URL)
	if err != nil {
		return res, err
	}
	res.URL = target
	span.SetAttributes(attribute.String("vischeck.url", target))

	ts := NewTimeoutSettings(r.timeouts)
	ts.Apply(c.Timeouts)

	cr := &checkRun{
		runner:   r,
		check:    c,
		result:   res,
		timeouts: ts,
		logger:   r.logger.WithField("check", c.Name).WithField("run_id", res.RunID),
	}
	return res, cr.execute(ctx, target)
}

// resolve makes u absolute against the base URL.
func (r *Runner) resolve(u string) (string, error) {
	ref, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("%w: parsing url %q: %w", ErrInvalidCheck, u, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if r.baseURL == nil {
		return "", invalidf("relative url %q needs a base url", u)
	}
	return r.baseURL.ResolveReference(ref).String(), nil
}

// checkRun is the state of a single Runner.Run call.
type checkRun struct {
	runner   *Runner
	check    Check
	result   *Result
	timeouts *TimeoutSettings
	logger   *log.Logger
}

func (cr *checkRun) execute(ctx context.Context, target string) (err error) {
	var (
		session Session
		r       = cr.runner
	)
	err = cr.stage(ctx, StageLaunch, func(ctx context.Context) error {
		s, err := r.launcher.Launch(ctx)
		if err != nil {
			return &LaunchError{Err: err}
		}
		session = s
		return nil
	})
	if err != nil {
		return err
	}

	var closeOnce sync.Once
	defer closeOnce.Do(func() {
		if cerr := session.Close(); cerr != nil {
			cr.logger.Warnf("harness:close", "closing browser session: %v", cerr)
		}
	})

	var (
		transcript *Transcript
		sink       ConsoleSink
	)
	if cr.check.Console {
		transcript = NewTranscript()
		sink = transcript
		defer cr.flushTranscript(transcript)
	}

	vp := cr.check.Viewport
	if vp.Width == 0 || vp.Height == 0 {
		vp = r.viewport
	}
	page, err := session.NewPage(ctx, PageOptions{Viewport: vp, Console: sink})
	if err != nil {
		return &LaunchError{Err: fmt.Errorf("opening page: %w", err)}
	}

	defer func() {
		if err != nil {
			cr.captureDiagnostic(ctx, page)
		}
	}()

	err = cr.stage(ctx, StageNavigate, func(ctx context.Context) error {
		return cr.navigate(ctx, page, target, 0)
	})
	if err != nil {
		return err
	}

	err = cr.stage(ctx, StageReadiness, func(ctx context.Context) error {
		return cr.await(ctx, page, cr.check.Readiness, 0)
	})
	if err != nil {
		return err
	}

	if len(cr.check.Interactions) > 0 {
		err = cr.stage(ctx, StageInteract, func(ctx context.Context) error {
			for n, i := range cr.check.Interactions {
				if err := cr.interact(ctx, page, i, n+1); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return cr.stage(ctx, StageCapture, func(ctx context.Context) error {
		return cr.capture(ctx, page)
	})
}

// stage runs fn as one traced and timed stage of the check.
func (cr *checkRun) stage(ctx context.Context, s Stage, fn func(context.Context) error) error {
	ctx, span := cr.runner.tracer.Start(ctx, string(s))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	d := time.Since(start)

	cr.result.Stages = append(cr.result.Stages, StageTiming{Stage: s, Duration: d})
	cr.runner.observer.StageDone(cr.check.Name, s, d, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		cr.logger.Debugf("harness:"+string(s), "failed after %s: %v", d, err)
		return err
	}
	cr.logger.Debugf("harness:"+string(s), "done in %s", d)
	return nil
}

func (cr *checkRun) navigate(ctx context.Context, page Page, u string, step int) error {
	timeout := cr.timeouts.Navigation()
	nctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cr.logger.Debugf("harness:navigate", "%sloading %s", stepPrefix(step), u)
	err := page.Navigate(nctx, u)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(nctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", errTimeout, timeout, err)
	}
	return &NavigationError{URL: u, Step: step, Timeout: timeout, Err: err}
}

func (cr *checkRun) capture(ctx context.Context, page Page) error {
	cctx, cancel := context.WithTimeout(ctx, cr.timeouts.Capture())
	defer cancel()

	path := cr.check.Capture.Path
	buf, err := page.Screenshot(cctx, ScreenshotOptions{
		Selector: cr.check.Capture.Selector,
		FullPage: cr.check.Capture.FullPage,
	})
	if err != nil {
		return &CaptureError{Path: path, Err: err}
	}
	art, err := cr.runner.persist(cctx, path, ArtifactScreenshot, buf)
	if err != nil {
		return &CaptureError{Path: path, Err: err}
	}
	cr.result.Artifact = art
	cr.logger.Infof("harness:capture", "screenshot saved to %s (%dx%d)", art.Path, art.Width, art.Height)
	return nil
}

// captureDiagnostic takes a best-effort viewport screenshot after a failure.
// It runs even when ctx was cancelled, bounded by the capture timeout.
func (cr *checkRun) captureDiagnostic(ctx context.Context, page Page) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cr.timeouts.Capture())
	defer cancel()

	path := cr.check.ErrorArtifactPath()
	buf, err := page.Screenshot(dctx, ScreenshotOptions{})
	var art *Artifact
	if err == nil {
		art, err = cr.runner.persist(dctx, path, ArtifactErrorScreenshot, buf)
	}
	if err != nil {
		cr.logger.Warnf("harness:diagnostic", "capturing error screenshot %s: %v", path, err)
		return
	}
	cr.result.ErrorArtifact = art
	cr.logger.Infof("harness:diagnostic", "error screenshot saved to %s", art.Path)
}

func (cr *checkRun) flushTranscript(t *Transcript) {
	cr.result.Transcript = t.Messages()
	if _, err := t.Flush(cr.runner.out, cr.check.Name); err != nil {
		cr.logger.Warnf("harness:console", "%v", err)
	}
}

// persist checks that buf is a PNG and stores it at path.
func (r *Runner) persist(ctx context.Context, path string, kind ArtifactKind, buf []byte) (*Artifact, error) {
	if len(buf) == 0 {
		return nil, errEmptyScreenshot
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("screenshot is not a PNG: %w", err)
	}
	if err := r.persister.Persist(ctx, path, bytes.NewReader(buf)); err != nil {
		return nil, fmt.Errorf("persisting: %w", err)
	}
	return &Artifact{Path: path, Kind: kind, Size: len(buf), Width: cfg.Width, Height: cfg.Height}, nil
}
