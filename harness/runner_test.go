package harness

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/liuxd6825/vischeck/errext"
	"github.com/liuxd6825/vischeck/errext/exitcodes"
	"github.com/liuxd6825/vischeck/log"
	"github.com/liuxd6825/vischeck/storage"
)

const testBaseURL = "http://localhost:3001"

func newTestRunner(t *testing.T, l Launcher, opts ...Option) (*Runner, afero.Fs, *bytes.Buffer) {
	t.Helper()

	fs := afero.NewMemMapFs()
	out := &bytes.Buffer{}
	base := []Option{
		WithPersister(storage.NewFilePersister(fs)),
		WithOutput(out),
		WithBaseURL(testBaseURL),
		WithPollInterval(time.Millisecond),
	}
	r, err := NewRunner(l, append(base, opts...)...)
	require.NoError(t, err)
	return r, fs, out
}

func exists(t *testing.T, fs afero.Fs, path string) bool {
	t.Helper()

	ok, err := afero.Exists(fs, path)
	require.NoError(t, err)
	return ok
}

func stagesOf(res *Result) []Stage {
	var s []Stage
	for _, st := range res.Stages {
		s = append(s, st.Stage)
	}
	return s
}

func TestRunElementScreenshot(t *testing.T) {
	t.Parallel()

	l, s, p := newFakeDriver(t)
	p.setElement("#sketch-holder", visibleElement())
	r, fs, _ := newTestRunner(t, l)

	res, err := r.Run(context.Background(), Check{
		Name:      "cloud-fix",
		URL:       "/iss-detector",
		Readiness: WaitVisible("#sketch-holder", time.Second),
		Capture:   Capture{Path: "out/verification.png", Selector: "#sketch-holder"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, s.closeCount())
	assert.Equal(t, testBaseURL+"/iss-detector", res.URL)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, []Stage{StageLaunch, StageNavigate, StageReadiness, StageCapture}, stagesOf(res))
	assert.Equal(t, DefaultViewport, s.opts.Viewport)
	assert.Nil(t, s.opts.Console)
	assert.Equal(t, []string{
		"navigate " + testBaseURL + "/iss-detector",
		`screenshot "#sketch-holder"`,
	}, p.recorded())

	require.NotNil(t, res.Artifact)
	assert.Equal(t, Artifact{
		Path: "out/verification.png", Kind: ArtifactScreenshot,
		Size: len(p.shot), Width: 64, Height: 48,
	}, *res.Artifact)
	data, err := afero.ReadFile(fs, "out/verification.png")
	require.NoError(t, err)
	assert.Equal(t, p.shot, data)
	assert.False(t, exists(t, fs, "out/error-verification.png"))
	assert.Nil(t, res.ErrorArtifact)
}

func TestRunReadinessTimeout(t *testing.T) {
	t.Parallel()

	l, s, _ := newFakeDriver(t)
	r, fs, _ := newTestRunner(t, l)

	start := time.Now()
	res, err := r.Run(context.Background(), Check{
		Name:      "missing",
		URL:       "/iss-detector",
		Readiness: WaitVisible("#sketch-holder", time.Millisecond),
		Capture:   Capture{Path: "out/verification.png"},
	})
	assert.Less(t, time.Since(start), 2*time.Second)

	var rerr *ReadinessTimeoutError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "absent", rerr.LastState)
	assert.Equal(t, time.Millisecond, rerr.Timeout)
	assert.Equal(t, 0, rerr.Step)
	assert.Equal(t, exitcodes.ReadinessTimeout, errext.ExitCodeOf(err, exitcodes.GenericEngine))
	assert.NotEmpty(t, errext.HintOf(err))

	assert.Equal(t, 1, s.closeCount())
	require.NotNil(t, res.ErrorArtifact)
	assert.Equal(t, "out/error-verification.png", res.ErrorArtifact.Path)
	assert.Equal(t, ArtifactErrorScreenshot, res.ErrorArtifact.Kind)
	assert.True(t, exists(t, fs, "out/error-verification.png"))
	assert.False(t, exists(t, fs, "out/verification.png"))
	assert.Nil(t, res.Artifact)
}

func TestRunSliderFill(t *testing.T) {
	t.Parallel()

	const slider = "#predictionLengthSlider"
	l, s, p := newFakeDriver(t)
	p.setElement("#sketch-holder canvas", visibleElement())
	p.setElement(slider, ElementState{
		Present: true, Width: 200, Height: 16, Value: "1440",
		Attributes: map[string]string{"max": "6480"},
	})
	p.consoleOnNavigate = []string{"p5 setup done", "prediction length 1440"}
	r, fs, out := newTestRunner(t, l)

	res, err := r.Run(context.Background(), Check{
		Name:      "slider-update",
		URL:       "/iss-detector",
		Readiness: WaitVisible("#sketch-holder canvas", 0),
		Interactions: []Interaction{
			Await(WaitAttribute(slider, "max", "6480")),
			Fill(slider, "6480"),
			Await(WaitDelay(5 * time.Millisecond)),
		},
		Capture:   Capture{Path: "out/final_verification.png"},
		ErrorPath: "out/error.png",
		Console:   true,
	})
	require.NoError(t, err)

	st, err := p.Inspect(context.Background(), slider)
	require.NoError(t, err)
	assert.Equal(t, "6480", st.Value)
	assert.Equal(t, 1, s.closeCount())
	assert.True(t, exists(t, fs, "out/final_verification.png"))
	assert.False(t, exists(t, fs, "out/error.png"))

	assert.Equal(t, p.consoleOnNavigate, res.Transcript)
	assert.Equal(t, "--- BROWSER CONSOLE: slider-update ---\n"+
		"BROWSER CONSOLE: p5 setup done\n"+
		"BROWSER CONSOLE: prediction length 1440\n"+
		"--- END BROWSER CONSOLE (2 messages) ---\n", out.String())
}

func TestRunFillReadBackMismatch(t *testing.T) {
	t.Parallel()

	l, s, p := newFakeDriver(t)
	p.setElement("#ready", visibleElement())
	p.setElement("#slider", ElementState{Present: true, Width: 10, Height: 10, Value: "1440"})
	p.rejectFill = true
	r, _, _ := newTestRunner(t, l)

	_, err := r.Run(context.Background(), Check{
		Name:         "fill",
		URL:          "/iss-detector",
		Readiness:    WaitVisible("#ready", 0),
		Interactions: []Interaction{Fill("#slider", "6480")},
		Capture:      Capture{Path: "out/fill.png"},
	})
	var ierr *InteractionError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 1, ierr.Step)
	assert.Equal(t, `value read back as "1440"`, ierr.Reason)
	assert.Equal(t, 1, s.closeCount())
}

func TestRunNavigationFailure(t *testing.T) {
	t.Parallel()

	l, s, p := newFakeDriver(t)
	p.navigateErr = errors.New("page load error net::ERR_CONNECTION_REFUSED")
	r, _, _ := newTestRunner(t, l)

	res, err := r.Run(context.Background(), Check{
		Name:      "down",
		URL:       "/iss-detector",
		Readiness: WaitVisible("#sketch-holder", 0),
		Capture:   Capture{Path: "out/down.png"},
	})
	var nerr *NavigationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, testBaseURL+"/iss-detector", nerr.URL)
	assert.False(t, nerr.TimedOut())
	assert.Contains(t, err.Error(), "net::ERR_CONNECTION_REFUSED")
	assert.Equal(t, exitcodes.NavigationFailed, errext.ExitCodeOf(err, exitcodes.GenericEngine))
	assert.Equal(t, []Stage{StageLaunch, StageNavigate}, stagesOf(res))
	assert.Equal(t, 1, s.closeCount())
}

func TestRunNavigationTimeout(t *testing.T) {
	t.Parallel()

	l, s, p := newFakeDriver(t)
	p.blockNavigate = true
	r, _, _ := newTestRunner(t, l)

	start := time.Now()
	_, err := r.Run(context.Background(), Check{
		Name:      "hang",
		URL:       "/iss-detector",
		Readiness: WaitVisible("#sketch-holder", 0),
		Capture:   Capture{Path: "out/hang.png"},
		Timeouts:  Timeouts{Navigation: 20 * time.Millisecond},
	})
	assert.Less(t, time.Since(start), 2*time.Second)

	var nerr *NavigationError
	require.ErrorAs(t, err, &nerr)
	assert.True(t, nerr.TimedOut())
	assert.Equal(t, 20*time.Millisecond, nerr.Timeout)
	assert.Contains(t, nerr.Hint(), "navigation timeout")
	assert.Equal(t, 1, s.closeCount())
}

func TestRunInteractionOrder(t *testing.T) {
	t.Parallel()

	l, s, p := newFakeDriver(t)
	p.setElement("#ready", visibleElement())
	p.setElement("a.create", visibleElement())
	p.setElement("#name", visibleElement())
	p.redirects["a.create"] = testBaseURL + "/device-config-profile"
	p.idle = true
	r, _, _ := newTestRunner(t, l)

	res, err := r.Run(context.Background(), Check{
		Name:      "order",
		URL:       "/iot",
		Readiness: WaitVisible("#ready", 0),
		Interactions: []Interaction{
			Click("a.create"),
			ExpectURL("/device-config-profile"),
			Fill("#name", "sensor-1"),
			Navigate("/iot"),
			Await(WaitNetworkIdle(0)),
		},
		Capture: Capture{Path: "out/order.png", FullPage: true},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"navigate " + testBaseURL + "/iot",
		"click a.create",
		"fill #name sensor-1",
		"navigate " + testBaseURL + "/iot",
		`screenshot ""`,
	}, p.recorded())
	assert.Equal(t, []Stage{StageLaunch, StageNavigate, StageReadiness, StageInteract, StageCapture}, stagesOf(res))
	assert.Equal(t, 1, s.closeCount())
}

func TestRunInteractionFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		state  ElementState
		reason string
	}{
		{name: "absent", state: ElementState{}, reason: ReasonNotFound},
		{name: "zero_area", state: ElementState{Present: true}, reason: ReasonNotInteractable},
		{name: "zero_height", state: ElementState{Present: true, Width: 10}, reason: ReasonNotInteractable},
		{
			name:   "display_none",
			state:  ElementState{Present: true, Width: 10, Height: 10, DisplayNone: true},
			reason: ReasonNotInteractable,
		},
		{
			name:   "visibility_hidden",
			state:  ElementState{Present: true, Width: 10, Height: 10, Hidden: true},
			reason: ReasonNotInteractable,
		},
		{
			name:   "disabled",
			state:  ElementState{Present: true, Width: 10, Height: 10, Disabled: true},
			reason: ReasonNotInteractable,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			l, s, p := newFakeDriver(t)
			p.setElement("#ready", visibleElement())
			p.setElement("#next", visibleElement())
			if tt.state.Present {
				p.setElement("#target", tt.state)
			}
			r, fs, _ := newTestRunner(t, l)

			res, err := r.Run(context.Background(), Check{
				Name:         tt.name,
				URL:          "/iot",
				Readiness:    WaitVisible("#ready", 0),
				Interactions: []Interaction{Click("#target"), Click("#next")},
				Capture:      Capture{Path: "out/x.png"},
				Timeouts:     Timeouts{Interaction: 10 * time.Millisecond},
			})

			var ierr *InteractionError
			require.ErrorAs(t, err, &ierr)
			assert.Equal(t, tt.reason, ierr.Reason)
			assert.Equal(t, 1, ierr.Step)
			assert.Equal(t, exitcodes.InteractionFailed, errext.ExitCodeOf(err, exitcodes.GenericEngine))
			assert.NotContains(t, p.recorded(), "click #next")
			assert.Equal(t, 1, s.closeCount())
			require.NotNil(t, res.ErrorArtifact)
			assert.True(t, exists(t, fs, "out/error-x.png"))
		})
	}
}

func TestRunInteractionAutoWait(t *testing.T) {
	t.Parallel()

	l, _, p := newFakeDriver(t)
	p.setElement("#ready", visibleElement())
	p.setElement("#late", visibleElement())
	p.reveal["#late"] = 3
	r, _, _ := newTestRunner(t, l)

	_, err := r.Run(context.Background(), Check{
		Name:         "late",
		URL:          "/iot",
		Readiness:    WaitVisible("#ready", 0),
		Interactions: []Interaction{Click("#late")},
		Capture:      Capture{Path: "out/late.png"},
	})
	require.NoError(t, err)
	assert.Contains(t, p.recorded(), "click #late")
}

func TestRunExpectURLMismatch(t *testing.T) {
	t.Parallel()

	l, _, p := newFakeDriver(t)
	p.setElement("#ready", visibleElement())
	r, _, _ := newTestRunner(t, l)

	_, err := r.Run(context.Background(), Check{
		Name:         "url",
		URL:          "/iot",
		Readiness:    WaitVisible("#ready", 0),
		Interactions: []Interaction{ExpectURL("/device-config-profile")},
		Capture:      Capture{Path: "out/url.png"},
		Timeouts:     Timeouts{Interaction: 5 * time.Millisecond},
	})
	var ierr *InteractionError
	require.ErrorAs(t, err, &ierr)
	assert.Contains(t, ierr.Reason, testBaseURL+"/iot")
}

func TestRunCaptureFailures(t *testing.T) {
	t.Parallel()

	t.Run("screenshot_error", func(t *testing.T) {
		t.Parallel()

		l, s, p := newFakeDriver(t)
		p.setElement("#ready", visibleElement())
		p.shotErrs = []error{errors.New("target closed"), errors.New("still closed")}
		r, fs, _ := newTestRunner(t, l)

		res, err := r.Run(context.Background(), Check{
			Name: "shot", URL: "/iot", Readiness: WaitVisible("#ready", 0),
			Capture: Capture{Path: "out/shot.png"},
		})
		var cerr *CaptureError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "out/shot.png", cerr.Path)
		assert.Contains(t, err.Error(), "target closed")
		assert.Nil(t, res.ErrorArtifact)
		assert.False(t, exists(t, fs, "out/error-shot.png"))
		assert.Equal(t, 1, s.closeCount())
	})

	t.Run("not_png", func(t *testing.T) {
		t.Parallel()

		l, _, p := newFakeDriver(t)
		p.setElement("#ready", visibleElement())
		p.shot = []byte("<html>")
		r, fs, _ := newTestRunner(t, l)

		_, err := r.Run(context.Background(), Check{
			Name: "shot", URL: "/iot", Readiness: WaitVisible("#ready", 0),
			Capture: Capture{Path: "out/shot.png"},
		})
		var cerr *CaptureError
		require.ErrorAs(t, err, &cerr)
		assert.Contains(t, err.Error(), "not a PNG")
		assert.False(t, exists(t, fs, "out/shot.png"))
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()

		l, _, p := newFakeDriver(t)
		p.setElement("#ready", visibleElement())
		p.shot = nil
		r, _, _ := newTestRunner(t, l)

		_, err := r.Run(context.Background(), Check{
			Name: "shot", URL: "/iot", Readiness: WaitVisible("#ready", 0),
			Capture: Capture{Path: "out/shot.png"},
		})
		require.ErrorIs(t, err, errEmptyScreenshot)
		assert.Equal(t, exitcodes.CaptureFailed, errext.ExitCodeOf(err, exitcodes.GenericEngine))
	})
}

func TestRunLaunchFailures(t *testing.T) {
	t.Parallel()

	t.Run("launch", func(t *testing.T) {
		t.Parallel()

		l, s, _ := newFakeDriver(t)
		l.err = errors.New("exec: chromium: not found")
		r, _, _ := newTestRunner(t, l)

		_, err := r.Run(context.Background(), Check{
			Name: "x", URL: "/", Readiness: WaitNetworkIdle(0), Capture: Capture{Path: "x.png"},
		})
		var lerr *LaunchError
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, exitcodes.BrowserLaunch, errext.ExitCodeOf(err, exitcodes.GenericEngine))
		assert.Equal(t, 0, s.closeCount())
	})

	t.Run("new_page", func(t *testing.T) {
		t.Parallel()

		l, s, _ := newFakeDriver(t)
		s.newPageErr = errors.New("target crashed")
		r, _, _ := newTestRunner(t, l)

		_, err := r.Run(context.Background(), Check{
			Name: "x", URL: "/", Readiness: WaitNetworkIdle(0), Capture: Capture{Path: "x.png"},
		})
		var lerr *LaunchError
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, 1, s.closeCount())
	})
}

func TestRunPanicReleasesSession(t *testing.T) {
	t.Parallel()

	l, s, p := newFakeDriver(t)
	p.setElement("#ready", visibleElement())
	p.setElement("#boom", visibleElement())
	p.panicOn = "#boom"
	p.consoleOnNavigate = []string{"before panic"}
	r, _, out := newTestRunner(t, l)

	assert.Panics(t, func() {
		_, _ = r.Run(context.Background(), Check{
			Name: "panic", URL: "/", Readiness: WaitVisible("#ready", 0),
			Interactions: []Interaction{Click("#boom")},
			Capture:      Capture{Path: "x.png"},
			Console:      true,
		})
	})
	assert.Equal(t, 1, s.closeCount())
	assert.Contains(t, out.String(), "BROWSER CONSOLE: before panic")
}

func TestRunCloseErrorIsLogged(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&logs)

	l, s, p := newFakeDriver(t)
	p.setElement("#ready", visibleElement())
	s.closeErr = errors.New("browser already gone")
	r, _, _ := newTestRunner(t, l, WithLogger(log.New(logger, nil)))

	_, err := r.Run(context.Background(), Check{
		Name: "close", URL: "/", Readiness: WaitVisible("#ready", 0), Capture: Capture{Path: "x.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.closeCount())
	assert.Contains(t, logs.String(), "browser already gone")
}

func TestRunContextCancelled(t *testing.T) {
	t.Parallel()

	l, s, _ := newFakeDriver(t)
	r, fs, _ := newTestRunner(t, l)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(20*time.Millisecond, cancel)
	defer timer.Stop()

	start := time.Now()
	res, err := r.Run(ctx, Check{
		Name:      "cancel",
		URL:       "/",
		Readiness: WaitVisible("#never", time.Minute),
		Capture:   Capture{Path: "out/cancel.png"},
	})
	assert.Less(t, time.Since(start), 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, s.closeCount())
	require.NotNil(t, res.ErrorArtifact)
	assert.True(t, exists(t, fs, "out/error-cancel.png"))
}

func TestRunConsoleFlushedOnFailure(t *testing.T) {
	t.Parallel()

	l, _, p := newFakeDriver(t)
	p.consoleOnNavigate = []string{"Uncaught TypeError: x is undefined"}
	r, _, out := newTestRunner(t, l)

	_, err := r.Run(context.Background(), Check{
		Name:      "broken",
		URL:       "/",
		Readiness: WaitVisible("#app", time.Millisecond),
		Capture:   Capture{Path: "x.png"},
		Console:   true,
	})
	require.Error(t, err)
	assert.Equal(t, 1, strings.Count(out.String(), "--- BROWSER CONSOLE: broken ---"))
	assert.Contains(t, out.String(), "BROWSER CONSOLE: Uncaught TypeError: x is undefined\n")
	assert.Contains(t, out.String(), "--- END BROWSER CONSOLE (1 messages) ---")
}

func TestRunInvalidChecks(t *testing.T) {
	t.Parallel()

	valid := Check{
		Name: "valid", URL: "/", Readiness: WaitNetworkIdle(0), Capture: Capture{Path: "x.png"},
	}
	tests := []struct {
		name   string
		modify func(*Check)
		msg    string
	}{
		{name: "no_url", modify: func(c *Check) { c.URL = " " }, msg: "has no url"},
		{name: "no_path", modify: func(c *Check) { c.Capture.Path = "" }, msg: "no artifact path"},
		{name: "unknown_readiness", modify: func(c *Check) { c.Readiness.Kind = "eventually" }, msg: "unknown readiness"},
		{
			name:   "visible_without_selector",
			modify: func(c *Check) { c.Readiness = WaitVisible("", 0) },
			msg:    "needs a selector",
		},
		{name: "zero_delay", modify: func(c *Check) { c.Readiness = WaitDelay(0) }, msg: "positive delay"},
		{
			name:   "negative_timeout",
			modify: func(c *Check) { c.Timeouts.Capture = -time.Second },
			msg:    "capture timeout must be positive",
		},
		{
			name:   "click_without_selector",
			modify: func(c *Check) { c.Interactions = []Interaction{Click("")} },
			msg:    "step 1",
		},
		{
			name:   "unknown_step",
			modify: func(c *Check) { c.Interactions = []Interaction{{Kind: "hover"}} },
			msg:    `unknown interaction kind "hover"`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			l, s, p := newFakeDriver(t)
			r, _, _ := newTestRunner(t, l)
			c := valid
			tt.modify(&c)

			_, err := r.Run(context.Background(), c)
			require.ErrorIs(t, err, ErrInvalidCheck)
			assert.Contains(t, err.Error(), tt.msg)
			assert.Equal(t, exitcodes.InvalidConfig, errext.ExitCodeOf(err, exitcodes.GenericEngine))
			assert.Empty(t, p.recorded())
			assert.Equal(t, 0, s.closeCount())
		})
	}

	t.Run("relative_without_base", func(t *testing.T) {
		t.Parallel()

		l, _, _ := newFakeDriver(t)
		r, err := NewRunner(l, WithOutput(io.Discard))
		require.NoError(t, err)

		_, err = r.Run(context.Background(), valid)
		require.ErrorIs(t, err, ErrInvalidCheck)
		assert.Contains(t, err.Error(), "needs a base url")
	})
}

func TestNewRunnerOptions(t *testing.T) {
	t.Parallel()

	l, _, _ := newFakeDriver(t)
	for _, opt := range []Option{
		WithBaseURL("://missing-scheme"),
		WithBaseURL("/relative"),
		WithViewport(Viewport{Width: 0, Height: 10}),
		WithPollInterval(0),
		WithNetworkIdleQuiet(-time.Second),
	} {
		_, err := NewRunner(l, opt)
		assert.ErrorIs(t, err, ErrInvalidCheck)
	}
}

func TestRunCheck(t *testing.T) {
	t.Parallel()

	l, s, p := newFakeDriver(t)
	p.idle = true
	fs := afero.NewMemMapFs()

	res, err := RunCheck(context.Background(), l,
		testBaseURL+"/iot", WaitNetworkIdle(time.Second), nil, "jules-scratch/verification/iot_page.png", 0,
		WithPersister(storage.NewFilePersister(fs)), WithOutput(io.Discard), WithPollInterval(time.Millisecond),
	)
	require.NoError(t, err)
	assert.Equal(t, "iot_page", res.Check)
	assert.True(t, exists(t, fs, "jules-scratch/verification/iot_page.png"))
	assert.Equal(t, 1, s.closeCount())

	_, err = RunCheck(context.Background(), l, testBaseURL, WaitNetworkIdle(0), nil, "x.png", -time.Second)
	assert.ErrorIs(t, err, ErrInvalidCheck)
}

type recordingObserver struct {
	mu     sync.Mutex
	stages []string
	checks []string
}

func (o *recordingObserver) StageDone(check string, stage Stage, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stages = append(o.stages, check+"/"+string(stage)+"/"+outcome(err))
}

func (o *recordingObserver) CheckDone(check string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.checks = append(o.checks, check+"/"+outcome(err))
}

func outcome(err error) string {
	if err != nil {
		return "fail"
	}
	return "ok"
}

func TestRunObserverAndSpans(t *testing.T) {
	t.Parallel()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	obs := &recordingObserver{}
	l, _, _ := newFakeDriver(t)
	r, _, _ := newTestRunner(t, l, WithObserver(obs), WithTracer(tp.Tracer("test")))

	_, err := r.Run(context.Background(), Check{
		Name: "obs", URL: "/", Readiness: WaitVisible("#x", time.Millisecond), Capture: Capture{Path: "x.png"},
	})
	require.Error(t, err)

	assert.Equal(t, []string{"obs/launch/ok", "obs/navigate/ok", "obs/readiness/fail"}, obs.stages)
	assert.Equal(t, []string{"obs/fail"}, obs.checks)

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"launch", "navigate", "readiness", "check obs"}, names)
}

func TestRunLoggerCategories(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&logs)
	logger.SetLevel(logrus.DebugLevel)

	l, _, p := newFakeDriver(t)
	p.setElement("#ready", visibleElement())
	r, _, _ := newTestRunner(t, l, WithLogger(log.New(logger, regexp.MustCompile(`^harness:(navigate|capture)$`))))

	_, err := r.Run(context.Background(), Check{
		Name: "logs", URL: "/", Readiness: WaitVisible("#ready", 0), Capture: Capture{Path: "x.png"},
	})
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "category=\"harness:navigate\"")
	assert.Contains(t, logs.String(), "check=logs")
	assert.NotContains(t, logs.String(), "harness:readiness")
}
