// Package tests runs the vischeck commands end to end against an in-memory
// browser and file system.
package tests

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/liuxd6825/vischeck/chromium"
	"github.com/liuxd6825/vischeck/cmd/state"
	"github.com/liuxd6825/vischeck/harness"
	"github.com/liuxd6825/vischeck/log"
	"github.com/liuxd6825/vischeck/ui/console"
)

// Main is a TestMain function that checks no goroutine outlives the tests.
func Main(m *testing.M) {
	exitCode := 1 // error out by default
	defer func() {
		os.Exit(exitCode)
	}()

	defer func() {
		// logrus' Logger.Writer goroutine, handed to the standard log
		// package, lives as long as the process.
		opt := goleak.IgnoreTopFunction("io.(*pipe).read")
		if err := goleak.Find(opt); err != nil {
			fmt.Println(err) //nolint:forbidigo
			exitCode = 3
		}
	}()

	exitCode = m.Run()
}

// GlobalTestState wraps a GlobalState whose outputs are captured.
type GlobalTestState struct {
	*state.GlobalState
	Cancel func()

	Stdout, Stderr *bytes.Buffer
	LoggerHook     *logtest.Hook
	Browser        *FakeBrowser

	Cwd string

	ExpectedExitCode int
}

// NewGlobalTestState returns a state with an in-memory file system, no
// environment and a FakeBrowser. The exit code passed to OSExit is checked
// against ExpectedExitCode.
func NewGlobalTestState(tb testing.TB) *GlobalTestState {
	tb.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	tb.Cleanup(cancel)

	fs := afero.NewMemMapFs()
	cwd := "/test/"
	require.NoError(tb, fs.MkdirAll(cwd, 0o755))

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	hook := logtest.NewLocal(logger)

	ts := &GlobalTestState{
		Cancel:     cancel,
		Stdout:     new(bytes.Buffer),
		Stderr:     new(bytes.Buffer),
		LoggerHook: hook,
		Browser:    NewFakeBrowser(tb),
		Cwd:        cwd,
	}

	osExitCalled := false
	defaultOsExitHandle := func(exitCode int) {
		cancel()
		osExitCalled = true
		assert.Equal(tb, ts.ExpectedExitCode, exitCode)
	}
	tb.Cleanup(func() {
		assert.True(tb, osExitCalled, "the os.Exit() mock was not called")
	})

	stdout := console.NewOSFileW(ts.Stdout, math.MaxUint32)
	stderr := console.NewOSFileW(ts.Stderr, math.MaxUint32)
	cons := console.New(stdout, stderr, false, "")
	cons.SetLogger(logger)

	defaultFlags := state.GetDefaultGlobalOptions(".config")
	ts.GlobalState = &state.GlobalState{
		Ctx:            ctx,
		FS:             fs,
		Getwd:          func() (string, error) { return ts.Cwd, nil },
		BinaryName:     "vischeck",
		CmdArgs:        []string{},
		Env:            map[string]string{},
		DefaultFlags:   defaultFlags,
		Flags:          defaultFlags,
		Console:        cons,
		Logger:         logger,
		FallbackLogger: logger,
		NewLauncher: func(opts chromium.LaunchOptions, _ *log.Logger) harness.Launcher {
			ts.Browser.setLaunchOptions(opts)
			return ts.Browser
		},
		SignalNotify: signalNotifyNoop,
		SignalStop:   func(chan<- os.Signal) {},
		OSExit:       defaultOsExitHandle,
	}
	return ts
}

func signalNotifyNoop(chan<- os.Signal, ...os.Signal) {}

// FakeBrowser is an in-memory harness.Launcher. Every selector is visible
// unless listed in Missing, and screenshots are blank PNGs.
type FakeBrowser struct {
	mu sync.Mutex

	Missing   map[string]bool
	LaunchErr error

	launchOpts chromium.LaunchOptions
	visited    []string
	launches   int
	closes     int
	png        []byte
}

// NewFakeBrowser returns a browser showing every element.
func NewFakeBrowser(tb testing.TB) *FakeBrowser {
	tb.Helper()

	var buf bytes.Buffer
	require.NoError(tb, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 32, 24))))
	return &FakeBrowser{Missing: make(map[string]bool), png: buf.Bytes()}
}

func (b *FakeBrowser) setLaunchOptions(opts chromium.LaunchOptions) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.launchOpts = opts
}

// LaunchOptions returns the options of the last launcher created.
func (b *FakeBrowser) LaunchOptions() chromium.LaunchOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.launchOpts
}

// Visited returns the navigated URLs in order.
func (b *FakeBrowser) Visited() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.visited...)
}

// Sessions reports how many sessions were launched and closed.
func (b *FakeBrowser) Sessions() (launched, closed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.launches, b.closes
}

// Launch implements harness.Launcher.
func (b *FakeBrowser) Launch(ctx context.Context) (harness.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.LaunchErr != nil {
		return nil, b.LaunchErr
	}
	b.launches++
	return &fakeSession{b: b}, ctx.Err()
}

type fakeSession struct {
	b      *FakeBrowser
	closed bool
}

func (s *fakeSession) NewPage(_ context.Context, _ harness.PageOptions) (harness.Page, error) {
	return &fakePage{b: s.b, values: make(map[string]string)}, nil
}

func (s *fakeSession) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.b.closes++
	}
	return nil
}

type fakePage struct {
	b      *FakeBrowser
	url    string
	values map[string]string
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	p.b.visited = append(p.b.visited, url)
	p.url = url
	return ctx.Err()
}

func (p *fakePage) Inspect(_ context.Context, selector string) (harness.ElementState, error) {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	if p.b.Missing[selector] {
		return harness.ElementState{}, nil
	}
	return harness.ElementState{Present: true, Width: 320, Height: 240, Value: p.values[selector]}, nil
}

func (p *fakePage) NetworkIdle(time.Duration) bool { return true }

func (p *fakePage) Click(context.Context, string) error { return nil }

func (p *fakePage) SetValue(_ context.Context, selector, value string) error {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	p.values[selector] = value
	return nil
}

func (p *fakePage) URL(context.Context) (string, error) { return p.url, nil }

func (p *fakePage) Screenshot(ctx context.Context, _ harness.ScreenshotOptions) ([]byte, error) {
	return p.b.png, ctx.Err()
}
