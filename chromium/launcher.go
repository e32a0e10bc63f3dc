// Package chromium drives Chromium over the DevTools protocol with chromedp.
// It implements the browser contracts of package harness.
package chromium

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/liuxd6825/vischeck/harness"
	"github.com/liuxd6825/vischeck/log"
)

// DefaultLaunchTimeout bounds how long starting or connecting to a browser
// may take.
const DefaultLaunchTimeout = 30 * time.Second

// LaunchOptions configures how browsers are started.
type LaunchOptions struct {
	Headless bool
	// ExecutablePath overrides the Chromium lookup in PATH.
	ExecutablePath string
	// RemoteURL connects to an already running browser (ws://...) instead
	// of starting one.
	RemoteURL string
	NoSandbox bool
	// Args are extra command line flags in "name" or "name=value" form.
	// They override the defaults.
	Args []string
	// IgnoreDefaultArgs removes default flags by name.
	IgnoreDefaultArgs []string
	WindowSize        harness.Viewport
	Timeout           time.Duration
}

// NewLaunchOptions returns the defaults: headless, default window size.
func NewLaunchOptions() LaunchOptions {
	return LaunchOptions{
		Headless:   true,
		WindowSize: harness.DefaultViewport,
		Timeout:    DefaultLaunchTimeout,
	}
}

// Launcher starts one browser per session.
type Launcher struct {
	opts   LaunchOptions
	logger *log.Logger
}

var _ harness.Launcher = &Launcher{}

// NewLauncher returns a Launcher using opts.
func NewLauncher(opts LaunchOptions, logger *log.Logger) *Launcher {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultLaunchTimeout
	}
	return &Launcher{opts: opts, logger: logger}
}

// Launch starts a browser, or connects to the remote one, and waits until
// it accepts commands.
func (l *Launcher) Launch(ctx context.Context) (harness.Session, error) {
	// The browser outlives the launch call, so its contexts must not be
	// cancelled with ctx.
	base := context.WithoutCancel(ctx)

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if l.opts.RemoteURL != "" {
		l.logger.Debugf("chromium:launch", "connecting to %s", l.opts.RemoteURL)
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(base, l.opts.RemoteURL)
	} else {
		opts, err := l.allocatorOptions()
		if err != nil {
			return nil, err
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(base, opts...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(l.cdpLogf),
		chromedp.WithErrorf(l.cdpLogf),
	)

	lctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		// The first Run on a fresh context starts the browser.
		errc <- chromedp.Run(browserCtx)
	}()

	var err error
	select {
	case err = <-errc:
	case <-lctx.Done():
		browserCancel()
		<-errc
		err = fmt.Errorf("browser did not start within %s: %w", l.opts.Timeout, lctx.Err())
	}
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, err
	}

	l.logger.Debugf("chromium:launch", "browser ready")
	return &Session{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		logger:        l.logger,
	}, nil
}

func (l *Launcher) cdpLogf(format string, args ...interface{}) {
	l.logger.Tracef("chromium:cdp", format, args...)
}

func (l *Launcher) allocatorOptions() ([]chromedp.ExecAllocatorOption, error) {
	path := l.ExecutablePath()
	if path == "" {
		return nil, ErrNoBrowser
	}
	flags := prepareFlags(l.opts)
	args, err := parseArgs(flags)
	if err != nil {
		return nil, err
	}
	l.logger.Debugf("chromium:launch", "starting %s %s", path, strings.Join(args, " "))

	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := make([]chromedp.ExecAllocatorOption, 0, len(flags)+1)
	opts = append(opts, chromedp.ExecPath(path))
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}
	return opts, nil
}

// ExecutablePath returns the configured executable or the first Chromium
// found on this machine, or "" when there is none.
func (l *Launcher) ExecutablePath() string {
	if l.opts.ExecutablePath != "" {
		return l.opts.ExecutablePath
	}
	return FindExecPath()
}

// parseArgs renders flags as command line arguments, sorted by name.
func parseArgs(flags map[string]any) ([]string, error) {
	var args []string
	for name, value := range flags {
		switch value := value.(type) {
		case string:
			args = append(args, fmt.Sprintf("--%s=%s", name, value))
		case bool:
			if value {
				args = append(args, fmt.Sprintf("--%s", name))
			}
		default:
			return nil, fmt.Errorf(`invalid browser command line flag: "%s=%v"`, name, value)
		}
	}
	sort.Strings(args)
	return args, nil
}

func prepareFlags(lopts LaunchOptions) map[string]any {
	// After Puppeteer's and Playwright's default behavior.
	f := map[string]any{
		"disable-background-networking":                      true,
		"enable-features":                                    "NetworkService,NetworkServiceInProcess",
		"disable-background-timer-throttling":                true,
		"disable-backgrounding-occluded-windows":             true,
		"disable-breakpad":                                   true,
		"disable-component-extensions-with-background-pages": true,
		"disable-default-apps":                               true,
		"disable-dev-shm-usage":                              true,
		"disable-extensions":                                 true,
		"disable-hang-monitor":                               true,
		"disable-ipc-flooding-protection":                    true,
		"disable-popup-blocking":                             true,
		"disable-prompt-on-repost":                           true,
		"disable-renderer-backgrounding":                     true,
		"force-color-profile":                                "srgb",
		"metrics-recording-only":                             true,
		"no-first-run":                                       true,
		"enable-automation":                                  true,
		"password-store":                                     "basic",
		"use-mock-keychain":                                  true,
		"no-default-browser-check":                           true,

		"headless": lopts.Headless,
	}
	if lopts.WindowSize.Width > 0 && lopts.WindowSize.Height > 0 {
		f["window-size"] = fmt.Sprintf("%d,%d", lopts.WindowSize.Width, lopts.WindowSize.Height)
	}
	if lopts.Headless {
		f["hide-scrollbars"] = true
		f["mute-audio"] = true
	}
	// Chromium refuses to start as root without it, which is the common
	// case in CI containers.
	if lopts.NoSandbox || os.Getuid() == 0 {
		f["no-sandbox"] = true
	}
	for _, name := range lopts.IgnoreDefaultArgs {
		delete(f, strings.TrimPrefix(name, "--"))
	}
	setFlagsFromArgs(f, lopts.Args)

	return f
}

// setFlagsFromArgs fills flags by parsing "name=value" arguments. A bare
// name enables a boolean flag.
func setFlagsFromArgs(flags map[string]any, args []string) {
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		name = strings.TrimPrefix(strings.TrimSpace(name), "--")
		if name == "" {
			continue
		}
		if !ok {
			flags[name] = true
			continue
		}
		flags[name] = trimQuotes(strings.TrimSpace(value))
	}
}

func trimQuotes(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// ErrNoBrowser is returned by Launch when no Chromium is installed and no
// remote browser is configured.
var ErrNoBrowser = errors.New("no Chromium or Chrome executable found")

// FindExecPath returns the first Chromium or Chrome executable found, or "".
func FindExecPath() string {
	for _, path := range [...]string{
		// Unix-like
		"headless_shell",
		"headless-shell",
		"chromium",
		"chromium-browser",
		"google-chrome",
		"google-chrome-stable",
		"google-chrome-beta",
		"google-chrome-unstable",
		"/usr/bin/google-chrome",

		// Windows
		"chrome",
		"chrome.exe", // in case PATHEXT is misconfigured
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		filepath.Join(os.Getenv("USERPROFILE"), `AppData\Local\Google\Chrome\Application\chrome.exe`),

		// Mac
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	} {
		if _, err := exec.LookPath(path); err == nil {
			return path
		}
	}
	return ""
}
