/*
 *
 * k6 - a next-generation load testing tool
 * Copyright (C) 2016 Load Impact
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

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"regexp"
	"time"

	"github.com/mstoykov/envconfig"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/vischeck/chromium"
	"github.com/liuxd6825/vischeck/cmd/state"
	"github.com/liuxd6825/vischeck/errext"
	"github.com/liuxd6825/vischeck/errext/exitcodes"
	"github.com/liuxd6825/vischeck/harness"
	"github.com/liuxd6825/vischeck/lib/types"
	"github.com/liuxd6825/vischeck/scenario"
)

// Config is the run configuration. Every field is nullable so each layer
// (defaults, config file, environment, flags) only overrides what it sets.
type Config struct {
	BaseURL   null.String `json:"baseURL" envconfig:"VISCHECK_BASE_URL"`
	OutputDir null.String `json:"outputDir" envconfig:"VISCHECK_OUTPUT_DIR"`
	// UploadURL, when set, uploads artifacts through pre-signed URLs
	// requested from it instead of writing them to disk.
	UploadURL null.String `json:"uploadURL" envconfig:"VISCHECK_UPLOAD_URL"`

	Headless      null.Bool          `json:"headless" envconfig:"VISCHECK_HEADLESS"`
	BrowserPath   null.String        `json:"browserPath" envconfig:"VISCHECK_BROWSER_PATH"`
	RemoteURL     null.String        `json:"remoteURL" envconfig:"VISCHECK_REMOTE_URL"`
	NoSandbox     null.Bool          `json:"noSandbox" envconfig:"VISCHECK_NO_SANDBOX"`
	BrowserArgs   []string           `json:"browserArgs" envconfig:"VISCHECK_BROWSER_ARGS"`
	LaunchTimeout types.NullDuration `json:"launchTimeout" envconfig:"VISCHECK_LAUNCH_TIMEOUT"`
	Viewport      null.String        `json:"viewport" envconfig:"VISCHECK_VIEWPORT"`

	NavigationTimeout  types.NullDuration `json:"navigationTimeout" envconfig:"VISCHECK_NAVIGATION_TIMEOUT"`
	ReadinessTimeout   types.NullDuration `json:"readinessTimeout" envconfig:"VISCHECK_READINESS_TIMEOUT"`
	InteractionTimeout types.NullDuration `json:"interactionTimeout" envconfig:"VISCHECK_INTERACTION_TIMEOUT"`
	CaptureTimeout     types.NullDuration `json:"captureTimeout" envconfig:"VISCHECK_CAPTURE_TIMEOUT"`
	PollInterval       types.NullDuration `json:"pollInterval" envconfig:"VISCHECK_POLL_INTERVAL"`
	NetworkIdleQuiet   types.NullDuration `json:"networkIdleQuiet" envconfig:"VISCHECK_NETWORK_IDLE_QUIET"`

	FailFast     null.Bool   `json:"failFast" envconfig:"VISCHECK_FAIL_FAST"`
	Preflight    null.Bool   `json:"preflight" envconfig:"VISCHECK_PREFLIGHT"`
	MetricsFile  null.String `json:"metricsFile" envconfig:"VISCHECK_METRICS_FILE"`
	TracesOutput null.String `json:"tracesOutput" envconfig:"VISCHECK_TRACES_OUTPUT"`
	ResultsFile  null.String `json:"resultsFile" envconfig:"VISCHECK_RESULTS_FILE"`
}

// Apply the provided config on top of the current one, returning a new one.
// The provided config has priority over the current one.
func (c Config) Apply(cfg Config) Config {
	if cfg.BaseURL.Valid {
		c.BaseURL = cfg.BaseURL
	}
	if cfg.OutputDir.Valid {
		c.OutputDir = cfg.OutputDir
	}
	if cfg.UploadURL.Valid {
		c.UploadURL = cfg.UploadURL
	}
	if cfg.Headless.Valid {
		c.Headless = cfg.Headless
	}
	if cfg.BrowserPath.Valid {
		c.BrowserPath = cfg.BrowserPath
	}
	if cfg.RemoteURL.Valid {
		c.RemoteURL = cfg.RemoteURL
	}
	if cfg.NoSandbox.Valid {
		c.NoSandbox = cfg.NoSandbox
	}
	if len(cfg.BrowserArgs) > 0 {
		c.BrowserArgs = cfg.BrowserArgs
	}
	if cfg.LaunchTimeout.Valid {
		c.LaunchTimeout = cfg.LaunchTimeout
	}
	if cfg.Viewport.Valid {
		c.Viewport = cfg.Viewport
	}
	if cfg.NavigationTimeout.Valid {
		c.NavigationTimeout = cfg.NavigationTimeout
	}
	if cfg.ReadinessTimeout.Valid {
		c.ReadinessTimeout = cfg.ReadinessTimeout
	}
	if cfg.InteractionTimeout.Valid {
		c.InteractionTimeout = cfg.InteractionTimeout
	}
	if cfg.CaptureTimeout.Valid {
		c.CaptureTimeout = cfg.CaptureTimeout
	}
	if cfg.PollInterval.Valid {
		c.PollInterval = cfg.PollInterval
	}
	if cfg.NetworkIdleQuiet.Valid {
		c.NetworkIdleQuiet = cfg.NetworkIdleQuiet
	}
	if cfg.FailFast.Valid {
		c.FailFast = cfg.FailFast
	}
	if cfg.Preflight.Valid {
		c.Preflight = cfg.Preflight
	}
	if cfg.MetricsFile.Valid {
		c.MetricsFile = cfg.MetricsFile
	}
	if cfg.TracesOutput.Valid {
		c.TracesOutput = cfg.TracesOutput
	}
	if cfg.ResultsFile.Valid {
		c.ResultsFile = cfg.ResultsFile
	}
	return c
}

// defaultConfig holds the values used when no layer sets a field.
func defaultConfig() Config {
	return Config{
		BaseURL:            null.StringFrom(scenario.DefaultBaseURL),
		OutputDir:          null.StringFrom(scenario.DefaultOutputDir),
		Headless:           null.BoolFrom(true),
		LaunchTimeout:      types.NullDurationFrom(chromium.DefaultLaunchTimeout),
		Viewport:           null.StringFrom(harness.DefaultViewport.String()),
		NavigationTimeout:  types.NullDurationFrom(harness.DefaultNavigationTimeout),
		ReadinessTimeout:   types.NullDurationFrom(harness.DefaultReadinessTimeout),
		InteractionTimeout: types.NullDurationFrom(harness.DefaultInteractionTimeout),
		CaptureTimeout:     types.NullDurationFrom(harness.DefaultCaptureTimeout),
		PollInterval:       types.NullDurationFrom(harness.DefaultPollInterval),
		NetworkIdleQuiet:   types.NullDurationFrom(harness.DefaultNetworkIdleQuiet),
		FailFast:           null.BoolFrom(false),
		Preflight:          null.BoolFrom(false),
	}
}

func configFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.String("base-url", scenario.DefaultBaseURL, "`url` relative check URLs are resolved against")
	flags.StringP("output-dir", "o", scenario.DefaultOutputDir, "directory screenshots are written to")
	flags.String("upload-url", "", "upload artifacts through pre-signed URLs requested from this `url`")
	flags.Bool("headless", true, "run the browser without a window")
	flags.String("browser-path", "", "Chromium or Chrome executable, looked up in PATH when empty")
	flags.String("remote-url", "", "connect to a running browser's DevTools `ws-url` instead of starting one")
	flags.Bool("no-sandbox", false, "disable the browser sandbox, needed when running as root in containers")
	flags.StringSlice("browser-arg", nil, "extra browser `flag`, name or name=value; can be repeated")
	flags.Duration("launch-timeout", chromium.DefaultLaunchTimeout, "time allowed to start or reach the browser")
	flags.String("viewport", harness.DefaultViewport.String(), "page viewport as `WIDTHxHEIGHT`")
	flags.Duration("navigation-timeout", harness.DefaultNavigationTimeout, "time allowed for a navigation; overrides suite file timeouts")
	flags.Duration("readiness-timeout", harness.DefaultReadinessTimeout, "time allowed for a readiness condition; overrides suite file timeouts")
	flags.Duration("interaction-timeout", harness.DefaultInteractionTimeout, "time allowed for a click, fill or URL check; overrides suite file timeouts")
	flags.Duration("capture-timeout", harness.DefaultCaptureTimeout, "time allowed for a screenshot; overrides suite file timeouts")
	flags.Duration("poll-interval", harness.DefaultPollInterval, "how often readiness conditions are evaluated")
	flags.Duration("network-idle-quiet", harness.DefaultNetworkIdleQuiet, "quiet window for network-idle readiness")
	flags.Bool("fail-fast", false, "stop after the first failed check")
	flags.Bool("preflight", false, "probe the base URL before starting a browser")
	flags.String("metrics-file", "", "write Prometheus metrics to this node-exporter textfile `path`")
	flags.String("traces-output", "", "trace output: none, file=<path> or otel[=<endpoint>,proto=http|grpc]")
	flags.String("trace-file", "", "shorthand for --traces-output file=`path`")
	flags.String("results-file", "", "write the check results as JSON to this `path`")
	return flags
}

// getConfig gets the configuration from CLI flags. Only changed flags are
// valid.
func getConfig(flags *pflag.FlagSet) Config {
	conf := Config{
		BaseURL:            getNullString(flags, "base-url"),
		OutputDir:          getNullString(flags, "output-dir"),
		UploadURL:          getNullString(flags, "upload-url"),
		Headless:           getNullBool(flags, "headless"),
		BrowserPath:        getNullString(flags, "browser-path"),
		RemoteURL:          getNullString(flags, "remote-url"),
		NoSandbox:          getNullBool(flags, "no-sandbox"),
		LaunchTimeout:      getNullDuration(flags, "launch-timeout"),
		Viewport:           getNullString(flags, "viewport"),
		NavigationTimeout:  getNullDuration(flags, "navigation-timeout"),
		ReadinessTimeout:   getNullDuration(flags, "readiness-timeout"),
		InteractionTimeout: getNullDuration(flags, "interaction-timeout"),
		CaptureTimeout:     getNullDuration(flags, "capture-timeout"),
		PollInterval:       getNullDuration(flags, "poll-interval"),
		NetworkIdleQuiet:   getNullDuration(flags, "network-idle-quiet"),
		FailFast:           getNullBool(flags, "fail-fast"),
		Preflight:          getNullBool(flags, "preflight"),
		MetricsFile:        getNullString(flags, "metrics-file"),
		TracesOutput:       getNullString(flags, "traces-output"),
		ResultsFile:        getNullString(flags, "results-file"),
	}
	if flags.Changed("browser-arg") {
		conf.BrowserArgs, _ = flags.GetStringSlice("browser-arg")
	}
	if tf := getNullString(flags, "trace-file"); tf.Valid && !conf.TracesOutput.Valid {
		conf.TracesOutput = null.StringFrom("file=" + tf.String)
	}
	return conf
}

// readDiskConfig reads the JSON config file. A missing file is only an
// error when the path was set explicitly.
func readDiskConfig(gs *state.GlobalState) (Config, error) {
	data, err := afero.ReadFile(gs.FS, gs.Flags.ConfigFilePath)
	if errors.Is(err, fs.ErrNotExist) && gs.Flags.ConfigFilePath == gs.DefaultFlags.ConfigFilePath {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("couldn't load the configuration from %q: %w", gs.Flags.ConfigFilePath, err)
	}
	var conf Config
	if err := json.Unmarshal(data, &conf); err != nil {
		return Config{}, fmt.Errorf("couldn't parse the configuration from %q: %w", gs.Flags.ConfigFilePath, err)
	}
	return conf, nil
}

// readEnvConfig reads configuration variables from the environment.
func readEnvConfig(env map[string]string) (Config, error) {
	var conf Config
	err := envconfig.Process("", &conf, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	return conf, err
}

// getConsolidatedConfig assembles the final configuration. Priority, lowest
// first: defaults, config file, environment, CLI flags.
func getConsolidatedConfig(gs *state.GlobalState, cliConf Config) (Config, error) {
	fileConf, err := readDiskConfig(gs)
	if err != nil {
		return Config{}, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	envConf, err := readEnvConfig(gs.Env)
	if err != nil {
		return Config{}, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	conf := defaultConfig().Apply(fileConf).Apply(envConf).Apply(cliConf)
	if err := conf.Validate(); err != nil {
		return Config{}, err
	}
	return conf, nil
}

var errInvalidConfig = errext.WithExitCodeIfNone(errors.New("invalid configuration"), exitcodes.InvalidConfig)

// Validate checks the consolidated configuration.
func (c Config) Validate() error {
	var errs []error
	if c.BaseURL.String == "" {
		errs = append(errs, errors.New("base URL must not be empty"))
	} else if u, err := url.Parse(c.BaseURL.String); err != nil || !u.IsAbs() {
		errs = append(errs, fmt.Errorf("base URL %q must be absolute", c.BaseURL.String))
	}
	if c.UploadURL.String != "" {
		if u, err := url.Parse(c.UploadURL.String); err != nil || !u.IsAbs() {
			errs = append(errs, fmt.Errorf("upload URL %q must be absolute", c.UploadURL.String))
		}
	}
	if _, err := harness.ParseViewport(c.Viewport.String); err != nil {
		errs = append(errs, err)
	}
	for name, d := range map[string]types.NullDuration{
		"launch":        c.LaunchTimeout,
		"navigation":    c.NavigationTimeout,
		"readiness":     c.ReadinessTimeout,
		"interaction":   c.InteractionTimeout,
		"capture":       c.CaptureTimeout,
		"poll interval": c.PollInterval,
		"network idle":  c.NetworkIdleQuiet,
	} {
		if d.TimeDuration() <= 0 {
			errs = append(errs, fmt.Errorf("%s timeout must be positive, got %s", name, d.Duration))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", errInvalidConfig, errors.Join(errs...))
}

// Timeouts returns the configured stage timeouts.
func (c Config) Timeouts() harness.Timeouts {
	return harness.Timeouts{
		Navigation:  c.NavigationTimeout.TimeDuration(),
		Readiness:   c.ReadinessTimeout.TimeDuration(),
		Interaction: c.InteractionTimeout.TimeDuration(),
		Capture:     c.CaptureTimeout.TimeDuration(),
	}
}

// explicitTimeouts returns only the stage timeouts that were set, leaving
// the others zero.
func (c Config) explicitTimeouts() harness.Timeouts {
	pick := func(d types.NullDuration) time.Duration {
		if !d.Valid {
			return 0
		}
		return d.TimeDuration()
	}
	return harness.Timeouts{
		Navigation:  pick(c.NavigationTimeout),
		Readiness:   pick(c.ReadinessTimeout),
		Interaction: pick(c.InteractionTimeout),
		Capture:     pick(c.CaptureTimeout),
	}
}

// LaunchOptions returns the browser launch options. The viewport must be
// valid.
func (c Config) LaunchOptions() chromium.LaunchOptions {
	opts := chromium.NewLaunchOptions()
	opts.Headless = c.Headless.Bool
	opts.ExecutablePath = c.BrowserPath.String
	opts.RemoteURL = c.RemoteURL.String
	opts.NoSandbox = c.NoSandbox.Bool
	opts.Args = c.BrowserArgs
	opts.Timeout = c.LaunchTimeout.TimeDuration()
	if vp, err := harness.ParseViewport(c.Viewport.String); err == nil {
		opts.WindowSize = vp
	}
	return opts
}

// logCategoryFilter compiles the --log-categories regexp.
func logCategoryFilter(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil //nolint:nilnil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errext.WithExitCodeIfNone(
			fmt.Errorf("invalid log category filter %q: %w", expr, err), exitcodes.InvalidConfig)
	}
	return re, nil
}
