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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/liuxd6825/vischeck/cmd/state"
	"github.com/liuxd6825/vischeck/errext"
	"github.com/liuxd6825/vischeck/errext/exitcodes"
	"github.com/liuxd6825/vischeck/harness"
	"github.com/liuxd6825/vischeck/log"
	"github.com/liuxd6825/vischeck/metrics"
	"github.com/liuxd6825/vischeck/scenario"
	"github.com/liuxd6825/vischeck/storage"
	"github.com/liuxd6825/vischeck/tracing"
	"github.com/liuxd6825/vischeck/ui/pb"
)

const (
	tracerShutdownTimeout = 5 * time.Second
	maxCheckNameWidth     = 40
)

// cmdRun handles the `vischeck run` sub-command
type cmdRun struct {
	gs        *state.GlobalState
	suitePath string
}

func (c *cmdRun) run(cmd *cobra.Command, args []string) (err error) {
	gs := c.gs
	cliConf := getConfig(cmd.Flags())
	conf, err := getConsolidatedConfig(gs, cliConf)
	if err != nil {
		return err
	}

	filter, err := logCategoryFilter(gs.Flags.LogCategories)
	if err != nil {
		return err
	}
	logger := log.New(gs.Logger, filter)

	checks, timeouts, baseURL, err := c.loadChecks(args, conf, cliConf)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(gs.Ctx)
	defer cancel()
	var interrupted atomic.Bool
	stopSignalHandling := handleAbortSignals(gs, func(sig os.Signal) {
		gs.Logger.WithField("sig", sig).Warn("Stopping vischeck in response to signal, closing the browser...")
		interrupted.Store(true)
		cancel()
	})
	defer stopSignalHandling()

	recorder := metrics.NewRecorder()
	if conf.MetricsFile.String != "" {
		defer func() {
			if werr := recorder.WriteTextfile(gs.FS, conf.MetricsFile.String); werr != nil {
				gs.Logger.WithError(werr).Warn("Couldn't write the metrics file")
			}
		}()
	}

	if conf.Preflight.Bool {
		endpoints, perr := appEndpoints(baseURL, checks)
		if perr != nil {
			return perr
		}
		if perr = runProbe(ctx, gs, logger, recorder, endpoints); perr != nil {
			return perr
		}
	}

	tp, err := tracing.TracerProviderFromConfigLine(ctx, gs.FS, conf.TracesOutput.String)
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), tracerShutdownTimeout)
		defer scancel()
		if serr := tp.Shutdown(sctx); serr != nil {
			gs.Logger.WithError(serr).Warn("Couldn't flush the traces")
		}
	}()

	viewport, err := harness.ParseViewport(conf.Viewport.String)
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	runner, err := harness.NewRunner(
		gs.NewLauncher(conf.LaunchOptions(), logger),
		harness.WithPersister(newPersister(gs, conf)),
		harness.WithLogger(logger),
		harness.WithOutput(gs.Console.Out()),
		harness.WithTracer(tp.Tracer()),
		harness.WithObserver(recorder),
		harness.WithTimeouts(timeouts),
		harness.WithBaseURL(baseURL),
		harness.WithViewport(viewport),
		harness.WithPollInterval(conf.PollInterval.TimeDuration()),
		harness.WithNetworkIdleQuiet(conf.NetworkIdleQuiet.TimeDuration()),
	)
	if err != nil {
		return err
	}

	results, firstErr := c.runChecks(ctx, runner, checks, conf.FailFast.Bool)
	c.printSummary(results)

	if path := conf.ResultsFile.String; path != "" {
		if werr := writeResults(gs.FS, path, results); werr != nil {
			gs.Logger.WithError(werr).Warn("Couldn't write the results file")
		}
	}

	if interrupted.Load() {
		return &errext.InterruptError{Reason: errext.AbortSignal}
	}
	if firstErr != nil {
		return errext.WithExitCodeIfNone(errAlreadyReported, errext.ExitCodeOf(firstErr, exitcodes.GenericEngine))
	}
	return nil
}

// loadChecks returns the checks to run, from the suite file or the built-in
// scenarios named in args, with the timeouts and base URL they run with.
func (c *cmdRun) loadChecks(
	args []string, conf, cliConf Config,
) ([]harness.Check, *harness.TimeoutSettings, string, error) {
	timeouts := harness.NewTimeoutSettings(nil)
	timeouts.Apply(conf.Timeouts())
	baseURL := conf.BaseURL.String

	if c.suitePath == "" {
		checks, err := scenario.Select(args, conf.OutputDir.String)
		return checks, timeouts, baseURL, err
	}
	if len(args) > 0 {
		return nil, nil, "", errext.WithExitCodeIfNone(
			errors.New("scenario names and --suite can't be used together"), exitcodes.InvalidConfig)
	}

	suite, err := scenario.Load(c.gs.FS, c.suitePath)
	if err != nil {
		return nil, nil, "", err
	}
	if suite.OutputDir == "" {
		suite.OutputDir = conf.OutputDir.String
	}
	// A base URL given on the command line wins over the suite's.
	if suite.BaseURL != "" && !cliConf.BaseURL.Valid {
		baseURL = suite.BaseURL
	}
	// Timeouts follow the same rule: explicit flags beat the suite, the
	// suite beats the config file, the environment and the defaults.
	cliTimeouts := cliConf.explicitTimeouts()
	suiteTimeouts := harness.NewTimeoutSettings(timeouts)
	suiteTimeouts.Apply(suite.Timeouts.Harness())
	suiteTimeouts.Apply(cliTimeouts)

	checks, err := suite.HarnessChecks()
	for i := range checks {
		checks[i].Timeouts = withoutOverridden(checks[i].Timeouts, cliTimeouts)
	}
	return checks, suiteTimeouts, baseURL, err
}

// withoutOverridden clears the timeouts of t that are set in cli.
func withoutOverridden(t, cli harness.Timeouts) harness.Timeouts {
	if cli.Navigation > 0 {
		t.Navigation = 0
	}
	if cli.Readiness > 0 {
		t.Readiness = 0
	}
	if cli.Interaction > 0 {
		t.Interaction = 0
	}
	if cli.Capture > 0 {
		t.Capture = 0
	}
	return t
}

func (c *cmdRun) runChecks(
	ctx context.Context, runner *harness.Runner, checks []harness.Check, failFast bool,
) ([]*harness.Result, error) {
	var (
		results  []*harness.Result
		firstErr error
	)
	bar := pb.New(len(checks), pb.WithColor(!c.gs.Flags.NoColor && c.gs.Console.IsTTY))
	for i, check := range checks {
		if ctx.Err() != nil {
			c.gs.Logger.Warnf("Skipping %d remaining checks", len(checks)-i)
			break
		}
		bar.Start(check.Name)
		c.gs.Console.Printf("%s\n", bar.Render(maxCheckNameWidth))

		res, err := runner.Run(ctx, check)
		results = append(results, res)
		bar.Finish(err == nil)
		if err == nil {
			c.gs.Console.Printf("  %s %s in %s -> %s\n",
				c.gs.Console.Success("✓"), check.Name, res.Duration.Round(time.Millisecond), res.Artifact.Path)
			continue
		}

		c.gs.Console.Printf("  %s %s in %s\n",
			c.gs.Console.Failure("✗"), check.Name, res.Duration.Round(time.Millisecond))
		errText, fields := errext.Format(err)
		c.gs.Logger.WithFields(fields).WithField("check", check.Name).Error(errText)
		if res.ErrorArtifact != nil {
			c.gs.Console.Printf("    diagnostic screenshot: %s\n", res.ErrorArtifact.Path)
		}
		if firstErr == nil {
			firstErr = err
		}
		if failFast {
			if rest := len(checks) - i - 1; rest > 0 {
				c.gs.Logger.Warnf("Skipping %d remaining checks after a failure (--fail-fast)", rest)
			}
			break
		}
	}
	return results, firstErr
}

func (c *cmdRun) printSummary(results []*harness.Result) {
	var passed, failed int
	for _, r := range results {
		if r.Artifact != nil {
			passed++
		} else {
			failed++
		}
	}
	c.gs.Console.Section("summary")
	status := c.gs.Console.Success(fmt.Sprintf("%d passed", passed))
	if failed > 0 {
		status += ", " + c.gs.Console.Failure(fmt.Sprintf("%d failed", failed))
	}
	c.gs.Console.Printf("%s\n", status)
}

func newPersister(gs *state.GlobalState, conf Config) harness.Persister {
	if u := conf.UploadURL.String; u != "" {
		return storage.NewRemoteFilePersister(u, nil, "")
	}
	return storage.NewFilePersister(gs.FS)
}

func writeResults(fs afero.Fs, path string, results []*harness.Result) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(fs, path, append(data, '\n'), 0o644)
}

func getCmdRun(gs *state.GlobalState) *cobra.Command {
	c := &cmdRun{gs: gs}

	runCmd := &cobra.Command{
		Use:   "run [scenario...]",
		Short: "Run verification checks",
		Long: `Run verification checks against the application.

Each check starts its own browser, opens the page, waits until it is ready,
performs the check's interactions and saves a screenshot. Without arguments
every built-in scenario runs; see "vischeck list".`,
		Example: `  # Run every built-in scenario against the local dev server
  vischeck run

  # Run one scenario against another host
  vischeck run slider-update --base-url http://staging:3001

  # Run the checks of a suite file
  vischeck run -f checks.yaml`,
		RunE: c.run,
	}

	runCmd.Flags().SortFlags = false
	runCmd.Flags().StringVarP(&c.suitePath, "suite", "f", "", "run the checks of this YAML suite `file`")
	must(cobra.MarkFlagFilename(runCmd.Flags(), "suite", "yaml", "yml"))
	runCmd.Flags().AddFlagSet(configFlagSet())
	return runCmd
}
