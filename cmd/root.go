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

// Package cmd implements the vischeck command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/liuxd6825/vischeck/cmd/state"
	"github.com/liuxd6825/vischeck/errext"
	"github.com/liuxd6825/vischeck/errext/exitcodes"
	"github.com/liuxd6825/vischeck/log"
	"github.com/liuxd6825/vischeck/version"
)

const waitLoggerCloseTimeout = time.Second * 5

// errAlreadyReported is returned by commands that printed their own
// failure summary; only the exit code is left to set.
var errAlreadyReported = errors.New("already reported error")

// This is to keep all fields needed for the main/root vischeck command
type rootCommand struct {
	globalState *state.GlobalState

	cmd            *cobra.Command
	loggerStopped  chan struct{}
	stopLoggers    context.CancelFunc
	loggerIsRemote bool
}

func newRootCommand(gs *state.GlobalState) *rootCommand {
	c := &rootCommand{globalState: gs, stopLoggers: func() {}}
	// the base command when called without any subcommands.
	rootCmd := &cobra.Command{
		Use:               gs.BinaryName,
		Short:             "browser-driven visual verification of the ISS Detector and IoT applications",
		Long:              "\n" + gs.Console.Banner(),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
		Version:           version.Full(),
	}
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "v%s\n" .Version}}`)

	rootCmd.PersistentFlags().AddFlagSet(rootCmdPersistentFlagSet(gs))
	rootCmd.SetArgs(gs.CmdArgs[1:])
	rootCmd.SetOut(gs.Console.Out())
	rootCmd.SetErr(gs.Console.Err())

	subCommands := []func(*state.GlobalState) *cobra.Command{
		getCmdRun, getCmdList, getCmdProbe, getCmdVersion,
	}
	for _, sc := range subCommands {
		rootCmd.AddCommand(sc(gs))
	}

	c.cmd = rootCmd
	return c
}

// Execute runs the root command with the state of the current process and
// exits with its exit code.
func Execute() {
	ExecuteWithGlobalState(state.NewGlobalState(context.Background()))
}

// ExecuteWithGlobalState runs the root command with an existing GlobalState.
func ExecuteWithGlobalState(gs *state.GlobalState) {
	newRootCommand(gs).execute()
}

func (c *rootCommand) persistentPreRunE(_ *cobra.Command, _ []string) error {
	if err := c.setupLoggers(); err != nil {
		return err
	}
	c.globalState.Logger.Debugf("vischeck version: %s", version.String())
	return nil
}

func (c *rootCommand) execute() {
	ctx, cancel := context.WithCancel(c.globalState.Ctx)
	c.globalState.Ctx = ctx

	exitCode := -1
	defer func() {
		cancel()
		c.waitLoggers()
		c.globalState.OSExit(exitCode)
	}()

	defer func() {
		if r := recover(); r != nil {
			exitCode = int(exitcodes.GenericEngine)
			err := fmt.Errorf("unexpected vischeck panic: %s\n%s", r, debug.Stack())
			if c.loggerIsRemote {
				c.globalState.FallbackLogger.Error(err)
			}
			c.globalState.Logger.Error(err)
		}
	}()

	err := c.cmd.Execute()
	if err == nil {
		exitCode = 0
		return
	}

	exitCode = int(errext.ExitCodeOf(err, exitcodes.GenericEngine))
	if errors.Is(err, errAlreadyReported) {
		return
	}

	errText, fields := errext.Format(err)
	c.globalState.Logger.WithFields(fields).Error(errText)
	if c.loggerIsRemote {
		c.globalState.FallbackLogger.WithFields(fields).Error(errText)
	}
}

func (c *rootCommand) waitLoggers() {
	c.stopLoggers()
	if c.loggerStopped == nil {
		return
	}
	select {
	case <-c.loggerStopped:
	case <-time.After(waitLoggerCloseTimeout):
		c.globalState.FallbackLogger.Errorf("The logger didn't stop in %s", waitLoggerCloseTimeout)
	}
}

func rootCmdPersistentFlagSet(gs *state.GlobalState) *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	// `gs.Flags.<value>` is both the destination and the value here, since
	// the environment may already have set it. DefValue keeps the help
	// message showing the real defaults.
	flags.StringVar(&gs.Flags.LogOutput, "log-output", gs.Flags.LogOutput,
		"change the output for vischeck logs, possible values are: 'stderr', 'stdout', 'none', 'file[=./path.log]'")
	flags.Lookup("log-output").DefValue = gs.DefaultFlags.LogOutput

	flags.StringVar(&gs.Flags.LogFormat, "log-format", gs.Flags.LogFormat, "log output format: text, json or raw")
	flags.Lookup("log-format").DefValue = gs.DefaultFlags.LogFormat

	flags.StringVar(&gs.Flags.LogCategories, "log-categories", gs.Flags.LogCategories,
		"only log categories matching this `regexp`, e.g. 'harness|chromium:launch'")

	flags.StringVarP(&gs.Flags.ConfigFilePath, "config", "c", gs.Flags.ConfigFilePath, "JSON config file")
	flags.Lookup("config").DefValue = gs.DefaultFlags.ConfigFilePath
	must(cobra.MarkFlagFilename(flags, "config"))

	flags.BoolVar(&gs.Flags.NoColor, "no-color", gs.Flags.NoColor, "disable colored output")
	flags.Lookup("no-color").DefValue = strconv.FormatBool(gs.DefaultFlags.NoColor)

	flags.BoolVarP(&gs.Flags.Verbose, "verbose", "v", gs.DefaultFlags.Verbose, "enable verbose logging")
	return flags
}

// RawFormatter it does nothing with the message just prints it
type RawFormatter struct{}

// Format renders a single log entry
func (f RawFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return append([]byte(entry.Message), '\n'), nil
}

func (c *rootCommand) setupLoggers() error {
	gs := c.globalState
	if gs.Flags.Verbose {
		gs.Logger.SetLevel(logrus.DebugLevel)
	}

	loggerForceColors := false
	switch line := gs.Flags.LogOutput; {
	case line == "stderr":
		loggerForceColors = !gs.Flags.NoColor && gs.Console.IsTTY
		gs.Logger.SetOutput(gs.Console.Err())
	case line == "stdout":
		loggerForceColors = !gs.Flags.NoColor && gs.Console.IsTTY
		gs.Logger.SetOutput(gs.Console.Out())
	case line == "none":
		gs.Logger.SetOutput(io.Discard)
	case strings.HasPrefix(line, "file"):
		ctx, cancel := context.WithCancel(context.Background())
		c.loggerStopped = make(chan struct{})
		hook, err := log.FileHookFromConfigLine(ctx, gs.FS, gs.FallbackLogger, line, c.loggerStopped)
		if err != nil {
			cancel()
			c.loggerStopped = nil
			return err
		}
		c.stopLoggers = cancel
		c.loggerIsRemote = true
		gs.Logger.AddHook(hook)
		gs.Logger.SetOutput(io.Discard)
	default:
		return fmt.Errorf("unsupported log output '%s'", line)
	}

	switch gs.Flags.LogFormat {
	case "raw":
		gs.Logger.SetFormatter(&RawFormatter{})
		gs.Logger.Debug("Logger format: RAW")
	case "json":
		gs.Logger.SetFormatter(&logrus.JSONFormatter{})
		gs.Logger.Debug("Logger format: JSON")
	default:
		gs.Logger.SetFormatter(&logrus.TextFormatter{
			ForceColors: loggerForceColors, DisableColors: gs.Flags.NoColor,
		})
		gs.Logger.Debug("Logger format: TEXT")
	}

	// Sometimes the Go runtime uses the standard log output to
	// log some messages directly.
	stdlog.SetOutput(gs.Logger.Writer())
	return nil
}
