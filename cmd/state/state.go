// Package state holds the process-wide dependencies of the vischeck
// commands, so tests can swap them.
package state

import (
	"context"
	"os"
	"os/signal"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/liuxd6825/vischeck/chromium"
	"github.com/liuxd6825/vischeck/harness"
	"github.com/liuxd6825/vischeck/log"
	"github.com/liuxd6825/vischeck/ui/console"
)

// LauncherFunc returns the browser launcher checks run with.
type LauncherFunc func(opts chromium.LaunchOptions, logger *log.Logger) harness.Launcher

// GlobalState contains the GlobalOptions and accessors for the environment
// the commands run in. Nothing in cmd touches os directly.
type GlobalState struct {
	Ctx context.Context

	FS         afero.Fs
	Getwd      func() (string, error)
	BinaryName string
	CmdArgs    []string
	Env        map[string]string

	DefaultFlags, Flags GlobalOptions

	Console *console.Console
	Logger  *logrus.Logger
	// FallbackLogger reports problems of the main logger's outputs.
	FallbackLogger logrus.FieldLogger

	NewLauncher  LauncherFunc
	SignalNotify func(chan<- os.Signal, ...os.Signal)
	SignalStop   func(chan<- os.Signal)
	OSExit       func(int)
}

// NewGlobalState returns the state of the current process.
func NewGlobalState(ctx context.Context) *GlobalState {
	env := BuildEnvMap(os.Environ())
	_, noColorsSet := env["NO_COLOR"]

	stdout := console.NewOSFileW(colorable.NewColorableStdout(), os.Stdout.Fd())
	stderr := console.NewOSFileW(colorable.NewColorableStderr(), os.Stderr.Fd())
	cons := console.New(stdout, stderr, !noColorsSet, env["TERM"])

	logger := cons.GetLogger()
	confDir, err := os.UserConfigDir()
	if err != nil {
		logger.WithError(err).Warn("could not get config directory")
		confDir = ".config"
	}

	defaultFlags := GetDefaultGlobalOptions(confDir)
	binary := "vischeck"
	if len(os.Args) > 0 {
		binary = os.Args[0]
	}

	return &GlobalState{
		Ctx:          ctx,
		FS:           afero.NewOsFs(),
		Getwd:        os.Getwd,
		BinaryName:   binary,
		CmdArgs:      os.Args,
		Env:          env,
		DefaultFlags: defaultFlags,
		Flags:        consolidateGlobalFlags(defaultFlags, env),
		Console:      cons,
		Logger:       logger,
		FallbackLogger: &logrus.Logger{
			Out:       os.Stderr,
			Formatter: new(logrus.TextFormatter),
			Hooks:     make(logrus.LevelHooks),
			Level:     logrus.InfoLevel,
		},
		NewLauncher: func(opts chromium.LaunchOptions, logger *log.Logger) harness.Launcher {
			return chromium.NewLauncher(opts, logger)
		},
		SignalNotify: signal.Notify,
		SignalStop:   signal.Stop,
		OSExit:       os.Exit,
	}
}

// BuildEnvMap returns a map from raw environment variable strings.
func BuildEnvMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	return env
}
