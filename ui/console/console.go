// Package console provides synchronized, optionally colored operator output.
package console

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Console enables synced writing to stdout and stderr ...
type Console struct {
	IsTTY          bool
	outMx          *sync.Mutex
	Stdout, Stderr OSFileW
	stdout, stderr *consoleWriter
	theme          *theme
	logger         *logrus.Logger
}

// New returns the pointer to a new Console value.
func New(stdout, stderr OSFileW, colorize bool, termType string) *Console {
	outMx := &sync.Mutex{}
	outCW := newConsoleWriter(stdout, outMx, termType)
	errCW := newConsoleWriter(stderr, outMx, termType)
	isTTY := outCW.isTTY && errCW.isTTY

	// Default logger without any formatting
	logger := &logrus.Logger{
		Out:       errCW,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}

	var th *theme
	// Only enable themes and a fancy logger if we're in a TTY
	if isTTY && colorize {
		th = &theme{
			foreground: newColor(color.FgCyan),
			success:    newColor(color.FgGreen),
			failure:    newColor(color.FgRed, color.Bold),
			warning:    newColor(color.FgYellow),
		}

		logger = &logrus.Logger{
			Out: errCW,
			Formatter: &logrus.TextFormatter{
				ForceColors:   true,
				DisableColors: false,
			},
			Hooks: make(logrus.LevelHooks),
			Level: logrus.InfoLevel,
		}
	}

	return &Console{
		IsTTY:  isTTY,
		outMx:  outMx,
		Stdout: stdout,
		Stderr: stderr,
		stdout: outCW,
		stderr: errCW,
		theme:  th,
		logger: logger,
	}
}

// Out returns the synchronized stdout writer. Transcripts and reports are
// written through it so they never interleave with log lines.
func (c *Console) Out() io.Writer {
	return c.stdout
}

// Err returns the synchronized stderr writer.
func (c *Console) Err() io.Writer {
	return c.stderr
}

// ApplyTheme adds ANSI color escape sequences to s if themes are enabled;
// otherwise it returns s unchanged.
func (c *Console) ApplyTheme(s string) string {
	if c.colorized() {
		return c.theme.foreground.Sprint(s)
	}

	return s
}

// Success renders s as a passing status.
func (c *Console) Success(s string) string {
	if c.colorized() {
		return c.theme.success.Sprint(s)
	}
	return s
}

// Failure renders s as a failing status.
func (c *Console) Failure(s string) string {
	if c.colorized() {
		return c.theme.failure.Sprint(s)
	}
	return s
}

// Warning renders s as a warning status.
func (c *Console) Warning(s string) string {
	if c.colorized() {
		return c.theme.warning.Sprint(s)
	}
	return s
}

// Banner returns the vischeck banner, optionally with ANSI color escape
// sequences if themes are enabled.
func (c *Console) Banner() string {
	banner := strings.Join([]string{
		`        _               __              __  `,
		` _   __(_)____ _____  / /_  ___  _____/ /__`,
		`| | / / / ___// ___/ / __ \/ _ \/ ___/ //_/`,
		`| |/ / (__  )/ /__  / / / /  __/ /__/ ,<   `,
		`|___/_/____/ \___/ /_/ /_/\___/\___/_/|_|  `,
	}, "\n")

	return c.ApplyTheme(banner)
}

// Section prints a title followed by a rule sized to the terminal.
func (c *Console) Section(title string) {
	width, _ := c.TermWidth()
	if width > maxRuleWidth {
		width = maxRuleWidth
	}
	c.Printf("\n%s\n%s\n", c.ApplyTheme(title), strings.Repeat("─", width))
}

// GetLogger returns the preconfigured plain-text logger. It will be configured
// to output colors if themes are enabled.
func (c *Console) GetLogger() *logrus.Logger {
	return c.logger
}

// SetLogger overrides the preconfigured logger.
func (c *Console) SetLogger(l *logrus.Logger) {
	c.logger = l
}

// Print writes s to stdout.
func (c *Console) Print(s string) {
	if _, err := fmt.Fprint(c.stdout, s); err != nil {
		c.logger.Errorf("could not print '%s' to stdout: %s", s, err.Error())
	}
}

// Printf writes s to stdout, formatted with optional arguments.
func (c *Console) Printf(s string, a ...interface{}) {
	if _, err := fmt.Fprintf(c.stdout, s, a...); err != nil {
		c.logger.Errorf("could not print '%s' to stdout: %s", s, err.Error())
	}
}

// PrintYAML marshals v to YAML, and writes the result to stdout. It returns an
// error if marshalling fails.
func (c *Console) PrintYAML(v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("could not marshal YAML: %w", err)
	}
	c.Print(string(data))
	return nil
}

// TermWidth returns the terminal window width in characters. If the window size
// lookup fails, or if we're not running in a TTY (interactive terminal), the
// default value of 80 will be returned. err will be non-nil if the lookup fails.
func (c *Console) TermWidth() (int, error) {
	if !c.IsTTY {
		return defaultTermWidth, nil
	}

	width, _, err := term.GetSize(int(c.Stdout.Fd()))
	if !(width > 0) || err != nil {
		return defaultTermWidth, err
	}

	return width, nil
}

func (c *Console) colorized() bool {
	return c.theme != nil
}

// OSFile is a subset of the functionality implemented by os.File.
type OSFile interface {
	Fd() uintptr
}

// OSFileW is the writer variant of OSFile, typically representing os.Stdout and
// os.Stderr.
type OSFileW interface {
	io.Writer
	OSFile
}

// theme is a collection of colors supported by the console output.
type theme struct {
	foreground *color.Color
	success    *color.Color
	failure    *color.Color
	warning    *color.Color
}

// A writer that syncs writes with a mutex and, if the output is a TTY, clears
// before newlines.
type consoleWriter struct {
	OSFileW
	isTTY bool
	mutex *sync.Mutex
}

func newConsoleWriter(out OSFileW, mx *sync.Mutex, termType string) *consoleWriter {
	isTTY := termType != "dumb" && (isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()))
	return &consoleWriter{out, isTTY, mx}
}

func (w *consoleWriter) Write(p []byte) (n int, err error) {
	origLen := len(p)
	if w.isTTY {
		// Add a TTY code to erase till the end of line with each new line
		p = bytes.ReplaceAll(p, []byte{'\n'}, []byte{'\x1b', '[', '0', 'K', '\n'})
	}

	w.mutex.Lock()
	n, err = w.OSFileW.Write(p)
	w.mutex.Unlock()

	if err != nil && n < origLen {
		return n, err
	}
	return origLen, err
}

// newColor returns the requested color with the given attributes.
func newColor(attributes ...color.Attribute) *color.Color {
	c := color.New(attributes...)
	c.EnableColor()
	return c
}

// NewOSFileW pairs a writer with the file descriptor used for TTY detection,
// e.g. a colorable.NewColorableStdout() writer with os.Stdout's descriptor.
func NewOSFileW(w io.Writer, fd uintptr) OSFileW {
	return fdWriter{w, fd}
}

type fdWriter struct {
	io.Writer
	fd uintptr
}

func (f fdWriter) Fd() uintptr {
	return f.fd
}
