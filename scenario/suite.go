package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/liuxd6825/vischeck/errext"
	"github.com/liuxd6825/vischeck/errext/exitcodes"
	"github.com/liuxd6825/vischeck/harness"
	"github.com/liuxd6825/vischeck/lib/types"
)

// ErrInvalidSuite is wrapped by every suite loading and validation error.
var ErrInvalidSuite = errext.WithExitCodeIfNone(errors.New("invalid suite"), exitcodes.InvalidConfig)

// Suite is a YAML suite file.
//
//	base_url: http://localhost:3001
//	output_dir: jules-scratch/verification
//	timeouts:
//	  navigation: 60s
//	checks:
//	  - name: slider-update
//	    url: /iss-detector
//	    readiness: {kind: selector-visible, selector: "#sketch-holder canvas", timeout: 45s}
//	    steps:
//	      - fill: {selector: "#predictionLengthSlider", value: "6480"}
//	      - await: {kind: fixed-delay, delay: 20s}
//	    capture: {path: final_verification.png}
//	    console: true
type Suite struct {
	BaseURL   string       `yaml:"base_url"`
	OutputDir string       `yaml:"output_dir"`
	Timeouts  TimeoutsSpec `yaml:"timeouts"`
	Checks    []CheckSpec  `yaml:"checks"`
}

// TimeoutsSpec sets stage timeouts. Durations are Go duration strings or
// bare milliseconds.
type TimeoutsSpec struct {
	Navigation  types.NullDuration `yaml:"navigation"`
	Readiness   types.NullDuration `yaml:"readiness"`
	Interaction types.NullDuration `yaml:"interaction"`
	Capture     types.NullDuration `yaml:"capture"`
}

// CheckSpec is one check of a suite.
type CheckSpec struct {
	Name      string        `yaml:"name"`
	URL       string        `yaml:"url"`
	Readiness ReadinessSpec `yaml:"readiness"`
	Steps     []StepSpec    `yaml:"steps"`
	Capture   CaptureSpec   `yaml:"capture"`
	ErrorPath string        `yaml:"error_path"`
	Console   bool          `yaml:"console"`
	Viewport  string        `yaml:"viewport"`
	Timeouts  TimeoutsSpec  `yaml:"timeouts"`
}

// ReadinessSpec is a readiness condition.
type ReadinessSpec struct {
	Kind      harness.ReadinessKind `yaml:"kind"`
	Selector  string                `yaml:"selector"`
	Attribute string                `yaml:"attribute"`
	Value     string                `yaml:"value"`
	Delay     types.NullDuration    `yaml:"delay"`
	Quiet     types.NullDuration    `yaml:"quiet"`
	Timeout   types.NullDuration    `yaml:"timeout"`
}

// StepSpec is one interaction; exactly one field must be set.
type StepSpec struct {
	Click     *string        `yaml:"click"`
	ClickLink *string        `yaml:"click_link"`
	Fill      *FillSpec      `yaml:"fill"`
	Navigate  *string        `yaml:"navigate"`
	ExpectURL *string        `yaml:"expect_url"`
	Await     *ReadinessSpec `yaml:"await"`
}

// FillSpec sets a form control's value.
type FillSpec struct {
	Selector string `yaml:"selector"`
	Value    string `yaml:"value"`
}

// CaptureSpec selects the evidence screenshot.
type CaptureSpec struct {
	Path     string `yaml:"path"`
	Selector string `yaml:"selector"`
	FullPage bool   `yaml:"full_page"`
}

// Load reads and validates the suite file at path.
func Load(fs afero.Fs, path string) (*Suite, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrInvalidSuite, path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a suite. Unknown keys are rejected.
func Parse(data []byte) (*Suite, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Suite
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSuite, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidSuite, fmt.Sprintf(format, args...))
}

// Validate reports the first problem in s.
func (s *Suite) Validate() error {
	if len(s.Checks) == 0 {
		return invalidf("no checks")
	}
	if err := s.Timeouts.validate("suite"); err != nil {
		return err
	}
	seen := make(map[string]bool, len(s.Checks))
	for n, c := range s.Checks {
		if c.Name == "" {
			return invalidf("check %d has no name", n+1)
		}
		if seen[c.Name] {
			return invalidf("duplicate check name %q", c.Name)
		}
		seen[c.Name] = true

		if _, err := s.check(c); err != nil {
			return err
		}
	}
	return nil
}

func (t TimeoutsSpec) validate(owner string) error {
	for name, d := range map[string]types.NullDuration{
		"navigation":  t.Navigation,
		"readiness":   t.Readiness,
		"interaction": t.Interaction,
		"capture":     t.Capture,
	} {
		if d.Valid && d.TimeDuration() <= 0 {
			return invalidf("%s: %s timeout must be positive, got %s", owner, name, d.Duration)
		}
	}
	return nil
}

// Harness converts t for harness.TimeoutSettings.Apply.
func (t TimeoutsSpec) Harness() harness.Timeouts {
	return harness.Timeouts{
		Navigation:  t.Navigation.TimeDuration(),
		Readiness:   t.Readiness.TimeDuration(),
		Interaction: t.Interaction.TimeDuration(),
		Capture:     t.Capture.TimeDuration(),
	}
}

func (r ReadinessSpec) readiness(owner string) (harness.Readiness, error) {
	for name, d := range map[string]types.NullDuration{"delay": r.Delay, "quiet": r.Quiet, "timeout": r.Timeout} {
		if d.Valid && d.TimeDuration() <= 0 {
			return harness.Readiness{}, invalidf("%s: readiness %s must be positive, got %s", owner, name, d.Duration)
		}
	}
	rd := harness.Readiness{
		Kind:      r.Kind,
		Selector:  r.Selector,
		Attribute: r.Attribute,
		Value:     r.Value,
		Delay:     r.Delay.TimeDuration(),
		Quiet:     r.Quiet.TimeDuration(),
		Timeout:   r.Timeout.TimeDuration(),
	}
	if err := rd.Validate(); err != nil {
		return harness.Readiness{}, fmt.Errorf("%w: %s: %w", ErrInvalidSuite, owner, err)
	}
	return rd, nil
}

func (st StepSpec) interaction(owner string) (harness.Interaction, error) {
	var (
		set int
		i   harness.Interaction
	)
	if st.Click != nil {
		set++
		i = harness.Click(*st.Click)
	}
	if st.ClickLink != nil {
		set++
		i = harness.Click(harness.LinkNamed(*st.ClickLink))
	}
	if st.Fill != nil {
		set++
		i = harness.Fill(st.Fill.Selector, st.Fill.Value)
	}
	if st.Navigate != nil {
		set++
		i = harness.Navigate(*st.Navigate)
	}
	if st.ExpectURL != nil {
		set++
		i = harness.ExpectURL(*st.ExpectURL)
	}
	if st.Await != nil {
		set++
		r, err := st.Await.readiness(owner)
		if err != nil {
			return harness.Interaction{}, err
		}
		i = harness.Await(r)
	}
	if set != 1 {
		return harness.Interaction{}, invalidf("%s: a step needs exactly one action, got %d", owner, set)
	}
	if err := i.Validate(); err != nil {
		return harness.Interaction{}, fmt.Errorf("%w: %s: %w", ErrInvalidSuite, owner, err)
	}
	return i, nil
}

func (s *Suite) check(c CheckSpec) (harness.Check, error) {
	owner := fmt.Sprintf("check %q", c.Name)
	if c.URL == "" {
		return harness.Check{}, invalidf("%s has no url", owner)
	}
	if c.Capture.Path == "" {
		return harness.Check{}, invalidf("%s has no capture path", owner)
	}
	if err := c.Timeouts.validate(owner); err != nil {
		return harness.Check{}, err
	}

	r, err := c.Readiness.readiness(owner)
	if err != nil {
		return harness.Check{}, err
	}
	hc := harness.Check{
		Name:      c.Name,
		URL:       c.URL,
		Readiness: r,
		Capture: harness.Capture{
			Path:     s.outPath(c.Capture.Path),
			Selector: c.Capture.Selector,
			FullPage: c.Capture.FullPage,
		},
		Console:  c.Console,
		Timeouts: c.Timeouts.Harness(),
	}
	if c.ErrorPath != "" {
		hc.ErrorPath = s.outPath(c.ErrorPath)
	}
	if c.Viewport != "" {
		vp, err := harness.ParseViewport(c.Viewport)
		if err != nil {
			return harness.Check{}, fmt.Errorf("%w: %s: %w", ErrInvalidSuite, owner, err)
		}
		hc.Viewport = vp
	}
	for n, st := range c.Steps {
		i, err := st.interaction(fmt.Sprintf("%s step %d", owner, n+1))
		if err != nil {
			return harness.Check{}, err
		}
		hc.Interactions = append(hc.Interactions, i)
	}
	return hc, nil
}

// outPath places relative artifact paths in the suite's output directory.
func (s *Suite) outPath(p string) string {
	if filepath.IsAbs(p) || s.OutputDir == "" {
		return p
	}
	return filepath.Join(s.OutputDir, p)
}

// HarnessChecks converts the suite's checks. The suite must be valid.
func (s *Suite) HarnessChecks() ([]harness.Check, error) {
	checks := make([]harness.Check, 0, len(s.Checks))
	for _, c := range s.Checks {
		hc, err := s.check(c)
		if err != nil {
			return nil, err
		}
		checks = append(checks, hc)
	}
	return checks, nil
}
