package scenario

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/vischeck/errext"
	"github.com/liuxd6825/vischeck/errext/exitcodes"
	"github.com/liuxd6825/vischeck/harness"
)

func TestLoadSuite(t *testing.T) {
	t.Parallel()

	s, err := Load(afero.NewOsFs(), "testdata/suite.yaml")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3001", s.BaseURL)
	assert.Equal(t, harness.Timeouts{Navigation: 60 * time.Second, Capture: 5 * time.Second}, s.Timeouts.Harness())

	checks, err := s.HarnessChecks()
	require.NoError(t, err)
	require.Len(t, checks, 3)

	iot := checks[0]
	assert.Equal(t, "iot-page", iot.Name)
	assert.Equal(t, harness.ReadinessNetworkIdle, iot.Readiness.Kind)
	assert.Equal(t, 750*time.Millisecond, iot.Readiness.Quiet)
	assert.Equal(t, harness.Capture{Path: "out/iot_page.png", FullPage: true}, iot.Capture)

	dcp := checks[1]
	assert.Equal(t, []harness.Interaction{
		harness.Click(harness.LinkNamed("Create Config Profile")),
		harness.ExpectURL("/device-config-profile"),
		harness.Await(harness.WaitNetworkIdle(10 * time.Second)),
	}, dcp.Interactions)

	slider := checks[2]
	assert.Equal(t, harness.WaitVisible("#sketch-holder canvas", 45*time.Second), slider.Readiness)
	assert.Equal(t, harness.Viewport{Width: 1920, Height: 1080}, slider.Viewport)
	assert.Equal(t, []harness.Interaction{
		harness.Await(harness.WaitAttribute("#predictionLengthSlider", "max", "6480")),
		harness.Fill("#predictionLengthSlider", "6480"),
		harness.Await(harness.WaitDelay(20 * time.Second)),
		harness.Click("#pass-entry-time"),
		harness.Navigate("/iss-detector"),
	}, slider.Interactions)
	assert.Equal(t, "out/error.png", slider.ErrorPath)
	assert.True(t, slider.Console)
	assert.Equal(t, harness.Timeouts{Navigation: 90 * time.Second}, slider.Timeouts)
	for _, c := range checks {
		assert.NoError(t, c.Validate(), c.Name)
	}
}

func TestLoadSuiteMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(afero.NewMemMapFs(), "nope.yaml")
	require.ErrorIs(t, err, ErrInvalidSuite)
	assert.Equal(t, exitcodes.InvalidConfig, errext.ExitCodeOf(err, exitcodes.GenericEngine))
}

func TestParseSuiteErrors(t *testing.T) {
	t.Parallel()

	const head = "checks:\n  - name: a\n    url: /\n    capture: {path: a.png}\n"
	tests := []struct {
		name string
		yaml string
		msg  string
	}{
		{name: "empty", yaml: "", msg: "no checks"},
		{name: "unknown_key", yaml: "base_url: x\nbrowser: firefox\n", msg: "field browser not found"},
		{name: "bad_duration", yaml: "timeouts: {navigation: soon}\n" + head, msg: "'soon' is not a valid duration"},
		{name: "zero_timeout", yaml: "timeouts: {readiness: 0s}\n" + head + "    readiness: {kind: network-idle}\n", msg: "readiness timeout must be positive"},
		{name: "no_name", yaml: "checks:\n  - url: /\n", msg: "check 1 has no name"},
		{
			name: "duplicate",
			yaml: head + "    readiness: {kind: network-idle}\n" + "  - name: a\n    url: /\n    capture: {path: b.png}\n    readiness: {kind: network-idle}\n",
			msg:  `duplicate check name "a"`,
		},
		{name: "no_url", yaml: "checks:\n  - name: a\n", msg: `check "a" has no url`},
		{name: "no_capture", yaml: "checks:\n  - name: a\n    url: /\n", msg: "no capture path"},
		{name: "unknown_readiness", yaml: head + "    readiness: {kind: eventually}\n", msg: `unknown readiness kind "eventually"`},
		{name: "missing_readiness", yaml: head, msg: "unknown readiness kind"},
		{
			name: "two_actions",
			yaml: head + "    readiness: {kind: network-idle}\n    steps:\n      - {click: '#a', navigate: /b}\n",
			msg:  "step 1: a step needs exactly one action, got 2",
		},
		{
			name: "no_action",
			yaml: head + "    readiness: {kind: network-idle}\n    steps:\n      - {}\n",
			msg:  "got 0",
		},
		{
			name: "fill_without_selector",
			yaml: head + "    readiness: {kind: network-idle}\n    steps:\n      - fill: {value: x}\n",
			msg:  "fill needs a selector",
		},
		{
			name: "negative_delay",
			yaml: head + "    readiness: {kind: fixed-delay, delay: -1s}\n",
			msg:  "readiness delay must be positive",
		},
		{
			name: "bad_viewport",
			yaml: head + "    readiness: {kind: network-idle}\n    viewport: wide\n",
			msg:  `viewport "wide"`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidSuite)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestSuiteOutPath(t *testing.T) {
	t.Parallel()

	s := &Suite{}
	assert.Equal(t, "a.png", s.outPath("a.png"))
	s.OutputDir = "shots"
	assert.Equal(t, "shots/a.png", s.outPath("a.png"))
	assert.Equal(t, "/tmp/a.png", s.outPath("/tmp/a.png"))
}
