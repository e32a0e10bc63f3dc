package harness

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/liuxd6825/vischeck/errext"
	"github.com/liuxd6825/vischeck/errext/exitcodes"
)

func TestErrorExitCodes(t *testing.T) {
	t.Parallel()

	cause := errors.New("cause")
	tests := []struct {
		err  error
		code exitcodes.ExitCode
		msg  string
	}{
		{err: &LaunchError{Err: cause}, code: exitcodes.BrowserLaunch, msg: "launching browser: cause"},
		{
			err:  &NavigationError{URL: "http://localhost:3001/iot", Step: 2, Err: cause},
			code: exitcodes.NavigationFailed,
			msg:  `step 2: navigating to "http://localhost:3001/iot": cause`,
		},
		{
			err:  &ReadinessTimeoutError{Condition: WaitNetworkIdle(0), Timeout: time.Second, LastState: "requests in flight"},
			code: exitcodes.ReadinessTimeout,
			msg:  "waiting for network idle: not met within 1s (last state: requests in flight)",
		},
		{
			err:  &InteractionError{Step: 1, Interaction: Click("#go"), Reason: ReasonNotFound},
			code: exitcodes.InteractionFailed,
			msg:  `step 1: click "#go": not found`,
		},
		{err: &CaptureError{Path: "a.png", Err: cause}, code: exitcodes.CaptureFailed, msg: `capturing "a.png": cause`},
		{err: invalidf("bad"), code: exitcodes.InvalidConfig, msg: "invalid check: bad"},
	}

	for _, tt := range tests {
		wrapped := fmt.Errorf("check x: %w", tt.err)
		assert.Equal(t, tt.code, errext.ExitCodeOf(wrapped, exitcodes.GenericEngine), tt.msg)
		assert.Equal(t, tt.msg, tt.err.Error())
	}
}

func TestErrorHints(t *testing.T) {
	t.Parallel()

	nerr := &NavigationError{URL: "u", Timeout: time.Second, Err: fmt.Errorf("%w after 1s", errTimeout)}
	assert.True(t, nerr.TimedOut())
	assert.Contains(t, nerr.Hint(), "within 1s")

	nerr = &NavigationError{URL: "u", Err: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	assert.False(t, nerr.TimedOut())
	assert.Contains(t, nerr.Hint(), "reachable")

	assert.Contains(t, (&InteractionError{Reason: ReasonNotInteractable}).Hint(), "hidden")
	assert.Empty(t, (&InteractionError{Reason: "click failed"}).Hint())

	_, fields := errext.Format(&LaunchError{Err: errors.New("x")})
	assert.Equal(t, int(exitcodes.BrowserLaunch), fields["exit_code"])
	assert.Contains(t, fields["hint"], "--browser-path")
}

func TestErrorArtifactPath(t *testing.T) {
	t.Parallel()

	c := Check{Capture: Capture{Path: "jules-scratch/verification/verification.png"}}
	assert.Equal(t, "jules-scratch/verification/error-verification.png", c.ErrorArtifactPath())

	c = Check{Capture: Capture{Path: "final.png"}}
	assert.Equal(t, "error-final.png", c.ErrorArtifactPath())

	c.ErrorPath = "jules-scratch/verification/error.png"
	assert.Equal(t, "jules-scratch/verification/error.png", c.ErrorArtifactPath())
}

func TestParseViewport(t *testing.T) {
	t.Parallel()

	vp, err := ParseViewport("1920x1080")
	assert.NoError(t, err)
	assert.Equal(t, Viewport{Width: 1920, Height: 1080}, vp)
	assert.Equal(t, "1920x1080", vp.String())

	for _, s := range []string{"", "1920", "0x10", "axb", "-1x5"} {
		_, err := ParseViewport(s)
		assert.Error(t, err, s)
	}
}
