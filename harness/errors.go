package harness

import (
	"errors"
	"fmt"
	"time"

	"github.com/liuxd6825/vischeck/errext"
	"github.com/liuxd6825/vischeck/errext/exitcodes"
)

// ErrInvalidCheck is wrapped by every check validation error.
var ErrInvalidCheck = errext.WithExitCodeIfNone(errors.New("invalid check"), exitcodes.InvalidConfig)

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidCheck, fmt.Sprintf(format, args...))
}

// stepPrefix renders the 1-based interaction step an error happened in.
// Step 0 is the check's own navigation or readiness phase.
func stepPrefix(step int) string {
	if step == 0 {
		return ""
	}
	return fmt.Sprintf("step %d: ", step)
}

// LaunchError is returned when the browser cannot be started or reached.
type LaunchError struct {
	Err error
}

var (
	_ errext.HasExitCode = &LaunchError{}
	_ errext.HasHint     = &LaunchError{}
)

func (e *LaunchError) Error() string {
	return "launching browser: " + e.Err.Error()
}

func (e *LaunchError) Unwrap() error { return e.Err }

func (e *LaunchError) ExitCode() exitcodes.ExitCode { return exitcodes.BrowserLaunch }

func (e *LaunchError) Hint() string {
	return "install Chromium or set --browser-path, or point --remote-url at a running browser"
}

// NavigationError is returned when a page could not be loaded: the host is
// unreachable, DNS fails, the browser reports a net::ERR_* error, or the
// load event does not fire within the navigation timeout.
type NavigationError struct {
	URL     string
	Step    int
	Timeout time.Duration
	Err     error
}

var (
	_ errext.HasExitCode = &NavigationError{}
	_ errext.HasHint     = &NavigationError{}
)

func (e *NavigationError) Error() string {
	return fmt.Sprintf("%snavigating to %q: %v", stepPrefix(e.Step), e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

func (e *NavigationError) ExitCode() exitcodes.ExitCode { return exitcodes.NavigationFailed }

// TimedOut reports whether the navigation ran out of time.
func (e *NavigationError) TimedOut() bool {
	return errors.Is(e.Err, errTimeout)
}

func (e *NavigationError) Hint() string {
	if e.TimedOut() {
		return fmt.Sprintf("the page did not finish loading within %s; raise the navigation timeout", e.Timeout)
	}
	return "check that the application under test is running and reachable at the base URL"
}

// ReadinessTimeoutError is returned when a readiness condition is not met
// before its timeout. LastState describes the last observation.
type ReadinessTimeoutError struct {
	Condition Readiness
	Step      int
	Timeout   time.Duration
	LastState string
}

var (
	_ errext.HasExitCode = &ReadinessTimeoutError{}
	_ errext.HasHint     = &ReadinessTimeoutError{}
)

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("%swaiting for %s: not met within %s (last state: %s)",
		stepPrefix(e.Step), e.Condition, e.Timeout, e.LastState)
}

func (e *ReadinessTimeoutError) Unwrap() error { return errTimeout }

func (e *ReadinessTimeoutError) ExitCode() exitcodes.ExitCode { return exitcodes.ReadinessTimeout }

func (e *ReadinessTimeoutError) Hint() string {
	return "the application did not become ready; see the error screenshot or raise the readiness timeout"
}

// Reasons reported by InteractionError.
const (
	ReasonNotFound        = "not found"
	ReasonNotInteractable = "not interactable"
)

// InteractionError is returned when an interaction step fails.
type InteractionError struct {
	Step        int
	Interaction Interaction
	Reason      string
	Err         error
}

var (
	_ errext.HasExitCode = &InteractionError{}
	_ errext.HasHint     = &InteractionError{}
)

func (e *InteractionError) Error() string {
	msg := fmt.Sprintf("%s%s: %s", stepPrefix(e.Step), e.Interaction, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InteractionError) Unwrap() error { return e.Err }

func (e *InteractionError) ExitCode() exitcodes.ExitCode { return exitcodes.InteractionFailed }

func (e *InteractionError) Hint() string {
	switch e.Reason {
	case ReasonNotFound:
		return "no element matches the selector; check it against the page's current markup"
	case ReasonNotInteractable:
		return "the element exists but is hidden, zero-sized or disabled"
	}
	return ""
}

// CaptureError is returned when the evidence screenshot cannot be taken or
// persisted.
type CaptureError struct {
	Path string
	Err  error
}

var _ errext.HasExitCode = &CaptureError{}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capturing %q: %v", e.Path, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

func (e *CaptureError) ExitCode() exitcodes.ExitCode { return exitcodes.CaptureFailed }

var (
	errTimeout         = errors.New("timed out")
	errEmptyScreenshot = errors.New("screenshot is empty")
)
