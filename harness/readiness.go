package harness

import (
	"context"
	"fmt"
	"time"
)

// ReadinessKind names how a Readiness condition is evaluated.
type ReadinessKind string

const (
	ReadinessVisible     ReadinessKind = "selector-visible"
	ReadinessDelay       ReadinessKind = "fixed-delay"
	ReadinessNetworkIdle ReadinessKind = "network-idle"
	ReadinessAttribute   ReadinessKind = "attribute-equals"
)

// Readiness is a condition that signals the application finished rendering.
// A zero Timeout uses the runner's readiness timeout.
type Readiness struct {
	Kind      ReadinessKind
	Selector  string
	Attribute string
	Value     string
	Delay     time.Duration
	// Quiet is the trailing window without network activity required by
	// network-idle. Zero uses DefaultNetworkIdleQuiet.
	Quiet   time.Duration
	Timeout time.Duration
}

// WaitVisible waits until selector matches a visible element.
func WaitVisible(selector string, timeout time.Duration) Readiness {
	return Readiness{Kind: ReadinessVisible, Selector: selector, Timeout: timeout}
}

// WaitDelay waits for a fixed wall-clock delay.
func WaitDelay(d time.Duration) Readiness {
	return Readiness{Kind: ReadinessDelay, Delay: d}
}

// WaitNetworkIdle waits until the page has had no requests in flight for
// DefaultNetworkIdleQuiet.
func WaitNetworkIdle(timeout time.Duration) Readiness {
	return Readiness{Kind: ReadinessNetworkIdle, Timeout: timeout}
}

// WaitAttribute waits until the element matching selector has attribute
// set to value.
func WaitAttribute(selector, attribute, value string) Readiness {
	return Readiness{Kind: ReadinessAttribute, Selector: selector, Attribute: attribute, Value: value}
}

// WithTimeout returns a copy of r with its own timeout.
func (r Readiness) WithTimeout(d time.Duration) Readiness {
	r.Timeout = d
	return r
}

func (r Readiness) String() string {
	switch r.Kind {
	case ReadinessVisible:
		return fmt.Sprintf("%q to be visible", r.Selector)
	case ReadinessDelay:
		return fmt.Sprintf("a delay of %s", r.Delay)
	case ReadinessNetworkIdle:
		return "network idle"
	case ReadinessAttribute:
		return fmt.Sprintf("%q attribute %s=%q", r.Selector, r.Attribute, r.Value)
	}
	return string(r.Kind)
}

// Validate reports a malformed condition.
func (r Readiness) Validate() error {
	if r.Timeout < 0 {
		return invalidf("readiness timeout must be positive, got %s", r.Timeout)
	}
	switch r.Kind {
	case ReadinessVisible:
		if r.Selector == "" {
			return invalidf("%s readiness needs a selector", r.Kind)
		}
	case ReadinessDelay:
		if r.Delay <= 0 {
			return invalidf("%s readiness needs a positive delay", r.Kind)
		}
	case ReadinessNetworkIdle:
		if r.Quiet < 0 {
			return invalidf("network idle quiet window must be positive, got %s", r.Quiet)
		}
	case ReadinessAttribute:
		if r.Selector == "" || r.Attribute == "" {
			return invalidf("%s readiness needs a selector and an attribute", r.Kind)
		}
	default:
		return invalidf("unknown readiness kind %q", r.Kind)
	}
	return nil
}

// await blocks until cond holds on page.
func (cr *checkRun) await(ctx context.Context, page Page, cond Readiness, step int) error {
	timeout := cond.Timeout
	if timeout == 0 {
		timeout = cr.timeouts.Readiness()
	}

	if cond.Kind == ReadinessDelay {
		return sleep(ctx, cond.Delay)
	}

	var probe func(context.Context) (bool, string)
	switch cond.Kind {
	case ReadinessVisible:
		probe = func(ctx context.Context) (bool, string) {
			st, err := page.Inspect(ctx, cond.Selector)
			if err != nil {
				return false, "inspect failed: " + err.Error()
			}
			return st.Visible(), st.String()
		}
	case ReadinessAttribute:
		probe = func(ctx context.Context) (bool, string) {
			st, err := page.Inspect(ctx, cond.Selector)
			if err != nil {
				return false, "inspect failed: " + err.Error()
			}
			if !st.Present {
				return false, st.String()
			}
			v, ok := st.Attributes[cond.Attribute]
			if !ok {
				return false, fmt.Sprintf("attribute %s not set", cond.Attribute)
			}
			return v == cond.Value, fmt.Sprintf("%s=%q", cond.Attribute, v)
		}
	case ReadinessNetworkIdle:
		quiet := cond.Quiet
		if quiet == 0 {
			quiet = cr.runner.idleQuiet
		}
		probe = func(context.Context) (bool, string) {
			if page.NetworkIdle(quiet) {
				return true, "idle"
			}
			return false, "requests in flight"
		}
	}

	cr.logger.Debugf("harness:readiness", "waiting for %s (timeout %s)", cond, timeout)
	last, err := poll(ctx, timeout, cr.runner.pollInterval, probe)
	if err == errTimeout { //nolint:errorlint
		return &ReadinessTimeoutError{Condition: cond, Step: step, Timeout: timeout, LastState: last}
	}
	if err != nil {
		return fmt.Errorf("%swaiting for %s: %w", stepPrefix(step), cond, err)
	}
	return nil
}

// poll calls probe until it reports done. It returns errTimeout when timeout
// elapses first and ctx's error when ctx is done first, along with the last
// state probe reported.
func poll(
	ctx context.Context, timeout, interval time.Duration, probe func(context.Context) (bool, string),
) (string, error) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	for {
		done, state := probe(pctx)
		if done {
			return state, nil
		}
		// A probe cut short by the deadline says nothing about the page.
		if pctx.Err() == nil || last == "" {
			last = state
		}
		select {
		case <-pctx.Done():
			if err := ctx.Err(); err != nil {
				return last, err
			}
			return last, errTimeout
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
