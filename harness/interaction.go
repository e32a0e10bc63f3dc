package harness

import (
	"context"
	"fmt"
	"time"
)

// InteractionKind names an interaction step.
type InteractionKind string

const (
	InteractionClick     InteractionKind = "click"
	InteractionFill      InteractionKind = "fill"
	InteractionNavigate  InteractionKind = "navigate"
	InteractionExpectURL InteractionKind = "expect-url"
	InteractionAwait     InteractionKind = "await"
)

// Interaction is one step executed after the page became ready. Steps run
// once each, in order.
type Interaction struct {
	Kind     InteractionKind
	Selector string
	// Value is the text to fill, or the URL to navigate to or expect.
	Value string
	Await Readiness
}

// Click clicks the element matching selector.
func Click(selector string) Interaction {
	return Interaction{Kind: InteractionClick, Selector: selector}
}

// Fill sets the value of the form control matching selector.
func Fill(selector, value string) Interaction {
	return Interaction{Kind: InteractionFill, Selector: selector, Value: value}
}

// Navigate loads url, which may be relative to the base URL.
func Navigate(url string) Interaction {
	return Interaction{Kind: InteractionNavigate, Value: url}
}

// ExpectURL waits until the page's URL equals url.
func ExpectURL(url string) Interaction {
	return Interaction{Kind: InteractionExpectURL, Value: url}
}

// Await evaluates a readiness condition between steps.
func Await(r Readiness) Interaction {
	return Interaction{Kind: InteractionAwait, Await: r}
}

func (i Interaction) String() string {
	switch i.Kind {
	case InteractionClick:
		return fmt.Sprintf("click %q", i.Selector)
	case InteractionFill:
		return fmt.Sprintf("fill %q with %q", i.Selector, i.Value)
	case InteractionNavigate:
		return fmt.Sprintf("navigate to %q", i.Value)
	case InteractionExpectURL:
		return fmt.Sprintf("expect url %q", i.Value)
	case InteractionAwait:
		return "await " + i.Await.String()
	}
	return string(i.Kind)
}

// Validate reports a malformed step.
func (i Interaction) Validate() error {
	switch i.Kind {
	case InteractionClick, InteractionFill:
		if i.Selector == "" {
			return invalidf("%s needs a selector", i.Kind)
		}
	case InteractionNavigate, InteractionExpectURL:
		if i.Value == "" {
			return invalidf("%s needs a url", i.Kind)
		}
	case InteractionAwait:
		return i.Await.Validate()
	default:
		return invalidf("unknown interaction kind %q", i.Kind)
	}
	return nil
}

func (cr *checkRun) interact(ctx context.Context, page Page, i Interaction, step int) error {
	cr.logger.Debugf("harness:interact", "step %d: %s", step, i)

	switch i.Kind {
	case InteractionClick:
		actx, cancel, err := cr.waitInteractable(ctx, page, i, step)
		if err != nil {
			return err
		}
		defer cancel()
		if err := page.Click(actx, i.Selector); err != nil {
			return &InteractionError{Step: step, Interaction: i, Reason: "click failed", Err: err}
		}

	case InteractionFill:
		actx, cancel, err := cr.waitInteractable(ctx, page, i, step)
		if err != nil {
			return err
		}
		defer cancel()
		if err := page.SetValue(actx, i.Selector, i.Value); err != nil {
			return &InteractionError{Step: step, Interaction: i, Reason: "fill failed", Err: err}
		}
		st, err := page.Inspect(actx, i.Selector)
		if err != nil {
			return &InteractionError{Step: step, Interaction: i, Reason: "reading value back", Err: err}
		}
		if st.Value != i.Value {
			return &InteractionError{
				Step: step, Interaction: i,
				Reason: fmt.Sprintf("value read back as %q", st.Value),
			}
		}

	case InteractionNavigate:
		u, err := cr.runner.resolve(i.Value)
		if err != nil {
			return err
		}
		return cr.navigate(ctx, page, u, step)

	case InteractionExpectURL:
		want, err := cr.runner.resolve(i.Value)
		if err != nil {
			return err
		}
		last, err := poll(ctx, cr.timeouts.Interaction(), cr.runner.pollInterval, func(ctx context.Context) (bool, string) {
			got, err := page.URL(ctx)
			if err != nil {
				return false, ""
			}
			return got == want, got
		})
		if err == errTimeout { //nolint:errorlint
			return &InteractionError{
				Step: step, Interaction: i,
				Reason: fmt.Sprintf("url is %q after %s", last, cr.timeouts.Interaction()),
			}
		}
		if err != nil {
			return fmt.Errorf("%s%s: %w", stepPrefix(step), i, err)
		}

	case InteractionAwait:
		return cr.await(ctx, page, i.Await, step)
	}

	return nil
}

// waitInteractable waits for the target of i to be visible and enabled. The
// returned context carries the rest of the interaction timeout for the
// action itself.
func (cr *checkRun) waitInteractable(
	ctx context.Context, page Page, i Interaction, step int,
) (context.Context, context.CancelFunc, error) {
	timeout := cr.timeouts.Interaction()
	deadline := time.Now().Add(timeout)

	var present bool
	last, err := poll(ctx, timeout, cr.runner.pollInterval, func(ctx context.Context) (bool, string) {
		st, err := page.Inspect(ctx, i.Selector)
		if err != nil {
			return false, ""
		}
		present = st.Present
		return st.Interactable(), st.String()
	})
	switch {
	case err == errTimeout: //nolint:errorlint
		reason := ReasonNotInteractable
		if !present {
			reason = ReasonNotFound
		}
		return nil, nil, &InteractionError{
			Step: step, Interaction: i, Reason: reason,
			Err: fmt.Errorf("after %s the element is %s", timeout, orUnknown(last)),
		}
	case err != nil:
		return nil, nil, fmt.Errorf("%s%s: %w", stepPrefix(step), i, err)
	}

	actx, cancel := context.WithDeadline(ctx, deadline)
	return actx, cancel, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
