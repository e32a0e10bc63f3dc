package chromium

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/liuxd6825/vischeck/harness"
	"github.com/liuxd6825/vischeck/log"
)

// Page is a browser tab.
type Page struct {
	ctx     context.Context
	console harness.ConsoleSink
	idle    *networkIdle
	logger  *log.Logger
}

var _ harness.Page = &Page{}

// onEvent runs on chromedp's event loop and must not block.
func (p *Page) onEvent(ev interface{}) {
	switch ev := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		if p.console != nil {
			p.console.Append(consoleText(ev.Args))
		}
	case *runtime.EventExceptionThrown:
		if p.console != nil {
			p.console.Append(exceptionText(ev.ExceptionDetails))
		}
	case *network.EventRequestWillBeSent:
		p.idle.started(string(ev.RequestID))
	case *network.EventLoadingFinished:
		p.idle.finished(string(ev.RequestID))
	case *network.EventLoadingFailed:
		p.idle.finished(string(ev.RequestID))
	}
}

// run executes actions on the tab, bounded by ctx's deadline and
// cancellation. Cancelling the derived context aborts the actions but keeps
// the tab open.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	rctx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		rctx, dcancel = context.WithDeadline(rctx, deadline)
		defer dcancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(rctx, actions...)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

// Navigate loads url and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.logger.Debugf("chromium:navigate", "%s", url)
	return p.run(ctx, chromedp.Navigate(url))
}

// Inspect evaluates the inspect script for selector and decodes the
// element state it reports. A missing element comes back as not present.
func (p *Page) Inspect(ctx context.Context, selector string) (harness.ElementState, error) {
	script, err := inspectScript(selector)
	if err != nil {
		return harness.ElementState{}, err
	}
	var raw []byte
	if err := p.run(ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return harness.ElementState{}, fmt.Errorf("inspecting %q: %w", selector, err)
	}
	var st harness.ElementState
	if err := json.Unmarshal(raw, &st); err != nil {
		return harness.ElementState{}, fmt.Errorf("decoding state of %q: %w", selector, err)
	}
	return st, nil
}

// NetworkIdle reports whether no request was in flight for quiet.
func (p *Page) NetworkIdle(quiet time.Duration) bool {
	return p.idle.idle(quiet)
}

// Click clicks the first node matching selector once it is visible.
func (p *Page) Click(ctx context.Context, selector string) error {
	sel, by := queryOf(selector)
	return p.run(ctx, chromedp.Click(sel, by))
}

// SetValue sets the value of the form control matching selector and fires
// its input and change events.
func (p *Page) SetValue(ctx context.Context, selector, value string) error {
	script, err := setValueScript(selector, value)
	if err != nil {
		return err
	}
	var got string
	return p.run(ctx, chromedp.Evaluate(script, &got))
}

// URL returns the current document location.
func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

// Screenshot returns a PNG of the element, the viewport or the whole page.
func (p *Page) Screenshot(ctx context.Context, opts harness.ScreenshotOptions) ([]byte, error) {
	var (
		buf    []byte
		action chromedp.Action
	)
	switch {
	case opts.Selector != "":
		sel, by := queryOf(opts.Selector)
		action = chromedp.Screenshot(sel, &buf, by)
	case opts.FullPage:
		// Quality 100 makes chromedp encode PNG.
		action = chromedp.FullScreenshot(&buf, 100)
	default:
		action = chromedp.CaptureScreenshot(&buf)
	}
	if err := p.run(ctx, action); err != nil {
		return nil, err
	}
	return buf, nil
}

// queryOf maps a selector onto chromedp's query options.
func queryOf(selector string) (string, chromedp.QueryOption) {
	if expr, ok := harness.XPath(selector); ok {
		return expr, chromedp.BySearch
	}
	return selector, chromedp.ByQuery
}
