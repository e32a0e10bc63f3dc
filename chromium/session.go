package chromium

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/liuxd6825/vischeck/harness"
	"github.com/liuxd6825/vischeck/log"
)

// Session is a running browser started by Launcher.
type Session struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	logger        *log.Logger

	mu         sync.Mutex
	tabCancels []context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

var _ harness.Session = &Session{}

// NewPage opens a tab with the given viewport. Console messages and
// uncaught exceptions are forwarded to opts.Console from the moment the tab
// exists.
func (s *Session) NewPage(ctx context.Context, opts harness.PageOptions) (harness.Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)

	p := &Page{
		ctx:     tabCtx,
		console: opts.Console,
		idle:    newNetworkIdle(),
		logger:  s.logger,
	}
	chromedp.ListenTarget(tabCtx, p.onEvent)

	actions := []chromedp.Action{network.Enable(), runtime.Enable()}
	if opts.Viewport.Width > 0 && opts.Viewport.Height > 0 {
		actions = append(actions, chromedp.EmulateViewport(opts.Viewport.Width, opts.Viewport.Height))
	}

	// The first Run on tabCtx creates the tab, so it cannot run on a
	// derived context; ctx is honoured by cancelling the tab instead.
	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(tabCtx, actions...) }()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		tabCancel()
		<-errc
		err = ctx.Err()
	}
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("opening tab: %w", err)
	}

	s.mu.Lock()
	s.tabCancels = append(s.tabCancels, tabCancel)
	s.mu.Unlock()
	return p, nil
}

// Close shuts the browser down and releases the allocator. Calls after the
// first return the first call's result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Debugf("chromium:close", "closing browser")
		s.mu.Lock()
		for _, cancel := range s.tabCancels {
			cancel()
		}
		s.mu.Unlock()
		// Cancel waits for the browser to exit gracefully.
		if err := chromedp.Cancel(s.browserCtx); err != nil {
			s.closeErr = fmt.Errorf("closing browser: %w", err)
		}
		s.browserCancel()
		s.allocCancel()
	})
	return s.closeErr
}
