// Package harness runs a single visual verification check: it opens a browser
// session, navigates to the target, waits for the application to be ready,
// performs the requested interactions and captures a screenshot as evidence.
//
// The browser is reached through the Launcher, Session and Page contracts;
// package chromium provides the chromedp implementation.
package harness

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Session is a running browser. Close releases every resource held by the
// session and must be safe to call more than once.
type Session interface {
	NewPage(ctx context.Context, opts PageOptions) (Page, error)
	Close() error
}

// ConsoleSink receives browser console messages in arrival order.
type ConsoleSink interface {
	Append(msg string)
}

// Viewport is the page's layout viewport in CSS pixels.
type Viewport struct {
	Width  int64 `json:"width" yaml:"width"`
	Height int64 `json:"height" yaml:"height"`
}

// DefaultViewport is the viewport pages get unless a check sets one.
var DefaultViewport = Viewport{Width: 1280, Height: 720}

// ParseViewport parses "<width>x<height>".
func ParseViewport(s string) (Viewport, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return Viewport{}, fmt.Errorf("viewport %q is not in the form <width>x<height>", s)
	}
	w, werr := strconv.ParseInt(strings.TrimSpace(ws), 10, 64)
	h, herr := strconv.ParseInt(strings.TrimSpace(hs), 10, 64)
	if err := errors.Join(werr, herr); err != nil {
		return Viewport{}, fmt.Errorf("parsing viewport %q: %w", s, err)
	}
	vp := Viewport{Width: w, Height: h}
	if vp.Width <= 0 || vp.Height <= 0 {
		return Viewport{}, fmt.Errorf("viewport %q must have positive dimensions", s)
	}
	return vp, nil
}

func (v Viewport) String() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// PageOptions configures a new page. Console may be nil.
type PageOptions struct {
	Viewport Viewport
	Console  ConsoleSink
}

// ScreenshotOptions selects what a screenshot covers. An empty Selector
// captures the viewport, or the whole page when FullPage is set.
type ScreenshotOptions struct {
	Selector string
	FullPage bool
}

// Page is a single tab of a Session. Every method that talks to the browser
// honours ctx cancellation.
type Page interface {
	// Navigate loads url and returns once the page fired its load event.
	Navigate(ctx context.Context, url string) error
	// Inspect reports the state of the first element matching selector.
	// A missing element is not an error.
	Inspect(ctx context.Context, selector string) (ElementState, error)
	// NetworkIdle reports whether no request has been in flight for quiet.
	NetworkIdle(quiet time.Duration) bool
	Click(ctx context.Context, selector string) error
	// SetValue replaces the value of a form control and dispatches the
	// input and change events.
	SetValue(ctx context.Context, selector, value string) error
	URL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
}

// ElementState is a snapshot of an element taken by Page.Inspect.
type ElementState struct {
	Present bool    `json:"present"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	// DisplayNone is set when the element or one of its ancestors has
	// display:none.
	DisplayNone bool `json:"displayNone"`
	// Hidden is set when the computed visibility is hidden or collapse.
	Hidden     bool              `json:"hidden"`
	Disabled   bool              `json:"disabled"`
	Value      string            `json:"value"`
	Attributes map[string]string `json:"attributes"`
}

// Visible reports whether the element is rendered with a non-empty box.
func (s ElementState) Visible() bool {
	return s.Present && s.Width > 0 && s.Height > 0 && !s.DisplayNone && !s.Hidden
}

// Interactable reports whether the element can be clicked or filled.
func (s ElementState) Interactable() bool {
	return s.Visible() && !s.Disabled
}

func (s ElementState) String() string {
	if !s.Present {
		return "absent"
	}
	parts := []string{fmt.Sprintf("present %gx%g", s.Width, s.Height)}
	if s.DisplayNone {
		parts = append(parts, "display:none")
	}
	if s.Hidden {
		parts = append(parts, "visibility:hidden")
	}
	if s.Disabled {
		parts = append(parts, "disabled")
	}
	return strings.Join(parts, ", ")
}
