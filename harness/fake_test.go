package harness

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeLauncher hands out a single fakeSession.
type fakeLauncher struct {
	session *fakeSession
	err     error
}

func (l *fakeLauncher) Launch(context.Context) (Session, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.session, nil
}

type fakeSession struct {
	mu         sync.Mutex
	page       *fakePage
	newPageErr error
	closeErr   error
	closes     int
	opts       PageOptions
}

func (s *fakeSession) NewPage(_ context.Context, opts PageOptions) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.newPageErr != nil {
		return nil, s.newPageErr
	}
	s.opts = opts
	s.page.console = opts.Console
	return s.page, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closes++
	return s.closeErr
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closes
}

// fakePage is an in-memory page. Elements are keyed by selector.
type fakePage struct {
	mu sync.Mutex

	elements map[string]ElementState
	// reveal makes an element appear after it has been inspected n times.
	reveal map[string]int
	url    string
	idle   bool

	navigateErr   error
	blockNavigate bool
	// redirects maps a clicked selector to the URL the page moves to.
	redirects map[string]string
	// rejectFill keeps the previous value on SetValue.
	rejectFill bool
	panicOn    string

	// consoleOnNavigate is emitted to the console sink on every navigation.
	consoleOnNavigate []string
	console           ConsoleSink

	shot     []byte
	shotErrs []error

	inspections map[string]int
	actions     []string
}

func newFakePage(t *testing.T) *fakePage {
	t.Helper()

	return &fakePage{
		elements:    make(map[string]ElementState),
		reveal:      make(map[string]int),
		redirects:   make(map[string]string),
		inspections: make(map[string]int),
		shot:        pngBytes(t, 64, 48),
	}
}

func newFakeDriver(t *testing.T) (*fakeLauncher, *fakeSession, *fakePage) {
	t.Helper()

	p := newFakePage(t)
	s := &fakeSession{page: p}
	return &fakeLauncher{session: s}, s, p
}

func (p *fakePage) record(format string, args ...interface{}) {
	p.actions = append(p.actions, fmt.Sprintf(format, args...))
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.record("navigate %s", url)
	block, err, msgs, sink := p.blockNavigate, p.navigateErr, p.consoleOnNavigate, p.console
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	if sink != nil {
		for _, m := range msgs {
			sink.Append(m)
		}
	}

	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return nil
}

func (p *fakePage) Inspect(ctx context.Context, selector string) (ElementState, error) {
	if err := ctx.Err(); err != nil {
		return ElementState{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.inspections[selector]++
	if n, ok := p.reveal[selector]; ok && p.inspections[selector] <= n {
		return ElementState{}, nil
	}
	return p.elements[selector], nil
}

func (p *fakePage) NetworkIdle(time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.idle
}

func (p *fakePage) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.panicOn == selector {
		panic("click on " + selector)
	}
	p.record("click %s", selector)
	if u, ok := p.redirects[selector]; ok {
		p.url = u
	}
	return nil
}

func (p *fakePage) SetValue(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.record("fill %s %s", selector, value)
	if p.rejectFill {
		return nil
	}
	st := p.elements[selector]
	st.Value = value
	p.elements[selector] = st
	return nil
}

func (p *fakePage) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.url, nil
}

func (p *fakePage) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.record("screenshot %q", opts.Selector)
	if len(p.shotErrs) > 0 {
		err := p.shotErrs[0]
		p.shotErrs = p.shotErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return p.shot, nil
}

func (p *fakePage) setElement(selector string, st ElementState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.elements[selector] = st
}

func (p *fakePage) recorded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.actions...)
}

func visibleElement() ElementState {
	return ElementState{Present: true, Width: 640, Height: 480}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}
