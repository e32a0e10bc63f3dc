// Package probe checks that the application under test and the services it
// depends on answer before any browser is started.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/liuxd6825/vischeck/errext"
	"github.com/liuxd6825/vischeck/errext/exitcodes"
	"github.com/liuxd6825/vischeck/log"
)

const (
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 10 * time.Second
	// DefaultConcurrency is the number of requests in flight at once.
	DefaultConcurrency = 4

	maxHTMLSize = 4 << 20
)

// ErrUnavailable is returned by Err when an endpoint failed.
var ErrUnavailable = errext.WithExitCodeIfNone(errors.New("preflight failed"), exitcodes.PreflightFailed)

// Endpoint is a URL expected to answer with a 2xx status. An empty URL is
// reported as not configured.
type Endpoint struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	// Selectors are looked up in the served HTML. Missing ones only warn,
	// since client side rendering may add them later.
	Selectors []string `yaml:"selectors,omitempty"`
}

// Status is the outcome of probing one endpoint.
type Status string

const (
	StatusAvailable     Status = "available"
	StatusUnavailable   Status = "unavailable"
	StatusUnreachable   Status = "unreachable"
	StatusNotConfigured Status = "not-configured"
)

// Result is the outcome of probing one endpoint.
type Result struct {
	Endpoint Endpoint
	Status   Status
	Code     int
	Err      error
	// MissingSelectors lists the Endpoint.Selectors absent from the HTML.
	MissingSelectors []string
	Duration         time.Duration
}

// Failed reports whether the endpoint did not answer successfully. A
// missing URL is a warning, not a failure.
func (r Result) Failed() bool {
	return r.Status == StatusUnavailable || r.Status == StatusUnreachable
}

// Options configures a Prober.
type Options struct {
	Client      *http.Client
	Timeout     time.Duration
	Concurrency int
	// RPS caps the request rate across all endpoints. Zero is unlimited.
	RPS    float64
	Logger *log.Logger
}

// Prober issues the requests.
type Prober struct {
	client      *http.Client
	timeout     time.Duration
	concurrency int
	limiter     *rate.Limiter
	logger      *log.Logger
}

// New returns a Prober. Zero options get defaults.
func New(opts Options) *Prober {
	p := &Prober{
		client:      opts.Client,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		limiter:     rate.NewLimiter(rate.Inf, 0),
		logger:      opts.Logger,
	}
	if opts.RPS > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}
	if p.client == nil {
		p.client = http.DefaultClient
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	if p.concurrency <= 0 {
		p.concurrency = DefaultConcurrency
	}
	if p.logger == nil {
		p.logger = log.NewNullLogger()
	}
	return p
}

// Probe checks every endpoint concurrently. Results are in the order of
// endpoints, whatever order the requests finish in. It only returns early
// when ctx is done.
func (p *Prober) Probe(ctx context.Context, endpoints []Endpoint) ([]Result, error) {
	results := make([]Result, len(endpoints))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, ep := range endpoints {
		i, ep := i, ep
		if ep.URL == "" {
			results[i] = Result{Endpoint: ep, Status: StatusNotConfigured}
			continue
		}
		g.Go(func() error {
			if err := p.limiter.Wait(gctx); err != nil {
				return err
			}
			results[i] = p.probe(gctx, ep)
			// Endpoint failures are part of the result, not of the group.
			return nil
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return results, err
	}
	return results, ctx.Err()
}

func (p *Prober) probe(ctx context.Context, ep Endpoint) (res Result) {
	start := time.Now()
	res.Endpoint = ep
	defer func() {
		res.Duration = time.Since(start)
		p.logger.Debugf("probe", "%s: %s in %s", ep.Name, res.Status, res.Duration)
	}()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL, nil)
	if err != nil {
		res.Status, res.Err = StatusUnreachable, err
		return res
	}
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		res.Status, res.Err = StatusUnreachable, unwrapURLError(err)
		return res
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	res.Code = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Status = StatusUnavailable
		return res
	}
	res.Status = StatusAvailable

	if len(ep.Selectors) == 0 || !isHTML(resp.Header.Get("Content-Type")) {
		return res
	}
	missing, err := missingSelectors(io.LimitReader(resp.Body, maxHTMLSize), ep.Selectors)
	if err != nil {
		p.logger.Warnf("probe", "%s: parsing HTML: %v", ep.Name, err)
		return res
	}
	res.MissingSelectors = missing
	return res
}

func isHTML(contentType string) bool {
	return contentType == "" || strings.HasPrefix(contentType, "text/html")
}

// missingSelectors returns the selectors that match nothing in the document.
func missingSelectors(r io.Reader, selectors []string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, sel := range selectors {
		if strings.HasPrefix(sel, "xpath=") {
			continue
		}
		if doc.Find(sel).Length() == 0 {
			missing = append(missing, sel)
		}
	}
	return missing, nil
}

// unwrapURLError drops the "Get <url>:" prefix net/http adds, the report
// already names the endpoint.
func unwrapURLError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

// Err returns an error naming the failed endpoints, or nil.
func Err(results []Result) error {
	var failed []string
	for _, r := range results {
		if r.Failed() {
			failed = append(failed, r.Endpoint.Name)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return errext.WithHint(
		fmt.Errorf("%w: %s not available", ErrUnavailable, strings.Join(failed, ", ")),
		"start the application under test, or check --base-url",
	)
}
