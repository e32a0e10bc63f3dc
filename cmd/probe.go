package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/liuxd6825/vischeck/cmd/state"
	"github.com/liuxd6825/vischeck/errext"
	"github.com/liuxd6825/vischeck/errext/exitcodes"
	"github.com/liuxd6825/vischeck/harness"
	"github.com/liuxd6825/vischeck/log"
	"github.com/liuxd6825/vischeck/metrics"
	"github.com/liuxd6825/vischeck/probe"
	"github.com/liuxd6825/vischeck/scenario"
	"github.com/liuxd6825/vischeck/version"
)

// cmdProbe handles the `vischeck probe` sub-command
type cmdProbe struct {
	gs          *state.GlobalState
	suitePath   string
	external    bool
	endpoints   []string
	timeout     time.Duration
	concurrency int
	rps         float64
}

func (c *cmdProbe) run(cmd *cobra.Command, args []string) error {
	gs := c.gs
	cliConf := Config{BaseURL: getNullString(cmd.Flags(), "base-url")}
	conf, err := getConsolidatedConfig(gs, cliConf)
	if err != nil {
		return err
	}
	filter, err := logCategoryFilter(gs.Flags.LogCategories)
	if err != nil {
		return err
	}
	logger := log.New(gs.Logger, filter)

	loader := &cmdRun{gs: gs, suitePath: c.suitePath}
	checks, _, baseURL, err := loader.loadChecks(args, conf, cliConf)
	if err != nil {
		return err
	}
	endpoints, err := appEndpoints(baseURL, checks)
	if err != nil {
		return err
	}
	extra, err := parseEndpoints(c.endpoints)
	if err != nil {
		return err
	}
	endpoints = append(endpoints, extra...)
	if c.external {
		endpoints = append(endpoints, probe.ExternalEndpoints(func(k string) string { return gs.Env[k] })...)
	}

	ctx, cancel := context.WithCancel(gs.Ctx)
	defer cancel()
	return runProbeWith(ctx, gs, probe.New(probe.Options{
		Client:      newProbeClient(),
		Timeout:     c.timeout,
		Concurrency: c.concurrency,
		RPS:         c.rps,
		Logger:      logger,
	}), metrics.NewRecorder(), endpoints)
}

// runProbe probes endpoints with the default settings, prints the report and
// fails when one of them is unavailable.
func runProbe(
	ctx context.Context, gs *state.GlobalState, logger *log.Logger, recorder *metrics.Recorder, endpoints []probe.Endpoint,
) error {
	return runProbeWith(ctx, gs, probe.New(probe.Options{Client: newProbeClient(), Logger: logger}), recorder, endpoints)
}

func runProbeWith(
	ctx context.Context, gs *state.GlobalState, p *probe.Prober, recorder *metrics.Recorder, endpoints []probe.Endpoint,
) error {
	results, err := p.Probe(ctx, endpoints)
	if err != nil {
		return &errext.InterruptError{Reason: err.Error()}
	}
	recorder.ProbeDone(results)

	style := func(s probe.Status, line string) string {
		switch s {
		case probe.StatusAvailable:
			return gs.Console.Success(line)
		case probe.StatusNotConfigured:
			return gs.Console.Warning(line)
		default:
			return gs.Console.Failure(line)
		}
	}
	if err := probe.WriteReport(gs.Console.Out(), results, style); err != nil {
		return err
	}
	return probe.Err(results)
}

// appEndpoints returns one endpoint per distinct page the checks open,
// expecting the selectors their readiness conditions wait for.
func appEndpoints(baseURL string, checks []harness.Check) ([]probe.Endpoint, error) {
	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() {
		return nil, errext.WithExitCodeIfNone(
			fmt.Errorf("base URL %q must be absolute", baseURL), exitcodes.InvalidConfig)
	}

	var endpoints []probe.Endpoint
	index := make(map[string]int)
	for _, c := range checks {
		ref, err := url.Parse(c.URL)
		if err != nil {
			return nil, errext.WithExitCodeIfNone(
				fmt.Errorf("check %q: parsing url %q: %w", c.Name, c.URL, err), exitcodes.InvalidConfig)
		}
		target := base.ResolveReference(ref).String()
		i, ok := index[target]
		if !ok {
			i = len(endpoints)
			index[target] = i
			endpoints = append(endpoints, probe.Endpoint{Name: "Application " + ref.Path, URL: target})
		}
		if sel := c.Readiness.Selector; sel != "" && !contains(endpoints[i].Selectors, sel) {
			endpoints[i].Selectors = append(endpoints[i].Selectors, sel)
		}
	}
	return endpoints, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// parseEndpoints parses name=url pairs.
func parseEndpoints(pairs []string) ([]probe.Endpoint, error) {
	endpoints := make([]probe.Endpoint, 0, len(pairs))
	for _, p := range pairs {
		name, u, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, errext.WithExitCodeIfNone(
				fmt.Errorf("endpoint %q should be in the form name=url", p), exitcodes.InvalidConfig)
		}
		endpoints = append(endpoints, probe.Endpoint{Name: name, URL: u})
	}
	return endpoints, nil
}

func newProbeClient() *http.Client {
	return &http.Client{Transport: userAgentTransport{http.DefaultTransport}}
}

type userAgentTransport struct {
	base http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", "vischeck/"+version.Full())
	return t.base.RoundTrip(req)
}

func getCmdProbe(gs *state.GlobalState) *cobra.Command {
	c := &cmdProbe{gs: gs}

	probeCmd := &cobra.Command{
		Use:   "probe [scenario...]",
		Short: "Check that the application and its data sources answer",
		Long: `Check that the application and its data sources answer.

Every page the selected checks open is requested once, and the selectors their
readiness conditions wait for are looked up in the served HTML. Selectors
missing from the HTML only warn, since the page may render them later.`,
		Example: `  # Probe the pages of every built-in scenario
  vischeck probe

  # Also probe the third party APIs the application reads from
  vischeck probe --external

  # Probe an extra endpoint
  vischeck probe --endpoint "Data API=http://localhost:3000/api/data"`,
		RunE: c.run,
	}

	flags := probeCmd.Flags()
	flags.SortFlags = false
	flags.StringVarP(&c.suitePath, "suite", "f", "", "probe the pages of this YAML suite `file`")
	flags.String("base-url", scenario.DefaultBaseURL, "`url` relative check URLs are resolved against")
	flags.BoolVar(&c.external, "external", false,
		"also probe the third party APIs; keys come from WEATHER_API_KEY, OPENAQ_API_KEY, API_TIDES_KEY and DATA_API_URL")
	flags.StringArrayVar(&c.endpoints, "endpoint", nil, "extra endpoint as `name=url`; can be repeated")
	flags.DurationVar(&c.timeout, "timeout", probe.DefaultTimeout, "time allowed for each request")
	flags.IntVar(&c.concurrency, "concurrency", probe.DefaultConcurrency, "requests in flight at once")
	flags.Float64Var(&c.rps, "rps", 0, "maximum requests per second, 0 for no limit")
	return probeCmd
}
