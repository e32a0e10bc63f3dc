// Package tracing builds the OpenTelemetry tracer provider check runs
// report their spans to.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/liuxd6825/vischeck/version"
)

const (
	serviceName = "vischeck"
	// TracerName names the tracer check runs use.
	TracerName = "github.com/liuxd6825/vischeck/harness"
)

var (
	// ErrInvalidTracesOutput indicates that the defined traces output is not valid.
	ErrInvalidTracesOutput = errors.New("invalid traces output")
	// ErrInvalidProto indicates that the defined exporter protocol is not valid.
	ErrInvalidProto = errors.New("invalid protocol")
	// ErrInvalidURLScheme indicates that the defined exporter URL scheme is not valid.
	ErrInvalidURLScheme = errors.New("invalid URL scheme")
	// ErrInvalidGRPCWithURLPath indicates that an exporter using gRPC protocol does not support URL path.
	ErrInvalidGRPCWithURLPath = errors.New("grpc protocol does not support URL path")
)

// TracerProvider provides tracers and shuts down the export pipeline.
type TracerProvider struct {
	trace.TracerProvider
	shutdown func(ctx context.Context) error
}

// Tracer returns the tracer check runs report to.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.TracerProvider.Tracer(TracerName, trace.WithInstrumentationVersion(version.Full()))
}

// Shutdown flushes pending spans and releases the exporter. After Shutdown
// is called, all methods are no-ops.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.shutdown(ctx)
}

// NewNoopTracerProvider returns a provider that records nothing.
func NewNoopTracerProvider() *TracerProvider {
	return &TracerProvider{
		TracerProvider: noop.NewTracerProvider(),
		shutdown:       func(context.Context) error { return nil },
	}
}

// NewWriterTracerProvider exports finished spans as JSON lines to w. w is
// closed on Shutdown when it is an io.Closer.
func NewWriterTracerProvider(w io.Writer) (*TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("creating span writer: %w", err)
	}
	prov := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(newResource()),
	)
	return &TracerProvider{
		TracerProvider: prov,
		shutdown: func(ctx context.Context) error {
			err := prov.Shutdown(ctx)
			if c, ok := w.(io.Closer); ok {
				err = errors.Join(err, c.Close())
			}
			return err
		},
	}, nil
}

type otlpParams struct {
	proto    string
	endpoint string
	urlPath  string
	insecure bool
	headers  map[string]string
}

func defaultOTLPParams() otlpParams {
	return otlpParams{
		proto:    "grpc",
		endpoint: "127.0.0.1:4317",
		insecure: true,
		headers:  make(map[string]string),
	}
}

// newOTLPTracerProvider exports spans to an OpenTelemetry collector.
func newOTLPTracerProvider(ctx context.Context, params otlpParams) (*TracerProvider, error) {
	client, err := newClient(params)
	if err != nil {
		return nil, fmt.Errorf("creating TracerProvider exporter client: %w", err)
	}

	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("creating TracerProvider exporter: %w", err)
	}

	prov := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(newResource()),
	)
	return &TracerProvider{TracerProvider: prov, shutdown: prov.Shutdown}, nil
}

func newResource() *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version.Full()),
	)
}

func newClient(params otlpParams) (otlptrace.Client, error) {
	switch params.proto {
	case "http":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(params.endpoint),
			otlptracehttp.WithHeaders(params.headers),
		}
		if params.urlPath != "" {
			opts = append(opts, otlptracehttp.WithURLPath(params.urlPath))
		}
		if params.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.NewClient(opts...), nil
	case "grpc":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(params.endpoint),
			otlptracegrpc.WithHeaders(params.headers),
		}
		if params.insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.NewClient(opts...), nil
	default:
		return nil, ErrInvalidProto
	}
}

// TracerProviderFromConfigLine builds a provider from an output line and
// installs it as the global provider.
//
// Supported formats:
//   - none, or an empty line: spans are dropped.
//   - file=<path>: spans are written to path as JSON, one per line.
//   - otel[=<endpoint>:<port>,<other opts>], where endpoint and port default
//     to 127.0.0.1:4317 and other opts accept proto=http|grpc (default) and
//     header.<header_name>=<value>.
//
// Example: otel=http://127.0.0.1:4318/v1/traces,header.Authorization=token
func TracerProviderFromConfigLine(ctx context.Context, fs afero.Fs, line string) (*TracerProvider, error) {
	tp, err := fromConfigLine(ctx, fs, line)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp.TracerProvider)
	return tp, nil
}

func fromConfigLine(ctx context.Context, fs afero.Fs, line string) (*TracerProvider, error) {
	output, value, _ := strings.Cut(line, "=")
	switch output {
	case "", "none":
		return NewNoopTracerProvider(), nil
	case "file":
		if value == "" {
			return nil, fmt.Errorf("%w: file needs a path", ErrInvalidTracesOutput)
		}
		f, err := fs.Create(value)
		if err != nil {
			return nil, fmt.Errorf("opening trace file: %w", err)
		}
		return NewWriterTracerProvider(f)
	case "otel":
		params, err := otlpParamsFromConfigLine(line)
		if err != nil {
			return nil, err
		}
		return newOTLPTracerProvider(ctx, params)
	default:
		return nil, fmt.Errorf("%w %q", ErrInvalidTracesOutput, output)
	}
}

func otlpParamsFromConfigLine(line string) (otlpParams, error) {
	params := defaultOTLPParams()
	if line == "otel" {
		return params, nil
	}

	for _, token := range strings.Split(line, ",") {
		if token == "otel" {
			continue
		}
		key, value, ok := strings.Cut(token, "=")
		if !ok {
			return params, fmt.Errorf("otel option %q has no value", token)
		}

		var err error
		switch key {
		case "otel":
			err = params.parseURL(value)
			if err != nil {
				return params, fmt.Errorf("couldn't parse the otel URL: %w", err)
			}
		case "proto":
			err = params.parseProto(value)
			if err != nil {
				return params, fmt.Errorf("couldn't parse the otel proto: %w", err)
			}
		default:
			if strings.HasPrefix(key, "header.") {
				params.headers[strings.TrimPrefix(key, "header.")] = value
				continue
			}
			return params, fmt.Errorf("unknown otel config key %s", key)
		}
	}

	if params.proto == "grpc" && params.urlPath != "" {
		return params, ErrInvalidGRPCWithURLPath
	}
	return params, nil
}

// parseURL accepts http(s) URLs, which select the http protocol, or a bare
// host:port.
func (p *otlpParams) parseURL(s string) error {
	if !strings.Contains(s, "://") {
		p.endpoint = s
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q", ErrInvalidURLScheme, u.Scheme)
	}

	p.proto = "http"
	p.endpoint = u.Host
	p.urlPath = u.Path
	p.insecure = u.Scheme == "http"
	return nil
}

func (p *otlpParams) parseProto(proto string) error {
	if proto != "http" && proto != "grpc" {
		return fmt.Errorf("%w: %q", ErrInvalidProto, proto)
	}
	p.proto = proto
	return nil
}
