package tracing

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestOTLPParamsFromConfigLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want otlpParams
		err  error
	}{
		{
			name: "default",
			line: "otel",
			want: defaultOTLPParams(),
		},
		{
			name: "host_port",
			line: "otel=collector:4317",
			want: otlpParams{proto: "grpc", endpoint: "collector:4317", insecure: true, headers: map[string]string{}},
		},
		{
			name: "http_url",
			line: "otel=https://collector:4318/v1/traces,header.Authorization=token abc",
			want: otlpParams{
				proto:    "http",
				endpoint: "collector:4318",
				urlPath:  "/v1/traces",
				headers:  map[string]string{"Authorization": "token abc"},
			},
		},
		{
			name: "proto_only",
			line: "otel,proto=http",
			want: otlpParams{proto: "http", endpoint: "127.0.0.1:4317", insecure: true, headers: map[string]string{}},
		},
		{name: "bad_proto", line: "otel,proto=udp", err: ErrInvalidProto},
		{name: "bad_scheme", line: "otel=ftp://collector", err: ErrInvalidURLScheme},
		{name: "grpc_path", line: "otel=http://collector:4318/v1/traces,proto=grpc", err: ErrInvalidGRPCWithURLPath},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := otlpParamsFromConfigLine(tt.line)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromConfigLineUnknownKey(t *testing.T) {
	t.Parallel()

	_, err := otlpParamsFromConfigLine("otel,timeout=5s")
	assert.ErrorContains(t, err, "unknown otel config key timeout")
}

func TestFromConfigLineOutputs(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()

	tp, err := fromConfigLine(context.Background(), fs, "")
	require.NoError(t, err)
	assert.IsType(t, noop.TracerProvider{}, tp.TracerProvider)

	_, err = fromConfigLine(context.Background(), fs, "jaeger=localhost")
	require.ErrorIs(t, err, ErrInvalidTracesOutput)

	_, err = fromConfigLine(context.Background(), fs, "file=")
	require.ErrorIs(t, err, ErrInvalidTracesOutput)
}

func TestFileTracerProvider(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	tp, err := fromConfigLine(context.Background(), fs, "file=spans.json")
	require.NoError(t, err)

	_, span := tp.Tracer().Start(context.Background(), "check cloud-fix")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	data, err := afero.ReadFile(fs, "spans.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Name":"check cloud-fix"`)
	assert.Contains(t, string(data), TracerName)
}
