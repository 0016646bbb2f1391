// Tests for the exporter, its config validation and the resty transport
package ddtrace

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

const testAPIKey = "test-api-key"

type capturedRequest struct {
	method string
	path   string
	header http.Header
	body   []byte
}

func newIntake(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, capturedRequest{r.Method, r.URL.Path, r.Header.Clone(), body})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte("intake says hi"))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), requests...)
	}
}

func newTestExporter(t *testing.T, endpoint string, opts ...Option) *Exporter {
	t.Helper()
	cfg := testEncoderConfig()
	cfg.Endpoint = endpoint
	cfg.APIKey = testAPIKey
	cfg.Transport = NewRestyTransport(0)
	exp, err := NewExporter(cfg, append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)...)
	require.NoError(t, err)
	return exp
}

func TestExporterSendsPayload(t *testing.T) {
	t.Parallel()

	srv, requests := newIntake(t, http.StatusOK)
	exp := newTestExporter(t, srv.URL)

	records := []SpanRecord{testRecord(1, 1), testRecord(2, 2), testRecord(1, 3)}
	require.NoError(t, exp.Export(context.Background(), records))

	reqs := requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/api/v0.2/traces", req.path)
	assert.Equal(t, "application/x-protobuf", req.header.Get("Content-Type"))
	assert.Equal(t, "go", req.header.Get("X-Datadog-Reported-Languages"))
	assert.Equal(t, testAPIKey, req.header.Get("DD-Api-Key"))

	p := decodePayload(t, req.body)
	require.Len(t, p.TracerPayloads, 1)
	assert.Len(t, p.TracerPayloads[0].Chunks, 2)
}

func TestExporterEmptyBatchSendsNothing(t *testing.T) {
	t.Parallel()

	srv, requests := newIntake(t, http.StatusOK)
	exp := newTestExporter(t, srv.URL)

	require.NoError(t, exp.Export(context.Background(), nil))
	assert.Empty(t, requests())
}

func TestExporterRejectedPayload(t *testing.T) {
	t.Parallel()

	srv, requests := newIntake(t, http.StatusForbidden)
	exp := newTestExporter(t, srv.URL)

	err := exp.Export(context.Background(), testRecords(2))
	require.Error(t, err)

	var tErr *TransportError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, http.StatusForbidden, tErr.StatusCode)
	assert.Contains(t, err.Error(), "intake says hi")
	assert.Len(t, requests(), 1, "failed exports are not retried")
}

func TestExporterTransportFailure(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	cfg := Config{
		APIKey: testAPIKey,
		Transport: TransportFunc(func(context.Context, *Request) (*Response, error) {
			return nil, cause
		}),
	}
	exp, err := NewExporter(cfg)
	require.NoError(t, err)

	err = exp.Export(context.Background(), testRecords(1))
	var tErr *TransportError
	require.ErrorAs(t, err, &tErr)
	assert.Zero(t, tErr.StatusCode)
	assert.ErrorIs(t, err, cause)
}

func TestExporterUsesConfiguredTransport(t *testing.T) {
	t.Parallel()

	var got *Request
	cfg := Config{
		Endpoint: "https://intake.example.com/base/",
		APIKey:   testAPIKey,
		Transport: TransportFunc(func(_ context.Context, req *Request) (*Response, error) {
			got = req
			return &Response{StatusCode: http.StatusAccepted}, nil
		}),
	}
	exp, err := NewExporter(cfg)
	require.NoError(t, err)
	require.NoError(t, exp.Export(context.Background(), testRecords(1)))

	require.NotNil(t, got)
	assert.Equal(t, "https://intake.example.com/base/api/v0.2/traces", got.URL)
	assert.Equal(t, testAPIKey, got.Header.Get(APIKeyHeader))
	assert.Equal(t, "application/x-protobuf", got.Header.Get("content-type"))
	assert.Equal(t, LanguageName, got.Header.Get("x-datadog-reported-languages"))
	for key := range got.Header {
		assert.Equal(t, http.CanonicalHeaderKey(key), key)
	}
}

func TestExporterShutdown(t *testing.T) {
	t.Parallel()

	srv, requests := newIntake(t, http.StatusOK)
	exp := newTestExporter(t, srv.URL)

	require.NoError(t, exp.Shutdown(context.Background()))
	assert.ErrorIs(t, exp.Export(context.Background(), testRecords(1)), ErrExporterShutdown)
	assert.Empty(t, requests())
}

func TestExporterAsSDKExporter(t *testing.T) {
	t.Parallel()

	srv, requests := newIntake(t, http.StatusOK)
	exp := newTestExporter(t, srv.URL)

	stubs := tracetest.SpanStubs{
		{Name: "a", StartTime: testStart, EndTime: testStart.Add(1)},
		{Name: "b", StartTime: testStart, EndTime: testStart.Add(2)},
	}
	require.NoError(t, exp.ExportSpans(context.Background(), stubs.Snapshots()))
	require.Len(t, requests(), 1)

	p := decodePayload(t, requests()[0].body)
	require.Len(t, p.TracerPayloads[0].Chunks, 1)
	assert.Len(t, p.TracerPayloads[0].Chunks[0].Spans, 2)
}

func TestExporterMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	srv, _ := newIntake(t, http.StatusOK)
	exp := newTestExporter(t, srv.URL, WithMeterProvider(mp))
	require.NoError(t, exp.Export(context.Background(), testRecords(3)))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "ddspan.export.spans" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(3), total)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	transport := NewRestyTransport(0)
	tests := []struct {
		name    string
		cfg     Config
		wantErr []error
	}{
		{
			name: "valid",
			cfg:  Config{APIKey: "k", Transport: transport},
		},
		{
			name:    "missing transport",
			cfg:     Config{APIKey: "k"},
			wantErr: []error{errNoTransport},
		},
		{
			name:    "missing api key",
			cfg:     Config{Transport: transport},
			wantErr: []error{errNoAPIKey},
		},
		{
			name:    "everything missing",
			cfg:     Config{},
			wantErr: []error{errNoTransport, errNoAPIKey},
		},
		{
			name:    "bad scheme",
			cfg:     Config{APIKey: "k", Transport: transport, Endpoint: "ftp://intake.example.com/"},
			wantErr: []error{errEndpointScheme},
		},
		{
			name:    "no host",
			cfg:     Config{APIKey: "k", Transport: transport, Endpoint: "https:///path"},
			wantErr: []error{errEndpointHost},
		},
		{
			name:    "negative threshold",
			cfg:     Config{APIKey: "k", Transport: transport, FlushThreshold: -1},
			wantErr: []error{errBadThreshold},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			for _, want := range tt.wantErr {
				assert.ErrorIs(t, err, want)
			}
		})
	}
}

func TestNewExporterRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := NewExporter(Config{Endpoint: "::not a url"})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, errNoAPIKey)
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.WithDefaults()
	assert.Equal(t, DefaultEndpoint, cfg.Endpoint)
	assert.NotEmpty(t, cfg.ServiceName)
	assert.NotEmpty(t, cfg.RuntimeID)
	assert.Equal(t, DefaultFlushThreshold, cfg.FlushThreshold)
	assert.Equal(t, DefaultBufferCapacity, cfg.BufferCapacity)

	url, err := cfg.TracesURL()
	require.NoError(t, err)
	assert.Equal(t, "https://trace.agent.datadoghq.eu/api/v0.2/traces", url)

	kept := Config{ServiceName: "svc", RuntimeID: "rid"}.WithDefaults()
	assert.Equal(t, "svc", kept.ServiceName)
	assert.Equal(t, "rid", kept.RuntimeID)
}

func TestExporterLogsFailures(t *testing.T) {
	t.Parallel()

	srv, _ := newIntake(t, http.StatusInternalServerError)
	core, logs := newObservedLogger()
	exp := newTestExporter(t, srv.URL, WithLogger(zapLogger(core)))

	require.Error(t, exp.Export(context.Background(), testRecords(1)))
	entries := logs.FilterMessage("trace export failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ContextMap()["spans"])
}
