// Exporter configuration: defaults, validation and the intake URL.
package ddtrace

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Version is reported as both the tracer and agent version in payloads.
const Version = "0.3.0"

const (
	// DefaultEndpoint is the EU trace intake.
	DefaultEndpoint = "https://trace.agent.datadoghq.eu/"
	// TracesPath is appended to the endpoint base to form the intake URL.
	TracesPath = "api/v0.2/traces"

	DefaultFlushThreshold = 100
	DefaultBufferCapacity = 256
	DefaultExportTimeout  = 10 * time.Second
)

const serviceNameKey = attribute.Key("service.name")

var (
	errNoTransport    = errors.New("no transport configured")
	errNoAPIKey       = errors.New("API key is required")
	errBadThreshold   = errors.New("flush threshold must be positive")
	errBadCapacity    = errors.New("buffer capacity must be positive")
	errEndpointScheme = errors.New("endpoint scheme must be http or https")
	errEndpointHost   = errors.New("endpoint has no host")
)

// Config describes where and how spans are exported. It is not modified after
// an Exporter is built from it.
type Config struct {
	ServiceName string
	Endpoint    string
	APIKey      string
	Env         string
	Tags        map[string]string
	HostName    string
	RuntimeID   string
	ContainerID string
	AppVersion  string

	FlushThreshold int
	BufferCapacity int
	ExportTimeout  time.Duration

	Transport Transport
}

// WithDefaults returns a copy of c with unset optional fields filled in.
// The service name falls back to the SDK's default resource.
func (c Config) WithDefaults() Config {
	if c.ServiceName == "" {
		if v, ok := resource.Default().Set().Value(serviceNameKey); ok {
			c.ServiceName = v.AsString()
		}
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.RuntimeID == "" {
		c.RuntimeID = uuid.NewString()
	}
	if c.FlushThreshold == 0 {
		c.FlushThreshold = DefaultFlushThreshold
	}
	if c.BufferCapacity == 0 {
		c.BufferCapacity = DefaultBufferCapacity
	}
	if c.ExportTimeout == 0 {
		c.ExportTimeout = DefaultExportTimeout
	}
	return c
}

// Validate reports every problem with the config in a single *ConfigError.
func (c Config) Validate() error {
	var mErr *multierror.Error

	if c.Transport == nil {
		mErr = multierror.Append(mErr, errNoTransport)
	}
	if c.APIKey == "" {
		mErr = multierror.Append(mErr, errNoAPIKey)
	}
	if _, err := c.tracesURL(); err != nil {
		mErr = multierror.Append(mErr, err)
	}
	if c.FlushThreshold < 0 {
		mErr = multierror.Append(mErr, errBadThreshold)
	}
	if c.BufferCapacity < 0 {
		mErr = multierror.Append(mErr, errBadCapacity)
	}

	if err := mErr.ErrorOrNil(); err != nil {
		return &ConfigError{Err: err}
	}
	return nil
}

// TracesURL returns the full intake URL for the configured endpoint.
func (c Config) TracesURL() (string, error) {
	u, err := c.tracesURL()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (c Config) tracesURL() (*url.URL, error) {
	base := c.Endpoint
	if base == "" {
		base = DefaultEndpoint
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("endpoint %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q: %w", base, errEndpointScheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("endpoint %q: %w", base, errEndpointHost)
	}
	return u.JoinPath(TracesPath), nil
}
