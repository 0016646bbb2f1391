// Error sentinels and typed errors returned by buffers, exporters and config validation
package ddtrace

import (
	"errors"
	"fmt"
)

var (
	// ErrBufferFull is returned when a bounded buffer cannot take another span.
	ErrBufferFull = errors.New("span buffer full")
	// ErrBufferClosed is returned for spans offered after the buffer stopped accepting.
	ErrBufferClosed = errors.New("span buffer closed")
	// ErrUnsupportedOperation is returned by processors that cannot flush synchronously.
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrExporterShutdown is returned by Export after Shutdown.
	ErrExporterShutdown = errors.New("exporter is shut down")
)

// ConfigError reports every problem found while validating a Config.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid exporter config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// LockError reports a failure to enqueue a span or to acquire a buffer's lock.
type LockError struct {
	Op  string
	Err error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }

// TransportError reports a failed send. StatusCode is zero when no response was received.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
