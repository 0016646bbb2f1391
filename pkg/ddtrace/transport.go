// Intake transport: the request/response seam and the resty-backed default
package ddtrace

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Request is a single payload delivery to the intake.
type Request struct {
	URL    string
	Header http.Header
	Body   []byte
}

// Response is what the intake answered.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport delivers requests. Implementations must be safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// RestyTransport sends requests with a resty client. Retries are disabled.
type RestyTransport struct {
	client *resty.Client
}

// NewRestyTransport returns a transport whose requests time out after timeout.
// A zero timeout leaves requests bounded only by their context.
func NewRestyTransport(timeout time.Duration) *RestyTransport {
	return newRestyTransport(resty.New(), timeout)
}

// NewRestyTransportWithClient wraps an existing *http.Client.
func NewRestyTransportWithClient(hc *http.Client) *RestyTransport {
	return newRestyTransport(resty.NewWithClient(hc), 0)
}

func newRestyTransport(c *resty.Client, timeout time.Duration) *RestyTransport {
	c.SetRetryCount(0)
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &RestyTransport{client: c}
}

// Send posts the request body and returns the raw response.
func (t *RestyTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeaderMultiValues(req.Header).
		SetBody(req.Body).
		Execute(http.MethodPost, req.URL)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode(), Body: resp.Body()}, nil
}
