// Package transport defines how rendered requests reach the target.
package transport

import (
	"context"
	"strconv"
	"strings"
)

// Response is a received HTTP response.
type Response struct {
	StatusCode int
	Reason     string
	Headers    map[string]string
	Body       string
	// Raw is the response as text: status line, headers and body.
	Raw string
}

// Status returns the status code as text.
func (r *Response) Status() string {
	return strconv.Itoa(r.StatusCode)
}

// Header returns a header value by case-insensitive name.
func (r *Response) Header(name string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Transport sends raw HTTP/1.1 request text and returns the response.
// Implementations reconnect after errors and bound each call by a timeout.
type Transport interface {
	Send(ctx context.Context, raw string) (*Response, error)
	Close() error
}

// SendFunc adapts a function to the Transport interface.
type SendFunc func(ctx context.Context, raw string) (*Response, error)

func (f SendFunc) Send(ctx context.Context, raw string) (*Response, error) { return f(ctx, raw) }
func (f SendFunc) Close() error                                            { return nil }
