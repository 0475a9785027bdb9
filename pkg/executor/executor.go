// Package executor sends rendered request text to the target over
// net/http.
package executor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/vikasavnish/seqfuzz/pkg/config"
	"github.com/vikasavnish/seqfuzz/pkg/logger"
	"github.com/vikasavnish/seqfuzz/pkg/transport"
)

// maxSendAttempts bounds resends on retryable responses.
const maxSendAttempts = 5

// Executor implements transport.Transport against the configured target.
type Executor struct {
	client  *http.Client
	baseURL string
	retry   config.RetryConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*transport.Response]
	logger  *slog.Logger
}

// NewExecutor creates an executor for target.
func NewExecutor(target config.TargetConfig, retry config.RetryConfig, log *slog.Logger) (*Executor, error) {
	log = logger.For(log, logger.ComponentExecutor)
	httpTransport, err := buildTransport(target)
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if target.RequestThrottle > 0 {
		limiter = rate.NewLimiter(rate.Every(target.RequestThrottle), 1)
	}

	maxFailures := target.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 20
	}
	breaker := gobreaker.NewCircuitBreaker[*transport.Response](gobreaker.Settings{
		Name:        "target:" + target.Host,
		MaxRequests: 1, // allow 1 probe in half-open state
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &Executor{
		client: &http.Client{
			Transport: httpTransport,
			Timeout:   target.MaxRequestExecutionTime,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse // redirects are responses under test
			},
		},
		baseURL: fmt.Sprintf("%s://%s:%d", target.Scheme, target.Host, target.Port),
		retry:   retry,
		limiter: limiter,
		breaker: breaker,
		logger:  log,
	}, nil
}

// NewExecutorForURL creates an executor whose requests go to baseURL,
// e.g. an httptest server.
func NewExecutorForURL(baseURL string, retry config.RetryConfig, log *slog.Logger) (*Executor, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL: %w", err)
	}
	port, _ := strconv.Atoi(u.Port())
	e, err := NewExecutor(config.TargetConfig{
		Host:                    u.Hostname(),
		Port:                    port,
		Scheme:                  u.Scheme,
		TLSVerify:               true,
		MaxRequestExecutionTime: 30 * time.Second,
	}, retry, log)
	if err != nil {
		return nil, err
	}
	e.baseURL = strings.TrimRight(baseURL, "/")
	return e, nil
}

func buildTransport(target config.TargetConfig) (*http.Transport, error) {
	t := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !target.TLSVerify,
		},
	}
	if target.Proxy != "" {
		proxyURL, err := url.Parse(target.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy: %w", err)
		}
		t.Proxy = http.ProxyURL(proxyURL)
	}
	return t, nil
}

// Send delivers raw and returns the response. Responses matching the
// retry settings are resent after the retry interval, up to a fixed
// number of attempts. Transport errors drop idle connections so the next
// call reconnects.
func (e *Executor) Send(ctx context.Context, raw string) (*transport.Response, error) {
	for attempt := 1; ; attempt++ {
		resp, err := e.breaker.Execute(func() (*transport.Response, error) {
			return e.do(ctx, raw)
		})
		if err != nil {
			e.client.CloseIdleConnections()
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, fmt.Errorf("target circuit open: %w", err)
			}
			return nil, err
		}
		if attempt >= maxSendAttempts || !e.shouldRetry(resp) {
			return resp, nil
		}

		e.logger.Debug("retrying request", "status", resp.StatusCode, "attempt", attempt)
		select {
		case <-ctx.Done():
			return resp, nil
		case <-time.After(e.retry.Interval):
		}
	}
}

func (e *Executor) shouldRetry(resp *transport.Response) bool {
	for _, code := range e.retry.StatusCodes {
		if resp.StatusCode == code {
			return true
		}
	}
	for _, text := range e.retry.Text {
		if text != "" && strings.Contains(resp.Body, text) {
			return true
		}
	}
	return false
}

// Close drops pooled connections.
func (e *Executor) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func (e *Executor) do(ctx context.Context, raw string) (*transport.Response, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := e.buildRequest(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	out := &transport.Response{
		StatusCode: resp.StatusCode,
		Reason:     strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))),
		Headers:    flattenHeaders(resp.Header),
		Body:       string(bodyBytes),
	}
	out.Raw = rawResponse(resp.Proto, out)
	return out, nil
}

// buildRequest parses "METHOD target HTTP/1.1\r\nheaders\r\n\r\nbody".
func (e *Executor) buildRequest(ctx context.Context, raw string) (*http.Request, error) {
	head, body, _ := strings.Cut(raw, "\r\n\r\n")
	lines := strings.Split(head, "\r\n")

	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("malformed request line %q", lines[0])
	}
	method, target := parts[0], parts[1]

	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+target, bodyReader)
	if err != nil {
		return nil, err
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header %q", line)
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if strings.EqualFold(name, "Host") {
			req.Host = value
			continue
		}
		req.Header.Add(name, value)
	}
	return req, nil
}

func rawResponse(proto string, r *transport.Response) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %d %s\r\n", proto, r.StatusCode, r.Reason)
	names := make([]string, 0, len(r.Headers))
	for k := range r.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(&sb, "%s: %s\r\n", k, r.Headers[k])
	}
	sb.WriteString("\r\n")
	sb.WriteString(r.Body)
	return sb.String()
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string)
	for key, values := range headers {
		if len(values) > 0 {
			flat[key] = values[0] // Take first value
		}
	}
	return flat
}
