package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const maxBodyBytes = 16 << 20

type Config struct {
	Name               string
	Timeout            time.Duration
	RetryInitial       time.Duration
	RetryMaxElapsed    time.Duration
	MaxIdleConns       int
	IdleConnTimeout    time.Duration
	BreakerMaxFailures uint32
	BreakerOpen        time.Duration
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError is returned when the upstream kept answering 5xx.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, bytes.TrimSpace(e.Body))
}

// Client is an outbound HTTP client with retry and a circuit breaker, shared
// by the chain, video and upload integrations.
type Client struct {
	http *http.Client
	conf Config
	cb   *gobreaker.CircuitBreaker
	log  *zap.SugaredLogger
}

func New(conf Config, log *zap.SugaredLogger) *Client {
	if conf.RetryInitial == 0 {
		conf.RetryInitial = 100 * time.Millisecond
	}
	if conf.RetryMaxElapsed == 0 {
		conf.RetryMaxElapsed = 3 * time.Second
	}
	if conf.BreakerMaxFailures == 0 {
		conf.BreakerMaxFailures = 5
	}
	if conf.MaxIdleConns == 0 {
		conf.MaxIdleConns = 100
	}
	if conf.IdleConnTimeout == 0 {
		conf.IdleConnTimeout = 90 * time.Second
	}
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:        conf.MaxIdleConns,
		MaxIdleConnsPerHost: conf.MaxIdleConns,
		IdleConnTimeout:     conf.IdleConnTimeout,
	}
	st := gobreaker.Settings{
		Name:        conf.Name,
		MaxRequests: 1,
		Timeout:     conf.BreakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= conf.BreakerMaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Infow("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Client{
		http: &http.Client{Transport: otelhttp.NewTransport(tr), Timeout: conf.Timeout},
		conf: conf,
		cb:   gobreaker.NewCircuitBreaker(st),
		log:  log,
	}
}

func (c *Client) BreakerState() gobreaker.State { return c.cb.State() }

// Do sends the request, retrying transport errors and 5xx answers with
// exponential backoff until ctx ends or RetryMaxElapsed passes. 4xx answers
// are returned as-is. An open breaker fails fast without retrying.
func (c *Client) Do(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	var resp *Response
	operation := func() error {
		out, err := c.cb.Execute(func() (interface{}, error) {
			return c.once(ctx, method, url, header, body)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(fmt.Errorf("%s: %w", c.conf.Name, err))
		}
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = out.(*Response)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.conf.RetryInitial
	b.MaxElapsedTime = c.conf.RetryMaxElapsed
	notify := func(err error, wait time.Duration) {
		c.log.Debugw("retrying upstream call", "client", c.conf.Name, "url", redact(url), "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) once(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	r, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if r.StatusCode >= 500 {
		return nil, &StatusError{StatusCode: r.StatusCode, Body: data}
	}
	return &Response{StatusCode: r.StatusCode, Header: r.Header, Body: data}, nil
}

// redact drops the query string, which may carry an api key.
func redact(url string) string {
	base, _, _ := strings.Cut(url, "?")
	return base
}
