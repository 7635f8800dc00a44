package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tachikoma-run/tachikoma/internal/apperrors"
	"github.com/tachikoma-run/tachikoma/internal/obs"
)

// AllowEntry is one (host, method, path-prefix) tuple permitted through the
// outbound proxy stage.
type AllowEntry struct {
	Host       string
	Method     string
	PathPrefix string
}

// ProxyRequest is the outbound proxy's input shape.
type ProxyRequest struct {
	TargetURL string
	Method    string
	Headers   map[string]string
	Body      []byte
	Timeout   time.Duration
}

// ProxyResult is the outbound proxy's output shape.
type ProxyResult struct {
	Success  bool
	Status   int
	Headers  map[string][]string
	Body     []byte
	Duration time.Duration
}

// ProxyConfig bounds the allow-list and retry behavior of the outbound
// proxy stage.
type ProxyConfig struct {
	AllowList  []AllowEntry
	RetryOn5xx int
	Client     *http.Client
}

// Proxy validates the target against the allow-list, forwards the
// request with trace headers injected, and optionally retries on a
// 5xx response with linear backoff.
type Proxy struct {
	cfg ProxyConfig
}

// NewProxy builds a Proxy, wrapping an otelhttp-instrumented client when
// none is supplied.
func NewProxy(cfg ProxyConfig) *Proxy {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Proxy{cfg: cfg}
}

// Do validates req against the allow-list and forwards it to the
// target, retrying on a 5xx response up to cfg.RetryOn5xx times.
func (p *Proxy) Do(ctx context.Context, req ProxyRequest) (*ProxyResult, *apperrors.GatewayError) {
	target, err := url.Parse(req.TargetURL)
	if err != nil {
		return nil, apperrors.NewGatewayError(apperrors.CodeProxyNotAllowed, "invalid target url", err)
	}
	if !p.allowed(target.Hostname(), req.Method, target.Path) {
		return nil, apperrors.NewGatewayError(apperrors.CodeProxyNotAllowed, "target host is not in the allow-list", nil)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tc, _ := obs.TraceFromContext(ctx)

	attempt := 0
	backoff := 200 * time.Millisecond
	for {
		start := time.Now()
		httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, req.TargetURL, bytes.NewReader(req.Body))
		if err != nil {
			return nil, apperrors.NewGatewayError(apperrors.CodeProxyNetwork, "failed to build outbound request", err)
		}
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}
		httpReq.Header.Set("X-Trace-Id", tc.TraceID)
		httpReq.Header.Set("X-Request-Id", tc.RequestID)
		httpReq.Header.Set("X-Forwarded-By", "tachikoma-gateway")

		resp, err := p.cfg.Client.Do(httpReq)
		duration := time.Since(start)
		if err != nil {
			if attempt < p.cfg.RetryOn5xx {
				attempt++
				time.Sleep(backoff * time.Duration(attempt))
				continue
			}
			return nil, apperrors.NewGatewayError(apperrors.CodeProxyNetwork, "outbound request failed", err)
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 500 && attempt < p.cfg.RetryOn5xx {
			attempt++
			time.Sleep(backoff * time.Duration(attempt))
			continue
		}

		return &ProxyResult{
			Success:  resp.StatusCode < 400,
			Status:   resp.StatusCode,
			Headers:  resp.Header,
			Body:     body,
			Duration: duration,
		}, nil
	}
}

func (p *Proxy) allowed(host, method, path string) bool {
	for _, e := range p.cfg.AllowList {
		if e.Host == host && e.Method == method && hasPathPrefix(path, e.PathPrefix) {
			return true
		}
	}
	return false
}

func hasPathPrefix(path, prefix string) bool {
	if prefix == "" || prefix == "/" {
		return true
	}
	if len(path) < len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix
}
