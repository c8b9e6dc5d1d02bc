// Package probe runs health probes against platform services. Probers
// report raw endpoint health; the Checker layers environment timeouts
// and priority failure masking on top.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/netra-systems/service-warden/internal/health"
)

const maxProbeBody int64 = 64 << 10

// Prober performs one health probe against a service. A returned error
// means the probe could not reach a conclusive answer; the caller maps
// it to a status.
type Prober interface {
	Probe(ctx context.Context) (health.Result, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) (health.Result, error)

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) (health.Result, error) {
	return f(ctx)
}

// HTTPProber checks a service health endpoint. A 2xx response is
// healthy unless the body declares itself degraded; any other status
// is a probe failure.
type HTTPProber struct {
	service string
	url     string
	client  *retryablehttp.Client
}

// NewHTTPProber builds a prober for the given health endpoint URL.
func NewHTTPProber(service, url string) *HTTPProber {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 0
	client.CheckRetry = func(_ context.Context, _ *http.Response, _ error) (bool, error) {
		// One shot per cycle; retries belong to the recovery layer.
		return false, nil
	}
	return &HTTPProber{service: service, url: url, client: client}
}

// Probe issues a GET against the health endpoint.
func (p *HTTPProber) Probe(ctx context.Context) (health.Result, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return health.Result{}, fmt.Errorf("create probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return health.Result{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return health.Result{}, fmt.Errorf("probe %s: unexpected status %s", p.url, resp.Status)
	}
	if bodyDegraded(body) {
		return health.Degraded(p.service, "endpoint reported degraded"), nil
	}
	return health.Healthy(p.service), nil
}

func bodyDegraded(body []byte) bool {
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Status != "" {
		return strings.EqualFold(payload.Status, string(health.StatusDegraded))
	}
	return strings.EqualFold(strings.TrimSpace(string(body)), string(health.StatusDegraded))
}

// TCPProber checks that a service accepts TCP connections.
type TCPProber struct {
	service string
	address string
	dialer  *net.Dialer
}

// NewTCPProber builds a prober that dials the given host:port.
func NewTCPProber(service, address string) *TCPProber {
	return &TCPProber{
		service: service,
		address: address,
		dialer:  &net.Dialer{},
	}
}

// Probe dials the address once and closes the connection.
func (p *TCPProber) Probe(ctx context.Context) (health.Result, error) {
	conn, err := p.dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return health.Result{}, fmt.Errorf("dial %s: %w", p.address, err)
	}
	_ = conn.Close()
	return health.Healthy(p.service), nil
}

// staticProber returns a fixed result, used for self checks.
type staticProber struct {
	result health.Result
}

func (p staticProber) Probe(context.Context) (health.Result, error) {
	result := p.result
	result.CheckedAt = time.Now().UTC()
	return result, nil
}

// NewStaticProber returns a prober that always reports the given result.
func NewStaticProber(result health.Result) Prober {
	return staticProber{result: result}
}
