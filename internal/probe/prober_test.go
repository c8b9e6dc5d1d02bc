package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/netra-systems/service-warden/internal/health"
)

func TestHTTPProber_Healthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer server.Close()

	prober := NewHTTPProber("auth", server.URL)
	result, err := prober.Probe(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != health.StatusHealthy {
		t.Fatalf("Status = %q, want %q", result.Status, health.StatusHealthy)
	}
}

func TestHTTPProber_DegradedJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"degraded","detail":"replica lag"}`))
	}))
	defer server.Close()

	prober := NewHTTPProber("auth", server.URL)
	result, err := prober.Probe(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != health.StatusDegraded {
		t.Fatalf("Status = %q, want %q", result.Status, health.StatusDegraded)
	}
	if result.Score != 0.5 {
		t.Fatalf("Score = %v, want 0.5", result.Score)
	}
}

func TestHTTPProber_DegradedPlainBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("degraded"))
	}))
	defer server.Close()

	prober := NewHTTPProber("auth", server.URL)
	result, err := prober.Probe(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != health.StatusDegraded {
		t.Fatalf("Status = %q, want %q", result.Status, health.StatusDegraded)
	}
}

func TestHTTPProber_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	prober := NewHTTPProber("auth", server.URL)
	if _, err := prober.Probe(context.Background()); err == nil {
		t.Fatal("expected error for 5xx response")
	}
}

func TestHTTPProber_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	prober := NewHTTPProber("auth", url)
	if _, err := prober.Probe(context.Background()); err == nil {
		t.Fatal("expected error for refused connection")
	}
}

func TestTCPProber(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	prober := NewTCPProber("redis", listener.Addr().String())
	result, err := prober.Probe(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != health.StatusHealthy {
		t.Fatalf("Status = %q, want %q", result.Status, health.StatusHealthy)
	}
}

func TestTCPProber_Refused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	address := listener.Addr().String()
	listener.Close()

	prober := NewTCPProber("redis", address)
	if _, err := prober.Probe(context.Background()); err == nil {
		t.Fatal("expected error for closed port")
	}
}

func TestStaticProber(t *testing.T) {
	prober := NewStaticProber(health.Degraded("system_resources", "load high"))
	result, err := prober.Probe(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != health.StatusDegraded || result.CheckedAt.IsZero() {
		t.Fatalf("unexpected result: %+v", result)
	}
}
