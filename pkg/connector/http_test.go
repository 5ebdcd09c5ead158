package connector

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// resolverForServer returns a fake Resolver that answers SSRF validation
// with a public-looking address for the httptest server's literal host,
// while the real net/http client still dials the loopback address the
// server actually listens on. This isolates the HTTP-fetch plumbing
// (size limits, JSON sniffing, status mapping) from the SSRF guard,
// which has its own dedicated coverage in ssrf_test.go.
func resolverForServer(t *testing.T, server *httptest.Server) Resolver {
	t.Helper()
	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	host, _, err := net.SplitHostPort(u.Host)
	if err != nil {
		host = u.Host
	}
	return &fakeResolver{byHost: map[string][]net.IPAddr{host: ipAddrs("93.184.216.34")}}
}

func TestHTTPExecutor_JSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	e := &HTTPExecutor{
		Config: Config{
			Type:           KindHTTPRequest,
			URL:            server.URL,
			Method:         "GET",
			AllowedDomains: []string{"127.0.0.1"},
		},
		Resolver: resolverForServer(t, server),
	}

	result, err := e.Execute(context.Background(), "tenant-1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %+v", result.Error)
	}
	data, ok := result.Data.(map[string]interface{})
	if !ok || data["ok"] != true {
		t.Fatalf("expected parsed JSON body, got %#v", result.Data)
	}
	if result.ResultHash == "" {
		t.Fatal("expected result_hash to be computed")
	}
}

func TestHTTPExecutor_NonJSONBodyWrapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello world"))
	}))
	defer server.Close()

	e := &HTTPExecutor{
		Config: Config{
			Type:           KindHTTPRequest,
			URL:            server.URL,
			Method:         "GET",
			AllowedDomains: []string{"127.0.0.1"},
		},
		Resolver: resolverForServer(t, server),
	}

	result, err := e.Execute(context.Background(), "tenant-1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, ok := result.Data.(map[string]interface{})
	if !ok || data["raw_response"] != "hello world" {
		t.Fatalf("expected raw_response wrapper, got %#v", result.Data)
	}
}

func TestHTTPExecutor_ResponseTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer server.Close()

	e := &HTTPExecutor{
		Config: Config{
			Type:             KindHTTPRequest,
			URL:              server.URL,
			Method:           "GET",
			AllowedDomains:   []string{"127.0.0.1"},
			MaxResponseBytes: 10,
		},
		Resolver: resolverForServer(t, server),
	}

	result, err := e.Execute(context.Background(), "tenant-1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure for oversized response")
	}
	if result.Error.Code != ErrResponseTooLarge {
		t.Fatalf("expected response_too_large, got %s", result.Error.Code)
	}
}

func TestHTTPExecutor_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	e := &HTTPExecutor{
		Config: Config{
			Type:           KindHTTPRequest,
			URL:            server.URL,
			Method:         "GET",
			AllowedDomains: []string{"127.0.0.1"},
		},
		Resolver: resolverForServer(t, server),
	}

	result, err := e.Execute(context.Background(), "tenant-1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure for 404")
	}
	if result.Error.Code != HTTPStatusCode(http.StatusNotFound) {
		t.Fatalf("expected http_404, got %s", result.Error.Code)
	}
}

func TestHTTPExecutor_DomainNotAllowed(t *testing.T) {
	e := &HTTPExecutor{
		Config: Config{
			Type:           KindHTTPRequest,
			URL:            "http://evilexample.com/foo",
			Method:         "GET",
			AllowedDomains: []string{"example.com"},
		},
		Resolver: &fakeResolver{byHost: map[string][]net.IPAddr{"evilexample.com": ipAddrs("8.8.8.8")}},
	}

	result, err := e.Execute(context.Background(), "tenant-1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || result.Error.Code != ErrDomainNotAllowed {
		t.Fatalf("expected domain_not_allowed, got %+v", result)
	}
	if result.StatusCode != nil {
		t.Fatal("expected no status code recorded: no outbound HTTP should have been performed")
	}
}

func TestHTTPExecutor_DNSDriftBlocksRequest(t *testing.T) {
	e := &HTTPExecutor{
		Config: Config{
			Type:           KindHTTPRequest,
			URL:            "http://api.example.com/foo",
			Method:         "GET",
			AllowedDomains: []string{"example.com"},
		},
		Resolver: &fakeResolver{seq: [][]net.IPAddr{
			ipAddrs("93.184.216.34"),
			ipAddrs("93.184.216.99"),
		}},
	}

	result, err := e.Execute(context.Background(), "tenant-1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || result.Error.Code != ErrSSRFDNSDrift {
		t.Fatalf("expected ssrf_dns_drift, got %+v", result)
	}
}
