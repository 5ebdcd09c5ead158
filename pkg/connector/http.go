package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/canonicalize"
)

const defaultMaxResponseBytes = 1_000_000

// sharedTransport is safe to reuse across requests: redirects are
// disabled per-request via the Client, and the transport itself never
// reads environment proxy configuration.
var sharedTransport = &http.Transport{
	Proxy: nil,
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: sharedTransport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// HTTPExecutor runs webhook and http_request connector calls through the
// mandatory SSRF defense sequence.
type HTTPExecutor struct {
	Config          Config
	Resolver        Resolver
	Secrets         SecretResolver
	GlobalAllowlist []string
}

func (e *HTTPExecutor) allowlist() []string {
	if len(e.Config.AllowedDomains) > 0 {
		return e.Config.AllowedDomains
	}
	return e.GlobalAllowlist
}

func (e *HTTPExecutor) maxResponseBytes() int64 {
	if e.Config.MaxResponseBytes > 0 {
		return e.Config.MaxResponseBytes
	}
	return defaultMaxResponseBytes
}

func (e *HTTPExecutor) timeout() time.Duration {
	if e.Config.TimeoutSeconds > 0 {
		return time.Duration(e.Config.TimeoutSeconds * float64(time.Second))
	}
	return 30 * time.Second
}

// buildURL substitutes {param} placeholders in the configured URL
// template for http_request connectors; webhook connectors use the URL
// as-is.
func buildURL(tmpl string, params map[string]interface{}) string {
	out := tmpl
	for k, v := range params {
		placeholder := "{" + k + "}"
		if strings.Contains(out, placeholder) {
			out = strings.ReplaceAll(out, placeholder, fmt.Sprintf("%v", v))
		}
	}
	return out
}

func (e *HTTPExecutor) resolveHeaders(ctx context.Context, tenant string) (http.Header, error) {
	headers := make(http.Header)
	for k, v := range e.Config.Headers {
		headers.Set(k, v)
	}
	for headerName, secretName := range e.Config.SecretRefs {
		if e.Secrets == nil {
			return nil, fmt.Errorf("connector: secret_refs configured but no secret resolver available")
		}
		val, err := e.Secrets.Resolve(ctx, tenant, secretName)
		if err != nil {
			return nil, fmt.Errorf("connector: resolve secret %q: %w", secretName, err)
		}
		headers.Set(headerName, val)
	}
	return headers, nil
}

// Execute runs the mandatory SSRF defense sequence followed by the
// streamed, size-bounded HTTP call.
func (e *HTTPExecutor) Execute(ctx context.Context, tenant string, params map[string]interface{}) (*Result, error) {
	start := time.Now()
	fail := func(code ErrorCode, msg string, status *int) *Result {
		return &Result{
			Success:    false,
			Error:      &ConnectorError{Code: code, Message: msg},
			StatusCode: status,
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	targetURL := buildURL(e.Config.URL, params)

	if e.Config.RateLimiter != nil {
		if host := hostOf(targetURL); host != "" && !e.Config.RateLimiter.Allow(host) {
			return fail(ErrRateLimited, fmt.Sprintf("rate limit exceeded for domain %q", host), nil), nil
		}
	}

	parsed, ipSet, err := validateURL(ctx, e.Resolver, targetURL, e.allowlist())
	if err != nil {
		var cerr *ConnectorError
		if errors.As(err, &cerr) {
			return fail(cerr.Code, cerr.Message, nil), nil
		}
		return fail(ErrUnknownError, err.Error(), nil), nil
	}

	method := strings.ToUpper(e.Config.Method)
	if method == "" {
		method = http.MethodPost
	}

	headers, err := e.resolveHeaders(ctx, tenant)
	if err != nil {
		return fail(ErrUnknownError, err.Error(), nil), nil
	}

	bodyParams := make(map[string]interface{}, len(params))
	for k, v := range params {
		if !strings.Contains(e.Config.URL, "{"+k+"}") {
			bodyParams[k] = v
		}
	}

	var body io.Reader
	reqURL := targetURL
	if method == http.MethodGet || method == http.MethodDelete {
		if len(bodyParams) > 0 {
			q := url.Values{}
			for k, v := range bodyParams {
				q.Set(k, fmt.Sprintf("%v", v))
			}
			sep := "?"
			if strings.Contains(reqURL, "?") {
				sep = "&"
			}
			reqURL = reqURL + sep + q.Encode()
		}
	} else {
		if headers.Get("Content-Type") == "" {
			headers.Set("Content-Type", "application/json")
		}
		payload, err := json.Marshal(bodyParams)
		if err != nil {
			return fail(ErrUnknownError, err.Error(), nil), nil
		}
		body = bytes.NewReader(payload)
	}

	// DNS-drift re-check: re-resolve immediately before issuing the
	// request and reject if the address set changed since validation.
	currentSet, err := resolveIPSet(ctx, e.Resolver, parsed.Hostname())
	if err != nil || !ipSetsEqual(currentSet, ipSet) {
		return fail(ErrSSRFDNSDrift, "DNS resolution changed between validation and request (possible DNS rebinding)", nil), nil
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fail(ErrUnknownError, err.Error(), nil), nil
	}
	req.Header = headers

	client := newHTTPClient(e.timeout())
	resp, err := client.Do(req)
	if err != nil {
		if isTimeoutErr(err) {
			return fail(ErrTimeout, fmt.Sprintf("request timed out after %v", e.timeout()), nil), nil
		}
		return fail(ErrRequestError, err.Error(), nil), nil
	}
	defer resp.Body.Close()

	maxBytes := e.maxResponseBytes()
	limited := io.LimitReader(resp.Body, maxBytes+1)
	content, err := io.ReadAll(limited)
	if err != nil {
		return fail(ErrRequestError, err.Error(), &resp.StatusCode), nil
	}
	if int64(len(content)) > maxBytes {
		return fail(ErrResponseTooLarge, fmt.Sprintf("upstream response exceeded max size (%d bytes)", maxBytes), &resp.StatusCode), nil
	}

	durationMs := time.Since(start).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(HTTPStatusCode(resp.StatusCode), fmt.Sprintf("request returned status %d", resp.StatusCode), &resp.StatusCode), nil
	}

	data := parseResponseBody(resp.Header.Get("Content-Type"), content)

	result := &Result{
		Success:    true,
		Data:       data,
		StatusCode: &resp.StatusCode,
		DurationMs: durationMs,
	}
	hash, err := canonicalize.Hash(result.Data)
	if err == nil {
		result.ResultHash = hash
	}
	return result, nil
}

// hostOf extracts the hostname rate limiting keys on, tolerating a URL
// that still contains unresolved {param} placeholders (url.Parse treats
// the braces as opaque path/query characters, which is fine here: the
// host portion is never templated).
func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

func parseResponseBody(contentType string, content []byte) interface{} {
	ctype := strings.ToLower(contentType)
	trimmed := bytes.TrimSpace(content)
	looksJSON := strings.Contains(ctype, "application/json") ||
		(len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '['))

	if looksJSON {
		var v interface{}
		if err := json.Unmarshal(content, &v); err == nil {
			return v
		}
	}
	return map[string]interface{}{"raw_response": string(content)}
}

func isTimeoutErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return strings.Contains(err.Error(), "context deadline exceeded")
}

// NetResolver adapts *net.Resolver to the connector Resolver interface.
type NetResolver struct {
	Resolver *net.Resolver
}

func (r NetResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	resolver := r.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return resolver.LookupIPAddr(ctx, host)
}
