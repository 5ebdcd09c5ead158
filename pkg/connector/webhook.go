package connector

import (
	"context"
)

// WebhookExecutor is the http_request HTTPExecutor fixed to POST a JSON
// body at a single configured URL, with no {param} template
// substitution in the URL itself.
type WebhookExecutor struct {
	http *HTTPExecutor
}

func NewWebhookExecutor(cfg Config, resolver Resolver, secrets SecretResolver, globalAllowlist []string) *WebhookExecutor {
	cfg.Method = "POST"
	return &WebhookExecutor{http: &HTTPExecutor{
		Config:          cfg,
		Resolver:        resolver,
		Secrets:         secrets,
		GlobalAllowlist: globalAllowlist,
	}}
}

func (w *WebhookExecutor) Execute(ctx context.Context, tenant string, params map[string]interface{}) (*Result, error) {
	return w.http.Execute(ctx, tenant, params)
}

// MockExecutor returns a fixed, configured result without performing any
// network I/O. Used for manifest tools registered for local testing.
type MockExecutor struct {
	Result interface{}
}

func NewMockExecutor(cfg Config) *MockExecutor {
	return &MockExecutor{Result: cfg.MockResult}
}

func (m *MockExecutor) Execute(ctx context.Context, tenant string, params map[string]interface{}) (*Result, error) {
	return &Result{Success: true, Data: m.Result, DurationMs: 0}, nil
}
