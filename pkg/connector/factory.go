package connector

import "fmt"

// New constructs the Connector for cfg.Type. It returns an error wrapping
// ErrInvalidConnector for any type the runtime does not recognize; the
// orchestrator turns that into a ConnectorResult rather than a policy
// denial, per the execute flow's tool-resolution step.
func New(cfg Config, resolver Resolver, secrets SecretResolver, globalAllowlist []string) (Connector, error) {
	switch cfg.Type {
	case KindHTTPRequest:
		return &HTTPExecutor{
			Config:          cfg,
			Resolver:        resolver,
			Secrets:         secrets,
			GlobalAllowlist: globalAllowlist,
		}, nil
	case KindWebhook:
		return NewWebhookExecutor(cfg, resolver, secrets, globalAllowlist), nil
	case KindMock:
		return NewMockExecutor(cfg), nil
	default:
		return nil, &ConnectorError{Code: ErrInvalidConnector, Message: fmt.Sprintf("unknown connector type %q", cfg.Type)}
	}
}
